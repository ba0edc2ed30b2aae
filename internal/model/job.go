package model

import (
	"fmt"
	"strings"
	"time"
)

// Job represents a single user-requested download: one source URL and one
// chosen variant. Owned exclusively by the scheduler's job table; everything
// handed out to callers is a clone.
type Job struct {
	ID              string        `json:"id"`
	SourceURL       string        `json:"source_url"`
	Variant         *MediaVariant `json:"variant,omitempty"`
	DestinationPath string        `json:"destination_path,omitempty"`
	Status          Status        `json:"status"`
	BytesDownloaded int64         `json:"bytes_downloaded"`
	BytesTotal      int64         `json:"bytes_total"` // 0 while unknown
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	RetryCount      int           `json:"retry_count"`
	LastError       string        `json:"last_error,omitempty"`
	Priority        Priority      `json:"priority"`
}

// Clone returns a deep copy suitable for handing to callers and observers.
func (j *Job) Clone() *Job {
	c := *j
	if j.Variant != nil {
		v := *j.Variant
		if j.Variant.Descriptor.Headers != nil {
			v.Descriptor.Headers = make(map[string]string, len(j.Variant.Descriptor.Headers))
			for k, h := range j.Variant.Descriptor.Headers {
				v.Descriptor.Headers[k] = h
			}
		}
		c.Variant = &v
	}
	return &c
}

// DisplayTitle returns the variant title when known, falling back to the
// destination filename and then the source URL.
func (j *Job) DisplayTitle() string {
	if j.Variant != nil && j.Variant.Title != "" {
		return j.Variant.Title
	}
	if j.DestinationPath != "" {
		parts := strings.FieldsFunc(j.DestinationPath, func(r rune) bool {
			return r == '/' || r == '\\'
		})
		if len(parts) > 0 {
			return parts[len(parts)-1]
		}
	}
	return j.SourceURL
}

// PercentDone returns download progress as 0-100, or -1 if the total is unknown
func (j *Job) PercentDone() int {
	if j.BytesTotal <= 0 {
		return -1
	}
	return int(float64(j.BytesDownloaded) / float64(j.BytesTotal) * 100)
}

// FormatBytes converts a byte count to a human-readable string
func FormatBytes(n int64) string {
	if n < 0 {
		return "N/A"
	}
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(n)/float64(div), "KMGT"[exp])
}

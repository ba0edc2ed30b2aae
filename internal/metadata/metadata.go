package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mediaget/media-downloader/internal/model"
)

// Sidecar is the on-disk record saved next to a completed file.
type Sidecar struct {
	Title        string    `json:"title,omitempty"`
	SourceURL    string    `json:"source_url"`
	FormatID     string    `json:"format_id,omitempty"`
	Container    string    `json:"container,omitempty"`
	Resolution   string    `json:"resolution,omitempty"`
	SizeBytes    int64     `json:"size_bytes"`
	DownloadedAt time.Time `json:"downloaded_at"`
}

// SidecarPath returns the sidecar location for a media file: the same path
// with the extension swapped for .json.
func SidecarPath(mediaPath string) string {
	ext := filepath.Ext(mediaPath)
	return strings.TrimSuffix(mediaPath, ext) + ".json"
}

// Write saves a sidecar for the finished job. Failures here are reported but
// must never fail the download itself; callers log and move on.
func Write(finalPath string, job *model.Job) error {
	side := Sidecar{
		SourceURL:    job.SourceURL,
		SizeBytes:    job.BytesDownloaded,
		DownloadedAt: time.Now().UTC(),
	}
	if v := job.Variant; v != nil {
		side.Title = v.Title
		side.FormatID = v.FormatID
		side.Container = v.Container
		side.Resolution = v.ResolutionLabel
	}

	data, err := json.MarshalIndent(side, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := os.WriteFile(SidecarPath(finalPath), data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

// Read loads the sidecar for a media file. Returns nil without error when no
// sidecar exists.
func Read(mediaPath string) (*Sidecar, error) {
	data, err := os.ReadFile(SidecarPath(mediaPath))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	var side Sidecar
	if err := json.Unmarshal(data, &side); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return &side, nil
}

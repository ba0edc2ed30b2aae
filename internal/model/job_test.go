package model

import "testing"

func TestJobClone(t *testing.T) {
	job := &Job{
		ID:        "job-1",
		SourceURL: "https://example.com/watch?v=abc",
		Status:    StatusQueued,
		Variant: &MediaVariant{
			FormatID:  "22",
			Container: "mp4",
			Descriptor: FetchDescriptor{
				URL:     "https://cdn.example.com/abc.mp4",
				Headers: map[string]string{"Referer": "https://example.com"},
			},
		},
	}

	clone := job.Clone()
	if clone == job {
		t.Fatal("Clone should return a distinct Job")
	}
	if clone.Variant == job.Variant {
		t.Error("Clone should copy the variant")
	}

	clone.Variant.Descriptor.Headers["Referer"] = "mutated"
	if job.Variant.Descriptor.Headers["Referer"] != "https://example.com" {
		t.Error("mutating a clone's headers should not affect the original")
	}

	clone.Status = StatusDownloading
	if job.Status != StatusQueued {
		t.Error("mutating a clone's status should not affect the original")
	}
}

func TestJobDisplayTitle(t *testing.T) {
	tests := []struct {
		name     string
		job      Job
		expected string
	}{
		{
			"variant title wins",
			Job{SourceURL: "https://example.com/v", Variant: &MediaVariant{Title: "Some Clip"}, DestinationPath: "/dl/file.mp4"},
			"Some Clip",
		},
		{
			"falls back to destination filename",
			Job{SourceURL: "https://example.com/v", DestinationPath: "/dl/file.mp4"},
			"file.mp4",
		},
		{
			"falls back to URL",
			Job{SourceURL: "https://example.com/v"},
			"https://example.com/v",
		},
	}

	for _, test := range tests {
		if got := test.job.DisplayTitle(); got != test.expected {
			t.Errorf("%s: DisplayTitle() = %q, expected %q", test.name, got, test.expected)
		}
	}
}

func TestJobPercentDone(t *testing.T) {
	tests := []struct {
		downloaded int64
		total      int64
		expected   int
	}{
		{0, 0, -1},
		{500, 0, -1},
		{0, 1000, 0},
		{500, 1000, 50},
		{1000, 1000, 100},
	}

	for _, test := range tests {
		job := &Job{BytesDownloaded: test.downloaded, BytesTotal: test.total}
		if got := job.PercentDone(); got != test.expected {
			t.Errorf("PercentDone() with %d/%d = %d, expected %d", test.downloaded, test.total, got, test.expected)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n        int64
		expected string
	}{
		{-1, "N/A"},
		{512, "512 B"},
		{2048, "2.00 KB"},
		{5 * 1024 * 1024, "5.00 MB"},
		{3 * 1024 * 1024 * 1024, "3.00 GB"},
	}

	for _, test := range tests {
		if got := FormatBytes(test.n); got != test.expected {
			t.Errorf("FormatBytes(%d) = %q, expected %q", test.n, got, test.expected)
		}
	}
}

package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestUniquePath(t *testing.T) {
	dir := t.TempDir()

	// No collision: original name survives
	path, err := UniquePath(dir, "video.mp4")
	if err != nil {
		t.Fatalf("UniquePath returned error: %v", err)
	}
	if path != filepath.Join(dir, "video.mp4") {
		t.Errorf("Expected original filename, got %s", path)
	}

	// Existing final file forces a numeric suffix
	if err := os.WriteFile(filepath.Join(dir, "video.mp4"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	path, err = UniquePath(dir, "video.mp4")
	if err != nil {
		t.Fatalf("UniquePath returned error: %v", err)
	}
	if path != filepath.Join(dir, "video (1).mp4") {
		t.Errorf("Expected 'video (1).mp4', got %s", path)
	}

	// A staging file also counts as a collision
	if err := os.WriteFile(filepath.Join(dir, "video (1).mp4"+StagingSuffix), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	path, err = UniquePath(dir, "video.mp4")
	if err != nil {
		t.Fatalf("UniquePath returned error: %v", err)
	}
	if path != filepath.Join(dir, "video (2).mp4") {
		t.Errorf("Expected 'video (2).mp4', got %s", path)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"plain name.mp4", "plain name.mp4"},
		{"a/b\\c.mp4", "a_b_c.mp4"},
		{"what? when: where|.mp4", "what_ when_ where_.mp4"},
		{"  spaced  ", "spaced"},
		{"", "download"},
	}

	for _, test := range tests {
		if got := SanitizeFilename(test.in); got != test.expected {
			t.Errorf("SanitizeFilename(%q) = %q, expected %q", test.in, got, test.expected)
		}
	}
}

func TestCheckWritable(t *testing.T) {
	dir := t.TempDir()

	if err := CheckWritable(dir); err != nil {
		t.Errorf("CheckWritable on temp dir returned error: %v", err)
	}

	// Creates missing directories
	nested := filepath.Join(dir, "a", "b")
	if err := CheckWritable(nested); err != nil {
		t.Errorf("CheckWritable should create missing dirs, got error: %v", err)
	}
	if _, err := os.Stat(nested); err != nil {
		t.Errorf("Expected nested dir to exist: %v", err)
	}

	// No probe files left behind
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			t.Errorf("CheckWritable left probe file %s behind", e.Name())
		}
	}
}

func TestStagingPath(t *testing.T) {
	if got := StagingPath("/dl/video.mp4"); got != "/dl/video.mp4.part" {
		t.Errorf("StagingPath = %s, expected /dl/video.mp4.part", got)
	}
}

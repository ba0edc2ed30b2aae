package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// File permissions
const (
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
)

// StagingSuffix is appended to a destination path while bytes are being
// written. The final file only ever appears via atomic rename.
const StagingSuffix = ".part"

// MaxUniqueAttempts bounds the numeric-suffix search for a free filename.
const MaxUniqueAttempts = 1000

// Characters not allowed in destination filenames.
var unsafeFilenameChars = []string{"/", "\\", ":", "*", "?", "\"", "<", ">", "|"}

// EnsureDir creates the directory if it doesn't exist
func EnsureDir(dirPath string) error {
	if _, err := os.Stat(dirPath); os.IsNotExist(err) {
		return os.MkdirAll(dirPath, DefaultDirPermissions)
	}
	return nil
}

// DefaultDownloadsDir returns the standard Downloads directory for the user
func DefaultDownloadsDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, "Downloads"), nil
}

// StagingPath returns the staging filename for a destination path
func StagingPath(dest string) string {
	return dest + StagingSuffix
}

// UniquePath returns a destination path in dir that collides with neither an
// existing file nor another job's staging file. Collisions are resolved with a
// numeric suffix: "name.mp4", "name (1).mp4", "name (2).mp4", ...
func UniquePath(dir, filename string) (string, error) {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	candidate := filepath.Join(dir, filename)
	for i := 1; i <= MaxUniqueAttempts; i++ {
		if !pathTaken(candidate) {
			return candidate, nil
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", base, i, ext))
	}
	return "", fmt.Errorf("no free filename for %q in %s after %d attempts", filename, dir, MaxUniqueAttempts)
}

// pathTaken reports whether the path or its staging twin already exists
func pathTaken(path string) bool {
	if _, err := os.Stat(path); err == nil {
		return true
	}
	_, err := os.Stat(StagingPath(path))
	return err == nil
}

// SanitizeFilename strips path separators and other characters that are not
// safe in a filename on common desktop filesystems.
func SanitizeFilename(name string) string {
	for _, c := range unsafeFilenameChars {
		name = strings.ReplaceAll(name, c, "_")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "download"
	}
	return name
}

// CheckWritable verifies that dir exists (creating it if needed) and that a
// file can be created inside it.
func CheckWritable(dir string) error {
	if err := EnsureDir(dir); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}
	probe, err := os.CreateTemp(dir, ".mediaget-probe-*")
	if err != nil {
		return fmt.Errorf("destination not writable: %w", err)
	}
	name := probe.Name()
	probe.Close()
	return os.Remove(name)
}

// IsDiskFull reports whether err indicates an exhausted filesystem
func IsDiskFull(err error) bool {
	return errors.Is(err, syscall.ENOSPC)
}

// IsPermission reports whether err indicates a permission problem
func IsPermission(err error) bool {
	return os.IsPermission(err) || errors.Is(err, syscall.EACCES)
}

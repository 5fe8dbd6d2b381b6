// Package pathutil provides shared path validation helpers for the folders
// and file names a pipeline configuration points at.
package pathutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ValidateFilePath validates a file path for path traversal and invalid characters.
// Returns an error if the path is empty, contains null bytes, or has ".." in any segment.
func ValidateFilePath(filePath string) error {
	if filePath == "" {
		return fmt.Errorf("file path cannot be empty")
	}
	if strings.Contains(filePath, "\x00") {
		return fmt.Errorf("file path contains invalid characters")
	}

	normalized := filepath.ToSlash(filePath)
	for _, segment := range strings.Split(normalized, "/") {
		if segment == ".." {
			return fmt.Errorf("file path contains path traversal: %q", filePath)
		}
	}
	return nil
}

// ValidateName checks that name can be used as a single file name inside a
// folder: non-empty, no separators, no traversal.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("name %q must not contain path separators", name)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("name %q is not a file name", name)
	}
	return nil
}

// JoinName validates name and joins it to folder.
func JoinName(folder, name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(folder, name), nil
}

// EnsureDir creates folder (and parents) if needed and checks it is a directory.
func EnsureDir(folder string) error {
	if folder == "" {
		return fmt.Errorf("folder cannot be empty")
	}
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return fmt.Errorf("creating folder %q: %w", folder, err)
	}
	info, err := os.Stat(folder)
	if err != nil {
		return fmt.Errorf("checking folder %q: %w", folder, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%q is not a directory", folder)
	}
	return nil
}

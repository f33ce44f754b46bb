package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	Extension    = ".bmp"
	stagedPrefix = ".staged-"
)

var (
	ErrInvalidName = errors.New("invalid frame name")
	ErrNotFound    = errors.New("frame not found")
)

var namePattern = regexp.MustCompile(`^[0-9]{4,}\.bmp$`)

// FileName formats a sequence number as a stored frame name.
func FileName(n int) string {
	return fmt.Sprintf("%04d%s", n, Extension)
}

// ValidateName accepts only names FileName can produce.
func ValidateName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if filepath.IsAbs(name) || filepath.Clean(name) != name {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// NextIndex returns one past the highest stored sequence number in path,
// or 1 when there is none.
func NextIndex(path string) (int, error) {
	files, err := os.ReadDir(path)
	if err != nil {
		return 0, err
	}
	maxNum := 0
	for _, file := range files {
		if !file.Type().IsRegular() || !namePattern.MatchString(file.Name()) {
			continue
		}
		var num int
		_, err := fmt.Sscanf(file.Name(), "%d.bmp", &num)
		if err == nil && num > maxNum {
			maxNum = num
		}
	}
	return maxNum + 1, nil
}

// removeStaged deletes staging leftovers from an interrupted run.
func removeStaged(path string) (int, error) {
	files, err := os.ReadDir(path)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, file := range files {
		if file.Type().IsRegular() && strings.HasPrefix(file.Name(), stagedPrefix) {
			if err := os.Remove(filepath.Join(path, file.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

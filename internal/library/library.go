// Package library manages the on-disk document library of uploaded PDFs.
package library

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrFileTooLarge indicates an upload above the configured limit.
	ErrFileTooLarge = errors.New("file exceeds maximum size")
	// ErrExtensionNotAllowed indicates an upload with a disallowed
	// extension.
	ErrExtensionNotAllowed = errors.New("file extension not allowed")
	// ErrEmptyFilename indicates an upload without a usable name.
	ErrEmptyFilename = errors.New("empty filename")
)

const (
	dirPermission  = 0o750
	filePermission = 0o600
)

// Library stores uploaded PDFs under sanitized leaf names.
type Library struct {
	dir               string
	maxFileSizeBytes  int64
	allowedExtensions map[string]bool
}

// New creates the library directory if needed.
func New(dir string, maxFileSizeMB int, allowedExtensions []string) (*Library, error) {
	err := os.MkdirAll(dir, dirPermission)
	if err != nil {
		return nil, fmt.Errorf("create document library: %w", err)
	}

	allowed := make(map[string]bool, len(allowedExtensions))
	for _, extension := range allowedExtensions {
		allowed[strings.ToLower(extension)] = true
	}

	return &Library{
		dir:               dir,
		maxFileSizeBytes:  int64(maxFileSizeMB) * 1024 * 1024,
		allowedExtensions: allowed,
	}, nil
}

// Dir returns the library directory.
func (l *Library) Dir() string { return l.dir }

// Sanitize reduces a client-supplied filename to a safe leaf name, blocking
// path traversal.
func Sanitize(filename string) string {
	return filepath.Base(strings.TrimSpace(filename))
}

// Validate checks a prospective upload against the configured limits.
func (l *Library) Validate(filename string, size int64) error {
	name := Sanitize(filename)
	if name == "" || name == "." || name == string(filepath.Separator) {
		return ErrEmptyFilename
	}

	extension := strings.ToLower(filepath.Ext(name))
	if !l.allowedExtensions[extension] {
		return fmt.Errorf("%w: %q", ErrExtensionNotAllowed, extension)
	}

	if size > l.maxFileSizeBytes {
		return fmt.Errorf(
			"%w: %d bytes (limit %d)",
			ErrFileTooLarge,
			size,
			l.maxFileSizeBytes,
		)
	}

	return nil
}

// Save writes the upload under its sanitized name and returns that name. The
// write is temp-then-rename so readers never observe a partial file.
func (l *Library) Save(filename string, data []byte) (string, error) {
	err := l.Validate(filename, int64(len(data)))
	if err != nil {
		return "", err
	}

	name := Sanitize(filename)
	finalPath := filepath.Join(l.dir, name)
	tempPath := finalPath + ".tmp"

	err = os.WriteFile(tempPath, data, filePermission)
	if err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}

	err = os.Rename(tempPath, finalPath)
	if err != nil {
		_ = os.Remove(tempPath)

		return "", fmt.Errorf("commit upload: %w", err)
	}

	return name, nil
}

// PathFor resolves a sanitized filename inside the library.
func (l *Library) PathFor(filename string) string {
	return filepath.Join(l.dir, Sanitize(filename))
}

// Exists reports whether a document is present.
func (l *Library) Exists(filename string) bool {
	info, err := os.Stat(l.PathFor(filename))

	return err == nil && !info.IsDir()
}

// List enumerates the stored documents with allowed extensions, sorted by
// name as returned by the directory read.
func (l *Library) List() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read document library: %w", err)
	}

	var names []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		extension := strings.ToLower(filepath.Ext(entry.Name()))
		if l.allowedExtensions[extension] {
			names = append(names, entry.Name())
		}
	}

	return names, nil
}

package template

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// DefaultOverlayExtension is the extension of stage overlay files.
const DefaultOverlayExtension = "env"

// Loader reads templates and their stage overlays from disk.
type Loader struct {
	// Overlay enables stage overlay files
	Overlay bool
	// Extension is the overlay file extension, DefaultOverlayExtension when empty
	Extension string
	// ReadFile reads a file, os.ReadFile when nil
	ReadFile func(name string) ([]byte, error)
}

// OverlayPath returns the overlay file for stage next to the base template:
// <dir>/<stage>.<extension>.
func (l Loader) OverlayPath(basePath, stage string) string {
	ext := l.Extension
	if ext == "" {
		ext = DefaultOverlayExtension
	}
	return filepath.Join(filepath.Dir(basePath), stage+"."+ext)
}

// Load reads the template at path and, when overlays are enabled, layers
// the overlay for stage on top. A missing overlay is not an error.
func (l Loader) Load(path, stage string) (*Template, error) {
	base, err := l.read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template %s: %w", path, err)
	}
	t := Parse(path, string(base))

	if !l.Overlay || stage == "" {
		return t, nil
	}

	overlayPath := l.OverlayPath(path, stage)
	if filepath.Clean(overlayPath) == filepath.Clean(path) {
		return t, nil
	}

	data, err := l.read(overlayPath)
	if errors.Is(err, fs.ErrNotExist) {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read overlay %s: %w", overlayPath, err)
	}
	return t.Overlay(Parse(overlayPath, string(data))), nil
}

func (l Loader) read(path string) ([]byte, error) {
	if l.ReadFile != nil {
		return l.ReadFile(path)
	}
	return os.ReadFile(path)
}

package prefs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v2"
)

// Creation mode for preference files.
const fileMode = 0o600

// Reads a file from disk, separating non-existence from other errors.
func tryReadFile(path string) (contents []byte, exists bool, err error) {
	contents, err = os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return contents, true, nil
}

// Backend storing all preferences in a single YAML document.
//
// The document is read once and rewritten in full on every change. Writes go to a temporary file
// that is renamed over the original, so a crash never leaves a half-written document behind.
type File struct {
	path string

	mu     sync.Mutex
	values map[string]string
}

// Opens the preference file at path, creating its directory if needed. A missing file is treated
// as empty.
func OpenFile(path string) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create preferences directory: %w", err)
	}

	b, ok, err := tryReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read preferences file %s: %w", path, err)
	}
	values := make(map[string]string)
	if ok {
		if err := yaml.Unmarshal(b, &values); err != nil {
			return nil, fmt.Errorf("preferences file %s is corrupted: %w", path, err)
		}
	}
	return &File{path: path, values: values}, nil
}

func (f *File) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	v, ok := f.values[key]
	return v, ok, nil
}

func (f *File) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	old, had := f.values[key]
	f.values[key] = value
	if err := f.flush(); err != nil {
		if had {
			f.values[key] = old
		} else {
			delete(f.values, key)
		}
		return err
	}
	return nil
}

func (f *File) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	old, had := f.values[key]
	if !had {
		return nil
	}
	delete(f.values, key)
	if err := f.flush(); err != nil {
		f.values[key] = old
		return err
	}
	return nil
}

func (f *File) Close() error {
	return nil
}

// Writes the whole document. Callers must hold f.mu.
func (f *File) flush() error {
	b, err := yaml.Marshal(f.values)
	if err != nil {
		return fmt.Errorf("failed to encode preferences: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".prefs-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary preferences file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write preferences: %w", err)
	}
	if err := tmp.Chmod(fileMode); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

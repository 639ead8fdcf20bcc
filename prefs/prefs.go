// Package prefs persists small typed preferences in a pluggable key-value backend.
package prefs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

var ErrNotInteger = errors.New("stored value is not an integer")

// A raw string key-value backend.
//
// Get reports a missing key as ok == false with a nil error. Writes are last-writer-wins.
type Backend interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Typed preferences over a backend. Integers are stored as their decimal representation.
type Store struct {
	backend Backend
}

// Constructs a store on top of the given backend.
func New(backend Backend) *Store {
	return &Store{backend: backend}
}

// GetString returns the value for key, or def if the key is absent.
func (s *Store) GetString(ctx context.Context, key, def string) (string, error) {
	v, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		return def, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if !ok {
		return def, nil
	}
	return v, nil
}

func (s *Store) SetString(ctx context.Context, key, value string) error {
	if err := s.backend.Set(ctx, key, value); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// GetInt returns the integer value for key, or def if the key is absent.
func (s *Store) GetInt(ctx context.Context, key string, def int) (int, error) {
	v, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		return def, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%w: %s=%q", ErrNotInteger, key, v)
	}
	return n, nil
}

func (s *Store) SetInt(ctx context.Context, key string, value int) error {
	return s.SetString(ctx, key, strconv.Itoa(value))
}

// DeleteKey removes key. Deleting an absent key is not an error.
func (s *Store) DeleteKey(ctx context.Context, key string) error {
	if err := s.backend.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// Package session persists the per-session external calendar state: whether
// the integration is connected and when it last synced.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// DefaultFile is where File keeps state when no path is configured.
const DefaultFile = "session-state.json"

// State is what survives a reload of the session.
type State struct {
	Connected bool       `json:"connected"`
	LastSync  *time.Time `json:"lastSync,omitempty"`
}

// File keeps the state in a JSON file.
type File struct {
	path string
	mu   sync.Mutex
}

func NewFile(path string) *File {
	if path == "" {
		path = DefaultFile
	}
	return &File{path: path}
}

// Load returns the zero State if the file does not exist yet.
func (f *File) Load(_ context.Context) (State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("failed to read session state: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("failed to parse session state: %w", err)
	}
	return st, nil
}

func (f *File) Save(_ context.Context, st State) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session state: %w", err)
	}
	if err := os.WriteFile(f.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write session state: %w", err)
	}
	return nil
}

func (f *File) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session state: %w", err)
	}
	return nil
}

// Memory keeps the state for the lifetime of the process only.
type Memory struct {
	mu sync.Mutex
	st State
}

func (m *Memory) Load(context.Context) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st, nil
}

func (m *Memory) Save(_ context.Context, st State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = st
	return nil
}

func (m *Memory) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = State{}
	return nil
}

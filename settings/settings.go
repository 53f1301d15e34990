// Package settings persists user preferences, currently the automation
// webhook URL, as a small JSON document.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

type Store interface {
	Get() string
	Set(webhookURL string) error
}

type document struct {
	WebhookURL string `json:"webhookUrl"`
}

type fileStore struct {
	fs   afero.Fs
	path string

	mu  sync.RWMutex
	doc document
}

type Config struct {
	// Fs defaults to the OS file system.
	Fs   afero.Fs
	Path string
}

// New opens the store at cfg.Path. A missing file is an empty store.
func New(cfg *Config) (Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Path == "" {
		return nil, fmt.Errorf("path is empty")
	}

	fs := cfg.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}

	s := &fileStore{fs: fs, path: cfg.Path}

	data, err := afero.ReadFile(fs, cfg.Path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read settings %s: %w", cfg.Path, err)
	}

	if len(strings.TrimSpace(string(data))) == 0 {
		return s, nil
	}

	if err := json.Unmarshal(data, &s.doc); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", cfg.Path, err)
	}

	return s, nil
}

func (s *fileStore) Get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.WebhookURL
}

// Set writes through to disk; the in-memory value only changes once the
// write succeeded.
func (s *fileStore) Set(webhookURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := document{WebhookURL: strings.TrimSpace(webhookURL)}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create settings dir: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	if err := s.fs.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}

	s.doc = doc

	return nil
}

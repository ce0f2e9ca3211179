// Package configstore is the configuration provider: it owns the on-disk
// configuration document, validates every change before accepting it, and
// hands out copies to the pipeline.
package configstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-posebridge/internal/log"
	"github.com/teslashibe/go-posebridge/pkg/sink"
)

// ErrSinkNotFound is returned when removing an unknown sink id.
var ErrSinkNotFound = errors.New("configstore: sink not found")

// Provider is what the pipeline needs from configuration persistence.
type Provider interface {
	Read() (ServerConfig, error)
	Write(ServerConfig) (ServerConfig, error)
}

// Store keeps the configuration document in memory and mirrors every
// accepted change to its file. An empty path keeps it in memory only.
type Store struct {
	path   string
	logger *slog.Logger

	mu   sync.RWMutex
	data File
	raw  []byte // file content last read or written
}

// NewStore creates a store for path holding the defaults. Call Load to
// read the file.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = log.Component("configstore")
	}
	return &Store{path: path, logger: logger, data: DefaultFile()}
}

// NewMemory creates a store that never touches disk, seeded with cfg.
func NewMemory(cfg ServerConfig) *Store {
	s := NewStore("", nil)
	s.data.Server = normalize(cfg)
	return s
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the file. A missing or invalid file is replaced with the
// defaults, which are persisted; only a failure to persist is returned.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return nil
	}

	f, raw, err := s.readFile()
	if err == nil {
		s.data = f
		s.raw = raw
		s.logger.Info("loaded configuration file", "path", s.path)
		return nil
	}

	s.logger.Warn("using default configuration", "path", s.path, "error", err)
	s.data = DefaultFile()
	return s.persist(s.data)
}

func (s *Store) readFile() (File, []byte, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return File{}, nil, err
	}
	f := DefaultFile()
	if isYAML(s.path) {
		err = yaml.Unmarshal(raw, &f)
	} else {
		err = json.Unmarshal(raw, &f)
	}
	if err != nil {
		return File{}, nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	f.Server = normalize(f.Server)
	if f.SlimeVR.Trackers == nil {
		f.SlimeVR.Trackers = map[string]TrackerProfile{}
	}
	if err := f.Server.Validate(); err != nil {
		return File{}, nil, err
	}
	return f, raw, nil
}

// Reload re-reads the file after an outside edit. changed is false when
// the content is what the store last read or wrote. An invalid file
// leaves the current configuration in place.
func (s *Store) Reload() (changed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return false, nil
	}
	f, raw, err := s.readFile()
	if err != nil {
		return false, err
	}
	if bytes.Equal(raw, s.raw) {
		return false, nil
	}
	s.data = f
	s.raw = raw
	s.logger.Info("configuration file changed", "path", s.path)
	return true, nil
}

// Read implements Provider.
func (s *Store) Read() (ServerConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.data.Server), nil
}

// Write implements Provider. The config is validated and persisted before
// it replaces the current one.
func (s *Store) Write(cfg ServerConfig) (ServerConfig, error) {
	return s.modify(func(ServerConfig) (ServerConfig, error) { return cfg, nil })
}

// modify runs fn on the current config and commits the result. The whole
// read-merge-write happens under mu, so concurrent edits never lose each
// other.
func (s *Store) modify(fn func(ServerConfig) (ServerConfig, error)) (ServerConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := fn(clone(s.data.Server))
	if err != nil {
		return ServerConfig{}, err
	}
	cfg = normalize(cfg)
	if err := cfg.Validate(); err != nil {
		return ServerConfig{}, err
	}

	next := s.data
	next.Server = cfg
	if err := s.persist(next); err != nil {
		return ServerConfig{}, err
	}
	s.data = next
	return clone(cfg), nil
}

// Update merges p into the current config and writes the result.
func (s *Store) Update(p Patch) (ServerConfig, error) {
	return s.modify(func(cur ServerConfig) (ServerConfig, error) {
		return p.Apply(cur), nil
	})
}

// Sinks returns the configured sink descriptors.
func (s *Store) Sinks() []sink.Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]sink.Descriptor{}, s.data.Server.Sinks...)
}

// SetSinks replaces the descriptor list.
func (s *Store) SetSinks(ds []sink.Descriptor) ([]sink.Descriptor, error) {
	cfg, err := s.Update(Patch{Sinks: &ds})
	if err != nil {
		return nil, err
	}
	return cfg.Sinks, nil
}

// AddSink appends d to the descriptor list.
func (s *Store) AddSink(d sink.Descriptor) ([]sink.Descriptor, error) {
	cfg, err := s.modify(func(cur ServerConfig) (ServerConfig, error) {
		cur.Sinks = append(cur.Sinks, d)
		return cur, nil
	})
	if err != nil {
		return nil, err
	}
	return cfg.Sinks, nil
}

// RemoveSink drops the descriptor with the given id.
func (s *Store) RemoveSink(id string) ([]sink.Descriptor, error) {
	cfg, err := s.modify(func(cur ServerConfig) (ServerConfig, error) {
		kept := make([]sink.Descriptor, 0, len(cur.Sinks))
		for _, d := range cur.Sinks {
			if d.ID != id {
				kept = append(kept, d)
			}
		}
		if len(kept) == len(cur.Sinks) {
			return cur, fmt.Errorf("%w: %q", ErrSinkNotFound, id)
		}
		cur.Sinks = kept
		return cur, nil
	})
	if err != nil {
		return nil, err
	}
	return cfg.Sinks, nil
}

// TrackerProfiles returns a copy of the saved SlimeVR profiles.
func (s *Store) TrackerProfiles() map[string]TrackerProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]TrackerProfile, len(s.data.SlimeVR.Trackers))
	for k, v := range s.data.SlimeVR.Trackers {
		out[k] = v
	}
	return out
}

// SaveTrackerProfile stores or replaces the profile for id.
func (s *Store) SaveTrackerProfile(id string, p TrackerProfile) error {
	if strings.TrimSpace(id) == "" {
		return &ValidationError{Field: "profileId", Reason: "is required"}
	}
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.data
	next.SlimeVR.Trackers = make(map[string]TrackerProfile, len(s.data.SlimeVR.Trackers)+1)
	for k, v := range s.data.SlimeVR.Trackers {
		next.SlimeVR.Trackers[k] = v
	}
	next.SlimeVR.Trackers[id] = p
	if err := s.persist(next); err != nil {
		return err
	}
	s.data = next
	return nil
}

// persist writes f to a temp file and renames it into place. Callers
// hold mu.
func (s *Store) persist(f File) error {
	if s.path == "" {
		return nil
	}
	var (
		raw []byte
		err error
	)
	if isYAML(s.path) {
		raw, err = yaml.Marshal(f)
	} else {
		raw, err = json.MarshalIndent(f, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("configstore: encode: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("configstore: create dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("configstore: write: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("configstore: replace: %w", err)
	}
	s.raw = raw
	return nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func normalize(c ServerConfig) ServerConfig {
	out := c
	out.Sinks = make([]sink.Descriptor, len(c.Sinks))
	for i, d := range c.Sinks {
		out.Sinks[i] = d.WithDefaults()
	}
	return out
}

func clone(c ServerConfig) ServerConfig {
	out := c
	out.Sinks = append([]sink.Descriptor{}, c.Sinks...)
	return out
}

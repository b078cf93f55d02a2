// Package snapshot persists screenshots with a JSON metadata sidecar.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dgnsrekt/tablease/internal/types"
)

// Meta describes one stored screenshot.
type Meta struct {
	ID        string    `json:"id"`
	TabID     int       `json:"tabId"`
	URL       string    `json:"url,omitempty"`
	Title     string    `json:"title,omitempty"`
	Format    string    `json:"format"`
	SizeBytes int       `json:"sizeBytes"`
	FullPage  bool      `json:"fullPage,omitempty"`
	Selector  string    `json:"selector,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	Path      string    `json:"path"`
}

// Store manages screenshot files on disk.
type Store struct {
	dir string
	mu  sync.RWMutex
}

// NewStore creates a Store and ensures the directory exists.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot store: mkdir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string { return s.dir }

func validateID(id string) error {
	if err := uuid.Validate(id); err != nil {
		return types.Errorf(types.CodeValidation, "invalid screenshot id: %q", id)
	}
	return nil
}

func validateFormat(format string) error {
	switch format {
	case "png", "jpeg", "webp":
		return nil
	}
	return types.Errorf(types.CodeValidation, "unsupported image format %q", format)
}

// Save writes the image and its sidecar. An empty meta.ID gets a fresh
// UUID; CreatedAt defaults to now. The stored meta is returned.
func (s *Store) Save(meta Meta, image []byte) (Meta, error) {
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	if err := validateID(meta.ID); err != nil {
		return Meta{}, err
	}
	if err := validateFormat(meta.Format); err != nil {
		return Meta{}, err
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}
	meta.SizeBytes = len(image)

	s.mu.Lock()
	defer s.mu.Unlock()

	imgPath := filepath.Join(s.dir, meta.ID+"."+meta.Format)
	jsonPath := filepath.Join(s.dir, meta.ID+".json")
	meta.Path = imgPath

	if err := os.WriteFile(imgPath, image, 0o644); err != nil {
		return Meta{}, fmt.Errorf("snapshot store: write image: %w", err)
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		_ = os.Remove(imgPath)
		return Meta{}, fmt.Errorf("snapshot store: marshal meta: %w", err)
	}
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		_ = os.Remove(imgPath)
		return Meta{}, fmt.Errorf("snapshot store: write meta: %w", err)
	}
	return meta, nil
}

// Get reads screenshot metadata by id.
func (s *Store) Get(id string) (Meta, error) {
	if err := validateID(id); err != nil {
		return Meta{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(id)
}

func (s *Store) getLocked(id string) (Meta, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, id+".json"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Meta{}, types.Errorf(types.CodeNotFound, "screenshot not found: %s", id)
		}
		return Meta{}, fmt.Errorf("snapshot store: read meta: %w", err)
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return Meta{}, fmt.Errorf("snapshot store: unmarshal meta: %w", err)
	}
	return meta, nil
}

// List returns stored screenshots, newest first. Unreadable sidecars are
// skipped.
func (s *Store) List() ([]Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("snapshot store: glob: %w", err)
	}
	metas := make([]Meta, 0, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var meta Meta
		if err := json.Unmarshal(data, &meta); err != nil {
			continue
		}
		metas = append(metas, meta)
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].CreatedAt.After(metas[j].CreatedAt)
	})
	return metas, nil
}

// ReadImage returns the image bytes and format.
func (s *Store) ReadImage(id string) ([]byte, string, error) {
	if err := validateID(id); err != nil {
		return nil, "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, err := s.getLocked(id)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(filepath.Join(s.dir, id+"."+meta.Format))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", types.Errorf(types.CodeNotFound, "screenshot image not found: %s", id)
		}
		return nil, "", fmt.Errorf("snapshot store: read image: %w", err)
	}
	return data, meta.Format, nil
}

// Delete removes the image and its sidecar.
func (s *Store) Delete(id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.getLocked(id)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.dir, id+"."+meta.Format)); err != nil {
		slog.Debug("snapshot image cleanup failed", "id", id, "error", err)
	}
	if err := os.Remove(filepath.Join(s.dir, id+".json")); err != nil {
		return fmt.Errorf("snapshot store: remove meta: %w", err)
	}
	return nil
}

package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"idxsync/internal/errs"
)

const DefaultSettingsSize = 64

// Settings caches index settings documents by absolute path. Entries are
// dropped by Invalidate when the file changes on disk.
type Settings struct {
	docs *lru.Cache[string, json.RawMessage]
}

func NewSettings(size int) (*Settings, error) {
	if size <= 0 {
		size = DefaultSettingsSize
	}
	c, err := lru.New[string, json.RawMessage](size)
	if err != nil {
		return nil, err
	}
	return &Settings{docs: c}, nil
}

// Key normalizes path the way entries are stored.
func Key(path string) string {
	path = strings.TrimSpace(path)
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return filepath.Clean(path)
}

// Load returns the settings document at path, reading it on a cache miss.
func (s *Settings) Load(path string) (json.RawMessage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errs.Configuration("settings", "settings path is required")
	}
	key := Key(path)
	if s != nil {
		if doc, ok := s.docs.Get(key); ok {
			return doc, nil
		}
	}

	b, err := os.ReadFile(key)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "settings", "read "+path, err)
	}
	if !json.Valid(b) {
		return nil, errs.Configuration("settings", "%s is not valid JSON", path)
	}
	doc := json.RawMessage(b)
	if s != nil {
		s.docs.Add(key, doc)
	}
	return doc, nil
}

func (s *Settings) Invalidate(paths ...string) {
	if s == nil {
		return
	}
	for _, p := range paths {
		s.docs.Remove(Key(p))
	}
}

func (s *Settings) Len() int {
	if s == nil {
		return 0
	}
	return s.docs.Len()
}

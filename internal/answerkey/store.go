package answerkey

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/MeKo-Tech/omr/internal/common"
	"github.com/MeKo-Tech/omr/internal/layout"
)

// Store holds bound keys by version. It is filled at startup and read-only
// afterwards.
type Store struct {
	keys map[string]*Key
}

// NewStore builds a store. Versions must be unique.
func NewStore(keys ...*Key) (*Store, error) {
	s := &Store{keys: make(map[string]*Key, len(keys))}
	for _, k := range keys {
		if _, dup := s.keys[k.Version]; dup {
			return nil, fmt.Errorf("duplicate answer key version %q", k.Version)
		}
		s.keys[k.Version] = k
	}
	return s, nil
}

// LoadStore loads every key file in dir and binds it to its layout from
// reg (the registry default when the key names none). A key without a
// version is stored under its file name stem. CSV keys carry no layout
// field and always bind to the registry default.
func LoadStore(dir string, reg *layout.Registry) (*Store, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read keys dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, err := FormatFromPath(e.Name()); err == nil {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	keys := make([]*Key, 0, len(names))
	for _, n := range names {
		path := filepath.Join(dir, n)
		l := reg.Default()
		k, err := Load(path, fileStem(n), l)
		if err != nil {
			return nil, err
		}
		if k.Layout != "" && k.Layout != l.ID {
			if l, err = reg.Get(k.Layout); err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
		}
		bound, err := k.Bind(l)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		keys = append(keys, bound)
	}
	return NewStore(keys...)
}

// Get returns the key for version, or a KeyVersionMismatch error.
func (s *Store) Get(version string) (*Key, error) {
	k, ok := s.keys[strings.TrimSpace(version)]
	if !ok {
		return nil, common.KeyVersionMismatch("answerkey", version)
	}
	return k, nil
}

// Has reports whether a key exists for version.
func (s *Store) Has(version string) bool {
	_, ok := s.keys[strings.TrimSpace(version)]
	return ok
}

// Versions lists the stored versions in sorted order.
func (s *Store) Versions() []string {
	out := make([]string, 0, len(s.keys))
	for v := range s.keys {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Len is the number of stored keys.
func (s *Store) Len() int { return len(s.keys) }

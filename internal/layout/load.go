package layout

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Parse decodes a YAML (or JSON) layout document and validates it.
func Parse(data []byte) (*SheetLayout, error) {
	l := &SheetLayout{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(l); err != nil {
		return nil, fmt.Errorf("decode layout: %w", err)
	}
	if err := l.Validate(); err != nil {
		return nil, fmt.Errorf("invalid layout %q: %w", l.ID, err)
	}
	return l, nil
}

// Load reads a single layout file.
func Load(path string) (*SheetLayout, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: layout path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("read layout %s: %w", path, err)
	}
	l, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return l, nil
}

// LoadDir loads every *.yaml, *.yml and *.json file in dir, sorted by name.
func LoadDir(dir string) ([]*SheetLayout, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read layouts dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	out := make([]*SheetLayout, 0, len(names))
	for _, n := range names {
		l, err := Load(filepath.Join(dir, n))
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

// Marshal renders the layout as YAML.
func Marshal(l *SheetLayout) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(l); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

package layout

import (
	"fmt"
	"sort"
)

// Registry holds the known layouts by ID. It is populated once at startup
// and only read afterwards, so concurrent lookups need no locking.
type Registry struct {
	layouts   map[string]*SheetLayout
	defaultID string
}

// NewRegistry builds a registry. The first layout becomes the default unless
// defaultID names another one.
func NewRegistry(defaultID string, layouts ...*SheetLayout) (*Registry, error) {
	if len(layouts) == 0 {
		return nil, fmt.Errorf("no layouts provided")
	}
	r := &Registry{layouts: make(map[string]*SheetLayout, len(layouts))}
	for _, l := range layouts {
		if err := l.Validate(); err != nil {
			return nil, fmt.Errorf("layout %q: %w", l.ID, err)
		}
		if _, dup := r.layouts[l.ID]; dup {
			return nil, fmt.Errorf("duplicate layout id %q", l.ID)
		}
		r.layouts[l.ID] = l
	}
	if defaultID == "" {
		defaultID = layouts[0].ID
	}
	if _, ok := r.layouts[defaultID]; !ok {
		return nil, fmt.Errorf("default layout %q not found", defaultID)
	}
	r.defaultID = defaultID
	return r, nil
}

// LoadRegistry loads layouts from dir (when set) and always includes the
// built-in default layout unless a file overrides its ID.
func LoadRegistry(dir, defaultID string) (*Registry, error) {
	layouts := []*SheetLayout{}
	if dir != "" {
		loaded, err := LoadDir(dir)
		if err != nil {
			return nil, err
		}
		layouts = append(layouts, loaded...)
	}
	builtin := DefaultLayout()
	overridden := false
	for _, l := range layouts {
		if l.ID == builtin.ID {
			overridden = true
		}
	}
	if !overridden {
		layouts = append([]*SheetLayout{builtin}, layouts...)
	}
	return NewRegistry(defaultID, layouts...)
}

// Get returns the layout with the given ID; empty id selects the default.
func (r *Registry) Get(id string) (*SheetLayout, error) {
	if id == "" {
		id = r.defaultID
	}
	l, ok := r.layouts[id]
	if !ok {
		return nil, fmt.Errorf("unknown layout %q", id)
	}
	return l, nil
}

// Default returns the default layout.
func (r *Registry) Default() *SheetLayout { return r.layouts[r.defaultID] }

// DefaultID returns the ID of the default layout.
func (r *Registry) DefaultID() string { return r.defaultID }

// IDs lists the registered layout IDs in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.layouts))
	for id := range r.layouts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// All returns the layouts sorted by ID.
func (r *Registry) All() []*SheetLayout {
	out := make([]*SheetLayout, 0, len(r.layouts))
	for _, id := range r.IDs() {
		out = append(out, r.layouts[id])
	}
	return out
}

package statesync

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"cogentcore.org/core/base/ordmap"
)

// RootComponentID is the ID of the component every tree hangs from.
const RootComponentID = "root"

// Binding ties one event type of a component to a state reference. When
// the event fires, its payload is written to StateRef before any handler
// runs.
type Binding struct {
	EventType string `json:"eventType" yaml:"eventType"`
	StateRef  string `json:"stateRef" yaml:"stateRef"`
}

// NewBinding builds a binding from a single-entry map of event type to
// state reference. An empty map gives nil.
//
//	b, err := statesync.NewBinding(map[string]string{"ss-change": "name"})
func NewBinding(raw map[string]string) (*Binding, error) {
	switch len(raw) {
	case 0:
		return nil, nil
	case 1:
		for ev, ref := range raw {
			return &Binding{EventType: ev, StateRef: ref}, nil
		}
	}
	return nil, fmt.Errorf("%w: improper binding configuration, expected one event type, got %d", ErrConfiguration, len(raw))
}

// Component is a node of the component tree as authored in the builder.
//
// Content holds the raw, unevaluated property values; templates in them
// are resolved per session by the Evaluator. Handlers maps event types to
// registered handler names.
type Component struct {
	ID       string            `json:"id" yaml:"id"`
	Type     string            `json:"type" yaml:"type"`
	Content  map[string]string `json:"content" yaml:"content"`
	Handlers map[string]string `json:"handlers,omitempty" yaml:"handlers,omitempty"`
	Binding  *Binding          `json:"binding,omitempty" yaml:"binding,omitempty"`
	ParentID string            `json:"parentId,omitempty" yaml:"parentId,omitempty"`
	Position int               `json:"position" yaml:"position"`
}

// ComponentTree resolves components by ID. Implementations return nil
// for unknown IDs.
type ComponentTree interface {
	GetComponent(id string) *Component
}

// Tree is an in-memory component tree. It keeps components in insertion
// order and is safe for concurrent use.
type Tree struct {
	mu         sync.RWMutex
	components ordmap.Map[string, *Component]
}

// NewTree returns a tree holding components.
func NewTree(components ...*Component) *Tree {
	t := &Tree{}
	for _, c := range components {
		t.components.Add(c.ID, c)
	}
	return t
}

// LoadTree reads a tree from JSON of the form {"components": {id: component}}.
// Component IDs default to their map key.
func LoadTree(r io.Reader) (*Tree, error) {
	var doc struct {
		Components *Object `json:"components"`
	}
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decode component tree: %v", ErrConfiguration, err)
	}
	t := NewTree()
	if doc.Components == nil {
		return t, nil
	}
	var err error
	doc.Components.Range(func(id string, v any) bool {
		var b []byte
		if b, err = json.Marshal(v); err != nil {
			return false
		}
		c := &Component{}
		if err = json.Unmarshal(b, c); err != nil {
			err = fmt.Errorf("%w: component %q: %v", ErrConfiguration, id, err)
			return false
		}
		if c.ID == "" {
			c.ID = id
		}
		t.components.Add(c.ID, c)
		return true
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// LoadTreeFile is LoadTree over the file at path.
func LoadTreeFile(path string) (*Tree, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadTree(f)
}

// GetComponent implements ComponentTree.
func (t *Tree) GetComponent(id string) *Component {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.components.ValueByKey(id)
}

// Attach adds or replaces a component. The parent, when set, must already
// be in the tree.
func (t *Tree) Attach(c *Component) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("%w: component must have an ID", ErrValidation)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if c.ParentID != "" {
		if _, ok := t.components.ValueByKeyTry(c.ParentID); !ok {
			return fmt.Errorf("%w: parent %q of component %q is missing in tree", ErrValidation, c.ParentID, c.ID)
		}
	}
	t.components.Add(c.ID, c)
	return nil
}

// Delete removes the component with id, if present.
func (t *Tree) Delete(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.components.DeleteKey(id)
}

// Len returns the number of components.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.components.Len()
}

// Components returns the components in insertion order.
func (t *Tree) Components() []*Component {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Component, 0, t.components.Len())
	for _, kv := range t.components.Order {
		out = append(out, kv.Value)
	}
	return out
}

// ToDict returns the components keyed by ID, in insertion order.
func (t *Tree) ToDict() *Object {
	out := NewObject()
	for _, c := range t.Components() {
		out.Set(c.ID, c)
	}
	return out
}

// SessionTree layers session-local components over a shared base tree.
// Components attached at runtime live in the overlay and shadow base
// components with the same ID; the base tree is never modified.
type SessionTree struct {
	base    ComponentTree
	overlay *Tree
}

// NewSessionTree returns an empty overlay over base.
func NewSessionTree(base ComponentTree) *SessionTree {
	if base == nil {
		base = NewTree()
	}
	return &SessionTree{base: base, overlay: NewTree()}
}

// GetComponent implements ComponentTree.
func (s *SessionTree) GetComponent(id string) *Component {
	if c := s.overlay.GetComponent(id); c != nil {
		return c
	}
	return s.base.GetComponent(id)
}

// Attach adds c to the overlay. The parent may live in either layer.
func (s *SessionTree) Attach(c *Component) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("%w: component must have an ID", ErrValidation)
	}
	if c.ParentID != "" && s.GetComponent(c.ParentID) == nil {
		return fmt.Errorf("%w: parent %q of component %q is missing in tree", ErrValidation, c.ParentID, c.ID)
	}
	s.overlay.mu.Lock()
	defer s.overlay.mu.Unlock()
	s.overlay.components.Add(c.ID, c)
	return nil
}

// Overlay returns the session-local components.
func (s *SessionTree) Overlay() *Tree { return s.overlay }

// ToDict returns the components of both layers keyed by ID. Overlay
// components replace base components in place; new ones follow the base.
func (s *SessionTree) ToDict() *Object {
	out := NewObject()
	if base, ok := s.base.(interface{ ToDict() *Object }); ok {
		base.ToDict().Range(func(id string, c any) bool {
			out.Set(id, c)
			return true
		})
	}
	for _, c := range s.overlay.Components() {
		out.Set(c.ID, c)
	}
	return out
}

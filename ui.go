package statesync

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// UI gives handlers access to the session's component tree. Components
// created through it exist only in the session overlay.
type UI struct {
	tree *SessionTree
}

// NewUI returns a UI over tree.
func NewUI(tree *SessionTree) *UI {
	return &UI{tree: tree}
}

// Tree returns the session tree.
func (u *UI) Tree() *SessionTree { return u.tree }

// Find returns the component with id.
//
//	c, err := ui.Find("my-component-id")
func (u *UI) Find(id string) (*Component, error) {
	c := u.tree.GetComponent(id)
	if c == nil {
		return nil, fmt.Errorf("%w: component %q not found", ErrValidation, id)
	}
	return c, nil
}

// Root returns the root component.
func (u *UI) Root() (*Component, error) {
	return u.Find(RootComponentID)
}

// Attach adds c to the session overlay.
func (u *UI) Attach(c *Component) error {
	return u.tree.Attach(c)
}

// Create builds a component of typ under parentID and attaches it. An ID
// is generated when cfg.ID is empty. Creating a root component is refused.
func (u *UI) Create(typ, parentID string, cfg Component) (*Component, error) {
	if typ == RootComponentID {
		return nil, fmt.Errorf("%w: root component cannot be a child component", ErrValidation)
	}
	c := cfg
	c.Type = typ
	c.ParentID = parentID
	if c.ID == "" {
		c.ID = "cmc-" + randomHex(8)
	}
	if c.Content == nil {
		c.Content = map[string]string{}
	}
	if err := u.tree.Attach(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}

package statesync

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNewBinding(t *testing.T) {
	b, err := NewBinding(map[string]string{"ss-change": "name"})
	if err != nil {
		t.Fatalf("NewBinding() error = %v", err)
	}
	if diff := cmp.Diff(&Binding{EventType: "ss-change", StateRef: "name"}, b); diff != "" {
		t.Errorf("NewBinding() mismatch (-want +got):\n%s", diff)
	}

	if b, err := NewBinding(nil); b != nil || err != nil {
		t.Errorf("NewBinding(nil) = %v, %v, want nil, nil", b, err)
	}
	if _, err := NewBinding(map[string]string{"a": "x", "b": "y"}); !IsConfiguration(err) {
		t.Errorf("NewBinding(two entries) error = %v, want ErrConfiguration", err)
	}
}

const treeJSON = `{
  "components": {
    "root": {"type": "root", "content": {"appName": "Demo"}},
    "page": {"id": "page", "type": "page", "parentId": "root", "content": {"key": "main"}},
    "btn": {
      "type": "button", "parentId": "page", "position": 1,
      "content": {"text": "Go"},
      "handlers": {"ss-click": "go"},
      "binding": {"eventType": "ss-click", "stateRef": "clicked"}
    }
  }
}`

func TestLoadTree(t *testing.T) {
	tree, err := LoadTree(strings.NewReader(treeJSON))
	if err != nil {
		t.Fatalf("LoadTree() error = %v", err)
	}

	var ids []string
	for _, c := range tree.Components() {
		ids = append(ids, c.ID)
	}
	if diff := cmp.Diff([]string{"root", "page", "btn"}, ids); diff != "" {
		t.Errorf("component order (-want +got):\n%s", diff)
	}

	want := &Component{
		ID: "btn", Type: "button", ParentID: "page", Position: 1,
		Content:  map[string]string{"text": "Go"},
		Handlers: map[string]string{"ss-click": "go"},
		Binding:  &Binding{EventType: "ss-click", StateRef: "clicked"},
	}
	if diff := cmp.Diff(want, tree.GetComponent("btn")); diff != "" {
		t.Errorf("GetComponent(btn) mismatch (-want +got):\n%s", diff)
	}
	if tree.GetComponent("missing") != nil {
		t.Error("GetComponent(missing) should be nil")
	}

	if _, err := LoadTree(strings.NewReader(`{"components": `)); !IsConfiguration(err) {
		t.Errorf("LoadTree(truncated) error = %v, want ErrConfiguration", err)
	}
}

func TestLoadTreeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "components.json")
	if err := os.WriteFile(path, []byte(treeJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	tree, err := LoadTreeFile(path)
	if err != nil {
		t.Fatalf("LoadTreeFile() error = %v", err)
	}
	if tree.Len() != 3 {
		t.Errorf("Len() = %d, want 3", tree.Len())
	}
	if got := payloadJSON(t, tree.ToDict()); !strings.HasPrefix(got, `{"root":{"id":"root","type":"root"`) {
		t.Errorf("ToDict() = %s", got)
	}
}

func TestTreeAttach(t *testing.T) {
	tree := NewTree(&Component{ID: RootComponentID, Type: "root"})

	if err := tree.Attach(&Component{ID: "a", ParentID: "nope"}); !IsValidation(err) {
		t.Errorf("Attach(missing parent) error = %v, want ErrValidation", err)
	}
	if err := tree.Attach(&Component{}); !IsValidation(err) {
		t.Errorf("Attach(no ID) error = %v, want ErrValidation", err)
	}
	if err := tree.Attach(&Component{ID: "a", ParentID: RootComponentID}); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	tree.Delete("a")
	if tree.GetComponent("a") != nil {
		t.Error("Delete() left the component behind")
	}
}

func TestSessionTreeOverlay(t *testing.T) {
	base := NewTree(
		&Component{ID: RootComponentID, Type: "root"},
		&Component{ID: "text", Type: "text", ParentID: RootComponentID, Content: map[string]string{"text": "base"}},
	)
	st := NewSessionTree(base)

	shadow := &Component{ID: "text", Type: "text", ParentID: RootComponentID, Content: map[string]string{"text": "session"}}
	if err := st.Attach(shadow); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if got := st.GetComponent("text").Content["text"]; got != "session" {
		t.Errorf("overlay lookup = %q, want session", got)
	}
	if got := base.GetComponent("text").Content["text"]; got != "base" {
		t.Errorf("base modified: %q", got)
	}

	if err := st.Attach(&Component{ID: "child", ParentID: "text"}); err != nil {
		t.Errorf("Attach(parent in overlay) error = %v", err)
	}
	if err := st.Attach(&Component{ID: "orphan", ParentID: "ghost"}); !IsValidation(err) {
		t.Errorf("Attach(missing parent) error = %v, want ErrValidation", err)
	}
	if st.Overlay().Len() != 2 {
		t.Errorf("overlay has %d components, want 2", st.Overlay().Len())
	}

	dict := st.ToDict()
	if diff := cmp.Diff([]string{RootComponentID, "text", "child"}, dict.Keys()); diff != "" {
		t.Errorf("ToDict() keys mismatch (-want +got):\n%s", diff)
	}
	if got, _ := dict.Get("text"); got.(*Component).Content["text"] != "session" {
		t.Errorf("ToDict() text = %+v, want the overlay component", got)
	}
}

func TestUI(t *testing.T) {
	ui := NewUI(NewSessionTree(NewTree(&Component{ID: RootComponentID, Type: "root"})))

	root, err := ui.Root()
	if err != nil || root.ID != RootComponentID {
		t.Fatalf("Root() = %v, %v", root, err)
	}
	if _, err := ui.Find("ghost"); !IsValidation(err) {
		t.Errorf("Find(ghost) error = %v, want ErrValidation", err)
	}

	c, err := ui.Create("text", RootComponentID, Component{})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !strings.HasPrefix(c.ID, "cmc-") || len(c.ID) != len("cmc-")+16 {
		t.Errorf("generated ID = %q", c.ID)
	}
	if c.Content == nil {
		t.Error("Create() should initialise Content")
	}
	if found, _ := ui.Find(c.ID); found == nil || found.Type != "text" {
		t.Errorf("Find(created) = %+v", found)
	}

	named, err := ui.Create("button", RootComponentID, Component{ID: "ok-button"})
	if err != nil || named.ID != "ok-button" {
		t.Errorf("Create(with ID) = %+v, %v", named, err)
	}

	if _, err := ui.Create(RootComponentID, RootComponentID, Component{}); !IsValidation(err) {
		t.Errorf("Create(root) error = %v, want ErrValidation", err)
	}
	if _, err := ui.Create("text", "ghost", Component{}); !IsValidation(err) {
		t.Errorf("Create(missing parent) error = %v, want ErrValidation", err)
	}
}

package statesync

import (
	"context"
	"encoding/json"
	"fmt"
)

// TestResult holds the outcome of dispatching one event for testing.
//
// Provides convenience methods for asserting on the event result, the
// state diff and the mail the event produced.
type TestResult struct {
	Result    EventResult
	Mutations *Object
	Mail      []Mail
	Session   *Session
}

// TestApp builds an app for tests from a raw initial state, a set of
// handlers and the components of the base tree. A root component is added
// when none is given.
//
//	app, err := statesync.TestApp(
//	    map[string]any{"counter": 0},
//	    map[string]any{"increment": increment},
//	    &statesync.Component{ID: "btn", Type: "button", ParentID: "root",
//	        Handlers: map[string]string{"ss-click": "increment"}},
//	)
func TestApp(initial map[string]any, handlers map[string]any, components ...*Component) (*App, error) {
	state, err := NewRootState(nil, initial)
	if err != nil {
		return nil, err
	}
	tree := NewTree()
	if !hasComponent(components, RootComponentID) {
		tree.components.Add(RootComponentID, &Component{ID: RootComponentID, Type: "root", Content: map[string]string{}})
	}
	for _, c := range components {
		tree.components.Add(c.ID, c)
	}

	app := NewApp(nil, state, tree)
	for name, fn := range handlers {
		if err := app.Handlers.Register(name, fn); err != nil {
			return nil, err
		}
	}
	return app, nil
}

func hasComponent(components []*Component, id string) bool {
	for _, c := range components {
		if c.ID == id {
			return true
		}
	}
	return false
}

// TestEvent dispatches ev in a fresh session of app and returns the
// result with the update it produced.
//
//	result, err := statesync.TestEvent(app, statesync.Event{
//	    Type:         "ss-click",
//	    InstancePath: statesync.InstancePath{{ComponentID: "btn"}},
//	    Payload:      map[string]any{},
//	})
//	if !result.IsOK() || !result.HasMutation("+counter") {
//	    t.Fatal("counter was not incremented")
//	}
func TestEvent(app *App, ev Event) (*TestResult, error) {
	s, err := app.Sessions.NewSession(nil, nil, "")
	if err != nil {
		return nil, err
	}
	return TestEventInSession(context.Background(), s, ev)
}

// TestEventInSession dispatches ev in an existing session, so state
// carries over between events.
func TestEventInSession(ctx context.Context, s *Session, ev Event) (*TestResult, error) {
	res, u, err := s.HandleAndFlush(ctx, &ev)
	if err != nil {
		return nil, err
	}
	return &TestResult{Result: res, Mutations: u.Mutations, Mail: u.Mail, Session: s}, nil
}

// FlushJSON flushes the pending mutations of st and returns them as JSON.
func FlushJSON(st Stater) (string, error) {
	m, err := st.AsState().FlushMutations()
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// IsOK returns whether the event was handled without error.
func (r *TestResult) IsOK() bool {
	return r.Result.OK
}

// HasMutation returns whether the diff contains the given marked path,
// such as "+counter" or "-items.0".
func (r *TestResult) HasMutation(path string) bool {
	_, ok := r.Mutations.Get(path)
	return ok
}

// Mutation returns the value of a marked path in the diff.
func (r *TestResult) Mutation(path string) (any, bool) {
	return r.Mutations.Get(path)
}

// MailOf returns the mail items of the given type, newest first.
func (r *TestResult) MailOf(typ string) []Mail {
	var out []Mail
	for _, m := range r.Mail {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

// HasNotification returns whether a notification with the given level and
// title was mailed.
func (r *TestResult) HasNotification(level, title string) bool {
	for _, m := range r.MailOf(MailNotification) {
		if n, ok := m.Payload.(Notification); ok && n.Type == level && n.Title == title {
			return true
		}
	}
	return false
}

// HasLogEntry returns whether a log entry with the given title was mailed.
func (r *TestResult) HasLogEntry(title string) bool {
	for _, m := range r.MailOf(MailLogEntry) {
		if e, ok := m.Payload.(LogEntry); ok && e.Title == title {
			return true
		}
	}
	return false
}

// TestEventBuilder provides a fluent API for building test events.
//
//	result, err := statesync.NewTestEvent("ss-change", "input").
//	    WithPayload("hello").
//	    Execute(app)
type TestEventBuilder struct {
	ev  Event
	ctx context.Context
}

// NewTestEvent starts an event of typ targeting the component target,
// reached from the root.
func NewTestEvent(typ, target string) *TestEventBuilder {
	return &TestEventBuilder{
		ev: Event{
			Type:         typ,
			InstancePath: InstancePath{{ComponentID: RootComponentID}, {ComponentID: target}},
		},
		ctx: context.Background(),
	}
}

// WithPayload sets the event payload.
func (b *TestEventBuilder) WithPayload(p any) *TestEventBuilder {
	b.ev.Payload = p
	return b
}

// WithPath replaces the instance path, for targets inside repeaters.
func (b *TestEventBuilder) WithPath(path ...InstancePathItem) *TestEventBuilder {
	b.ev.InstancePath = path
	return b
}

// WithContext sets the context handlers receive.
func (b *TestEventBuilder) WithContext(ctx context.Context) *TestEventBuilder {
	b.ctx = ctx
	return b
}

// Event returns the built event.
func (b *TestEventBuilder) Event() Event {
	return b.ev
}

// Execute dispatches the event in a fresh session of app.
func (b *TestEventBuilder) Execute(app *App) (*TestResult, error) {
	s, err := app.Sessions.NewSession(nil, nil, "")
	if err != nil {
		return nil, err
	}
	return b.ExecuteIn(s)
}

// ExecuteIn dispatches the event in s.
func (b *TestEventBuilder) ExecuteIn(s *Session) (*TestResult, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil session", ErrDispatch)
	}
	return TestEventInSession(b.ctx, s, b.ev)
}

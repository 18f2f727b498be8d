package statesync

import (
	"context"
	"testing"
)

func TestTestAppAddsRoot(t *testing.T) {
	app, err := TestApp(nil, nil, button("btn", nil))
	if err != nil {
		t.Fatalf("TestApp() error = %v", err)
	}
	if app.Tree.GetComponent(RootComponentID) == nil {
		t.Error("TestApp() did not add a root component")
	}

	if _, err := TestApp(nil, map[string]any{"bad": 1}); !IsConfiguration(err) {
		t.Errorf("TestApp(bad handler) error = %v, want ErrConfiguration", err)
	}
}

func TestTestEventCarriesState(t *testing.T) {
	app := newHandlerApp(t,
		map[string]any{"counter": 0},
		map[string]any{"increment": increment},
		button("btn", map[string]string{"ss-click": "increment"}),
	)
	ev := NewTestEvent("ss-click", "btn").WithPayload(map[string]any{})

	first, err := TestEvent(app, ev.Event())
	if err != nil {
		t.Fatalf("TestEvent() error = %v", err)
	}
	second, err := TestEventInSession(context.Background(), first.Session, ev.Event())
	if err != nil {
		t.Fatalf("TestEventInSession() error = %v", err)
	}
	if v, _ := second.Mutation("+counter"); v != 2 {
		t.Errorf("+counter = %v, want 2", v)
	}
	if !second.HasMutation("+counter") || second.HasMutation("+other") {
		t.Errorf("HasMutation() wrong for %v", second.Mutations)
	}
}

func TestResultMailHelpers(t *testing.T) {
	app := newHandlerApp(t, nil,
		map[string]any{"notify": func(state *RootState) {
			state.AddNotification(NotifyInfo, "Saved", "All good")
			state.AddNotification(NotifyWarning, "Careful", "")
		}},
		button("btn", map[string]string{"ss-click": "notify"}),
	)

	res, err := NewTestEvent("ss-click", "btn").WithPayload(map[string]any{}).Execute(app)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(res.MailOf(MailNotification)); got != 2 {
		t.Errorf("MailOf(notification) = %d items, want 2", got)
	}
	if !res.HasNotification(NotifyInfo, "Saved") {
		t.Error("HasNotification(info, Saved) = false")
	}
	if res.HasNotification(NotifyError, "Saved") {
		t.Error("HasNotification() matched the wrong level")
	}
	if res.HasLogEntry("Saved") {
		t.Error("HasLogEntry() matched a notification")
	}
}

func TestExecuteInNilSession(t *testing.T) {
	if _, err := NewTestEvent("ss-click", "btn").ExecuteIn(nil); !IsDispatch(err) {
		t.Errorf("ExecuteIn(nil) error = %v, want ErrDispatch", err)
	}
}

func TestFlushJSON(t *testing.T) {
	st, err := NewState(nil, map[string]any{"a": 1})
	if err != nil {
		t.Fatal(err)
	}
	got, err := FlushJSON(st)
	if err != nil {
		t.Fatal(err)
	}
	if got != `{"+a":1}` {
		t.Errorf("FlushJSON() = %s", got)
	}
	if got, _ = FlushJSON(st); got != `{}` {
		t.Errorf("second FlushJSON() = %s, want {}", got)
	}
}

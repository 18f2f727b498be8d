package statesync

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestNewSessionIDs(t *testing.T) {
	app := newHandlerApp(t, nil, nil)

	s, err := app.Sessions.NewSession(nil, nil, "")
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	if !sessionIDPattern.MatchString(s.ID()) {
		t.Errorf("generated ID %q is not 64 hex characters", s.ID())
	}

	proposed := strings.Repeat("ab", SessionTokenBytes)
	s2, err := app.Sessions.NewSession(nil, nil, proposed)
	if err != nil {
		t.Fatalf("NewSession(proposed) error = %v", err)
	}
	if s2.ID() != proposed {
		t.Errorf("ID = %q, want proposed %q", s2.ID(), proposed)
	}

	for _, bad := range []string{"short", strings.Repeat("zz", SessionTokenBytes), strings.Repeat("a", SessionTokenBytes*2+1)} {
		if _, err := app.Sessions.NewSession(nil, nil, bad); !IsSessionRejected(err) {
			t.Errorf("NewSession(%q) error = %v, want ErrSessionRejected", bad, err)
		}
	}

	if got, ok := app.Sessions.Get(proposed); !ok || got != s2 {
		t.Error("Get() did not return the proposed session")
	}
	if app.Sessions.Len() != 2 {
		t.Errorf("Len() = %d, want 2", app.Sessions.Len())
	}
}

func TestSessionVerifiers(t *testing.T) {
	app := newHandlerApp(t, nil, nil)
	app.Sessions.AddVerifier(func(cookies, headers map[string]string) bool {
		return headers["x-token"] == "secret"
	})

	if _, err := app.Sessions.NewSession(nil, map[string]string{"x-token": "wrong"}, ""); !IsSessionRejected(err) {
		t.Errorf("NewSession() error = %v, want ErrSessionRejected", err)
	}
	s, err := app.Sessions.NewSession(map[string]string{"c": "1"}, map[string]string{"x-token": "secret"}, "")
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	if info := s.Info(); info.Cookies["c"] != "1" || info.Headers["x-token"] != "secret" {
		t.Errorf("Info() = %+v", info)
	}
}

func TestSessionStartsClean(t *testing.T) {
	initial := MustRootState(nil, map[string]any{"counter": 1, "nested": map[string]any{"a": 1}})
	initial.ImportScript("s", "/s.js")
	app := NewApp(quietConfig(), initial, nil)

	s, err := app.Sessions.NewSession(nil, nil, "")
	if err != nil {
		t.Fatal(err)
	}
	u, err := s.Flush()
	if err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if u.Mutations.Len() != 0 {
		t.Errorf("new session has pending mutations %v", u.Mutations)
	}
	if len(u.Mail) != 1 || u.Mail[0].Type != MailImportScript {
		t.Errorf("initial mail not carried over: %+v", u.Mail)
	}
	if len(initial.Mail()) != 1 {
		t.Error("session flush drained the initial state's mail")
	}

	snap, err := s.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if got := payloadJSON(t, snap); got != `{"counter":1,"nested":{"a":1}}` {
		t.Errorf("Snapshot() = %s", got)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	app := newHandlerApp(t,
		map[string]any{"counter": 0},
		map[string]any{"increment": increment},
		button("btn", map[string]string{"ss-click": "increment"}),
	)
	a, _ := app.Sessions.NewSession(nil, nil, "")
	b, _ := app.Sessions.NewSession(nil, nil, "")

	ev := NewTestEvent("ss-click", "btn").WithPayload(map[string]any{})
	ev.ExecuteIn(a)
	ev.ExecuteIn(a)
	ev.ExecuteIn(b)

	if got := GetAs[int](a.State(), "counter"); got != 2 {
		t.Errorf("session a counter = %d, want 2", got)
	}
	if got := GetAs[int](b.State(), "counter"); got != 1 {
		t.Errorf("session b counter = %d, want 1", got)
	}
}

func TestSessionHandleSerialised(t *testing.T) {
	app := newHandlerApp(t,
		map[string]any{"counter": 0},
		map[string]any{"increment": increment},
		button("btn", map[string]string{"ss-click": "increment"}),
	)
	s, _ := app.Sessions.NewSession(nil, nil, "")

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ev := NewTestEvent("ss-click", "btn").WithPayload(map[string]any{}).Event()
			if _, _, err := s.HandleAndFlush(context.Background(), &ev); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if got := GetAs[int](s.State(), "counter"); got != n {
		t.Errorf("counter = %d, want %d", got, n)
	}
}

func TestSessionPrune(t *testing.T) {
	app := newHandlerApp(t, nil, nil)
	now := time.Unix(1_700_000_000, 0)
	app.Sessions.now = func() time.Time { return now }

	idle, _ := app.Sessions.NewSession(nil, nil, "")
	active, _ := app.Sessions.NewSession(nil, nil, "")

	now = now.Add(app.Config.IdleTimeout() - time.Minute)
	active.Touch()
	now = now.Add(2 * time.Minute)

	if got := app.Sessions.Prune(); got != 1 {
		t.Errorf("Prune() = %d, want 1", got)
	}
	if _, ok := app.Sessions.Get(idle.ID()); ok {
		t.Error("idle session survived pruning")
	}
	if _, ok := app.Sessions.Get(active.ID()); !ok {
		t.Error("active session was pruned")
	}
	if !active.LastActive().Equal(now.Add(-2 * time.Minute)) {
		t.Errorf("LastActive() = %v", active.LastActive())
	}
}

func TestSessionCloseAndClear(t *testing.T) {
	app := newHandlerApp(t, nil, nil)
	a, _ := app.Sessions.NewSession(nil, nil, "")
	app.Sessions.NewSession(nil, nil, "")

	app.Sessions.Close(a.ID())
	app.Sessions.Close("unknown")
	if app.Sessions.Len() != 1 {
		t.Errorf("Len() after Close = %d, want 1", app.Sessions.Len())
	}
	app.Sessions.ClearAll()
	if app.Sessions.Len() != 0 {
		t.Errorf("Len() after ClearAll = %d, want 0", app.Sessions.Len())
	}
}

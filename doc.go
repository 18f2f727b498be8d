// Package statesync is the backend runtime of a reactive application
// framework: it tracks mutations to application state, serialises state
// diffs for a browser frontend, and dispatches frontend events back into
// Go handlers.
//
// # Core Concepts
//
// State lives in a StateProxy, an insertion-ordered mapping that records a
// "+key" marker for every assignment and a "-key" marker for every
// deletion since the last flush. Nested proxies are owned by their parent.
// A State wraps exactly one proxy and describes it with a Schema:
//
//	type Todo struct {
//	    Title string `state:"title"`
//	    Done  bool   `state:"done"`
//	}
//
//	schema := statesync.MustSchemaOf[Todo]()
//	st, err := statesync.NewState(schema, map[string]any{"title": "Write docs"})
//
// Assigning a mapping to a key that is not declared as a map turns it into
// a nested State. Keys starting with "_" are private: they are stored and
// readable by handlers but never serialised or sent in a diff.
//
// # Diffs
//
// FlushMutations produces a flat, ordered object of escaped paths:
//
//	{"+counter": 3, "+user.name": "Ann", "-draft": null}
//
// Dots inside keys are escaped as "\.". Flushing clears the markers, so a
// diff is consumed exactly once. Snapshots (ToDict) are nested objects with
// private keys omitted.
//
// # Root State and Mail
//
// RootState adds a mail queue for one-shot instructions to the frontend:
// notifications, log entries, file downloads, page changes, script and
// stylesheet imports, frontend function calls. Mail is flushed with the
// diff after every event.
//
//	root.AddNotification(statesync.NotifySuccess, "Saved", "Your changes were saved.")
//
// # Events and Handlers
//
// Handlers are plain Go functions registered by name. Their parameters are
// injected by type:
//
//	func increment(state *statesync.RootState, payload statesync.Payload) error {
//	    n := statesync.GetAs[int](state, "counter")
//	    return state.Set("counter", n+1)
//	}
//
//	app.Handlers.MustRegister("increment", increment)
//
// Supported parameter types are context.Context, *RootState, Payload, any,
// EventContext, SessionInfo, *UI and io.Writer. Handlers may return
// nothing, an error, a value, or a value and an error.
//
// Events carry an instance path from the root component to the target. The
// dispatcher transforms the payload for "ss-" event types, applies the
// component's state binding, then calls the handler. Failures never escape
// the dispatcher: they become a "Runtime Error" notification plus a log
// entry, and the event result reports ok: false.
//
// # Expressions
//
// Component content may reference state with "@{expr}" markers. An
// expression is a dotted path with optional bracketed sub-expressions:
//
//	@{user.name}
//	@{items[selected].title}
//
// Inside repeaters, the key and value variables (default "itemId" and
// "item") resolve against the repetition before falling back to state.
//
// # Sessions
//
// Every connected frontend gets a Session holding a clone of the app's
// initial state. Event handling and flushing are serialised per session.
// Idle sessions are pruned by SessionManager.Prune, which the server
// package runs periodically.
//
// # Testing
//
// TestApp and TestEvent run handlers without a transport:
//
//	app, _ := statesync.TestApp(map[string]any{"counter": 0}, map[string]any{"increment": increment})
//	res, _ := statesync.NewTestEvent("ss-click", "btn").Execute(app)
package statesync

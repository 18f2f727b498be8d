package statesync

import (
	"maps"
	"sync"
)

// App bundles what every session of an application shares: configuration,
// handlers, payload transformers, the base component tree and the initial
// state new sessions are cloned from.
type App struct {
	Config   *Config
	Handlers *Registry
	// Transformers may be edited directly before serving; afterwards use
	// RegisterTransformer.
	Transformers Transformers
	Tree         *Tree
	Sessions     *SessionManager

	mu      sync.RWMutex
	initial *RootState
}

// NewApp returns an app. Nil arguments select the defaults: DefaultConfig,
// an empty anonymous initial state and an empty tree.
//
//	app := statesync.NewApp(nil, statesync.MustRootState(nil, map[string]any{"counter": 0}), tree)
//	app.Handlers.MustRegister("increment", increment)
func NewApp(cfg *Config, initial *RootState, tree *Tree) *App {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if initial == nil {
		initial = &RootState{State: newState(nil)}
	}
	if tree == nil {
		tree = NewTree()
	}
	app := &App{
		Config:       cfg,
		Handlers:     NewRegistry(),
		Transformers: DefaultTransformers(),
		Tree:         tree,
		initial:      initial,
	}
	initial.SetConfig(cfg)
	app.Sessions = NewSessionManager(app)
	return app
}

// InitialState returns the state new sessions are cloned from.
func (a *App) InitialState() *RootState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.initial
}

// SetInitialState replaces the initial state. Existing sessions keep
// theirs.
func (a *App) SetInitialState(r *RootState) {
	r.SetConfig(a.Config)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.initial = r
}

// RegisterTransformer adds or replaces the payload transformer for the
// event type name, given without EventPrefix. Sessions created afterwards
// use it.
func (a *App) RegisterTransformer(name string, fn Transformer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Transformers[name] = fn
}

// transformers returns a copy of the transformer set for a new session.
func (a *App) transformers() Transformers {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return maps.Clone(a.Transformers)
}

package statesync

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"sort"
	"sync"
)

type paramKind int

const (
	paramContext paramKind = iota
	paramState
	paramPayload
	paramContextData
	paramSession
	paramUI
	paramWriter
	paramEvent
)

type returnShape int

const (
	returnNone returnShape = iota
	returnError
	returnValue
	returnValueError
)

var (
	contextType      = reflect.TypeFor[context.Context]()
	rootStateType    = reflect.TypeFor[*RootState]()
	payloadType      = reflect.TypeFor[Payload]()
	anyType          = reflect.TypeFor[any]()
	eventContextType = reflect.TypeFor[EventContext]()
	sessionInfoType  = reflect.TypeFor[SessionInfo]()
	uiType           = reflect.TypeFor[*UI]()
	writerType       = reflect.TypeFor[io.Writer]()
	eventType        = reflect.TypeFor[Event]()
	errorType        = reflect.TypeFor[error]()
)

var paramKinds = map[reflect.Type]paramKind{
	contextType:      paramContext,
	rootStateType:    paramState,
	payloadType:      paramPayload,
	anyType:          paramPayload,
	eventContextType: paramContextData,
	sessionInfoType:  paramSession,
	uiType:           paramUI,
	writerType:       paramWriter,
	eventType:        paramEvent,
}

// handlerDef holds a registered handler and its analysed signature.
type handlerDef struct {
	name   string
	fn     reflect.Value
	params []paramKind
	ret    returnShape
}

// Registry maps handler names, as referenced by components, to functions.
//
// Handler parameters are injected by type and may appear in any order:
//
//	context.Context        the caller's context
//	*statesync.RootState   the session state
//	statesync.Payload, any the sanitised event payload
//	statesync.EventContext repeater variables in scope of the target
//	statesync.SessionInfo  ID, cookies and headers of the session
//	*statesync.UI          the session component tree
//	io.Writer              output appended to the app log as "Stdout message"
//	statesync.Event        the event itself
//
// Handlers may return nothing, an error, a value, or a value and an error.
// The value becomes the event result.
//
//	reg.MustRegister("increment", func(state *statesync.RootState) {
//	    state.Set("counter", statesync.GetAs[int](state, "counter")+1)
//	})
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]*handlerDef
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]*handlerDef)}
}

// Register adds fn under name. It fails with ErrConfiguration if fn is not
// a function, declares a parameter the dispatcher cannot provide, or has an
// unsupported result list. Registering a name twice replaces the handler.
func (reg *Registry) Register(name string, fn any) error {
	def, err := analyseHandler(name, fn)
	if err != nil {
		return err
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.handlers[name] = def
	return nil
}

// MustRegister is Register that panics on error.
func (reg *Registry) MustRegister(name string, fn any) {
	if err := reg.Register(name, fn); err != nil {
		panic(err)
	}
}

// Has reports whether a handler is registered under name.
func (reg *Registry) Has(name string) bool {
	_, ok := reg.lookup(name)
	return ok
}

// Names returns the registered names, sorted.
func (reg *Registry) Names() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	names := make([]string, 0, len(reg.handlers))
	for n := range reg.handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (reg *Registry) lookup(name string) (*handlerDef, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	def, ok := reg.handlers[name]
	return def, ok
}

func analyseHandler(name string, fn any) (*handlerDef, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return nil, fmt.Errorf("%w: handler %q must be a function, got %T", ErrConfiguration, name, fn)
	}
	t := v.Type()
	if t.IsVariadic() {
		return nil, fmt.Errorf("%w: handler %q must not be variadic", ErrConfiguration, name)
	}

	def := &handlerDef{name: name, fn: v}
	for i := 0; i < t.NumIn(); i++ {
		kind, ok := paramKinds[t.In(i)]
		if !ok {
			return nil, fmt.Errorf("%w: handler %q: cannot inject parameter %d of type %s", ErrConfiguration, name, i, t.In(i))
		}
		def.params = append(def.params, kind)
	}

	switch t.NumOut() {
	case 0:
		def.ret = returnNone
	case 1:
		if t.Out(0) == errorType {
			def.ret = returnError
		} else {
			def.ret = returnValue
		}
	case 2:
		if t.Out(1) != errorType {
			return nil, fmt.Errorf("%w: handler %q: second result must be error, got %s", ErrConfiguration, name, t.Out(1))
		}
		def.ret = returnValueError
	default:
		return nil, fmt.Errorf("%w: handler %q returns %d values, at most 2 are supported", ErrConfiguration, name, t.NumOut())
	}
	return def, nil
}

// results unpacks the return values of a call according to the handler's
// shape.
func (def *handlerDef) results(out []reflect.Value) (any, error) {
	asErr := func(v reflect.Value) error {
		if v.IsNil() {
			return nil
		}
		return v.Interface().(error)
	}
	switch def.ret {
	case returnError:
		return nil, asErr(out[0])
	case returnValue:
		return out[0].Interface(), nil
	case returnValueError:
		if err := asErr(out[1]); err != nil {
			return nil, err
		}
		return out[0].Interface(), nil
	}
	return nil, nil
}

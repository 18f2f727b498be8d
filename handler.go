package statesync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
)

// EventHandler dispatches events of one session: it sanitises the payload,
// applies the target's binding and runs the target's handler.
type EventHandler struct {
	state    *RootState
	tree     *SessionTree
	registry *Registry
	eval     *Evaluator
	deser    *EventDeserializer
	info     SessionInfo
}

// NewEventHandler returns a dispatcher over the given session resources.
// Nil transformers selects the built-in set.
func NewEventHandler(state *RootState, tree *SessionTree, registry *Registry, transformers Transformers, info SessionInfo) *EventHandler {
	eval := NewEvaluator(state, tree)
	return &EventHandler{
		state:    state,
		tree:     tree,
		registry: registry,
		eval:     eval,
		deser:    NewEventDeserializer(eval, transformers),
		info:     info,
	}
}

// Evaluator returns the evaluator bound to the session.
func (h *EventHandler) Evaluator() *Evaluator { return h.eval }

// Handle processes ev and reports the outcome. It never returns an error
// or panics: failures are turned into an error notification and a log
// entry on the session state, and a result with OK false.
//
// A payload that fails to deserialise stops the event; neither binding
// nor handler runs on it.
func (h *EventHandler) Handle(ctx context.Context, ev *Event) EventResult {
	if err := h.deser.Transform(ev); err != nil {
		h.state.AddNotification(NotifyError, "Error",
			fmt.Sprintf("A deserialisation error occurred when handling event '%s'.", ev.Type))
		h.state.AddLogEntry(LogError, "Deserialisation Failed",
			fmt.Sprintf("The data sent might be corrupt. A runtime exception was raised when deserialising event '%s'.", ev.Type),
			err.Error())
		return EventResult{}
	}

	result, err := h.dispatch(ctx, ev)
	if err == nil {
		result, err = h.state.proxy.serializer().Serialise(result)
	}
	if err != nil {
		h.state.AddNotification(NotifyError, "Runtime Error",
			fmt.Sprintf("An error occurred when processing event '%s'.", ev.Type))
		h.state.AddLogEntry(LogError, "Runtime Exception",
			fmt.Sprintf("A runtime exception was raised when processing event '%s'.", ev.Type),
			errorTrace(err))
		return EventResult{}
	}
	return EventResult{OK: true, Result: result}
}

// panicError carries a recovered panic and the stack it was raised on.
type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

func errorTrace(err error) string {
	var pe *panicError
	if errors.As(err, &pe) {
		return fmt.Sprintf("%v\n\n%s", err, pe.stack)
	}
	return err.Error()
}

// dispatch runs the binding and handler of ev's target. Failures of the
// handler itself, panics included, wrap ErrDispatch.
func (h *EventHandler) dispatch(ctx context.Context, ev *Event) (result any, err error) {
	var name string
	defer func() {
		if p := recover(); p != nil {
			pe := &panicError{value: p, stack: debug.Stack()}
			if name != "" {
				err = fmt.Errorf("%w: handler %q: %w", ErrDispatch, name, pe)
			} else {
				err = fmt.Errorf("%w: event %q: %w", ErrDispatch, ev.Type, pe)
			}
		}
	}()

	target := ev.InstancePath.Target()
	c := h.tree.GetComponent(target)
	if c == nil {
		return nil, fmt.Errorf("%w: target component %q not found", ErrDispatch, target)
	}

	if b := c.Binding; b != nil && b.EventType == ev.Type {
		if err := h.eval.SetState(b.StateRef, ev.InstancePath, ev.Payload); err != nil {
			return nil, err
		}
	}

	name = c.Handlers[ev.Type]
	if name == "" {
		return nil, nil
	}
	def, ok := h.registry.lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: invalid handler, couldn't find the handler %q", ErrDispatch, name)
	}
	result, err = h.call(ctx, def, ev)
	if err != nil {
		return nil, fmt.Errorf("%w: handler %q: %w", ErrDispatch, name, err)
	}
	return result, nil
}

func (h *EventHandler) call(ctx context.Context, def *handlerDef, ev *Event) (any, error) {
	var stdout *bytes.Buffer
	args := make([]reflect.Value, len(def.params))
	for i, p := range def.params {
		var v any
		switch p {
		case paramContext:
			v = ctx
		case paramState:
			v = h.state
		case paramPayload:
			v = ev.Payload
		case paramContextData:
			data, err := h.eval.ContextData(ev.InstancePath)
			if err != nil {
				return nil, err
			}
			v = data
		case paramSession:
			v = h.info
		case paramUI:
			v = NewUI(h.tree)
		case paramWriter:
			if stdout == nil {
				stdout = &bytes.Buffer{}
			}
			v = stdout
		case paramEvent:
			v = *ev
		}
		in := def.fn.Type().In(i)
		if v == nil {
			args[i] = reflect.Zero(in)
		} else {
			args[i] = reflect.ValueOf(v).Convert(in)
		}
	}

	result, err := def.results(def.fn.Call(args))
	if err != nil {
		return nil, err
	}
	if stdout != nil && stdout.Len() > 0 {
		h.state.AddLogEntry(LogInfo, "Stdout message", stdout.String(), "")
	}
	return result, nil
}

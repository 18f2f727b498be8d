package statesync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

// RepeaterType is the component type that renders its children once per
// item of a collection.
const RepeaterType = "repeater"

// Repeater field defaults, used when the component leaves them empty.
const (
	DefaultRepeaterObject = `{ "a": { "desc": "Option A" }, "b": { "desc": "Option B" } }`
	DefaultKeyVariable    = "itemId"
	DefaultValueVariable  = "item"
)

var templateRegex = regexp.MustCompile(`\\?@\{([\w\s.\[\]]*)\}`)

// Evaluator resolves templates and expressions against a session's state
// and component tree. Values sent by the frontend are never trusted as
// expressions; only component content authored in the builder is.
type Evaluator struct {
	state *RootState
	tree  ComponentTree
}

// NewEvaluator returns an evaluator over state and tree.
func NewEvaluator(state *RootState, tree ComponentTree) *Evaluator {
	return &Evaluator{state: state, tree: tree}
}

// EvaluateField returns the content field of the path's target component
// with every @{expression} marker replaced by its value. Markers preceded
// by a backslash are kept as written, backslash included.
//
// An empty or missing field evaluates defaultValue instead. With asJSON,
// values are substituted as JSON and the result is decoded, keeping object
// key order; otherwise strings are inserted as-is, nil as the empty string
// and everything else as JSON.
//
//	// content: {"text": "Hello @{name}!"}, state: {"name": "World"}
//	v, err := ev.EvaluateField(path, "text", false, "") // "Hello World!"
func (e *Evaluator) EvaluateField(path InstancePath, fieldKey string, asJSON bool, defaultValue string) (any, error) {
	id := path.Target()
	c := e.tree.GetComponent(id)
	if c == nil {
		return nil, fmt.Errorf("%w: couldn't acquire a component by ID %q", ErrValidation, id)
	}
	field := c.Content[fieldKey]
	if field == "" {
		field = defaultValue
	}

	var sb strings.Builder
	last := 0
	for _, m := range templateRegex.FindAllStringSubmatchIndex(field, -1) {
		sb.WriteString(field[last:m[0]])
		last = m[1]

		match := field[m[0]:m[1]]
		if match[0] == '\\' {
			sb.WriteString(match)
			continue
		}

		expr := strings.TrimSpace(field[m[2]:m[3]])
		v, err := e.EvaluateExpression(expr, path)
		if err != nil {
			return nil, err
		}
		sv, err := e.state.proxy.serializer().Serialise(v)
		if err != nil {
			return nil, fmt.Errorf("couldn't serialise value of type %T when evaluating field %q: %w", v, fieldKey, err)
		}
		if asJSON {
			b, err := marshalJSON(sv)
			if err != nil {
				return nil, err
			}
			sb.Write(b)
		} else {
			s, err := stringify(sv)
			if err != nil {
				return nil, err
			}
			sb.WriteString(s)
		}
	}
	sb.WriteString(field[last:])

	if !asJSON {
		return sb.String(), nil
	}
	v, err := DecodeJSON([]byte(sb.String()))
	if err != nil {
		return nil, fmt.Errorf("%w: field %q of component %q is not valid JSON: %v", ErrValidation, fieldKey, id, err)
	}
	return v, nil
}

// ContextData returns the repeater variables in scope at path. Each
// repeater along the path binds its key and value variables to the item
// selected by the instance number of the next path step. Objects are
// iterated in key order as sent, lists by index.
func (e *Evaluator) ContextData(path InstancePath) (EventContext, error) {
	ctx := EventContext{}
	for i := range path {
		c := e.tree.GetComponent(path[i].ComponentID)
		if c == nil || c.Type != RepeaterType || i+1 >= len(path) {
			continue
		}
		repeaterPath := path[:i+1]
		n := path[i+1].InstanceNumber

		obj, err := e.EvaluateField(repeaterPath, "repeaterObject", true, DefaultRepeaterObject)
		if err != nil {
			return nil, err
		}
		keyVar, err := e.EvaluateField(repeaterPath, "keyVariable", false, DefaultKeyVariable)
		if err != nil {
			return nil, err
		}
		valueVar, err := e.EvaluateField(repeaterPath, "valueVariable", false, DefaultValueVariable)
		if err != nil {
			return nil, err
		}

		var key, value any
		switch items := obj.(type) {
		case *Object:
			if n < 0 || n >= items.Len() {
				return nil, fmt.Errorf("%w: repeater %q has no instance %d", ErrValidation, c.ID, n)
			}
			key, value = items.At(n)
		case []any:
			if n < 0 || n >= len(items) {
				return nil, fmt.Errorf("%w: repeater %q has no instance %d", ErrValidation, c.ID, n)
			}
			key, value = n, items[n]
		default:
			return nil, fmt.Errorf("%w: cannot produce context, repeater object must evaluate to an object or a list, got %T", ErrValidation, obj)
		}
		ctx[keyVar.(string)] = key
		ctx[valueVar.(string)] = value
	}
	return ctx, nil
}

// SetState writes value at the location expr refers to. Every accessor
// but the last must resolve to a nested state.
func (e *Evaluator) SetState(expr string, path InstancePath, value any) error {
	accessors, err := e.ParseExpression(expr, path)
	if err != nil {
		return err
	}
	if len(accessors) == 0 {
		return fmt.Errorf("%w: empty state reference", ErrValidation)
	}

	var ref any = e.state.State
	for _, a := range accessors[:len(accessors)-1] {
		st, ok := ref.(*State)
		if !ok {
			ref = nil
			break
		}
		ref = st.Get(a)
	}

	st, ok := ref.(*State)
	if !ok {
		return fmt.Errorf("%w: incorrect state reference, %q isn't part of a state", ErrValidation, expr)
	}
	return st.Set(accessors[len(accessors)-1], value)
}

// ParseExpression splits expr into accessor tokens. Dots separate tokens
// outside brackets; a bracketed segment is evaluated as an expression and
// its value, as a string, becomes the token. If the segment resolves to
// nothing its literal text is used.
//
//	// state: {"c": {"d": "x"}}
//	tokens, _ := ev.ParseExpression("a.b[c.d]", nil) // ["a", "b", "x"]
func (e *Evaluator) ParseExpression(expr string, path InstancePath) ([]string, error) {
	var accessors []string
	var s strings.Builder
	level := 0

	for _, c := range expr {
		switch c {
		case '.':
			if level == 0 {
				accessors = append(accessors, s.String())
				s.Reset()
			} else {
				s.WriteRune(c)
			}
		case '[':
			if level == 0 {
				accessors = append(accessors, s.String())
				s.Reset()
			} else {
				s.WriteRune(c)
			}
			level++
		case ']':
			level--
			switch {
			case level < 0:
				return nil, fmt.Errorf("%w: unbalanced brackets in expression %q", ErrValidation, expr)
			case level == 0:
				inner := s.String()
				v, err := e.EvaluateExpression(inner, path)
				if err != nil {
					return nil, err
				}
				token := inner
				if v != nil {
					if token, err = stringify(v); err != nil {
						return nil, err
					}
				}
				s.Reset()
				s.WriteString(token)
			default:
				s.WriteRune(c)
			}
		default:
			s.WriteRune(c)
		}
	}
	if level != 0 {
		return nil, fmt.Errorf("%w: unbalanced brackets in expression %q", ErrValidation, expr)
	}
	if s.Len() > 0 {
		accessors = append(accessors, s.String())
	}
	return accessors, nil
}

// EvaluateExpression resolves expr against the repeater context at path
// and the user state, walking both in parallel. The context value wins
// only when it is truthy: a context value of 0 or "" falls back to the
// state. Nested state values are returned serialised as *Object.
func (e *Evaluator) EvaluateExpression(expr string, path InstancePath) (any, error) {
	var ctxRef any
	if len(path) > 0 {
		ctx, err := e.ContextData(path)
		if err != nil {
			return nil, err
		}
		ctxRef = ctx
	}
	var stateRef any = e.state.proxy

	accessors, err := e.ParseExpression(expr, path)
	if err != nil {
		return nil, err
	}
	for _, a := range accessors {
		stateRef = step(stateRef, a)
		if truthy(ctxRef) {
			ctxRef = step(ctxRef, a)
		}
	}

	result := stateRef
	if truthy(ctxRef) {
		result = ctxRef
	}
	if p, ok := result.(*StateProxy); ok {
		return p.ToDict()
	}
	return result, nil
}

// step reads accessor a from a container, or nil when ref is not one.
func step(ref any, a string) any {
	switch r := ref.(type) {
	case *StateProxy:
		return r.Get(a)
	case *Object:
		v, _ := r.Get(a)
		return v
	case EventContext:
		return r[a]
	case map[string]any:
		return r[a]
	case []any:
		i, err := strconv.Atoi(a)
		if err != nil || i < 0 || i >= len(r) {
			return nil
		}
		return r[i]
	}

	rv := reflect.ValueOf(ref)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil
		}
		v := rv.MapIndex(reflect.ValueOf(a).Convert(rv.Type().Key()))
		if !v.IsValid() {
			return nil
		}
		return v.Interface()
	case reflect.Slice, reflect.Array:
		i, err := strconv.Atoi(a)
		if err != nil || i < 0 || i >= rv.Len() {
			return nil
		}
		return rv.Index(i).Interface()
	}
	return nil
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case *StateProxy:
		return x != nil
	case *Object:
		return x != nil && x.Len() > 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	case reflect.Map, reflect.Slice, reflect.Array, reflect.String:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

func stringify(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	}
	b, err := marshalJSON(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// marshalJSON encodes without HTML escaping, so templates carry "<" and
// "&" through unchanged.
func marshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

package statesync

import (
	"fmt"
	"reflect"
	"sort"
)

// Stater is implemented by *State and by every type embedding it, such as
// RootState and generated typed wrappers.
type Stater interface {
	AsState() *State
}

// State is a schema-aware view over a StateProxy.
//
// Assigning a mapping to a key creates a nested State, typed by the
// schema's declaration for that key or anonymous when the key is not
// declared. Fields declared KindMap keep mappings as plain values.
type State struct {
	proxy    *StateProxy
	schema   *Schema
	children map[string]*State
}

// NewState returns a state of the given schema holding raw. A nil schema
// gives an anonymous state. Raw keys are ingested in sorted order.
func NewState(schema *Schema, raw map[string]any) (*State, error) {
	s := newState(schema)
	if err := s.ingest(ObjectFromMap(raw)); err != nil {
		return nil, err
	}
	return s, nil
}

// NewStateFromObject is NewState that keeps the key order of raw.
func NewStateFromObject(schema *Schema, raw *Object) (*State, error) {
	s := newState(schema)
	if err := s.ingest(raw); err != nil {
		return nil, err
	}
	return s, nil
}

func newState(schema *Schema) *State {
	if schema == nil {
		schema = anonymousSchema
	}
	return &State{
		proxy:    &StateProxy{},
		schema:   schema,
		children: map[string]*State{},
	}
}

// AsState implements Stater.
func (s *State) AsState() *State { return s }

// Schema returns the schema the state was created with.
func (s *State) Schema() *Schema { return s.schema }

// Proxy returns the underlying mutation-tracking container.
func (s *State) Proxy() *StateProxy { return s.proxy }

// SetSerializer sets the serialiser used by this state and its children.
func (s *State) SetSerializer(ser *Serializer) {
	s.proxy.SetSerializer(ser)
	for _, c := range s.children {
		c.SetSerializer(ser)
	}
}

// Ingest replaces the whole content of the state with raw. Keys that were
// present before but are missing from raw are recorded as deletions.
func (s *State) Ingest(raw map[string]any) error {
	return s.ingest(ObjectFromMap(raw))
}

// IngestObject is Ingest that keeps the key order of raw.
func (s *State) IngestObject(raw *Object) error {
	return s.ingest(raw)
}

func (s *State) ingest(raw *Object) error {
	previous := s.proxy.clear()
	s.children = map[string]*State{}

	var err error
	raw.Range(func(k string, v any) bool {
		err = s.Set(k, v)
		return err == nil
	})
	if err != nil {
		return err
	}

	for _, k := range previous {
		if !s.proxy.Contains(k) {
			s.proxy.mark("-" + k)
		}
	}
	return nil
}

// Get returns the value under key. Nested states are returned as *State.
func (s *State) Get(key string) any {
	v, _ := s.Lookup(key)
	return v
}

// Lookup returns the value under key and whether it exists.
func (s *State) Lookup(key string) (any, bool) {
	if c, ok := s.children[key]; ok {
		return c, true
	}
	return s.proxy.Lookup(key)
}

// Child returns the nested state under key, or nil.
func (s *State) Child(key string) *State {
	return s.children[key]
}

// Contains reports whether key is stored.
func (s *State) Contains(key string) bool {
	return s.proxy.Contains(key)
}

// Len returns the number of stored keys.
func (s *State) Len() int { return s.proxy.Len() }

// Keys returns the stored keys in insertion order.
func (s *State) Keys() []string { return s.proxy.Keys() }

// Items returns the stored entries in insertion order, nested states as
// *State.
func (s *State) Items() []Entry {
	items := s.proxy.Items()
	for i, e := range items {
		if c, ok := s.children[e.Key]; ok {
			items[i].Value = c
		}
	}
	return items
}

// Set stores v under key.
//
// Mappings become nested states unless the key is declared KindMap. A
// *State (or anything embedding one) is linked in place and marked in full,
// since its subtree has to be sent again under its new path.
//
// Setting a map on a KindScalar field fails with ErrConfiguration. A bare
// *StateProxy or a map with non-string keys fails with ErrValidation.
func (s *State) Set(key string, v any) error {
	if _, ok := v.(*StateProxy); ok {
		return fmt.Errorf("%w: state proxy for key %q cannot be assigned directly, assign the state instead", ErrValidation, key)
	}

	if _, ok := v.(Stater); ok && isNilPointer(v) {
		v = nil
	}
	if st, ok := v.(Stater); ok && st.AsState() != nil {
		child := st.AsState()
		child.proxy.ApplyMutationMarker(true)
		s.link(key, child)
		return nil
	}

	field, declared := s.schema.Field(key)
	if declared && field.Kind == KindMap {
		delete(s.children, key)
		s.proxy.Set(key, v)
		return nil
	}

	obj, isMapping, err := asMapping(v)
	if err != nil {
		return fmt.Errorf("key %q: %w", key, err)
	}
	if !isMapping {
		delete(s.children, key)
		s.proxy.Set(key, v)
		return nil
	}

	var childSchema *Schema
	if declared {
		switch field.Kind {
		case KindScalar:
			return fmt.Errorf("%w: %s.%s is declared %s and cannot hold a mapping, declare it as a map or state", ErrConfiguration, s.schema.Name(), key, typeLabel(field))
		case KindState:
			childSchema = field.Schema
		}
	}

	child := newState(childSchema)
	child.proxy.ser = s.proxy.ser
	if err := child.ingest(obj); err != nil {
		return fmt.Errorf("key %q: %w", key, err)
	}
	s.link(key, child)
	return nil
}

func (s *State) link(key string, child *State) {
	s.children[key] = child
	s.proxy.Set(key, child.proxy)
}

// Delete removes key. Absent keys are ignored.
func (s *State) Delete(key string) {
	delete(s.children, key)
	s.proxy.Delete(key)
}

// FlushMutations drains pending markers of the whole tree into a diff.
func (s *State) FlushMutations() (*Object, error) { return s.proxy.FlushMutations() }

// ToDict returns a serialised snapshot of the public keys.
func (s *State) ToDict() (*Object, error) { return s.proxy.ToDict() }

// ToRaw returns the stored values as plain nested maps.
func (s *State) ToRaw() map[string]any { return s.proxy.ToRaw() }

// String implements fmt.Stringer.
func (s *State) String() string { return s.proxy.String() }

// GetAs returns the value under key as T, or the zero value when it is
// missing or of another type. Numeric values convert between numeric types,
// so a counter decoded from JSON as float64 reads back as int.
//
//	counter := statesync.GetAs[int](state, "counter")
func GetAs[T any](s Stater, key string) T {
	var zero T
	v := s.AsState().Get(key)
	if t, ok := v.(T); ok {
		return t
	}
	rv := reflect.ValueOf(v)
	tt := reflect.TypeFor[T]()
	if rv.IsValid() && isNumericKind(rv.Kind()) && isNumericKind(tt.Kind()) {
		return rv.Convert(tt).Interface().(T)
	}
	return zero
}

func isNumericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func typeLabel(f *Field) string {
	if f.Type != nil {
		return f.Type.String()
	}
	return f.Kind.String()
}

// asMapping reports whether v is dict-like and returns it as an Object.
// Plain maps are converted with their keys sorted.
func asMapping(v any) (*Object, bool, error) {
	switch m := v.(type) {
	case *Object:
		return m, m != nil, nil
	case map[string]any:
		return ObjectFromMap(m), true, nil
	case map[any]any:
		keys := make([]string, 0, len(m))
		conv := make(map[string]any, len(m))
		for k, e := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false, fmt.Errorf("%w: state keys must be strings, got %T", ErrValidation, k)
			}
			keys = append(keys, ks)
			conv[ks] = e
		}
		sort.Strings(keys)
		obj := NewObject()
		for _, k := range keys {
			obj.Set(k, conv[k])
		}
		return obj, true, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map {
		return nil, false, nil
	}
	if rv.Type().Key().Kind() != reflect.String {
		return nil, false, fmt.Errorf("%w: state keys must be strings, got %s", ErrValidation, rv.Type().Key())
	}
	keys := make([]string, 0, rv.Len())
	for _, k := range rv.MapKeys() {
		keys = append(keys, k.String())
	}
	sort.Strings(keys)
	obj := NewObject()
	for _, k := range keys {
		obj.Set(k, rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key())).Interface())
	}
	return obj, true, nil
}

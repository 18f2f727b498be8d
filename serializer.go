package statesync

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"sync"
	"time"
)

// TimeLayout is the layout used to serialise time.Time values.
const TimeLayout = "2006-01-02 15:04:05.999999-07:00"

// ConvertFunc converts a value the serialiser has no native rule for.
// The returned value is serialised again, so converters may return maps,
// wrappers or any other supported value.
type ConvertFunc func(s *Serializer, v any) (any, error)

// Dicter is implemented by values that know how to present themselves as
// a mapping (chart specifications, records, view models).
type Dicter interface {
	ToDict() map[string]any
}

type ifaceConverter struct {
	iface reflect.Type
	fn    ConvertFunc
}

// Serializer turns application values into JSON-safe values: *Object,
// []any, string, bool, numbers and nil.
//
// Values outside the built-in rules are handled by converters registered
// by qualified type name ("pkg/path.TypeName") or by interface. Images and
// Apache Arrow tables and records are registered by default.
type Serializer struct {
	mu      sync.RWMutex
	byName  map[string]ConvertFunc
	byIface []ifaceConverter
}

// NewSerializer returns a serialiser with the built-in converters.
func NewSerializer() *Serializer {
	s := &Serializer{byName: make(map[string]ConvertFunc)}
	registerBuiltinConverters(s)
	return s
}

var defaultSerializer = NewSerializer()

// DefaultSerializer returns the package-wide serialiser used by states
// that were not given one explicitly.
func DefaultSerializer() *Serializer {
	return defaultSerializer
}

// Register adds a converter for the type with the given qualified name.
//
//	s.Register("github.com/acme/charts.Figure", func(s *statesync.Serializer, v any) (any, error) {
//	    return v.(*charts.Figure).Spec(), nil
//	})
//
// Pointer values are matched against the name of their element type too.
func (s *Serializer) Register(typeName string, fn ConvertFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byName[typeName] = fn
}

// RegisterType is Register keyed by the type of sample.
func (s *Serializer) RegisterType(sample any, fn ConvertFunc) {
	s.Register(QualifiedTypeName(reflect.TypeOf(sample)), fn)
}

// RegisterInterface adds a converter for every value implementing I.
// Interface converters are tried in registration order, after name matches.
func RegisterInterface[I any](s *Serializer, fn ConvertFunc) {
	t := reflect.TypeFor[I]()
	if t.Kind() != reflect.Interface {
		panic(fmt.Sprintf("statesync: RegisterInterface needs an interface type, got %s", t))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byIface = append(s.byIface, ifaceConverter{iface: t, fn: fn})
}

// QualifiedTypeName returns "pkg/path.Name" for named types and the Go
// syntax of the type otherwise.
func QualifiedTypeName(t reflect.Type) string {
	if t == nil {
		return "nil"
	}
	if t.Name() != "" && t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}

func (s *Serializer) lookup(v any) ConvertFunc {
	t := reflect.TypeOf(v)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ; t != nil; t = elemOf(t) {
		if fn, ok := s.byName[QualifiedTypeName(t)]; ok {
			return fn
		}
	}
	vt := reflect.TypeOf(v)
	for _, c := range s.byIface {
		if vt.Implements(c.iface) {
			return c.fn
		}
	}
	return nil
}

// isNilPointer reports whether v is a typed nil pointer, which would
// otherwise reach methods like AsState or DataURL with a nil receiver.
func isNilPointer(v any) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}

func elemOf(t reflect.Type) reflect.Type {
	if t.Kind() == reflect.Pointer {
		return t.Elem()
	}
	return nil
}

// Serialise converts v into a JSON-safe value, or fails with an error
// wrapping ErrSerialization that names the offending type.
func (s *Serializer) Serialise(v any) (any, error) {
	if isNilPointer(v) {
		return nil, nil
	}
	switch x := v.(type) {
	case nil:
		return nil, nil
	case Stater:
		return x.AsState().proxy.toDict(s)
	case *StateProxy:
		return x.toDict(s)
	case DataURLer:
		return x.DataURL()
	case time.Time:
		return x.Format(TimeLayout), nil
	case []byte:
		return s.Serialise(NewBytesWrapper(x, ""))
	case *Object:
		return s.serialiseObject(x)
	case map[string]any:
		return s.serialiseObject(ObjectFromMap(x))
	case []any:
		return s.serialiseList(x)
	case string, bool:
		return x, nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return x, nil
	case float64:
		return finiteOrNil(x), nil
	case float32:
		return finiteOrNil(float64(x)), nil
	case json.Number:
		return x, nil
	}

	if fn := s.lookup(v); fn != nil {
		converted, err := fn(s, v)
		if err != nil {
			return nil, fmt.Errorf("%w: converting %s: %v", ErrSerialization, QualifiedTypeName(reflect.TypeOf(v)), err)
		}
		return s.Serialise(converted)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		return s.serialiseReflectMap(rv)
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			e, err := s.Serialise(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = e
		}
		return out, nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return finiteOrNil(rv.Float()), nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
	}

	if d, ok := v.(Dicter); ok {
		return s.Serialise(d.ToDict())
	}
	if m, ok := v.(json.Marshaler); ok {
		b, err := m.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrSerialization, QualifiedTypeName(reflect.TypeOf(v)), err)
		}
		return DecodeJSON(b)
	}

	return nil, fmt.Errorf("%w: object of type %s cannot be serialised", ErrSerialization, QualifiedTypeName(reflect.TypeOf(v)))
}

func (s *Serializer) serialiseObject(o *Object) (*Object, error) {
	out := NewObject()
	var err error
	o.Range(func(k string, v any) bool {
		var sv any
		sv, err = s.Serialise(v)
		if err != nil {
			return false
		}
		out.Set(k, sv)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Serializer) serialiseList(l []any) ([]any, error) {
	out := make([]any, len(l))
	for i, e := range l {
		sv, err := s.Serialise(e)
		if err != nil {
			return nil, err
		}
		out[i] = sv
	}
	return out, nil
}

func (s *Serializer) serialiseReflectMap(rv reflect.Value) (*Object, error) {
	type entry struct {
		key string
		val reflect.Value
	}
	entries := make([]entry, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		entries = append(entries, entry{key: fmt.Sprint(iter.Key().Interface()), val: iter.Value()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	out := NewObject()
	for _, e := range entries {
		sv, err := s.Serialise(e.val.Interface())
		if err != nil {
			return nil, err
		}
		out.Set(e.key, sv)
	}
	return out, nil
}

// finiteOrNil maps NaN and infinities to nil, which JSON cannot carry.
func finiteOrNil(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

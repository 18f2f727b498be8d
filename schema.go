package statesync

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"
)

// ReservedFieldKey is the one field key a schema may not declare.
const ReservedFieldKey = "_state_proxy"

// FieldKind says how a declared field treats assigned mappings.
type FieldKind int

const (
	// KindAny fields turn mappings into anonymous nested states.
	KindAny FieldKind = iota
	// KindScalar fields are declared with a concrete non-map type and
	// reject mappings.
	KindScalar
	// KindMap fields keep mappings as plain values.
	KindMap
	// KindState fields turn mappings into nested states of Field.Schema.
	KindState
)

func (k FieldKind) String() string {
	switch k {
	case KindAny:
		return "any"
	case KindScalar:
		return "scalar"
	case KindMap:
		return "map"
	case KindState:
		return "state"
	default:
		return fmt.Sprintf("FieldKind(%d)", int(k))
	}
}

// Field declares one key of a schema.
type Field struct {
	Key    string
	Kind   FieldKind
	Schema *Schema      // nested schema, KindState only
	Type   reflect.Type // declared Go type, if known
}

// Schema describes the declared fields of a state type. Keys that are not
// declared are still accepted and behave like KindAny fields.
type Schema struct {
	name   string
	fields map[string]*Field
	order  []string
}

var anonymousSchema = &Schema{name: "State", fields: map[string]*Field{}}

// NewSchema builds a schema from explicit field declarations.
//
//	profile := statesync.MustSchema("Profile",
//	    statesync.Field{Key: "name", Kind: statesync.KindScalar},
//	)
//	app := statesync.MustSchema("App",
//	    statesync.Field{Key: "profile", Kind: statesync.KindState, Schema: profile},
//	    statesync.Field{Key: "headers", Kind: statesync.KindMap},
//	)
func NewSchema(name string, fields ...Field) (*Schema, error) {
	s := &Schema{name: name, fields: make(map[string]*Field, len(fields))}
	for _, f := range fields {
		if err := s.add(f); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// MustSchema is NewSchema that panics on error, for package-level schema
// declarations.
func MustSchema(name string, fields ...Field) *Schema {
	s, err := NewSchema(name, fields...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schema) add(f Field) error {
	if f.Key == ReservedFieldKey {
		return fmt.Errorf("%w: %s: %q is a reserved key and cannot be declared", ErrConfiguration, s.name, ReservedFieldKey)
	}
	if f.Key == "" {
		return fmt.Errorf("%w: %s: field key must not be empty", ErrConfiguration, s.name)
	}
	if _, dup := s.fields[f.Key]; dup {
		return fmt.Errorf("%w: %s: field %q declared twice", ErrConfiguration, s.name, f.Key)
	}
	if f.Kind == KindState && f.Schema == nil {
		return fmt.Errorf("%w: %s: state field %q has no schema", ErrConfiguration, s.name, f.Key)
	}
	field := f
	s.fields[f.Key] = &field
	s.order = append(s.order, f.Key)
	return nil
}

// Name returns the schema name.
func (s *Schema) Name() string {
	if s == nil {
		return anonymousSchema.name
	}
	return s.name
}

// Field returns the declaration for key.
func (s *Schema) Field(key string) (*Field, bool) {
	if s == nil {
		return nil, false
	}
	f, ok := s.fields[key]
	return f, ok
}

// Fields returns the declared fields in declaration order.
func (s *Schema) Fields() []*Field {
	if s == nil {
		return nil
	}
	out := make([]*Field, len(s.order))
	for i, k := range s.order {
		out[i] = s.fields[k]
	}
	return out
}

var (
	schemaMu    sync.Mutex
	schemaCache = map[reflect.Type]*Schema{}
)

// SchemaOf derives a schema from the exported fields of struct type T.
//
// Field keys come from the `state:"key"` tag, or the lower-cased field
// name when untagged; `state:"-"` skips a field. Map fields keep mappings
// raw, struct (or pointer to struct) fields become nested schemas,
// interface fields accept anything, and every other type is a scalar.
//
//	type Profile struct {
//	    Name string `state:"name"`
//	}
//	type App struct {
//	    Counter int               `state:"counter"`
//	    Profile Profile           `state:"profile"`
//	    Headers map[string]string `state:"headers"`
//	}
//	var AppSchema = statesync.MustSchemaOf[App]()
func SchemaOf[T any]() (*Schema, error) {
	schemaMu.Lock()
	defer schemaMu.Unlock()
	return schemaFor(reflect.TypeFor[T]())
}

// MustSchemaOf is SchemaOf that panics on error.
func MustSchemaOf[T any]() *Schema {
	s, err := SchemaOf[T]()
	if err != nil {
		panic(err)
	}
	return s
}

var timeType = reflect.TypeFor[time.Time]()

// schemaFor must be called with schemaMu held. Recursive types resolve to
// the schema under construction.
func schemaFor(t reflect.Type) (*Schema, error) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: schema type %s is not a struct", ErrConfiguration, t)
	}
	if s, ok := schemaCache[t]; ok {
		return s, nil
	}

	s := &Schema{name: t.Name(), fields: map[string]*Field{}}
	schemaCache[t] = s

	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		key, skip := fieldKey(sf)
		if skip {
			continue
		}

		f := Field{Key: key, Type: sf.Type, Kind: KindScalar}
		ft := sf.Type
		if ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		switch {
		case ft.Kind() == reflect.Map:
			f.Kind = KindMap
		case ft.Kind() == reflect.Interface:
			f.Kind = KindAny
		case ft.Kind() == reflect.Struct && ft != timeType:
			nested, err := schemaFor(ft)
			if err != nil {
				delete(schemaCache, t)
				return nil, err
			}
			f.Kind = KindState
			f.Schema = nested
		}

		if err := s.add(f); err != nil {
			delete(schemaCache, t)
			return nil, err
		}
	}
	return s, nil
}

func fieldKey(sf reflect.StructField) (key string, skip bool) {
	tag, ok := sf.Tag.Lookup("state")
	if !ok {
		return strings.ToLower(sf.Name), false
	}
	name := strings.Split(tag, ",")[0]
	if name == "-" {
		return "", true
	}
	if name == "" {
		return strings.ToLower(sf.Name), false
	}
	return name, false
}

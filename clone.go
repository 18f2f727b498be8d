package statesync

import (
	"bytes"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/jinzhu/copier"
)

// Clone returns an independent deep copy of the root state and its mail,
// with the same schema, serialiser and configuration. Every key of the
// clone is marked as added.
//
// Clone never fails. If the tree holds something that cannot be copied,
// such as a function or a channel, it returns an empty root state whose
// only mail is an error log entry describing the problem.
func (r *RootState) Clone() *RootState {
	c, err := r.clone()
	if err == nil {
		return c
	}
	sub := &RootState{State: newState(nil), config: r.config}
	sub.AddLogEntry(LogError,
		"Cannot clone state",
		"The state may contain values that cannot be copied, such as functions or channels.",
		err.Error())
	return sub
}

func (r *RootState) clone() (c *RootState, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrUncloneable, p)
		}
	}()

	raw, err := deepCopy(r.proxy.rawObject())
	if err != nil {
		return nil, err
	}
	mail := make([]Mail, len(r.mail))
	for i, m := range r.mail {
		p, err := deepCopy(m.Payload)
		if err != nil {
			return nil, fmt.Errorf("mail %d: %w", i, err)
		}
		mail[i] = Mail{Type: m.Type, Payload: p}
	}

	st := newState(r.schema)
	st.proxy.ser = r.proxy.ser
	if err := st.ingest(raw.(*Object)); err != nil {
		return nil, err
	}
	return &RootState{State: st, mail: mail, config: r.config}, nil
}

// deepCopy copies v so that no mutable memory is shared with the result.
// Values with unexported fields are shared as they cannot be rebuilt from
// outside their package.
func deepCopy(v any) (any, error) {
	if err := checkCloneable(reflect.ValueOf(v), "", map[uintptr]bool{}); err != nil {
		return nil, err
	}
	return copyValue(v)
}

func checkCloneable(rv reflect.Value, path string, seen map[uintptr]bool) error {
	switch rv.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		if path == "" {
			path = "value"
		}
		return fmt.Errorf("%w: %s holds a %s", ErrUncloneable, path, rv.Type())
	case reflect.Pointer:
		if rv.IsNil() || seen[rv.Pointer()] {
			return nil
		}
		seen[rv.Pointer()] = true
		return checkCloneable(rv.Elem(), path, seen)
	case reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return checkCloneable(rv.Elem(), path, seen)
	case reflect.Map:
		iter := rv.MapRange()
		for iter.Next() {
			if err := checkCloneable(iter.Value(), joinPath(path, fmt.Sprint(iter.Key())), seen); err != nil {
				return err
			}
		}
	case reflect.Slice:
		if rv.IsNil() || scalarKind(rv.Type().Elem().Kind()) {
			return nil
		}
		if seen[rv.Pointer()] {
			return nil
		}
		seen[rv.Pointer()] = true
		fallthrough
	case reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if err := checkCloneable(rv.Index(i), joinPath(path, strconv.Itoa(i)), seen); err != nil {
				return err
			}
		}
	case reflect.Struct:
		if rv.Type() == objectType {
			return checkObjectCloneable(rv, path, seen)
		}
		for i := 0; i < rv.NumField(); i++ {
			if err := checkCloneable(rv.Field(i), joinPath(path, rv.Type().Field(i).Name), seen); err != nil {
				return err
			}
		}
	}
	return nil
}

var objectType = reflect.TypeFor[Object]()

// checkObjectCloneable walks the entries of an Object by key, so reported
// paths name state keys rather than the fields of its ordered map.
func checkObjectCloneable(rv reflect.Value, path string, seen map[uintptr]bool) error {
	order := rv.FieldByName("kv").FieldByName("Order")
	for i := 0; i < order.Len(); i++ {
		kv := order.Index(i)
		if err := checkCloneable(kv.FieldByName("Value"), joinPath(path, kv.FieldByName("Key").String()), seen); err != nil {
			return err
		}
	}
	return nil
}

func joinPath(path, seg string) string {
	if path == "" {
		return seg
	}
	return path + "." + seg
}

func scalarKind(k reflect.Kind) bool {
	switch k {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return true
	}
	return false
}

func copyValue(v any) (any, error) {
	switch x := v.(type) {
	case nil, string, bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, time.Time:
		return x, nil
	case []byte:
		return bytes.Clone(x), nil
	case *Object:
		if x == nil {
			return x, nil
		}
		out := NewObject()
		var err error
		x.Range(func(k string, e any) bool {
			var c any
			c, err = copyValue(e)
			out.Set(k, c)
			return err == nil
		})
		return out, err
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			c, err := copyValue(e)
			if err != nil {
				return nil, err
			}
			out[k] = c
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			c, err := copyValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	case FunctionCall:
		args, err := copyValue(x.Args)
		if err != nil {
			return nil, err
		}
		x.Args = args.([]any)
		return x, nil
	}

	rv := reflect.ValueOf(v)
	if scalarKind(rv.Kind()) {
		return v, nil
	}
	if opaqueType(rv.Type(), map[reflect.Type]bool{}) {
		return v, nil
	}
	if rv.Kind() == reflect.Struct && !hasReferences(rv.Type(), map[reflect.Type]bool{}) {
		return v, nil
	}

	opt := copier.Option{DeepCopy: true}
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return v, nil
		}
		dst := reflect.New(rv.Type().Elem())
		if err := copier.CopyWithOption(dst.Interface(), v, opt); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrUncloneable, rv.Type(), err)
		}
		return dst.Interface(), nil
	}
	dst := reflect.New(rv.Type())
	if err := copier.CopyWithOption(dst.Interface(), v, opt); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUncloneable, rv.Type(), err)
	}
	return dst.Elem().Interface(), nil
}

// opaqueType reports whether t reaches a struct with unexported fields.
// time.Time is treated as a plain value.
func opaqueType(t reflect.Type, seen map[reflect.Type]bool) bool {
	if seen[t] {
		return false
	}
	seen[t] = true
	switch t.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Array:
		return opaqueType(t.Elem(), seen)
	case reflect.Map:
		return opaqueType(t.Key(), seen) || opaqueType(t.Elem(), seen)
	case reflect.Struct:
		if t == timeType {
			return false
		}
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() || opaqueType(f.Type, seen) {
				return true
			}
		}
	}
	return false
}

// hasReferences reports whether values of t can share memory when copied
// by assignment.
func hasReferences(t reflect.Type, seen map[reflect.Type]bool) bool {
	if seen[t] {
		return false
	}
	seen[t] = true
	switch t.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface:
		return true
	case reflect.Array:
		return hasReferences(t.Elem(), seen)
	case reflect.Struct:
		if t == timeType {
			return false
		}
		for i := 0; i < t.NumField(); i++ {
			if hasReferences(t.Field(i).Type, seen) {
				return true
			}
		}
	}
	return false
}

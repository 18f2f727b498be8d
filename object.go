package statesync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"cogentcore.org/core/base/ordmap"
	"github.com/vmihailenco/msgpack/v5"
)

// Object is a JSON object that keeps its keys in insertion order.
//
// Serialised states, mutation diffs and decoded template values are all
// Objects, so the order in which keys were assigned is the order in which
// the frontend receives them. Repeaters bound to an object iterate it in
// this order, which keeps repetition indices on both sides in agreement.
//
// The zero value is ready to use.
type Object struct {
	kv ordmap.Map[string, any]
}

// NewObject returns an empty Object.
func NewObject() *Object {
	return &Object{}
}

// ObjectFromMap builds an Object from a plain map. Go maps carry no order,
// so keys are added in sorted order to keep output deterministic.
func ObjectFromMap(m map[string]any) *Object {
	o := NewObject()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		o.Set(k, m[k])
	}
	return o
}

// Set stores v under key. Existing keys keep their position.
func (o *Object) Set(key string, v any) {
	o.kv.Add(key, v)
}

// Get returns the value stored under key.
func (o *Object) Get(key string) (any, bool) {
	if o == nil {
		return nil, false
	}
	return o.kv.ValueByKeyTry(key)
}

// Delete removes key, reporting whether it was present.
func (o *Object) Delete(key string) bool {
	if o.kv.Map == nil {
		return false
	}
	return o.kv.DeleteKey(key)
}

// Len returns the number of keys.
func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return o.kv.Len()
}

// Keys returns the keys in insertion order.
func (o *Object) Keys() []string {
	if o == nil {
		return nil
	}
	return o.kv.Keys()
}

// At returns the key and value at position i.
func (o *Object) At(i int) (string, any) {
	kv := o.kv.Order[i]
	return kv.Key, kv.Value
}

// Range calls fn for every entry in order until fn returns false.
func (o *Object) Range(fn func(key string, v any) bool) {
	if o == nil {
		return
	}
	for _, kv := range o.kv.Order {
		if !fn(kv.Key, kv.Value) {
			return
		}
	}
}

// ToMap converts the Object, and any Objects nested inside it, into plain
// maps. Order is lost.
func (o *Object) ToMap() map[string]any {
	if o == nil {
		return nil
	}
	m := make(map[string]any, o.Len())
	o.Range(func(k string, v any) bool {
		m[k] = plainValue(v)
		return true
	})
	return m
}

func plainValue(v any) any {
	switch x := v.(type) {
	case *Object:
		return x.ToMap()
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = plainValue(e)
		}
		return out
	default:
		return v
	}
}

// String implements fmt.Stringer using the JSON encoding.
func (o *Object) String() string {
	b, err := o.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Object(%d keys)", o.Len())
	}
	return string(b)
}

// MarshalJSON writes the object with keys in insertion order.
func (o *Object) MarshalJSON() ([]byte, error) {
	if o == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, kv := range o.kv.Order {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(kv.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(kv.Value)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", kv.Key, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping key order at every level.
func (o *Object) UnmarshalJSON(data []byte) error {
	v, err := DecodeJSON(data)
	if err != nil {
		return err
	}
	src, ok := v.(*Object)
	if !ok {
		return fmt.Errorf("%w: expected a JSON object, got %T", ErrValidation, v)
	}
	*o = Object{}
	src.Range(func(k string, v any) bool {
		o.Set(k, v)
		return true
	})
	return nil
}

// EncodeMsgpack implements msgpack.CustomEncoder so binary frames keep the
// same key order as JSON ones.
func (o *Object) EncodeMsgpack(enc *msgpack.Encoder) error {
	if o == nil {
		return enc.EncodeNil()
	}
	if err := enc.EncodeMapLen(o.Len()); err != nil {
		return err
	}
	for _, kv := range o.kv.Order {
		if err := enc.EncodeString(kv.Key); err != nil {
			return err
		}
		if err := enc.Encode(kv.Value); err != nil {
			return err
		}
	}
	return nil
}

// DecodeMsgpack implements msgpack.CustomDecoder for the top level map.
// Nested maps decode as plain maps.
func (o *Object) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return err
	}
	*o = Object{}
	for i := 0; i < n; i++ {
		k, err := dec.DecodeString()
		if err != nil {
			return err
		}
		v, err := dec.DecodeInterface()
		if err != nil {
			return err
		}
		o.Set(k, v)
	}
	return nil
}

// DecodeJSON decodes a JSON document into Go values, using *Object for
// objects so key order is preserved. Integral numbers become int64 and all
// other numbers float64.
func DecodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeJSONValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after JSON value", ErrValidation)
	}
	return v, nil
}

func decodeJSONValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := NewObject()
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := kt.(string)
				if !ok {
					return nil, fmt.Errorf("%w: object key %v is not a string", ErrValidation, kt)
				}
				v, err := decodeJSONValue(dec)
				if err != nil {
					return nil, err
				}
				obj.Set(key, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return obj, nil
		case '[':
			arr := []any{}
			for dec.More() {
				v, err := decodeJSONValue(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return arr, nil
		}
		return nil, fmt.Errorf("%w: unexpected delimiter %v", ErrValidation, t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		return t.Float64()
	default:
		return t, nil
	}
}

package statesync

import (
	"fmt"
	"sort"
	"strings"

	"cogentcore.org/core/base/ordmap"
)

// PrivatePrefix marks keys that are stored but never serialised or diffed.
const PrivatePrefix = "_"

// Entry is a key and its stored value.
type Entry struct {
	Key   string
	Value any
}

// StateProxy is the mutation-tracking container behind every state.
//
// It stores values in insertion order and records a marker for each key
// that was set ("+key") or deleted ("-key") since the last flush. Nested
// proxies are owned by their parent: the parent only records the key under
// which a child lives, and reads the child's own markers when flushing.
//
// A StateProxy is not safe for concurrent use. FlushMutations is
// destructive, so a proxy must have exactly one flushing consumer; sessions
// serialise access with their own lock.
type StateProxy struct {
	store   ordmap.Map[string, any]
	mutated ordmap.Map[string, struct{}]
	ser     *Serializer
}

// NewStateProxy returns a proxy holding raw. Every ingested key is marked
// as added. Keys are ingested in sorted order since maps carry none.
func NewStateProxy(raw map[string]any) *StateProxy {
	p := &StateProxy{}
	p.Ingest(raw)
	return p
}

// SetSerializer sets the serialiser used by ToDict and FlushMutations.
// Nil restores the default.
func (p *StateProxy) SetSerializer(s *Serializer) {
	p.ser = s
}

func (p *StateProxy) serializer() *Serializer {
	if p.ser == nil {
		return defaultSerializer
	}
	return p.ser
}

// Ingest sets every key of raw, marking each as added.
func (p *StateProxy) Ingest(raw map[string]any) {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		p.Set(k, raw[k])
	}
}

// Get returns the value under key, or nil.
func (p *StateProxy) Get(key string) any {
	return p.store.ValueByKey(key)
}

// Lookup returns the value under key and whether it exists.
func (p *StateProxy) Lookup(key string) (any, bool) {
	return p.store.ValueByKeyTry(key)
}

// Contains reports whether key is stored.
func (p *StateProxy) Contains(key string) bool {
	_, ok := p.store.ValueByKeyTry(key)
	return ok
}

// Len returns the number of stored keys.
func (p *StateProxy) Len() int {
	return p.store.Len()
}

// Keys returns the stored keys in insertion order.
func (p *StateProxy) Keys() []string {
	return p.store.Keys()
}

// Items returns the stored entries in insertion order.
func (p *StateProxy) Items() []Entry {
	items := make([]Entry, 0, p.store.Len())
	for _, kv := range p.store.Order {
		items = append(items, Entry{Key: kv.Key, Value: kv.Value})
	}
	return items
}

// Set stores v under key and marks the key as added.
func (p *StateProxy) Set(key string, v any) {
	p.store.Add(key, v)
	p.mark("+" + key)
}

// Delete removes key if present and marks it as deleted. Absent keys are
// left alone so no spurious deletion reaches the frontend.
func (p *StateProxy) Delete(key string) {
	if !p.Contains(key) {
		return
	}
	p.store.DeleteKey(key)
	p.mark("-" + key)
}

// mark records a marker, replacing the opposite marker for the same key so
// the diff only carries the latest operation.
func (p *StateProxy) mark(marker string) {
	p.mutated.Init()
	opposite := "-" + marker[1:]
	if marker[0] == '-' {
		opposite = "+" + marker[1:]
	}
	p.mutated.DeleteKey(opposite)
	p.mutated.Add(marker, struct{}{})
}

func (p *StateProxy) marked(marker string) bool {
	_, ok := p.mutated.ValueByKeyTry(marker)
	return ok
}

// Mutated returns the pending markers in the order they were recorded.
func (p *StateProxy) Mutated() []string {
	return p.mutated.Keys()
}

// ApplyMutationMarker marks keys as added without changing their values.
// With no keys, every stored key is marked. With recursive, nested proxies
// are marked in full as well, which is needed when a subtree moves to a
// new slot and has to be sent again from scratch.
//
//	p.ApplyMutationMarker(false)            // all top-level keys
//	p.ApplyMutationMarker(false, "counter") // one key
//	p.ApplyMutationMarker(true)             // everything, all the way down
func (p *StateProxy) ApplyMutationMarker(recursive bool, keys ...string) {
	if len(keys) == 0 {
		keys = p.store.Keys()
	}
	for _, k := range keys {
		p.mark("+" + k)
		if !recursive {
			continue
		}
		if child, ok := p.Get(k).(*StateProxy); ok {
			child.ApplyMutationMarker(true)
		}
	}
}

// ClearMutations drops pending markers without producing a diff.
func (p *StateProxy) ClearMutations(recursive bool) {
	p.mutated.Reset()
	if !recursive {
		return
	}
	for _, kv := range p.store.Order {
		if child, ok := kv.Value.(*StateProxy); ok {
			child.ClearMutations(true)
		}
	}
}

// clear removes every key without recording markers and returns the keys
// that were present.
func (p *StateProxy) clear() []string {
	keys := p.store.Keys()
	p.store.Reset()
	return keys
}

// EscapeKey escapes dots so a key can be used as a single path segment.
func EscapeKey(key string) string {
	return strings.ReplaceAll(key, ".", `\.`)
}

func isPrivate(key string) bool {
	return strings.HasPrefix(key, PrivatePrefix)
}

// FlushMutations drains the pending markers into a diff.
//
// The diff maps escaped key paths to serialised values: "+path" carries a
// new value, "-path" (null) a deletion. Nested proxies contribute their own
// entries under "escaped(key).", with their add/delete flag carried to the
// front. Private keys are skipped. Markers are cleared on success, so a
// second flush with no intervening mutations returns an empty diff.
func (p *StateProxy) FlushMutations() (*Object, error) {
	return p.flush(p.serializer())
}

func (p *StateProxy) flush(s *Serializer) (*Object, error) {
	out := NewObject()
	for _, kv := range p.store.Order {
		key := kv.Key
		if isPrivate(key) {
			continue
		}
		escaped := EscapeKey(key)

		if child, ok := kv.Value.(*StateProxy); ok {
			if p.marked("+" + key) {
				out.Set("+"+escaped, nil)
			}
			childMutations, err := child.flush(s)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", key, err)
			}
			childMutations.Range(func(childKey string, v any) bool {
				out.Set(childKey[:1]+escaped+"."+childKey[1:], v)
				return true
			})
			continue
		}

		if !p.marked("+" + key) {
			continue
		}
		sv, err := s.Serialise(kv.Value)
		if err != nil {
			return nil, fmt.Errorf("couldn't serialise value of type %T for key %q: %w", kv.Value, key, err)
		}
		out.Set("+"+escaped, sv)
	}

	for _, m := range p.mutated.Order {
		if m.Key[0] != '-' || isPrivate(m.Key[1:]) {
			continue
		}
		out.Set("-"+EscapeKey(m.Key[1:]), nil)
	}

	p.mutated.Reset()
	return out, nil
}

// ToDict returns a full serialised snapshot, private keys omitted.
func (p *StateProxy) ToDict() (*Object, error) {
	return p.toDict(p.serializer())
}

func (p *StateProxy) toDict(s *Serializer) (*Object, error) {
	out := NewObject()
	for _, kv := range p.store.Order {
		if isPrivate(kv.Key) {
			continue
		}
		sv, err := s.Serialise(kv.Value)
		if err != nil {
			return nil, fmt.Errorf("couldn't serialise value of type %T for key %q: %w", kv.Value, kv.Key, err)
		}
		out.Set(kv.Key, sv)
	}
	return out, nil
}

// ToRaw returns the stored values as plain nested maps, nested proxies
// included and private keys kept. Used to rebuild a state from scratch.
func (p *StateProxy) ToRaw() map[string]any {
	raw := make(map[string]any, p.store.Len())
	for _, kv := range p.store.Order {
		v := kv.Value
		if child, ok := v.(*StateProxy); ok {
			v = child.ToRaw()
		}
		raw[kv.Key] = v
	}
	return raw
}

// rawObject is ToRaw with insertion order kept at every level.
func (p *StateProxy) rawObject() *Object {
	raw := NewObject()
	for _, kv := range p.store.Order {
		v := kv.Value
		if child, ok := v.(*StateProxy); ok {
			v = child.rawObject()
		}
		raw.Set(kv.Key, v)
	}
	return raw
}

// String implements fmt.Stringer.
func (p *StateProxy) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, kv := range p.store.Order {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%q: %v", kv.Key, kv.Value)
	}
	sb.WriteByte('}')
	return sb.String()
}

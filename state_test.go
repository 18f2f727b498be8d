package statesync

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func stateFlush(t *testing.T, s Stater) string {
	t.Helper()
	out, err := FlushJSON(s)
	if err != nil {
		t.Fatalf("FlushJSON() error = %v", err)
	}
	return out
}

var testProfileSchema = MustSchema("Profile",
	Field{Key: "name", Kind: KindScalar},
)

var testAppSchema = MustSchema("App",
	Field{Key: "counter", Kind: KindScalar},
	Field{Key: "profile", Kind: KindState, Schema: testProfileSchema},
	Field{Key: "headers", Kind: KindMap},
)

func TestStateSetMapping(t *testing.T) {
	st, err := NewState(testAppSchema, nil)
	if err != nil {
		t.Fatalf("NewState() error = %v", err)
	}

	if err := st.Set("profile", map[string]any{"name": "Ann"}); err != nil {
		t.Fatalf("Set(profile) error = %v", err)
	}
	child, ok := st.Get("profile").(*State)
	if !ok {
		t.Fatalf("Get(profile) = %T, want *State", st.Get("profile"))
	}
	if child.Schema() != testProfileSchema {
		t.Errorf("profile schema = %s, want Profile", child.Schema().Name())
	}

	if err := st.Set("misc", map[string]string{"k": "v"}); err != nil {
		t.Fatalf("Set(misc) error = %v", err)
	}
	if st.Child("misc") == nil || st.Child("misc").Schema().Name() != "State" {
		t.Error("undeclared mapping should become an anonymous state")
	}

	headers := map[string]any{"accept": "text/html"}
	if err := st.Set("headers", headers); err != nil {
		t.Fatalf("Set(headers) error = %v", err)
	}
	if _, ok := st.Get("headers").(map[string]any); !ok {
		t.Errorf("Get(headers) = %T, want map kept raw", st.Get("headers"))
	}

	want := `{"+profile":null,"+profile.name":"Ann","+misc":null,"+misc.k":"v","+headers":{"accept":"text/html"}}`
	if got := stateFlush(t, st); got != want {
		t.Errorf("flush = %s\nwant    %s", got, want)
	}
}

func TestStateSetErrors(t *testing.T) {
	st, _ := NewState(testAppSchema, nil)

	tests := []struct {
		name    string
		key     string
		value   any
		isError func(error) bool
	}{
		{"mapping on scalar field", "counter", map[string]any{"a": 1}, IsConfiguration},
		{"bare proxy", "p", NewStateProxy(nil), IsValidation},
		{"int keys", "m", map[int]any{1: "a"}, IsValidation},
		{"any with int keys", "m", map[any]any{1: "a"}, IsValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := st.Set(tt.key, tt.value); !tt.isError(err) {
				t.Errorf("Set(%q) error = %v", tt.key, err)
			}
		})
	}
}

func TestStateSetStateMarksSubtree(t *testing.T) {
	inner, _ := NewState(nil, map[string]any{"x": 1})
	inner.FlushMutations()

	outer, _ := NewState(nil, nil)
	if err := outer.Set("s", inner); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got, want := stateFlush(t, outer), `{"+s":null,"+s.x":1}`; got != want {
		t.Errorf("flush = %s, want %s", got, want)
	}

	inner.Set("x", 2)
	if got, want := stateFlush(t, outer), `{"+s.x":2}`; got != want {
		t.Errorf("flush after inner change = %s, want %s", got, want)
	}
}

func TestStateSetNilPointers(t *testing.T) {
	st, _ := NewState(nil, nil)
	values := []struct {
		key string
		v   any
	}{
		{"state", (*State)(nil)},
		{"root", (*RootState)(nil)},
		{"file", (*FileWrapper)(nil)},
		{"bytes", (*BytesWrapper)(nil)},
	}
	for _, tt := range values {
		if err := st.Set(tt.key, tt.v); err != nil {
			t.Fatalf("Set(%q, %T) error = %v", tt.key, tt.v, err)
		}
	}
	if st.Child("state") != nil || st.Child("root") != nil {
		t.Error("nil states must not be linked as children")
	}
	if got, want := stateFlush(t, st), `{"+state":null,"+root":null,"+file":null,"+bytes":null}`; got != want {
		t.Errorf("flush = %s, want %s", got, want)
	}
}

func TestStateIngestMarksDeletions(t *testing.T) {
	st, _ := NewState(nil, map[string]any{"a": 1, "b": 2})
	st.FlushMutations()

	if err := st.Ingest(map[string]any{"a": 3}); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if got, want := stateFlush(t, st), `{"+a":3,"-b":null}`; got != want {
		t.Errorf("flush = %s, want %s", got, want)
	}
	if st.Contains("b") {
		t.Error("b should be gone after ingest")
	}
}

func TestStateIngestObjectKeepsOrder(t *testing.T) {
	raw := NewObject()
	raw.Set("zeta", 1)
	raw.Set("alpha", 2)
	st, err := NewStateFromObject(nil, raw)
	if err != nil {
		t.Fatalf("NewStateFromObject() error = %v", err)
	}
	if diff := cmp.Diff([]string{"zeta", "alpha"}, st.Keys()); diff != "" {
		t.Errorf("Keys() mismatch (-want +got):\n%s", diff)
	}
	if got, want := stateFlush(t, st), `{"+zeta":1,"+alpha":2}`; got != want {
		t.Errorf("flush = %s, want %s", got, want)
	}
}

func TestStateDelete(t *testing.T) {
	st, _ := NewState(nil, map[string]any{"p": map[string]any{"n": 1}})
	st.FlushMutations()

	st.Delete("p")
	st.Delete("missing")
	if st.Child("p") != nil {
		t.Error("child should be unlinked")
	}
	if got, want := stateFlush(t, st), `{"-p":null}`; got != want {
		t.Errorf("flush = %s, want %s", got, want)
	}
}

func TestStateItemsAndRaw(t *testing.T) {
	st, _ := NewState(nil, map[string]any{"a": 1, "b": map[string]any{"c": []any{1, 2}}})

	items := st.Items()
	if len(items) != 2 || items[0].Key != "a" {
		t.Fatalf("Items() = %+v", items)
	}
	if _, ok := items[1].Value.(*State); !ok {
		t.Errorf("Items()[1] = %T, want *State", items[1].Value)
	}

	want := map[string]any{"a": 1, "b": map[string]any{"c": []any{1, 2}}}
	if diff := cmp.Diff(want, st.ToRaw()); diff != "" {
		t.Errorf("ToRaw() mismatch (-want +got):\n%s", diff)
	}

	d, err := st.ToDict()
	if err != nil {
		t.Fatalf("ToDict() error = %v", err)
	}
	b, _ := json.Marshal(d)
	if got, want := string(b), `{"a":1,"b":{"c":[1,2]}}`; got != want {
		t.Errorf("ToDict() = %s, want %s", got, want)
	}
}

func TestGetAs(t *testing.T) {
	st, _ := NewState(nil, map[string]any{
		"int":   3,
		"float": 4.0,
		"name":  "Ann",
	})

	if got := GetAs[int](st, "int"); got != 3 {
		t.Errorf("GetAs[int](int) = %d", got)
	}
	if got := GetAs[int](st, "float"); got != 4 {
		t.Errorf("GetAs[int](float) = %d", got)
	}
	if got := GetAs[float64](st, "int"); got != 3 {
		t.Errorf("GetAs[float64](int) = %v", got)
	}
	if got := GetAs[string](st, "name"); got != "Ann" {
		t.Errorf("GetAs[string] = %q", got)
	}
	if got := GetAs[int](st, "name"); got != 0 {
		t.Errorf("GetAs[int](name) = %d, want 0", got)
	}
	if got := GetAs[string](st, "missing"); got != "" {
		t.Errorf("GetAs[string](missing) = %q, want empty", got)
	}
}

func TestStateSerializerPropagates(t *testing.T) {
	ser := NewSerializer()
	ser.RegisterType(point{}, func(*Serializer, any) (any, error) { return "pt", nil })

	st, _ := NewState(nil, map[string]any{"nested": map[string]any{"p": point{}}})
	st.SetSerializer(ser)

	if got, want := stateFlush(t, st), `{"+nested":null,"+nested.p":"pt"}`; got != want {
		t.Errorf("flush = %s, want %s", got, want)
	}
}

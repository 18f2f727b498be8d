package encoding

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

type frame struct {
	Type    string         `json:"type"`
	TrackID int            `json:"trackId"`
	Payload map[string]any `json:"payload"`
}

func TestForSubprotocol(t *testing.T) {
	if ForSubprotocol(MsgpackSubprotocol) != Msgpack {
		t.Error("msgpack subprotocol should select Msgpack")
	}
	if ForSubprotocol("") != JSON {
		t.Error("empty subprotocol should select JSON")
	}
	if ForSubprotocol("unknown") != JSON {
		t.Error("unknown subprotocol should select JSON")
	}
}

func TestCodecsRoundTrip(t *testing.T) {
	in := frame{Type: "event", TrackID: 7, Payload: map[string]any{"value": "hi"}}

	for _, c := range []Codec{JSON, Msgpack} {
		data, err := c.Marshal(in)
		if err != nil {
			t.Fatalf("%T Marshal failed: %v", c, err)
		}
		var out frame
		if err := c.Unmarshal(data, &out); err != nil {
			t.Fatalf("%T Unmarshal failed: %v", c, err)
		}
		if diff := cmp.Diff(in, out); diff != "" {
			t.Errorf("%T round trip mismatch (-want +got):\n%s", c, diff)
		}
	}
}

func TestMsgpackUsesJSONFieldNames(t *testing.T) {
	data, err := Msgpack.Marshal(frame{Type: "keepAlive", TrackID: 1})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var generic map[string]any
	if err := Msgpack.Unmarshal(data, &generic); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if generic["trackId"] != int64(1) {
		t.Errorf("trackId = %#v, want int64(1)", generic["trackId"])
	}
	if generic["type"] != "keepAlive" {
		t.Errorf("type = %#v, want keepAlive", generic["type"])
	}
}

func TestJSONDoesNotEscapeHTML(t *testing.T) {
	data, err := JSON.Marshal(map[string]string{"html": "<b>&</b>"})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if got, want := string(data), `{"html":"<b>&</b>"}`; got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

package channel_test

import (
	"encoding/json"
	"errors"
	"testing"

	"coscribe/internal/channel"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	data, err := channel.Encode(channel.EventDocumentUpdate, channel.DocumentUpdate{
		Update:        []byte{0x01, 0x02},
		CompleteState: []byte{0x03},
		UserID:        "u1",
		RenderedText:  "hello",
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	ev, err := channel.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	upd, ok := ev.(channel.DocumentUpdate)
	if !ok {
		t.Fatalf("decoded %T, want DocumentUpdate", ev)
	}
	if upd.UserID != "u1" || upd.RenderedText != "hello" || len(upd.Update) != 2 {
		t.Fatalf("round trip lost fields: %+v", upd)
	}
}

func TestWireFieldNames(t *testing.T) {
	data, err := channel.Encode(channel.EventForceSave, channel.ForceSave{
		CompleteState: []byte("s"),
		RenderedText:  "text",
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var env struct {
		Event   string         `json:"event"`
		Payload map[string]any `json:"payload"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Event != "force-save" {
		t.Fatalf("event = %q", env.Event)
	}
	for _, field := range []string{"complete_state", "rendered_text"} {
		if _, ok := env.Payload[field]; !ok {
			t.Fatalf("payload missing %q: %v", field, env.Payload)
		}
	}
	// bytes travel as base64 strings
	if _, ok := env.Payload["complete_state"].(string); !ok {
		t.Fatalf("complete_state not a string: %T", env.Payload["complete_state"])
	}
}

func TestDecodeAgentEvents(t *testing.T) {
	cases := []struct {
		raw  string
		want any
	}{
		{`{"event":"agent-chunk","payload":{"node_id":"n1","chunk":"par"}}`,
			channel.AgentChunk{NodeID: "n1", Chunk: "par"}},
		{`{"event":"agent-done","payload":{"node_id":"n1","response":"full"}}`,
			channel.AgentDone{NodeID: "n1", Response: "full"}},
		{`{"event":"agent-error","payload":{"node_id":"n1","error":"boom"}}`,
			channel.AgentError{NodeID: "n1", Error: "boom"}},
		{`{"event":"insert-content","payload":{"content":"pasted"}}`,
			channel.InsertContent{Content: "pasted"}},
	}
	for _, c := range cases {
		ev, err := channel.Decode([]byte(c.raw))
		if err != nil {
			t.Fatalf("decode %s: %v", c.raw, err)
		}
		if ev != c.want {
			t.Fatalf("decoded %+v, want %+v", ev, c.want)
		}
	}
}

func TestDecodeUnknownEvent(t *testing.T) {
	_, err := channel.Decode([]byte(`{"event":"chat-message","payload":{}}`))
	if !errors.Is(err, channel.ErrUnknownEvent) {
		t.Fatalf("err = %v, want ErrUnknownEvent", err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, raw := range []string{"not json", `{"event":"agent-chunk","payload":"nope"}`} {
		if _, err := channel.Decode([]byte(raw)); err == nil {
			t.Fatalf("decode %q succeeded", raw)
		}
	}
}

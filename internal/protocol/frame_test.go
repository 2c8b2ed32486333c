// internal/protocol/frame_test.go
package protocol

import (
	"encoding/json"
	"testing"
)

func TestParseClientFrame(t *testing.T) {
	raw := []byte(`["chat.send_message",{"request_id":1},["hello"],{"room":"lobby"}]`)
	f, err := ParseClientFrame(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Method != "chat.send_message" {
		t.Fatalf("unexpected method %q", f.Method)
	}
	rid, ok := f.RequestIDRaw()
	if !ok || !ValidateRequestID(rid) {
		t.Fatalf("expected valid request_id, got %s", rid)
	}
}

func TestParseClientFrameRejectsWrongShape(t *testing.T) {
	if _, err := ParseClientFrame([]byte(`["only","two"]`)); err == nil {
		t.Fatalf("expected error for a 2-element frame")
	}
}

func TestValidateRequestID(t *testing.T) {
	cases := []struct {
		raw string
		ok  bool
	}{
		{`0`, true},
		{`42`, true},
		{`-1`, false},
		{`"abc-123"`, true},
		{`"has a space"`, false},
		{`null`, false},
	}
	for _, tc := range cases {
		if got := ValidateRequestID(json.RawMessage(tc.raw)); got != tc.ok {
			t.Errorf("ValidateRequestID(%s) = %v, want %v", tc.raw, got, tc.ok)
		}
	}
}

func TestAuthCloseCode(t *testing.T) {
	cases := []struct {
		status int
		want   int
	}{
		{403, 4403},
		{404, 4404},
		{500, 4500},
		{503, 4503},
		{402, CloseInternal},
		{405, CloseInternal},
		{501, CloseInternal},
		{200, CloseInternal},
	}
	for _, tc := range cases {
		if got := AuthCloseCode(tc.status); got != tc.want {
			t.Errorf("AuthCloseCode(%d) = %d, want %d", tc.status, got, tc.want)
		}
	}
}

func TestResultAndErrorFrameShape(t *testing.T) {
	rid := json.RawMessage(`7`)
	frame, err := ResultFrame(rid, json.RawMessage(`{"ok":true}`))
	if err != nil {
		t.Fatalf("ResultFrame: %v", err)
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(frame, &arr); err != nil || len(arr) != 3 {
		t.Fatalf("expected a 3-element array, got %s", frame)
	}

	ef, err := ErrorFrame(rid, ErrKindValidation, map[string]any{"http_error": 400}, "bad input")
	if err != nil {
		t.Fatalf("ErrorFrame: %v", err)
	}
	var meta map[string]json.RawMessage
	if err := json.Unmarshal(ef, &arr); err != nil || len(arr) != 3 {
		t.Fatalf("expected a 3-element array, got %s", ef)
	}
	if err := json.Unmarshal(arr[1], &meta); err != nil {
		t.Fatalf("meta not an object: %v", err)
	}
	if _, ok := meta["error_kind"]; !ok {
		t.Fatalf("expected error_kind in meta")
	}
}

package signaling

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseRejectsMalformed(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  error
	}{
		{"not json", `hello`, ErrNotObject},
		{"empty", ``, ErrNotObject},
		{"array", `[{"type":100}]`, ErrNotObject},
		{"string", `"100"`, ErrNotObject},
		{"truncated", `{"type":100`, ErrNotObject},
		{"missing type", `{"sessionId":"S1"}`, ErrMissingType},
		{"string type", `{"type":"100"}`, ErrMissingType},
		{"float type", `{"type":100.5}`, ErrMissingType},
		{"null type", `{"type":null}`, ErrMissingType},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env, err := Parse([]byte(tc.input))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if env != nil {
				t.Fatal("expected nil envelope")
			}
		})
	}
}

func TestParseReadsIDsAndMembers(t *testing.T) {
	env, err := Parse([]byte(`{"type":103,"ws1Id":"S1","ws2Id":"V1","answer":{"type":"answer","sdp":"v=0"}}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if env.Type != SDPAnswerType {
		t.Fatalf("type = %v", env.Type)
	}
	if env.OwnID != "S1" || env.ViewerID != "V1" {
		t.Fatalf("ids = %q/%q", env.OwnID, env.ViewerID)
	}
	var answer SessionDescription
	if err := env.Decode("answer", &answer); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if answer.SDP != "v=0" {
		t.Fatalf("sdp = %q", answer.SDP)
	}
	if err := env.Decode("offer", &answer); err == nil {
		t.Fatal("expected error for missing member")
	}
	if _, ok := env.String("answer"); ok {
		t.Fatal("object member reported as string")
	}
}

func TestParseNullViewer(t *testing.T) {
	env, err := Parse([]byte(`{"type":108,"ws2Id":null}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if env.ViewerID != "" {
		t.Fatalf("viewer = %q", env.ViewerID)
	}
	if !env.Has(ViewerIDKey) {
		t.Fatal("member should still be present")
	}
}

func TestOutboundMemberOrder(t *testing.T) {
	msg := NewOutbound(SystemErrorType, "S1", "V1").
		Set("message", "boom").
		Set("detail", map[string]int{"code": 3})

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"type":209,"ws1Id":"S1","ws2Id":"V1","message":"boom","detail":{"code":3}}`
	if string(data) != want {
		t.Fatalf("got  %s\nwant %s", data, want)
	}
}

func TestOutboundEmptyViewerIsNull(t *testing.T) {
	data, err := json.Marshal(NewOutbound(SDPOfferType, "S1", ""))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `{"type":203,"ws1Id":"S1","ws2Id":null}` {
		t.Fatalf("got %s", data)
	}
}

func TestOutboundSetReplaces(t *testing.T) {
	msg := NewOutbound(SDPOfferType, "S1", "V1").Set("a", 1).Set("b", 2).Set("a", 3)
	data, _ := json.Marshal(msg)
	if string(data) != `{"type":203,"ws1Id":"S1","ws2Id":"V1","a":3,"b":2}` {
		t.Fatalf("got %s", data)
	}
}

package frame

import (
	"math"
	"testing"

	"github.com/aodvmesh/simnet/core"
)

func TestEncodeParseRoundTrip_RREQ(t *testing.T) {
	f := Frame{
		Kind: KindRREQ, SeqNo: 1, Origin: "127.0.0.1:8000", Sender: "127.0.0.1:8000",
		Dest: "127.0.0.1:8009", Coord: core.Coord{X: 23, Y: 45}, Hop: 0, Distance: 0, Power: core.Inf,
	}
	wire, err := f.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if wire[len(wire)-2:] != "\r\n" {
		t.Fatalf("wire record not CRLF-terminated: %q", wire)
	}
	got, err := Parse(wire)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.Kind != KindRREQ || got.SeqNo != 1 || got.Origin != f.Origin || got.Dest != f.Dest {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if !math.IsInf(got.Power, 1) {
		t.Fatalf("expected power to decode as +Inf, got %v", got.Power)
	}
	if got.Coord != f.Coord {
		t.Fatalf("coord mismatch: got %+v want %+v", got.Coord, f.Coord)
	}
}

func TestEncodeParseRoundTrip_USER(t *testing.T) {
	f := Frame{Kind: KindUser, Origin: "A", Dest: "B", Payload: "PING"}
	wire, err := f.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Parse(wire)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.Payload != "PING" || got.Origin != "A" || got.Dest != "B" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestEncode_RejectsPipeInPayload(t *testing.T) {
	f := Frame{Kind: KindUser, Origin: "A", Dest: "B", Payload: "PI|NG"}
	if _, err := f.Encode(); err == nil {
		t.Fatal("expected error for payload containing '|'")
	}
}

func TestParse_MalformedRecord(t *testing.T) {
	cases := []string{
		"",
		"BOGUS|1|2|3|\r\n",
		"RREQ|not-a-number|o|s|d|1,2|0|0|999|\r\n",
		"USER|only|two|\r\n",
	}
	for _, c := range cases {
		if _, err := Parse(c); err == nil {
			t.Errorf("Parse(%q): expected error, got nil", c)
		}
	}
}

func TestPowerEncodesInfAsLiteral999(t *testing.T) {
	f := Frame{Kind: KindRREQ, Origin: "a", Sender: "a", Dest: "b", Power: core.Inf}
	wire, err := f.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !containsField(wire, "999") {
		t.Fatalf("expected literal 999 for +Inf power, got %q", wire)
	}
}

func containsField(s, field string) bool {
	for _, f := range splitFields(s) {
		if f == field {
			return true
		}
	}
	return false
}

func splitFields(s string) []string {
	var fields []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '|' {
			fields = append(fields, s[start:i])
			start = i + 1
		}
	}
	return fields
}

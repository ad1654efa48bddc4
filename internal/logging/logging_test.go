package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/geekscape/aiko-services/internal/sexp"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"ERROR":   LevelError,
		"warning": LevelWarning,
		"WARN":    LevelWarning,
		"Debug":   LevelDebug,
		"":        LevelInfo,
		"bogus":   LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseBusMode(t *testing.T) {
	if ParseBusMode("all") != BusModeAll {
		t.Error("all should select BusModeAll")
	}
	if ParseBusMode("true") != BusModeBusOnly {
		t.Error("true should select BusModeBusOnly")
	}
	if ParseBusMode("false") != BusModeConsoleOnly {
		t.Error("false should select BusModeConsoleOnly")
	}
}

func TestEmitWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: LevelDebug, JSONOutput: true, Output: &buf})
	Emit(log, Record{Level: LevelInfo, Kind: "FrameError", Topic: "aiko/h/1/1/in", StreamID: 7, FrameID: 2, Message: "boom"})

	out := buf.String()
	for _, want := range []string{`"kind":"FrameError"`, `"topic":"aiko/h/1/1/in"`, `"stream_id":7`, `"frame_id":2`, `"message":"boom"`} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestEmitAlwaysIncludesZeroStreamAndFrameID(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: LevelDebug, JSONOutput: true, Output: &buf})
	Emit(log, Record{Level: LevelInfo, Kind: "log", Topic: "aiko/h/1/1/in", StreamID: 0, FrameID: 0, Message: "first frame"})

	out := buf.String()
	for _, want := range []string{`"stream_id":0`, `"frame_id":0`} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q for the very first stream/frame", out, want)
		}
	}
}

func TestEncodeRoundTripsThroughSexp(t *testing.T) {
	r := Record{Level: LevelError, Kind: "LoadError", Topic: "aiko/h/1/1/in", StreamID: 3, FrameID: 9, Message: "missing module"}
	text := Encode(r)
	if !strings.Contains(text, "level: ERROR") {
		t.Errorf("encoded record %q missing level", text)
	}
	if !strings.Contains(text, `message: "missing module"`) {
		t.Errorf("encoded record %q missing message", text)
	}
	v, err := sexp.Parse(text)
	if err != nil || v.Kind != sexp.KindMap {
		t.Fatalf("encoded record %q does not parse back to a map: %v", text, err)
	}
	if msg, ok := v.Map.Get("message"); !ok || msg.String != r.Message {
		t.Errorf("parsed message = %v, want %q", msg, r.Message)
	}
}

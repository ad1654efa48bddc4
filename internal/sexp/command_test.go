package sexp

import "testing"

func TestParseCommandPositional(t *testing.T) {
	cmd, err := ParseCommand(`(echo "hi")`)
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Method != "echo" {
		t.Fatalf("method = %q, want echo", cmd.Method)
	}
	if len(cmd.Args) != 1 {
		t.Fatalf("args = %#v, want one", cmd.Args)
	}
	if s, _ := cmd.Args[0].AsString(); s != "hi" {
		t.Fatalf("arg = %q, want hi", s)
	}
}

func TestParseCommandKeyword(t *testing.T) {
	cmd, err := ParseCommand("(process_frame (stream_id: 0 frame_id: 0) (a: 0))")
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Method != "process_frame" {
		t.Fatalf("method = %q", cmd.Method)
	}
	if len(cmd.Args) != 1 {
		t.Fatalf("args = %#v, want the stream/frame id map as one positional arg", cmd.Args)
	}
	if cmd.Kw == nil {
		t.Fatal("expected trailing kw map")
	}
	a, ok := cmd.Kw.Get("a")
	if !ok || !a.Equal(Int(0)) {
		t.Fatalf("kw a = %#v", a)
	}
}

func TestCommandEncodeDecodeRoundTrip(t *testing.T) {
	kw := NewOrderedMap()
	kw.Set(Sym("reply_to"), Str("aiko/h/1/1/out"))
	cmd := Command{Method: "echo", Args: []Value{Str("hi")}, Kw: kw}
	text := cmd.Encode()
	got, err := ParseCommand(text)
	if err != nil {
		t.Fatalf("ParseCommand(%q) error: %v", text, err)
	}
	if got.Method != cmd.Method {
		t.Errorf("method = %q, want %q", got.Method, cmd.Method)
	}
	if v, ok := got.KwString("reply_to"); !ok || v != "aiko/h/1/1/out" {
		t.Errorf("reply_to = %q, ok=%v", v, ok)
	}
}

func TestReply(t *testing.T) {
	text := Reply("echo", Str("hi"))
	if text != `(echo "hi")` {
		t.Errorf("got %q", text)
	}
}

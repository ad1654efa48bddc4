package sexp

import "testing"

func TestParseAtoms(t *testing.T) {
	cases := []struct {
		text string
		want Value
	}{
		{"true", Bool(true)},
		{"false", Bool(false)},
		{"null", Null()},
		{"42", Int(42)},
		{"-7", Int(-7)},
		{"3.5", Float(3.5)},
		{"-0.5", Float(-0.5)},
		{"hello", Sym("hello")},
		{`"hi"`, Str("hi")},
		{"'hi'", Str("hi")},
	}
	for _, c := range cases {
		got, err := Parse(c.text)
		if err != nil {
			t.Fatalf("Parse(%q) error: %v", c.text, err)
		}
		if !got.Equal(c.want) {
			t.Errorf("Parse(%q) = %#v, want %#v", c.text, got, c.want)
		}
	}
}

func TestParseEmptyList(t *testing.T) {
	v, err := Parse("()")
	if err != nil {
		t.Fatal(err)
	}
	if v.Kind != KindList || len(v.List) != 0 {
		t.Fatalf("got %#v, want empty list", v)
	}
}

func TestParseZeroKeyMap(t *testing.T) {
	v, err := Parse("(0:)")
	if err != nil {
		t.Fatal(err)
	}
	if v.Kind != KindMap {
		t.Fatalf("got %#v, want map", v)
	}
	val, ok := v.Map.Get("0")
	if !ok || !val.IsNil() {
		t.Fatalf("got %#v, want {0: null}", v)
	}
}

func TestParseKeywordMap(t *testing.T) {
	v, err := Parse("(a: 1 b: 'x')")
	if err != nil {
		t.Fatal(err)
	}
	if v.Kind != KindMap {
		t.Fatalf("got %#v, want map", v)
	}
	a, _ := v.Map.Get("a")
	b, _ := v.Map.Get("b")
	if !a.Equal(Int(1)) {
		t.Errorf("a = %#v, want 1", a)
	}
	if !b.Equal(Str("x")) {
		t.Errorf("b = %#v, want \"x\"", b)
	}
}

func TestParseNestedMixedLists(t *testing.T) {
	v, err := Parse("(A (B D) (C D))")
	if err != nil {
		t.Fatal(err)
	}
	if v.Kind != KindList || len(v.List) != 3 {
		t.Fatalf("got %#v", v)
	}
	if v.List[1].Kind != KindList || len(v.List[1].List) != 2 {
		t.Fatalf("nested list malformed: %#v", v.List[1])
	}
}

func TestParseErrorUnterminatedList(t *testing.T) {
	_, err := Parse("(a b")
	if err == nil {
		t.Fatal("expected error for unterminated list")
	}
	var pe *ParseError
	if !asParseError(err, &pe) {
		t.Fatalf("expected *ParseError, got %T", err)
	}
}

func asParseError(err error, target **ParseError) bool {
	pe, ok := err.(*ParseError)
	if ok {
		*target = pe
	}
	return ok
}

func TestRoundTripValues(t *testing.T) {
	values := []Value{
		Null(),
		Bool(true),
		Bool(false),
		Int(123),
		Int(-4),
		Float(1.5),
		Str("hello world"),
		Str(`with "quotes" and \ backslash`),
		Sym("echo"),
		List(Int(1), Int(2), Int(3)),
		List(Sym("A"), List(Sym("B"), Sym("D")), List(Sym("C"), Sym("D"))),
	}
	for _, v := range values {
		text := Serialize(v)
		got, err := Parse(text)
		if err != nil {
			t.Fatalf("Parse(Serialize(%#v)) error: %v (text=%q)", v, err, text)
		}
		if !got.Equal(v) {
			t.Errorf("round trip mismatch: original %#v, text %q, got %#v", v, text, got)
		}
	}
}

func TestRoundTripMap(t *testing.T) {
	m := NewOrderedMap()
	m.Set(Sym("a"), Int(1))
	m.Set(Sym("b"), Str("x"))
	v := Map(m)
	text := Serialize(v)
	got, err := Parse(text)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(v) {
		t.Errorf("round trip mismatch: text %q, got %#v, want %#v", text, got, v)
	}
}

func TestSemanticRoundTripText(t *testing.T) {
	texts := []string{
		"(echo \"hi\")",
		"(process_frame (stream_id: 0 frame_id: 0) (a: 0))",
		"(create_stream 7 () 10)",
		"(0:)",
	}
	for _, text := range texts {
		v, err := Parse(text)
		if err != nil {
			t.Fatalf("Parse(%q) error: %v", text, err)
		}
		text2 := Serialize(v)
		v2, err := Parse(text2)
		if err != nil {
			t.Fatalf("Parse(Serialize(Parse(%q))) error: %v (text2=%q)", text, err, text2)
		}
		if !v.Equal(v2) {
			t.Errorf("semantic round trip mismatch for %q: %#v vs %#v", text, v, v2)
		}
	}
}

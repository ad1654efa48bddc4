// Package sexp implements the S-expression value model used for every
// control and data payload on the Aiko message bus: parsing textual
// S-expressions into Values and serializing Values back to text.
package sexp

import "fmt"

// Kind tags the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindSymbol
	KindList
	KindMap
)

// Value is a tagged union over the S-expression data model: Null, Bool,
// Int, Float, String, Symbol, List, or Map. Only the field matching Kind
// is meaningful.
type Value struct {
	Kind Kind

	Bool   bool
	Int    int64
	Float  float64
	String string // also holds Symbol's text

	List []Value
	Map  *OrderedMap
}

// OrderedMap preserves insertion order for (k1: v1 k2: v2 …) mappings,
// matching the serialize contract's insertion-order guarantee.
type OrderedMap struct {
	keys   []Value
	values []Value
	index  map[string]int
}

// NewOrderedMap returns an empty map ready for Set.
func NewOrderedMap() *OrderedMap {
	return &OrderedMap{index: make(map[string]int)}
}

// Set inserts or updates key→value, preserving first-seen key order.
func (m *OrderedMap) Set(key, value Value) {
	k := mapKeyString(key)
	if i, ok := m.index[k]; ok {
		m.values[i] = value
		return
	}
	m.index[k] = len(m.keys)
	m.keys = append(m.keys, key)
	m.values = append(m.values, value)
}

// Get looks up a value by its string form of key.
func (m *OrderedMap) Get(key string) (Value, bool) {
	if m == nil {
		return Value{}, false
	}
	i, ok := m.index[key]
	if !ok {
		return Value{}, false
	}
	return m.values[i], true
}

// Len returns the number of entries.
func (m *OrderedMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Each iterates entries in insertion order.
func (m *OrderedMap) Each(fn func(key, value Value)) {
	if m == nil {
		return
	}
	for i, k := range m.keys {
		fn(k, m.values[i])
	}
}

func mapKeyString(v Value) string {
	switch v.Kind {
	case KindString, KindSymbol:
		return v.String
	case KindInt:
		return fmt.Sprintf("%d", v.Int)
	case KindFloat:
		return fmt.Sprintf("%g", v.Float)
	case KindBool:
		return fmt.Sprintf("%t", v.Bool)
	default:
		return ""
	}
}

// Constructors for the common cases callers build by hand.

func Null() Value           { return Value{Kind: KindNull} }
func Bool(b bool) Value     { return Value{Kind: KindBool, Bool: b} }
func Int(i int64) Value     { return Value{Kind: KindInt, Int: i} }
func Float(f float64) Value { return Value{Kind: KindFloat, Float: f} }
func Str(s string) Value    { return Value{Kind: KindString, String: s} }
func Sym(s string) Value    { return Value{Kind: KindSymbol, String: s} }
func List(items ...Value) Value {
	return Value{Kind: KindList, List: items}
}
func Map(m *OrderedMap) Value {
	return Value{Kind: KindMap, Map: m}
}

// Equal reports whether two values hold the same data, recursively.
// Symbol and String are distinguished (round-trip caveat).
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindBool:
		return v.Bool == o.Bool
	case KindInt:
		return v.Int == o.Int
	case KindFloat:
		return v.Float == o.Float
	case KindString, KindSymbol:
		return v.String == o.String
	case KindList:
		if len(v.List) != len(o.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].Equal(o.List[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if v.Map.Len() != o.Map.Len() {
			return false
		}
		equal := true
		v.Map.Each(func(k, val Value) {
			ov, ok := o.Map.Get(mapKeyString(k))
			if !ok || !val.Equal(ov) {
				equal = false
			}
		})
		return equal
	}
	return false
}

// AsInt64 extracts an integer value, accepting a float with no fractional
// part for callers that treat numeric atoms loosely (pipeline parameters).
func (v Value) AsInt64() (int64, bool) {
	switch v.Kind {
	case KindInt:
		return v.Int, true
	case KindFloat:
		if v.Float == float64(int64(v.Float)) {
			return int64(v.Float), true
		}
	}
	return 0, false
}

// AsString extracts a String or Symbol's text.
func (v Value) AsString() (string, bool) {
	if v.Kind == KindString || v.Kind == KindSymbol {
		return v.String, true
	}
	return "", false
}

// IsNil reports whether v is the Null atom.
func (v Value) IsNil() bool { return v.Kind == KindNull }

package sexp

import (
	"strconv"
	"strings"
)

// Serialize is a total function on the value model: every Value produced
// by Parse, or built by hand via the constructors, has a textual form.
func Serialize(v Value) string {
	var sb strings.Builder
	writeValue(&sb, v)
	return sb.String()
}

func writeValue(sb *strings.Builder, v Value) {
	switch v.Kind {
	case KindNull:
		sb.WriteString("null")
	case KindBool:
		if v.Bool {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case KindInt:
		sb.WriteString(strconv.FormatInt(v.Int, 10))
	case KindFloat:
		sb.WriteString(strconv.FormatFloat(v.Float, 'g', -1, 64))
	case KindString:
		writeQuotedString(sb, v.String)
	case KindSymbol:
		sb.WriteString(v.String)
	case KindList:
		sb.WriteByte('(')
		for i, item := range v.List {
			if i > 0 {
				sb.WriteByte(' ')
			}
			writeValue(sb, item)
		}
		sb.WriteByte(')')
	case KindMap:
		sb.WriteByte('(')
		first := true
		v.Map.Each(func(k, val Value) {
			if !first {
				sb.WriteByte(' ')
			}
			first = false
			writeMapKey(sb, k)
			sb.WriteByte(':')
			if !val.IsNil() {
				sb.WriteByte(' ')
				writeValue(sb, val)
			}
		})
		sb.WriteByte(')')
	}
}

func writeMapKey(sb *strings.Builder, k Value) {
	switch k.Kind {
	case KindInt:
		sb.WriteString(strconv.FormatInt(k.Int, 10))
	case KindFloat:
		sb.WriteString(strconv.FormatFloat(k.Float, 'g', -1, 64))
	default:
		sb.WriteString(k.String)
	}
}

func writeQuotedString(sb *strings.Builder, s string) {
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			sb.WriteString("\\\"")
		case '\\':
			sb.WriteString("\\\\")
		case '\n':
			sb.WriteString("\\n")
		default:
			sb.WriteByte(c)
		}
	}
	sb.WriteByte('"')
}

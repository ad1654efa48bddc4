package sexp

import "fmt"

// Command is the decoded form of a wire payload `(method_name arg1 arg2 …
// (kw: val …))`: a method name, positional arguments, and an optional
// trailing keyword mapping.
type Command struct {
	Method string
	Args   []Value
	Kw     *OrderedMap
}

// ParseCommand decodes a command payload. The trailing element, if it is
// a Map, is taken as the keyword arguments; everything else is positional.
func ParseCommand(text string) (Command, error) {
	v, err := Parse(text)
	if err != nil {
		return Command{}, err
	}
	return commandFromValue(v)
}

func commandFromValue(v Value) (Command, error) {
	if v.Kind != KindList || len(v.List) == 0 {
		return Command{}, &ParseError{Reason: "command must be a non-empty list"}
	}
	method, ok := v.List[0].AsString()
	if !ok {
		return Command{}, &ParseError{Reason: "command method name must be a symbol or string"}
	}
	cmd := Command{Method: method}
	rest := v.List[1:]
	if n := len(rest); n > 0 && rest[n-1].Kind == KindMap {
		cmd.Kw = rest[n-1].Map
		rest = rest[:n-1]
	}
	cmd.Args = rest
	return cmd, nil
}

// Encode serializes the command back to wire text.
func (c Command) Encode() string {
	items := make([]Value, 0, len(c.Args)+2)
	items = append(items, Sym(c.Method))
	items = append(items, c.Args...)
	if c.Kw != nil && c.Kw.Len() > 0 {
		items = append(items, Map(c.Kw))
	}
	return Serialize(List(items...))
}

// KwString looks up a keyword argument and coerces it to a string.
func (c Command) KwString(key string) (string, bool) {
	if c.Kw == nil {
		return "", false
	}
	v, ok := c.Kw.Get(key)
	if !ok {
		return "", false
	}
	return v.AsString()
}

// KwInt64 looks up a keyword argument and coerces it to an int64.
func (c Command) KwInt64(key string) (int64, bool) {
	if c.Kw == nil {
		return 0, false
	}
	v, ok := c.Kw.Get(key)
	if !ok {
		return 0, false
	}
	return v.AsInt64()
}

// NewCommand builds a Command from a method name and positional args.
func NewCommand(method string, args ...Value) Command {
	return Command{Method: method, Args: args}
}

// Reply builds the `(method result)` reply payload.
func Reply(method string, result Value) string {
	return Serialize(List(Sym(method), result))
}

// ErrorString is a convenience for turning a ParseError into a stable log
// message, matching the structured field set used elsewhere.
func ErrorString(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%v", err)
}

package pipeline

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/geekscape/aiko-services/internal/sexp"
)

// InspectElement is the built-in pass-through element for
// observing swag values flowing through a pipeline without altering
// them: target "log" (the default), "print", or "file:<path>".
type InspectElement struct {
	name   string
	ports  []string
	target string
	log    zerolog.Logger
}

// NewInspectElement builds the Inspect element, constructed by
// LocalRegistry with the owning Pipeline's logger rather than an
// ambient package-level one.
func NewInspectElement(name string, params map[string]sexp.Value, log zerolog.Logger) (Element, error) {
	e := &InspectElement{name: name, target: "log", log: log}
	if v, ok := params["target"]; ok {
		if s, ok := v.AsString(); ok && s != "" {
			e.target = s
		}
	}
	if v, ok := params["ports"]; ok && v.Kind == sexp.KindList {
		for _, item := range v.List {
			if s, ok := item.AsString(); ok {
				e.ports = append(e.ports, s)
			}
		}
	}
	return e, nil
}

func (e *InspectElement) Name() string { return e.name }

func (e *InspectElement) StartStream(stream *Stream, parameters map[string]sexp.Value) StreamEvent {
	return Okay()
}

func (e *InspectElement) StopStream(stream *Stream) StreamEvent {
	return Okay()
}

func (e *InspectElement) ProcessFrame(stream *Stream, frameID int64, inputs map[string]sexp.Value) (StreamEvent, map[string]sexp.Value, bool) {
	m := sexp.NewOrderedMap()
	if len(e.ports) == 0 {
		for k, v := range inputs {
			m.Set(sexp.Sym(k), v)
		}
	} else {
		for _, k := range e.ports {
			if v, ok := inputs[k]; ok {
				m.Set(sexp.Sym(k), v)
			}
		}
	}
	line := sexp.Serialize(sexp.Map(m))

	switch {
	case e.target == "log":
		e.log.Info().Int64("stream_id", stream.StreamID).Int64("frame_id", frameID).Str("element", e.name).Msg(line)
	case e.target == "print":
		fmt.Println(line)
	case strings.HasPrefix(e.target, "file:"):
		path := strings.TrimPrefix(e.target, "file:")
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			e.log.Warn().Err(err).Str("path", path).Msg("pipeline: inspect: open file failed")
			break
		}
		_, _ = f.WriteString(line + "\n")
		_ = f.Close()
	}

	return Okay(), map[string]sexp.Value{}, true
}

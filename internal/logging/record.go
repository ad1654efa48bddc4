package logging

import "github.com/geekscape/aiko-services/internal/sexp"

// Encode renders a Record as a structured S-expression payload for an
// actor's `log` topic, in "(level kind topic stream_id frame_id message)"
// field order. It only builds the text; nothing in this package sends it.
func Encode(r Record) string {
	m := sexp.NewOrderedMap()
	m.Set(sexp.Sym("level"), sexp.Sym(string(r.Level)))
	m.Set(sexp.Sym("kind"), sexp.Str(r.Kind))
	m.Set(sexp.Sym("topic"), sexp.Str(r.Topic))
	m.Set(sexp.Sym("stream_id"), sexp.Int(r.StreamID))
	m.Set(sexp.Sym("frame_id"), sexp.Int(r.FrameID))
	m.Set(sexp.Sym("message"), sexp.Str(r.Message))
	return sexp.Serialize(sexp.Map(m))
}

// ShouldShipToBus reports whether BusMode selects bus delivery for a
// record, regardless of whether console delivery also happens.
func (m BusMode) ShouldShipToBus() bool {
	return m == BusModeBusOnly || m == BusModeAll
}

// ShouldLogToConsole reports whether BusMode selects console delivery.
func (m BusMode) ShouldLogToConsole() bool {
	return m == BusModeConsoleOnly || m == BusModeAll
}

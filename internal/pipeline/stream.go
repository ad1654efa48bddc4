package pipeline

import (
	"time"

	"github.com/geekscape/aiko-services/internal/sexp"
)

// StreamState tracks a Stream's lifecycle.
type StreamState int

const (
	StreamCreated StreamState = iota
	StreamRunning
	StreamStopping
	StreamStopped
)

// Stream is one independent flow of frames through a pipeline: its own
// parameters, scratch variables, and grace time.
type Stream struct {
	StreamID   int64
	Parameters map[string]sexp.Value
	Variables  map[string]sexp.Value
	GraceTime  time.Duration
	CreatedAt  time.Time
	State      StreamState
}

func newStream(id int64, parameters map[string]sexp.Value, grace time.Duration) *Stream {
	return &Stream{
		StreamID:   id,
		Parameters: parameters,
		Variables:  make(map[string]sexp.Value),
		GraceTime:  grace,
		CreatedAt:  time.Now(),
		State:      StreamCreated,
	}
}

// Frame is one unit of dataflow traveling through a Stream: its swag
// (the accumulated named values produced so far) keyed by port name.
type Frame struct {
	StreamID int64
	FrameID  int64
	Swag     map[string]sexp.Value
}

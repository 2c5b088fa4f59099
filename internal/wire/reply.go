package wire

import "fmt"

// Reply is the outcome of one protocol step.
type Reply struct {
	// Lines are written in order; an empty slice writes nothing.
	Lines []string
	// Close ends the session after the lines are written.
	Close bool
	// Upgrade, when set, replaces the codec before Lines are written.
	Upgrade Codec
}

// Lines builds a reply from response lines.
func Lines(lines ...string) Reply {
	return Reply{Lines: lines}
}

// OK is the plain acknowledgement reply.
func OK() Reply {
	return Lines("ok")
}

// ProtocolError is a recoverable rejection: the reply is written and the
// session continues in its current state.
type ProtocolError struct {
	Reply string
}

func (e *ProtocolError) Error() string {
	return e.Reply
}

// Errorf builds a ProtocolError whose reply is "error <detail>".
func Errorf(format string, args ...any) *ProtocolError {
	return &ProtocolError{Reply: "error " + fmt.Sprintf(format, args...)}
}

// Violation terminates the session. Reply, if non-empty, is written
// before the connection closes. Err carries the underlying cause for logs.
type Violation struct {
	Reply string
	Err   error
}

func (e *Violation) Error() string {
	if e.Err != nil {
		if e.Reply != "" {
			return e.Reply + ": " + e.Err.Error()
		}
		return e.Err.Error()
	}
	return e.Reply
}

func (e *Violation) Unwrap() error {
	return e.Err
}

// Fatalf builds a Violation whose reply is "error <detail>".
func Fatalf(format string, args ...any) *Violation {
	return &Violation{Reply: "error " + fmt.Sprintf(format, args...)}
}

// Abort builds a Violation that closes the session without a reply.
func Abort(err error) *Violation {
	return &Violation{Err: err}
}

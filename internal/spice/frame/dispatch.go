package frame

import "errors"

// ErrFatalMessage is returned by Dispatch.Run when the message type was
// classified Fatal by the channel's selector.
var ErrFatalMessage = errors.New("frame: fatal message type")

// Dispatch is the tagged-sum result a channel's message selector returns
// for each reassembled Message: handle it with a callback, discard its
// bytes silently (an uninteresting but valid message), or treat it as a
// fatal protocol violation.
type Dispatch struct {
	kind    dispatchKind
	handler func(*Message) error
}

type dispatchKind uint8

const (
	dispatchDiscard dispatchKind = iota
	dispatchHandle
	dispatchFatal
)

// Handle wraps fn so the multiplexor invokes it with the reassembled
// Message once Pump returns one.
func Handle(fn func(*Message) error) Dispatch {
	return Dispatch{kind: dispatchHandle, handler: fn}
}

// Discard drops the message's bytes without invoking any handler.
func Discard() Dispatch {
	return Dispatch{kind: dispatchDiscard}
}

// Fatal marks the message type as a protocol violation; the multiplexor
// tears the channel down.
func Fatal() Dispatch {
	return Dispatch{kind: dispatchFatal}
}

// Run applies the dispatch decision to msg, if it carries a handler.
func (d Dispatch) Run(msg *Message) error {
	switch d.kind {
	case dispatchHandle:
		if d.handler != nil {
			return d.handler(msg)
		}
		return nil
	case dispatchFatal:
		return ErrFatalMessage
	default:
		return nil
	}
}

// IsFatal reports whether d marks its message type as a fatal violation.
func (d Dispatch) IsFatal() bool { return d.kind == dispatchFatal }

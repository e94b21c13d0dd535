package diagnostics

import (
	"errors"
	"strings"
)

const (
	colorRed   = "\x1b[31m"
	colorDim   = "\x1b[2m"
	colorReset = "\x1b[0m"
)

// Frame is one entry of call-site context attached to an error.
type Frame struct {
	Name   string
	Detail string
}

// ContextError wraps an error with the call-site context that triggered it.
type ContextError struct {
	Err    error
	Frames []Frame
}

func (e *ContextError) Error() string { return e.Err.Error() }
func (e *ContextError) Unwrap() error { return e.Err }

// WithFrame returns err with a frame attached. Frames accumulate innermost
// first. err itself is never modified, so cached errors keep their trace.
func WithFrame(err error, name, detail string) error {
	if err == nil {
		return nil
	}
	frame := Frame{Name: name, Detail: detail}
	var ce *ContextError
	if !errors.As(err, &ce) {
		return &ContextError{Err: err, Frames: []Frame{frame}}
	}
	frames := make([]Frame, len(ce.Frames), len(ce.Frames)+1)
	copy(frames, ce.Frames)
	inner := err
	if top, ok := err.(*ContextError); ok {
		inner = top.Err
	}
	return &ContextError{Err: inner, Frames: append(frames, frame)}
}

// Format renders err with kind, code, message and call-site context.
// When color is true ANSI escapes highlight the header.
func Format(err error, color bool) string {
	if err == nil {
		return ""
	}
	var b strings.Builder
	header := "Error"
	if code, ok := CodeOf(err); ok {
		header = string(code) + " " + code.Kind()
	}
	if color {
		b.WriteString(colorRed)
	}
	b.WriteString(header)
	if color {
		b.WriteString(colorReset)
	}
	b.WriteString(": ")
	b.WriteString(err.Error())

	var ce *ContextError
	if errors.As(err, &ce) && len(ce.Frames) > 0 {
		b.WriteString("\nStack trace:")
		for _, f := range ce.Frames {
			b.WriteString("\n  at ")
			b.WriteString(f.Name)
			if f.Detail != "" {
				if color {
					b.WriteString(colorDim)
				}
				b.WriteString(" (" + f.Detail + ")")
				if color {
					b.WriteString(colorReset)
				}
			}
		}
	}
	return b.String()
}

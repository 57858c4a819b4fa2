// Package errors provides error wrapping utilities for context-aware error messages
// and the error kinds a conversion run can fail with.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies why a run failed.
type Kind int

const (
	KindUnknown Kind = iota
	KindUnsupportedFormat
	KindIO
	KindDecode
	KindPath
	KindExternalProcess
)

func (k Kind) String() string {
	switch k {
	case KindUnsupportedFormat:
		return "unsupported format"
	case KindIO:
		return "io error"
	case KindDecode:
		return "decode error"
	case KindPath:
		return "path error"
	case KindExternalProcess:
		return "external process error"
	default:
		return "unknown error"
	}
}

// Sentinels for use with errors.Is. Any *Error of the same kind matches.
var (
	ErrUnsupportedFormat = &Error{Kind: KindUnsupportedFormat}
	ErrIO                = &Error{Kind: KindIO}
	ErrDecode            = &Error{Kind: KindDecode}
	ErrPath              = &Error{Kind: KindPath}
	ErrExternalProcess   = &Error{Kind: KindExternalProcess}
)

// Error is a classified failure. Op describes what was being done and Path
// names the file involved, if any.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Path != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Path)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Path == "" && t.Err == nil
}

// E builds a classified error.
func E(kind Kind, op, path string, err error) error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Wrap wraps an error with additional context information.
// If err is nil, it returns nil without wrapping.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}

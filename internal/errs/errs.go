package errs

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindConfiguration       Kind = "configuration"
	KindConnectionExhausted Kind = "connection_exhausted"
	KindRemoteProtocol      Kind = "remote_protocol"
	KindDataIntegrity       Kind = "data_integrity"
	KindParse               Kind = "parse"
)

// Error is the typed error carried across the sync pipeline. Op names the
// operation that failed (e.g. "bulk", "read_watermark").
type Error struct {
	Kind  Kind
	Op    string
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	prefix := string(e.Kind)
	if e.Op != "" {
		prefix += "[" + e.Op + "]"
	}
	switch {
	case e.Msg != "" && e.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", prefix, e.Msg, e.Cause)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %v", prefix, e.Cause)
	default:
		return fmt.Sprintf("%s: %s", prefix, e.Msg)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, op string, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

func Wrap(kind Kind, op string, msg string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Cause: cause}
}

func Configuration(op string, format string, args ...any) *Error {
	return New(KindConfiguration, op, fmt.Sprintf(format, args...))
}

func ConnectionExhausted(op string, attempts int) *Error {
	return New(KindConnectionExhausted, op, fmt.Sprintf("no idle connection after %d attempts", attempts))
}

// RemoteProtocol records a non-success response. Body is kept verbatim for diagnostics.
func RemoteProtocol(op string, status int, body string) *Error {
	return New(KindRemoteProtocol, op, fmt.Sprintf("status %d: %s", status, body))
}

func DataIntegrity(op string, format string, args ...any) *Error {
	return New(KindDataIntegrity, op, fmt.Sprintf(format, args...))
}

func Parse(op string, msg string, cause error) *Error {
	return Wrap(KindParse, op, msg, cause)
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

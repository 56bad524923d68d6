package asset

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind categorizes a per-asset failure.
type ErrorKind int

const (
	// ErrDecodeFailed indicates the source could not be decoded.
	ErrDecodeFailed ErrorKind = iota
	// ErrEncodeFailed indicates the target encoder failed on a decoded image.
	ErrEncodeFailed
	// ErrUnsupportedFormat indicates no optimizer handles the detected format.
	ErrUnsupportedFormat
	// ErrParseFailed indicates malformed stylesheet or script syntax.
	ErrParseFailed
	// ErrCompileFailed indicates the stylesheet preprocessor rejected the source.
	ErrCompileFailed
	// ErrResolutionFailed indicates an import could not be resolved.
	ErrResolutionFailed
	// ErrIOFailure indicates the source or output could not be read or written.
	ErrIOFailure
)

func (k ErrorKind) String() string {
	switch k {
	case ErrDecodeFailed:
		return "DecodeFailed"
	case ErrEncodeFailed:
		return "EncodeFailed"
	case ErrUnsupportedFormat:
		return "UnsupportedFormat"
	case ErrParseFailed:
		return "ParseFailed"
	case ErrCompileFailed:
		return "CompileFailed"
	case ErrResolutionFailed:
		return "ResolutionFailed"
	case ErrIOFailure:
		return "IOFailure"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Recoverable reports whether the original bytes remain a safe output after
// this kind of failure. Encoder failures and unsupported formats leave a
// valid source; the rest mean the source itself is unusable.
func (k ErrorKind) Recoverable() bool {
	return k == ErrEncodeFailed || k == ErrUnsupportedFormat
}

// Span is a 1-based source location.
type Span struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

func (s Span) String() string {
	return fmt.Sprintf("%d:%d", s.Line, s.Column)
}

// Error is a failure scoped to exactly one asset.
type Error struct {
	Key  string
	Kind ErrorKind
	// Format is the image format that was being decoded or encoded.
	Format string
	Span   *Span
	// Specifier is the import that failed to resolve.
	Specifier string
	Err       error
}

func (e *Error) Error() string {
	var sb strings.Builder
	if e.Key != "" {
		sb.WriteString(e.Key)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Kind.String())
	if e.Format != "" {
		sb.WriteString(" (")
		sb.WriteString(e.Format)
		sb.WriteString(")")
	}
	if e.Span != nil {
		sb.WriteString(" at ")
		sb.WriteString(e.Span.String())
	}
	if e.Specifier != "" {
		fmt.Fprintf(&sb, " %q", e.Specifier)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsError extracts an *Error from err. Errors of any other type are wrapped
// as kind so that every failure reaching the pipeline carries a category.
func AsError(err error, kind ErrorKind) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return &Error{Kind: kind, Err: err}
}

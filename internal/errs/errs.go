package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error for the caller and picks the process exit status.
type Kind string

const (
	KindService   Kind = "service"
	KindNotFound  Kind = "not_found"
	KindForbidden Kind = "forbidden"
	KindBadTarget Kind = "bad_target"
	KindBadTag    Kind = "bad_tag"
	KindBadSchema Kind = "bad_schema"
	KindBadConfig Kind = "bad_config"
)

var exitCodes = map[Kind]int{
	KindService:   10,
	KindNotFound:  11,
	KindForbidden: 12,
	KindBadTarget: 20,
	KindBadTag:    21,
	KindBadSchema: 22,
	KindBadConfig: 23,
}

// Error is the closed taxonomy surfaced to whatever runs a job.
type Error struct {
	Kind    Kind
	Message string
	// Targets lists offending targets for bad_target errors.
	Targets []string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Targets) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(e.Targets, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// ExitCode is the suggested process exit status for this error.
func (e *Error) ExitCode() int {
	if c, ok := exitCodes[e.Kind]; ok {
		return c
	}
	return 1
}

func newf(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func Service(err error, format string, args ...any) *Error {
	return newf(KindService, err, format, args...)
}

func NotFound(err error, format string, args ...any) *Error {
	return newf(KindNotFound, err, format, args...)
}

func Forbidden(err error, format string, args ...any) *Error {
	return newf(KindForbidden, err, format, args...)
}

func BadTag(format string, args ...any) *Error { return newf(KindBadTag, nil, format, args...) }

func BadSchema(format string, args ...any) *Error { return newf(KindBadSchema, nil, format, args...) }

func BadConfig(format string, args ...any) *Error { return newf(KindBadConfig, nil, format, args...) }

// BadTarget reports targets the API rejected or the store lacks.
func BadTarget(targets []string, err error, format string, args ...any) *Error {
	e := newf(KindBadTarget, err, format, args...)
	e.Targets = targets
	return e
}

// Is reports whether any error in err's chain has the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

// ExitCode maps err to a process exit status: 0 for nil, 1 for unclassified.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.ExitCode()
	}
	return 1
}

package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by the subsystem that produced it. The batch
// scheduler surfaces kinds in per-item results so operators can tell a
// network fault from bad source data.
type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindStation       Kind = "station"
	KindDownload      Kind = "download"
	KindValidation    Kind = "validation"
	KindProcessing    Kind = "processing"
	KindGeneration    Kind = "generation"
	KindCache         Kind = "cache"
	KindResource      Kind = "resource"
)

// Error is a classified failure. Op names the failing operation and Key
// identifies the affected station, year, or cache entry when known.
type Error struct {
	Kind Kind
	Op   string
	Key  string
	Err  error
}

func (e *Error) Error() string {
	s := e.Op
	if e.Key != "" {
		s += " " + e.Key
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", s, e.Err)
	}
	return fmt.Sprintf("%s: %s failure", s, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err as a classified error.
func E(kind Kind, op, key string, err error) error {
	return &Error{Kind: kind, Op: op, Key: key, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, op, key, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Key: key, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the classification of err, or an empty Kind when err carries
// no classification anywhere in its chain.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return Kind("")
}

// Package errs defines the error vocabulary shared by every storage backend.
//
// Three kinds leave the storage layer: NotFound, Unavailable and Config.
// Backends classify every failure into one of them before returning, so
// callers only ever need errors.Is against the sentinels below.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a storage error for the calling layer.
type Kind int

const (
	// KindUnknown is only reported for a nil error.
	KindUnknown Kind = iota
	// KindNotFound means the key has no stored value.
	KindNotFound
	// KindUnavailable covers transport, I/O, auth and remote-service faults.
	KindUnavailable
	// KindConfig is raised while constructing a backend, never per request.
	KindConfig
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindUnavailable:
		return "unavailable"
	case KindConfig:
		return "config"
	default:
		return "unknown"
	}
}

var (
	// ErrNotFound is returned when a key was never written to the backend.
	ErrNotFound = errors.New("key not found")

	// ErrStorageUnavailable is returned for any failure of the storage medium.
	// The core does not retry; retry policy belongs to the caller.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidConfig is returned when a backend cannot be constructed.
	ErrInvalidConfig = errors.New("invalid storage configuration")
)

// Error is a classified storage failure. The underlying cause is kept for
// logging while errors.Is matches the sentinel of its Kind.
type Error struct {
	Kind    Kind
	Backend string
	Op      string
	Key     string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.sentinel().Error())
	if e.Backend != "" || e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Backend)
		if e.Op != "" {
			if e.Backend != "" {
				b.WriteString(" ")
			}
			b.WriteString(e.Op)
		}
	}
	if e.Key != "" {
		fmt.Fprintf(&b, " %q", e.Key)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel matching this error's Kind.
func (e *Error) Is(target error) bool {
	return target == e.sentinel()
}

func (e *Error) sentinel() error {
	switch e.Kind {
	case KindNotFound:
		return ErrNotFound
	case KindConfig:
		return ErrInvalidConfig
	default:
		return ErrStorageUnavailable
	}
}

// NotFound classifies cause as a missing key.
func NotFound(backend, op, key string, cause error) error {
	return &Error{Kind: KindNotFound, Backend: backend, Op: op, Key: key, Err: cause}
}

// Unavailable classifies cause as a storage medium failure.
func Unavailable(backend, op, key string, cause error) error {
	return &Error{Kind: KindUnavailable, Backend: backend, Op: op, Key: key, Err: cause}
}

// Config builds a construction-time configuration error.
func Config(format string, args ...any) error {
	return &Error{Kind: KindConfig, Err: fmt.Errorf(format, args...)}
}

// KindOf classifies err. Errors that carry no classification, including
// context cancellation and deadline expiry, are reported as KindUnavailable
// so that nothing leaves the storage layer unclassified.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidConfig):
		return KindConfig
	default:
		return KindUnavailable
	}
}

// IsNotFound reports whether err is classified as a missing key.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

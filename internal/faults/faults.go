// Package faults defines the error taxonomy shared across the client.
// Every failure surfaced to a caller carries a class so retry loops, CLI
// exit paths, and remediation hints stay consistent across transports.
package faults

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Class identifies how a failure must be handled by callers.
type Class string

const (
	// AuthRequired indicates no credential could be resolved at all.
	AuthRequired Class = "authentication_required"

	// AuthInvalid indicates a credential was presented and explicitly
	// rejected (401/403). Terminal: never retried by connection loops.
	AuthInvalid Class = "authentication_invalid"

	// Network covers refused connections, resets, DNS failures and
	// timeouts. Retryable with backoff.
	Network Class = "network_error"

	// Server covers upstream 5xx responses. Retryable with backoff.
	Server Class = "server_error"

	// Validation covers malformed caller input. Fails immediately.
	Validation Class = "validation_error"

	// LockTimeout indicates the config lock could not be acquired within
	// the bounded wait. The save attempt fails; state on disk is intact.
	LockTimeout Class = "lock_timeout"

	// Decryption indicates stored secret material failed authenticated
	// decryption (corrupt blob, different machine, or wrong passphrase).
	Decryption Class = "decryption_error"

	// UnknownTool indicates a tool name with no dispatch mapping in the
	// active transport mode.
	UnknownTool Class = "unknown_tool"
)

// Fault is a classified error. Remedy, when set, is a one-line action the
// user can take; the CLI prints it verbatim and nothing parses it.
type Fault struct {
	Class  Class
	Msg    string
	Remedy string
	Err    error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Class, f.Msg, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Class, f.Msg)
}

func (f *Fault) Unwrap() error { return f.Err }

// New creates a classified fault with the default remedy for its class.
func New(class Class, msg string) *Fault {
	return &Fault{Class: class, Msg: msg, Remedy: defaultRemedy(class)}
}

// Newf is New with a formatted message.
func Newf(class Class, format string, args ...interface{}) *Fault {
	return New(class, fmt.Sprintf(format, args...))
}

// Wrap classifies an underlying error while preserving it for errors.Is/As.
func Wrap(class Class, msg string, err error) *Fault {
	return &Fault{Class: class, Msg: msg, Remedy: defaultRemedy(class), Err: err}
}

// WithRemedy overrides the class-default remediation line.
func (f *Fault) WithRemedy(remedy string) *Fault {
	f.Remedy = remedy
	return f
}

func defaultRemedy(class Class) string {
	switch class {
	case AuthRequired:
		return "run 'memctl login' to authenticate"
	case AuthInvalid:
		return "credentials were rejected by the server; run 'memctl login' to re-authenticate"
	case Decryption:
		return "stored credentials cannot be decrypted on this machine; run 'memctl login' again"
	default:
		return ""
	}
}

// ClassOf returns the classification of err, or the empty class when err
// carries no Fault anywhere in its chain.
func ClassOf(err error) Class {
	var f *Fault
	if errors.As(err, &f) {
		return f.Class
	}
	return ""
}

// Is reports whether err is classified as class.
func Is(err error, class Class) bool {
	return ClassOf(err) == class
}

// Retryable reports whether err may be retried with backoff. Classified
// faults decide by class; unclassified errors fall back to transport-level
// signals (timeouts, refused or reset connections, DNS failures).
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if class := ClassOf(err); class != "" {
		return class == Network || class == Server
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// FromStatus classifies an HTTP response status for authenticated API
// calls. Discovery keeps its own diagnostic categories and does not use
// this mapping.
func FromStatus(status int, msg string) *Fault {
	switch {
	case status == 401 || status == 403:
		return Newf(AuthInvalid, "%s (HTTP %d)", msg, status)
	case status == 400 || status == 404 || status == 422:
		return Newf(Validation, "%s (HTTP %d)", msg, status)
	case status >= 500:
		return Newf(Server, "%s (HTTP %d)", msg, status)
	default:
		return Newf(Server, "%s (unexpected HTTP %d)", msg, status)
	}
}

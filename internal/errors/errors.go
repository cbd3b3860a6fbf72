// Package errors classifies failures per the taxonomy in the error
// handling design: Config, Transport, LocalIO, DaemonControl, Policy, and
// ChildProcess. Callers branch on class with errors.As rather than string
// matching.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Class identifies which failure taxonomy bucket an error belongs to.
type Class int

const (
	// Config errors are fatal at startup.
	Config Class = iota
	// Transport errors come from the KVDB RPC or watch stream.
	Transport
	// LocalIO errors come from cache or rendered-file writes.
	LocalIO
	// DaemonControl errors come from reload/restart of a managed daemon.
	DaemonControl
	// Policy errors mark a skipped, malformed policy or threat record.
	Policy
	// ChildProcess errors come from a supervised child process.
	ChildProcess
)

func (c Class) String() string {
	switch c {
	case Config:
		return "config"
	case Transport:
		return "transport"
	case LocalIO:
		return "local_io"
	case DaemonControl:
		return "daemon_control"
	case Policy:
		return "policy"
	case ChildProcess:
		return "child_process"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with its taxonomy class and the
// component that raised it.
type Error struct {
	Class     Class
	Component string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s[%s]: %v", e.Class, e.Component, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a class and the originating component name. Returns
// nil if err is nil, so it is safe to use as `return errors.New(...)`
// at the end of a function.
func New(class Class, component string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Class: class, Component: component, Err: err}
}

// ClassOf returns the Class of err if it (or something it wraps) is an
// *Error, and ok=false otherwise.
func ClassOf(err error) (Class, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Class, true
	}
	return 0, false
}

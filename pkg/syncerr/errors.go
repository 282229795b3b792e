// Package syncerr defines the tagged error taxonomy shared by every
// component of the reconciliation engine (config, rdb, geodiff,
// projectstore, sync, orchestrator).
package syncerr

import (
	"errors"
	"fmt"
)

// Tag classifies an error the way the engine's operator-facing messages do.
type Tag string

const (
	// Config covers missing fields, unknown drivers, malformed project refs.
	Config Tag = "config"
	// Remote covers project-store login/network/4xx/5xx failures.
	Remote Tag = "remote"
	// DiffTool covers a non-zero geodiff exit.
	DiffTool Tag = "difftool"
	// RDB covers RDB connect/exec failures, including missing PostGIS.
	RDB Tag = "rdb"
	// State covers invariant violations, schema/mirror mismatches.
	State Tag = "state"
	// ProjectIDMismatch covers a local/server project id disagreement.
	ProjectIDMismatch Tag = "project-id-mismatch"
)

// forceInitHint is appended to State and ProjectIDMismatch errors, since
// those are the two tags spec'd as requiring operator intervention.
const forceInitHint = "run with --force-init to recover"

// Error is the concrete error type every engine error satisfies.
type Error struct {
	Tag      Tag
	Message  string
	Err      error
	Recovers bool // true if --force-init is the documented recovery path
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Recovers {
		msg = fmt.Sprintf("%s (%s)", msg, forceInitHint)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func newf(tag Tag, recovers bool, format string, a ...any) *Error {
	return &Error{Tag: tag, Message: fmt.Sprintf(format, a...), Recovers: recovers}
}

func wrapf(tag Tag, recovers bool, err error, format string, a ...any) *Error {
	return &Error{Tag: tag, Message: fmt.Sprintf(format, a...), Err: err, Recovers: recovers}
}

// Configf builds a ConfigError.
func Configf(format string, a ...any) *Error { return newf(Config, false, format, a...) }

// Remotef builds a RemoteError.
func Remotef(format string, a ...any) *Error { return newf(Remote, false, format, a...) }

// WrapRemote wraps an underlying error (from a ClientError/LoginError) as a RemoteError.
func WrapRemote(err error, format string, a ...any) *Error {
	return wrapf(Remote, false, err, format, a...)
}

// DiffToolf builds a DiffToolError.
func DiffToolf(format string, a ...any) *Error { return newf(DiffTool, false, format, a...) }

// WrapDiffTool wraps an underlying subprocess error as a DiffToolError.
func WrapDiffTool(err error, format string, a ...any) *Error {
	return wrapf(DiffTool, false, err, format, a...)
}

// RDBf builds an RdbError.
func RDBf(format string, a ...any) *Error { return newf(RDB, false, format, a...) }

// WrapRDB wraps an underlying database error as an RdbError.
func WrapRDB(err error, format string, a ...any) *Error {
	return wrapf(RDB, false, err, format, a...)
}

// Statef builds a StateError. State errors are recoverable via --force-init.
func Statef(format string, a ...any) *Error { return newf(State, true, format, a...) }

// ProjectIDMismatchf builds a ProjectIdMismatch error. Never self-heals, but
// the documented recovery (force-init against a new project) is the same.
func ProjectIDMismatchf(format string, a ...any) *Error {
	return newf(ProjectIDMismatch, true, format, a...)
}

// Is reports whether err (or something it wraps) carries the given tag.
func Is(err error, tag Tag) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Tag == tag
}

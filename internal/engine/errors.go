package engine

import (
	"errors"
	"fmt"
)

// ErrorCode is the failure code an engine reports for its last failed call.
type ErrorCode int

const (
	ErrNone ErrorCode = iota
	ErrLog
	ErrLock
	ErrStateDBLoad
	ErrModule
	ErrTimeSkew
	ErrFilesystem
	ErrTree
	ErrMem
	ErrParam
	ErrUpdate
	ErrReconcile
	ErrPropagate
	ErrAccessFailed
	ErrRemoteCreate
	ErrRemoteStat
	ErrLocalCreate
	ErrLocalStat
	ErrProxy
	ErrUnspec
)

var codeNames = map[ErrorCode]string{
	ErrNone:         "none",
	ErrLog:          "log",
	ErrLock:         "lock",
	ErrStateDBLoad:  "statedb_load",
	ErrModule:       "module",
	ErrTimeSkew:     "timeskew",
	ErrFilesystem:   "filesystem",
	ErrTree:         "tree",
	ErrMem:          "mem",
	ErrParam:        "param",
	ErrUpdate:       "update",
	ErrReconcile:    "reconcile",
	ErrPropagate:    "propagate",
	ErrAccessFailed: "access_failed",
	ErrRemoteCreate: "remote_create",
	ErrRemoteStat:   "remote_stat",
	ErrLocalCreate:  "local_create",
	ErrLocalStat:    "local_stat",
	ErrProxy:        "proxy",
	ErrUnspec:       "unspec",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Error is returned by engine phase calls.
type Error struct {
	Code ErrorCode
	Op   string
	Err  error
}

func NewError(code ErrorCode, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf extracts the engine code from err. Errors that do not carry one
// report ErrUnspec; a nil error reports ErrNone.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrNone
	}
	var engErr *Error
	if errors.As(err, &engErr) {
		return engErr.Code
	}
	return ErrUnspec
}

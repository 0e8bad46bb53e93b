// Package engine describes the tree-sync engine that a sync session drives.
//
// The engine owns the tree comparison, its persisted state database and the
// file transfers. Callers only see the phase API below: every phase is a
// blocking call that either succeeds or fails with an *Error whose code is
// also available from LastErrorCode.
package engine

import "context"

// Module property keys understood by engines that talk to a remote.
const (
	PropProxyType     = "proxy_type"
	PropProxyHost     = "proxy_host"
	PropProxyPort     = "proxy_port"
	PropProxyUser     = "proxy_user"
	PropProxyPassword = "proxy_pwd"
)

// TreeWalkFile is one entry reported while walking the local tree.
type TreeWalkFile struct {
	// Path is relative to the source root, slash separated.
	Path        string
	Instruction Instruction
	IsDir       bool
}

// WalkFunc is called for every entry of the local tree. Returning a non-nil
// error stops the walk and makes WalkLocalTree fail.
type WalkFunc func(file *TreeWalkFile) error

// Engine is a handle bound to one source/target pair. A handle is used by a
// single run and released with Destroy.
type Engine interface {
	SetAuthPrompter(p AuthPrompter)
	SetLogSink(s LogSink)
	SetConfigDir(path string) error
	ConfigDir() string
	AddExcludeList(path string) error
	SetModuleProperty(key, value string) error
	SetLocalOnly(localOnly bool)

	Init(ctx context.Context) error
	Update(ctx context.Context) error
	WalkLocalTree(ctx context.Context, fn WalkFunc) error
	Reconcile(ctx context.Context) error
	Propagate(ctx context.Context) error
	Destroy() error

	LastErrorCode() ErrorCode
	// StateDBPath may be known before Init succeeded, so a failed Init can
	// still point at the database to reset.
	StateDBPath() (string, bool)
}

// Factory acquires an engine handle for a source/target pair. A factory may
// return a non-nil engine together with an error when the handle is only
// partially usable; the caller still owns and must destroy it.
type Factory func(source, target string) (Engine, error)

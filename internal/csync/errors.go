package csync

import (
	"errors"
	"fmt"

	"github.com/openmined/treesync/internal/engine"
)

var (
	ErrRunInProgress   = errors.New("sync run already in progress")
	ErrWalkAborted     = errors.New("tree walk aborted")
	ErrCollectorSealed = errors.New("walk result already handed off")
)

// Phase names the engine call a failure came from.
type Phase string

const (
	PhaseCreate    Phase = "create"
	PhaseInit      Phase = "init"
	PhaseUpdate    Phase = "update"
	PhaseWalk      Phase = "walk"
	PhaseReconcile Phase = "reconcile"
	PhasePropagate Phase = "propagate"
)

// Category is the user facing failure taxonomy.
type Category string

const (
	CategoryLockFailure             Category = "LockFailure"
	CategoryStateLoadFailure        Category = "StateLoadFailure"
	CategoryClockSkew               Category = "ClockSkew"
	CategoryFilesystemDetectFailure Category = "FilesystemDetectFailure"
	CategoryTreeProcessingFailure   Category = "TreeProcessingFailure"
	CategoryTargetUnreachable       Category = "TargetUnreachable"
	CategoryModuleLoadFailure       Category = "ModuleLoadFailure"
	CategoryLocalWriteFailure       Category = "LocalWriteFailure"
	CategoryRemoteWriteFailure      Category = "RemoteWriteFailure"
	CategoryProxyOrNetworkFailure   Category = "ProxyOrNetworkFailure"
	CategoryCreateFailure           Category = "CreateFailure"
	CategoryReconcileFailure        Category = "ReconcileFailure"
	CategoryPropagateFailure        Category = "PropagateFailure"
	CategoryUnknown                 Category = "Unknown"
)

// Messages emitted by the walk phase.
const (
	MsgWalkFailed         = "Encountered an error while examining the file system.\nSyncing is not possible."
	MsgInvalidInstruction = "The update phase generated an unexpected instruction.\nPlease write a bug report."
	MsgSyncNotPossible    = "Local filesystem problems. Better disable syncing and check."
	MsgTerminated         = "Sync run terminated."
	msgDirPerms           = "The local filesystem has %d write protected directories. " +
		"That can hinder successful syncing. Please make sure that all local directories are writeable."
)

// Classification is the outcome of classifying one engine failure.
type Classification struct {
	Category Category
	Code     engine.ErrorCode
	Message  string
	// RecommendReset is set when the persisted state database should be
	// discarded before the next run.
	RecommendReset bool
}

var initMessages = map[engine.ErrorCode]struct {
	category Category
	message  string
}{
	engine.ErrLock:         {CategoryLockFailure, "Failed to create a lock file."},
	engine.ErrStateDBLoad:  {CategoryStateLoadFailure, "Failed to load the state database."},
	engine.ErrTimeSkew:     {CategoryClockSkew, "The system time on this client is different than the system time on the target. Please use a time synchronization service (NTP) on both machines so that the times remain the same."},
	engine.ErrFilesystem:   {CategoryFilesystemDetectFailure, "Could not detect the filesystem type."},
	engine.ErrTree:         {CategoryTreeProcessingFailure, "Got an error while processing internal trees."},
	engine.ErrModule:       {CategoryModuleLoadFailure, "The sync engine module could not be loaded. Please verify the installation."},
	engine.ErrLocalCreate:  {CategoryLocalWriteFailure, "The local filesystem can not be written. Please check permissions."},
	engine.ErrLocalStat:    {CategoryLocalWriteFailure, "The local filesystem can not be written. Please check permissions."},
	engine.ErrRemoteCreate: {CategoryRemoteWriteFailure, "A remote file can not be written. Please check the remote access."},
	engine.ErrRemoteStat:   {CategoryRemoteWriteFailure, "A remote file can not be written. Please check the remote access."},
}

// Classify maps an engine failure to its category and message. target is
// used in the TargetUnreachable message.
func Classify(phase Phase, code engine.ErrorCode, target string) Classification {
	c := Classification{Code: code}

	switch phase {
	case PhaseCreate:
		c.Category = CategoryCreateFailure
		c.Message = "Failed to create the sync engine."
	case PhaseInit:
		if code == engine.ErrAccessFailed {
			c.Category = CategoryTargetUnreachable
			c.Message = fmt.Sprintf("The target directory %s does not exist. Please check the sync setup.", target)
			c.RecommendReset = true
		} else if m, ok := initMessages[code]; ok {
			c.Category = m.category
			c.Message = m.message
		} else {
			c.Category = CategoryUnknown
			c.Message = fmt.Sprintf("An internal error number %d happened.", int(code))
		}
	case PhaseUpdate:
		if code == engine.ErrProxy {
			c.Category = CategoryProxyOrNetworkFailure
			c.Message = "Failed to reach the host. Either host or proxy settings are not valid."
		} else {
			c.Category = CategoryUnknown
			c.Message = fmt.Sprintf("Update failed with internal error number %d.", int(code))
		}
	case PhaseReconcile:
		c.Category = CategoryReconcileFailure
		c.Message = "Reconcile failed."
	case PhasePropagate:
		c.Category = CategoryPropagateFailure
		c.Message = "File exchange with the target failed. Sync was stopped."
	default:
		c.Category = CategoryUnknown
		c.Message = fmt.Sprintf("An internal error number %d happened.", int(code))
	}
	return c
}

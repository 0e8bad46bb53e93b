package folder

import (
	"fmt"
	"time"

	"github.com/openmined/treesync/internal/csync"
	"github.com/openmined/treesync/internal/engine"
)

type SyncStatus int

const (
	StatusUndefined SyncStatus = iota
	StatusNotYetStarted
	StatusRunning
	StatusSuccess
	StatusError
	StatusSetupError
)

var syncStatusNames = map[SyncStatus]string{
	StatusUndefined:     "undefined",
	StatusNotYetStarted: "not_yet_started",
	StatusRunning:       "running",
	StatusSuccess:       "success",
	StatusError:         "error",
	StatusSetupError:    "setup_error",
}

func (s SyncStatus) String() string {
	if name, ok := syncStatusNames[s]; ok {
		return name
	}
	return syncStatusNames[StatusUndefined]
}

func (s SyncStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SyncStatus) UnmarshalText(text []byte) error {
	for status, name := range syncStatusNames {
		if name == string(text) {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("unknown sync status %q", text)
}

// FileStatus is the per-file state derived from the last walk.
type FileStatus int

const (
	FileNone FileStatus = iota
	FileEval
	FileRemove
	FileRename
	FileNew
	FileConflict
	FileIgnore
	FileSync
	FileStatError
	FileError
	FileUpdated
)

var fileStatusNames = [...]string{
	FileNone:      "none",
	FileEval:      "eval",
	FileRemove:    "remove",
	FileRename:    "rename",
	FileNew:       "new",
	FileConflict:  "conflict",
	FileIgnore:    "ignore",
	FileSync:      "sync",
	FileStatError: "stat_error",
	FileError:     "error",
	FileUpdated:   "updated",
}

func (s FileStatus) String() string {
	if s < 0 || int(s) >= len(fileStatusNames) {
		return fileStatusNames[FileNone]
	}
	return fileStatusNames[s]
}

func (s FileStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *FileStatus) UnmarshalText(text []byte) error {
	for status, name := range fileStatusNames {
		if name == string(text) {
			*s = FileStatus(status)
			return nil
		}
	}
	return fmt.Errorf("unknown file status %q", text)
}

func fileStatusOf(i engine.Instruction) FileStatus {
	switch i {
	case engine.InstructionEval:
		return FileEval
	case engine.InstructionRemove, engine.InstructionDeleted:
		return FileRemove
	case engine.InstructionRename:
		return FileRename
	case engine.InstructionNew:
		return FileNew
	case engine.InstructionConflict:
		return FileConflict
	case engine.InstructionIgnore:
		return FileIgnore
	case engine.InstructionSync:
		return FileSync
	case engine.InstructionStatError:
		return FileStatError
	case engine.InstructionError:
		return FileError
	case engine.InstructionUpdated:
		return FileUpdated
	default:
		return FileNone
	}
}

// SyncResult describes the current or last run of a folder.
type SyncResult struct {
	Status     SyncStatus            `json:"status"`
	RunID      string                `json:"run_id,omitempty"`
	LocalOnly  bool                  `json:"local_only"`
	Errors     []string              `json:"errors,omitempty"`
	Warnings   []string              `json:"warnings,omitempty"`
	Stats      *csync.WalkStatistics `json:"stats,omitempty"`
	ItemCount  int                   `json:"item_count"`
	StartedAt  time.Time             `json:"started_at,omitzero"`
	FinishedAt time.Time             `json:"finished_at,omitzero"`
}

// Status is a point in time snapshot of a folder.
type Status struct {
	Alias         string     `json:"alias"`
	Source        string     `json:"source"`
	Target        string     `json:"target"`
	Running       bool       `json:"running"`
	Busy          bool       `json:"busy"`
	LastSeenFiles int        `json:"last_seen_files"`
	StateDBPath   string     `json:"state_db_path,omitempty"`
	WipePending   bool       `json:"wipe_pending"`
	Result        SyncResult `json:"result"`
}

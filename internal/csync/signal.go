package csync

import "time"

type SignalKind int

const (
	SignalStarted SignalKind = iota
	SignalError
	SignalWarning
	SignalStateDBPath
	SignalRecommendStateReset
	SignalWalkResult
	SignalFinished
)

var signalKindNames = map[SignalKind]string{
	SignalStarted:             "started",
	SignalError:               "error",
	SignalWarning:             "warning",
	SignalStateDBPath:         "state_db_path",
	SignalRecommendStateReset: "recommend_state_reset",
	SignalWalkResult:          "walk_result",
	SignalFinished:            "finished",
}

func (k SignalKind) String() string {
	if name, ok := signalKindNames[k]; ok {
		return name
	}
	return "unknown"
}

func (k SignalKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Signal is one notification emitted by a running session.
//
// Started is always first and Finished always last. WalkResult is emitted at
// most once and only after a completed walk.
type Signal struct {
	Kind    SignalKind      `json:"kind"`
	RunID   string          `json:"run_id"`
	Message string          `json:"message,omitempty"`
	Path    string          `json:"path,omitempty"`
	Items   []SyncItem      `json:"items,omitempty"`
	Stats   *WalkStatistics `json:"stats,omitempty"`
	// State is set on Finished.
	State State `json:"state"`
}

// Result summarises a finished run.
type Result struct {
	RunID               string          `json:"run_id"`
	State               State           `json:"state"`
	Errors              []string        `json:"errors,omitempty"`
	Warnings            []string        `json:"warnings,omitempty"`
	Items               []SyncItem      `json:"items,omitempty"`
	Stats               *WalkStatistics `json:"stats,omitempty"`
	StateDBPath         string          `json:"state_db_path,omitempty"`
	RecommendStateReset bool            `json:"recommend_state_reset"`
	Duration            time.Duration   `json:"duration"`
}

func (r *Result) Succeeded() bool {
	return r.State == StateDone || r.State == StateLocalOnlyDone
}

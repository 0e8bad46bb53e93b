package engine

import "fmt"

// Instruction is the classification the engine assigns to a tree entry.
type Instruction int

const (
	InstructionNone Instruction = iota
	InstructionEval
	InstructionRemove
	InstructionRename
	InstructionNew
	InstructionConflict
	InstructionIgnore
	InstructionSync
	InstructionStatError
	InstructionError
	// Deleted and Updated are only produced by the propagator.
	InstructionDeleted
	InstructionUpdated
)

var instructionNames = map[Instruction]string{
	InstructionNone:      "none",
	InstructionEval:      "eval",
	InstructionRemove:    "remove",
	InstructionRename:    "rename",
	InstructionNew:       "new",
	InstructionConflict:  "conflict",
	InstructionIgnore:    "ignore",
	InstructionSync:      "sync",
	InstructionStatError: "stat_error",
	InstructionError:     "error",
	InstructionDeleted:   "deleted",
	InstructionUpdated:   "updated",
}

func (i Instruction) String() string {
	if name, ok := instructionNames[i]; ok {
		return name
	}
	return fmt.Sprintf("instruction(%d)", int(i))
}

// MarshalText lets instructions appear by name in JSON output.
func (i Instruction) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

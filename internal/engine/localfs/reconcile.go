package localfs

import "slices"

type OpType int

const (
	OpWriteLocal OpType = iota
	OpWriteRemote
	OpDeleteLocal
	OpDeleteRemote
	OpConflict
	// OpJournal records identical content on both sides as synced.
	OpJournal
)

func (o OpType) String() string {
	switch o {
	case OpWriteLocal:
		return "write_local"
	case OpWriteRemote:
		return "write_remote"
	case OpDeleteLocal:
		return "delete_local"
	case OpDeleteRemote:
		return "delete_remote"
	case OpConflict:
		return "conflict"
	case OpJournal:
		return "journal"
	}
	return "unknown"
}

// Operation is one reconcile decision for a path.
type Operation struct {
	Op      OpType
	RelPath string
	Local   *FileMetadata
	Remote  *FileMetadata
	Synced  *FileMetadata
}

// Decisions is the outcome of a three way reconcile between the source
// tree, the target tree and the journal.
type Decisions struct {
	Operations []*Operation
	Cleanups   []string
	Unchanged  []string
	Ignored    []string
}

func (d *Decisions) Count(op OpType) int {
	n := 0
	for _, o := range d.Operations {
		if o.Op == op {
			n++
		}
	}
	return n
}

func (d *Decisions) HasChanges() bool {
	return len(d.Operations) > 0 || len(d.Cleanups) > 0
}

func reconcile(local, remote, journal map[string]*FileMetadata, excluded func(rel string) bool) *Decisions {
	paths := make(map[string]struct{}, len(local)+len(remote)+len(journal))
	for p := range journal {
		paths[p] = struct{}{}
	}
	for p := range local {
		paths[p] = struct{}{}
	}
	for p := range remote {
		paths[p] = struct{}{}
	}

	sorted := make([]string, 0, len(paths))
	for p := range paths {
		sorted = append(sorted, p)
	}
	slices.Sort(sorted)

	d := &Decisions{}
	for _, path := range sorted {
		l, localExists := local[path]
		r, remoteExists := remote[path]
		j, journalExists := journal[path]

		if excluded != nil && excluded(path) {
			d.Ignored = append(d.Ignored, path)
			continue
		}

		if !localExists && !remoteExists {
			// gone on both sides
			d.Cleanups = append(d.Cleanups, path)
			continue
		}

		localModified := localExists && journalExists && modified(l, j)
		remoteModified := remoteExists && journalExists && modified(r, j)
		localCreated := localExists && !journalExists
		remoteCreated := remoteExists && !journalExists
		localDeleted := !localExists && journalExists
		remoteDeleted := !remoteExists && journalExists

		op := &Operation{RelPath: path, Local: l, Remote: r, Synced: j}
		switch {
		case (localCreated && remoteCreated) || (localModified && remoteModified):
			if modified(l, r) {
				op.Op = OpConflict
			} else {
				op.Op = OpJournal
			}
		case localModified && remoteDeleted:
			// keep the edit
			op.Op = OpWriteRemote
		case remoteModified && localDeleted:
			op.Op = OpWriteLocal
		case localCreated || localModified:
			op.Op = OpWriteRemote
		case remoteCreated || remoteModified:
			op.Op = OpWriteLocal
		case localDeleted:
			op.Op = OpDeleteRemote
		case remoteDeleted:
			op.Op = OpDeleteLocal
		default:
			d.Unchanged = append(d.Unchanged, path)
			continue
		}
		d.Operations = append(d.Operations, op)
	}
	return d
}

package controlplane

import (
	"github.com/openmined/treesync/internal/folder"
)

// Folder is the part of a sync folder the API drives.
type Folder interface {
	Alias() string
	Status() folder.Status
	FileStatus(path string) folder.FileStatus
	SyncNow() error
	Terminate() bool
}

// Folders looks up folders by alias. Lookups of unknown aliases fail with
// folder.ErrFolderNotFound.
type Folders interface {
	Folder(alias string) (Folder, error)
	Folders() []Folder
}

// ManagerFolders exposes a folder.Manager to the API.
func ManagerFolders(m *folder.Manager) Folders {
	return managerFolders{m: m}
}

type managerFolders struct {
	m *folder.Manager
}

func (mf managerFolders) Folder(alias string) (Folder, error) {
	f, err := mf.m.Get(alias)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (mf managerFolders) Folders() []Folder {
	list := mf.m.List()
	out := make([]Folder, len(list))
	for i, f := range list {
		out[i] = f
	}
	return out
}

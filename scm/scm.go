// Package scm defines the source-control collaborator used to gather
// batch input from rule repositories. Implementations live outside this
// module; the service only depends on the interface.
package scm

import (
	"context"
	"time"
)

// File is one rule file discovered in a repository.
type File struct {
	Path     string
	Size     int64
	Modified time.Time
}

// SyncResult summarizes a repository synchronization.
type SyncResult struct {
	RepoID     string
	Branch     string
	FilesAdded int
	SyncedAt   time.Time
}

// Collaborator lists and synchronizes detection rule files from a source
// control system.
type Collaborator interface {
	// ListFiles enumerates rule files under path at ref.
	ListFiles(ctx context.Context, path, ref string) ([]File, error)
	// Sync pulls branch of the identified repository to its latest state.
	Sync(ctx context.Context, repoID, branch string) (SyncResult, error)
}

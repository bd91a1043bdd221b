package reconcile

import (
	"path/filepath"
	"slices"
)

// Action is a single filesystem change in a reconcile plan
type Action string

const (
	// ActionKeep leaves the entry untouched
	ActionKeep Action = "keep"
	// ActionDeleteFile removes a regular file
	ActionDeleteFile Action = "delete-file"
	// ActionDeleteTree removes a directory and everything below it
	ActionDeleteTree Action = "delete-tree"
	// ActionClearContents removes everything inside a directory, keeping it
	ActionClearContents Action = "clear-contents"
	// ActionCreateDir creates a missing directory
	ActionCreateDir Action = "create-dir"
)

// Policy decides what happens to the immediate children of the mirroring root
type Policy struct {
	// PreserveDirs are never deleted recursively
	PreserveDirs []string
	// ClearDirs have their contents wiped when they are also preserved
	ClearDirs []string
	// ReservedExts mark files that survive cleaning (administrative scripts)
	ReservedExts []string
}

// DefaultPolicy returns the mirroring-root policy used by every sync
func DefaultPolicy() Policy {
	return Policy{
		PreserveDirs: []string{
			"aux", "web", "webui", "localmirror", "repo_mirror", "ks_mirror",
			"images", "links", "repo_profile", "repo_system", "svc", "rendered",
		},
		ClearDirs: []string{
			"kickstarts", "kickstarts_sys", "images", "systems", "distros",
			"profiles", "repo_profile", "repo_system", "rendered",
		},
		ReservedExts: []string{".py"},
	}
}

// DirAction returns the action for a directory directly below the mirroring root.
// A name outside PreserveDirs is deleted even when it is listed in ClearDirs.
func (p Policy) DirAction(name string) Action {
	if !slices.Contains(p.PreserveDirs, name) {
		return ActionDeleteTree
	}
	if slices.Contains(p.ClearDirs, name) {
		return ActionClearContents
	}
	return ActionKeep
}

// FileAction returns the action for a regular file directly below the mirroring root
func (p Policy) FileAction(name string) Action {
	if slices.Contains(p.ReservedExts, filepath.Ext(name)) {
		return ActionKeep
	}
	return ActionDeleteFile
}

// ManagedDirs are the directories that are both preserved and cleared. They
// are created when missing so every sync starts from the same empty set.
func (p Policy) ManagedDirs() []string {
	var dirs []string
	for _, name := range p.ClearDirs {
		if slices.Contains(p.PreserveDirs, name) {
			dirs = append(dirs, name)
		}
	}
	return dirs
}

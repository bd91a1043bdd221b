// Package reconcile brings the boot-service and mirroring-service trees to a
// clean baseline before the generators repopulate them.
//
// Only the immediate children of the mirroring root are inspected. Mirrored
// content (ks_mirror, repo_mirror, ...) is expensive to rebuild and is kept;
// generated content is cleared; anything unknown is deleted. Symbolic links
// and other non-regular entries are never touched.
package reconcile

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/schaermu/bootsyncd/internal/model"
	"github.com/spf13/afero"
)

// Op is a planned filesystem change
type Op struct {
	Action Action
	Path   string
}

// Plan is the ordered list of changes for one clean pass
type Plan struct {
	Ops []Op
	// Skipped lists entries left alone because they are neither regular
	// files nor directories
	Skipped []string
}

// Count returns the number of ops with the given action
func (p *Plan) Count(action Action) int {
	n := 0
	for _, op := range p.Ops {
		if op.Action == action {
			n++
		}
	}
	return n
}

// Reconciler computes and applies clean plans
type Reconciler struct {
	fs     afero.Fs
	policy Policy
	logger *slog.Logger
}

// New creates a reconciler operating on fs
func New(fs afero.Fs, policy Policy, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		fs:     fs,
		policy: policy,
		logger: logger,
	}
}

// Clean computes and applies the plan for layout
func (r *Reconciler) Clean(layout model.Layout) (*Plan, error) {
	plan, err := r.Plan(layout)
	if err != nil {
		return nil, err
	}
	if err := r.Apply(plan); err != nil {
		return plan, err
	}
	return plan, nil
}

// Plan inspects the trees and returns the changes a clean pass would make
func (r *Reconciler) Plan(layout model.Layout) (*Plan, error) {
	plan := &Plan{}

	entries, err := afero.ReadDir(r.fs, layout.WebDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read mirroring root %s: %w", layout.WebDir, err)
	}

	present := make(map[string]bool, len(entries))
	for _, entry := range entries {
		path := filepath.Join(layout.WebDir, entry.Name())
		mode := entry.Mode()

		var action Action
		switch {
		case mode.IsRegular():
			action = r.policy.FileAction(entry.Name())
		case mode.IsDir():
			action = r.policy.DirAction(entry.Name())
			if action != ActionDeleteTree {
				present[entry.Name()] = true
			}
		default:
			plan.Skipped = append(plan.Skipped, path)
			continue
		}

		if action != ActionKeep {
			plan.Ops = append(plan.Ops, Op{Action: action, Path: path})
		}
	}

	// Preserved-and-cleared directories always exist after a pass
	for _, name := range r.policy.ManagedDirs() {
		if present[name] {
			continue
		}
		path := filepath.Join(layout.WebDir, name)
		if slices.Contains(plan.Skipped, path) {
			continue
		}
		plan.Ops = append(plan.Ops, Op{Action: ActionCreateDir, Path: path})
	}

	for _, dir := range layout.BootSubdirs() {
		info, err := r.fs.Stat(dir)
		switch {
		case err == nil && info.IsDir():
			plan.Ops = append(plan.Ops, Op{Action: ActionClearContents, Path: dir})
		case err == nil:
			return nil, fmt.Errorf("boot directory %s exists but is not a directory", dir)
		case os.IsNotExist(err):
			plan.Ops = append(plan.Ops, Op{Action: ActionCreateDir, Path: dir})
		default:
			return nil, fmt.Errorf("failed to stat boot directory %s: %w", dir, err)
		}
	}

	return plan, nil
}

// Apply executes the plan in order, stopping at the first failure
func (r *Reconciler) Apply(plan *Plan) error {
	for _, path := range plan.Skipped {
		r.logger.Debug("leaving non-regular entry untouched", "path", path)
	}

	for _, op := range plan.Ops {
		r.logger.Debug("reconcile", "action", string(op.Action), "path", op.Path)

		var err error
		switch op.Action {
		case ActionDeleteFile:
			err = r.fs.Remove(op.Path)
		case ActionDeleteTree:
			err = r.fs.RemoveAll(op.Path)
		case ActionClearContents:
			err = r.clearContents(op.Path)
		case ActionCreateDir:
			// Parents are never created: a missing root must fail the pass
			err = r.fs.Mkdir(op.Path, 0755)
		case ActionKeep:
		default:
			err = fmt.Errorf("unknown action %q", op.Action)
		}
		if err != nil {
			return fmt.Errorf("failed to %s %s: %w", op.Action, op.Path, err)
		}
	}

	return nil
}

// clearContents removes every entry inside dir
func (r *Reconciler) clearContents(dir string) error {
	entries, err := afero.ReadDir(r.fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if err := r.fs.RemoveAll(path); err != nil {
			return &fs.PathError{Op: "remove", Path: path, Err: err}
		}
	}
	return nil
}

// Package sync runs the synchronization pipeline that brings the boot and
// mirroring trees in line with the object model.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/schaermu/bootsyncd/internal/config"
	"github.com/schaermu/bootsyncd/internal/model"
	"github.com/schaermu/bootsyncd/internal/netsvc"
	"github.com/schaermu/bootsyncd/internal/pxegen"
	"github.com/schaermu/bootsyncd/internal/reconcile"
	"github.com/schaermu/bootsyncd/internal/store"
	"github.com/schaermu/bootsyncd/internal/trigger"
	"github.com/spf13/afero"
)

// TreeReconciler plans and applies the clean pass over the trees
type TreeReconciler interface {
	Plan(layout model.Layout) (*reconcile.Plan, error)
	Apply(plan *reconcile.Plan) error
}

// MirrorConfigGenerator renders the rsync daemon configuration
type MirrorConfigGenerator interface {
	Generate(settings model.Settings, distros []model.Distro, repos []model.Repo) error
}

// Deps are the collaborators of an Engine
type Deps struct {
	FS         afero.Fs
	Store      store.Store
	Triggers   trigger.Runner
	Reconciler TreeReconciler
	Boot       pxegen.Generator
	DHCP       netsvc.DHCPWriter
	DNS        netsvc.DNSWriter
	Mirror     MirrorConfigGenerator
	// Recorder is optional
	Recorder Recorder
}

// Options tune a single Engine
type Options struct {
	// DryRun checks the precondition, takes the snapshot and logs the clean
	// plan without running triggers or touching the trees
	DryRun bool
}

// Engine orchestrates the sync process
type Engine struct {
	cfg    *config.Config
	deps   Deps
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine creates a new sync engine
func NewEngine(cfg *config.Config, deps Deps, logger *slog.Logger, opts Options) *Engine {
	return &Engine{
		cfg:    cfg,
		deps:   deps,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// Run executes the complete sync process. Phases run strictly in order and
// the first failure aborts the run without rollback; re-running converges.
// The context is only consulted before the run starts.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)

	report := &Report{
		RunID:   uuid.NewString(),
		DryRun:  e.opts.DryRun,
		Started: e.now(),
	}
	logger := e.logger.With("run_id", report.RunID)
	logger.Info("starting sync", "store", e.cfg.Paths.StoreDir, "dry_run", e.opts.DryRun)

	var err error
	if e.opts.DryRun {
		err = e.dryRun(logger, report)
	} else {
		err = e.run(ctx, logger, report)
	}

	report.Finished = e.now()
	if e.deps.Recorder != nil && !e.opts.DryRun {
		e.deps.Recorder.ObserveRun(report.Duration(), err)
	}
	if err != nil {
		return report, err
	}

	if e.opts.DryRun {
		logger.Info("dry-run complete, no changes applied")
	} else {
		logger.Info("sync completed successfully", "duration", report.Duration())
	}
	return report, nil
}

func (e *Engine) run(ctx context.Context, logger *slog.Logger, report *Report) error {
	if err := e.checkBootRoot(); err != nil {
		return err
	}

	if err := e.phase(logger, report, PhasePreTriggers, "running pre-sync triggers", func() error {
		return e.deps.Triggers.Run(ctx, e.cfg.TriggerPath(config.TriggerSyncPre))
	}); err != nil {
		return err
	}

	// Triggers may have changed the object model
	var snap *model.Snapshot
	if err := e.phase(logger, report, PhaseSnapshot, "", func() error {
		var err error
		snap, err = Snapshot(e.deps.Store)
		return err
	}); err != nil {
		return err
	}
	logger.Info("loaded object model",
		"settings", snap.Settings,
		"distros", len(snap.Distros),
		"profiles", len(snap.Profiles),
		"systems", len(snap.Systems),
		"repos", len(snap.Repos),
		"images", len(snap.Images))

	if err := e.phase(logger, report, PhaseCleanTrees, "cleaning trees", func() error {
		plan, err := e.deps.Reconciler.Plan(snap.Layout())
		if err != nil {
			return err
		}
		report.Plan = plan
		e.logPlan(logger, plan)
		return e.deps.Reconciler.Apply(plan)
	}); err != nil {
		return err
	}

	boot := e.deps.Boot
	steps := []struct {
		name string
		msg  string
		fn   func() error
	}{
		{PhaseCopyBootloaders, "copying bootloaders", func() error { return boot.CopyBootloaders(snap) }},
		{PhaseCopyDistros, "copying distros", func() error { return boot.CopyDistros(snap) }},
		{PhaseCopyImages, "copying images", func() error { return boot.CopyImages(snap) }},
		{PhaseSystemFiles, "writing system files", func() error {
			for _, sys := range snap.Systems {
				if err := boot.WriteHostFiles(snap, sys); err != nil {
					return err
				}
			}
			return nil
		}},
	}
	for _, s := range steps {
		if err := e.phase(logger, report, s.name, s.msg, s.fn); err != nil {
			return err
		}
	}

	if snap.Settings.ManageDHCP {
		if err := e.phase(logger, report, PhaseDHCP, "rendering DHCP files", func() error {
			if err := e.deps.DHCP.WriteConfig(snap); err != nil {
				return err
			}
			return e.deps.DHCP.RegenEthers(snap)
		}); err != nil {
			return err
		}
	} else {
		e.skip(logger, report, PhaseDHCP)
	}

	if snap.Settings.ManageDNS {
		if err := e.phase(logger, report, PhaseDNS, "rendering DNS files", func() error {
			if err := e.deps.DNS.RegenHosts(snap); err != nil {
				return err
			}
			return e.deps.DNS.WriteConfig(snap)
		}); err != nil {
			return err
		}
	} else {
		e.skip(logger, report, PhaseDNS)
	}

	if err := e.phase(logger, report, PhaseRsync, "rendering rsync files", func() error {
		return e.deps.Mirror.Generate(snap.Settings, snap.Distros, snap.Repos)
	}); err != nil {
		return err
	}

	if err := e.phase(logger, report, PhaseMenu, "generating boot menu", func() error {
		return boot.BuildMenu(snap)
	}); err != nil {
		return err
	}

	if err := e.phase(logger, report, PhasePostTriggers, "running post-sync triggers", func() error {
		return e.deps.Triggers.Run(ctx, e.cfg.TriggerPath(config.TriggerSyncPost))
	}); err != nil {
		return err
	}

	return e.phase(logger, report, PhaseChangeTriggers, "", func() error {
		return e.deps.Triggers.Run(ctx, e.cfg.TriggerPath(config.TriggerChange))
	})
}

// dryRun takes the snapshot and logs what a run would change
func (e *Engine) dryRun(logger *slog.Logger, report *Report) error {
	if err := e.checkBootRoot(); err != nil {
		return err
	}

	snap, err := Snapshot(e.deps.Store)
	if err != nil {
		return &PhaseError{Phase: PhaseSnapshot, Err: err}
	}

	plan, err := e.deps.Reconciler.Plan(snap.Layout())
	if err != nil {
		return &PhaseError{Phase: PhaseCleanTrees, Err: err}
	}
	report.Plan = plan
	e.logPlan(logger, plan)
	e.logPlanDetails(logger, plan)

	logger.Info("[dry-run] would write boot files",
		"bootloaders", len(e.cfg.Bootloaders),
		"distros", len(snap.Distros),
		"images", len(snap.Images),
		"systems", len(snap.Systems))
	logger.Info("[dry-run] service files",
		"dhcp", snap.Settings.ManageDHCP,
		"dns", snap.Settings.ManageDNS,
		"rsync_config", e.cfg.Paths.RsyncConfig)
	return nil
}

// checkBootRoot fails the run before any mutation when the boot-service
// root is missing. It is not re-checked after pre-sync triggers.
func (e *Engine) checkBootRoot() error {
	settings, err := e.deps.Store.Settings()
	if err != nil {
		return fmt.Errorf("failed to read settings: %w", err)
	}
	ok, err := afero.DirExists(e.deps.FS, settings.TFTPBoot)
	if err != nil {
		return fmt.Errorf("failed to check boot-service root %s: %w", settings.TFTPBoot, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrBootRootMissing, settings.TFTPBoot)
	}
	return nil
}

// phase runs fn as the named phase and records its outcome
func (e *Engine) phase(logger *slog.Logger, report *Report, name, msg string, fn func() error) error {
	if msg != "" {
		logger.Info(msg)
	}

	start := e.now()
	err := fn()
	result := PhaseResult{Name: name, Duration: e.now().Sub(start)}
	if err != nil {
		result.Error = err.Error()
	}
	report.Phases = append(report.Phases, result)
	if e.deps.Recorder != nil {
		e.deps.Recorder.ObservePhase(name, result.Duration, err)
	}

	if err != nil {
		return &PhaseError{Phase: name, Err: err}
	}
	return nil
}

func (e *Engine) skip(logger *slog.Logger, report *Report, name string) {
	logger.Debug("phase disabled by settings", "phase", name)
	report.Phases = append(report.Phases, PhaseResult{Name: name, Skipped: true})
}

// logPlan logs a summary of the clean plan
func (e *Engine) logPlan(logger *slog.Logger, plan *reconcile.Plan) {
	logger.Info("clean plan",
		"delete_files", plan.Count(reconcile.ActionDeleteFile),
		"delete_trees", plan.Count(reconcile.ActionDeleteTree),
		"clear", plan.Count(reconcile.ActionClearContents),
		"create", plan.Count(reconcile.ActionCreateDir),
		"skipped", len(plan.Skipped))
}

// logPlanDetails logs detailed plan information for dry-run
func (e *Engine) logPlanDetails(logger *slog.Logger, plan *reconcile.Plan) {
	for _, op := range plan.Ops {
		logger.Info("[dry-run] would "+string(op.Action), "path", op.Path)
	}
	for _, path := range plan.Skipped {
		logger.Info("[dry-run] would leave untouched", "path", path)
	}
}

// Snapshot reads the current object model from s
func Snapshot(s store.Store) (*model.Snapshot, error) {
	settings, err := s.Settings()
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	distros, err := s.Distros()
	if err != nil {
		return nil, fmt.Errorf("failed to read distros: %w", err)
	}
	profiles, err := s.Profiles()
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles: %w", err)
	}
	systems, err := s.Systems()
	if err != nil {
		return nil, fmt.Errorf("failed to read systems: %w", err)
	}
	repos, err := s.Repos()
	if err != nil {
		return nil, fmt.Errorf("failed to read repos: %w", err)
	}
	images, err := s.Images()
	if err != nil {
		return nil, fmt.Errorf("failed to read images: %w", err)
	}

	snap := &model.Snapshot{
		Settings: settings,
		Distros:  distros,
		Profiles: profiles,
		Systems:  systems,
		Repos:    repos,
		Images:   images,
	}
	if err := store.Unique(snap); err != nil {
		return nil, fmt.Errorf("invalid object model: %w", err)
	}
	return snap, nil
}

package sync

import (
	"errors"
	"fmt"
	"time"

	"github.com/schaermu/bootsyncd/internal/reconcile"
)

// ErrBootRootMissing is returned when the boot-service root does not exist
var ErrBootRootMissing = errors.New("boot-service root does not exist")

// Phase names, in pipeline order
const (
	PhasePreTriggers     = "pre-triggers"
	PhaseSnapshot        = "snapshot"
	PhaseCleanTrees      = "clean-trees"
	PhaseCopyBootloaders = "copy-bootloaders"
	PhaseCopyDistros     = "copy-distros"
	PhaseCopyImages      = "copy-images"
	PhaseSystemFiles     = "system-files"
	PhaseDHCP            = "dhcp"
	PhaseDNS             = "dns"
	PhaseRsync           = "rsync"
	PhaseMenu            = "menu"
	PhasePostTriggers    = "post-triggers"
	PhaseChangeTriggers  = "change-triggers"
)

// Phases lists every phase name in pipeline order
var Phases = []string{
	PhasePreTriggers,
	PhaseSnapshot,
	PhaseCleanTrees,
	PhaseCopyBootloaders,
	PhaseCopyDistros,
	PhaseCopyImages,
	PhaseSystemFiles,
	PhaseDHCP,
	PhaseDNS,
	PhaseRsync,
	PhaseMenu,
	PhasePostTriggers,
	PhaseChangeTriggers,
}

// PhaseError identifies the phase that aborted a run
type PhaseError struct {
	Phase string
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("sync phase %s failed: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// PhaseResult is the outcome of one phase
type PhaseResult struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
	Skipped  bool          `json:"skipped,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Report summarizes a sync run
type Report struct {
	RunID    string          `json:"run_id"`
	DryRun   bool            `json:"dry_run,omitempty"`
	Started  time.Time       `json:"started"`
	Finished time.Time       `json:"finished"`
	Phases   []PhaseResult   `json:"phases"`
	Plan     *reconcile.Plan `json:"-"`
}

// Duration returns the wall time of the run
func (r *Report) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Phase returns the result of the named phase, if it ran or was skipped
func (r *Report) Phase(name string) (PhaseResult, bool) {
	for _, p := range r.Phases {
		if p.Name == name {
			return p, true
		}
	}
	return PhaseResult{}, false
}

// Recorder observes run and phase outcomes, e.g. for metrics
type Recorder interface {
	ObservePhase(phase string, d time.Duration, err error)
	ObserveRun(d time.Duration, err error)
}

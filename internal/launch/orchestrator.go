package launch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/enginectl/internal/observability"
	"github.com/danmuck/enginectl/internal/project"
	"github.com/danmuck/enginectl/internal/remote"
)

var (
	ErrLaunchDisabled   = errors.New("launch: no instance found and auto-launch disabled")
	ErrDeadlineExceeded = errors.New("launch: editor did not answer discovery before deadline")
)

// Phase names the orchestrator's current step. Exposed verbatim on the
// status surface.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseDiscovering Phase = "discovering"
	PhaseFixing      Phase = "config_fixing"
	PhaseLaunching   Phase = "launching"
	PhasePolling     Phase = "polling"
	PhaseConnected   Phase = "connected"
	PhaseTimedOut    Phase = "timed_out"
	PhaseFailed      Phase = "failed"
)

// Discoverer is the slice of the remote client the orchestrator borrows.
type Discoverer interface {
	Discover(ctx context.Context) (remote.Identity, bool)
}

// ConfigFixer remediates project settings before a launch attempt.
type ConfigFixer interface {
	Fix(root string) (project.FixReport, error)
}

// EditorLocator resolves the editor binary to start.
type EditorLocator interface {
	Locate() (string, error)
}

// ProcessStarter spawns the editor detached from this process. Returned
// pid is informational only; the orchestrator never waits on it.
type ProcessStarter interface {
	StartDetached(bin string, args []string) (int, error)
}

const (
	DefaultPollInterval = 2 * time.Second
	DefaultDeadline     = 180 * time.Second
)

// Config holds one launch attempt's parameters.
type Config struct {
	// ProjectRoot is the directory holding the .uproject descriptor.
	ProjectRoot string
	// ProjectFile is passed to the editor binary as its first argument.
	ProjectFile string
	// ExtraArgs are appended to the editor command line.
	ExtraArgs []string
	// AutoLaunch gates the fix/launch/poll path. When unset the
	// orchestrator only reports the discovery miss.
	AutoLaunch   bool
	PollInterval time.Duration
	Deadline     time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Deadline <= 0 {
		c.Deadline = DefaultDeadline
	}
	return c
}

// Status is a point-in-time snapshot for the status surface.
type Status struct {
	Phase    Phase           `json:"phase"`
	Instance remote.Identity `json:"instance,omitempty"`
	Error    string          `json:"error,omitempty"`
	Started  time.Time       `json:"started,omitempty"`
}

// Orchestrator runs the find-or-launch sequence. One orchestrator serves
// one attempt at a time; Status may be read concurrently.
type Orchestrator struct {
	cfg     Config
	disc    Discoverer
	fixer   ConfigFixer
	locator EditorLocator
	starter ProcessStarter

	mu     sync.RWMutex
	status Status
}

func NewOrchestrator(cfg Config, disc Discoverer, fixer ConfigFixer, locator EditorLocator, starter ProcessStarter) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg.withDefaults(),
		disc:    disc,
		fixer:   fixer,
		locator: locator,
		starter: starter,
		status:  Status{Phase: PhaseIdle},
	}
}

func (o *Orchestrator) setStatus(s Status) {
	o.mu.Lock()
	o.status = s
	o.mu.Unlock()
}

// Status returns the latest snapshot; safe for concurrent readers while
// an attempt runs.
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status
}

func (o *Orchestrator) enter(phase Phase, started time.Time) {
	log.Debug().Str("phase", string(phase)).Msg("launch phase")
	o.setStatus(Status{Phase: phase, Started: started})
}

func (o *Orchestrator) fail(phase Phase, started time.Time, err error) error {
	o.setStatus(Status{Phase: phase, Started: started, Error: err.Error()})
	return err
}

// EnsureInstance returns a running instance's identity, launching the
// editor if discovery comes up empty. Fatal configuration problems
// (missing descriptor, no editor install) abort before any process is
// started; after a launch, discovery is polled until the deadline.
func (o *Orchestrator) EnsureInstance(ctx context.Context) (remote.Identity, error) {
	started := time.Now()

	o.enter(PhaseDiscovering, started)
	if id, found := o.disc.Discover(ctx); found {
		o.setStatus(Status{Phase: PhaseConnected, Instance: id, Started: started})
		return id, nil
	}
	if !o.cfg.AutoLaunch {
		return remote.Identity{}, o.fail(PhaseFailed, started, ErrLaunchDisabled)
	}

	o.enter(PhaseFixing, started)
	report, err := o.fixer.Fix(o.cfg.ProjectRoot)
	if err != nil {
		return remote.Identity{}, o.fail(PhaseFailed, started, err)
	}
	if report.RestartNeeded {
		log.Info().Strs("changed", report.Changed).Msg("project configuration fixed before launch")
	}

	o.enter(PhaseLaunching, started)
	bin, err := o.locator.Locate()
	if err != nil {
		return remote.Identity{}, o.fail(PhaseFailed, started, err)
	}
	args := append([]string{o.cfg.ProjectFile}, o.cfg.ExtraArgs...)
	pid, err := o.starter.StartDetached(bin, args)
	if err != nil {
		return remote.Identity{}, o.fail(PhaseFailed, started, fmt.Errorf("launch: start editor: %w", err))
	}
	log.Info().Str("editor", bin).Int("pid", pid).Msg("editor launched, waiting for discovery")

	o.enter(PhasePolling, started)
	deadline := time.NewTimer(o.cfg.Deadline)
	defer deadline.Stop()
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return remote.Identity{}, o.fail(PhaseFailed, started, ctx.Err())
		case <-deadline.C:
			return remote.Identity{}, o.fail(PhaseTimedOut, started, ErrDeadlineExceeded)
		case <-ticker.C:
			id, found := o.disc.Discover(ctx)
			observability.RecordLaunchPoll(found)
			if !found {
				continue
			}
			o.setStatus(Status{Phase: PhaseConnected, Instance: id, Started: started})
			return id, nil
		}
	}
}

// Package watchdog kills the process when the game stops sending heartbeats.
//
// The game client is the only reason this server exists: once it is gone,
// lingering would leave an orphaned process holding the port and the
// database. The watchdog therefore hard-exits instead of attempting a
// graceful unwind.
package watchdog

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"
)

const (
	// DefaultInterval is how often the watchdog checks for staleness.
	DefaultInterval = 2 * time.Second

	// DefaultTolerance is how long the game may stay silent before the
	// process is killed. Generous enough to ride out loading screens and
	// lag spikes.
	DefaultTolerance = 15 * time.Second
)

// Config holds construction options for the Watchdog.
type Config struct {
	// Interval between staleness checks. Defaults to DefaultInterval.
	Interval time.Duration
	// Tolerance before a silent game is considered gone. Defaults to
	// DefaultTolerance.
	Tolerance time.Duration
	// Exit is called when the game is considered gone. Defaults to
	// os.Exit. Overridable for tests.
	Exit func(code int)
}

// Watchdog tracks game liveness. It arms itself on the first Beat; before
// that, any amount of silence is tolerated so the server can sit idle while
// the game is still loading.
type Watchdog struct {
	mu       sync.Mutex
	armed    bool
	lastBeat time.Time

	interval  time.Duration
	tolerance time.Duration
	exit      func(code int)
	logger    *slog.Logger
}

// New creates a Watchdog. If logger is nil, slog.Default() is used.
func New(cfg Config, logger *slog.Logger) *Watchdog {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = DefaultTolerance
	}
	if cfg.Exit == nil {
		cfg.Exit = os.Exit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watchdog{
		interval:  cfg.Interval,
		tolerance: cfg.Tolerance,
		exit:      cfg.Exit,
		logger:    logger,
	}
}

// Beat records a heartbeat from the game. The first Beat arms the watchdog.
func (w *Watchdog) Beat() {
	w.beatAt(time.Now())
}

func (w *Watchdog) beatAt(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.armed = true
	w.lastBeat = now
}

// Armed reports whether at least one heartbeat has been received.
func (w *Watchdog) Armed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.armed
}

// Run checks liveness every interval until ctx is cancelled. When the game
// has been silent past the tolerance, the configured exit function is
// called. Run blocks; start it on its own goroutine.
func (w *Watchdog) Run(ctx context.Context) {
	w.logger.Info("watchdog started", "interval", w.interval, "tolerance", w.tolerance)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if stale, silence := w.checkAt(now); stale {
				w.logger.Error("no heartbeat from game; shutting down", "silence", silence)
				w.exit(0)
				return
			}
		}
	}
}

// checkAt reports whether the game has been silent past the tolerance at
// the given instant, and for how long.
func (w *Watchdog) checkAt(now time.Time) (bool, time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.armed {
		return false, 0
	}
	silence := now.Sub(w.lastBeat)
	return silence > w.tolerance, silence
}

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bdobrica/Yukari/internal/yukari/store"
)

const (
	// DefaultRefreshTimeout is the hard ceiling on the context-refresh wait.
	// If the game has not pushed fresh state by then, the reply proceeds on
	// whatever context is already held — stale beats blocked.
	DefaultRefreshTimeout = 4 * time.Second

	// FallbackLotDescription is used when no description has been stored for
	// the current zone.
	FallbackLotDescription = "A building."

	// FallbackLotName is used when the game did not report a lot name.
	FallbackLotName = "Current Lot"
)

// ErrInvalidMode is returned by Begin when the init payload carries an
// unrecognized conversation mode.
var ErrInvalidMode = errors.New("session: mode must be SINGLE or GROUP")

// MemoryStore is the minimal persistence interface the manager needs.
// *store.Store satisfies it.
type MemoryStore interface {
	AppendEvent(ctx context.Context, ev store.EventMemory) error
	QueryRelevant(ctx context.Context, currentIDs []int64, scanLimit, resultCap int) (string, error)
	AppendTurn(ctx context.Context, speaker, role, message string) error
	LocationDescription(ctx context.Context, zoneID int64) (string, error)
}

// WorldResolver supplies the narrative world context for a location.
// *worlds.Catalog satisfies it.
type WorldResolver interface {
	EnvironmentContext(worldID, neighborhoodID int64) string
}

// Config holds construction options for the Manager.
type Config struct {
	// RefreshTimeout bounds the context-refresh wait. Defaults to
	// DefaultRefreshTimeout when zero.
	RefreshTimeout time.Duration
}

// Manager owns the single session record. All lifecycle state — status, the
// pending game command, the refresh handshake flags, history — lives behind
// one mutex; the refresh wait itself happens outside the lock on a one-shot
// channel so handlers and the game's poll loop are never blocked by it.
type Manager struct {
	mu             sync.Mutex
	status         Status
	command        Command
	sessionID      string
	world          Context
	env            Environment
	history        []Turn
	sharedMemories string
	awaiting       bool
	refreshed      chan struct{}

	store          MemoryStore
	worlds         WorldResolver
	summarizer     Summarizer
	refreshTimeout time.Duration
	logger         *slog.Logger
}

// NewManager creates a session Manager. If logger is nil, slog.Default()
// is used.
func NewManager(st MemoryStore, wr WorldResolver, sum Summarizer, cfg Config, logger *slog.Logger) *Manager {
	if sum == nil {
		sum = NoopSummarizer{}
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = DefaultRefreshTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		status:         StatusInactive,
		command:        CommandWait,
		store:          st,
		worlds:         wr,
		summarizer:     sum,
		refreshTimeout: cfg.RefreshTimeout,
		logger:         logger,
	}
}

// Begin adopts an initialization payload from the game and activates the
// session. Sub-lookups that miss (unknown zone, empty event store) degrade
// to defaults — they never fail the caller. Only an invalid mode is an
// error.
func (m *Manager) Begin(ctx context.Context, init Context) error {
	if !ValidMode(init.Mode) {
		return fmt.Errorf("%w: got %q", ErrInvalidMode, init.Mode)
	}

	env := m.deriveEnvironment(ctx, init.Location)

	// The one-time relevance query: computed before the lock is taken so a
	// slow disk never stalls the game's poll loop.
	ids := init.ParticipantIDs()
	memories, err := m.store.QueryRelevant(ctx, ids, store.DefaultScanLimit, store.DefaultResultCap)
	if err != nil {
		m.logger.Warn("relevance query failed; continuing without shared history", "err", err)
		memories = store.NoRelevantHistory
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.status = StatusActive
	m.command = CommandWait
	m.sessionID = uuid.New().String()
	m.world = init.clone()
	m.env = env
	m.history = nil
	m.sharedMemories = memories

	// A waiter left over from a previous session must not hang.
	m.releaseRefreshLocked()

	m.logger.Info("session started",
		"session_id", m.sessionID,
		"mode", init.Mode,
		"participants", len(ids),
		"lot", env.LotName,
	)
	return nil
}

// Refresh merges a fresh world snapshot pushed by the game, recomputes the
// derived environment, resets the pending command to WAIT, and releases a
// blocked refresh wait if one is outstanding. Idempotent: applying the same
// update twice produces the same context.
func (m *Manager) Refresh(ctx context.Context, u Update) {
	env := m.deriveEnvironment(ctx, u.Location)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.world.merge(u)
	m.env = env
	m.command = CommandWait
	m.releaseRefreshLocked()

	m.logger.Info("context refreshed from game", "session_id", m.sessionID, "lot", env.LotName)
}

// AwaitRefresh asks the game for fresh world state and blocks until it
// arrives, the hard ceiling expires, or ctx is cancelled. At most one
// SCRAPE is outstanding at a time: concurrent callers join the in-flight
// handshake instead of issuing a second command. Returns true when fresh
// state was applied, false when the wait timed out and the caller should
// proceed on stale context.
func (m *Manager) AwaitRefresh(ctx context.Context) bool {
	m.mu.Lock()
	if m.status != StatusActive {
		m.mu.Unlock()
		return false
	}
	if !m.awaiting {
		m.awaiting = true
		m.command = CommandScrape
		m.refreshed = make(chan struct{})
		m.logger.Info("requesting context update from game", "session_id", m.sessionID)
	}
	ch := m.refreshed
	timeout := m.refreshTimeout
	m.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return true
	case <-timer.C:
	case <-ctx.Done():
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// The refresh may have landed between the timer firing and the lock
	// being reacquired; Refresh swaps the channel out, so a mismatch means
	// fresh state arrived after all.
	if m.refreshed != ch {
		return true
	}

	m.awaiting = false
	m.refreshed = nil
	if m.command == CommandScrape {
		m.command = CommandWait
	}
	m.logger.Warn("context refresh timed out; proceeding with stale context",
		"session_id", m.sessionID, "timeout", timeout)
	return false
}

// RecordTurn appends a turn to the session history and the durable
// conversation log. A failed durable append is logged and swallowed:
// conversation continuity outranks audit completeness.
func (m *Manager) RecordTurn(ctx context.Context, speaker, role, text string) {
	m.mu.Lock()
	m.history = append(m.history, Turn{Role: role, Text: text})
	m.mu.Unlock()

	if err := m.store.AppendTurn(ctx, speaker, role, text); err != nil {
		m.logger.Warn("failed to persist conversation turn", "speaker", speaker, "err", err)
	}
}

// RecordQuietTurn appends a turn to the in-memory history only. Used for
// the passive [CONTINUE] marker, which is session context rather than an
// auditable utterance.
func (m *Manager) RecordQuietTurn(role, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, Turn{Role: role, Text: text})
}

// End closes the session: the game is told to RESUME on its next poll and
// the session enters ENDING. When the session saw any turns, the history is
// summarized and — if the roster holds at least two distinct identifiers —
// one event memory is appended. An in-flight refresh is left to complete or
// time out on its own. Calling End while no session is active is a no-op.
func (m *Manager) End(ctx context.Context) {
	m.mu.Lock()
	if m.status != StatusActive {
		m.mu.Unlock()
		m.logger.Info("end requested with no active session")
		return
	}

	m.command = CommandResume
	m.status = StatusEnding

	history := append([]Turn(nil), m.history...)
	ids := m.world.ParticipantIDs()
	roster := m.world.Roster()
	location := m.env.LotName
	timeCtx := m.world.TimeContext
	sessionID := m.sessionID
	m.mu.Unlock()

	if len(history) == 0 {
		m.logger.Info("session ended with no turns; nothing to summarize", "session_id", sessionID)
		return
	}

	summary, err := m.summarizer.Summarize(ctx, history, roster)
	if err != nil || summary == "" {
		m.logger.Warn("summarizer failed; storing fallback summary", "session_id", sessionID, "err", err)
		summary = FallbackSummary
	}

	if len(ids) < 2 {
		m.logger.Info("session ended without enough participants for an event memory",
			"session_id", sessionID, "participants", len(ids))
		return
	}

	ev := store.EventMemory{
		ParticipantIDs:   ids,
		Summary:          summary,
		ParticipantNames: roster,
		Location:         location,
		TimeContext:      timeCtx,
		SessionID:        sessionID,
	}
	if err := m.store.AppendEvent(ctx, ev); err != nil {
		m.logger.Warn("failed to persist event memory", "session_id", sessionID, "err", err)
	}
}

// PollCommand answers the game's "what should I do" poll. Observing RESUME
// while the session is ENDING is the one-shot transition that fully closes
// the session: the first poll sees RESUME, every later poll sees WAIT on an
// inactive session.
func (m *Manager) PollCommand() Command {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status == StatusEnding {
		m.status = StatusInactive
		m.command = CommandWait
		m.logger.Info("game observed RESUME; session closed", "session_id", m.sessionID)
		return CommandResume
	}
	return m.command
}

// Snapshot returns a consistent deep copy of the session for the reply
// pipeline.
func (m *Manager) Snapshot() ReplyRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ReplyRequest{
		Context:        m.world.clone(),
		Environment:    m.env,
		SharedMemories: m.sharedMemories,
		History:        append([]Turn(nil), m.history...),
	}
}

// Status returns the current lifecycle state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Mode returns the active conversation mode ("" when inactive).
func (m *Manager) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.world.Mode
}

// TargetName returns the display name the UI shell shows for the session:
// the (first) conversation target, or "Unknown" before one is known.
func (m *Manager) TargetName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.world.Participants) > 0 && m.world.Participants[0].Name != "" {
		return m.world.Participants[0].Name
	}
	return "Unknown"
}

// ResetHistory drops the in-memory history buffer. Used by the purge
// endpoint together with Store.Purge.
func (m *Manager) ResetHistory() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = nil
}

// deriveEnvironment computes the display environment for a location: the
// stored per-zone description (generic fallback on a miss) and the world
// narrative context from the catalog.
func (m *Manager) deriveEnvironment(ctx context.Context, loc Location) Environment {
	lot := FallbackLotDescription
	desc, err := m.store.LocationDescription(ctx, loc.ZoneID)
	switch {
	case err == nil && desc != "":
		lot = desc
	case err != nil && !errors.Is(err, store.ErrLocationNotFound):
		m.logger.Warn("location lookup failed; using fallback description", "zone_id", loc.ZoneID, "err", err)
	}

	lotName := loc.LotName
	if lotName == "" {
		lotName = FallbackLotName
	}

	return Environment{
		Lot:          lot,
		LotName:      lotName,
		WorldContext: m.worlds.EnvironmentContext(loc.WorldID, loc.NeighborhoodID),
	}
}

// releaseRefreshLocked clears the awaiting flag and wakes a blocked
// AwaitRefresh. Must be called with mu held.
func (m *Manager) releaseRefreshLocked() {
	if !m.awaiting {
		return
	}
	m.awaiting = false
	close(m.refreshed)
	m.refreshed = nil
}

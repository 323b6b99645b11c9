// Package server exposes the HTTP surface the game scripts and the chat UI
// talk to: session lifecycle, the command poll, heartbeats, the reply
// pipeline, and location/data management.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/bdobrica/Yukari/common/trace"
	"github.com/bdobrica/Yukari/common/version"
	"github.com/bdobrica/Yukari/internal/yukari/session"
	"github.com/bdobrica/Yukari/internal/yukari/store"
)

// PassiveMarker is the literal the UI sends when the player stays silent
// and lets the scene continue on its own.
const PassiveMarker = "[CONTINUE]"

// passiveNarration replaces the marker in the prompt-visible history.
const passiveNarration = "Player listens silently."

// replyFailureNotice is returned to the UI when generation fails outright.
const replyFailureNotice = "[System]: AI request failed. Check server logs."

// SessionManager is what the server needs from the session layer.
// *session.Manager satisfies it.
type SessionManager interface {
	Begin(ctx context.Context, init session.Context) error
	Refresh(ctx context.Context, u session.Update)
	AwaitRefresh(ctx context.Context) bool
	RecordTurn(ctx context.Context, speaker, role, text string)
	RecordQuietTurn(role, text string)
	End(ctx context.Context)
	PollCommand() session.Command
	Snapshot() session.ReplyRequest
	Status() session.Status
	Mode() session.Mode
	TargetName() string
	ResetHistory()
}

// DataStore is what the server needs from the persistence layer.
// *store.Store satisfies it.
type DataStore interface {
	LocationDescription(ctx context.Context, zoneID int64) (string, error)
	SetLocationDescription(ctx context.Context, zoneID int64, description string) error
	Purge(ctx context.Context) error
	EventCount(ctx context.Context) (int, error)
	TurnCount(ctx context.Context) (int, error)
}

// Heartbeat is what the server needs from the liveness watchdog.
type Heartbeat interface {
	Beat()
	Armed() bool
}

// Config holds options for creating a Server.
type Config struct {
	// Addr is the listen address, e.g. ":3000".
	Addr string
}

// Server wires the HTTP routes to the session manager, the store, the
// generation backend, and the watchdog.
type Server struct {
	addr      string
	sessions  SessionManager
	store     DataStore
	generator session.Generator
	heartbeat Heartbeat
	logger    *slog.Logger
	startedAt time.Time

	// replyMu serializes reply cycles so that at most one refresh
	// handshake and one generation request is in flight.
	replyMu sync.Mutex

	mux    *http.ServeMux
	server *http.Server
}

// New creates a Server (does not start it). If logger is nil,
// slog.Default() is used.
func New(cfg Config, sessions SessionManager, st DataStore, gen session.Generator, hb Heartbeat, logger *slog.Logger) *Server {
	if gen == nil {
		gen = session.NoopGenerator{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		addr:      cfg.Addr,
		sessions:  sessions,
		store:     st,
		generator: gen,
		heartbeat: hb,
		logger:    logger,
		startedAt: time.Now(),
		mux:       http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/game/init", s.handleGameInit)
	s.mux.HandleFunc("/game/update", s.handleGameUpdate)
	s.mux.HandleFunc("/game/status", s.handleGameStatus)
	s.mux.HandleFunc("/system/heartbeat", s.handleHeartbeat)
	s.mux.HandleFunc("/app/send", s.handleSend)
	s.mux.HandleFunc("/ui/end", s.handleEnd)
	s.mux.HandleFunc("/ui/poll", s.handlePoll)
	s.mux.HandleFunc("/location/get", s.handleLocationGet)
	s.mux.HandleFunc("/location/update", s.handleLocationUpdate)
	s.mux.HandleFunc("/data/purge", s.handlePurge)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/status", s.handleStatus)
}

// ServeHTTP implements http.Handler so the server can be tested without a
// live network listener. Every request gets a trace ID for correlating the
// handler's log lines with the reply pipeline's.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := trace.WithTraceID(r.Context(), trace.GenerateID())
	s.mux.ServeHTTP(w, r.WithContext(ctx))
}

// Start begins listening in the background. Blocks until the listener is
// established so the caller knows the port is open before returning.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.addr, err)
	}

	s.server = &http.Server{
		Handler:      s,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		s.logger.Info("http server listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// Stop shuts down the HTTP server.
func (s *Server) Stop() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("http server shutdown error", "err", err)
	}
}

// --- game routes ---

func (s *Server) handleGameInit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := validateJSON(initSchema, body); err != nil {
		s.logger.Warn("rejected malformed init payload", "err", err)
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}

	var init session.Context
	if err := json.Unmarshal(body, &init); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.sessions.Begin(r.Context(), init); err != nil {
		if errors.Is(err, session.ErrInvalidMode) {
			http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
			return
		}
		s.logger.Error("failed to start session", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleGameUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := validateJSON(updateSchema, body); err != nil {
		s.logger.Warn("rejected malformed update payload", "err", err)
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}

	var u session.Update
	if err := json.Unmarshal(body, &u); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}

	s.sessions.Refresh(r.Context(), u)
	writeJSON(w, map[string]string{"status": "updated"})
}

func (s *Server) handleGameStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]string{"command": string(s.sessions.PollCommand())})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.heartbeat.Beat()
	writeJSON(w, map[string]string{"status": "alive"})
}

// --- chat routes ---

type sendRequest struct {
	Text string `json:"text"`
}

type sendResponse struct {
	Reply string `json:"reply"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}

	reply := s.replyCycle(r.Context(), req.Text)
	writeJSON(w, sendResponse{Reply: reply})
}

// replyCycle runs one full turn: record the player's input, ask the game
// for fresh context, generate the cast's reply, and record it. Cycles are
// serialized so concurrent sends cannot interleave refresh handshakes.
func (s *Server) replyCycle(ctx context.Context, text string) string {
	passive := strings.TrimSpace(text) == PassiveMarker
	if passive {
		text = "(Player listens and waits for the others to continue...)"
	}

	s.replyMu.Lock()
	defer s.replyMu.Unlock()

	if passive {
		s.sessions.RecordQuietTurn("System", passiveNarration)
	} else {
		s.sessions.RecordTurn(ctx, "Player", "Player", text)
	}

	// An unconfigured backend answers immediately; no point asking the
	// game for fresh context first.
	if ready, ok := s.generator.(interface{ Ready() bool }); ok && !ready.Ready() {
		return session.UnconfiguredNotice
	}

	s.sessions.AwaitRefresh(ctx)

	snap := s.sessions.Snapshot()
	snap.Passive = passive

	reply, err := s.generator.Generate(ctx, snap)
	if err != nil {
		s.logger.Error("reply generation failed", "trace_id", trace.FromContext(ctx), "err", err)
		reply = replyFailureNotice
	}

	speaker := "Sim"
	if snap.Context.Mode == session.ModeGroup {
		speaker = "Group"
	}
	s.sessions.RecordTurn(ctx, speaker, "AI", reply)
	return reply
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.sessions.End(r.Context())
	writeJSON(w, map[string]string{"status": "ok"})
}

type pollResponse struct {
	Status  string `json:"status"`
	SimName string `json:"sim_name"`
	Mode    string `json:"mode"`
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, pollResponse{
		Status:  string(s.sessions.Status()),
		SimName: s.sessions.TargetName(),
		Mode:    string(s.sessions.Mode()),
	})
}

// --- location routes ---

type locationRequest struct {
	ZoneID      int64  `json:"zone_id"`
	Description string `json:"description"`
}

func (s *Server) handleLocationGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req locationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}

	desc, err := s.store.LocationDescription(r.Context(), req.ZoneID)
	if err != nil && !errors.Is(err, store.ErrLocationNotFound) {
		s.logger.Error("location lookup failed", "zone_id", req.ZoneID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"description": desc})
}

func (s *Server) handleLocationUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req locationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.ZoneID == 0 {
		http.Error(w, "bad request: zone_id must not be zero", http.StatusBadRequest)
		return
	}

	if err := s.store.SetLocationDescription(r.Context(), req.ZoneID, req.Description); err != nil {
		s.logger.Error("location update failed", "zone_id", req.ZoneID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// --- data routes ---

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.store.Purge(r.Context()); err != nil {
		s.logger.Error("purge failed", "err", err)
		writeJSON(w, map[string]string{"status": "error"})
		return
	}
	s.sessions.ResetHistory()
	writeJSON(w, map[string]string{"status": "cleared"})
}

// --- observability routes ---

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, healthResponse{
		Status:  "ok",
		Version: version.Version,
		Commit:  version.GitCommit,
	})
}

type statusResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	Commit        string  `json:"commit"`
	UptimeSecs    float64 `json:"uptime_seconds"`
	Session       string  `json:"session"`
	GameConnected bool    `json:"game_connected"`
	EventCount    int     `json:"event_count"`
	TurnCount     int     `json:"turn_count"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.EventCount(r.Context())
	if err != nil {
		s.logger.Warn("event count failed", "err", err)
	}
	turns, err := s.store.TurnCount(r.Context())
	if err != nil {
		s.logger.Warn("turn count failed", "err", err)
	}

	writeJSON(w, statusResponse{
		Status:        "ok",
		Version:       version.Version,
		Commit:        version.GitCommit,
		UptimeSecs:    time.Since(s.startedAt).Seconds(),
		Session:       string(s.sessions.Status()),
		GameConnected: s.heartbeat.Armed(),
		EventCount:    events,
		TurnCount:     turns,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "err", err)
	}
}

func validateJSON(schema *jsonschema.Schema, body []byte) error {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return schema.Validate(doc)
}

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bdobrica/Yukari/internal/yukari/session"
	"github.com/bdobrica/Yukari/internal/yukari/store"
	"github.com/bdobrica/Yukari/internal/yukari/worlds"
)

type fakeGenerator struct {
	mu    sync.Mutex
	reply string
	last  session.ReplyRequest
	calls int
}

func (f *fakeGenerator) Generate(_ context.Context, req session.ReplyRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = req
	return f.reply, nil
}

func (f *fakeGenerator) lastRequest() session.ReplyRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

type unreadyGenerator struct{ fakeGenerator }

func (u *unreadyGenerator) Ready() bool { return false }

type fakeHeartbeat struct {
	mu    sync.Mutex
	beats int
}

func (f *fakeHeartbeat) Beat() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beats++
}

func (f *fakeHeartbeat) Armed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.beats > 0
}

func newTestServer(t *testing.T, gen session.Generator) (*Server, *store.Store, *fakeHeartbeat) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "yukari.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	mgr := session.NewManager(st, worlds.NewDefault(), nil,
		session.Config{RefreshTimeout: 50 * time.Millisecond}, nil)
	hb := &fakeHeartbeat{}
	srv := New(Config{Addr: ":0"}, mgr, st, gen, hb, nil)
	return srv, st, hb
}

const validInit = `{
	"mode": "SINGLE",
	"time_context": "Monday morning",
	"location": {"zone_id": 100, "world_id": 1, "neighborhood_id": 2, "lot_name": "The Old Mill"},
	"player": {"sim_id": 11, "name": "Jo"},
	"participants": [{"sim_id": 22, "name": "Bella", "mood": "Happy"}]
}`

func doJSON(t *testing.T, srv http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	var parsed map[string]any
	if rec.Body.Len() > 0 && strings.Contains(rec.Header().Get("Content-Type"), "json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &parsed); err != nil {
			t.Fatalf("decode %s %s response: %v (%s)", method, path, err, rec.Body.String())
		}
	}
	return rec, parsed
}

func TestGameInit(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeGenerator{reply: "hi"})

	rec, body := doJSON(t, srv, http.MethodPost, "/game/init", validInit)
	if rec.Code != http.StatusOK {
		t.Fatalf("init status = %d: %s", rec.Code, rec.Body.String())
	}
	if body["status"] != "ok" {
		t.Fatalf("init body = %v", body)
	}

	_, poll := doJSON(t, srv, http.MethodGet, "/ui/poll", "")
	if poll["status"] != "ACTIVE" || poll["sim_name"] != "Bella" || poll["mode"] != "SINGLE" {
		t.Fatalf("poll = %v", poll)
	}

	_, cmd := doJSON(t, srv, http.MethodGet, "/game/status", "")
	if cmd["command"] != "WAIT" {
		t.Fatalf("command = %v", cmd)
	}
}

func TestGameInitRejectsMalformedPayload(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeGenerator{})

	cases := []struct {
		name string
		body string
	}{
		{"not json", "{nope"},
		{"missing mode", `{"location": {"zone_id": 1}, "player": {"sim_id": 1}}`},
		{"bad mode", `{"mode": "TRIO", "location": {"zone_id": 1}, "player": {"sim_id": 1}}`},
		{"missing zone", `{"mode": "SINGLE", "location": {}, "player": {"sim_id": 1}}`},
		{"string sim id", `{"mode": "SINGLE", "location": {"zone_id": 1}, "player": {"sim_id": "abc"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, _ := doJSON(t, srv, http.MethodPost, "/game/init", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestMethodChecks(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeGenerator{})

	cases := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/game/init"},
		{http.MethodGet, "/game/update"},
		{http.MethodPost, "/game/status"},
		{http.MethodGet, "/system/heartbeat"},
		{http.MethodGet, "/app/send"},
		{http.MethodGet, "/ui/end"},
		{http.MethodPost, "/ui/poll"},
		{http.MethodGet, "/data/purge"},
	}
	for _, tc := range cases {
		rec, _ := doJSON(t, srv, tc.method, tc.path, "{}")
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s = %d, want 405", tc.method, tc.path, rec.Code)
		}
	}
}

func TestHeartbeat(t *testing.T) {
	srv, _, hb := newTestServer(t, &fakeGenerator{})

	rec, body := doJSON(t, srv, http.MethodPost, "/system/heartbeat", "")
	if rec.Code != http.StatusOK || body["status"] != "alive" {
		t.Fatalf("heartbeat = %d %v", rec.Code, body)
	}
	if !hb.Armed() {
		t.Fatal("heartbeat not forwarded to watchdog")
	}
}

func TestSendReplyCycle(t *testing.T) {
	gen := &fakeGenerator{reply: "Bella: Oh hey, you made it."}
	srv, st, _ := newTestServer(t, gen)

	if rec, _ := doJSON(t, srv, http.MethodPost, "/game/init", validInit); rec.Code != http.StatusOK {
		t.Fatalf("init failed: %s", rec.Body.String())
	}

	// Play the game's role: answer the SCRAPE with a context update.
	done := make(chan struct{})
	go func() {
		defer close(done)
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			_, cmd := doJSON(t, srv, http.MethodGet, "/game/status", "")
			if cmd["command"] == "SCRAPE" {
				doJSON(t, srv, http.MethodPost, "/game/update", `{
					"time_context": "Monday noon",
					"location": {"zone_id": 100, "world_id": 1, "neighborhood_id": 2, "lot_name": "The Old Mill"},
					"participants": [{"sim_id": 22, "name": "Bella", "mood": "Tense"}]
				}`)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	rec, body := doJSON(t, srv, http.MethodPost, "/app/send", `{"text": "Hello Bella."}`)
	<-done
	if rec.Code != http.StatusOK {
		t.Fatalf("send status = %d: %s", rec.Code, rec.Body.String())
	}
	if body["reply"] != "Bella: Oh hey, you made it." {
		t.Fatalf("reply = %v", body)
	}

	last := gen.lastRequest()
	if last.Passive {
		t.Fatal("active turn marked passive")
	}
	if len(last.History) != 1 || last.History[0].Text != "Hello Bella." {
		t.Fatalf("prompt history = %v", last.History)
	}
	if last.Context.Participants[0].Mood != "Tense" {
		t.Fatalf("refresh not applied before generation: mood = %q", last.Context.Participants[0].Mood)
	}

	// Player turn and AI turn both reach the durable log.
	turns, err := st.TurnCount(context.Background())
	if err != nil {
		t.Fatalf("TurnCount: %v", err)
	}
	if turns != 2 {
		t.Fatalf("durable turns = %d, want 2", turns)
	}
}

func TestSendPassiveMarker(t *testing.T) {
	gen := &fakeGenerator{reply: "Bella: So anyway, as I was saying..."}
	srv, st, _ := newTestServer(t, gen)

	if rec, _ := doJSON(t, srv, http.MethodPost, "/game/init", validInit); rec.Code != http.StatusOK {
		t.Fatalf("init failed: %s", rec.Body.String())
	}

	rec, _ := doJSON(t, srv, http.MethodPost, "/app/send", `{"text": "[CONTINUE]"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("send status = %d", rec.Code)
	}

	last := gen.lastRequest()
	if !last.Passive {
		t.Fatal("passive marker not flagged")
	}
	if len(last.History) != 1 || last.History[0].Text != "Player listens silently." {
		t.Fatalf("prompt history = %v", last.History)
	}

	// Only the AI turn is durably logged; the silent marker is not.
	turns, err := st.TurnCount(context.Background())
	if err != nil {
		t.Fatalf("TurnCount: %v", err)
	}
	if turns != 1 {
		t.Fatalf("durable turns = %d, want 1", turns)
	}
}

func TestSendUnconfiguredBackend(t *testing.T) {
	srv, _, _ := newTestServer(t, &unreadyGenerator{})

	if rec, _ := doJSON(t, srv, http.MethodPost, "/game/init", validInit); rec.Code != http.StatusOK {
		t.Fatalf("init failed: %s", rec.Body.String())
	}

	start := time.Now()
	_, body := doJSON(t, srv, http.MethodPost, "/app/send", `{"text": "hi"}`)
	if body["reply"] != session.UnconfiguredNotice {
		t.Fatalf("reply = %v", body)
	}
	// No SCRAPE handshake for an unconfigured backend.
	if elapsed := time.Since(start); elapsed > 40*time.Millisecond {
		t.Fatalf("unconfigured send took %v, should not wait for a refresh", elapsed)
	}
}

func TestEndResumeFlow(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeGenerator{})

	if rec, _ := doJSON(t, srv, http.MethodPost, "/game/init", validInit); rec.Code != http.StatusOK {
		t.Fatalf("init failed: %s", rec.Body.String())
	}

	rec, body := doJSON(t, srv, http.MethodPost, "/ui/end", "")
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("end = %d %v", rec.Code, body)
	}

	_, first := doJSON(t, srv, http.MethodGet, "/game/status", "")
	if first["command"] != "RESUME" {
		t.Fatalf("first poll = %v, want RESUME", first)
	}
	_, second := doJSON(t, srv, http.MethodGet, "/game/status", "")
	if second["command"] != "WAIT" {
		t.Fatalf("second poll = %v, want WAIT", second)
	}
	_, poll := doJSON(t, srv, http.MethodGet, "/ui/poll", "")
	if poll["status"] != "INACTIVE" {
		t.Fatalf("ui poll after resume = %v", poll)
	}
}

func TestLocationEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeGenerator{})

	_, body := doJSON(t, srv, http.MethodPost, "/location/get", `{"zone_id": 500}`)
	if body["description"] != "" {
		t.Fatalf("unknown zone description = %v", body)
	}

	rec, _ := doJSON(t, srv, http.MethodPost, "/location/update",
		`{"zone_id": 500, "description": "A rooftop bar with string lights."}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update = %d", rec.Code)
	}

	_, body = doJSON(t, srv, http.MethodPost, "/location/get", `{"zone_id": 500}`)
	if body["description"] != "A rooftop bar with string lights." {
		t.Fatalf("description = %v", body)
	}

	rec, _ = doJSON(t, srv, http.MethodPost, "/location/update", `{"description": "no zone"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("zero zone update = %d, want 400", rec.Code)
	}
}

func TestPurgeKeepsLocations(t *testing.T) {
	srv, st, _ := newTestServer(t, &fakeGenerator{})
	ctx := context.Background()

	doJSON(t, srv, http.MethodPost, "/location/update", `{"zone_id": 7, "description": "A gym."}`)
	if err := st.AppendTurn(ctx, "Player", "Player", "hello"); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	rec, body := doJSON(t, srv, http.MethodPost, "/data/purge", "")
	if rec.Code != http.StatusOK || body["status"] != "cleared" {
		t.Fatalf("purge = %d %v", rec.Code, body)
	}

	turns, err := st.TurnCount(ctx)
	if err != nil {
		t.Fatalf("TurnCount: %v", err)
	}
	if turns != 0 {
		t.Fatalf("turns after purge = %d", turns)
	}
	_, body = doJSON(t, srv, http.MethodPost, "/location/get", `{"zone_id": 7}`)
	if body["description"] != "A gym." {
		t.Fatalf("location lost in purge: %v", body)
	}
}

func TestHealthAndStatus(t *testing.T) {
	srv, _, hb := newTestServer(t, &fakeGenerator{})
	hb.Beat()

	rec, body := doJSON(t, srv, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health = %d %v", rec.Code, body)
	}

	_, body = doJSON(t, srv, http.MethodGet, "/status", "")
	if body["session"] != "INACTIVE" {
		t.Fatalf("status session = %v", body)
	}
	if body["game_connected"] != true {
		t.Fatalf("status game_connected = %v", body)
	}
}

package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bdobrica/Yukari/internal/yukari/session"
)

func chatServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"` + reply + `"}}]}`))
	}))
}

func testReplyRequest() session.ReplyRequest {
	return session.ReplyRequest{
		Context: session.Context{
			Mode:        session.ModeSingle,
			TimeContext: "Sunday night",
			Player:      session.Participant{SimID: 1, Name: "Jo"},
			Participants: []session.Participant{
				{SimID: 2, Name: "Bella", Mood: "Flirty", Traits: []string{"Romantic"}},
			},
		},
		Environment:    session.Environment{Lot: "A dim bar.", LotName: "The Shrieking Llama", WorldContext: "Windenburg"},
		SharedMemories: "- [Sunday at The Shrieking Llama]: They met. (Participants: Player, Bella)",
		History:        []session.Turn{{Role: "Player", Text: "Hey."}},
	}
}

func TestGenerate(t *testing.T) {
	srv := chatServer(t, "Bella: Hey yourself. *smiles*")
	defer srv.Close()

	c := New(Config{APIKey: "test-key", BaseURL: srv.URL})
	got, err := c.Generate(context.Background(), testReplyRequest())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "Bella: Hey yourself. *smiles*" {
		t.Fatalf("reply = %q", got)
	}
}

func TestGenerateUnconfigured(t *testing.T) {
	c := New(Config{})
	got, err := c.Generate(context.Background(), testReplyRequest())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != session.UnconfiguredNotice {
		t.Fatalf("reply = %q, want unconfigured notice", got)
	}
}

func TestSummarize(t *testing.T) {
	srv := chatServer(t, "They flirted at the bar.")
	defer srv.Close()

	c := New(Config{APIKey: "test-key", BaseURL: srv.URL})
	got, err := c.Summarize(context.Background(),
		[]session.Turn{{Role: "Player", Text: "Hey."}, {Role: "AI", Text: "Bella: Hey yourself."}},
		"Player, Bella")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got != "They flirted at the bar." {
		t.Fatalf("summary = %q", got)
	}
}

func TestSummarizeEmptyHistory(t *testing.T) {
	c := New(Config{APIKey: "test-key"})
	if _, err := c.Summarize(context.Background(), nil, "Player"); err == nil {
		t.Fatal("expected error for empty history")
	}
}

func TestRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer srv.Close()

	c := New(Config{APIKey: "test-key", BaseURL: srv.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	got, err := c.Generate(ctx, testReplyRequest())
	if err != nil {
		t.Fatalf("Generate after retries: %v", err)
	}
	if got != "ok" {
		t.Fatalf("reply = %q", got)
	}
	if n := calls.Load(); n != 3 {
		t.Fatalf("calls = %d, want 3", n)
	}
}

func TestAPIErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	c := New(Config{APIKey: "wrong", BaseURL: srv.URL})
	if _, err := c.Generate(context.Background(), testReplyRequest()); err == nil {
		t.Fatal("expected error for rejected key")
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("calls = %d, want 1 (auth failures are not transient)", n)
	}
}

func TestBuildReplyPromptSingle(t *testing.T) {
	prompt := BuildReplyPrompt(testReplyRequest())

	for _, want := range []string{
		"Roleplay as Bella",
		"The Shrieking Llama (A dim bar.)",
		"World: Windenburg",
		"SHARED HISTORY",
		"Player: Hey.",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("single prompt missing %q", want)
		}
	}
	if !strings.HasSuffix(prompt, "Bella:") {
		t.Errorf("single prompt should end with the speaker cue, got %q", prompt[len(prompt)-30:])
	}
}

func TestBuildReplyPromptGroup(t *testing.T) {
	req := testReplyRequest()
	req.Context.Mode = session.ModeGroup
	req.Context.Participants = append(req.Context.Participants,
		session.Participant{SimID: 3, Name: "Mortimer", Traits: []string{"Gloomy"}})

	prompt := BuildReplyPrompt(req)
	for _, want := range []string{
		"Scriptwriter",
		"GROUP DYNAMICS PROTOCOL",
		"[Bella]",
		"[Mortimer]",
		"NEXT LINES:",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("group prompt missing %q", want)
		}
	}
	if strings.Contains(prompt, "THE PLAYER IS SILENT THIS TURN") {
		t.Error("active turn should not carry the silent-player instruction")
	}
}

func TestBuildReplyPromptGroupPassive(t *testing.T) {
	req := testReplyRequest()
	req.Context.Mode = session.ModeGroup
	req.Passive = true

	prompt := BuildReplyPrompt(req)
	if !strings.Contains(prompt, "THE PLAYER IS SILENT THIS TURN") {
		t.Error("passive turn should instruct the cast to talk to each other")
	}
}

func TestBuildSummaryPrompt(t *testing.T) {
	got := BuildSummaryPrompt([]session.Turn{
		{Role: "Player", Text: "Hi."},
		{Role: "AI", Text: "Bella: Hi."},
	}, "Player, Bella")

	if !strings.Contains(got, "Participants: Player, Bella") {
		t.Errorf("summary prompt missing roster: %q", got)
	}
	if !strings.Contains(got, "Player: Hi.\nAI: Bella: Hi.") {
		t.Errorf("summary prompt missing transcript: %q", got)
	}
	if !strings.HasSuffix(got, "SUMMARY:") {
		t.Errorf("summary prompt should end with the cue")
	}
}

package session

import "context"

// ReplyRequest is everything the generation backend needs to produce the
// next lines of dialogue: a consistent snapshot of the session taken under
// the manager's lock.
type ReplyRequest struct {
	Context        Context
	Environment    Environment
	SharedMemories string
	History        []Turn
	// Passive is true when the player submitted the silent [CONTINUE] turn
	// and the cast should talk among themselves.
	Passive bool
}

// Generator produces the reply text for a user turn. Implementations must
// be safe for concurrent use. The production implementation lives in the
// llm package; NoopGenerator keeps the core functional without one.
type Generator interface {
	Generate(ctx context.Context, req ReplyRequest) (string, error)
}

// Summarizer condenses a finished session into the short text stored as an
// event memory.
type Summarizer interface {
	Summarize(ctx context.Context, history []Turn, roster string) (string, error)
}

// UnconfiguredNotice is the inline reply returned when no generation
// backend is configured. It travels on the normal reply channel so the
// shell never sees a protocol error.
const UnconfiguredNotice = "[System]: AI backend not configured. Check settings."

// FallbackSummary is recorded when the summarizer is unavailable or fails;
// the event memory is still worth keeping for relevance matching.
const FallbackSummary = "Conversation happened."

// NoopGenerator is the default Generator when no API key is configured.
type NoopGenerator struct{}

func (NoopGenerator) Generate(ctx context.Context, req ReplyRequest) (string, error) {
	return UnconfiguredNotice, nil
}

// NoopSummarizer is the default Summarizer when no API key is configured.
type NoopSummarizer struct{}

func (NoopSummarizer) Summarize(ctx context.Context, history []Turn, roster string) (string, error) {
	return FallbackSummary, nil
}

// Compile-time interface satisfaction checks.
var (
	_ Generator  = NoopGenerator{}
	_ Summarizer = NoopSummarizer{}
)

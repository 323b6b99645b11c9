package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	// DefaultScanLimit is the number of most recent event memories inspected
	// during a relevance query.
	DefaultScanLimit = 50

	// DefaultResultCap is the maximum number of relevant memories included in
	// a digest. The scan stops as soon as the cap is reached, which biases
	// selection toward more recent events.
	DefaultResultCap = 5

	// NoRelevantHistory is returned by QueryRelevant when no stored event
	// shares enough participants with the current roster.
	NoRelevantHistory = "No relevant shared history found."
)

// EventMemory is a durable summarized record of one concluded conversation.
// Rows are append-only: created once at session end, never updated.
type EventMemory struct {
	ID               int64
	ParticipantIDs   []int64
	Summary          string
	ParticipantNames string
	Location         string
	TimeContext      string
	SessionID        string
	CreatedAt        time.Time
}

// AppendEvent inserts a new event memory. No dedup, no merge — the event
// log is strictly append-only.
func (s *Store) AppendEvent(ctx context.Context, ev EventMemory) error {
	idsJSON, err := json.Marshal(ev.ParticipantIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal participant ids: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO event_memories (participant_ids, summary, participant_names, location, time_context, session_id)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(idsJSON), ev.Summary, ev.ParticipantNames, ev.Location, ev.TimeContext, ev.SessionID)
	if err != nil {
		return fmt.Errorf("failed to insert event memory: %w", err)
	}

	slog.Info("event memory saved", "participants", ev.ParticipantNames, "session_id", ev.SessionID)
	return nil
}

// QueryRelevant scans the most recent scanLimit event memories in reverse
// insertion order and collects those whose participant set shares at least
// two identifiers with currentIDs. Collection stops at resultCap, so the
// selection favors recent events; the digest, however, is rendered oldest
// first. Returns NoRelevantHistory when nothing matches.
//
// Zero or negative scanLimit/resultCap fall back to the defaults.
func (s *Store) QueryRelevant(ctx context.Context, currentIDs []int64, scanLimit, resultCap int) (string, error) {
	if scanLimit <= 0 {
		scanLimit = DefaultScanLimit
	}
	if resultCap <= 0 {
		resultCap = DefaultResultCap
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT participant_ids, time_context, location, summary, participant_names
		FROM event_memories
		ORDER BY id DESC
		LIMIT ?
	`, scanLimit)
	if err != nil {
		return "", fmt.Errorf("failed to query event memories: %w", err)
	}
	defer rows.Close()

	current := make(map[int64]struct{}, len(currentIDs))
	for _, id := range currentIDs {
		current[id] = struct{}{}
	}

	var relevant []string
	for rows.Next() {
		var idsJSON, timeCtx, location, summary, names string
		if err := rows.Scan(&idsJSON, &timeCtx, &location, &summary, &names); err != nil {
			return "", fmt.Errorf("failed to scan event memory: %w", err)
		}

		var storedIDs []int64
		if err := json.Unmarshal([]byte(idsJSON), &storedIDs); err != nil {
			slog.Warn("skipping event memory with malformed participant ids", "err", err)
			continue
		}

		overlap := 0
		seen := make(map[int64]struct{}, len(storedIDs))
		for _, id := range storedIDs {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			if _, ok := current[id]; ok {
				overlap++
			}
		}

		if overlap >= 2 {
			relevant = append(relevant, fmt.Sprintf("- [%s at %s]: %s (Participants: %s)", timeCtx, location, summary, names))
			if len(relevant) >= resultCap {
				break
			}
		}
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("failed to iterate event memories: %w", err)
	}

	if len(relevant) == 0 {
		return NoRelevantHistory, nil
	}

	// The scan collected newest first; present the digest chronologically.
	for i, j := 0, len(relevant)-1; i < j; i, j = i+1, j-1 {
		relevant[i], relevant[j] = relevant[j], relevant[i]
	}
	return strings.Join(relevant, "\n"), nil
}

// EventCount returns the number of stored event memories.
func (s *Store) EventCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM event_memories").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count event memories: %w", err)
	}
	return count, nil
}

// Purge irreversibly deletes all event memories and conversation log rows
// and resets their id sequences. Location descriptions are configured world
// knowledge, not conversation history, and are deliberately left untouched.
func (s *Store) Purge(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin purge transaction: %w", err)
	}

	stmts := []string{
		"DELETE FROM conversation_log",
		"DELETE FROM event_memories",
		`DELETE FROM sqlite_sequence WHERE name IN ('conversation_log', 'event_memories')`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to purge history: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit purge: %w", err)
	}

	slog.Info("conversation history and event memories purged")
	return nil
}

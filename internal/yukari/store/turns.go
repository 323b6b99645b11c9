package store

import (
	"context"
	"fmt"
	"time"
)

// ConversationTurn is one durably logged turn of the active session.
// The log is append-only and exists for debugging and audit; the relevance
// engine never reads it back.
type ConversationTurn struct {
	ID        int64
	Speaker   string
	Role      string
	Message   string
	CreatedAt time.Time
}

// AppendTurn logs a single conversation turn.
func (s *Store) AppendTurn(ctx context.Context, speaker, role, message string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_log (speaker, role, message)
		VALUES (?, ?, ?)
	`, speaker, role, message)
	if err != nil {
		return fmt.Errorf("failed to append conversation turn: %w", err)
	}
	return nil
}

// TurnCount returns the number of logged conversation turns.
func (s *Store) TurnCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM conversation_log").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count conversation turns: %w", err)
	}
	return count, nil
}

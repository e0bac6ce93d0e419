package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Turn roles in the conversation log.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one role-tagged message in the durable transcript.
type Turn struct {
	ID        int64
	ChatID    string
	Role      string
	Content   string
	SessionID string
	CreatedAt int64
}

// AppendTurn records one transcript row. It is a straight append: empty
// content or odd roles are stored as given.
func (s *Store) AppendTurn(chatID, role, content, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var session any
	if strings.TrimSpace(sessionID) != "" {
		session = sessionID
	}
	_, err := s.db.Exec(`
		INSERT INTO conversation_log (chat_id, role, content, session_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, chatID, role, content, session, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// RecentTurns returns the last n transcript rows for a chat, most recent
// first, across both roles.
func (s *Store) RecentTurns(chatID string, n int) ([]Turn, error) {
	if n <= 0 {
		n = 20
	}
	rows, err := s.db.Query(`
		SELECT id, chat_id, role, content, session_id, created_at
		FROM conversation_log
		WHERE chat_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, chatID, n)
	if err != nil {
		return nil, fmt.Errorf("recent turns: %w", err)
	}
	defer rows.Close()

	result := make([]Turn, 0)
	for rows.Next() {
		var t Turn
		var session sql.NullString
		if err := rows.Scan(&t.ID, &t.ChatID, &t.Role, &t.Content, &session, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.SessionID = session.String
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return result, nil
}

// PruneTurns deletes all but the most recent keep rows globally, across
// every chat. A single chatty conversation can starve quiet ones; that is
// the accepted cost of a hard bound on total disk growth.
func (s *Store) PruneTurns(keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if keep < 0 {
		keep = 0
	}
	_, err := s.db.Exec(`
		DELETE FROM conversation_log
		WHERE id NOT IN (SELECT id FROM conversation_log ORDER BY id DESC LIMIT ?)
	`, keep)
	if err != nil {
		return fmt.Errorf("prune turns: %w", err)
	}
	return nil
}

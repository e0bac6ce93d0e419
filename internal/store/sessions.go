package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Session returns the agent session handle for a chat, if one exists.
func (s *Store) Session(chatID string) (string, bool, error) {
	var sessionID string
	err := s.db.QueryRow(`SELECT session_id FROM sessions WHERE chat_id = ?`, chatID).Scan(&sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get session: %w", err)
	}
	return sessionID, true, nil
}

// SetSession upserts the session handle for a chat, discarding any prior
// handle. History of old handles lives in the conversation log, not here.
func (s *Store) SetSession(chatID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO sessions (chat_id, session_id, updated_at)
		VALUES (?, ?, ?)
	`, chatID, sessionID, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("set session: %w", err)
	}
	return nil
}

// ClearSession removes the mapping. The caller is responsible for also
// dropping any in-memory context baseline keyed by the old session id.
func (s *Store) ClearSession(chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM sessions WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

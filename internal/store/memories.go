package store

import (
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Memory sectors. Sector does not change decay behavior yet; it is kept
// for future differential decay and for /memory inspection.
const (
	SectorSemantic = "semantic"
	SectorEpisodic = "episodic"
)

const (
	// Salience bounds: a touch nudges salience up by 0.1 capped at 5.0;
	// the decay sweep deletes anything that has fallen below 0.1.
	maxSalience      = 5.0
	touchBoost       = 0.1
	decayFactor      = 0.98
	evictionSalience = 0.1
	decayMinAge      = 86400 // seconds; memories younger than a day do not decay
)

// Memory is one durable fact extracted from a conversation turn.
type Memory struct {
	ID         int64
	ChatID     string
	TopicKey   string
	Content    string
	Sector     string
	Salience   float64
	CreatedAt  int64
	AccessedAt int64
}

// SaveMemory inserts a new memory with salience 1.0. Duplicate content
// creates duplicate rows; the decay sweep is the only consolidation.
func (s *Store) SaveMemory(chatID, content, sector, topicKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sector == "" {
		sector = SectorSemantic
	}
	var topic any
	if strings.TrimSpace(topicKey) != "" {
		topic = topicKey
	}
	now := time.Now().Unix()
	_, err := s.db.Exec(`
		INSERT INTO memories (chat_id, content, sector, topic_key, created_at, accessed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, chatID, content, sector, topic, now, now)
	if err != nil {
		return fmt.Errorf("save memory: %w", err)
	}
	return nil
}

var ftsStripRegex = regexp.MustCompile(`[^\w\s]`)

// sanitizeFTSQuery turns free text into an FTS5 match expression: strip
// punctuation, quote each token as a prefix match, implicit AND between
// tokens. Empty output means "nothing searchable".
func sanitizeFTSQuery(query string) string {
	cleaned := ftsStripRegex.ReplaceAllString(query, " ")
	tokens := strings.Fields(cleaned)
	if len(tokens) == 0 {
		return ""
	}
	parts := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		parts = append(parts, `"`+tok+`"*`)
	}
	return strings.Join(parts, " ")
}

// SearchMemories runs a lexical full-text search scoped to one chat,
// ordered by FTS relevance rank. A query that sanitizes to nothing
// returns an empty result, not an error.
func (s *Store) SearchMemories(chatID, query string, limit int) ([]Memory, error) {
	if limit <= 0 {
		limit = 3
	}
	match := sanitizeFTSQuery(query)
	if match == "" {
		return nil, nil
	}

	rows, err := s.db.Query(`
		SELECT m.id, m.chat_id, m.topic_key, m.content, m.sector, m.salience, m.created_at, m.accessed_at
		FROM memories m
		JOIN memories_fts f ON m.id = f.rowid
		WHERE memories_fts MATCH ? AND m.chat_id = ?
		ORDER BY rank
		LIMIT ?
	`, match, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// RecentMemories returns memories by pure access recency, independent of
// content relevance.
func (s *Store) RecentMemories(chatID string, limit int) ([]Memory, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.Query(`
		SELECT id, chat_id, topic_key, content, sector, salience, created_at, accessed_at
		FROM memories
		WHERE chat_id = ?
		ORDER BY accessed_at DESC, id DESC
		LIMIT ?
	`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent memories: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// TouchMemory reinforces a surfaced memory: salience up by 0.1 (capped at
// 5.0) and accessed_at reset to now.
func (s *Store) TouchMemory(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE memories
		SET accessed_at = ?, salience = MIN(salience + ?, ?)
		WHERE id = ?
	`, time.Now().Unix(), touchBoost, maxSalience, id)
	if err != nil {
		return fmt.Errorf("touch memory: %w", err)
	}
	return nil
}

// DecayMemories multiplies salience by 0.98 for every memory older than a
// day, then permanently deletes any memory below the eviction threshold.
// Safe on an empty table.
func (s *Store) DecayMemories() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Unix() - decayMinAge
	if _, err := s.db.Exec(`UPDATE memories SET salience = salience * ? WHERE created_at < ?`, decayFactor, cutoff); err != nil {
		return fmt.Errorf("decay memories: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM memories WHERE salience < ?`, evictionSalience); err != nil {
		return fmt.Errorf("evict memories: %w", err)
	}
	return nil
}

// MemoryCount reports the number of memories, optionally scoped to a chat.
func (s *Store) MemoryCount(chatID string) (int, error) {
	var row *sql.Row
	if chatID == "" {
		row = s.db.QueryRow(`SELECT COUNT(*) FROM memories`)
	} else {
		row = s.db.QueryRow(`SELECT COUNT(*) FROM memories WHERE chat_id = ?`, chatID)
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count memories: %w", err)
	}
	return n, nil
}

func scanMemories(rows *sql.Rows) ([]Memory, error) {
	result := make([]Memory, 0)
	for rows.Next() {
		var m Memory
		var topic sql.NullString
		if err := rows.Scan(&m.ID, &m.ChatID, &topic, &m.Content, &m.Sector, &m.Salience, &m.CreatedAt, &m.AccessedAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		m.TopicKey = topic.String
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memories: %w", err)
	}
	return result, nil
}

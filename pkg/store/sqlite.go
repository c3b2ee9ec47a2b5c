// Package store persists workflow checkpoints and conversation records in
// SQLite, so a restarted agent keeps its conversational memory and its
// per-peer statistics.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ykute07/agentconnect/pkg/interaction"
	"github.com/ykute07/agentconnect/pkg/reasoning"
)

// SQLiteStore implements reasoning.Checkpointer and keeps conversation
// records across restarts.
type SQLiteStore struct {
	db *sql.DB
}

func Open(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoints (
			thread_id  TEXT PRIMARY KEY,
			state      JSON NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE TABLE IF NOT EXISTS conversations (
			peer_id       TEXT PRIMARY KEY,
			message_count INTEGER NOT NULL,
			last_message  DATETIME NOT NULL
		);`)
	return err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Load(threadID string) (*reasoning.State, bool, error) {
	row := s.db.QueryRow("SELECT state FROM checkpoints WHERE thread_id=?", threadID)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	var st reasoning.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, false, fmt.Errorf("decode checkpoint %s: %w", threadID, err)
	}
	return &st, true, nil
}

func (s *SQLiteStore) Save(threadID string, st *reasoning.State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", threadID, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO checkpoints (thread_id, state, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET state=excluded.state, updated_at=excluded.updated_at`,
		threadID, raw, time.Now().UTC())
	return err
}

func (s *SQLiteStore) Delete(threadID string) error {
	_, err := s.db.Exec("DELETE FROM checkpoints WHERE thread_id=?", threadID)
	return err
}

// SaveConversations snapshots the tracker's records.
func (s *SQLiteStore) SaveConversations(records map[string]interaction.ConversationRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	for peerID, rec := range records {
		if _, err := tx.Exec(`
			INSERT INTO conversations (peer_id, message_count, last_message) VALUES (?, ?, ?)
			ON CONFLICT(peer_id) DO UPDATE SET message_count=excluded.message_count, last_message=excluded.last_message`,
			peerID, rec.MessageCount, rec.LastMessageTime.UTC()); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// LoadConversations restores persisted conversation records.
func (s *SQLiteStore) LoadConversations() (map[string]interaction.ConversationRecord, error) {
	rows, err := s.db.Query("SELECT peer_id, message_count, last_message FROM conversations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]interaction.ConversationRecord)
	for rows.Next() {
		var rec interaction.ConversationRecord
		if err := rows.Scan(&rec.PeerID, &rec.MessageCount, &rec.LastMessageTime); err != nil {
			return nil, err
		}
		out[rec.PeerID] = rec
	}
	return out, rows.Err()
}

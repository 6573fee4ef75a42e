package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"leadwire/internal/domain"
)

func (s *SQLiteStore) CreateMessage(ctx context.Context, m *domain.Message) error {
	meta, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages
		 (id, conversation_id, content, direction, status, ai_confidence,
		  provider, provider_message_id, metadata, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.Content, m.Direction, m.Status, m.AIConfidence,
		m.Provider, m.Metadata.ProviderMessageID, string(meta), m.Version, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	return s.scanMessage(s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, content, direction, status, ai_confidence,
		        provider, metadata, version, created_at, updated_at
		 FROM messages WHERE id = ?`, id))
}

func (s *SQLiteStore) GetMessageByProviderRef(ctx context.Context, providerMessageID string) (*domain.Message, error) {
	return s.scanMessage(s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, content, direction, status, ai_confidence,
		        provider, metadata, version, created_at, updated_at
		 FROM messages WHERE provider_message_id = ?
		 ORDER BY created_at DESC LIMIT 1`, providerMessageID))
}

// UpdateMessage writes the full message back, guarded by the version the
// caller read. On success the in-memory version is bumped to match the row.
func (s *SQLiteStore) UpdateMessage(ctx context.Context, m *domain.Message) error {
	meta, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages
		 SET conversation_id = ?, content = ?, direction = ?, status = ?,
		     ai_confidence = ?, provider = ?, provider_message_id = ?,
		     metadata = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		m.ConversationID, m.Content, m.Direction, m.Status,
		m.AIConfidence, m.Provider, m.Metadata.ProviderMessageID,
		string(meta), m.UpdatedAt,
		m.ID, m.Version,
	)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Either the row is gone or someone wrote first.
		if _, err := s.GetMessage(ctx, m.ID); err != nil {
			return err
		}
		return fmt.Errorf("message %s: %w", m.ID, domain.ErrOptimisticConflict)
	}
	m.Version++
	return nil
}

func (s *SQLiteStore) scanMessage(row *sql.Row) (*domain.Message, error) {
	var (
		m        domain.Message
		provider sql.NullString
		meta     string
	)
	err := row.Scan(&m.ID, &m.ConversationID, &m.Content, &m.Direction, &m.Status,
		&m.AIConfidence, &provider, &meta, &m.Version, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	m.Provider = provider.String
	if err := json.Unmarshal([]byte(meta), &m.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return &m, nil
}

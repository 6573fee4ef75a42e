package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"leadwire/internal/domain"
)

func (s *SQLiteStore) CreateConversation(ctx context.Context, c *domain.Conversation) error {
	meta, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations
		 (id, lead_id, status, phone_number, assigned_agent, last_activity,
		  metadata, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.LeadID, c.Status, c.PhoneNumber, c.AssignedAgent, c.LastActivity,
		string(meta), c.Version, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

const conversationColumns = `id, lead_id, status, phone_number, assigned_agent,
	last_activity, metadata, version, created_at, updated_at`

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	return s.scanConversation(s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id))
}

func (s *SQLiteStore) FindOpenByPhone(ctx context.Context, phoneNumber string) (*domain.Conversation, error) {
	return s.scanConversation(s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+`
		 FROM conversations
		 WHERE phone_number = ? AND status != ?
		 ORDER BY created_at DESC LIMIT 1`,
		phoneNumber, domain.ConversationClosed))
}

func (s *SQLiteStore) UpdateConversation(ctx context.Context, c *domain.Conversation) error {
	meta, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations
		 SET lead_id = ?, status = ?, phone_number = ?, assigned_agent = ?,
		     last_activity = ?, metadata = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		c.LeadID, c.Status, c.PhoneNumber, c.AssignedAgent,
		c.LastActivity, string(meta), c.UpdatedAt,
		c.ID, c.Version,
	)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := s.GetConversation(ctx, c.ID); err != nil {
			return err
		}
		return fmt.Errorf("conversation %s: %w", c.ID, domain.ErrOptimisticConflict)
	}
	c.Version++
	return nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context, limit int) ([]*domain.Conversation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+conversationColumns+`
		 FROM conversations ORDER BY last_activity DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []*domain.Conversation
	for rows.Next() {
		c, err := scanConversationRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanConversation(row *sql.Row) (*domain.Conversation, error) {
	c, err := scanConversationRow(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return c, err
}

func scanConversationRow(row rowScanner) (*domain.Conversation, error) {
	var (
		c     domain.Conversation
		agent sql.NullString
		meta  string
	)
	err := row.Scan(&c.ID, &c.LeadID, &c.Status, &c.PhoneNumber, &agent,
		&c.LastActivity, &meta, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.AssignedAgent = agent.String
	if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	c.LastActivity = c.LastActivity.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"leadwire/internal/domain"
)

// UpsertJob inserts a delivery job or refreshes the payload of an
// existing one. Re-adding never resets attempt counts and never produces
// a second job for the same message.
func (s *SQLiteStore) UpsertJob(ctx context.Context, job *domain.DeliveryJob) error {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.State == "" {
		job.State = domain.JobPending
	}
	if job.NextAttemptAt.IsZero() {
		job.NextAttemptAt = now
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs
		 (message_id, priority, attempt_count, next_attempt_at, state,
		  content, recipient, provider_hint, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(message_id) DO UPDATE SET
		   priority = excluded.priority,
		   content = excluded.content,
		   recipient = excluded.recipient,
		   provider_hint = excluded.provider_hint,
		   updated_at = excluded.updated_at`,
		job.MessageID, job.Priority, job.AttemptCount, job.NextAttemptAt, job.State,
		job.Payload.Content, job.Payload.Recipient, job.Payload.ProviderHint,
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert job: %w", err)
	}
	return nil
}

// ClaimJob atomically claims the most urgent due pending job. The
// select-then-conditional-update pair runs in one transaction on the
// store's single connection, so two workers can never claim the same job.
func (s *SQLiteStore) ClaimJob(ctx context.Context, now time.Time) (*domain.DeliveryJob, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT message_id, priority, attempt_count, next_attempt_at, state,
		        content, recipient, provider_hint, created_at, updated_at
		 FROM jobs
		 WHERE state = ? AND next_attempt_at <= ?
		 ORDER BY priority DESC, next_attempt_at ASC
		 LIMIT 1`,
		domain.JobPending, now)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET state = ?, updated_at = ? WHERE message_id = ? AND state = ?`,
		domain.JobClaimed, now, job.MessageID, domain.JobPending)
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	job.State = domain.JobClaimed
	return job, nil
}

func (s *SQLiteStore) RescheduleJob(ctx context.Context, messageID string, attemptCount int, nextAttemptAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, attempt_count = ?, next_attempt_at = ?, updated_at = ?
		 WHERE message_id = ?`,
		domain.JobPending, attemptCount, nextAttemptAt, time.Now().UTC(), messageID)
	if err != nil {
		return fmt.Errorf("reschedule job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeadLetterJob(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, updated_at = ? WHERE message_id = ?`,
		domain.JobDead, time.Now().UTC(), messageID)
	if err != nil {
		return fmt.Errorf("dead-letter job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteJob(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE message_id = ?`, messageID)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

// CancelJob removes a job only while no worker has claimed it.
func (s *SQLiteStore) CancelJob(ctx context.Context, messageID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE message_id = ? AND state = ?`,
		messageID, domain.JobPending)
	if err != nil {
		return false, fmt.Errorf("cancel job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, messageID string) (*domain.DeliveryJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT message_id, priority, attempt_count, next_attempt_at, state,
		        content, recipient, provider_hint, created_at, updated_at
		 FROM jobs WHERE message_id = ?`, messageID)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return job, err
}

func scanJob(row rowScanner) (*domain.DeliveryJob, error) {
	var (
		job  domain.DeliveryJob
		hint sql.NullString
	)
	err := row.Scan(&job.MessageID, &job.Priority, &job.AttemptCount, &job.NextAttemptAt,
		&job.State, &job.Payload.Content, &job.Payload.Recipient, &hint,
		&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	job.Payload.ProviderHint = hint.String
	job.NextAttemptAt = job.NextAttemptAt.UTC()
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	return &job, nil
}

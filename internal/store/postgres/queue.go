package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/twinlink/broker/internal/queue"
)

func (s *Store) InsertMessage(ctx context.Context, m queue.Message) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO queued_messages
		 (id, user_id, message, source_channel, source_user_id, session_id, category, priority, status, queued_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		m.ID, m.UserID, m.Text, m.SourceChannel, m.SourceUserID, m.SessionID, m.Category,
		m.Priority, string(m.Status), m.QueuedAt, m.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert queued message: %w", err)
	}
	return nil
}

func (s *Store) CountQueued(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM queued_messages WHERE user_id = $1 AND status = 'queued'`,
		userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count queued messages: %w", err)
	}
	return count, nil
}

// ClaimQueued sweeps expired rows, then claims up to limit rows in one
// statement. FOR UPDATE SKIP LOCKED keeps two reconnecting devices from
// claiming the same rows.
func (s *Store) ClaimQueued(ctx context.Context, userID string, limit int, now time.Time) ([]queue.Message, error) {
	_, err := s.pool.Exec(ctx,
		`UPDATE queued_messages SET status = 'expired'
		 WHERE user_id = $1 AND status = 'queued' AND expires_at < $2`,
		userID, now)
	if err != nil {
		return nil, fmt.Errorf("sweep expired messages: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`UPDATE queued_messages SET status = 'processing'
		 WHERE id IN (
		     SELECT id FROM queued_messages
		     WHERE user_id = $1 AND status = 'queued'
		     ORDER BY priority DESC, queued_at
		     LIMIT $2
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, user_id, message, source_channel, source_user_id, session_id, category,
		           priority, status, queued_at, expires_at`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("claim queued messages: %w", err)
	}
	defer rows.Close()

	result := make([]queue.Message, 0)
	for rows.Next() {
		var m queue.Message
		var status string
		if err := rows.Scan(&m.ID, &m.UserID, &m.Text, &m.SourceChannel, &m.SourceUserID,
			&m.SessionID, &m.Category, &m.Priority, &status, &m.QueuedAt, &m.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan queued message: %w", err)
		}
		m.Status = queue.Status(status)
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// RETURNING does not guarantee order; restore the claim order.
	sortMessages(result)
	return result, nil
}

func sortMessages(msgs []queue.Message) {
	for i := 1; i < len(msgs); i++ {
		for j := i; j > 0; j-- {
			a, b := msgs[j-1], msgs[j]
			if b.Priority > a.Priority || (b.Priority == a.Priority && b.QueuedAt.Before(a.QueuedAt)) {
				msgs[j-1], msgs[j] = b, a
			} else {
				break
			}
		}
	}
}

func (s *Store) MarkDelivered(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE queued_messages SET status = 'delivered' WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return queue.ErrMessageNotFound
	}
	return nil
}

// PurgeExpired is the broker-wide maintenance sweep: overdue queued rows
// flip to expired, terminal rows older than the cutoff are dropped.
func (s *Store) PurgeExpired(ctx context.Context, olderThan time.Time) (int, error) {
	_, err := s.pool.Exec(ctx,
		`UPDATE queued_messages SET status = 'expired'
		 WHERE status = 'queued' AND expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("expire overdue messages: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM queued_messages
		 WHERE status IN ('delivered', 'expired') AND queued_at < $1`,
		olderThan)
	if err != nil {
		return 0, fmt.Errorf("purge queued messages: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) PurgeOld(ctx context.Context, userID string, olderThan time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM queued_messages
		 WHERE user_id = $1 AND status IN ('delivered', 'expired') AND queued_at < $2`,
		userID, olderThan)
	if err != nil {
		return 0, fmt.Errorf("purge queued messages: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

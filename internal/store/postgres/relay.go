package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/twinlink/broker/internal/relay"
	"github.com/twinlink/broker/internal/secure"
)

const relayColumns = `id, user_id, device_id, ciphertext, nonce, tag, status, priority, kind,
	preview, created_at, expires_at, result_ciphertext, result_nonce, result_tag`

func scanCommand(row pgx.Row) (relay.Command, error) {
	var cmd relay.Command
	var status, kind string
	var resCt, resNonce, resTag *string
	err := row.Scan(&cmd.ID, &cmd.UserID, &cmd.DeviceID,
		&cmd.Payload.Ciphertext, &cmd.Payload.Nonce, &cmd.Payload.Tag,
		&status, &cmd.Priority, &kind, &cmd.Preview, &cmd.CreatedAt, &cmd.ExpiresAt,
		&resCt, &resNonce, &resTag)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return relay.Command{}, relay.ErrCommandNotFound
		}
		return relay.Command{}, fmt.Errorf("scan relay command: %w", err)
	}
	cmd.Status = relay.Status(status)
	cmd.Kind = relay.Kind(kind)
	if resCt != nil && resNonce != nil && resTag != nil {
		cmd.Result = &secure.Envelope{Ciphertext: *resCt, Nonce: *resNonce, Tag: *resTag}
	}
	return cmd, nil
}

func (s *Store) InsertCommand(ctx context.Context, cmd relay.Command) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO relay_commands
		 (id, user_id, device_id, ciphertext, nonce, tag, status, priority, kind, preview, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		cmd.ID, cmd.UserID, cmd.DeviceID,
		cmd.Payload.Ciphertext, cmd.Payload.Nonce, cmd.Payload.Tag,
		string(cmd.Status), cmd.Priority, string(cmd.Kind), cmd.Preview, cmd.CreatedAt, cmd.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert relay command: %w", err)
	}
	return nil
}

func (s *Store) GetCommand(ctx context.Context, id string) (relay.Command, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+relayColumns+` FROM relay_commands WHERE id = $1`, id)
	return scanCommand(row)
}

func (s *Store) ListPendingForDevice(ctx context.Context, deviceID string, limit int) ([]relay.Command, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+relayColumns+` FROM relay_commands
		 WHERE device_id = $1 AND status = 'pending'
		 ORDER BY priority DESC, created_at
		 LIMIT $2`, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending commands: %w", err)
	}
	defer rows.Close()

	result := make([]relay.Command, 0)
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, cmd)
	}
	return result, rows.Err()
}

func (s *Store) FinishCommand(ctx context.Context, id string, status relay.Status, result *secure.Envelope) (bool, error) {
	var resCt, resNonce, resTag *string
	if result != nil {
		resCt, resNonce, resTag = &result.Ciphertext, &result.Nonce, &result.Tag
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE relay_commands
		 SET status = $2, result_ciphertext = $3, result_nonce = $4, result_tag = $5
		 WHERE id = $1 AND status = 'pending'`,
		id, string(status), resCt, resNonce, resTag)
	if err != nil {
		return false, fmt.Errorf("finish relay command: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) ExpireCommand(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE relay_commands SET status = 'expired'
		 WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return false, fmt.Errorf("expire relay command: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) ExpireOverdue(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE relay_commands SET status = 'expired'
		 WHERE status = 'pending' AND expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("expire overdue commands: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

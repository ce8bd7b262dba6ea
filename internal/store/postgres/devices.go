package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/twinlink/broker/internal/devices"
)

// Store implements the device, relay, and queue persistence contracts on
// top of a pgx pool. Conditional state transitions use
// UPDATE ... WHERE status = ... and check the affected-row count, which is
// the storage-level compare-and-set the protocol relies on.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const deviceColumns = "id, user_id, name, class, capabilities, online, last_heartbeat, token, paired_at"

func scanDevice(row pgx.Row) (devices.Device, error) {
	var d devices.Device
	var hb *time.Time
	err := row.Scan(&d.ID, &d.UserID, &d.Name, &d.Class, &d.Capabilities, &d.Online, &hb, &d.Token, &d.PairedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return devices.Device{}, devices.ErrDeviceNotFound
		}
		return devices.Device{}, fmt.Errorf("scan device: %w", err)
	}
	if hb != nil {
		d.LastHeartbeat = *hb
	}
	return d, nil
}

func (s *Store) CreateDevice(ctx context.Context, d devices.Device) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO devices (id, user_id, name, class, capabilities, online, token, paired_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.UserID, d.Name, string(d.Class), d.Capabilities, d.Online, d.Token, d.PairedAt)
	if err != nil {
		return fmt.Errorf("insert device: %w", err)
	}
	return nil
}

func (s *Store) GetDevice(ctx context.Context, id string) (devices.Device, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE id = $1`, id)
	return scanDevice(row)
}

func (s *Store) GetDeviceByToken(ctx context.Context, token string) (devices.Device, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE token = $1`, token)
	return scanDevice(row)
}

func (s *Store) ListDevicesByUser(ctx context.Context, userID string) ([]devices.Device, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE user_id = $1 ORDER BY paired_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	result := make([]devices.Device, 0)
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (s *Store) UpdateHeartbeat(ctx context.Context, id string, at time.Time, online bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE devices SET last_heartbeat = $2, online = $3 WHERE id = $1`,
		id, at, online)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return devices.ErrDeviceNotFound
	}
	return nil
}

func (s *Store) DeleteDevice(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM devices WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return devices.ErrDeviceNotFound
	}
	return nil
}

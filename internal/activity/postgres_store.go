package activity

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore persists the activity log in PostgreSQL.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresStore creates a PostgreSQL-backed activity log.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// Migrate creates the activity_logs table if it doesn't exist.
// Mirrors migrations/00001_activity_logs.sql for deployments that skip goose.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS activity_logs (
			log_id            BIGSERIAL PRIMARY KEY,
			username          TEXT NOT NULL,
			logged_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			login_hour        SMALLINT NOT NULL CHECK (login_hour BETWEEN 0 AND 23),
			files_accessed    INTEGER NOT NULL CHECK (files_accessed >= 0),
			emails_sent       INTEGER NOT NULL CHECK (emails_sent >= 0),
			usb_devices_used  INTEGER NOT NULL CHECK (usb_devices_used >= 0)
		);

		CREATE INDEX IF NOT EXISTS idx_activity_logs_username
			ON activity_logs (username, logged_at DESC);
	`)
	return err
}

func (s *PostgresStore) Append(ctx context.Context, rec *Record) error {
	if err := prepare(rec, s.now); err != nil {
		return err
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO activity_logs (username, logged_at, login_hour, files_accessed, emails_sent, usb_devices_used)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING log_id
	`,
		rec.Username,
		rec.Timestamp,
		rec.LoginHour,
		rec.FilesAccessed,
		rec.EmailsSent,
		rec.USBDevicesUsed,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("failed to append activity: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendBatch(ctx context.Context, recs []Record) error {
	if err := prepareBatch(recs, s.now); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO activity_logs (username, logged_at, login_hour, files_accessed, emails_sent, usb_devices_used)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING log_id
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	ids := make([]int64, len(recs))
	for i := range recs {
		r := &recs[i]
		if err := stmt.QueryRowContext(ctx, r.Username, r.Timestamp, r.LoginHour, r.FilesAccessed, r.EmailsSent, r.USBDevicesUsed).Scan(&ids[i]); err != nil {
			return fmt.Errorf("failed to append activity %d of batch: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	for i := range recs {
		recs[i].ID = ids[i]
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT log_id, username, logged_at, login_hour, files_accessed, emails_sent, usb_devices_used
		FROM activity_logs
		ORDER BY log_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Username, &r.Timestamp, &r.LoginHour, &r.FilesAccessed, &r.EmailsSent, &r.USBDevicesUsed); err != nil {
			return nil, fmt.Errorf("failed to scan activity row: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("activity row iteration: %w", err)
	}
	return result, nil
}

func (s *PostgresStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `TRUNCATE activity_logs RESTART IDENTITY`); err != nil {
		return fmt.Errorf("failed to clear activity: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

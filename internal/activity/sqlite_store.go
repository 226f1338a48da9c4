package activity

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS activity_logs (
    log_id            INTEGER PRIMARY KEY AUTOINCREMENT,
    username          TEXT NOT NULL,
    timestamp         TEXT NOT NULL,
    Login_Hour        INTEGER NOT NULL,
    Files_Accessed    INTEGER NOT NULL,
    Emails_Sent       INTEGER NOT NULL,
    USB_Devices_Used  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_activity_logs_username ON activity_logs(username);
`

// SQLiteStore keeps the activity log in a local SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens or creates the database at path and applies the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, rec *Record) error {
	if err := prepare(rec, s.now); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO activity_logs (username, timestamp, Login_Hour, Files_Accessed, Emails_Sent, USB_Devices_Used)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Username,
		sqliteTime(rec.Timestamp),
		rec.LoginHour,
		rec.FilesAccessed,
		rec.EmailsSent,
		rec.USBDevicesUsed,
	)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	rec.ID = id
	return nil
}

func (s *SQLiteStore) AppendBatch(ctx context.Context, recs []Record) error {
	if err := prepareBatch(recs, s.now); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO activity_logs (username, timestamp, Login_Hour, Files_Accessed, Emails_Sent, USB_Devices_Used)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare batch insert: %w", err)
	}
	defer stmt.Close()

	ids := make([]int64, len(recs))
	for i := range recs {
		r := &recs[i]
		res, err := stmt.ExecContext(ctx, r.Username, sqliteTime(r.Timestamp), r.LoginHour, r.FilesAccessed, r.EmailsSent, r.USBDevicesUsed)
		if err != nil {
			return fmt.Errorf("insert activity %d of batch: %w", i, err)
		}
		if ids[i], err = res.LastInsertId(); err != nil {
			return fmt.Errorf("insert activity %d of batch: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}

	for i := range recs {
		recs[i].ID = ids[i]
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT log_id, username, timestamp, Login_Hour, Files_Accessed, Emails_Sent, USB_Devices_Used
		FROM activity_logs ORDER BY log_id`)
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	defer rows.Close()

	var result []Record
	for rows.Next() {
		var (
			r  Record
			ts string
		)
		if err := rows.Scan(&r.ID, &r.Username, &ts, &r.LoginHour, &r.FilesAccessed, &r.EmailsSent, &r.USBDevicesUsed); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		r.Timestamp, err = time.ParseInLocation(TimestampLayout, ts, time.Local)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp of log %d: %w", r.ID, err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// Clear deletes every row and resets the autoincrement counter.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin clear: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM activity_logs`); err != nil {
		return fmt.Errorf("clear activity: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sqlite_sequence WHERE name = 'activity_logs'`); err != nil {
		return fmt.Errorf("reset sequence: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// sqliteTime renders ts in the zone List parses it back in.
func sqliteTime(ts time.Time) string {
	return ts.In(time.Local).Format(TimestampLayout)
}

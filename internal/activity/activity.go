// Package activity implements the append-only user activity log.
//
// Each record captures one observed action: a login, a file access burst,
// outgoing email or USB usage. The log is read back as a whole by the threat
// scoring engine; records are never updated in place.
package activity

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidRecord  = errors.New("activity: invalid record")
	ErrUnknownBackend = errors.New("activity: unknown store backend")
)

// TimestampLayout is the wire format of Record.Timestamp in CSV files.
const TimestampLayout = "2006-01-02 15:04:05"

// Record is one row of the activity log.
type Record struct {
	ID             int64     `json:"log_id"`
	Username       string    `json:"username"`
	Timestamp      time.Time `json:"timestamp"`
	LoginHour      int       `json:"login_hour"`
	FilesAccessed  int       `json:"files_accessed"`
	EmailsSent     int       `json:"emails_sent"`
	USBDevicesUsed int       `json:"usb_devices_used"`
}

// Validate checks the four scored fields.
func (r *Record) Validate() error {
	if r.LoginHour < 0 || r.LoginHour > 23 {
		return fmt.Errorf("%w: login_hour %d outside 0-23", ErrInvalidRecord, r.LoginHour)
	}
	if r.FilesAccessed < 0 {
		return fmt.Errorf("%w: files_accessed must be non-negative", ErrInvalidRecord)
	}
	if r.EmailsSent < 0 {
		return fmt.Errorf("%w: emails_sent must be non-negative", ErrInvalidRecord)
	}
	if r.USBDevicesUsed < 0 {
		return fmt.Errorf("%w: usb_devices_used must be non-negative", ErrInvalidRecord)
	}
	return nil
}

// Features returns the scored fields in fixed column order.
func (r *Record) Features() [4]float64 {
	return [4]float64{
		float64(r.LoginHour),
		float64(r.FilesAccessed),
		float64(r.EmailsSent),
		float64(r.USBDevicesUsed),
	}
}

// Store is the append-only activity log.
type Store interface {
	// Append validates rec, assigns its ID (and Timestamp when zero) and stores it.
	Append(ctx context.Context, rec *Record) error
	// AppendBatch stores recs as one unit: either every record is stored
	// with its ID assigned, or none is.
	AppendBatch(ctx context.Context, recs []Record) error
	// List returns every record in insertion order.
	List(ctx context.Context) ([]Record, error)
	// Clear removes all records and resets ID assignment.
	Clear(ctx context.Context) error
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}

// prepare is shared by all stores before a write.
func prepare(rec *Record, now func() time.Time) error {
	if rec == nil {
		return fmt.Errorf("%w: nil record", ErrInvalidRecord)
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = now().Truncate(time.Second)
	}
	return nil
}

func prepareBatch(recs []Record, now func() time.Time) error {
	for i := range recs {
		if err := prepare(&recs[i], now); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}
	return nil
}

package activity

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
)

// Options selects and locates an activity store backend.
type Options struct {
	Backend     string
	DatabaseURL string
	SQLitePath  string
	RedisURL    string
}

// Open constructs the configured store. The returned closer releases any
// connection the store holds and is never nil.
func Open(ctx context.Context, opts Options) (Store, io.Closer, error) {
	switch opts.Backend {
	case "", BackendMemory:
		return NewMemoryStore(), nopCloser{}, nil

	case BackendPostgres:
		db, err := sql.Open("postgres", opts.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		store := NewPostgresStore(db)
		if err := store.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("failed to migrate activity store: %w", err)
		}
		return store, db, nil

	case BackendSQLite:
		store, err := OpenSQLite(opts.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil

	case BackendRedis:
		store, err := OpenRedis(opts.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		if err := store.Ping(ctx); err != nil {
			_ = store.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return store, store, nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

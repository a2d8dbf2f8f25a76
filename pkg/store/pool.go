// Package store is the store gateway (C3): typed operations over the SQL
// schema described in §6, backed by a small Postgres connection pool.
package store

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// poolMaxOpenConns reserves headroom for other consumers of the same
// database (§4.3): the ingestion engine never opens more than this many
// concurrent connections.
const poolMaxOpenConns = 5

// Open connects to the store and configures the bounded connection pool.
// The returned Store is safe for concurrent use by every stage of a cycle.
func Open(connString string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(poolMaxOpenConns)
	db.SetMaxIdleConns(poolMaxOpenConns)

	return &Store{
		db:     db,
		logger: logger,
	}, nil
}

// Store is the single gateway every component of the ingestion engine uses
// to reach Postgres. It has no sharding: a single pool capped at
// poolMaxOpenConns connections, per §5.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Ping verifies the store connection is alive, used by the health endpoint
// and by C8's startup validation.
func (s *Store) Ping(ctxTimeout time.Duration) error {
	ctx, cancel := newTimeoutCtx(ctxTimeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

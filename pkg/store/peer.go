package store

import (
	"database/sql"
	"time"

	"github.com/xandeum/ingestor/pkg/domain"
)

// UpsertPeer creates or updates the Peer identified by pubkey, setting its
// most recent reachability claim from gossip. Idempotent: safe to call
// concurrently for the same pubkey across overlapping seed views (§3).
func (s *Store) UpsertPeer(pubkey string, isPublic bool) (*domain.Peer, error) {
	const statement = `
		INSERT INTO "Pnode" (pubkey, is_public, failure_count)
		VALUES ($1, $2, 0)
		ON CONFLICT (pubkey) DO UPDATE SET is_public = EXCLUDED.is_public
		RETURNING id, pubkey, is_public, failure_count,
			last_stats_attempt_at, last_stats_success_at, next_stats_allowed_at,
			latest_credits, credits_updated_at`

	row := s.db.QueryRow(statement, pubkey, isPublic)
	return scanPeer(row)
}

// FindPeerById resolves a peer by its surrogate key.
func (s *Store) FindPeerById(id int64) (*domain.Peer, error) {
	const statement = `
		SELECT id, pubkey, is_public, failure_count,
			last_stats_attempt_at, last_stats_success_at, next_stats_allowed_at,
			latest_credits, credits_updated_at
		FROM "Pnode" WHERE id = $1`
	return scanPeer(s.db.QueryRow(statement, id))
}

// PeerBackoffPatch is the partial update applied after a probe attempt.
type PeerBackoffPatch struct {
	FailureCount       int
	LastStatsAttemptAt time.Time
	LastStatsSuccessAt *time.Time
	NextStatsAllowedAt *time.Time
}

// UpdatePeerBackoff applies the result of a probe attempt (success or
// failure) to the peer's backoff bookkeeping.
func (s *Store) UpdatePeerBackoff(id int64, patch PeerBackoffPatch) error {
	const statement = `
		UPDATE "Pnode" SET failure_count = $2, last_stats_attempt_at = $3,
			last_stats_success_at = COALESCE($4, last_stats_success_at),
			next_stats_allowed_at = $5
		WHERE id = $1`
	_, err := s.db.Exec(statement, id, patch.FailureCount, patch.LastStatsAttemptAt,
		patch.LastStatsSuccessAt, patch.NextStatsAllowedAt)
	return err
}

// ResetExpiredBackoffs implements Stage A's backoff hygiene: any peer whose
// nextStatsAllowedAt is older than olderThan and whose failureCount > 0 is
// reset. This prevents permanent exile of peers after a long worker outage.
func (s *Store) ResetExpiredBackoffs(olderThan time.Time) (int, error) {
	const statement = `
		UPDATE "Pnode" SET failure_count = 0, next_stats_allowed_at = NULL
		WHERE failure_count > 0 AND next_stats_allowed_at IS NOT NULL
			AND next_stats_allowed_at < $1`
	res, err := s.db.Exec(statement, olderThan)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// UpdatePeerCredits applies a denormalized latest-credits reading.
func (s *Store) UpdatePeerCredits(pubkey string, credits float64, observedAt time.Time) error {
	const statement = `
		UPDATE "Pnode" SET latest_credits = $2, credits_updated_at = $3 WHERE pubkey = $1`
	_, err := s.db.Exec(statement, pubkey, credits, observedAt)
	return err
}

func scanPeer(row *sql.Row) (*domain.Peer, error) {
	var p domain.Peer
	err := row.Scan(&p.Id, &p.Pubkey, &p.IsPublic, &p.FailureCount,
		&p.LastStatsAttemptAt, &p.LastStatsSuccessAt, &p.NextStatsAllowedAt,
		&p.LatestCredits, &p.CreditsUpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

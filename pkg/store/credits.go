package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/xandeum/ingestor/pkg/domain"
)

// InsertPodCreditsSnapshot appends one credit reading, enforcing the "at
// most one insert per peer per two hours" rule by checking the most recent
// reading first (§3).
func (s *Store) InsertPodCreditsSnapshot(minInterval time.Duration, snap domain.PodCreditsSnapshot) (bool, error) {
	const lastSeenQuery = `
		SELECT observed_at FROM "PodCreditsSnapshot"
		WHERE pod_pubkey = $1
		ORDER BY observed_at DESC
		LIMIT 1`

	var lastObserved time.Time
	err := s.db.QueryRow(lastSeenQuery, snap.PodPubkey).Scan(&lastObserved)
	switch {
	case err == nil:
		if snap.ObservedAt.Sub(lastObserved) < minInterval {
			return false, nil
		}
	case errors.Is(err, sql.ErrNoRows):
		// no prior reading for this peer, proceed with the insert
	default:
		return false, err
	}

	const statement = `
		INSERT INTO "PodCreditsSnapshot" (pod_pubkey, credits, observed_at, seed_base_url)
		VALUES ($1, $2, $3, $4)`
	if _, err := s.db.Exec(statement, snap.PodPubkey, snap.Credits, snap.ObservedAt, snap.SeedBaseURL); err != nil {
		return false, err
	}
	return true, nil
}

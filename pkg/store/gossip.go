package store

import (
	"time"

	"github.com/xandeum/ingestor/pkg/domain"
)

// InsertGossipObservation appends one sighting of a peer in a seed's gossip
// view. One row is written per (seed, peer) per cycle; rows are only ever
// removed by the cleanup engine (C5).
func (s *Store) InsertGossipObservation(obs domain.GossipObservation) error {
	const statement = `
		INSERT INTO "PnodeGossipObservation" (
			pnode_id, seed_base_url, observed_at, address, version,
			last_seen_timestamp, storage_committed, storage_used,
			storage_usage_percent, is_public
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.db.Exec(statement,
		obs.PnodeId, obs.SeedBaseURL, obs.ObservedAt, obs.Address, obs.Version,
		obs.LastSeenTimestamp, obs.StorageCommitted, obs.StorageUsed,
		obs.StorageUsagePercent, obs.IsPublic)
	return err
}

// GossipLatest is the shape the snapshot computer (C7) needs: each peer's
// most recent observation, regardless of which seed produced it.
type GossipLatest struct {
	PnodeId           int64
	Version           *string
	StorageCommitted  *int64
	StorageUsed       *int64
	LastSeenTimestamp *int64
	SeedBaseURL       string
	ObservedAt        time.Time
}

// FindLatestGossipForPeers resolves the most recent GossipObservation for
// each of the given peer ids, used by the snapshot computer.
func (s *Store) FindLatestGossipForPeers(peerIds []int64) (map[int64]GossipLatest, error) {
	if len(peerIds) == 0 {
		return map[int64]GossipLatest{}, nil
	}

	const statement = `
		SELECT DISTINCT ON (pnode_id) pnode_id, version, storage_committed,
			storage_used, last_seen_timestamp, seed_base_url, observed_at
		FROM "PnodeGossipObservation"
		WHERE pnode_id = ANY($1)
		ORDER BY pnode_id, observed_at DESC`

	rows, err := s.db.Query(statement, int64ArrayParam(peerIds))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int64]GossipLatest{}
	for rows.Next() {
		var g GossipLatest
		if err := rows.Scan(&g.PnodeId, &g.Version, &g.StorageCommitted,
			&g.StorageUsed, &g.LastSeenTimestamp, &g.SeedBaseURL, &g.ObservedAt); err != nil {
			return nil, err
		}
		out[g.PnodeId] = g
	}
	return out, rows.Err()
}

// FindRecentGossipBySeed returns every GossipObservation for seedBaseURL
// observed within the last `since` window, used for §4.7's per-seed
// freshness bucketing.
func (s *Store) FindRecentGossipBySeed(seedBaseURL string, since time.Time) ([]domain.GossipObservation, error) {
	const statement = `
		SELECT pnode_id, seed_base_url, observed_at, address, version,
			last_seen_timestamp, storage_committed, storage_used,
			storage_usage_percent, is_public
		FROM "PnodeGossipObservation"
		WHERE seed_base_url = $1 AND observed_at >= $2`

	rows, err := s.db.Query(statement, seedBaseURL, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.GossipObservation
	for rows.Next() {
		var g domain.GossipObservation
		if err := rows.Scan(&g.PnodeId, &g.SeedBaseURL, &g.ObservedAt, &g.Address,
			&g.Version, &g.LastSeenTimestamp, &g.StorageCommitted, &g.StorageUsed,
			&g.StorageUsagePercent, &g.IsPublic); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

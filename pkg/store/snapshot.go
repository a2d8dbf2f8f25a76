package store

import (
	"database/sql"

	"github.com/xandeum/ingestor/pkg/domain"
)

// PagePeers returns up to limit Peer rows ordered by id, starting after
// afterId (0 for the first page). The snapshot computer (C7) walks the
// whole Pnode table this way, 500 rows at a time (§4.7).
func (s *Store) PagePeers(afterId int64, limit int) ([]domain.Peer, error) {
	const statement = `
		SELECT id, pubkey, is_public, failure_count,
			last_stats_attempt_at, last_stats_success_at, next_stats_allowed_at,
			latest_credits, credits_updated_at
		FROM "Pnode"
		WHERE id > $1
		ORDER BY id
		LIMIT $2`

	rows, err := s.db.Query(statement, afterId, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Peer
	for rows.Next() {
		var p domain.Peer
		if err := rows.Scan(&p.Id, &p.Pubkey, &p.IsPublic, &p.FailureCount,
			&p.LastStatsAttemptAt, &p.LastStatsSuccessAt, &p.NextStatsAllowedAt,
			&p.LatestCredits, &p.CreditsUpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// InsertNetworkSnapshot writes one snapshot with all of its children
// attached as a single persistence operation (§4.7).
func (s *Store) InsertNetworkSnapshot(runId int64, snap domain.NetworkSnapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	const insertSnapshot = `
		INSERT INTO "NetworkSnapshot" (
			ingestion_run_id, total_nodes, reachable_nodes, unreachable_nodes,
			reachable_percent, median_uptime_seconds, p90_uptime_seconds,
			total_storage_committed, total_storage_used, nodes_backed_off, nodes_failing_stats
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	var snapshotId int64
	err = tx.QueryRow(insertSnapshot, runId, snap.TotalNodes, snap.ReachableNodes,
		snap.UnreachableNodes, snap.ReachablePercent, snap.MedianUptimeSeconds,
		snap.P90UptimeSeconds, snap.TotalStorageCommitted, snap.TotalStorageUsed,
		snap.NodesBackedOff, snap.NodesFailingStats).Scan(&snapshotId)
	if err != nil {
		tx.Rollback()
		return err
	}

	if err := insertVersionStats(tx, snapshotId, snap.VersionStats); err != nil {
		tx.Rollback()
		return err
	}
	if err := insertSeedVisibility(tx, snapshotId, snap.SeedVisibility); err != nil {
		tx.Rollback()
		return err
	}
	if err := insertCreditsStat(tx, snapshotId, snap.Credits); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

func insertVersionStats(tx *sql.Tx, snapshotId int64, stats []domain.VersionStat) error {
	const statement = `
		INSERT INTO "NetworkVersionStat" (network_snapshot_id, version, count)
		VALUES ($1, $2, $3)`
	for _, v := range stats {
		if _, err := tx.Exec(statement, snapshotId, v.Version, v.Count); err != nil {
			return err
		}
	}
	return nil
}

func insertSeedVisibility(tx *sql.Tx, snapshotId int64, vis []domain.SeedVisibility) error {
	const statement = `
		INSERT INTO "NetworkSeedVisibility" (
			network_snapshot_id, seed_base_url, nodes_seen, fresh, stale, offline
		) VALUES ($1, $2, $3, $4, $5, $6)`
	for _, v := range vis {
		if _, err := tx.Exec(statement, snapshotId, v.SeedBaseURL, v.NodesSeen, v.Fresh, v.Stale, v.Offline); err != nil {
			return err
		}
	}
	return nil
}

func insertCreditsStat(tx *sql.Tx, snapshotId int64, stat domain.CreditsStat) error {
	const statement = `
		INSERT INTO "NetworkCreditsStat" (network_snapshot_id, median_credits, p90_credits)
		VALUES ($1, $2, $3)`
	_, err := tx.Exec(statement, snapshotId, stat.MedianCredits, stat.P90Credits)
	return err
}

package store

import (
	"database/sql"
	"errors"

	"github.com/xandeum/ingestor/pkg/domain"
)

// FindLatestStatsSampleForPeer returns the most recent successful probe
// sample for a peer, used by the rate deriver (C4) as the prior reading.
// Returns (nil, nil) when there is no prior sample.
func (s *Store) FindLatestStatsSampleForPeer(peerId int64) (*domain.StatsSample, error) {
	const statement = `
		SELECT id, pnode_id, seed_base_url, timestamp, uptime_seconds,
			packets_received_cumulative, packets_sent_cumulative, total_bytes,
			active_streams, packets_in_per_sec, packets_out_per_sec
		FROM "PnodeStatsSample"
		WHERE pnode_id = $1
		ORDER BY timestamp DESC
		LIMIT 1`

	var sample domain.StatsSample
	err := s.db.QueryRow(statement, peerId).Scan(
		&sample.Id, &sample.PnodeId, &sample.SeedBaseURL, &sample.Timestamp,
		&sample.UptimeSeconds, &sample.PacketsReceivedCumulative,
		&sample.PacketsSentCumulative, &sample.TotalBytes, &sample.ActiveStreams,
		&sample.PacketsInPerSec, &sample.PacketsOutPerSec)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sample, nil
}

// InsertStatsSample appends one successful probe sample. Only called on a
// successful probe (§3: "A StatsSample exists only if the corresponding
// probe returned without error").
func (s *Store) InsertStatsSample(sample domain.StatsSample) error {
	const statement = `
		INSERT INTO "PnodeStatsSample" (
			pnode_id, seed_base_url, timestamp, uptime_seconds,
			packets_received_cumulative, packets_sent_cumulative, total_bytes,
			active_streams, packets_in_per_sec, packets_out_per_sec
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.db.Exec(statement,
		sample.PnodeId, sample.SeedBaseURL, sample.Timestamp, sample.UptimeSeconds,
		sample.PacketsReceivedCumulative, sample.PacketsSentCumulative, sample.TotalBytes,
		sample.ActiveStreams, sample.PacketsInPerSec, sample.PacketsOutPerSec)
	return err
}

// StatsLatest mirrors GossipLatest for stats samples.
type StatsLatest struct {
	PnodeId       int64
	UptimeSeconds *int64
}

// FindLatestStatsForPeers resolves the most recent StatsSample per peer id,
// used by the snapshot computer for uptime percentiles.
func (s *Store) FindLatestStatsForPeers(peerIds []int64) (map[int64]StatsLatest, error) {
	if len(peerIds) == 0 {
		return map[int64]StatsLatest{}, nil
	}

	const statement = `
		SELECT DISTINCT ON (pnode_id) pnode_id, uptime_seconds
		FROM "PnodeStatsSample"
		WHERE pnode_id = ANY($1)
		ORDER BY pnode_id, timestamp DESC`

	rows, err := s.db.Query(statement, int64ArrayParam(peerIds))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int64]StatsLatest{}
	for rows.Next() {
		var v StatsLatest
		if err := rows.Scan(&v.PnodeId, &v.UptimeSeconds); err != nil {
			return nil, err
		}
		out[v.PnodeId] = v
	}
	return out, rows.Err()
}

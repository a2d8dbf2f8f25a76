// Package snapshot implements the snapshot computer (C7): per-cycle
// aggregation of reachability, uptime/credits quantiles, storage totals,
// version mix, and per-seed visibility into one NetworkSnapshot.
package snapshot

import (
	"time"

	"go.uber.org/zap"

	"github.com/xandeum/ingestor/pkg/config"
	"github.com/xandeum/ingestor/pkg/domain"
	"github.com/xandeum/ingestor/pkg/store"
)

const unknownVersion = "unknown"

// Gateway is the subset of the store gateway the snapshot computer needs.
type Gateway interface {
	PagePeers(afterId int64, limit int) ([]domain.Peer, error)
	FindLatestGossipForPeers(peerIds []int64) (map[int64]store.GossipLatest, error)
	FindLatestStatsForPeers(peerIds []int64) (map[int64]store.StatsLatest, error)
	FindRecentGossipBySeed(seedBaseURL string, since time.Time) ([]domain.GossipObservation, error)
	InsertNetworkSnapshot(runId int64, snap domain.NetworkSnapshot) error
}

// Computer computes and persists one NetworkSnapshot per IngestionRun.
type Computer struct {
	store  Gateway
	seeds  []string
	cfg    *config.Config
	logger *zap.Logger
}

// New creates a Computer wired against the given store gateway.
func New(store Gateway, seeds []string, cfg *config.Config, logger *zap.Logger) *Computer {
	return &Computer{store: store, seeds: seeds, cfg: cfg, logger: logger}
}

// Compute reads the full current peer population and writes one
// NetworkSnapshot for runId.
func (c *Computer) Compute(runId int64, now time.Time) (domain.NetworkSnapshot, error) {
	peers, err := c.pageAllPeers()
	if err != nil {
		return domain.NetworkSnapshot{}, err
	}

	peerIds := make([]int64, len(peers))
	for i, p := range peers {
		peerIds[i] = p.Id
	}

	gossipByPeer, err := c.store.FindLatestGossipForPeers(peerIds)
	if err != nil {
		return domain.NetworkSnapshot{}, err
	}
	statsByPeer, err := c.store.FindLatestStatsForPeers(peerIds)
	if err != nil {
		return domain.NetworkSnapshot{}, err
	}

	snap := domain.NetworkSnapshot{IngestionRunId: runId}
	snap.TotalNodes = len(peers)

	var uptimes []float64
	var credits []float64
	versionCounts := map[string]int{}

	for _, p := range peers {
		if p.IsPublic {
			snap.ReachableNodes++
		} else {
			snap.UnreachableNodes++
		}
		if p.FailureCount > 0 {
			snap.NodesBackedOff++
			if !p.IsPublic {
				snap.NodesFailingStats++
			}
		}
		if p.LatestCredits != nil {
			credits = append(credits, *p.LatestCredits)
		}

		version := unknownVersion
		if g, ok := gossipByPeer[p.Id]; ok {
			if g.Version != nil && *g.Version != "" {
				version = *g.Version
			}
			if g.StorageCommitted != nil {
				snap.TotalStorageCommitted += *g.StorageCommitted
			}
			if g.StorageUsed != nil {
				snap.TotalStorageUsed += *g.StorageUsed
			}
		}
		versionCounts[version]++

		if s, ok := statsByPeer[p.Id]; ok && s.UptimeSeconds != nil && *s.UptimeSeconds > 0 {
			uptimes = append(uptimes, float64(*s.UptimeSeconds))
		}
	}

	if snap.TotalNodes > 0 {
		snap.ReachablePercent = float64(snap.ReachableNodes) / float64(snap.TotalNodes) * 100
	}
	snap.MedianUptimeSeconds = Percentile(uptimes, 50)
	snap.P90UptimeSeconds = Percentile(uptimes, 90)

	snap.Credits = domain.CreditsStat{
		MedianCredits: Percentile(credits, 50),
		P90Credits:    Percentile(credits, 90),
	}

	for version, count := range versionCounts {
		snap.VersionStats = append(snap.VersionStats, domain.VersionStat{Version: version, Count: count})
	}

	seedVisibility, err := c.seedVisibility(now)
	if err != nil {
		c.logger.Warn("seed visibility computation failed", zap.Error(err))
	} else {
		snap.SeedVisibility = seedVisibility
	}

	if err := c.store.InsertNetworkSnapshot(runId, snap); err != nil {
		return domain.NetworkSnapshot{}, err
	}
	return snap, nil
}

// pageAllPeers walks the Pnode table in SnapshotPageSize-sized pages, up to
// the SnapshotMaxPages safety bound (§4.7).
func (c *Computer) pageAllPeers() ([]domain.Peer, error) {
	var all []domain.Peer
	var afterId int64

	for page := 0; page < c.cfg.SnapshotMaxPages; page++ {
		batch, err := c.store.PagePeers(afterId, c.cfg.SnapshotPageSize)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		all = append(all, batch...)
		afterId = batch[len(batch)-1].Id
		if len(batch) < c.cfg.SnapshotPageSize {
			break
		}
	}
	return all, nil
}

// seedVisibility classifies, for each configured seed, the peers it
// reported within the freshness window by the age of their lastSeenTimestamp
// (§4.7): fresh (< 30s), stale (< 120s), offline (>= 120s or missing).
func (c *Computer) seedVisibility(now time.Time) ([]domain.SeedVisibility, error) {
	out := make([]domain.SeedVisibility, 0, len(c.seeds))

	for _, seed := range c.seeds {
		obs, err := c.store.FindRecentGossipBySeed(seed, now.Add(-c.cfg.SeedFreshnessWindow))
		if err != nil {
			return nil, err
		}

		latestByPeer := map[int64]domain.GossipObservation{}
		for _, o := range obs {
			existing, ok := latestByPeer[o.PnodeId]
			if !ok || o.ObservedAt.After(existing.ObservedAt) {
				latestByPeer[o.PnodeId] = o
			}
		}

		vis := domain.SeedVisibility{SeedBaseURL: seed, NodesSeen: len(latestByPeer)}
		for _, o := range latestByPeer {
			switch classifyFreshness(o.LastSeenTimestamp, now) {
			case domain.VisibilityFresh:
				vis.Fresh++
			case domain.VisibilityStale:
				vis.Stale++
			default:
				vis.Offline++
			}
		}
		out = append(out, vis)
	}
	return out, nil
}

func classifyFreshness(lastSeenTimestamp *int64, now time.Time) domain.SeedVisibilityClass {
	if lastSeenTimestamp == nil {
		return domain.VisibilityOffline
	}
	age := now.Sub(time.Unix(*lastSeenTimestamp, 0))
	switch {
	case age < 30*time.Second:
		return domain.VisibilityFresh
	case age < 120*time.Second:
		return domain.VisibilityStale
	default:
		return domain.VisibilityOffline
	}
}

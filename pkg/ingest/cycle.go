// Package ingest implements the ingestion cycle (C6), the central algorithm:
// gossip fan-out across seeds, dedup of probe targets, bounded-batch stats
// probing, and backoff bookkeeping.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xandeum/ingestor/pkg/config"
	"github.com/xandeum/ingestor/pkg/domain"
	"github.com/xandeum/ingestor/pkg/rates"
	"github.com/xandeum/ingestor/pkg/rpcclient"
	"github.com/xandeum/ingestor/pkg/store"
)

// RPCClient is the subset of the peer RPC client (C1) the cycle depends on.
type RPCClient interface {
	GetPods(ctx context.Context, seedBaseURL string) (rpcclient.GossipView, error)
	GetStats(ctx context.Context, probeBaseURL string) (rpcclient.Stats, error)
}

// Gateway is the subset of the store gateway (C3) the cycle depends on.
type Gateway interface {
	UpsertPeer(pubkey string, isPublic bool) (*domain.Peer, error)
	FindPeerById(id int64) (*domain.Peer, error)
	InsertGossipObservation(obs domain.GossipObservation) error
	FindLatestStatsSampleForPeer(peerId int64) (*domain.StatsSample, error)
	InsertStatsSample(sample domain.StatsSample) error
	UpdatePeerBackoff(id int64, patch store.PeerBackoffPatch) error
	ResetExpiredBackoffs(olderThan time.Time) (int, error)
	InsertIngestionRun(token string, startedAt time.Time) (int64, error)
	UpdateIngestionRun(id int64, finishedAt time.Time, summary domain.IngestionRun) error
	InsertRunSeedStats(runId int64, stats []domain.RunSeedStats) error
}

// Cycle runs one execution of the ingestion algorithm described in §4.6.
type Cycle struct {
	store  Gateway
	client RPCClient
	cfg    *config.Config
	logger *zap.Logger
}

// New creates a Cycle wired against the given store gateway and RPC client.
func New(store Gateway, client RPCClient, cfg *config.Config, logger *zap.Logger) *Cycle {
	return &Cycle{store: store, client: client, cfg: cfg, logger: logger}
}

// Result is the per-cycle summary C6 returns to the scheduler. Token is
// always populated, even when the cycle fails before a run row exists, so
// the caller can correlate this attempt against the log lines emitted
// under the same runToken field.
type Result struct {
	RunId      int64
	Token      string
	StartedAt  time.Time
	FinishedAt time.Time
	Summary    domain.IngestionRun
	PerSeed    []domain.RunSeedStats
}

// probeTask is one candidate for a Stage D stats probe.
type probeTask struct {
	pnodeId      int64
	seedBaseURL  string
	address      string
	probeBaseURL string
}

// seedOutcome accumulates one seed's Stage B counters and its candidate
// probe tasks, kept local to that seed's goroutine until merged.
type seedOutcome struct {
	seedBaseURL string
	attempted   int
	failed      int
	observedIds map[int64]struct{}
	backoffIds  map[int64]struct{}
	tasks       []probeTask
}

// Run executes one ingestion cycle against every configured seed. Every log
// line emitted over the course of the run carries the same runToken field,
// so Stage B/C/D activity for one cycle can be correlated in the log
// stream by that value alone.
func (c *Cycle) Run(ctx context.Context) (Result, error) {
	startedAt := time.Now()
	token := xid.New().String()
	logger := c.logger.With(zap.String("runToken", token))

	runId, err := c.store.InsertIngestionRun(token, startedAt)
	if err != nil {
		return Result{Token: token, StartedAt: startedAt}, err
	}

	if n, err := c.store.ResetExpiredBackoffs(startedAt.Add(-c.cfg.BackoffResetAge)); err != nil {
		logger.Warn("stage A backoff hygiene failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("reset expired backoffs", zap.Int("count", n))
	}

	outcomes := c.stageBGossipFanOut(ctx, logger)

	globalObserved := map[int64]struct{}{}
	globalBackoff := map[int64]struct{}{}
	dedup := newDedup()

	for _, o := range outcomes {
		for id := range o.observedIds {
			globalObserved[id] = struct{}{}
		}
		for id := range o.backoffIds {
			globalBackoff[id] = struct{}{}
		}
		for _, t := range o.tasks {
			dedup.offer(t)
		}
	}

	tasks := dedup.tasks()

	// Stage D needs each task's owning seed represented in perSeed counts
	// even when that seed's task lost the dedup race; build the per-seed
	// attempted/backoff/observed counts from the outcomes directly and
	// reconcile success/failed after Stage D runs.
	perSeed := make([]domain.RunSeedStats, 0, len(outcomes))
	seedIndex := map[string]int{}
	for _, o := range outcomes {
		seedIndex[o.seedBaseURL] = len(perSeed)
		perSeed = append(perSeed, domain.RunSeedStats{
			SeedBaseURL: o.seedBaseURL,
			Attempted:   o.attempted,
			Backoff:     len(o.backoffIds),
			Failed:      o.failed,
			Observed:    len(o.observedIds),
		})
	}

	statsSuccess, statsFailure := c.stageDProbeFanOut(ctx, startedAt, tasks, seedIndex, perSeed, logger)

	summary := domain.IngestionRun{
		Token:     token,
		StartedAt: startedAt,
		Attempted: len(tasks),
		Success:   statsSuccess,
		Failed:    statsFailure,
		Backoff:   len(globalBackoff),
		Observed:  len(globalObserved),
	}

	finishedAt := time.Now()
	if err := c.store.UpdateIngestionRun(runId, finishedAt, summary); err != nil {
		logger.Warn("failed to finalize ingestion run", zap.Error(err))
	}
	if err := c.store.InsertRunSeedStats(runId, perSeed); err != nil {
		logger.Warn("failed to persist per-seed run stats", zap.Error(err))
	}

	return Result{
		RunId:      runId,
		Token:      token,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Summary:    summary,
		PerSeed:    perSeed,
	}, nil
}

// stageBGossipFanOut calls getPods against every configured seed
// concurrently and, for each returned pod, upserts the peer, records the
// gossip observation, and decides Stage B eligibility for a probe. A
// single seed's failure is recorded as zeroed metrics and never aborts the
// cycle; every per-seed and per-pod error encountered along the way is
// combined with multierr and logged once as a single value instead of
// scattering across the fan-out.
func (c *Cycle) stageBGossipFanOut(ctx context.Context, logger *zap.Logger) []*seedOutcome {
	outcomes := make([]*seedOutcome, len(c.cfg.Seeds))

	var mu sync.Mutex
	var errs error

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.MaxConcurrentSeeds)

	for i, seed := range c.cfg.Seeds {
		i, seed := i, seed
		g.Go(func() error {
			outcome, err := c.gossipOneSeed(gctx, seed, logger)
			outcomes[i] = outcome
			if err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if errs != nil {
		logger.Warn("stage B gossip fan-out completed with errors", zap.Error(errs))
	}

	return outcomes
}

func (c *Cycle) gossipOneSeed(ctx context.Context, seedBaseURL string, logger *zap.Logger) (*seedOutcome, error) {
	outcome := &seedOutcome{
		seedBaseURL: seedBaseURL,
		observedIds: map[int64]struct{}{},
		backoffIds:  map[int64]struct{}{},
	}

	view, err := c.client.GetPods(ctx, seedBaseURL)
	if err != nil {
		logger.Warn("gossip fetch failed", zap.String("seed", seedBaseURL), zap.Error(err))
		return outcome, fmt.Errorf("seed %s: gossip fetch: %w", seedBaseURL, err)
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	var errs error
	now := time.Now()

	for _, pod := range view.Pods {
		if pod.Pubkey == nil || *pod.Pubkey == "" {
			continue
		}
		pod := pod
		wg.Add(1)
		go func() {
			defer wg.Done()
			peerId, task, backoff, failed, err := c.gossipOnePod(seedBaseURL, pod, now, logger)

			mu.Lock()
			defer mu.Unlock()
			outcome.attempted++
			if failed {
				outcome.failed++
				errs = multierr.Append(errs, err)
				return
			}
			outcome.observedIds[peerId] = struct{}{}
			if backoff {
				outcome.backoffIds[peerId] = struct{}{}
				return
			}
			if task != nil {
				outcome.tasks = append(outcome.tasks, *task)
			}
		}()
	}
	wg.Wait()

	return outcome, errs
}

// gossipOnePod implements Stage B steps 3a-3d for one pod: upsert, insert
// observation, and decide probe eligibility.
func (c *Cycle) gossipOnePod(seedBaseURL string, pod rpcclient.PodInfo, now time.Time, logger *zap.Logger) (peerId int64, task *probeTask, backoff bool, failed bool, err error) {
	isPublic := false
	if pod.IsPublic != nil {
		isPublic = *pod.IsPublic
	}

	peer, err := c.store.UpsertPeer(*pod.Pubkey, isPublic)
	if err != nil {
		logger.Warn("upsert peer failed", zap.String("pubkey", *pod.Pubkey), zap.Error(err))
		return 0, nil, false, true, fmt.Errorf("upsert peer %s: %w", *pod.Pubkey, err)
	}

	obs := domain.GossipObservation{
		PnodeId:             peer.Id,
		SeedBaseURL:         seedBaseURL,
		ObservedAt:          now,
		Address:             pod.Address,
		Version:             pod.Version,
		LastSeenTimestamp:   pod.LastSeenTimestamp,
		StorageCommitted:    pod.StorageCommitted,
		StorageUsed:         pod.StorageUsed,
		StorageUsagePercent: pod.StorageUsagePercent,
		IsPublic:            pod.IsPublic,
	}
	if err := c.store.InsertGossipObservation(obs); err != nil {
		logger.Warn("insert gossip observation failed", zap.Int64("peerId", peer.Id), zap.Error(err))
		return peer.Id, nil, false, true, fmt.Errorf("insert gossip observation for peer %d: %w", peer.Id, err)
	}

	if peer.NextStatsAllowedAt != nil && peer.NextStatsAllowedAt.After(now) {
		return peer.Id, nil, true, false, nil
	}

	if peer.NextStatsAllowedAt != nil && peer.FailureCount > 0 {
		if err := c.store.UpdatePeerBackoff(peer.Id, store.PeerBackoffPatch{
			FailureCount:       0,
			LastStatsAttemptAt: now,
			NextStatsAllowedAt: nil,
		}); err != nil {
			logger.Warn("delayed backoff reset failed", zap.Int64("peerId", peer.Id), zap.Error(err))
		}
	}

	return peer.Id, &probeTask{
		pnodeId:      peer.Id,
		seedBaseURL:  seedBaseURL,
		address:      pod.Address,
		probeBaseURL: probeURLFromGossipAddress(pod.Address),
	}, false, false, nil
}

// probeURLFromGossipAddress replaces the gossip address's port with the
// fixed probe port (§4.6).
func probeURLFromGossipAddress(address string) string {
	host := address
	if idx := strings.LastIndex(address, ":"); idx >= 0 {
		host = address[:idx]
	}
	return fmt.Sprintf("http://%s:%d", host, config.ProbePort)
}

// stageDProbeFanOut processes deduplicated probe tasks in sequential
// batches of ProbeBatchSize, concurrent within each batch. As with Stage B,
// every task's error is combined with multierr and logged once rather than
// aborting the remaining batches.
func (c *Cycle) stageDProbeFanOut(ctx context.Context, cycleStart time.Time, tasks []probeTask, seedIndex map[string]int, perSeed []domain.RunSeedStats, logger *zap.Logger) (success int, failure int) {
	batchSize := c.cfg.ProbeBatchSize
	if batchSize <= 0 {
		batchSize = len(tasks)
		if batchSize == 0 {
			batchSize = 1
		}
	}

	var successCount, failureCount int64
	var mu sync.Mutex
	var errs error

	for start := 0; start < len(tasks); start += batchSize {
		end := start + batchSize
		if end > len(tasks) {
			end = len(tasks)
		}
		batch := tasks[start:end]

		g, gctx := errgroup.WithContext(ctx)
		for _, t := range batch {
			t := t
			g.Go(func() error {
				ok, err := c.probeOneTask(gctx, cycleStart, t, logger)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errs = multierr.Append(errs, fmt.Errorf("peer %d: %w", t.pnodeId, err))
				}
				if idx, found := seedIndex[t.seedBaseURL]; found {
					if ok {
						perSeed[idx].Success++
					} else {
						perSeed[idx].Failed++
					}
				}
				if ok {
					successCount++
				} else {
					failureCount++
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	if errs != nil {
		logger.Warn("stage D probe fan-out completed with errors", zap.Error(errs))
	}

	return int(successCount), int(failureCount)
}

// probeOneTask implements Stage D's per-task success/failure disposition.
func (c *Cycle) probeOneTask(ctx context.Context, cycleStart time.Time, t probeTask, logger *zap.Logger) (bool, error) {
	stats, err := c.client.GetStats(ctx, t.probeBaseURL)
	if err != nil {
		c.failProbe(t, cycleStart, logger)
		return false, fmt.Errorf("get stats: %w", err)
	}

	prior, err := c.store.FindLatestStatsSampleForPeer(t.pnodeId)
	if err != nil {
		logger.Warn("failed to read prior stats sample", zap.Int64("peerId", t.pnodeId), zap.Error(err))
	}

	sample := domain.StatsSample{
		PnodeId:                   t.pnodeId,
		SeedBaseURL:               t.seedBaseURL,
		Timestamp:                 cycleStart,
		UptimeSeconds:             stats.UptimeSeconds,
		PacketsReceivedCumulative: stats.PacketsReceivedCumulative,
		PacketsSentCumulative:     stats.PacketsSentCumulative,
		TotalBytes:                stats.TotalBytes,
		ActiveStreams:             stats.ActiveStreams,
	}
	if prior != nil {
		sample.PacketsInPerSec = rates.Derive(prior.PacketsReceivedCumulative, prior.Timestamp, stats.PacketsReceivedCumulative, cycleStart)
		sample.PacketsOutPerSec = rates.Derive(prior.PacketsSentCumulative, prior.Timestamp, stats.PacketsSentCumulative, cycleStart)
	}

	if err := c.store.InsertStatsSample(sample); err != nil {
		logger.Warn("failed to insert stats sample", zap.Int64("peerId", t.pnodeId), zap.Error(err))
		c.failProbe(t, cycleStart, logger)
		return false, fmt.Errorf("insert stats sample: %w", err)
	}

	nextAllowed := cycleStart.Add(c.cfg.PostProbeCooldown)
	if err := c.store.UpdatePeerBackoff(t.pnodeId, store.PeerBackoffPatch{
		FailureCount:       0,
		LastStatsAttemptAt: cycleStart,
		LastStatsSuccessAt: &cycleStart,
		NextStatsAllowedAt: &nextAllowed,
	}); err != nil {
		logger.Warn("failed to update peer backoff on success", zap.Int64("peerId", t.pnodeId), zap.Error(err))
	}
	return true, nil
}

func (c *Cycle) failProbe(t probeTask, cycleStart time.Time, logger *zap.Logger) {
	peer, err := c.store.FindPeerById(t.pnodeId)
	if err != nil || peer == nil {
		logger.Warn("failed to read peer for backoff growth", zap.Int64("peerId", t.pnodeId), zap.Error(err))
		return
	}

	newFailureCount := peer.FailureCount + 1
	delay := backoffDelay(newFailureCount)
	nextAllowed := cycleStart.Add(delay)

	if err := c.store.UpdatePeerBackoff(t.pnodeId, store.PeerBackoffPatch{
		FailureCount:       newFailureCount,
		LastStatsAttemptAt: cycleStart,
		NextStatsAllowedAt: &nextAllowed,
	}); err != nil {
		logger.Warn("failed to update peer backoff on failure", zap.Int64("peerId", t.pnodeId), zap.Error(err))
	}
}

package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/xandeum/ingestor/pkg/config"
	"github.com/xandeum/ingestor/pkg/domain"
	"github.com/xandeum/ingestor/pkg/rpcclient"
	"github.com/xandeum/ingestor/pkg/store"
)

type fakeStore struct {
	mu sync.Mutex

	peersByPubkey map[string]*domain.Peer
	peersById     map[int64]*domain.Peer
	nextPeerId    int64

	gossipObs    []domain.GossipObservation
	statsSamples []domain.StatsSample

	runs      map[int64]*domain.IngestionRun
	seedStats map[int64][]domain.RunSeedStats
	nextRunId int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		peersByPubkey: map[string]*domain.Peer{},
		peersById:     map[int64]*domain.Peer{},
		runs:          map[int64]*domain.IngestionRun{},
		seedStats:     map[int64][]domain.RunSeedStats{},
	}
}

func (f *fakeStore) UpsertPeer(pubkey string, isPublic bool) (*domain.Peer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if p, ok := f.peersByPubkey[pubkey]; ok {
		p.IsPublic = isPublic
		cp := *p
		return &cp, nil
	}

	f.nextPeerId++
	p := &domain.Peer{Id: f.nextPeerId, Pubkey: pubkey, IsPublic: isPublic}
	f.peersByPubkey[pubkey] = p
	f.peersById[p.Id] = p
	cp := *p
	return &cp, nil
}

func (f *fakeStore) FindPeerById(id int64) (*domain.Peer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.peersById[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) InsertGossipObservation(obs domain.GossipObservation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gossipObs = append(f.gossipObs, obs)
	return nil
}

func (f *fakeStore) FindLatestStatsSampleForPeer(peerId int64) (*domain.StatsSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *domain.StatsSample
	for i := range f.statsSamples {
		s := f.statsSamples[i]
		if s.PnodeId != peerId {
			continue
		}
		if latest == nil || s.Timestamp.After(latest.Timestamp) {
			cp := s
			latest = &cp
		}
	}
	return latest, nil
}

func (f *fakeStore) InsertStatsSample(sample domain.StatsSample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statsSamples = append(f.statsSamples, sample)
	return nil
}

func (f *fakeStore) UpdatePeerBackoff(id int64, patch store.PeerBackoffPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.peersById[id]
	if !ok {
		return nil
	}
	p.FailureCount = patch.FailureCount
	p.LastStatsAttemptAt = &patch.LastStatsAttemptAt
	if patch.LastStatsSuccessAt != nil {
		p.LastStatsSuccessAt = patch.LastStatsSuccessAt
	}
	p.NextStatsAllowedAt = patch.NextStatsAllowedAt
	return nil
}

func (f *fakeStore) ResetExpiredBackoffs(olderThan time.Time) (int, error) {
	return 0, nil
}

func (f *fakeStore) InsertIngestionRun(token string, startedAt time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextRunId++
	f.runs[f.nextRunId] = &domain.IngestionRun{Id: f.nextRunId, Token: token, StartedAt: startedAt}
	return f.nextRunId, nil
}

func (f *fakeStore) UpdateIngestionRun(id int64, finishedAt time.Time, summary domain.IngestionRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok {
		return nil
	}
	run.FinishedAt = &finishedAt
	run.Attempted = summary.Attempted
	run.Success = summary.Success
	run.Failed = summary.Failed
	run.Backoff = summary.Backoff
	run.Observed = summary.Observed
	return nil
}

func (f *fakeStore) InsertRunSeedStats(runId int64, stats []domain.RunSeedStats) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seedStats[runId] = stats
	return nil
}

type fakeRPC struct {
	mu sync.Mutex

	pods    map[string]rpcclient.GossipView
	podErrs map[string]error

	stats     map[string]rpcclient.Stats
	statsErrs map[string]error

	statsCalls map[string]int
}

func newFakeRPC() *fakeRPC {
	return &fakeRPC{
		pods:       map[string]rpcclient.GossipView{},
		podErrs:    map[string]error{},
		stats:      map[string]rpcclient.Stats{},
		statsErrs:  map[string]error{},
		statsCalls: map[string]int{},
	}
}

func (f *fakeRPC) GetPods(ctx context.Context, seedBaseURL string) (rpcclient.GossipView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.podErrs[seedBaseURL]; ok {
		return rpcclient.GossipView{}, err
	}
	return f.pods[seedBaseURL], nil
}

func (f *fakeRPC) GetStats(ctx context.Context, probeBaseURL string) (rpcclient.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statsCalls[probeBaseURL]++
	if err, ok := f.statsErrs[probeBaseURL]; ok {
		return rpcclient.Stats{}, err
	}
	return f.stats[probeBaseURL], nil
}

func strptr(s string) *string   { return &s }
func i64ptr(v int64) *int64     { return &v }
func boolptr(v bool) *bool      { return &v }
func f64ptr(v float64) *float64 { return &v }

func testConfig(seeds ...string) *config.Config {
	return &config.Config{
		Seeds:              seeds,
		MaxConcurrentSeeds: 8,
		ProbeBatchSize:     50,
		BackoffResetAge:    24 * time.Hour,
		PostProbeCooldown:  60 * time.Second,
	}
}

func TestRunFirstSighting(t *testing.T) {
	rpc := newFakeRPC()
	rpc.pods["https://seed1"] = rpcclient.GossipView{Pods: []rpcclient.PodInfo{
		{
			Address:             "10.0.0.1:6000",
			Version:             strptr("1.0"),
			Pubkey:              strptr("A"),
			StorageCommitted:    i64ptr(100),
			StorageUsed:         i64ptr(40),
			StorageUsagePercent: f64ptr(0.4),
			IsPublic:            boolptr(true),
		},
	}}
	rpc.stats["http://10.0.0.1:6000"] = rpcclient.Stats{
		UptimeSeconds:             i64ptr(120),
		PacketsReceivedCumulative: i64ptr(100),
		PacketsSentCumulative:     i64ptr(50),
		TotalBytes:                i64ptr(1000),
		ActiveStreams:             intptr(2),
	}

	st := newFakeStore()
	cyc := New(st, rpc, testConfig("https://seed1"), zap.NewNop())

	result, err := cyc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if result.Summary.Attempted != 1 || result.Summary.Success != 1 || result.Summary.Failed != 0 || result.Summary.Backoff != 0 || result.Summary.Observed != 1 {
		t.Fatalf("unexpected summary: %+v", result.Summary)
	}
	if len(st.gossipObs) != 1 {
		t.Fatalf("expected 1 gossip observation, got %d", len(st.gossipObs))
	}
	if len(st.statsSamples) != 1 {
		t.Fatalf("expected 1 stats sample, got %d", len(st.statsSamples))
	}
	sample := st.statsSamples[0]
	if sample.PacketsInPerSec != nil || sample.PacketsOutPerSec != nil {
		t.Fatalf("expected nil rates with no prior sample, got %+v", sample)
	}

	peer := st.peersByPubkey["A"]
	if peer == nil || !peer.IsPublic || peer.FailureCount != 0 {
		t.Fatalf("unexpected peer state: %+v", peer)
	}
	if peer.NextStatsAllowedAt == nil {
		t.Fatal("expected nextStatsAllowedAt to be set after a successful probe")
	}
}

func intptr(v int) *int { return &v }

func TestRunDedupAcrossSeeds(t *testing.T) {
	rpc := newFakeRPC()
	pod := rpcclient.PodInfo{Address: "10.0.0.2:6000", Pubkey: strptr("C")}
	for _, seed := range []string{"https://seed1", "https://seed2", "https://seed3"} {
		rpc.pods[seed] = rpcclient.GossipView{Pods: []rpcclient.PodInfo{pod}}
	}
	rpc.stats["http://10.0.0.2:6000"] = rpcclient.Stats{UptimeSeconds: i64ptr(10)}

	st := newFakeStore()
	cyc := New(st, rpc, testConfig("https://seed1", "https://seed2", "https://seed3"), zap.NewNop())

	result, err := cyc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(st.gossipObs) != 3 {
		t.Fatalf("expected 3 gossip observations (one per seed), got %d", len(st.gossipObs))
	}
	if result.Summary.Attempted != 1 {
		t.Fatalf("expected exactly 1 deduplicated probe attempt, got %d", result.Summary.Attempted)
	}
	if calls := rpc.statsCalls["http://10.0.0.2:6000"]; calls != 1 {
		t.Fatalf("expected exactly 1 getStats call, got %d", calls)
	}
}

func TestRunSeedFailureIsolation(t *testing.T) {
	rpc := newFakeRPC()
	rpc.podErrs["https://seed1"] = &rpcclient.Error{Kind: rpcclient.KindTimeout, Message: "boom"}
	rpc.pods["https://seed2"] = rpcclient.GossipView{Pods: []rpcclient.PodInfo{
		{Address: "10.0.0.3:6000", Pubkey: strptr("D")},
		{Address: "10.0.0.4:6000", Pubkey: strptr("E")},
	}}
	rpc.stats["http://10.0.0.3:6000"] = rpcclient.Stats{}
	rpc.stats["http://10.0.0.4:6000"] = rpcclient.Stats{}

	st := newFakeStore()
	cyc := New(st, rpc, testConfig("https://seed1", "https://seed2"), zap.NewNop())

	result, err := cyc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	var seed1, seed2 *domain.RunSeedStats
	for i := range result.PerSeed {
		switch result.PerSeed[i].SeedBaseURL {
		case "https://seed1":
			seed1 = &result.PerSeed[i]
		case "https://seed2":
			seed2 = &result.PerSeed[i]
		}
	}
	if seed1 == nil || seed1.Attempted != 0 || seed1.Observed != 0 || seed1.Success != 0 || seed1.Failed != 0 || seed1.Backoff != 0 {
		t.Fatalf("expected zeroed metrics for the failing seed, got %+v", seed1)
	}
	if seed2 == nil || seed2.Observed != 2 || seed2.Success != 2 {
		t.Fatalf("expected full gossip+probe flow for the healthy seed, got %+v", seed2)
	}
}

func TestRunProbeFailureGrowsBackoff(t *testing.T) {
	rpc := newFakeRPC()
	rpc.pods["https://seed1"] = rpcclient.GossipView{Pods: []rpcclient.PodInfo{
		{Address: "10.0.0.5:6000", Pubkey: strptr("B")},
	}}
	rpc.statsErrs["http://10.0.0.5:6000"] = &rpcclient.Error{Kind: rpcclient.KindTimeout, Message: "boom"}

	st := newFakeStore()
	// Seed the peer with a pre-existing failure count, as in scenario 3.
	peer, _ := st.UpsertPeer("B", false)
	st.peersById[peer.Id].FailureCount = 2

	cyc := New(st, rpc, testConfig("https://seed1"), zap.NewNop())
	before := time.Now()
	result, err := cyc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if result.Summary.Failed != 1 || result.Summary.Success != 0 {
		t.Fatalf("expected 1 failure and 0 successes, got %+v", result.Summary)
	}

	updated := st.peersById[peer.Id]
	if updated.FailureCount != 3 {
		t.Fatalf("expected failureCount 3, got %d", updated.FailureCount)
	}
	wantDelay := 60 * (1 << 3)
	if updated.NextStatsAllowedAt == nil {
		t.Fatal("expected nextStatsAllowedAt to be set after a failed probe")
	}
	gotDelay := updated.NextStatsAllowedAt.Sub(before).Seconds()
	if gotDelay < float64(wantDelay)-2 || gotDelay > float64(wantDelay)+2 {
		t.Fatalf("expected backoff delay ~%ds, got %.1fs", wantDelay, gotDelay)
	}
	if len(st.statsSamples) != 0 {
		t.Fatalf("expected no stats sample on failure, got %d", len(st.statsSamples))
	}
}

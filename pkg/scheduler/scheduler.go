// Package scheduler implements the scheduler/supervisor (C8): interval-
// driven execution of the ingestion cycle, credits ingestion, and cleanup,
// plus the circuit breaker, heartbeat, and health endpoint they share.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xandeum/ingestor/pkg/cleanup"
	"github.com/xandeum/ingestor/pkg/config"
	"github.com/xandeum/ingestor/pkg/credits"
	"github.com/xandeum/ingestor/pkg/domain"
	"github.com/xandeum/ingestor/pkg/ingest"
	"github.com/xandeum/ingestor/pkg/rpcclient"
)

// Pinger is the subset of the store gateway used for liveness checks.
type Pinger interface {
	Ping(timeout time.Duration) error
}

// CreditsFetcher fetches the external credits document (C2).
type CreditsFetcher interface {
	Fetch(ctx context.Context) ([]credits.Row, error)
}

// CreditsGateway is the subset of the store gateway credits ingestion uses.
type CreditsGateway interface {
	InsertPodCreditsSnapshot(minInterval time.Duration, snap domain.PodCreditsSnapshot) (bool, error)
	UpdatePeerCredits(pubkey string, credits float64, observedAt time.Time) error
}

// CleanupRunner runs the cleanup engine (C5).
type CleanupRunner interface {
	Run() []cleanup.TableResult
}

// SeedProbe is the subset of the RPC client used for startup seed
// validation.
type SeedProbe interface {
	GetPods(ctx context.Context, seedBaseURL string) (rpcclient.GossipView, error)
}

// SnapshotComputer computes and persists one NetworkSnapshot per run.
type SnapshotComputer interface {
	Compute(runId int64, now time.Time) (domain.NetworkSnapshot, error)
}

// Scheduler drives the three periodic workers and serves the health
// endpoint's backing status.
type Scheduler struct {
	cfg         *config.Config
	version     string
	store       Pinger
	cycle       *ingest.Cycle
	snap        SnapshotComputer
	credit      CreditsFetcher
	creditStore CreditsGateway
	cleanup     CleanupRunner
	seedProbe   SeedProbe
	logger      *zap.Logger

	breaker *CircuitBreaker

	startedAt time.Time

	status   HealthStatus
	statusCh chan func(*HealthStatus)

	shutdown chan chan error
}

// HealthStatus is the payload served by GET /health (§4.8).
type HealthStatus struct {
	Status                    string     `json:"status"`
	Version                   string     `json:"version"`
	UptimeSeconds             float64    `json:"uptime"`
	LastSuccessfulIngestion   *time.Time `json:"lastSuccessfulIngestion"`
	LastIngestionAttempt      *time.Time `json:"lastIngestionAttempt"`
	LastIngestionAttemptToken string     `json:"lastIngestionAttemptToken"`
	IngestionFailureCount     int        `json:"ingestionFailureCount"`
	Database                  string     `json:"database"`
	Timestamp                 time.Time  `json:"timestamp"`
}

// New creates a Scheduler wired against its collaborators. version is
// surfaced verbatim on the health endpoint.
func New(
	cfg *config.Config,
	version string,
	store Pinger,
	cycle *ingest.Cycle,
	snap SnapshotComputer,
	credit CreditsFetcher,
	creditStore CreditsGateway,
	cleanupEngine CleanupRunner,
	seedProbe SeedProbe,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		cfg:         cfg,
		version:     version,
		store:       store,
		cycle:       cycle,
		snap:        snap,
		credit:      credit,
		creditStore: creditStore,
		cleanup:     cleanupEngine,
		seedProbe:   seedProbe,
		logger:      logger,
		breaker:     NewCircuitBreaker(cfg.CircuitBreakerFailures, cfg.CircuitBreakerCooldown),
		statusCh:    make(chan func(*HealthStatus)),
	}
}

// Run validates connectivity, executes one of each cycle type, then starts
// the periodic timers. It implements the teacher's workerStarterStopper
// shape: Run returns once startup validation and the background loop are
// both underway.
func (s *Scheduler) Run() error {
	if err := s.store.Ping(s.cfg.SeedValidationTimeout); err != nil {
		return fmt.Errorf("scheduler: store not reachable: %w", err)
	}
	if err := s.validateSeeds(); err != nil {
		return fmt.Errorf("scheduler: no seed reachable at startup: %w", err)
	}

	s.startedAt = time.Now()
	s.shutdown = make(chan chan error)

	s.runIngestOnce(context.Background())
	s.runCreditsOnce(context.Background())
	go s.runCleanupWithTimeout()

	go s.loop()
	return nil
}

// Stop requests graceful shutdown and waits for the loop to exit.
func (s *Scheduler) Stop() error {
	if s.shutdown == nil {
		return nil
	}
	errCh := make(chan error)
	s.shutdown <- errCh
	return <-errCh
}

// Status returns a point-in-time health snapshot, pinging the store fresh
// so a lost connection is reflected immediately.
func (s *Scheduler) Status() HealthStatus {
	reply := make(chan HealthStatus, 1)
	select {
	case s.statusCh <- func(h *HealthStatus) { reply <- *h }:
		st := <-reply
		st.Version = s.version
		st.UptimeSeconds = time.Since(s.startedAt).Seconds()
		st.Timestamp = time.Now()
		if err := pingDatabase(s.store); err != nil {
			st.Database = "down"
			st.Status = "unhealthy"
		} else {
			st.Database = "ok"
		}
		return st
	case <-time.After(time.Second):
		// The loop isn't running yet (e.g. called before Run); fall back to
		// a direct read of the zero-value status.
		return s.status
	}
}

func pingDatabase(p Pinger) error {
	return p.Ping(2 * time.Second)
}

// validateSeeds probes up to SeedValidationSample seeds with a short
// timeout each; one success is enough to proceed (§4.8).
func (s *Scheduler) validateSeeds() error {
	n := s.cfg.SeedValidationSample
	if n > len(s.cfg.Seeds) {
		n = len(s.cfg.Seeds)
	}

	var lastErr error
	for _, seed := range s.cfg.Seeds[:n] {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SeedValidationTimeout)
		_, err := s.seedProbe.GetPods(ctx, seed)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return lastErr
}

// loop owns every mutable field on Scheduler so none of it needs a mutex;
// all reads and writes happen from this single goroutine, status reads
// included, via statusCh.
func (s *Scheduler) loop() {
	ingestTicker := time.NewTicker(s.cfg.IngestInterval)
	creditsTicker := time.NewTicker(s.cfg.CreditsInterval)
	cleanupTicker := time.NewTicker(s.cfg.CleanupCheckInterval)
	heartbeatTicker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ingestTicker.Stop()
	defer creditsTicker.Stop()
	defer cleanupTicker.Stop()
	defer heartbeatTicker.Stop()

	s.status.Status = "ok"
	s.status.Version = s.version

	for {
		select {
		case respCh := <-s.shutdown:
			respCh <- nil
			return

		case mutate := <-s.statusCh:
			mutate(&s.status)

		case <-ingestTicker.C:
			if !s.breaker.Allow() {
				s.logger.Warn("circuit breaker open, skipping ingestion cycle")
				continue
			}
			s.runIngestOnce(context.Background())

		case <-creditsTicker.C:
			s.runCreditsOnce(context.Background())

		case <-cleanupTicker.C:
			go s.runCleanupWithTimeout()

		case <-heartbeatTicker.C:
			s.heartbeat()
		}
	}
}

func (s *Scheduler) runIngestOnce(ctx context.Context) {
	now := time.Now()
	s.status.LastIngestionAttempt = &now

	result, err := s.cycle.Run(ctx)
	s.status.LastIngestionAttemptToken = result.Token
	if err != nil {
		s.breaker.RecordFailure()
		s.status.IngestionFailureCount = s.breaker.Failures()
		s.logger.Error("ingestion cycle failed", zap.String("runToken", result.Token), zap.Error(err))
		return
	}

	s.breaker.RecordSuccess()
	s.status.IngestionFailureCount = 0
	finished := result.FinishedAt
	s.status.LastSuccessfulIngestion = &finished
	s.logger.Info("ingestion cycle finished",
		zap.Int64("runId", result.RunId),
		zap.String("runToken", result.Token),
		zap.Int("attempted", result.Summary.Attempted),
		zap.Int("success", result.Summary.Success),
		zap.Int("failed", result.Summary.Failed),
		zap.Int("backoff", result.Summary.Backoff),
		zap.Int("observed", result.Summary.Observed))

	if _, err := s.snap.Compute(result.RunId, result.FinishedAt); err != nil {
		s.logger.Warn("snapshot computation failed", zap.Int64("runId", result.RunId), zap.Error(err))
	}
}

func (s *Scheduler) runCreditsOnce(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CreditsTimeout)
	defer cancel()

	rows, err := s.credit.Fetch(callCtx)
	if err != nil {
		s.logger.Warn("credits fetch failed", zap.Error(err))
		return
	}

	now := time.Now()
	for _, row := range rows {
		inserted, err := s.creditStore.InsertPodCreditsSnapshot(s.cfg.CreditsMinInterval, domain.PodCreditsSnapshot{
			PodPubkey:  row.PodID,
			Credits:    row.Credits,
			ObservedAt: now,
		})
		if err != nil {
			s.logger.Warn("credits snapshot insert failed", zap.String("pod", row.PodID), zap.Error(err))
			continue
		}
		if !inserted {
			continue
		}
		if err := s.creditStore.UpdatePeerCredits(row.PodID, row.Credits, now); err != nil {
			s.logger.Warn("failed to update peer credits", zap.String("pod", row.PodID), zap.Error(err))
		}
	}
	s.logger.Info("credits ingestion finished", zap.Int("rows", len(rows)))
}

// runCleanupWithTimeout wraps a cleanup pass in the 5-minute wrapper timeout
// (§7): its result is discarded on expiry and never affects ingestion.
func (s *Scheduler) runCleanupWithTimeout() {
	done := make(chan []cleanup.TableResult, 1)
	go func() { done <- s.cleanup.Run() }()

	select {
	case results := <-done:
		for _, r := range results {
			if r.Triggered {
				s.logger.Info("cleanup triggered",
					zap.String("table", r.Table), zap.Int("countBefore", r.CountBefore), zap.Int64("deleted", r.Deleted))
			}
		}
	case <-time.After(s.cfg.CleanupTimeout):
		s.logger.Warn("cleanup pass timed out, result discarded")
	}
}

func (s *Scheduler) heartbeat() {
	uptime := time.Since(s.startedAt)
	failures := s.breaker.Failures()

	fields := []zap.Field{
		zap.Duration("uptime", uptime),
		zap.Int("consecutiveFailures", failures),
	}
	if s.status.LastSuccessfulIngestion != nil {
		fields = append(fields, zap.Time("lastSuccess", *s.status.LastSuccessfulIngestion))
	}
	s.logger.Info("scheduler heartbeat", fields...)

	if s.status.LastSuccessfulIngestion == nil || time.Since(*s.status.LastSuccessfulIngestion) > s.cfg.StaleSuccessAlert {
		s.logger.Error("ingestion has not succeeded recently", zap.Duration("staleFor", time.Since(s.startedAtOrZero())))
	}
}

func (s *Scheduler) startedAtOrZero() time.Time {
	if s.status.LastSuccessfulIngestion != nil {
		return *s.status.LastSuccessfulIngestion
	}
	return s.startedAt
}

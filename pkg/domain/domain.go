// Package domain holds the shared entity types read and written by the
// ingestion engine. These types carry no persistence logic of their own;
// that lives in pkg/store.
package domain

import "time"

// Peer is the persistent identity of a network node, keyed by its gossiped
// public key. All other peer-scoped tables reference Peer by Id.
type Peer struct {
	Id       int64
	Pubkey   string
	IsPublic bool

	// FailureCount is the number of consecutive failed stats probes. It is
	// capped semantically at 5 when computing backoff delays, but the stored
	// value itself is never clamped.
	FailureCount int

	LastStatsAttemptAt *time.Time
	LastStatsSuccessAt *time.Time

	// NextStatsAllowedAt is nil when the peer is eligible for a probe right
	// now. A non-nil value in the future means "skip this probe".
	NextStatsAllowedAt *time.Time

	LatestCredits    *float64
	CreditsUpdatedAt *time.Time
}

// InBackoff reports whether the peer is presently within its backoff window.
func (p *Peer) InBackoff(now time.Time) bool {
	return p.NextStatsAllowedAt != nil && p.NextStatsAllowedAt.After(now)
}

// GossipObservation is an append-only record of one sighting of one peer in
// one seed's gossip view.
type GossipObservation struct {
	Id                  int64
	PnodeId             int64
	SeedBaseURL         string
	ObservedAt          time.Time
	Address             string
	Version             *string
	LastSeenTimestamp   *int64
	StorageCommitted    *int64
	StorageUsed         *int64
	StorageUsagePercent *float64
	IsPublic            *bool
}

// StatsSample is an append-only record of one successful direct probe.
type StatsSample struct {
	Id                        int64
	PnodeId                   int64
	SeedBaseURL               string
	Timestamp                 time.Time
	UptimeSeconds             *int64
	PacketsReceivedCumulative *int64
	PacketsSentCumulative     *int64
	TotalBytes                *int64
	ActiveStreams             *int
	PacketsInPerSec           *float64
	PacketsOutPerSec          *float64
}

// IngestionRun is one execution of the ingestion cycle.
type IngestionRun struct {
	Id         int64
	Token      string // sortable xid correlation token, see pkg/ingest
	StartedAt  time.Time
	FinishedAt *time.Time
	Attempted  int
	Success    int
	Failed     int
	Backoff    int
	Observed   int
}

// RunSeedStats scopes the IngestionRun counters to a single seed.
type RunSeedStats struct {
	Id             int64
	IngestionRunId int64
	SeedBaseURL    string
	Attempted      int
	Backoff        int
	Success        int
	Failed         int
	Observed       int
}

// NetworkSnapshot is one aggregate computed per IngestionRun.
type NetworkSnapshot struct {
	Id                    int64
	IngestionRunId        int64
	TotalNodes            int
	ReachableNodes        int
	UnreachableNodes      int
	ReachablePercent      float64
	MedianUptimeSeconds   float64
	P90UptimeSeconds      float64
	TotalStorageCommitted int64
	TotalStorageUsed      int64
	NodesBackedOff        int
	NodesFailingStats     int

	VersionStats   []VersionStat
	SeedVisibility []SeedVisibility
	Credits        CreditsStat
}

// VersionStat is a version-string -> count histogram bucket.
type VersionStat struct {
	Version string
	Count   int
}

// SeedVisibilityClass buckets a peer's last-seen freshness as reported by a
// single seed.
type SeedVisibilityClass int

const (
	VisibilityFresh SeedVisibilityClass = iota
	VisibilityStale
	VisibilityOffline
)

func (c SeedVisibilityClass) String() string {
	switch c {
	case VisibilityFresh:
		return "fresh"
	case VisibilityStale:
		return "stale"
	default:
		return "offline"
	}
}

// SeedVisibility summarizes one seed's view of the network for a snapshot.
type SeedVisibility struct {
	SeedBaseURL string
	NodesSeen   int
	Fresh       int
	Stale       int
	Offline     int
}

// CreditsStat holds the credits percentiles for a snapshot.
type CreditsStat struct {
	MedianCredits float64
	P90Credits    float64
}

// PodCreditsSnapshot is an append-only credit reading, at most one per peer
// per two hours.
type PodCreditsSnapshot struct {
	Id          int64
	PodPubkey   string
	Credits     float64
	ObservedAt  time.Time
	SeedBaseURL *string
}

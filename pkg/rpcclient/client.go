// Package rpcclient implements the Peer RPC client (C1): JSON-RPC 2.0 calls
// over HTTP against a seed's gossip endpoint or a peer's direct probe
// endpoint.
//
// Why JSON-RPC over a single POST instead of a richer protocol? The remote
// side is out of our control (§6) and only speaks this one shape; the client
// exists to turn that shape into typed Go values and a small, branchable
// error taxonomy.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	methodGetPods  = "get-pods-with-stats"
	methodGetStats = "get-stats"
)

// requestDoer is the subset of *http.Client this package depends on, so
// tests can inject a fake without spinning up a listener.
type requestDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// ErrorKind classifies why an RPC call failed, so callers (the ingestion
// cycle's Stage B/D) can branch on disposition without string matching.
type ErrorKind int

const (
	KindTimeout ErrorKind = iota
	KindTransport
	KindHTTPStatus
	KindRPCError
	KindMalformed
	KindConfig
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindTransport:
		return "transport"
	case KindHTTPStatus:
		return "http_status"
	case KindRPCError:
		return "rpc_error"
	case KindMalformed:
		return "malformed"
	default:
		return "config"
	}
}

// Error is returned by GetPods/GetStats on any failure, carrying a Kind a
// caller can switch on.
type Error struct {
	Kind       ErrorKind
	Message    string
	HTTPStatus int   // set when Kind == KindHTTPStatus
	RPCCode    int   // set when Kind == KindRPCError
	Cause      error // underlying error, if any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("rpcclient: %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("rpcclient: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// PodInfo is the normalized shape of one gossiped pod, regardless of which
// of the two wire shapes the seed replied with (§4.1).
type PodInfo struct {
	Address             string
	Version             *string
	LastSeenTimestamp   *int64
	Pubkey              *string
	StorageCommitted    *int64
	StorageUsed         *int64
	StorageUsagePercent *float64
	Uptime              *int64
	IsPublic            *bool
}

// GossipView is the normalized result of a getPods call.
type GossipView struct {
	Pods []PodInfo
}

// Stats is the result of a getStats call against a peer's own endpoint.
type Stats struct {
	UptimeSeconds             *int64
	PacketsReceivedCumulative *int64
	PacketsSentCumulative     *int64
	TotalBytes                *int64
	ActiveStreams             *int
}

// Client issues JSON-RPC 2.0 calls to seeds (gossip) and peers (direct
// probes). A Client has no per-target state; one instance is shared across
// every seed and peer in a cycle.
type Client struct {
	httpClient requestDoer
	timeout    time.Duration
	limiter    *rate.Limiter
}

// New creates a Client with the given per-call timeout. A rate limiter
// bounds how fast this client issues new requests overall, so a large probe
// fan-out (Stage D, up to 50 concurrent tasks per batch) cannot burst past
// what the timeout budget can actually service.
func New(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{},
		timeout:    timeout,
		limiter:    rate.NewLimiter(rate.Limit(200), 50),
	}
}

// WithDoer overrides the underlying HTTP client, used by tests.
func (c *Client) WithDoer(d requestDoer) *Client {
	c.httpClient = d
	return c
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	ID      int    `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcErrorBody   `json:"error"`
}

type rpcErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GetPods calls get-pods-with-stats against a seed's gossip endpoint.
func (c *Client) GetPods(ctx context.Context, seedBaseURL string) (GossipView, error) {
	raw, err := c.call(ctx, seedBaseURL, methodGetPods)
	if err != nil {
		return GossipView{}, err
	}
	pods, err := parsePods(raw)
	if err != nil {
		return GossipView{}, &Error{Kind: KindMalformed, Message: "unparseable gossip result", Cause: err}
	}
	return GossipView{Pods: pods}, nil
}

// GetStats calls get-stats against a peer's own probe endpoint.
func (c *Client) GetStats(ctx context.Context, probeBaseURL string) (Stats, error) {
	raw, err := c.call(ctx, probeBaseURL, methodGetStats)
	if err != nil {
		return Stats{}, err
	}
	var wire statsWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Stats{}, &Error{Kind: KindMalformed, Message: "unparseable stats result", Cause: err}
	}
	return wire.toStats(), nil
}

// call performs the shared POST <base>/rpc {"jsonrpc":"2.0",...} round-trip
// and returns the raw `result` field, or a classified Error.
func (c *Client) call(ctx context.Context, baseURL string, method string) (json.RawMessage, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, &Error{Kind: KindConfig, Message: fmt.Sprintf("invalid or unsupported base URL %q", baseURL)}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &Error{Kind: KindTimeout, Message: "rate limiter wait cancelled", Cause: err}
	}

	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, ID: 1})
	if err != nil {
		return nil, &Error{Kind: KindMalformed, Message: "could not encode request", Cause: err}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := strings.TrimRight(baseURL, "/") + "/rpc"
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindTransport, Message: "could not build request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if callCtx.Err() != nil {
			return nil, &Error{Kind: KindTimeout, Message: fmt.Sprintf("call to %s timed out", endpoint), Cause: err}
		}
		return nil, &Error{Kind: KindTransport, Message: fmt.Sprintf("call to %s failed", endpoint), Cause: err}
	}
	defer func() {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{Kind: KindHTTPStatus, Message: fmt.Sprintf("unexpected status from %s", endpoint), HTTPStatus: resp.StatusCode}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Message: "could not read response body", Cause: err}
	}

	var parsed2 rpcResponse
	if err := json.Unmarshal(raw, &parsed2); err != nil {
		return nil, &Error{Kind: KindMalformed, Message: "unparseable JSON-RPC envelope", Cause: err}
	}
	if parsed2.Error != nil {
		return nil, &Error{Kind: KindRPCError, Message: parsed2.Error.Message, RPCCode: parsed2.Error.Code}
	}
	if parsed2.Result == nil {
		return nil, &Error{Kind: KindMalformed, Message: "response missing result field"}
	}
	return parsed2.Result, nil
}

// statsWire is the wire shape of a get-stats result.
type statsWire struct {
	Uptime             *int64 `json:"uptime"`
	PacketsReceived    *int64 `json:"packets_received"`
	PacketsSent        *int64 `json:"packets_sent"`
	TotalBytes         *int64 `json:"total_bytes"`
	ActiveStreams      *int   `json:"active_streams"`
}

func (w statsWire) toStats() Stats {
	return Stats{
		UptimeSeconds:             w.Uptime,
		PacketsReceivedCumulative: w.PacketsReceived,
		PacketsSentCumulative:     w.PacketsSent,
		TotalBytes:                w.TotalBytes,
		ActiveStreams:             w.ActiveStreams,
	}
}

// podWire covers both accepted gossip shapes: {pods:[...], total_count:n}
// and a bare array of pod objects.
type podWire struct {
	Address             string   `json:"address"`
	Version             *string  `json:"version"`
	LastSeenTimestamp   *int64   `json:"last_seen_timestamp"`
	Pubkey              *string  `json:"pubkey"`
	StorageCommitted    *int64   `json:"storage_committed"`
	StorageUsed         *int64   `json:"storage_used"`
	StorageUsagePercent *float64 `json:"storage_usage_percent"`
	Uptime              *int64   `json:"uptime"`
	IsPublic            *bool    `json:"is_public"`
}

func (w podWire) toPodInfo() PodInfo {
	return PodInfo{
		Address:             w.Address,
		Version:             w.Version,
		LastSeenTimestamp:   w.LastSeenTimestamp,
		Pubkey:              w.Pubkey,
		StorageCommitted:    w.StorageCommitted,
		StorageUsed:         w.StorageUsed,
		StorageUsagePercent: w.StorageUsagePercent,
		Uptime:              w.Uptime,
		IsPublic:            w.IsPublic,
	}
}

// parsePods normalizes the shape-polymorphic gossip response (§4.1, §9) to
// a single slice of PodInfo.
func parsePods(raw json.RawMessage) ([]PodInfo, error) {
	var wrapped struct {
		Pods       []podWire `json:"pods"`
		TotalCount int       `json:"total_count"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Pods != nil {
		return toPodInfos(wrapped.Pods), nil
	}

	var bare []podWire
	if err := json.Unmarshal(raw, &bare); err == nil {
		return toPodInfos(bare), nil
	}

	return nil, fmt.Errorf("gossip result matches neither the wrapped nor bare-array shape")
}

func toPodInfos(wire []podWire) []PodInfo {
	out := make([]PodInfo, len(wire))
	for i, w := range wire {
		out[i] = w.toPodInfo()
	}
	return out
}

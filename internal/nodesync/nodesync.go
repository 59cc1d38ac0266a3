// Package nodesync supervises chain-node synchronization: polling the
// node's JSON-RPC sync-status method, tracking a sliding rate history, and
// estimating time-to-caught-up.
package nodesync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/fleetctl/fleetctl/internal/clock"
	"github.com/fleetctl/fleetctl/internal/events"
	"github.com/fleetctl/fleetctl/internal/ferrors"
	"github.com/fleetctl/fleetctl/internal/metrics"
)

// Status is one sync-status probe result.
type Status struct {
	BlockCount  uint64
	HeaderCount uint64
	IsSynced    bool
	NetworkName string
	TipHashes   []string
	Difficulty  float64
	ProgressPct float64
	RateBlocksPerSec float64
	ETASec      *float64
}

// Strategy is the caller's choice of how to handle a !IsSynced node.
type Strategy string

const (
	StrategyWait       Strategy = "Wait"
	StrategyBackground Strategy = "Background"
	StrategySkip       Strategy = "Skip"
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type sample struct {
	at         time.Time
	blockCount uint64
}

const historyWindow = 10 * time.Minute

// Manager polls a single node's RPC endpoint and maintains its rate history.
type Manager struct {
	rpcURL string
	method string
	client *http.Client
	clk    clock.Clock
	bus    *events.Bus

	mu       sync.Mutex
	history  []sample
	wasSynced bool
}

// New builds a Manager targeting the given JSON-RPC endpoint and no-arg
// sync-status method. bus may be nil when no event publication is needed
// (e.g. in tests exercising Probe directly).
func New(rpcURL, method string, clk clock.Clock, bus *events.Bus) *Manager {
	return &Manager{
		rpcURL: rpcURL,
		method: method,
		client: &http.Client{Timeout: 10 * time.Second},
		clk:    clk,
		bus:    bus,
	}
}

// Probe issues the sync-status RPC call, records a history sample, and
// computes progress/rate/ETA.
func (m *Manager) Probe(ctx context.Context) (Status, error) {
	req := rpcRequest{JSONRPC: "2.0", Method: m.method, Params: []any{}, ID: 1}
	payload, err := json.Marshal(req)
	if err != nil {
		return Status{}, ferrors.Wrap(ferrors.KindInternal, "marshal rpc request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.rpcURL, bytes.NewReader(payload))
	if err != nil {
		return Status{}, ferrors.Wrap(ferrors.KindRPCError, "build rpc request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			metrics.RPCErrorsTotal.WithLabelValues(string(ferrors.KindRPCTimeout)).Inc()
			return Status{}, ferrors.Wrap(ferrors.KindRPCTimeout, "rpc call timed out", err)
		}
		metrics.RPCErrorsTotal.WithLabelValues(string(ferrors.KindRPCError)).Inc()
		return Status{}, ferrors.Wrap(ferrors.KindRPCError, "rpc call failed", err)
	}
	defer resp.Body.Close()

	var envelope rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return Status{}, ferrors.Wrap(ferrors.KindRPCError, "decode rpc response", err)
	}
	if envelope.Error != nil {
		return Status{}, ferrors.New(ferrors.KindRPCError, envelope.Error.Message)
	}

	var result struct {
		BlockCount  uint64   `json:"blockCount"`
		HeaderCount uint64   `json:"headerCount"`
		IsSynced    bool     `json:"isSynced"`
		NetworkName string   `json:"networkName"`
		TipHashes   []string `json:"tipHashes"`
		Difficulty  float64  `json:"difficulty"`
	}
	if err := json.Unmarshal(envelope.Result, &result); err != nil {
		return Status{}, ferrors.Wrap(ferrors.KindRPCError, "decode rpc result", err)
	}

	now := m.clk.Now()
	rate := m.recordAndRate(now, result.BlockCount)

	status := Status{
		BlockCount:       result.BlockCount,
		HeaderCount:      result.HeaderCount,
		IsSynced:         result.IsSynced,
		NetworkName:      result.NetworkName,
		TipHashes:        result.TipHashes,
		Difficulty:       result.Difficulty,
		RateBlocksPerSec: rate,
	}
	if result.HeaderCount > 0 {
		pct := 100 * float64(result.BlockCount) / float64(result.HeaderCount)
		if pct > 100 {
			pct = 100
		}
		status.ProgressPct = pct
	}
	if rate > 0 && result.BlockCount < result.HeaderCount {
		eta := float64(result.HeaderCount-result.BlockCount) / rate
		status.ETASec = &eta
	}

	metrics.SyncProgressPct.Set(status.ProgressPct)
	m.publish(status)
	return status, nil
}

// publish emits SyncProgress on every probe and SyncCaughtUp on the
// transition into a synced state.
func (m *Manager) publish(status Status) {
	if m.bus == nil {
		return
	}
	m.mu.Lock()
	wasSynced := m.wasSynced
	m.wasSynced = status.IsSynced
	m.mu.Unlock()

	evtType := events.SyncProgress
	if status.IsSynced && !wasSynced {
		evtType = events.SyncCaughtUp
	}
	m.bus.Publish(events.Event{Type: evtType, Payload: status, Timestamp: m.clk.Now()})
}

// recordAndRate appends a sample, trims history older than historyWindow,
// and returns the rate computed across the remaining window (0 if fewer
// than 2 samples or the block count went backward).
func (m *Manager) recordAndRate(now time.Time, blockCount uint64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append(m.history, sample{at: now, blockCount: blockCount})

	cutoff := now.Add(-historyWindow)
	trimmed := m.history[:0]
	for _, s := range m.history {
		if s.at.After(cutoff) {
			trimmed = append(trimmed, s)
		}
	}
	m.history = trimmed

	if len(m.history) < 2 {
		return 0
	}
	oldest := m.history[0]
	newest := m.history[len(m.history)-1]
	elapsed := newest.at.Sub(oldest.at).Seconds()
	if elapsed <= 0 {
		return 0
	}
	if newest.blockCount < oldest.blockCount {
		// Block count went backward (reorg or node resync); an unsigned
		// subtraction here would wrap to a garbage huge rate.
		return 0
	}
	return float64(newest.blockCount-oldest.blockCount) / elapsed
}

// RecommendStrategy implements the default-strategy rule: eta < 5min ⇒
// Wait, 5-60min ⇒ Background, >60min ⇒ Skip, unknown ⇒ Background.
func RecommendStrategy(etaSec *float64) Strategy {
	if etaSec == nil {
		return StrategyBackground
	}
	eta := *etaSec
	switch {
	case eta < 5*60:
		return StrategyWait
	case eta <= 60*60:
		return StrategyBackground
	default:
		return StrategySkip
	}
}

// FormatETA renders seconds using the largest significant units (days,
// hours, minutes, seconds), e.g. "2d 3h" or "45s". A nil ETA formats as
// "Calculating...".
func FormatETA(etaSec *float64) string {
	if etaSec == nil {
		return "Calculating..."
	}
	total := int64(*etaSec)
	if total < 0 {
		total = 0
	}
	days := total / 86400
	hours := (total % 86400) / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

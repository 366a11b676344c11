package tracker

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/NovaDovaDao/doviumV2/internal/chain"
	"github.com/NovaDovaDao/doviumV2/internal/domain/event"
	"github.com/NovaDovaDao/doviumV2/internal/domain/model"
	"github.com/NovaDovaDao/doviumV2/internal/metrics"
	"github.com/NovaDovaDao/doviumV2/internal/tracing"
	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultStaleAfter         = 5 * time.Minute
	defaultRecoveryGrace      = 5 * time.Second
	defaultRefreshConcurrency = 8

	addressLength = 32
)

var (
	errEmptyAddress = errors.New("address is empty")
	errNilCallback  = errors.New("callback is nil")
)

// ChangeCallback receives every non-empty change batch of one address.
// Batches of one address are delivered one at a time, in the order their
// refreshes completed. Callbacks of the same address are invoked in no
// particular order. A callback may call Refresh, RefreshAll or Recover;
// any batch that produces for the same address is delivered after the
// callback returns.
type ChangeCallback func(address string, changes []model.TokenChange)

// Labeler renders an address for log lines and error messages.
type Labeler interface {
	FormatLabel(address string) string
}

type Config struct {
	Network            string
	StaleAfter         time.Duration
	RecoveryGrace      time.Duration
	LatencyWindow      int
	RefreshConcurrency int
	// EmptyOnQueryError treats a failed ledger read as an empty balance
	// set, so every held mint is reported as closed. When false a failed
	// read leaves the cached snapshot untouched and yields no changes.
	EmptyOnQueryError bool
}

func DefaultConfig() Config {
	return Config{
		StaleAfter:         defaultStaleAfter,
		RecoveryGrace:      defaultRecoveryGrace,
		LatencyWindow:      defaultLatencyWindow,
		RefreshConcurrency: defaultRefreshConcurrency,
		EmptyOnQueryError:  true,
	}
}

func (c Config) normalized() Config {
	if c.StaleAfter <= 0 {
		c.StaleAfter = defaultStaleAfter
	}
	if c.RecoveryGrace < 0 {
		c.RecoveryGrace = defaultRecoveryGrace
	}
	if c.LatencyWindow <= 0 {
		c.LatencyWindow = defaultLatencyWindow
	}
	if c.RefreshConcurrency <= 0 {
		c.RefreshConcurrency = defaultRefreshConcurrency
	}
	return c
}

type Option func(*Tracker)

func WithLabeler(l Labeler) Option {
	return func(t *Tracker) { t.labeler = l }
}

func WithEventBus(b *event.Bus) Option {
	return func(t *Tracker) { t.bus = b }
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.nowFn = now }
}

type subscription struct {
	handle    chain.WatchHandle
	callbacks map[uuid.UUID]ChangeCallback
}

// Tracker owns the holdings cache, the subscription registry and the
// refresh statistics for one ledger. All state is reachable only through
// its methods.
type Tracker struct {
	ledger  chain.Ledger
	cfg     Config
	chain   string
	labeler Labeler
	bus     *event.Bus
	tracer  trace.Tracer
	logger  *slog.Logger
	nowFn   func() time.Time

	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu       sync.RWMutex
	subs     map[string]*subscription
	holdings map[string]model.WalletHoldings
	paused   bool
	closed   bool

	addrLocks *keyedMutex
	stats     *collector

	queueMu sync.Mutex
	queues  map[string]*dispatchQueue
}

func New(ledger chain.Ledger, cfg Config, logger *slog.Logger, opts ...Option) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.normalized()
	baseCtx, cancel := context.WithCancel(context.Background())

	t := &Tracker{
		ledger:     ledger,
		cfg:        cfg,
		chain:      ledger.Chain(),
		tracer:     tracing.Tracer(tracing.TrackerScope),
		nowFn:      time.Now,
		baseCtx:    baseCtx,
		cancelBase: cancel,
		subs:       make(map[string]*subscription),
		holdings:   make(map[string]model.WalletHoldings),
		addrLocks:  newKeyedMutex(),
		queues:     make(map[string]*dispatchQueue),
		stats:      newCollector(cfg.LatencyWindow),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.bus == nil {
		t.bus = event.NewBus()
	}
	t.logger = logger.With("component", "tracker", "chain", t.chain, "network", cfg.Network)
	return t
}

// Events returns the bus every tracker event is emitted on.
func (t *Tracker) Events() *event.Bus {
	return t.bus
}

// ValidateAddress checks that address is a base58 encoded 32-byte key.
func ValidateAddress(address string) error {
	if address == "" {
		return &ValidationError{Address: address, Err: errEmptyAddress}
	}
	raw, err := base58.Decode(address)
	if err != nil {
		return &ValidationError{Address: address, Err: err}
	}
	if len(raw) != addressLength {
		return &ValidationError{Address: address, Err: errors.New("decoded length is not 32 bytes")}
	}
	return nil
}

func (t *Tracker) label(address string) string {
	if t.labeler == nil {
		return address
	}
	return t.labeler.FormatLabel(address)
}

// GetBalance returns the cached amount of mint held by address.
func (t *Tracker) GetBalance(address, mint string) (*big.Int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h, ok := t.holdings[address]
	if !ok {
		return nil, false
	}
	tok, ok := h.Tokens[mint]
	if !ok {
		return nil, false
	}
	return new(big.Int).Set(amountOrZero(tok.Amount)), true
}

type WalletStats struct {
	TotalTokens        int   `json:"total_tokens"`
	UniqueMints        int   `json:"unique_mints"`
	LastUpdateAgeMs    int64 `json:"last_update_age_ms"`
	HasNonZeroHoldings bool  `json:"has_non_zero_holdings"`
}

// GetWalletStats summarizes the cached snapshot of address.
func (t *Tracker) GetWalletStats(address string) (WalletStats, bool) {
	t.mu.RLock()
	h, ok := t.holdings[address]
	t.mu.RUnlock()
	if !ok {
		return WalletStats{}, false
	}

	return WalletStats{
		TotalTokens:        len(h.Tokens),
		UniqueMints:        len(h.Mints()),
		LastUpdateAgeMs:    t.nowFn().Sub(h.LastUpdated).Milliseconds(),
		HasNonZeroHoldings: h.HasNonZero(),
	}, true
}

// Holdings returns a copy of the cached snapshot of address.
func (t *Tracker) Holdings(address string) (model.WalletHoldings, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h, ok := t.holdings[address]
	if !ok {
		return model.WalletHoldings{}, false
	}
	tokens := make(map[string]model.TokenBalance, len(h.Tokens))
	for mint, tok := range h.Tokens {
		tok.Amount = new(big.Int).Set(amountOrZero(tok.Amount))
		tokens[mint] = tok
	}
	return model.WalletHoldings{Address: h.Address, Tokens: tokens, LastUpdated: h.LastUpdated}, true
}

// CachedAddresses lists addresses with a snapshot, sorted.
func (t *Tracker) CachedAddresses() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return sortedKeys(t.holdings)
}

// TrackedAddresses lists subscribed addresses, sorted.
func (t *Tracker) TrackedAddresses() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return sortedKeys(t.subs)
}

func (t *Tracker) Paused() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.paused
}

type Performance struct {
	AverageLatencyMs float64 `json:"average_latency_ms"`
	SuccessRate      float64 `json:"success_rate"`
	ErrorCount       uint64  `json:"error_count"`
	TotalUpdates     uint64  `json:"total_updates"`
}

type Usage struct {
	ActiveSubscriptions int `json:"active_subscriptions"`
	CachedWallets       int `json:"cached_wallets"`
}

type MetricsSnapshot struct {
	Performance Performance `json:"performance"`
	Usage       Usage       `json:"usage"`
}

// GetMetrics reports refresh statistics and current registry sizes.
// ActiveSubscriptions counts live watch handles.
func (t *Tracker) GetMetrics() MetricsSnapshot {
	s := t.stats.stats()

	t.mu.RLock()
	live := t.liveWatchesLocked()
	cached := len(t.holdings)
	t.mu.RUnlock()

	return MetricsSnapshot{
		Performance: Performance{
			AverageLatencyMs: float64(s.AverageLatency) / float64(time.Millisecond),
			SuccessRate:      s.SuccessRate(),
			ErrorCount:       s.Errors,
			TotalUpdates:     s.Updates,
		},
		Usage: Usage{
			ActiveSubscriptions: live,
			CachedWallets:       cached,
		},
	}
}

func (t *Tracker) liveWatchesLocked() int {
	n := 0
	for _, sub := range t.subs {
		if handleLive(sub.handle) {
			n++
		}
	}
	return n
}

func handleLive(h chain.WatchHandle) bool {
	if h == nil {
		return false
	}
	select {
	case <-h.Done():
		return false
	default:
		return true
	}
}

func (t *Tracker) publishGauges() {
	t.mu.RLock()
	live := t.liveWatchesLocked()
	cached := len(t.holdings)
	t.mu.RUnlock()

	metrics.TrackerActiveSubscriptions.WithLabelValues(t.chain, t.cfg.Network).Set(float64(live))
	metrics.TrackerCachedWallets.WithLabelValues(t.chain, t.cfg.Network).Set(float64(cached))
}

func (t *Tracker) emit(ev event.Event) {
	t.bus.Emit(ev)
}

func (t *Tracker) emitError(address string, err error) {
	t.logger.Warn("tracker error", "address", address, "label", t.label(address), "error", err)
	t.emit(event.Event{Kind: event.KindError, Address: address, Message: err.Error(), Err: err})
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/NovaDovaDao/doviumV2/internal/chain"
	"github.com/NovaDovaDao/doviumV2/internal/chain/ratelimit"
	"github.com/NovaDovaDao/doviumV2/internal/chain/retry"
	"github.com/NovaDovaDao/doviumV2/internal/chain/solana/rpc"
	"github.com/NovaDovaDao/doviumV2/internal/circuitbreaker"
	"github.com/NovaDovaDao/doviumV2/internal/domain/model"
	"github.com/NovaDovaDao/doviumV2/internal/metrics"
)

// WatchMode selects how Watch detects token account mutations.
type WatchMode string

const (
	// WatchModeWebSocket runs one programSubscribe per token program,
	// filtered to the owner, each over a dedicated websocket.
	WatchModeWebSocket WatchMode = "websocket"
	// WatchModePoll polls the newest signature touching the owner and each
	// of its token accounts.
	WatchModePoll WatchMode = "poll"
)

const defaultPollInterval = 2 * time.Second

var tokenPrograms = []string{rpc.TokenProgramID, rpc.Token2022ProgramID}

// tokenStream is the subset of *rpc.Stream the adapter needs.
type tokenStream interface {
	Close() error
	Done() <-chan struct{}
}

type subscribeFunc func(ctx context.Context, wsURL, programID, owner string, notify func(), logger *slog.Logger) (tokenStream, error)

func dialTokenStream(ctx context.Context, wsURL, programID, owner string, notify func(), logger *slog.Logger) (tokenStream, error) {
	return rpc.SubscribeTokenAccounts(ctx, wsURL, programID, owner, notify, logger)
}

type Options struct {
	WSURL        string
	WatchMode    WatchMode
	PollInterval time.Duration
	// Timeout bounds each JSON-RPC round trip; zero keeps the client default.
	Timeout      time.Duration
	RPS          float64
	Burst        int
	Retry        retry.Policy
	// Breaker enables the circuit breaker around retried calls when set.
	Breaker      *circuitbreaker.Config
}

type Adapter struct {
	client       rpc.RPCClient
	wsURL        string
	mode         WatchMode
	pollInterval time.Duration
	limiter      *ratelimit.Limiter
	retryPolicy  retry.Policy
	breaker      *circuitbreaker.Breaker
	subscribe    subscribeFunc
	logger       *slog.Logger
}

var _ chain.Ledger = (*Adapter)(nil)

func NewAdapter(rpcURL string, opts Options, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return newAdapter(rpc.NewClient(rpcURL, logger, rpc.WithTimeout(opts.Timeout)), opts, logger)
}

func newAdapter(client rpc.RPCClient, opts Options, logger *slog.Logger) *Adapter {
	mode := opts.WatchMode
	if mode == "" {
		mode = WatchModeWebSocket
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	a := &Adapter{
		client:       client,
		wsURL:        opts.WSURL,
		mode:         mode,
		pollInterval: interval,
		limiter:      ratelimit.NewLimiter(opts.RPS, opts.Burst, "solana"),
		retryPolicy:  opts.Retry,
		subscribe:    dialTokenStream,
		logger:       logger.With("chain", "solana"),
	}
	if opts.Breaker != nil {
		a.breaker = a.newBreaker(*opts.Breaker)
	}
	return a
}

// newBreaker trips only on upstream trouble: exhausted transient errors.
// Terminal errors and caller cancellation leave it untouched.
func (a *Adapter) newBreaker(cfg circuitbreaker.Config) *circuitbreaker.Breaker {
	cfg.IsFailure = func(err error) bool {
		return !errors.Is(err, context.Canceled) && retry.Classify(err).IsTransient()
	}
	cfg.OnStateChange = func(from, to circuitbreaker.State) {
		metrics.RPCCircuitState.WithLabelValues(a.Chain()).Set(float64(to))
		a.logger.Warn("rpc circuit breaker state changed", "from", from.String(), "to", to.String())
	}
	metrics.RPCCircuitState.WithLabelValues(a.Chain()).Set(float64(circuitbreaker.StateClosed))
	return circuitbreaker.New(cfg)
}

func (a *Adapter) Chain() string {
	return "solana"
}

// GetBalances reads every SPL Token and Token-2022 account owned by
// address. Accounts with a zero amount are dropped; several accounts of
// the same mint are returned as separate entries.
func (a *Adapter) GetBalances(ctx context.Context, address string) ([]model.TokenBalance, error) {
	accounts, err := a.tokenAccounts(ctx, address)
	if err != nil {
		return nil, err
	}

	var balances []model.TokenBalance
	for _, acct := range accounts {
		info := acct.Account.Data.Parsed.Info
		amount, ok := new(big.Int).SetString(info.TokenAmount.Amount, 10)
		if !ok {
			return nil, fmt.Errorf("token account %s: invalid amount %q", acct.Pubkey, info.TokenAmount.Amount)
		}
		if amount.Sign() == 0 {
			continue
		}
		balances = append(balances, model.TokenBalance{
			Mint:     info.Mint,
			Amount:   amount,
			Decimals: info.TokenAmount.Decimals,
		})
	}
	return balances, nil
}

// tokenAccounts lists the accounts of address under both token programs.
func (a *Adapter) tokenAccounts(ctx context.Context, address string) ([]rpc.TokenAccount, error) {
	var all []rpc.TokenAccount
	for _, program := range tokenPrograms {
		var accounts []rpc.TokenAccount
		err := a.withRetry(ctx, "getTokenAccountsByOwner", func(ctx context.Context) error {
			var err error
			accounts, err = a.client.GetTokenAccountsByOwner(ctx, address, program)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("get token accounts of %s: %w", address, err)
		}
		all = append(all, accounts...)
	}
	return all, nil
}

// ProbeLiveness calls getHealth and then getSlot once each, without retry.
// The confirmed slot is published as the head slot gauge.
func (a *Adapter) ProbeLiveness(ctx context.Context) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	err := a.client.GetHealth(ctx)
	ratelimit.RecordRPCCall(a.Chain(), "getHealth", err)
	if err != nil {
		return err
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	slot, err := a.client.GetSlot(ctx, "confirmed")
	ratelimit.RecordRPCCall(a.Chain(), "getSlot", err)
	if err != nil {
		return err
	}
	metrics.RPCHeadSlot.WithLabelValues(a.Chain()).Set(float64(slot))
	a.logger.DebugContext(ctx, "node live", "slot", slot)
	return nil
}

// Watch opens a watch in the configured mode. ctx bounds the setup only;
// the watch runs until the handle is cancelled.
func (a *Adapter) Watch(ctx context.Context, address string, onChange func()) (chain.WatchHandle, error) {
	switch a.mode {
	case WatchModePoll:
		return a.watchPoll(ctx, address, onChange)
	case WatchModeWebSocket:
		return a.watchWebSocket(ctx, address, onChange)
	default:
		return nil, fmt.Errorf("unsupported watch mode %q", a.mode)
	}
}

func (a *Adapter) withRetry(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	if a.breaker == nil {
		return a.callWithRetry(ctx, method, fn)
	}
	err := a.breaker.Do(func() error { return a.callWithRetry(ctx, method, fn) })
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		metrics.RPCCircuitRejections.WithLabelValues(a.Chain()).Inc()
		return fmt.Errorf("%s: %w", method, err)
	}
	return err
}

func (a *Adapter) callWithRetry(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, a.retryPolicy, func(ctx context.Context) error {
		if err := a.limiter.Wait(ctx); err != nil {
			return err
		}
		err := fn(ctx)
		ratelimit.RecordRPCCall(a.Chain(), method, err)
		return err
	}, func(attempt int, d retry.Decision, err error) {
		metrics.RPCRetriesTotal.WithLabelValues(a.Chain(), method).Inc()
		a.logger.Debug("retrying rpc call",
			"method", method,
			"attempt", attempt,
			"reason", d.Reason,
			"error", err,
		)
	})
}

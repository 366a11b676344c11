package solana

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/NovaDovaDao/doviumV2/internal/chain/retry"
	"github.com/NovaDovaDao/doviumV2/internal/chain/solana/rpc"
	"github.com/NovaDovaDao/doviumV2/internal/circuitbreaker"
	"github.com/NovaDovaDao/doviumV2/internal/metrics"
	rpcmocks "github.com/NovaDovaDao/doviumV2/internal/chain/solana/rpc/mocks"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var fastRetry = retry.Policy{MaxAttempts: 3, BackoffInitial: time.Millisecond, BackoffMax: 2 * time.Millisecond}

func newTestAdapter(ctrl *gomock.Controller, opts Options) (*Adapter, *rpcmocks.MockRPCClient) {
	mockClient := rpcmocks.NewMockRPCClient(ctrl)
	if opts.Retry == (retry.Policy{}) {
		opts.Retry = fastRetry
	}
	return newAdapter(mockClient, opts, slog.Default()), mockClient
}

func tokenAccount(pubkey, mint, amount string, decimals uint8) rpc.TokenAccount {
	var acct rpc.TokenAccount
	acct.Pubkey = pubkey
	acct.Account.Data.Program = "spl-token"
	acct.Account.Data.Parsed.Type = "account"
	acct.Account.Data.Parsed.Info = rpc.TokenAccountInfo{
		Mint:        mint,
		State:       "initialized",
		TokenAmount: rpc.TokenAmount{Amount: amount, Decimals: decimals},
	}
	return acct
}

func TestAdapter_RPCClientContractParity(t *testing.T) {
	t.Parallel()

	var _ rpc.RPCClient = (*rpc.Client)(nil)
	var _ rpc.RPCClient = (*rpcmocks.MockRPCClient)(nil)
}

func TestAdapter_Chain(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter, _ := newTestAdapter(ctrl, Options{})
	assert.Equal(t, "solana", adapter.Chain())
}

func TestAdapter_Defaults(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter, _ := newTestAdapter(ctrl, Options{})
	assert.Equal(t, WatchModeWebSocket, adapter.mode)
	assert.Equal(t, defaultPollInterval, adapter.pollInterval)
	assert.Nil(t, adapter.limiter)
}

func TestAdapter_GetBalances_BothProgramsDropZero(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter, mockClient := newTestAdapter(ctrl, Options{})

	mockClient.EXPECT().
		GetTokenAccountsByOwner(gomock.Any(), "walletX", rpc.TokenProgramID).
		Return([]rpc.TokenAccount{
			tokenAccount("a1", "mintA", "1500000", 6),
			tokenAccount("a2", "mintEmpty", "0", 9),
			tokenAccount("a3", "mintA", "5", 6),
		}, nil)
	mockClient.EXPECT().
		GetTokenAccountsByOwner(gomock.Any(), "walletX", rpc.Token2022ProgramID).
		Return([]rpc.TokenAccount{
			tokenAccount("b1", "mintB", "340282366920938463463374607431768211456", 0),
		}, nil)

	balances, err := adapter.GetBalances(context.Background(), "walletX")
	require.NoError(t, err)
	require.Len(t, balances, 3)

	assert.Equal(t, "mintA", balances[0].Mint)
	assert.Equal(t, big.NewInt(1500000), balances[0].Amount)
	assert.Equal(t, uint8(6), balances[0].Decimals)
	assert.Equal(t, "mintA", balances[1].Mint)
	assert.Equal(t, "mintB", balances[2].Mint)
	want, _ := new(big.Int).SetString("340282366920938463463374607431768211456", 10)
	assert.Equal(t, 0, want.Cmp(balances[2].Amount))
}

func TestAdapter_GetBalances_RetriesTransient(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter, mockClient := newTestAdapter(ctrl, Options{})

	gomock.InOrder(
		mockClient.EXPECT().
			GetTokenAccountsByOwner(gomock.Any(), "walletX", rpc.TokenProgramID).
			Return(nil, &rpc.RPCError{Code: -32005, Message: "Node is behind"}),
		mockClient.EXPECT().
			GetTokenAccountsByOwner(gomock.Any(), "walletX", rpc.TokenProgramID).
			Return([]rpc.TokenAccount{tokenAccount("a1", "mintA", "7", 0)}, nil),
		mockClient.EXPECT().
			GetTokenAccountsByOwner(gomock.Any(), "walletX", rpc.Token2022ProgramID).
			Return(nil, nil),
	)

	balances, err := adapter.GetBalances(context.Background(), "walletX")
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, big.NewInt(7), balances[0].Amount)
}

func TestAdapter_GetBalances_TerminalError(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter, mockClient := newTestAdapter(ctrl, Options{})

	mockClient.EXPECT().
		GetTokenAccountsByOwner(gomock.Any(), "walletX", rpc.TokenProgramID).
		Return(nil, &rpc.RPCError{Code: -32602, Message: "Invalid param: WrongSize"}).
		Times(1)

	_, err := adapter.GetBalances(context.Background(), "walletX")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "terminal_failure")

	var rpcErr *rpc.RPCError
	assert.ErrorAs(t, err, &rpcErr)
}

func TestAdapter_GetBalances_InvalidAmount(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter, mockClient := newTestAdapter(ctrl, Options{})

	mockClient.EXPECT().
		GetTokenAccountsByOwner(gomock.Any(), "walletX", rpc.TokenProgramID).
		Return([]rpc.TokenAccount{tokenAccount("a1", "mintA", "1.5", 0)}, nil)

	_, err := adapter.GetBalances(context.Background(), "walletX")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid amount "1.5"`)
}

func TestAdapter_Breaker_OpensOnExhaustedTransientErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter, mockClient := newTestAdapter(ctrl, Options{
		Retry:   retry.Policy{MaxAttempts: 1},
		Breaker: &circuitbreaker.Config{FailureThreshold: 2, OpenTimeout: time.Hour},
	})

	mockClient.EXPECT().
		GetTokenAccountsByOwner(gomock.Any(), "walletX", rpc.TokenProgramID).
		Return(nil, &rpc.RPCError{Code: -32005, Message: "Node is behind"}).
		Times(2)

	for i := 0; i < 2; i++ {
		_, err := adapter.GetBalances(context.Background(), "walletX")
		require.Error(t, err)
	}
	require.Equal(t, circuitbreaker.StateOpen, adapter.breaker.State())

	_, err := adapter.GetBalances(context.Background(), "walletX")
	require.Error(t, err)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
}

func TestAdapter_Breaker_IgnoresTerminalErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter, mockClient := newTestAdapter(ctrl, Options{
		Breaker: &circuitbreaker.Config{FailureThreshold: 1, OpenTimeout: time.Hour},
	})

	mockClient.EXPECT().
		GetTokenAccountsByOwner(gomock.Any(), "walletX", rpc.TokenProgramID).
		Return(nil, &rpc.RPCError{Code: -32602, Message: "Invalid param: WrongSize"}).
		Times(3)

	for i := 0; i < 3; i++ {
		_, err := adapter.GetBalances(context.Background(), "walletX")
		require.Error(t, err)
		assert.NotErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	}
	assert.Equal(t, circuitbreaker.StateClosed, adapter.breaker.State())
}

func TestAdapter_Breaker_ProbeLivenessBypasses(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter, mockClient := newTestAdapter(ctrl, Options{
		Breaker: &circuitbreaker.Config{FailureThreshold: 1, OpenTimeout: time.Hour},
	})
	adapter.breaker.RecordFailure()
	require.Equal(t, circuitbreaker.StateOpen, adapter.breaker.State())

	mockClient.EXPECT().GetHealth(gomock.Any()).Return(nil)
	mockClient.EXPECT().GetSlot(gomock.Any(), "confirmed").Return(int64(1), nil)
	assert.NoError(t, adapter.ProbeLiveness(context.Background()))
}

func TestAdapter_ProbeLiveness(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter, mockClient := newTestAdapter(ctrl, Options{})

	gomock.InOrder(
		mockClient.EXPECT().GetHealth(gomock.Any()).Return(nil),
		mockClient.EXPECT().GetSlot(gomock.Any(), "confirmed").Return(int64(312_456_789), nil),
	)
	require.NoError(t, adapter.ProbeLiveness(context.Background()))
	assert.Equal(t, 312456789.0, testutil.ToFloat64(metrics.RPCHeadSlot.WithLabelValues("solana")))

	mockClient.EXPECT().GetHealth(gomock.Any()).Return(errors.New("connection refused")).Times(1)
	require.Error(t, adapter.ProbeLiveness(context.Background()))

	mockClient.EXPECT().GetHealth(gomock.Any()).Return(nil)
	mockClient.EXPECT().GetSlot(gomock.Any(), "confirmed").Return(int64(0), errors.New("node is behind"))
	err := adapter.ProbeLiveness(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node is behind")
}

func TestAdapter_Watch_UnsupportedMode(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter, _ := newTestAdapter(ctrl, Options{WatchMode: "carrier-pigeon"})

	h, err := adapter.Watch(context.Background(), "walletX", func() {})
	require.Error(t, err)
	assert.Nil(t, h)
}

type fakeStream struct {
	once   sync.Once
	done   chan struct{}
	closes atomic.Int32
}

func newFakeStream() *fakeStream { return &fakeStream{done: make(chan struct{})} }

func (f *fakeStream) Close() error {
	f.closes.Add(1)
	f.once.Do(func() { close(f.done) })
	return nil
}

func (f *fakeStream) Done() <-chan struct{} { return f.done }

// die ends the stream as if the node had dropped it.
func (f *fakeStream) die() { f.once.Do(func() { close(f.done) }) }

func TestAdapter_WatchWebSocket(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter, _ := newTestAdapter(ctrl, Options{WSURL: "ws://node"})

	var mu sync.Mutex
	streams := map[string]*fakeStream{}
	notifiers := map[string]func(){}
	adapter.subscribe = func(_ context.Context, wsURL, programID, owner string, n func(), _ *slog.Logger) (tokenStream, error) {
		assert.Equal(t, "ws://node", wsURL)
		assert.Equal(t, "walletX", owner)
		mu.Lock()
		defer mu.Unlock()
		stream := newFakeStream()
		streams[programID] = stream
		notifiers[programID] = n
		return stream, nil
	}

	var calls atomic.Int32
	h, err := adapter.Watch(context.Background(), "walletX", func() { calls.Add(1) })
	require.NoError(t, err)
	require.Len(t, streams, 2)
	require.Contains(t, streams, rpc.TokenProgramID)
	require.Contains(t, streams, rpc.Token2022ProgramID)

	notifiers[rpc.TokenProgramID]()
	notifiers[rpc.Token2022ProgramID]()
	assert.Equal(t, int32(2), calls.Load())

	select {
	case <-h.Done():
		t.Fatal("handle should be live")
	default:
	}

	require.NoError(t, h.Cancel())
	<-h.Done()
	for _, stream := range streams {
		assert.Equal(t, int32(1), stream.closes.Load())
	}
}

func TestAdapter_WatchWebSocket_OneStreamDroppingEndsTheWatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter, _ := newTestAdapter(ctrl, Options{WSURL: "ws://node"})

	streams := map[string]*fakeStream{}
	adapter.subscribe = func(_ context.Context, _, programID, _ string, _ func(), _ *slog.Logger) (tokenStream, error) {
		stream := newFakeStream()
		streams[programID] = stream
		return stream, nil
	}

	h, err := adapter.Watch(context.Background(), "walletX", func() {})
	require.NoError(t, err)

	streams[rpc.Token2022ProgramID].die()
	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("watch should end when one of its streams drops")
	}
	assert.Equal(t, int32(1), streams[rpc.TokenProgramID].closes.Load())
}

func TestAdapter_WatchWebSocket_Errors(t *testing.T) {
	ctrl := gomock.NewController(t)

	noURL, _ := newTestAdapter(ctrl, Options{})
	h, err := noURL.Watch(context.Background(), "walletX", func() {})
	require.ErrorIs(t, err, errNoWSURL)
	assert.Nil(t, h)

	adapter, _ := newTestAdapter(ctrl, Options{WSURL: "ws://node"})
	first := newFakeStream()
	adapter.subscribe = func(_ context.Context, _, programID, _ string, _ func(), _ *slog.Logger) (tokenStream, error) {
		if programID == rpc.Token2022ProgramID {
			return nil, errors.New("handshake failed")
		}
		return first, nil
	}
	h, err = adapter.Watch(context.Background(), "walletX", func() {})
	require.Error(t, err)
	assert.Nil(t, h)
	assert.Contains(t, err.Error(), "programSubscribe "+rpc.Token2022ProgramID+" for walletX")
	assert.Equal(t, int32(1), first.closes.Load())
}

// expectTokenAccounts answers getTokenAccountsByOwner for walletX with
// keys under the legacy program and nothing under Token-2022.
func expectTokenAccounts(mockClient *rpcmocks.MockRPCClient, keys func() []string) {
	mockClient.EXPECT().
		GetTokenAccountsByOwner(gomock.Any(), "walletX", rpc.TokenProgramID).
		DoAndReturn(func(context.Context, string, string) ([]rpc.TokenAccount, error) {
			var out []rpc.TokenAccount
			for _, k := range keys() {
				out = append(out, tokenAccount(k, "mint-"+k, "1", 0))
			}
			return out, nil
		}).
		AnyTimes()
	mockClient.EXPECT().
		GetTokenAccountsByOwner(gomock.Any(), "walletX", rpc.Token2022ProgramID).
		Return(nil, nil).
		AnyTimes()
}

// signatureHeads serves getSignaturesForAddress from a mutable table.
type signatureHeads struct {
	mu    sync.Mutex
	heads map[string]string
}

func (s *signatureHeads) set(address, head string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heads[address] = head
}

func (s *signatureHeads) expect(mockClient *rpcmocks.MockRPCClient) {
	mockClient.EXPECT().
		GetSignaturesForAddress(gomock.Any(), gomock.Any(), &rpc.GetSignaturesOpts{Limit: 1}).
		DoAndReturn(func(_ context.Context, address string, _ *rpc.GetSignaturesOpts) ([]rpc.SignatureInfo, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			head, ok := s.heads[address]
			if !ok {
				return nil, nil
			}
			return []rpc.SignatureInfo{{Signature: head}}, nil
		}).
		AnyTimes()
}

func TestAdapter_WatchPoll_FiresOnOwnerHead(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter, mockClient := newTestAdapter(ctrl, Options{WatchMode: WatchModePoll, PollInterval: 5 * time.Millisecond})

	sigs := &signatureHeads{heads: map[string]string{"walletX": "sig1"}}
	sigs.expect(mockClient)
	expectTokenAccounts(mockClient, func() []string { return nil })

	var calls atomic.Int32
	h, err := adapter.Watch(context.Background(), "walletX", func() { calls.Add(1) })
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())

	sigs.set("walletX", "sig2")
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.Cancel())
	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("poll watch did not stop")
	}
}

func TestAdapter_WatchPoll_FiresOnTransferIntoExistingTokenAccount(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter, mockClient := newTestAdapter(ctrl, Options{WatchMode: WatchModePoll, PollInterval: 5 * time.Millisecond})

	sigs := &signatureHeads{heads: map[string]string{"walletX": "w1", "ataX": "a1"}}
	sigs.expect(mockClient)
	expectTokenAccounts(mockClient, func() []string { return []string{"ataX"} })

	var calls atomic.Int32
	h, err := adapter.Watch(context.Background(), "walletX", func() { calls.Add(1) })
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Cancel() })

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())

	sigs.set("ataX", "a2")
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestAdapter_WatchPoll_PicksUpNewTokenAccount(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter, mockClient := newTestAdapter(ctrl, Options{WatchMode: WatchModePoll, PollInterval: 5 * time.Millisecond})

	sigs := &signatureHeads{heads: map[string]string{"walletX": "w1"}}
	sigs.expect(mockClient)
	var mu sync.Mutex
	var keys []string
	expectTokenAccounts(mockClient, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), keys...)
	})

	var calls atomic.Int32
	h, err := adapter.Watch(context.Background(), "walletX", func() { calls.Add(1) })
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Cancel() })

	mu.Lock()
	keys = []string{"ataNew"}
	mu.Unlock()
	sigs.set("ataNew", "n1")
	sigs.set("walletX", "w2")
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	sigs.set("ataNew", "n2")
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestAdapter_WatchPoll_BaselineFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter, mockClient := newTestAdapter(ctrl, Options{WatchMode: WatchModePoll})

	mockClient.EXPECT().
		GetSignaturesForAddress(gomock.Any(), "walletX", gomock.Any()).
		Return(nil, errors.New("method not found"))

	h, err := adapter.Watch(context.Background(), "walletX", func() {})
	require.Error(t, err)
	assert.Nil(t, h)
}

func TestAdapter_WatchPoll_DiesAfterRepeatedFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter, mockClient := newTestAdapter(ctrl, Options{
		WatchMode:    WatchModePoll,
		PollInterval: time.Millisecond,
		Retry:        retry.Policy{MaxAttempts: 1},
	})

	expectTokenAccounts(mockClient, func() []string { return nil })
	gomock.InOrder(
		mockClient.EXPECT().
			GetSignaturesForAddress(gomock.Any(), "walletX", gomock.Any()).
			Return(nil, nil),
		mockClient.EXPECT().
			GetSignaturesForAddress(gomock.Any(), "walletX", gomock.Any()).
			Return(nil, errors.New("invalid params")).
			Times(maxPollFailures),
	)

	h, err := adapter.Watch(context.Background(), "walletX", func() {})
	require.NoError(t, err)

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("poll watch should stop after consecutive failures")
	}
}

func TestAdapter_WatchPoll_OutlivesSetupContext(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter, mockClient := newTestAdapter(ctrl, Options{WatchMode: WatchModePoll, PollInterval: time.Millisecond})

	sigs := &signatureHeads{heads: map[string]string{"walletX": "s"}}
	sigs.expect(mockClient)
	expectTokenAccounts(mockClient, func() []string { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	h, err := adapter.Watch(ctx, "walletX", func() {})
	require.NoError(t, err)
	cancel()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-h.Done():
		t.Fatal("watch must outlive its setup context")
	default:
	}
	require.NoError(t, h.Cancel())
	<-h.Done()
}

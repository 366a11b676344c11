package tracker

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/NovaDovaDao/doviumV2/internal/chain"
	"github.com/NovaDovaDao/doviumV2/internal/domain/event"
	"github.com/NovaDovaDao/doviumV2/internal/domain/model"
	"github.com/mr-tron/base58"
)

var (
	addrA = testAddress(1)
	addrB = testAddress(2)
	addrC = testAddress(3)
)

func testAddress(seed byte) string {
	return base58.Encode(bytes.Repeat([]byte{seed}, 32))
}

func bal(mint string, amount int64, decimals uint8) model.TokenBalance {
	return model.TokenBalance{Mint: mint, Amount: big.NewInt(amount), Decimals: decimals}
}

type fakeWatch struct {
	onChange  func()
	done      chan struct{}
	once      sync.Once
	cancelErr error
}

func (w *fakeWatch) Cancel() error {
	w.once.Do(func() { close(w.done) })
	return w.cancelErr
}

func (w *fakeWatch) Done() <-chan struct{} { return w.done }

// die simulates a stream that terminated without being cancelled.
func (w *fakeWatch) die() { w.once.Do(func() { close(w.done) }) }

type fakeLedger struct {
	mu        sync.Mutex
	balances  map[string][]model.TokenBalance
	readErr   map[string]error
	watchErr  map[string]error
	cancelErr error
	probeErr  error
	watches   map[string]*fakeWatch
	opened    map[string]int
	reads     map[string]int
	block     map[string]chan struct{}
	watchGate map[string]chan struct{}
	waiting   map[string]int
}

var _ chain.Ledger = (*fakeLedger)(nil)

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		balances:  make(map[string][]model.TokenBalance),
		readErr:   make(map[string]error),
		watchErr:  make(map[string]error),
		watches:   make(map[string]*fakeWatch),
		opened:    make(map[string]int),
		reads:     make(map[string]int),
		block:     make(map[string]chan struct{}),
		watchGate: make(map[string]chan struct{}),
		waiting:   make(map[string]int),
	}
}

func (f *fakeLedger) Chain() string { return "solana" }

func (f *fakeLedger) set(address string, balances ...model.TokenBalance) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[address] = balances
	delete(f.readErr, address)
}

func (f *fakeLedger) failReads(address string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readErr[address] = err
}

func (f *fakeLedger) GetBalances(ctx context.Context, address string) ([]model.TokenBalance, error) {
	f.mu.Lock()
	f.reads[address]++
	gate := f.block[address]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.readErr[address]; err != nil {
		return nil, err
	}
	return append([]model.TokenBalance(nil), f.balances[address]...), nil
}

func (f *fakeLedger) Watch(ctx context.Context, address string, onChange func()) (chain.WatchHandle, error) {
	f.mu.Lock()
	gate := f.watchGate[address]
	if gate != nil {
		f.waiting[address]++
	}
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.watchErr[address]; err != nil {
		return nil, err
	}
	w := &fakeWatch{onChange: onChange, done: make(chan struct{}), cancelErr: f.cancelErr}
	f.watches[address] = w
	f.opened[address]++
	return w, nil
}

// holdWatch makes Watch of address wait until the returned channel is
// closed.
func (f *fakeLedger) holdWatch(address string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.watchGate[address] = gate
	return gate
}

// watchWaiting reports whether a Watch of address reached its gate.
func (f *fakeLedger) watchWaiting(address string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.waiting[address] > 0
}

func (f *fakeLedger) ProbeLiveness(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probeErr
}

// fire delivers one notification through the latest watch of address.
func (f *fakeLedger) fire(t *testing.T, address string) {
	t.Helper()
	f.mu.Lock()
	w := f.watches[address]
	f.mu.Unlock()
	if w == nil {
		t.Fatalf("no watch opened for %s", address)
	}
	select {
	case <-w.done:
		t.Fatalf("watch for %s is not live", address)
	default:
	}
	w.onChange()
}

func (f *fakeLedger) watch(address string) *fakeWatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watches[address]
}

func (f *fakeLedger) openCount(address string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened[address]
}

type eventRecorder struct {
	mu     sync.Mutex
	events []event.Event
}

func recordEvents(bus *event.Bus) *eventRecorder {
	r := &eventRecorder{}
	bus.OnAny(func(ev event.Event) {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
	})
	return r
}

func (r *eventRecorder) kinds() []event.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Kind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (r *eventRecorder) ofKind(kind event.Kind) []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

type batchRecorder struct {
	mu      sync.Mutex
	batches [][]model.TokenChange
}

func (b *batchRecorder) callback() ChangeCallback {
	return func(_ string, changes []model.TokenChange) {
		b.mu.Lock()
		b.batches = append(b.batches, changes)
		b.mu.Unlock()
	}
}

func (b *batchRecorder) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.batches)
}

func (b *batchRecorder) last() []model.TokenChange {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.batches) == 0 {
		return nil
	}
	return b.batches[len(b.batches)-1]
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestTracker(t *testing.T, ledger chain.Ledger, mutate ...func(*Config)) (*Tracker, *eventRecorder, *testClock) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Network = "devnet"
	cfg.RecoveryGrace = time.Millisecond
	for _, m := range mutate {
		m(&cfg)
	}
	clock := newTestClock()
	bus := event.NewBus()
	rec := recordEvents(bus)
	tr := New(ledger, cfg, slog.New(slog.NewTextHandler(nopWriter{}, nil)), WithEventBus(bus), WithClock(clock.Now))
	t.Cleanup(func() { _ = tr.Shutdown(context.Background()) })
	return tr, rec, clock
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func assertChange(t *testing.T, c model.TokenChange, mint string, oldAmount, newAmount int64) {
	t.Helper()
	if c.Mint != mint || c.OldBalance.Cmp(big.NewInt(oldAmount)) != 0 || c.NewBalance.Cmp(big.NewInt(newAmount)) != 0 {
		t.Errorf("change = {%s %s->%s}, want {%s %d->%d}", c.Mint, c.OldBalance, c.NewBalance, mint, oldAmount, newAmount)
	}
}

var errLedgerDown = errors.New("connection refused")

package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/NovaDovaDao/doviumV2/internal/domain/event"
	"github.com/NovaDovaDao/doviumV2/internal/domain/model"
	"github.com/NovaDovaDao/doviumV2/internal/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Refresh reads the current balances of address, replaces its snapshot
// and dispatches the resulting changes exactly as a watch notification
// would. Refreshes of one address never overlap. When a batch of the same
// address is still being delivered, the new batch is queued behind it and
// Refresh returns without waiting.
//
// A failed ledger read is reported as an error event carrying a
// *QueryError and is not returned. See Config.EmptyOnQueryError.
func (t *Tracker) Refresh(ctx context.Context, address string) []model.TokenChange {
	return t.handleNotification(ctx, address)
}

func (t *Tracker) watchHandler(address string) func() {
	return func() {
		t.handleNotification(t.baseCtx, address)
	}
}

func (t *Tracker) handleNotification(ctx context.Context, address string) []model.TokenChange {
	unlock := t.addrLocks.Lock(address)

	ctx, span := t.tracer.Start(ctx, "tracker.refresh", trace.WithAttributes(
		attribute.String("chain", t.chain),
		attribute.String("address", address),
	))
	defer span.End()

	start := time.Now()
	changes, queryErr, kept := t.refresh(ctx, address)
	latency := time.Since(start)

	if !kept {
		unlock()
		span.SetAttributes(attribute.Bool("dropped", true))
		return nil
	}

	t.stats.record(latency, queryErr != nil)
	metrics.TrackerRefreshesTotal.WithLabelValues(t.chain, t.cfg.Network).Inc()
	metrics.TrackerRefreshLatency.WithLabelValues(t.chain, t.cfg.Network).Observe(latency.Seconds())
	if queryErr != nil {
		t.emitError(address, queryErr)
		metrics.TrackerRefreshErrors.WithLabelValues(t.chain, t.cfg.Network).Inc()
		span.RecordError(queryErr)
		span.SetStatus(codes.Error, "ledger read failed")
	}
	span.SetAttributes(attribute.Int("changes", len(changes)))

	drain := len(changes) > 0 && t.enqueue(address, changes)
	unlock()
	if drain {
		t.drain(address)
	}
	return changes
}

// refresh must run under the address lock. kept is false when the address
// is no longer tracked, in which case nothing was written and the outcome
// must not be reported.
func (t *Tracker) refresh(ctx context.Context, address string) (changes []model.TokenChange, queryErr error, kept bool) {
	balances, err := t.ledger.GetBalances(ctx, address)
	if err != nil {
		queryErr = &QueryError{Address: address, Label: t.label(address), Err: err}
		if !t.cfg.EmptyOnQueryError {
			return nil, queryErr, t.tracking(address)
		}
		balances = nil
	}

	current := model.NewWalletHoldings(address, balances, t.nowFn())

	t.mu.Lock()
	if _, tracked := t.subs[address]; !tracked || t.closed {
		t.mu.Unlock()
		metrics.TrackerStaleWritesDropped.WithLabelValues(t.chain, t.cfg.Network).Inc()
		t.logger.Debug("dropped holdings write for untracked address", "address", address)
		return nil, queryErr, false
	}
	prev, had := t.holdings[address]
	t.holdings[address] = current
	t.mu.Unlock()

	if !had {
		t.publishGauges()
		return Diff(nil, current), queryErr, true
	}
	return Diff(&prev, current), queryErr, true
}

func (t *Tracker) tracking(address string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.subs[address]
	return ok && !t.closed
}

// dispatchQueue holds the undelivered batches of one address. At most one
// goroutine drains it, so batches reach callbacks one at a time in the
// order their refreshes completed.
type dispatchQueue struct {
	pending  [][]model.TokenChange
	draining bool
}

// enqueue must run under the address lock. It reports whether the caller
// became the drainer.
func (t *Tracker) enqueue(address string, changes []model.TokenChange) bool {
	t.queueMu.Lock()
	defer t.queueMu.Unlock()

	q, ok := t.queues[address]
	if !ok {
		q = &dispatchQueue{}
		t.queues[address] = q
	}
	q.pending = append(q.pending, changes)
	if q.draining {
		return false
	}
	q.draining = true
	return true
}

func (t *Tracker) drain(address string) {
	for {
		t.queueMu.Lock()
		q := t.queues[address]
		if len(q.pending) == 0 {
			delete(t.queues, address)
			t.queueMu.Unlock()
			return
		}
		changes := q.pending[0]
		q.pending = q.pending[1:]
		t.queueMu.Unlock()

		t.dispatch(address, changes)
	}
}

func (t *Tracker) dispatch(address string, changes []model.TokenChange) {
	t.mu.RLock()
	sub, ok := t.subs[address]
	if !ok {
		t.mu.RUnlock()
		return
	}
	callbacks := make([]ChangeCallback, 0, len(sub.callbacks))
	for _, cb := range sub.callbacks {
		callbacks = append(callbacks, cb)
	}
	t.mu.RUnlock()

	for _, cb := range callbacks {
		t.invoke(address, cb, changes)
	}

	metrics.TrackerChangesEmitted.WithLabelValues(t.chain, t.cfg.Network).Add(float64(len(changes)))
	t.logger.Debug("holdings changed", "address", address, "label", t.label(address), "changes", len(changes))
	t.emit(event.Event{Kind: event.KindChanges, Address: address, Changes: changes})
}

func (t *Tracker) invoke(address string, cb ChangeCallback, changes []model.TokenChange) {
	defer func() {
		if r := recover(); r != nil {
			metrics.TrackerCallbackPanics.WithLabelValues(t.chain, t.cfg.Network).Inc()
			t.emitError(address, fmt.Errorf("change callback for %s panicked: %v", t.label(address), r))
		}
	}()
	cb(address, changes)
}

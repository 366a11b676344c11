package tracker

import (
	"context"
	"errors"
	"fmt"

	"github.com/NovaDovaDao/doviumV2/internal/chain"
	"github.com/NovaDovaDao/doviumV2/internal/domain/event"
	"github.com/NovaDovaDao/doviumV2/internal/domain/model"
	"github.com/google/uuid"
)

// Subscribe registers cb for address. The first subscription of an
// address opens one watch and performs a baseline refresh whose changes
// report every held mint as newly opened. Later subscriptions of the same
// address only add their callback to the existing watch.
//
// While the tracker is paused the callback is registered and the watch is
// opened by Resume.
func (t *Tracker) Subscribe(ctx context.Context, address string, cb ChangeCallback) error {
	if err := ValidateAddress(address); err != nil {
		return err
	}
	if cb == nil {
		return &ValidationError{Address: address, Err: errNilCallback}
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return &SubscriptionError{Op: "subscribe", Address: address, Err: ErrClosed}
	}
	if sub, ok := t.subs[address]; ok {
		sub.callbacks[uuid.New()] = cb
		n := len(sub.callbacks)
		t.mu.Unlock()
		t.logger.DebugContext(ctx, "callback added to existing subscription",
			"address", address,
			"label", t.label(address),
			"callbacks", n,
		)
		return nil
	}
	sub := &subscription{callbacks: map[uuid.UUID]ChangeCallback{uuid.New(): cb}}
	t.subs[address] = sub
	paused := t.paused
	t.mu.Unlock()

	if paused {
		t.subscribedWhilePaused(ctx, address)
		return nil
	}

	handle, err := t.ledger.Watch(ctx, address, t.watchHandler(address))
	if err != nil {
		t.mu.Lock()
		if t.subs[address] == sub {
			delete(t.subs, address)
		}
		t.mu.Unlock()
		return &SubscriptionError{Op: "subscribe", Address: address, Err: err}
	}

	switch t.attachHandle(address, sub, handle) {
	case attachClosed:
		_ = handle.Cancel()
		return &SubscriptionError{Op: "subscribe", Address: address, Err: ErrClosed}
	case attachDropped:
		_ = handle.Cancel()
		return nil
	case attachPaused:
		_ = handle.Cancel()
		t.subscribedWhilePaused(ctx, address)
		return nil
	case attachRedundant:
		_ = handle.Cancel()
	}

	t.handleNotification(ctx, address)
	t.publishGauges()

	t.logger.InfoContext(ctx, "subscribed", "address", address, "label", t.label(address))
	t.emit(event.Event{Kind: event.KindSubscribed, Address: address})
	return nil
}

// subscribedWhilePaused announces a subscription whose watch is left to
// Resume. No baseline is read until the next notification or RefreshAll.
func (t *Tracker) subscribedWhilePaused(ctx context.Context, address string) {
	t.logger.InfoContext(ctx, "subscription registered while paused", "address", address, "label", t.label(address))
	t.emit(event.Event{Kind: event.KindSubscribed, Address: address})
}

type attachResult int

const (
	attachOK        attachResult = iota
	attachClosed                 // tracker shut down
	attachDropped                // address unsubscribed meanwhile
	attachPaused                 // tracker paused meanwhile
	attachRedundant              // a concurrent Resume already attached a watch
)

// attachHandle stores handle on sub unless the registry moved on while the
// watch was opening. Only attachOK keeps the handle.
func (t *Tracker) attachHandle(address string, sub *subscription, handle chain.WatchHandle) attachResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case t.closed:
		return attachClosed
	case t.subs[address] != sub:
		return attachDropped
	case t.paused:
		return attachPaused
	case sub.handle != nil:
		return attachRedundant
	}
	sub.handle = handle
	return attachOK
}

// Unsubscribe cancels the watch of address and forgets its callbacks and
// snapshot. Untracked addresses are ignored. A failed cancel is returned
// after the state has been removed.
func (t *Tracker) Unsubscribe(ctx context.Context, address string) error {
	t.mu.Lock()
	sub, ok := t.subs[address]
	if !ok {
		t.mu.Unlock()
		return nil
	}
	handle := sub.handle
	delete(t.subs, address)
	delete(t.holdings, address)
	t.mu.Unlock()

	var err error
	if handle != nil {
		if cerr := handle.Cancel(); cerr != nil {
			err = &SubscriptionError{Op: "unsubscribe", Address: address, Err: cerr}
		}
	}
	t.publishGauges()

	t.logger.InfoContext(ctx, "unsubscribed", "address", address, "label", t.label(address))
	t.emit(event.Event{Kind: event.KindUnsubscribed, Address: address})
	return err
}

// Pause cancels every watch while keeping callbacks and snapshots.
func (t *Tracker) Pause(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return &SubscriptionError{Op: "pause", Err: ErrClosed}
	}
	if t.paused {
		t.mu.Unlock()
		return nil
	}
	t.paused = true
	handles := make(map[string]chain.WatchHandle, len(t.subs))
	for address, sub := range t.subs {
		if sub.handle != nil {
			handles[address] = sub.handle
			sub.handle = nil
		}
	}
	t.mu.Unlock()

	var errs []error
	for _, address := range sortedKeys(handles) {
		if err := handles[address].Cancel(); err != nil {
			errs = append(errs, fmt.Errorf("cancel watch of %s: %w", t.label(address), err))
		}
	}
	t.publishGauges()

	t.logger.InfoContext(ctx, "tracker paused", "cancelled_watches", len(handles))
	t.emit(event.Event{Kind: event.KindPaused})
	if len(errs) > 0 {
		return &SubscriptionError{Op: "pause", Err: errors.Join(errs...)}
	}
	return nil
}

// Resume re-opens a watch for every subscribed address, reusing the
// registered callbacks. Addresses whose watch fails to open keep their
// callbacks and are reported in the returned error.
func (t *Tracker) Resume(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return &SubscriptionError{Op: "resume", Err: ErrClosed}
	}
	if !t.paused {
		t.mu.Unlock()
		return nil
	}
	t.paused = false
	pending := make(map[string]*subscription, len(t.subs))
	for address, sub := range t.subs {
		if sub.handle == nil {
			pending[address] = sub
		}
	}
	t.mu.Unlock()

	var errs []error
	opened := 0
	for _, address := range sortedKeys(pending) {
		handle, err := t.ledger.Watch(ctx, address, t.watchHandler(address))
		if err != nil {
			errs = append(errs, fmt.Errorf("watch %s: %w", t.label(address), err))
			continue
		}
		if t.attachHandle(address, pending[address], handle) != attachOK {
			_ = handle.Cancel()
			continue
		}
		opened++
	}
	t.publishGauges()

	t.logger.InfoContext(ctx, "tracker resumed", "opened_watches", opened, "failed", len(errs))
	t.emit(event.Event{Kind: event.KindResumed})
	if len(errs) > 0 {
		return &SubscriptionError{Op: "resume", Err: errors.Join(errs...)}
	}
	return nil
}

// Shutdown cancels every watch and clears all state. The tracker cannot be
// used afterwards. Failed cancels are reported once everything is cleared.
func (t *Tracker) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.paused = false
	handles := make(map[string]chain.WatchHandle, len(t.subs))
	for address, sub := range t.subs {
		if sub.handle != nil {
			handles[address] = sub.handle
		}
	}
	t.subs = make(map[string]*subscription)
	t.holdings = make(map[string]model.WalletHoldings)
	t.mu.Unlock()

	t.stats.reset()
	t.cancelBase()

	var errs []error
	for _, address := range sortedKeys(handles) {
		if err := handles[address].Cancel(); err != nil {
			errs = append(errs, fmt.Errorf("cancel watch of %s: %w", t.label(address), err))
		}
	}
	t.publishGauges()

	t.logger.InfoContext(ctx, "tracker shut down", "cancelled_watches", len(handles), "failed", len(errs))
	t.emit(event.Event{Kind: event.KindShutdown})
	if len(errs) > 0 {
		return &ShutdownError{Err: errors.Join(errs...)}
	}
	return nil
}

package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/NovaDovaDao/doviumV2/internal/alert"
	"github.com/NovaDovaDao/doviumV2/internal/config"
	"github.com/NovaDovaDao/doviumV2/internal/domain/model"
	"github.com/NovaDovaDao/doviumV2/internal/metrics"
	"github.com/NovaDovaDao/doviumV2/internal/tracker"
)

const defaultReloadInterval = 30 * time.Second

// Subscriber is the part of *tracker.Tracker the reloader drives.
type Subscriber interface {
	Subscribe(ctx context.Context, address string, cb tracker.ChangeCallback) error
	Unsubscribe(ctx context.Context, address string) error
}

// WatchlistSource returns the full desired watch list.
type WatchlistSource func() ([]model.WatchedAddress, error)

type WatchlistReloaderConfig struct {
	Chain    string
	Network  string
	Interval time.Duration
	// Poll disables the periodic reload when false; Run then syncs once.
	Poll bool
}

// WatchlistReloader keeps the tracker's subscriptions in line with the
// watch list. It only unsubscribes addresses it subscribed itself.
type WatchlistReloader struct {
	source   WatchlistSource
	book     *config.AddressBook
	sub      Subscriber
	callback tracker.ChangeCallback
	alerter  alert.Alerter
	cfg      WatchlistReloaderConfig
	logger   *slog.Logger

	// only touched by Sync callers, which are serialized by Run
	managed map[string]struct{}
}

func NewWatchlistReloader(
	source WatchlistSource,
	book *config.AddressBook,
	sub Subscriber,
	callback tracker.ChangeCallback,
	cfg WatchlistReloaderConfig,
	logger *slog.Logger,
) *WatchlistReloader {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultReloadInterval
	}
	return &WatchlistReloader{
		source:   source,
		book:     book,
		sub:      sub,
		callback: callback,
		alerter:  &alert.NoopAlerter{},
		cfg:      cfg,
		logger:   logger.With("component", "watchlist_reloader"),
		managed:  make(map[string]struct{}),
	}
}

// WithAlerter sets the alerter used for reload failures.
func (r *WatchlistReloader) WithAlerter(a alert.Alerter) *WatchlistReloader {
	r.alerter = a
	return r
}

// Run performs an initial Sync, then re-syncs every interval until ctx is
// cancelled.
func (r *WatchlistReloader) Run(ctx context.Context) error {
	r.logger.Info("watchlist reloader started", "poll", r.cfg.Poll, "interval", r.cfg.Interval)

	if err := r.Sync(ctx); err != nil {
		r.logger.Warn("initial watchlist sync incomplete", "error", err)
	}
	if !r.cfg.Poll {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("watchlist reloader stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := r.Sync(ctx); err != nil {
				r.logger.Warn("watchlist sync incomplete", "error", err)
			}
		}
	}
}

// Sync loads the watch list, updates the address book, subscribes added
// addresses and unsubscribes removed ones. A failed load leaves
// everything untouched. Failed subscriptions are retried on the next Sync.
func (r *WatchlistReloader) Sync(ctx context.Context) error {
	entries, err := r.source()
	if err != nil {
		metrics.WatchlistReloadErrors.WithLabelValues(r.cfg.Chain, r.cfg.Network).Inc()
		if sendErr := r.alerter.Send(ctx, alert.Alert{
			Type:    alert.AlertTypeWatchlist,
			Chain:   r.cfg.Chain,
			Network: r.cfg.Network,
			Title:   "Watch list reload failed",
			Message: err.Error(),
		}); sendErr != nil {
			r.logger.Warn("failed to send watchlist alert", "error", sendErr)
		}
		return fmt.Errorf("load watchlist: %w", err)
	}

	r.book.Replace(entries)
	desired := r.book.Addresses()

	want := make(map[string]struct{}, len(desired))
	var errs []error
	for _, addr := range desired {
		want[addr] = struct{}{}
		if _, ok := r.managed[addr]; ok {
			continue
		}
		if err := r.sub.Subscribe(ctx, addr, r.callback); err != nil {
			metrics.WatchlistReloadErrors.WithLabelValues(r.cfg.Chain, r.cfg.Network).Inc()
			errs = append(errs, err)
			continue
		}
		r.managed[addr] = struct{}{}
		r.logger.Info("address subscribed", "address", addr, "label", r.book.FormatLabel(addr))
	}

	for _, addr := range sortedSet(r.managed) {
		if _, ok := want[addr]; ok {
			continue
		}
		if err := r.sub.Unsubscribe(ctx, addr); err != nil {
			errs = append(errs, err)
		}
		delete(r.managed, addr)
		r.logger.Info("address unsubscribed", "address", addr)
	}

	return errors.Join(errs...)
}

// Managed returns the addresses subscribed by the reloader, sorted. It must
// not be called concurrently with Run.
func (r *WatchlistReloader) Managed() []string {
	return sortedSet(r.managed)
}

func sortedSet(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NovaDovaDao/doviumV2/internal/domain/event"
	"github.com/NovaDovaDao/doviumV2/internal/metrics"
	"golang.org/x/sync/errgroup"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// gaugeValue maps a status onto the holdings_health_status gauge.
func (s Status) gaugeValue() float64 {
	switch s {
	case StatusHealthy:
		return 1
	case StatusDegraded:
		return 2
	case StatusUnhealthy:
		return 3
	default:
		return 0
	}
}

// classify maps the number of detected problems onto a status.
func classify(problems int) Status {
	switch {
	case problems == 0:
		return StatusHealthy
	case problems == 1:
		return StatusDegraded
	default:
		return StatusUnhealthy
	}
}

type HealthStatus struct {
	Status              Status     `json:"status"`
	ActiveSubscriptions int        `json:"active_subscriptions"`
	CachedWallets       int        `json:"cached_wallets"`
	MostRecentUpdate    *time.Time `json:"most_recent_update,omitempty"`
	Errors              []string   `json:"errors"`
	CheckedAt           time.Time  `json:"checked_at"`
}

// CheckHealth probes the ledger and inspects the registry. Each of a
// failed probe, a newest snapshot older than StaleAfter, and a live watch
// count that differs from the number of subscribed addresses counts as
// one problem.
func (t *Tracker) CheckHealth(ctx context.Context) HealthStatus {
	problems := []string{}

	if err := t.ledger.ProbeLiveness(ctx); err != nil {
		problems = append(problems, fmt.Sprintf("ledger connectivity: %v", err))
	}

	t.mu.RLock()
	live := t.liveWatchesLocked()
	subscribed := 0
	for _, sub := range t.subs {
		if len(sub.callbacks) > 0 {
			subscribed++
		}
	}
	cached := len(t.holdings)
	var newest *time.Time
	for _, h := range t.holdings {
		if newest == nil || h.LastUpdated.After(*newest) {
			at := h.LastUpdated
			newest = &at
		}
	}
	t.mu.RUnlock()

	now := t.nowFn()
	if newest != nil {
		if age := now.Sub(*newest); age > t.cfg.StaleAfter {
			problems = append(problems, fmt.Sprintf("stale holdings: most recent update %s ago exceeds %s",
				age.Truncate(time.Second), t.cfg.StaleAfter))
		}
	}
	if live != subscribed {
		problems = append(problems, fmt.Sprintf("subscription mismatch: %d live watches for %d subscribed addresses",
			live, subscribed))
	}

	status := HealthStatus{
		Status:              classify(len(problems)),
		ActiveSubscriptions: live,
		CachedWallets:       cached,
		MostRecentUpdate:    newest,
		Errors:              problems,
		CheckedAt:           now,
	}

	metrics.TrackerHealthStatus.WithLabelValues(t.chain, t.cfg.Network).Set(status.Status.gaugeValue())
	metrics.TrackerHealthErrors.WithLabelValues(t.chain, t.cfg.Network).Set(float64(len(problems)))
	return status
}

// GetHealth is CheckHealth.
func (t *Tracker) GetHealth(ctx context.Context) HealthStatus {
	return t.CheckHealth(ctx)
}

// Recover pauses every watch, waits RecoveryGrace, resumes and refreshes
// all cached addresses. Changes that happened and reverted inside the
// window are not observed. If ctx ends during the grace wait the tracker
// is still resumed before returning.
func (t *Tracker) Recover(ctx context.Context) error {
	t.logger.WarnContext(ctx, "starting recovery", "grace", t.cfg.RecoveryGrace)

	var errs []error
	if err := t.Pause(ctx); err != nil {
		if errors.Is(err, ErrClosed) {
			metrics.TrackerRecoveriesTotal.WithLabelValues(t.chain, t.cfg.Network, "closed").Inc()
			return err
		}
		errs = append(errs, err)
	}

	if err := t.sleep(ctx, t.cfg.RecoveryGrace); err != nil {
		if rerr := t.Resume(context.WithoutCancel(ctx)); rerr != nil {
			errs = append(errs, rerr)
		}
		errs = append(errs, err)
		metrics.TrackerRecoveriesTotal.WithLabelValues(t.chain, t.cfg.Network, "interrupted").Inc()
		return errors.Join(errs...)
	}

	if err := t.Resume(ctx); err != nil {
		errs = append(errs, err)
	}
	t.RefreshAll(ctx)

	outcome := "ok"
	if len(errs) > 0 {
		outcome = "partial"
	}
	metrics.TrackerRecoveriesTotal.WithLabelValues(t.chain, t.cfg.Network, outcome).Inc()
	t.logger.InfoContext(ctx, "recovery finished", "outcome", outcome)
	return errors.Join(errs...)
}

func (t *Tracker) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RefreshAll refreshes every cached address concurrently. A failure on
// one address is reported as an error event and does not affect the
// others. The refreshed event is emitted once all have finished.
func (t *Tracker) RefreshAll(ctx context.Context) {
	addresses := t.CachedAddresses()

	var g errgroup.Group
	g.SetLimit(t.cfg.RefreshConcurrency)
	for _, address := range addresses {
		g.Go(func() error {
			t.handleNotification(ctx, address)
			return nil
		})
	}
	_ = g.Wait()

	t.logger.InfoContext(ctx, "refreshed all holdings", "addresses", len(addresses))
	t.emit(event.Event{Kind: event.KindRefreshed})
}

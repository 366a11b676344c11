package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/NovaDovaDao/doviumV2/internal/alert"
	"github.com/NovaDovaDao/doviumV2/internal/tracker"
)

const defaultCheckInterval = 30 * time.Second

// HealthChecker is the part of *tracker.Tracker the health monitor drives.
type HealthChecker interface {
	CheckHealth(ctx context.Context) tracker.HealthStatus
	Recover(ctx context.Context) error
}

type cooldownClearer interface {
	ClearCooldown(t alert.AlertType, chain, network string)
}

type HealthMonitorConfig struct {
	Chain       string
	Network     string
	Interval    time.Duration
	AutoRecover bool
}

// HealthMonitor periodically checks tracker health. An unhealthy tracker
// raises an alert and, with AutoRecover, is recovered in place. Returning
// to healthy after an alert sends a recovery alert.
type HealthMonitor struct {
	checker HealthChecker
	alerter alert.Alerter
	cfg     HealthMonitorConfig
	logger  *slog.Logger

	// only touched by the Run goroutine
	last    tracker.Status
	alerted bool
}

func NewHealthMonitor(checker HealthChecker, alerter alert.Alerter, cfg HealthMonitorConfig, logger *slog.Logger) *HealthMonitor {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultCheckInterval
	}
	if alerter == nil {
		alerter = &alert.NoopAlerter{}
	}
	return &HealthMonitor{
		checker: checker,
		alerter: alerter,
		cfg:     cfg,
		logger:  logger.With("component", "health_monitor"),
	}
}

// Run checks health every interval until ctx is cancelled.
func (m *HealthMonitor) Run(ctx context.Context) error {
	m.logger.Info("health monitor started",
		"interval", m.cfg.Interval,
		"auto_recover", m.cfg.AutoRecover,
	)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("health monitor stopping")
			return ctx.Err()
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check runs one monitoring cycle and returns the final observed status.
func (m *HealthMonitor) Check(ctx context.Context) tracker.HealthStatus {
	status := m.checker.CheckHealth(ctx)
	m.observe(status)

	if status.Status == tracker.StatusUnhealthy {
		m.send(ctx, alert.Alert{
			Type:    alert.AlertTypeUnhealthy,
			Title:   "Holdings tracker unhealthy",
			Message: fmt.Sprintf("%d problems detected", len(status.Errors)),
			Fields:  problemFields(status),
		})
		m.alerted = true

		if m.cfg.AutoRecover {
			status = m.recover(ctx)
		}
	}

	if m.alerted && status.Status == tracker.StatusHealthy {
		m.send(ctx, alert.Alert{
			Type:    alert.AlertTypeRecovery,
			Title:   "Holdings tracker recovered",
			Message: "all health checks pass",
			Fields: map[string]string{
				"active_subscriptions": fmt.Sprint(status.ActiveSubscriptions),
				"cached_wallets":       fmt.Sprint(status.CachedWallets),
			},
		})
		m.alerted = false
		if c, ok := m.alerter.(cooldownClearer); ok {
			c.ClearCooldown(alert.AlertTypeUnhealthy, m.cfg.Chain, m.cfg.Network)
		}
	}
	return status
}

func (m *HealthMonitor) recover(ctx context.Context) tracker.HealthStatus {
	start := time.Now()
	if err := m.checker.Recover(ctx); err != nil {
		m.logger.Error("recovery failed", "error", err, "duration", time.Since(start))
		m.send(ctx, alert.Alert{
			Type:    alert.AlertTypeRecoveryFailed,
			Title:   "Holdings tracker recovery failed",
			Message: err.Error(),
		})
	} else {
		m.logger.Info("recovery completed", "duration", time.Since(start))
	}

	status := m.checker.CheckHealth(ctx)
	m.observe(status)
	return status
}

func (m *HealthMonitor) observe(status tracker.HealthStatus) {
	if status.Status != m.last {
		level := slog.LevelInfo
		if status.Status != tracker.StatusHealthy {
			level = slog.LevelWarn
		}
		m.logger.Log(context.Background(), level, "tracker health changed",
			"from", m.last,
			"to", status.Status,
			"problems", strings.Join(status.Errors, "; "),
		)
	}
	m.last = status.Status
}

func (m *HealthMonitor) send(ctx context.Context, a alert.Alert) {
	a.Chain = m.cfg.Chain
	a.Network = m.cfg.Network
	if err := m.alerter.Send(ctx, a); err != nil {
		m.logger.Warn("failed to send alert", "type", a.Type, "error", err)
	}
}

func problemFields(status tracker.HealthStatus) map[string]string {
	fields := make(map[string]string, len(status.Errors)+2)
	for i, p := range status.Errors {
		fields[fmt.Sprintf("problem_%d", i+1)] = p
	}
	fields["active_subscriptions"] = fmt.Sprint(status.ActiveSubscriptions)
	fields["cached_wallets"] = fmt.Sprint(status.CachedWallets)
	return fields
}

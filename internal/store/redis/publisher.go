package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/NovaDovaDao/doviumV2/internal/domain/event"
	"github.com/NovaDovaDao/doviumV2/internal/domain/model"
	"github.com/NovaDovaDao/doviumV2/internal/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const (
	payloadField     = "payload"
	defaultQueueSize = 1024
	drainTimeout     = 5 * time.Second
)

// xadder is the subset of *redis.Client used by Publisher.
type xadder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// Labeler renders a human readable label for an address.
type Labeler interface {
	FormatLabel(address string) string
}

type PublisherConfig struct {
	Namespace string
	MaxLen    int64
	Chain     string
	Network   string
	QueueSize int
}

// ChangeRecord is the JSON payload appended for each token change.
type ChangeRecord struct {
	EventID     string          `json:"event_id"`
	Chain       string          `json:"chain"`
	Network     string          `json:"network"`
	Address     string          `json:"address"`
	Label       string          `json:"label,omitempty"`
	Mint        string          `json:"mint"`
	Kind        string          `json:"kind"`
	OldBalance  string          `json:"old_balance"`
	NewBalance  string          `json:"new_balance"`
	Decimals    uint8           `json:"decimals"`
	OldUIAmount decimal.Decimal `json:"old_ui_amount"`
	NewUIAmount decimal.Decimal `json:"new_ui_amount"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Publisher appends every dispatched token change to a capped Redis stream
// named "<namespace>:changes". Change events are queued by the bus handler
// and written by Run, so refreshes never wait on Redis.
type Publisher struct {
	client  xadder
	stream  string
	maxLen  int64
	chain   string
	network string
	labeler Labeler
	logger  *slog.Logger
	queue   chan event.Event

	mu    sync.Mutex
	bus   *event.Bus
	busID event.ListenerID
}

func NewPublisher(client xadder, cfg PublisherConfig, logger *slog.Logger) *Publisher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	stream := cfg.Namespace + ":changes"
	return &Publisher{
		client:  client,
		stream:  stream,
		maxLen:  cfg.MaxLen,
		chain:   cfg.Chain,
		network: cfg.Network,
		logger:  logger.With("component", "event_stream", "stream", stream),
		queue:   make(chan event.Event, cfg.QueueSize),
	}
}

// WithLabeler sets the labeler used to fill ChangeRecord.Label.
func (p *Publisher) WithLabeler(l Labeler) *Publisher {
	p.labeler = l
	return p
}

func (p *Publisher) StreamName() string {
	return p.stream
}

// Attach starts queueing change events emitted on bus.
func (p *Publisher) Attach(bus *event.Bus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bus != nil {
		return
	}
	p.bus = bus
	p.busID = bus.On(event.KindChanges, p.enqueue)
}

// Detach stops queueing new events. Already queued events are still written by Run.
func (p *Publisher) Detach() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bus == nil {
		return
	}
	p.bus.Off(p.busID)
	p.bus = nil
}

func (p *Publisher) enqueue(ev event.Event) {
	if len(ev.Changes) == 0 {
		return
	}
	select {
	case p.queue <- ev:
	default:
		metrics.EventStreamErrors.WithLabelValues(p.stream).Add(float64(len(ev.Changes)))
		p.logger.Warn("event stream queue full, dropping changes",
			"address", ev.Address,
			"changes", len(ev.Changes),
		)
	}
}

// Run writes queued events until ctx is cancelled, then detaches from the
// bus and drains what is left within a short timeout.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			p.Detach()
			p.drain()
			return nil
		case ev := <-p.queue:
			if err := p.Publish(ctx, ev); err != nil {
				p.logger.Warn("publish changes failed", "address", ev.Address, "error", err)
			}
		}
	}
}

func (p *Publisher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case ev := <-p.queue:
			if err := p.Publish(ctx, ev); err != nil {
				p.logger.Warn("publish changes during drain failed", "address", ev.Address, "error", err)
			}
		default:
			return
		}
	}
}

// Publish appends one stream entry per change in ev. Every change is
// attempted; failures are joined.
func (p *Publisher) Publish(ctx context.Context, ev event.Event) error {
	var errs []error
	for _, c := range ev.Changes {
		rec := p.record(ev, c)
		payload, err := json.Marshal(rec)
		if err != nil {
			errs = append(errs, fmt.Errorf("marshal change %s/%s: %w", ev.Address, c.Mint, err))
			metrics.EventStreamErrors.WithLabelValues(p.stream).Inc()
			continue
		}

		args := &redis.XAddArgs{
			Stream: p.stream,
			Values: map[string]any{
				"address":    ev.Address,
				"mint":       c.Mint,
				"kind":       rec.Kind,
				payloadField: string(payload),
			},
		}
		if p.maxLen > 0 {
			args.MaxLen = p.maxLen
			args.Approx = true
		}

		if err := p.client.XAdd(ctx, args).Err(); err != nil {
			errs = append(errs, fmt.Errorf("xadd %s/%s: %w", ev.Address, c.Mint, err))
			metrics.EventStreamErrors.WithLabelValues(p.stream).Inc()
			continue
		}
		metrics.EventStreamPublished.WithLabelValues(p.stream).Inc()
	}
	return errors.Join(errs...)
}

func (p *Publisher) record(ev event.Event, c model.TokenChange) ChangeRecord {
	rec := ChangeRecord{
		EventID:     ev.ID.String(),
		Chain:       p.chain,
		Network:     p.network,
		Address:     ev.Address,
		Mint:        c.Mint,
		Kind:        changeKind(c),
		OldBalance:  bigString(c.OldBalance),
		NewBalance:  bigString(c.NewBalance),
		Decimals:    c.Decimals,
		OldUIAmount: model.UIAmount(c.OldBalance, c.Decimals),
		NewUIAmount: model.UIAmount(c.NewBalance, c.Decimals),
		Timestamp:   c.Timestamp.UTC(),
	}
	if p.labeler != nil {
		rec.Label = p.labeler.FormatLabel(ev.Address)
	}
	return rec
}

func changeKind(c model.TokenChange) string {
	switch {
	case c.OldBalance == nil || c.OldBalance.Sign() == 0:
		return "open"
	case c.NewBalance == nil || c.NewBalance.Sign() == 0:
		return "close"
	default:
		return "update"
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

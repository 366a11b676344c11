package event

import (
	"fmt"
	"sync"
	"time"

	"github.com/NovaDovaDao/doviumV2/internal/domain/model"
	"github.com/google/uuid"
)

// Kind discriminates tracker events.
type Kind int

const (
	KindChanges Kind = iota + 1
	KindError
	KindSubscribed
	KindUnsubscribed
	KindPaused
	KindResumed
	KindShutdown
	KindRefreshed
)

func (k Kind) String() string {
	switch k {
	case KindChanges:
		return "changes"
	case KindError:
		return "error"
	case KindSubscribed:
		return "subscribed"
	case KindUnsubscribed:
		return "unsubscribed"
	case KindPaused:
		return "paused"
	case KindResumed:
		return "resumed"
	case KindShutdown:
		return "shutdown"
	case KindRefreshed:
		return "refreshed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is a single tracker notification. Address is set for changes,
// subscribed and unsubscribed (and for errors tied to one address);
// Changes only for KindChanges; Message and Err only for KindError.
type Event struct {
	ID      uuid.UUID
	Kind    Kind
	Address string
	Changes []model.TokenChange
	Message string
	Err     error
	At      time.Time
}

// Handler receives events. Handlers run synchronously on the emitting
// goroutine and must not block for long.
type Handler func(Event)

// ListenerID identifies a registered handler.
type ListenerID uuid.UUID

// Bus is a typed in-process dispatcher. The zero value is not usable; use NewBus.
type Bus struct {
	mu      sync.RWMutex
	byKind  map[Kind]map[ListenerID]Handler
	any     map[ListenerID]Handler
	nowFn   func() time.Time
	newIDFn func() uuid.UUID
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{
		byKind:  make(map[Kind]map[ListenerID]Handler),
		any:     make(map[ListenerID]Handler),
		nowFn:   time.Now,
		newIDFn: uuid.New,
	}
}

// On registers h for events of the given kind.
func (b *Bus) On(kind Kind, h Handler) ListenerID {
	id := ListenerID(b.newIDFn())
	b.mu.Lock()
	defer b.mu.Unlock()
	handlers, ok := b.byKind[kind]
	if !ok {
		handlers = make(map[ListenerID]Handler)
		b.byKind[kind] = handlers
	}
	handlers[id] = h
	return id
}

// OnAny registers h for every event kind.
func (b *Bus) OnAny(h Handler) ListenerID {
	id := ListenerID(b.newIDFn())
	b.mu.Lock()
	b.any[id] = h
	b.mu.Unlock()
	return id
}

// Off removes a handler. Unknown ids are ignored.
func (b *Bus) Off(id ListenerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.any, id)
	for kind, handlers := range b.byKind {
		delete(handlers, id)
		if len(handlers) == 0 {
			delete(b.byKind, kind)
		}
	}
}

// Emit stamps ev with an id and timestamp (when unset) and delivers it to
// every matching handler. Delivery order among handlers is unspecified.
func (b *Bus) Emit(ev Event) {
	if ev.ID == uuid.Nil {
		ev.ID = b.newIDFn()
	}
	if ev.At.IsZero() {
		ev.At = b.nowFn()
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.byKind[ev.Kind])+len(b.any))
	for _, h := range b.byKind[ev.Kind] {
		handlers = append(handlers, h)
	}
	for _, h := range b.any {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// ListenerCount returns the number of handlers that would receive kind.
func (b *Bus) ListenerCount(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byKind[kind]) + len(b.any)
}

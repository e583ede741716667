// Package events is the core's in-process pub/sub (spec section 6). External
// collaborators — notifications, dashboards — subscribe to it; the core has
// no compile-time dependency on them, generalizing the teacher's single
// TradeNotifier callback (core/engine.go) into a real multi-subscriber bus.
package events

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Kind names one of the event stream's message types (spec section 6).
type Kind string

const (
	TradeOpened           Kind = "TradeOpened"
	TradeClosed           Kind = "TradeClosed"
	LegFilled             Kind = "LegFilled"
	RollbackInitiated     Kind = "RollbackInitiated"
	BrokenHedgeDetected    Kind = "BrokenHedgeDetected"
	CircuitBreakerTripped Kind = "CircuitBreakerTripped"
)

// Event is one message on the bus. Payload is kind-specific; subscribers
// type-assert it themselves rather than the bus decoding it for them.
type Event struct {
	Kind    Kind
	Payload any
}

// Handler receives events of the kinds it subscribed to. Each handler call
// runs on its own goroutine, concurrently with other handlers and with the
// publisher — see Bus.Publish.
type Handler func(Event)

// Bus is a fan-out, non-blocking in-process publisher. It never blocks a
// publisher on a slow subscriber: each dispatch runs in its own goroutine.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Kind][]Handler
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[Kind][]Handler)}
}

// Subscribe registers h to be called for every event of kind.
func (b *Bus) Subscribe(kind Kind, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], h)
}

// Publish dispatches ev to every subscriber of ev.Kind. A panicking handler
// is recovered and logged; it never takes down the publisher.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	hs := append([]Handler(nil), b.handlers[ev.Kind]...)
	b.mu.RUnlock()

	for _, h := range hs {
		h := h
		go func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Str("kind", string(ev.Kind)).Msg("event handler panicked")
				}
			}()
			h(ev)
		}()
	}
}

// Package eventbus is the typed publish/subscribe connecting the Monitor to
// the PnL Aggregator and the Push Hub. It is channel-backed, following the
// same register/broadcast idiom the push hub itself uses for fan-out;
// cross-subscriber ordering is not guaranteed, only per-subscriber FIFO.
package eventbus

import (
	"sync"

	"analysis/internal/models"
)

// Bus fans typed events out to every current subscriber of that kind. A slow
// or dead subscriber never blocks the publisher: each subscriber owns a
// buffered channel and a dropped send (full buffer) is discarded rather than
// stalling the Monitor's cycle.
type Bus struct {
	mu        sync.RWMutex
	tradeSubs map[int]chan models.TradeEvent
	balSubs   map[int]chan models.BalanceEvent
	pnlSubs   map[int]chan models.PnlEvent
	nextID    int
}

func New() *Bus {
	return &Bus{
		tradeSubs: make(map[int]chan models.TradeEvent),
		balSubs:   make(map[int]chan models.BalanceEvent),
		pnlSubs:   make(map[int]chan models.PnlEvent),
	}
}

const subBuffer = 256

// SubscribeTrades registers a new listener and returns its channel plus an
// unsubscribe func. Callers must drain the channel (or unsubscribe) to avoid
// the buffer filling and subsequent sends being dropped.
func (b *Bus) SubscribeTrades() (<-chan models.TradeEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan models.TradeEvent, subBuffer)
	b.tradeSubs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.tradeSubs[id]; ok {
			delete(b.tradeSubs, id)
			close(c)
		}
	}
}

func (b *Bus) SubscribeBalances() (<-chan models.BalanceEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan models.BalanceEvent, subBuffer)
	b.balSubs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.balSubs[id]; ok {
			delete(b.balSubs, id)
			close(c)
		}
	}
}

func (b *Bus) SubscribePnl() (<-chan models.PnlEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan models.PnlEvent, subBuffer)
	b.pnlSubs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.pnlSubs[id]; ok {
			delete(b.pnlSubs, id)
			close(c)
		}
	}
}

func (b *Bus) PublishTrade(e models.TradeEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.tradeSubs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *Bus) PublishBalance(e models.BalanceEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.balSubs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *Bus) PublishPnl(e models.PnlEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.pnlSubs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Package subscription turns a bridge into a long-lived update stream.
//
// The host may ask for the same subscription any number of times; the hub
// spawns the producer once per ID and hands every caller the same channel.
package subscription

import (
	"context"
	"errors"
	"sync"

	"github.com/bryanchriswhite/windock/internal/bridge"
	"github.com/bryanchriswhite/windock/internal/logger"
)

// ID names a subscription. It must be stable across re-subscriptions.
type ID string

// SpawnFunc produces updates on out until it returns. bridge.(*Bridge).Run fits.
// It should return once ctx is done; anything it sends after that is
// discarded, and Close waits for it to return.
type SpawnFunc func(ctx context.Context, out chan<- bridge.Update) error

type entry struct {
	updates <-chan bridge.Update
}

// Hub owns the producers spawned for each subscription ID
type Hub struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	subs map[ID]*entry
	wg   sync.WaitGroup
}

// NewHub creates a hub whose producers live until ctx ends or Close is called
func NewHub(ctx context.Context) *Hub {
	ctx, cancel := context.WithCancel(ctx)
	return &Hub{
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[ID]*entry),
	}
}

// Subscribe returns the update stream for id, spawning the producer on the
// first call only. The stream never blocks the producer; it is closed after
// the producer exits and every queued update has been received.
func (h *Hub) Subscribe(id ID, spawn SpawnFunc) <-chan bridge.Update {
	h.mu.Lock()
	defer h.mu.Unlock()

	if e, ok := h.subs[id]; ok {
		return e.updates
	}

	log := logger.WithComponent("subscription")

	in := make(chan bridge.Update)
	out := make(chan bridge.Update)
	h.subs[id] = &entry{updates: out}

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		defer close(in)
		log.Info().Str("id", string(id)).Msg("Spawning producer")
		if err := spawn(h.ctx, in); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Str("id", string(id)).Msg("Producer exited")
		}
	}()
	go func() {
		defer h.wg.Done()
		pump(h.ctx, in, out)
	}()

	return out
}

// Close stops every producer and waits for them to exit
func (h *Hub) Close() {
	h.cancel()
	h.wg.Wait()
}

// pump moves updates from in to out through an unbounded FIFO so a slow
// consumer never stalls the producer's event loop.
func pump(ctx context.Context, in <-chan bridge.Update, out chan<- bridge.Update) {
	defer close(out)

	var queue []bridge.Update
	for in != nil || len(queue) > 0 {
		var sendCh chan<- bridge.Update
		var next bridge.Update
		if len(queue) > 0 {
			sendCh = out
			next = queue[0]
		}

		select {
		case u, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			queue = append(queue, u)
		case sendCh <- next:
			queue[0] = bridge.Update{}
			queue = queue[1:]
		case <-ctx.Done():
			// Keep a late producer from blocking on its send
			if in != nil {
				for range in {
				}
			}
			return
		}
	}
}

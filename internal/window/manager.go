package window

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bryanchriswhite/windock/internal/bridge"
	"github.com/bryanchriswhite/windock/internal/logger"
	"github.com/bryanchriswhite/windock/internal/registry"
	"github.com/bryanchriswhite/windock/internal/toplevel"
)

// ErrBridgeFinished is returned by Run once the background event loop is
// gone. The window list can no longer be trusted, so callers should exit.
var ErrBridgeFinished = errors.New("toplevel event loop finished")

const inboxSize = 16

// Snapshot is an immutable copy of the window list after one change
type Snapshot struct {
	Seq     uint64           `json:"seq"`
	Ready   bool             `json:"ready"`
	Entries []registry.Entry `json:"entries"`
}

// Find returns the entry for h
func (s Snapshot) Find(h toplevel.Handle) (registry.Entry, bool) {
	for _, e := range s.Entries {
		if e.Handle == h {
			return e, true
		}
	}
	return registry.Entry{}, false
}

// Manager is the foreground controller. Run owns the registry and handles
// one message at a time; everything else talks to it through channels or
// reads published snapshots.
type Manager struct {
	reg   *registry.Registry
	inbox chan toplevel.Handle
	done  chan struct{}

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []chan Snapshot
}

// NewManager creates a manager that resolves metadata with resolver
func NewManager(resolver registry.Resolver) *Manager {
	return &Manager{
		reg:       registry.New(resolver),
		inbox:     make(chan toplevel.Handle, inboxSize),
		done:      make(chan struct{}),
		snapshot:  Snapshot{Entries: []registry.Entry{}},
		listeners: make([]chan Snapshot, 0),
	}
}

// Run applies updates until the stream reports Finished, the stream closes,
// or ctx is cancelled. It must be called once.
//
// Reconnecting after Finished would go here; it is intentionally absent and
// Run reports ErrBridgeFinished instead.
func (m *Manager) Run(ctx context.Context, updates <-chan bridge.Update) error {
	log := logger.WithComponent("manager")
	defer close(m.done)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case u, ok := <-updates:
			if !ok {
				// The hub closes the stream on cancellation too
				if err := ctx.Err(); err != nil {
					return err
				}
				log.Error().Msg("Update stream closed")
				return fmt.Errorf("%w: update stream closed", ErrBridgeFinished)
			}
			if err := m.handle(u); err != nil {
				log.Error().Err(err).Msg("Entering terminal state")
				return err
			}

		case h := <-m.inbox:
			if !m.reg.Activate(h) {
				log.Debug().Stringer("handle", h).Msg("Activate dropped, no live command channel")
				continue
			}
			ev := log.Debug().Stringer("handle", h)
			if e, ok := m.reg.Get(h); ok {
				ev = ev.Str("app_id", e.Info.AppID)
			}
			ev.Msg("Activate forwarded")
		}
	}
}

func (m *Manager) handle(u bridge.Update) error {
	switch u.Kind {
	case bridge.UpdateInit:
		m.reg.SetSender(u.Sender)
		m.publish(true)

	case bridge.UpdateToplevel:
		m.reg.Apply(u.Toplevel)
		m.publish(false)
		logger.WithComponent("manager").Trace().
			Stringer("handle", u.Toplevel.Handle).
			Int("toplevels", m.reg.Len()).
			Msg("Applied update")

	case bridge.UpdateFinished:
		if u.Err != nil {
			return fmt.Errorf("%w: %w", ErrBridgeFinished, u.Err)
		}
		return ErrBridgeFinished
	}
	return nil
}

// Activate asks the controller to focus h. It never blocks: the request is
// dropped when the controller is busy or has stopped.
func (m *Manager) Activate(h toplevel.Handle) bool {
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.inbox <- h:
		return true
	default:
		return false
	}
}

// Done is closed once Run has returned
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Snapshot returns the latest published window list
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// publish is only called from Run
func (m *Manager) publish(ready bool) {
	m.mu.Lock()
	next := Snapshot{
		Seq:     m.snapshot.Seq + 1,
		Ready:   m.snapshot.Ready || ready,
		Entries: m.reg.Entries(),
	}
	m.snapshot = next
	m.mu.Unlock()

	m.notifyListeners(next)
}

// Subscribe adds a listener for snapshots
func (m *Manager) Subscribe() chan Snapshot {
	ch := make(chan Snapshot, 1)
	m.mu.Lock()
	m.listeners = append(m.listeners, ch)
	m.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener
func (m *Manager) Unsubscribe(ch chan Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, listener := range m.listeners {
		if listener == ch {
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			close(ch)
			break
		}
	}
}

// notifyListeners hands every listener the newest snapshot. A listener that
// has not consumed the previous one gets it replaced.
func (m *Manager) notifyListeners(s Snapshot) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, listener := range m.listeners {
		select {
		case listener <- s:
			continue
		default:
		}
		select {
		case <-listener:
		default:
		}
		select {
		case listener <- s:
		default:
		}
	}
}

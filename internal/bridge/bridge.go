// Package bridge connects the display server's event loop to the foreground.
//
// A Bridge owns exactly one Connection. It forwards every decoded protocol
// event as one Update on a single outbound channel, in arrival order, and
// drains a command channel in the same select loop so neither source can
// starve the other. The foreground receives the command endpoint through a
// single Init update; there is no other way to obtain a Sender.
package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/bryanchriswhite/windock/internal/logger"
	"github.com/bryanchriswhite/windock/internal/toplevel"
)

// ErrConnectionLost is reported in Finished when the protocol connection dies
var ErrConnectionLost = errors.New("display connection lost")

// requestQueueSize bounds the command channel. Send blocks only while the
// bridge is alive and behind, never after it has exited.
const requestQueueSize = 16

// Connection is the decoded protocol stream of one display-server connection.
type Connection interface {
	// Events yields protocol events in arrival order. It is closed when the
	// connection terminates; Err then reports why.
	Events() <-chan toplevel.Update

	// Activate asks the server to focus the window. Fire and forget.
	Activate(h toplevel.Handle) error

	// Err returns the terminal error once Events is closed
	Err() error

	Close() error
}

// Dialer opens a Connection
type Dialer func(ctx context.Context) (Connection, error)

// UpdateKind tags an Update envelope
type UpdateKind int

const (
	UpdateInit UpdateKind = iota
	UpdateToplevel
	UpdateFinished
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateInit:
		return "init"
	case UpdateToplevel:
		return "toplevel"
	case UpdateFinished:
		return "finished"
	default:
		return fmt.Sprintf("UpdateKind(%d)", int(k))
	}
}

// Update is the envelope delivered to the foreground
type Update struct {
	Kind UpdateKind

	// Sender is set for UpdateInit
	Sender *Sender

	// Toplevel is set for UpdateToplevel
	Toplevel toplevel.Update

	// Err is set for UpdateFinished
	Err error
}

// Request is the envelope delivered to the bridge
type Request struct {
	Toplevel toplevel.Request
}

// Sender is the foreground end of the command channel
type Sender struct {
	ch   chan<- Request
	done <-chan struct{}
}

// Send queues a request for the bridge. It returns false, dropping the
// request, when the bridge has already exited. A nil Sender drops everything.
func (s *Sender) Send(req Request) bool {
	if s == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.ch <- req:
		return true
	case <-s.done:
		return false
	}
}

// Bridge runs the background event loop
type Bridge struct {
	dial Dialer
}

// New creates a bridge that will open its connection with dial
func New(dial Dialer) *Bridge {
	return &Bridge{dial: dial}
}

// Run connects, announces the command channel with Init and then forwards
// protocol events until the connection ends or ctx is cancelled.
//
// Connection loss is reported to out as Finished and returned. Cancellation
// is a deliberate shutdown and returns ctx.Err() without Finished.
func (b *Bridge) Run(ctx context.Context, out chan<- Update) error {
	log := logger.WithComponent("bridge")

	conn, err := b.dial(ctx)
	if err != nil {
		err = fmt.Errorf("%w: connect: %v", ErrConnectionLost, err)
		log.Error().Err(err).Msg("Failed to open display connection")
		send(ctx, out, Update{Kind: UpdateFinished, Err: err})
		return err
	}
	defer conn.Close()

	requests := make(chan Request, requestQueueSize)
	done := make(chan struct{})
	defer close(done)

	if !send(ctx, out, Update{Kind: UpdateInit, Sender: &Sender{ch: requests, done: done}}) {
		return ctx.Err()
	}
	log.Info().Msg("Event loop started")

	events := conn.Events()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Event loop stopped")
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				err := ErrConnectionLost
				if cerr := conn.Err(); cerr != nil {
					err = fmt.Errorf("%w: %v", ErrConnectionLost, cerr)
				}
				log.Error().Err(err).Msg("Event loop terminated")
				send(ctx, out, Update{Kind: UpdateFinished, Err: err})
				return err
			}
			log.Debug().
				Stringer("kind", ev.Kind).
				Stringer("handle", ev.Handle).
				Str("app_id", ev.Info.AppID).
				Msg("Protocol event")
			if !send(ctx, out, Update{Kind: UpdateToplevel, Toplevel: ev}) {
				return ctx.Err()
			}

		case req := <-requests:
			handleRequest(conn, req)
		}
	}
}

func handleRequest(conn Connection, req Request) {
	log := logger.WithComponent("bridge")

	switch req.Toplevel.Kind {
	case toplevel.RequestActivate:
		// The window may already be gone; that is not our problem to report.
		if err := conn.Activate(req.Toplevel.Handle); err != nil {
			log.Debug().
				Err(err).
				Stringer("handle", req.Toplevel.Handle).
				Msg("Activate failed, ignoring")
		}
	default:
		log.Warn().Int("kind", int(req.Toplevel.Kind)).Msg("Unknown request")
	}
}

func send(ctx context.Context, out chan<- Update, u Update) bool {
	select {
	case out <- u:
		return true
	case <-ctx.Done():
		return false
	}
}

package window

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/bryanchriswhite/windock/internal/logger"
	"github.com/bryanchriswhite/windock/internal/toplevel"
)

// ScriptEvent is one line of a script: a protocol event in JSON.
//
//	{"event":"add","handle":"0x1","info":{"app_id":"firefox","title":"Mozilla Firefox","state":["activated"]}}
//	{"event":"update","handle":"0x1","info":{"app_id":"firefox","title":"New Tab"}}
//	{"event":"remove","handle":"0x1"}
type ScriptEvent struct {
	Event  string        `json:"event"`
	Handle string        `json:"handle"`
	Info   toplevel.Info `json:"info"`
}

// ParseScriptEvent decodes one script line
func ParseScriptEvent(line []byte) (toplevel.Update, error) {
	var ev ScriptEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return toplevel.Update{}, fmt.Errorf("invalid script event: %w", err)
	}

	h, err := toplevel.ParseHandle(ev.Handle)
	if err != nil {
		return toplevel.Update{}, err
	}

	switch strings.ToLower(ev.Event) {
	case "add":
		return toplevel.Add(h, ev.Info), nil
	case "update":
		return toplevel.Changed(h, ev.Info), nil
	case "remove":
		return toplevel.Remove(h), nil
	default:
		return toplevel.Update{}, fmt.Errorf("unknown script event %q", ev.Event)
	}
}

// maxScriptLine bounds one script line; longer lines are skipped
const maxScriptLine = 1 << 20

// ScriptBackend replays protocol events from newline-delimited JSON.
//
// Blank lines and lines starting with # are skipped. Reaching the end of
// the input leaves the connection open until Close; a read error ends it.
type ScriptBackend struct {
	r      io.ReadCloser
	events chan toplevel.Update
	closed chan struct{}

	mu        sync.Mutex
	err       error
	closeOnce sync.Once
	activated []toplevel.Handle
}

var _ Backend = (*ScriptBackend)(nil)

// NewScriptBackend starts replaying r
func NewScriptBackend(r io.ReadCloser) *ScriptBackend {
	b := &ScriptBackend{
		r:      r,
		events: make(chan toplevel.Update),
		closed: make(chan struct{}),
	}
	go b.readLoop()
	return b
}

// Name returns the backend name
func (b *ScriptBackend) Name() string {
	return "script"
}

func (b *ScriptBackend) Events() <-chan toplevel.Update {
	return b.events
}

func (b *ScriptBackend) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Activate records the request; there is no server to forward it to
func (b *ScriptBackend) Activate(h toplevel.Handle) error {
	logger.WithComponent("script-backend").Info().Stringer("handle", h).Msg("Activate requested")
	b.mu.Lock()
	b.activated = append(b.activated, h)
	b.mu.Unlock()
	return nil
}

// activatedHandles returns every handle passed to Activate so far
func (b *ScriptBackend) activatedHandles() []toplevel.Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]toplevel.Handle(nil), b.activated...)
}

func (b *ScriptBackend) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.closed)
		err = b.r.Close()
	})
	return err
}

func (b *ScriptBackend) readLoop() {
	log := logger.WithComponent("script-backend")
	defer close(b.events)

	br := bufio.NewReader(b.r)
	lineNo := 0
	for {
		raw, tooLong, err := readLine(br, maxScriptLine)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			select {
			case <-b.closed:
				b.setErr(fmt.Errorf("connection closed"))
			default:
				b.setErr(fmt.Errorf("script read failed: %w", err))
			}
			return
		}
		lineNo++
		if tooLong {
			log.Warn().Int("line", lineNo).Int("max", maxScriptLine).Msg("Skipping overlong script line")
			continue
		}

		line := strings.TrimSpace(string(raw))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		u, err := ParseScriptEvent([]byte(line))
		if err != nil {
			log.Warn().Err(err).Int("line", lineNo).Msg("Skipping script line")
			continue
		}

		select {
		case b.events <- u:
		case <-b.closed:
			b.setErr(fmt.Errorf("connection closed"))
			return
		}
	}

	log.Debug().Int("lines", lineNo).Msg("Script finished, holding connection open")
	<-b.closed
	b.setErr(fmt.Errorf("connection closed"))
}

// readLine returns the next line without its terminator. A line longer than
// limit is consumed in full and reported with tooLong set.
func readLine(r *bufio.Reader, limit int) (line []byte, tooLong bool, err error) {
	for {
		frag, isPrefix, err := r.ReadLine()
		if err != nil {
			return nil, tooLong, err
		}
		if !tooLong {
			if len(line)+len(frag) > limit {
				tooLong, line = true, nil
			} else {
				line = append(line, frag...)
			}
		}
		if !isPrefix {
			return line, tooLong, nil
		}
	}
}

func (b *ScriptBackend) setErr(err error) {
	b.mu.Lock()
	if b.err == nil {
		b.err = err
	}
	b.mu.Unlock()
}

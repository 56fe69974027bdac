package busapi

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bryanchriswhite/windock/internal/registry"
	"github.com/bryanchriswhite/windock/internal/toplevel"
	"github.com/bryanchriswhite/windock/internal/window"
)

type fakeWindows struct {
	mu        sync.Mutex
	snap      window.Snapshot
	listeners []chan window.Snapshot
	activated []toplevel.Handle
	refuse    bool
}

func (f *fakeWindows) Snapshot() window.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeWindows) Subscribe() chan window.Snapshot {
	ch := make(chan window.Snapshot, 1)
	f.mu.Lock()
	f.listeners = append(f.listeners, ch)
	f.mu.Unlock()
	return ch
}

func (f *fakeWindows) Unsubscribe(ch chan window.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, l := range f.listeners {
		if l == ch {
			f.listeners = append(f.listeners[:i], f.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

func (f *fakeWindows) Activate(h toplevel.Handle) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refuse {
		return false
	}
	f.activated = append(f.activated, h)
	return true
}

func (f *fakeWindows) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

func snapshot() window.Snapshot {
	return window.Snapshot{
		Seq:   1,
		Ready: true,
		Entries: []registry.Entry{
			{
				Handle:   7,
				Info:     toplevel.Info{AppID: "firefox", Title: "Firefox", State: toplevel.StateActivated | toplevel.StateMaximized},
				Metadata: toplevel.Metadata{Name: "Firefox Web Browser", Icon: "firefox"},
			},
		},
	}
}

func TestList(t *testing.T) {
	svc := NewService(&fakeWindows{snap: snapshot()}, "org.example.Test")

	got, dErr := svc.List()
	if dErr != nil {
		t.Fatalf("List() error: %v", dErr)
	}
	if len(got) != 1 {
		t.Fatalf("List() returned %d entries, want 1", len(got))
	}
	tl := got[0]
	if tl.Handle != 7 || tl.AppID != "firefox" || tl.Name != "Firefox Web Browser" || tl.Icon != "firefox" {
		t.Fatalf("List()[0] = %+v", tl)
	}
	if len(tl.State) != 2 {
		t.Fatalf("State = %v, want two flags", tl.State)
	}
}

func TestActivate(t *testing.T) {
	fw := &fakeWindows{snap: snapshot()}
	svc := NewService(fw, "org.example.Test")

	ok, dErr := svc.Activate(7)
	if dErr != nil || !ok {
		t.Fatalf("Activate(7) = %v, %v", ok, dErr)
	}
	if len(fw.activated) != 1 || fw.activated[0] != 7 {
		t.Fatalf("activated = %v, want [7]", fw.activated)
	}

	if _, dErr := svc.Activate(99); dErr == nil || dErr.Name != errNoSuchWindow {
		t.Fatalf("Activate(99) error = %v, want %s", dErr, errNoSuchWindow)
	}

	fw.refuse = true
	if _, dErr := svc.Activate(7); dErr == nil || dErr.Name != errUnavailable {
		t.Fatalf("Activate(7) while refusing error = %v, want %s", dErr, errUnavailable)
	}
}

func TestForwardEmitsChanged(t *testing.T) {
	fw := &fakeWindows{snap: snapshot()}
	svc := NewService(fw, "org.example.Test")

	emitted := make(chan uint64, 4)
	svc.emit = func(seq uint64) error {
		emitted <- seq
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.forward(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for fw.listenerCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("forward never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	fw.mu.Lock()
	l := fw.listeners[0]
	fw.mu.Unlock()
	l <- window.Snapshot{Seq: 5}

	select {
	case seq := <-emitted:
		if seq != 5 {
			t.Fatalf("Changed(%d), want Changed(5)", seq)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Changed never emitted")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("forward() = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("forward did not stop on cancel")
	}
	if fw.listenerCount() != 0 {
		t.Fatal("listener not removed after forward returned")
	}
}

package registry

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/bryanchriswhite/windock/internal/bridge"
	"github.com/bryanchriswhite/windock/internal/testutil"
	"github.com/bryanchriswhite/windock/internal/toplevel"
)

func handles(r *Registry) []toplevel.Handle {
	out := make([]toplevel.Handle, 0, r.Len())
	for _, e := range r.Entries() {
		out = append(out, e.Handle)
	}
	return out
}

func info(appID string) toplevel.Info {
	return toplevel.Info{AppID: appID}
}

func TestApply_AddRemoveKeepsOrder(t *testing.T) {
	res := &testutil.FakeResolver{}
	r := New(res)

	r.Apply(toplevel.Add(1, info("a")))
	if got := handles(r); !reflect.DeepEqual(got, []toplevel.Handle{1}) {
		t.Fatalf("handles = %v, want [1]", got)
	}
	if got := res.Calls(); !reflect.DeepEqual(got, []string{"a"}) {
		t.Fatalf("resolver calls = %v, want [a]", got)
	}

	r.Apply(toplevel.Add(2, info("b")))
	if got := handles(r); !reflect.DeepEqual(got, []toplevel.Handle{1, 2}) {
		t.Fatalf("handles = %v, want [1 2]", got)
	}

	r.Apply(toplevel.Remove(1))
	if got := handles(r); !reflect.DeepEqual(got, []toplevel.Handle{2}) {
		t.Fatalf("handles = %v, want [2]", got)
	}

	e, ok := r.Get(2)
	if !ok || e.Metadata.Name != "App b" {
		t.Fatalf("Get(2) = %+v, %v; want metadata for b", e, ok)
	}
}

func TestApply_OrderSurvivesInterleavedRemovals(t *testing.T) {
	r := New(&testutil.FakeResolver{})
	for h := toplevel.Handle(1); h <= 6; h++ {
		r.Apply(toplevel.Add(h, info("x")))
	}
	r.Apply(toplevel.Remove(2))
	r.Apply(toplevel.Remove(5))
	r.Apply(toplevel.Add(7, info("y")))
	r.Apply(toplevel.Remove(1))

	want := []toplevel.Handle{3, 4, 6, 7}
	if got := handles(r); !reflect.DeepEqual(got, want) {
		t.Fatalf("handles = %v, want %v", got, want)
	}
}

func TestApply_DuplicateAddIsCorrection(t *testing.T) {
	res := &testutil.FakeResolver{}
	r := New(res)

	r.Apply(toplevel.Add(1, info("a")))
	r.Apply(toplevel.Add(2, info("b")))
	r.Apply(toplevel.Add(1, toplevel.Info{AppID: "a", Title: "again"}))

	if got := handles(r); !reflect.DeepEqual(got, []toplevel.Handle{1, 2}) {
		t.Fatalf("handles = %v, want [1 2]", got)
	}
	if e, _ := r.Get(1); e.Info.Title != "again" {
		t.Fatalf("title = %q, want again", e.Info.Title)
	}
	if got := res.Calls(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("resolver calls = %v, want [a b]", got)
	}

	r.Apply(toplevel.Add(1, info("c")))
	if got := res.Calls(); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("resolver calls = %v, want [a b c]", got)
	}
	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", r.Len())
	}
}

func TestApply_UpdateSameAppIDDoesNotResolve(t *testing.T) {
	res := &testutil.FakeResolver{}
	r := New(res)

	r.Apply(toplevel.Add(1, info("a")))
	r.Apply(toplevel.Changed(1, toplevel.Info{AppID: "a", Title: "new"}))
	r.Apply(toplevel.Changed(1, toplevel.Info{AppID: "a", Title: "new"}))

	if got := res.Calls(); len(got) != 1 {
		t.Fatalf("resolver calls = %v, want exactly one", got)
	}
	if e, _ := r.Get(1); e.Info.Title != "new" {
		t.Fatalf("title = %q, want new", e.Info.Title)
	}
}

func TestApply_UpdateAppIDChangeResolves(t *testing.T) {
	res := &testutil.FakeResolver{}
	r := New(res)

	r.Apply(toplevel.Add(1, info("a")))
	r.Apply(toplevel.Changed(1, info("b")))
	r.Apply(toplevel.Changed(1, info("c")))

	if got := res.Calls(); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("resolver calls = %v, want [a b c]", got)
	}
	if e, _ := r.Get(1); e.Metadata.AppID != "c" {
		t.Fatalf("metadata app id = %q, want c", e.Metadata.AppID)
	}
}

func TestApply_UnknownHandleIsNoop(t *testing.T) {
	res := &testutil.FakeResolver{}
	r := New(res)

	r.Apply(toplevel.Changed(9, info("a")))
	r.Apply(toplevel.Remove(9))
	if r.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", r.Len())
	}
	if got := res.Calls(); len(got) != 0 {
		t.Fatalf("resolver calls = %v, want none", got)
	}

	r.Apply(toplevel.Add(1, info("a")))
	r.Apply(toplevel.Remove(1))
	r.Apply(toplevel.Remove(1))
	if r.Len() != 0 {
		t.Fatalf("Len() after double remove = %d, want 0", r.Len())
	}
}

func TestApply_NoDuplicateHandles(t *testing.T) {
	r := New(&testutil.FakeResolver{})
	seq := []toplevel.Handle{1, 2, 1, 3, 2, 2, 1, 4}
	for _, h := range seq {
		r.Apply(toplevel.Add(h, info("x")))
	}

	seen := map[toplevel.Handle]bool{}
	for _, h := range handles(r) {
		if seen[h] {
			t.Fatalf("handle %v appears twice in %v", h, handles(r))
		}
		seen[h] = true
	}
	if want := []toplevel.Handle{1, 2, 3, 4}; !reflect.DeepEqual(handles(r), want) {
		t.Fatalf("handles = %v, want %v", handles(r), want)
	}
}

func TestEntries_ReturnsCopy(t *testing.T) {
	r := New(&testutil.FakeResolver{})
	r.Apply(toplevel.Add(1, info("a")))

	entries := r.Entries()
	entries[0].Info.Title = "mutated"

	if e, _ := r.Get(1); e.Info.Title != "" {
		t.Fatalf("registry mutated through Entries(): title = %q", e.Info.Title)
	}
}

func TestActivate_DroppedBeforeSender(t *testing.T) {
	conn := testutil.NewFakeConn()
	r := New(&testutil.FakeResolver{})

	if r.Activate(1) {
		t.Fatal("Activate before Init = true, want false")
	}

	// Start the bridge only now; nothing queued earlier may leak through.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan bridge.Update, 4)
	go bridge.New(conn.Dialer()).Run(ctx, out)

	init := <-out
	r.SetSender(init.Sender)

	select {
	case h := <-conn.Activations():
		t.Fatalf("activation %v reached the connection before any was sent", h)
	case <-time.After(50 * time.Millisecond):
	}

	if !r.Activate(3) {
		t.Fatal("Activate after Init = false, want true")
	}
	select {
	case h := <-conn.Activations():
		if h != 3 {
			t.Fatalf("activation = %v, want 3", h)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("activation never reached the connection")
	}
}

// Package registry holds the foreground's authoritative window table.
//
// A Registry is owned by one goroutine and mutated only through Apply.
// It does no locking.
package registry

import (
	"github.com/bryanchriswhite/windock/internal/bridge"
	"github.com/bryanchriswhite/windock/internal/logger"
	"github.com/bryanchriswhite/windock/internal/toplevel"
)

// Resolver looks up application metadata for an app id.
// It may be slow; the registry calls it only when an app id changes.
type Resolver interface {
	Resolve(appID string) toplevel.Metadata
}

// ResolverFunc adapts a function to Resolver
type ResolverFunc func(appID string) toplevel.Metadata

func (f ResolverFunc) Resolve(appID string) toplevel.Metadata {
	return f(appID)
}

// Entry is one known window
type Entry struct {
	Handle   toplevel.Handle   `json:"handle"`
	Info     toplevel.Info     `json:"info"`
	Metadata toplevel.Metadata `json:"metadata"`
}

// Registry is the ordered set of known windows, in the order they appeared
type Registry struct {
	resolver Resolver
	entries  []Entry
	sender   *bridge.Sender
}

// New creates an empty registry
func New(resolver Resolver) *Registry {
	return &Registry{resolver: resolver}
}

// Apply folds one update into the table
func (r *Registry) Apply(u toplevel.Update) {
	switch u.Kind {
	case toplevel.UpdateAdd:
		if i := r.index(u.Handle); i >= 0 {
			// Duplicate add: treat as a correction of the existing entry
			r.replace(i, u.Info)
			return
		}
		r.entries = append(r.entries, Entry{
			Handle:   u.Handle,
			Info:     u.Info,
			Metadata: r.resolver.Resolve(u.Info.AppID),
		})

	case toplevel.UpdateChanged:
		i := r.index(u.Handle)
		if i < 0 {
			logger.WithComponent("registry").Debug().
				Stringer("handle", u.Handle).
				Msg("Update for unknown window, ignoring")
			return
		}
		r.replace(i, u.Info)

	case toplevel.UpdateRemove:
		if i := r.index(u.Handle); i >= 0 {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
		}
	}
}

func (r *Registry) replace(i int, info toplevel.Info) {
	if r.entries[i].Info.AppID != info.AppID {
		r.entries[i].Metadata = r.resolver.Resolve(info.AppID)
	}
	r.entries[i].Info = info
}

func (r *Registry) index(h toplevel.Handle) int {
	for i := range r.entries {
		if r.entries[i].Handle == h {
			return i
		}
	}
	return -1
}

// Entries returns a copy of the table in display order
func (r *Registry) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Get returns the entry for h
func (r *Registry) Get(h toplevel.Handle) (Entry, bool) {
	if i := r.index(h); i >= 0 {
		return r.entries[i], true
	}
	return Entry{}, false
}

// Len returns the number of known windows
func (r *Registry) Len() int {
	return len(r.entries)
}

// SetSender records the bridge's command endpoint
func (r *Registry) SetSender(s *bridge.Sender) {
	r.sender = s
}

// Activate asks the bridge to focus h. Without a sender, or once the bridge
// is gone, the request is dropped and false is returned.
func (r *Registry) Activate(h toplevel.Handle) bool {
	if r.sender == nil {
		return false
	}
	return r.sender.Send(bridge.Request{Toplevel: toplevel.Activate(h)})
}

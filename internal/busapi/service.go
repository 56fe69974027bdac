// Package busapi exposes the window list on the D-Bus session bus so that
// panels and scripts can list and activate windows without HTTP.
package busapi

import (
	"context"
	"fmt"

	"github.com/bryanchriswhite/windock/internal/logger"
	"github.com/bryanchriswhite/windock/internal/toplevel"
	"github.com/bryanchriswhite/windock/internal/window"
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
)

// D-Bus constants
const (
	Interface       = "io.github.bryanchriswhite.Windock1"
	Path            = dbus.ObjectPath("/io/github/bryanchriswhite/Windock")
	changedSignal   = Interface + ".Changed"
	errNoSuchWindow = Interface + ".Error.NoSuchToplevel"
	errUnavailable  = Interface + ".Error.Unavailable"
)

// Windows is what the bus service needs from the window manager
type Windows interface {
	Snapshot() window.Snapshot
	Subscribe() chan window.Snapshot
	Unsubscribe(ch chan window.Snapshot)
	Activate(h toplevel.Handle) bool
}

// Toplevel is the wire form of one window: (ussssas)
type Toplevel struct {
	Handle uint32
	AppID  string
	Title  string
	Name   string
	Icon   string
	State  []string
}

const introspectXML = `
<interface name="` + Interface + `">
	<method name="List">
		<arg direction="out" type="a(ussssas)"/>
	</method>
	<method name="Activate">
		<arg direction="in" type="u" name="handle"/>
		<arg direction="out" type="b"/>
	</method>
	<signal name="Changed">
		<arg type="t" name="seq"/>
	</signal>
</interface>`

// Service is the exported object
type Service struct {
	windows Windows
	name    string
	emit    func(seq uint64) error
}

// NewService creates a service that will own the bus name
func NewService(windows Windows, name string) *Service {
	return &Service{windows: windows, name: name}
}

// List returns every known window in order
func (s *Service) List() ([]Toplevel, *dbus.Error) {
	snap := s.windows.Snapshot()
	out := make([]Toplevel, 0, len(snap.Entries))
	for _, e := range snap.Entries {
		out = append(out, Toplevel{
			Handle: uint32(e.Handle),
			AppID:  e.Info.AppID,
			Title:  e.Info.Title,
			Name:   e.Metadata.Name,
			Icon:   e.Metadata.Icon,
			State:  e.Info.State.Strings(),
		})
	}
	return out, nil
}

// Activate focuses the window with the given handle
func (s *Service) Activate(handle uint32) (bool, *dbus.Error) {
	h := toplevel.Handle(handle)
	if _, ok := s.windows.Snapshot().Find(h); !ok {
		return false, dbus.NewError(errNoSuchWindow, []interface{}{"no such toplevel: " + h.String()})
	}
	if !s.windows.Activate(h) {
		return false, dbus.NewError(errUnavailable, []interface{}{"window manager is not accepting requests"})
	}
	logger.WithComponent("dbus").Debug().Stringer("handle", h).Msg("Activation queued")
	return true, nil
}

// Run connects to the session bus, exports the service, claims the name,
// and emits Changed for every snapshot until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	log := logger.WithComponent("dbus")

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("failed to connect to session bus: %w", err)
	}
	defer conn.Close()

	methods := map[string]interface{}{
		"List":     s.List,
		"Activate": s.Activate,
	}
	if err := conn.ExportMethodTable(methods, Path, Interface); err != nil {
		return fmt.Errorf("failed to export %s: %w", Interface, err)
	}
	xml := introspect.IntrospectDeclarationString + "<node>" + introspectXML + introspect.IntrospectDataString + "</node>"
	if err := conn.Export(introspect.Introspectable(xml), Path, "org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("failed to export introspection: %w", err)
	}

	reply, err := conn.RequestName(s.name, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("failed to request name %s: %w", s.name, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("bus name %s already taken", s.name)
	}

	log.Info().Str("name", s.name).Str("path", string(Path)).Msg("D-Bus service exported")

	s.emit = func(seq uint64) error {
		return conn.Emit(Path, changedSignal, seq)
	}
	return s.forward(ctx)
}

// forward emits Changed for each published snapshot
func (s *Service) forward(ctx context.Context) error {
	log := logger.WithComponent("dbus")

	updates := s.windows.Subscribe()
	defer s.windows.Unsubscribe(updates)

	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			if err := s.emit(snap.Seq); err != nil {
				log.Warn().Err(err).Uint64("seq", snap.Seq).Msg("Failed to emit Changed")
			}
		}
	}
}

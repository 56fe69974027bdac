package window

import (
	"errors"
	"fmt"
	"sync"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/ewmh"
	"github.com/BurntSushi/xgbutil/icccm"
	"github.com/BurntSushi/xgbutil/xprop"
	"github.com/bryanchriswhite/windock/internal/logger"
	"github.com/bryanchriswhite/windock/internal/toplevel"
)

const x11EventQueue = 64

// X11Backend tracks EWMH client windows.
//
// It watches _NET_CLIENT_LIST and _NET_ACTIVE_WINDOW on the root window and
// the naming and state properties on every client, and turns those property
// changes into Add, Update and Remove events.
type X11Backend struct {
	xu   *xgbutil.XUtil
	root xproto.Window

	clientListAtom xproto.Atom
	activeAtom     xproto.Atom
	wmStateAtom    xproto.Atom
	watchedAtoms   map[xproto.Atom]bool

	events chan toplevel.Update
	closed chan struct{}

	mu        sync.Mutex
	err       error
	closeOnce sync.Once

	// Owned by the read loop
	known   map[xproto.Window]bool
	ignored map[xproto.Window]bool
	order   []xproto.Window
	active  xproto.Window
}

var _ Backend = (*X11Backend)(nil)

// NewX11Backend connects to the X server and starts decoding events
func NewX11Backend() (*X11Backend, error) {
	xu, err := xgbutil.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	b := &X11Backend{
		xu:           xu,
		root:         xu.RootWin(),
		watchedAtoms: make(map[xproto.Atom]bool),
		events:       make(chan toplevel.Update, x11EventQueue),
		closed:       make(chan struct{}),
		known:        make(map[xproto.Window]bool),
		ignored:      make(map[xproto.Window]bool),
	}

	if b.clientListAtom, err = xprop.Atm(xu, "_NET_CLIENT_LIST"); err != nil {
		xu.Conn().Close()
		return nil, fmt.Errorf("failed to intern _NET_CLIENT_LIST: %w", err)
	}
	if b.activeAtom, err = xprop.Atm(xu, "_NET_ACTIVE_WINDOW"); err != nil {
		xu.Conn().Close()
		return nil, fmt.Errorf("failed to intern _NET_ACTIVE_WINDOW: %w", err)
	}
	if b.wmStateAtom, err = xprop.Atm(xu, "_NET_WM_STATE"); err != nil {
		xu.Conn().Close()
		return nil, fmt.Errorf("failed to intern _NET_WM_STATE: %w", err)
	}
	for _, name := range []string{"_NET_WM_NAME", "WM_NAME", "WM_CLASS"} {
		atom, err := xprop.Atm(xu, name)
		if err != nil {
			xu.Conn().Close()
			return nil, fmt.Errorf("failed to intern %s: %w", name, err)
		}
		b.watchedAtoms[atom] = true
	}

	if err := xproto.ChangeWindowAttributesChecked(
		xu.Conn(),
		b.root,
		xproto.CwEventMask,
		[]uint32{xproto.EventMaskPropertyChange},
	).Check(); err != nil {
		xu.Conn().Close()
		return nil, fmt.Errorf("failed to set event mask: %w", err)
	}

	go b.readLoop()
	return b, nil
}

// Name returns the backend name
func (b *X11Backend) Name() string {
	return "x11"
}

// Events yields decoded window events until the connection closes
func (b *X11Backend) Events() <-chan toplevel.Update {
	return b.events
}

// Err reports why the event stream ended
func (b *X11Backend) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Close disconnects from the X server
func (b *X11Backend) Close() error {
	b.closeOnce.Do(func() {
		b.setErr(errors.New("connection closed"))
		close(b.closed)
		b.xu.Conn().Close()
	})
	return nil
}

func (b *X11Backend) setErr(err error) {
	b.mu.Lock()
	if b.err == nil {
		b.err = err
	}
	b.mu.Unlock()
}

// Activate sends a _NET_ACTIVE_WINDOW client message to the root window.
// The message is built by hand because the xgbutil ewmh request helpers
// panic on this library version.
func (b *X11Backend) Activate(h toplevel.Handle) error {
	win := xproto.Window(h)

	// Fails with BadWindow if the client is already gone
	if _, err := xproto.GetWindowAttributes(b.xu.Conn(), win).Reply(); err != nil {
		return fmt.Errorf("window %s: %w", h, err)
	}

	const sourceIndication = 2 // pager/direct action
	ev := xproto.ClientMessageEvent{
		Format: 32,
		Window: win,
		Type:   b.activeAtom,
		Data:   xproto.ClientMessageDataUnionData32New([]uint32{sourceIndication, 0, 0, 0, 0}),
	}

	return xproto.SendEventChecked(
		b.xu.Conn(),
		false,
		b.root,
		xproto.EventMaskSubstructureRedirect|xproto.EventMaskSubstructureNotify,
		string(ev.Bytes()),
	).Check()
}

func (b *X11Backend) readLoop() {
	log := logger.WithComponent("x11-backend")
	defer close(b.events)

	if active, err := ewmh.ActiveWindowGet(b.xu); err == nil {
		b.active = active
	}
	if !b.syncClients() {
		return
	}

	for {
		ev, xerr := b.xu.Conn().WaitForEvent()
		if ev == nil && xerr == nil {
			b.setErr(errors.New("X server connection closed"))
			return
		}
		if xerr != nil {
			// Typically BadWindow for a client destroyed mid-request
			log.Debug().Str("error", xerr.Error()).Msg("X11 error event")
			continue
		}

		prop, ok := ev.(xproto.PropertyNotifyEvent)
		if !ok {
			continue
		}
		if !b.handleProperty(prop) {
			return
		}
	}
}

// handleProperty returns false once the backend has been closed
func (b *X11Backend) handleProperty(ev xproto.PropertyNotifyEvent) bool {
	if ev.Window == b.root {
		switch ev.Atom {
		case b.clientListAtom:
			return b.syncClients()
		case b.activeAtom:
			return b.syncActive()
		}
		return true
	}

	// Skip-taskbar can be toggled at any time, so state changes refilter
	if ev.Atom == b.wmStateAtom && (b.known[ev.Window] || b.ignored[ev.Window]) {
		return b.refilter(ev.Window)
	}

	if !b.known[ev.Window] || !b.watchedAtoms[ev.Atom] {
		return true
	}
	return b.emit(toplevel.Changed(toplevel.Handle(ev.Window), b.readInfo(ev.Window)))
}

// diffClients compares the tracked order with a fresh _NET_CLIENT_LIST.
// kept and removed preserve the tracked order, added preserves list order.
func diffClients(order, clients []xproto.Window) (kept, removed, added []xproto.Window) {
	present := make(map[xproto.Window]bool, len(clients))
	for _, win := range clients {
		present[win] = true
	}
	tracked := make(map[xproto.Window]bool, len(order))
	for _, win := range order {
		tracked[win] = true
		if present[win] {
			kept = append(kept, win)
		} else {
			removed = append(removed, win)
		}
	}
	for _, win := range clients {
		if !tracked[win] {
			tracked[win] = true
			added = append(added, win)
		}
	}
	return kept, removed, added
}

// syncClients diffs _NET_CLIENT_LIST against the known set. Removals are
// emitted before additions.
func (b *X11Backend) syncClients() bool {
	log := logger.WithComponent("x11-backend")

	clients, err := ewmh.ClientListGet(b.xu)
	if err != nil {
		// Some window managers clear the property while restacking
		log.Debug().Err(err).Msg("Failed to read _NET_CLIENT_LIST")
		return true
	}

	// Ignored clients are part of the diff so that they drop out when closed
	tracked := make([]xproto.Window, 0, len(b.order)+len(b.ignored))
	tracked = append(tracked, b.order...)
	for win := range b.ignored {
		tracked = append(tracked, win)
	}
	_, removed, added := diffClients(tracked, clients)

	for _, win := range removed {
		if b.ignored[win] {
			delete(b.ignored, win)
			continue
		}
		b.forget(win)
		if !b.emit(toplevel.Remove(toplevel.Handle(win))) {
			return false
		}
	}

	for _, win := range added {
		// Follow naming and state changes on every client, including
		// ones filtered out now, so later state changes are seen
		xproto.ChangeWindowAttributes(b.xu.Conn(), win, xproto.CwEventMask,
			[]uint32{xproto.EventMaskPropertyChange})

		if !b.isTaskbarWindow(win) {
			b.ignored[win] = true
			continue
		}
		if !b.track(win) {
			return false
		}
	}
	return true
}

// refilter moves a client between the known and ignored sets after its
// state changed
func (b *X11Backend) refilter(win xproto.Window) bool {
	taskbar := b.isTaskbarWindow(win)
	switch {
	case b.known[win] && !taskbar:
		b.forget(win)
		b.ignored[win] = true
		return b.emit(toplevel.Remove(toplevel.Handle(win)))
	case b.ignored[win] && taskbar:
		delete(b.ignored, win)
		return b.track(win)
	case b.known[win]:
		return b.emit(toplevel.Changed(toplevel.Handle(win), b.readInfo(win)))
	}
	return true
}

func (b *X11Backend) track(win xproto.Window) bool {
	b.known[win] = true
	b.order = append(b.order, win)
	info := b.readInfo(win)

	logger.WithComponent("x11-backend").Debug().
		Uint32("winID", uint32(win)).
		Str("title", info.Title).
		Str("class", info.AppID).
		Msg("Client appeared")

	return b.emit(toplevel.Add(toplevel.Handle(win), info))
}

func (b *X11Backend) forget(win xproto.Window) {
	delete(b.known, win)
	for i, w := range b.order {
		if w == win {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// activeChanged lists the tracked windows whose Activated flag flips when
// the active window moves from prev to next
func activeChanged(prev, next xproto.Window, known map[xproto.Window]bool) []xproto.Window {
	if prev == next {
		return nil
	}
	var out []xproto.Window
	for _, win := range []xproto.Window{prev, next} {
		if known[win] {
			out = append(out, win)
		}
	}
	return out
}

// syncActive re-reads the two windows whose Activated flag changed
func (b *X11Backend) syncActive() bool {
	active, err := ewmh.ActiveWindowGet(b.xu)
	if err != nil {
		return true
	}

	changed := activeChanged(b.active, active, b.known)
	b.active = active
	for _, win := range changed {
		if !b.emit(toplevel.Changed(toplevel.Handle(win), b.readInfo(win))) {
			return false
		}
	}
	return true
}

func (b *X11Backend) emit(u toplevel.Update) bool {
	select {
	case b.events <- u:
		return true
	case <-b.closed:
		return false
	}
}

// readInfo builds the current Info for a client. Missing properties leave
// the corresponding field empty.
func (b *X11Backend) readInfo(win xproto.Window) toplevel.Info {
	info := toplevel.Info{}

	if name, err := ewmh.WmNameGet(b.xu, win); err == nil && name != "" {
		info.Title = name
	} else if name, err := icccm.WmNameGet(b.xu, win); err == nil {
		info.Title = name
	}

	// WM_CLASS is instance\0class\0; the class is the application id
	if class, err := icccm.WmClassGet(b.xu, win); err == nil {
		if class.Class != "" {
			info.AppID = class.Class
		} else {
			info.AppID = class.Instance
		}
	}

	states, _ := ewmh.WmStateGet(b.xu, win)
	info.State = stateFromEWMH(states, win == b.active)

	return info
}

// stateFromEWMH maps _NET_WM_STATE atoms to state flags. Maximized needs
// both axes.
func stateFromEWMH(states []string, active bool) toplevel.State {
	var st toplevel.State
	var maxH, maxV bool
	for _, s := range states {
		switch s {
		case "_NET_WM_STATE_HIDDEN":
			st |= toplevel.StateMinimized
		case "_NET_WM_STATE_FULLSCREEN":
			st |= toplevel.StateFullscreen
		case "_NET_WM_STATE_MAXIMIZED_HORZ":
			maxH = true
		case "_NET_WM_STATE_MAXIMIZED_VERT":
			maxV = true
		}
	}
	if maxH && maxV {
		st |= toplevel.StateMaximized
	}
	if active {
		st |= toplevel.StateActivated
	}
	return st
}

// isTaskbarWindow checks if a client belongs in a window list
func (b *X11Backend) isTaskbarWindow(win xproto.Window) bool {
	states, _ := ewmh.WmStateGet(b.xu, win)
	types, err := ewmh.WmWindowTypeGet(b.xu, win)
	return taskbarEligible(states, types, err == nil)
}

// taskbarEligible decides from _NET_WM_STATE and _NET_WM_WINDOW_TYPE.
// A client whose type can't be read is assumed normal.
func taskbarEligible(states, types []string, typeKnown bool) bool {
	for _, s := range states {
		if s == "_NET_WM_STATE_SKIP_TASKBAR" {
			return false
		}
	}
	if !typeKnown {
		return true
	}
	for _, t := range types {
		switch t {
		case "_NET_WM_WINDOW_TYPE_NORMAL", "_NET_WM_WINDOW_TYPE_DIALOG":
			return true
		case "_NET_WM_WINDOW_TYPE_DESKTOP",
			"_NET_WM_WINDOW_TYPE_DOCK",
			"_NET_WM_WINDOW_TYPE_SPLASH",
			"_NET_WM_WINDOW_TYPE_NOTIFICATION",
			"_NET_WM_WINDOW_TYPE_TOOLBAR",
			"_NET_WM_WINDOW_TYPE_MENU":
			return false
		}
	}
	return len(types) == 0
}

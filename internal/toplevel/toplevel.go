package toplevel

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Handle identifies one top-level window for as long as it exists.
// It is issued by the display server and is only ever compared, never interpreted.
type Handle uint32

// String renders the handle the way X11 tools print window ids
func (h Handle) String() string {
	return fmt.Sprintf("0x%08x", uint32(h))
}

// ParseHandle parses a handle in hex (0x prefixed) or decimal form
func ParseHandle(s string) (Handle, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty handle")
	}
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid handle %q: %w", s, err)
	}
	return Handle(v), nil
}

// State is a set of window state flags
type State uint8

const (
	StateMaximized State = 1 << iota
	StateMinimized
	StateActivated
	StateFullscreen
)

var stateNames = []struct {
	flag State
	name string
}{
	{StateMaximized, "maximized"},
	{StateMinimized, "minimized"},
	{StateActivated, "activated"},
	{StateFullscreen, "fullscreen"},
}

// Has reports whether every flag in f is set
func (s State) Has(f State) bool {
	return s&f == f
}

// Strings returns the names of the set flags in a fixed order
func (s State) Strings() []string {
	names := make([]string, 0, len(stateNames))
	for _, sn := range stateNames {
		if s.Has(sn.flag) {
			names = append(names, sn.name)
		}
	}
	return names
}

func (s State) String() string {
	return strings.Join(s.Strings(), ",")
}

// MarshalJSON encodes the state as a list of flag names
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

// UnmarshalJSON decodes a list of flag names
func (s *State) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	var out State
	for _, name := range names {
		found := false
		for _, sn := range stateNames {
			if sn.name == strings.ToLower(name) {
				out |= sn.flag
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("unknown window state %q", name)
		}
	}
	*s = out
	return nil
}

// Info is the descriptive state of a window at one point in time.
// It is replaced wholesale whenever the server reports a change.
type Info struct {
	AppID string `json:"app_id"`
	Title string `json:"title"`
	State State  `json:"state"`
}

// Metadata is the resolved application information for an app id
type Metadata struct {
	AppID       string `json:"app_id"`
	Name        string `json:"name"`
	Icon        string `json:"icon"`
	IconPath    string `json:"icon_path,omitempty"`
	Exec        string `json:"exec,omitempty"`
	DesktopFile string `json:"desktop_file,omitempty"`
}

// UpdateKind tags an Update
type UpdateKind int

const (
	UpdateAdd UpdateKind = iota
	UpdateChanged
	UpdateRemove
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateAdd:
		return "add"
	case UpdateChanged:
		return "update"
	case UpdateRemove:
		return "remove"
	default:
		return fmt.Sprintf("UpdateKind(%d)", int(k))
	}
}

// Update is one change to the set of top-level windows.
// Info is meaningless for UpdateRemove.
type Update struct {
	Kind   UpdateKind
	Handle Handle
	Info   Info
}

// Add reports a window that appeared
func Add(h Handle, info Info) Update {
	return Update{Kind: UpdateAdd, Handle: h, Info: info}
}

// Changed reports new info for a known window
func Changed(h Handle, info Info) Update {
	return Update{Kind: UpdateChanged, Handle: h, Info: info}
}

// Remove reports a window that went away
func Remove(h Handle) Update {
	return Update{Kind: UpdateRemove, Handle: h}
}

// RequestKind tags a Request
type RequestKind int

const (
	RequestActivate RequestKind = iota
)

// Request is a command against one window
type Request struct {
	Kind   RequestKind
	Handle Handle
}

// Activate asks the server to focus and raise the window
func Activate(h Handle) Request {
	return Request{Kind: RequestActivate, Handle: h}
}

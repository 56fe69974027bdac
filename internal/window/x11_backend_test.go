package window

import (
	"reflect"
	"testing"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/windock/internal/toplevel"
)

func TestDiffClients(t *testing.T) {
	tests := []struct {
		name        string
		order       []xproto.Window
		clients     []xproto.Window
		wantKept    []xproto.Window
		wantRemoved []xproto.Window
		wantAdded   []xproto.Window
	}{
		{
			name:      "initial list",
			clients:   []xproto.Window{3, 1, 2},
			wantAdded: []xproto.Window{3, 1, 2},
		},
		{
			name:     "unchanged",
			order:    []xproto.Window{1, 2},
			clients:  []xproto.Window{1, 2},
			wantKept: []xproto.Window{1, 2},
		},
		{
			name:        "close and open",
			order:       []xproto.Window{1, 2, 3},
			clients:     []xproto.Window{3, 4, 1},
			wantKept:    []xproto.Window{1, 3},
			wantRemoved: []xproto.Window{2},
			wantAdded:   []xproto.Window{4},
		},
		{
			name:     "restack keeps tracked order",
			order:    []xproto.Window{1, 2, 3},
			clients:  []xproto.Window{3, 2, 1},
			wantKept: []xproto.Window{1, 2, 3},
		},
		{
			name:        "everything closed",
			order:       []xproto.Window{5, 6},
			wantRemoved: []xproto.Window{5, 6},
		},
		{
			name:      "duplicate client entries",
			order:     []xproto.Window{1},
			clients:   []xproto.Window{1, 7, 7},
			wantKept:  []xproto.Window{1},
			wantAdded: []xproto.Window{7},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kept, removed, added := diffClients(tt.order, tt.clients)
			if !reflect.DeepEqual(kept, tt.wantKept) {
				t.Fatalf("kept = %v, want %v", kept, tt.wantKept)
			}
			if !reflect.DeepEqual(removed, tt.wantRemoved) {
				t.Fatalf("removed = %v, want %v", removed, tt.wantRemoved)
			}
			if !reflect.DeepEqual(added, tt.wantAdded) {
				t.Fatalf("added = %v, want %v", added, tt.wantAdded)
			}
		})
	}
}

func TestActiveChanged(t *testing.T) {
	known := map[xproto.Window]bool{1: true, 2: true}

	tests := []struct {
		name       string
		prev, next xproto.Window
		want       []xproto.Window
	}{
		{"focus moves between tracked windows", 1, 2, []xproto.Window{1, 2}},
		{"no change", 2, 2, nil},
		{"focus to untracked window", 1, 9, []xproto.Window{1}},
		{"focus from nothing", 0, 2, []xproto.Window{2}},
		{"both untracked", 8, 9, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := activeChanged(tt.prev, tt.next, known)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("activeChanged(%d, %d) = %v, want %v", tt.prev, tt.next, got, tt.want)
			}
		})
	}
}

func TestStateFromEWMH(t *testing.T) {
	tests := []struct {
		name   string
		states []string
		active bool
		want   toplevel.State
	}{
		{"none", nil, false, 0},
		{"active only", nil, true, toplevel.StateActivated},
		{"hidden", []string{"_NET_WM_STATE_HIDDEN"}, false, toplevel.StateMinimized},
		{"half maximized", []string{"_NET_WM_STATE_MAXIMIZED_HORZ"}, false, 0},
		{
			"maximized fullscreen active",
			[]string{"_NET_WM_STATE_MAXIMIZED_VERT", "_NET_WM_STATE_MAXIMIZED_HORZ", "_NET_WM_STATE_FULLSCREEN"},
			true,
			toplevel.StateMaximized | toplevel.StateFullscreen | toplevel.StateActivated,
		},
		{"unrelated atoms", []string{"_NET_WM_STATE_STICKY", "_NET_WM_STATE_ABOVE"}, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stateFromEWMH(tt.states, tt.active); got != tt.want {
				t.Fatalf("stateFromEWMH() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTaskbarEligible(t *testing.T) {
	tests := []struct {
		name      string
		states    []string
		types     []string
		typeKnown bool
		want      bool
	}{
		{"normal", nil, []string{"_NET_WM_WINDOW_TYPE_NORMAL"}, true, true},
		{"dialog", nil, []string{"_NET_WM_WINDOW_TYPE_DIALOG"}, true, true},
		{"dock", nil, []string{"_NET_WM_WINDOW_TYPE_DOCK"}, true, false},
		{"desktop", nil, []string{"_NET_WM_WINDOW_TYPE_DESKTOP"}, true, false},
		{"skip taskbar wins over normal", []string{"_NET_WM_STATE_SKIP_TASKBAR"}, []string{"_NET_WM_WINDOW_TYPE_NORMAL"}, true, false},
		{"skip taskbar with unknown type", []string{"_NET_WM_STATE_SKIP_TASKBAR"}, nil, false, false},
		{"type unreadable", nil, nil, false, true},
		{"no type set", nil, []string{}, true, true},
		{"only unknown types", nil, []string{"_KDE_NET_WM_WINDOW_TYPE_OVERRIDE"}, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := taskbarEligible(tt.states, tt.types, tt.typeKnown); got != tt.want {
				t.Fatalf("taskbarEligible() = %v, want %v", got, tt.want)
			}
		})
	}
}

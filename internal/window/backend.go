package window

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/bryanchriswhite/windock/internal/bridge"
	"github.com/bryanchriswhite/windock/internal/logger"
)

// Backend names accepted by Options.Backend
const (
	BackendX11    = "x11"
	BackendScript = "script"
)

// Backend is a display-server connection that decodes protocol traffic
// into toplevel updates for the bridge.
type Backend interface {
	bridge.Connection

	// Name returns the backend name (e.g., "x11", "script")
	Name() string
}

// Options selects and configures a backend
type Options struct {
	Backend string
	// ScriptPath is read by the script backend; "-" or "" means stdin
	ScriptPath string
}

// NewDialer returns a bridge dialer for the configured backend
func NewDialer(opts Options) (bridge.Dialer, error) {
	switch opts.Backend {
	case "", BackendX11:
		return func(ctx context.Context) (bridge.Connection, error) {
			b, err := NewX11Backend()
			if err != nil {
				return nil, err
			}
			return connected(b), nil
		}, nil

	case BackendScript:
		return func(ctx context.Context) (bridge.Connection, error) {
			r, err := openScript(opts.ScriptPath)
			if err != nil {
				return nil, err
			}
			return connected(NewScriptBackend(r)), nil
		}, nil

	default:
		return nil, fmt.Errorf("unknown backend %q (use %q or %q)", opts.Backend, BackendX11, BackendScript)
	}
}

func connected(b Backend) Backend {
	logger.WithComponent("window").Info().Str("backend", b.Name()).Msg("Connected to window source")
	return b
}

func openScript(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open script: %w", err)
	}
	return f, nil
}

package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bryanchriswhite/windock/internal/bridge"
	"github.com/bryanchriswhite/windock/internal/config"
	"github.com/bryanchriswhite/windock/internal/desktop"
	"github.com/bryanchriswhite/windock/internal/subscription"
	"github.com/bryanchriswhite/windock/internal/window"
)

// toplevelsSubscription is the one long-lived subscription the process keeps
const toplevelsSubscription subscription.ID = "windock.toplevels"

// pipeline is the running source, bridge and foreground manager
type pipeline struct {
	hub      *subscription.Hub
	mgr      *window.Manager
	resolver *desktop.Resolver
	cancel   context.CancelFunc
	errc     chan error
}

func startPipeline(ctx context.Context, cfg *config.Config) (*pipeline, error) {
	dial, err := window.NewDialer(window.Options{
		Backend:    cfg.Source,
		ScriptPath: cfg.ScriptPath,
	})
	if err != nil {
		return nil, err
	}

	resolver := desktop.NewResolver(desktop.Options{
		DataDirs:  cfg.Desktop.DataDirs,
		IconTheme: cfg.Desktop.IconTheme,
		IconSize:  cfg.Desktop.IconSize,
	})

	ctx, cancel := context.WithCancel(ctx)
	hub := subscription.NewHub(ctx)
	updates := hub.Subscribe(toplevelsSubscription, bridge.New(dial).Run)

	p := &pipeline{
		hub:      hub,
		mgr:      window.NewManager(resolver),
		resolver: resolver,
		cancel:   cancel,
		errc:     make(chan error, 1),
	}
	go func() {
		p.errc <- p.mgr.Run(ctx, updates)
	}()
	return p, nil
}

// Close stops the source and waits for the manager to return
func (p *pipeline) Close() {
	p.cancel()
	p.hub.Close()
	<-p.mgr.Done()
}

// waitInitial returns the first settled window list: the source has
// connected and no change arrived for settle, or timeout passed.
func (p *pipeline) waitInitial(ctx context.Context, settle, timeout time.Duration) (window.Snapshot, error) {
	updates := p.mgr.Subscribe()
	defer p.mgr.Unsubscribe(updates)

	var quiet <-chan time.Time
	if p.mgr.Snapshot().Ready {
		quiet = time.After(settle)
	}
	deadline := time.After(timeout)

	for {
		select {
		case <-ctx.Done():
			return window.Snapshot{}, ctx.Err()
		case err := <-p.errc:
			if err == nil {
				err = errors.New("window manager stopped")
			}
			return window.Snapshot{}, err
		case s := <-updates:
			if s.Ready {
				quiet = time.After(settle)
			}
		case <-quiet:
			return p.mgr.Snapshot(), nil
		case <-deadline:
			snap := p.mgr.Snapshot()
			if !snap.Ready {
				return snap, fmt.Errorf("window source did not connect within %s", timeout)
			}
			return snap, nil
		}
	}
}

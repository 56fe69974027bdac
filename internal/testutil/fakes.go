// Package testutil holds fakes shared by package tests.
package testutil

import (
	"context"
	"sync"

	"github.com/bryanchriswhite/windock/internal/bridge"
	"github.com/bryanchriswhite/windock/internal/toplevel"
)

// FakeConn is an in-memory bridge.Connection driven by the test
type FakeConn struct {
	events      chan toplevel.Update
	activations chan toplevel.Handle

	mu          sync.Mutex
	err         error
	activateErr error
	closed      bool
	failed      bool
}

var _ bridge.Connection = (*FakeConn)(nil)

// NewFakeConn creates a connection with room for 64 queued events
func NewFakeConn() *FakeConn {
	return &FakeConn{
		events:      make(chan toplevel.Update, 64),
		activations: make(chan toplevel.Handle, 64),
	}
}

// Dialer returns a dialer that always yields c
func (c *FakeConn) Dialer() bridge.Dialer {
	return func(ctx context.Context) (bridge.Connection, error) {
		return c, nil
	}
}

// Push delivers a protocol event
func (c *FakeConn) Push(u toplevel.Update) {
	c.events <- u
}

// Fail terminates the connection with err
func (c *FakeConn) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failed {
		return
	}
	c.failed = true
	c.err = err
	close(c.events)
}

// SetActivateErr makes every later Activate call fail with err
func (c *FakeConn) SetActivateErr(err error) {
	c.mu.Lock()
	c.activateErr = err
	c.mu.Unlock()
}

// Activations yields every handle passed to Activate, in call order
func (c *FakeConn) Activations() <-chan toplevel.Handle {
	return c.activations
}

// Closed reports whether Close was called
func (c *FakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *FakeConn) Events() <-chan toplevel.Update {
	return c.events
}

func (c *FakeConn) Activate(h toplevel.Handle) error {
	c.activations <- h
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activateErr
}

func (c *FakeConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *FakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// FakeResolver counts metadata lookups per app id
type FakeResolver struct {
	mu    sync.Mutex
	calls []string
}

// Resolve records the call and returns metadata derived from appID
func (r *FakeResolver) Resolve(appID string) toplevel.Metadata {
	r.mu.Lock()
	r.calls = append(r.calls, appID)
	r.mu.Unlock()
	return toplevel.Metadata{AppID: appID, Name: "App " + appID, Icon: appID}
}

// Calls returns the app ids resolved so far, in order
func (r *FakeResolver) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

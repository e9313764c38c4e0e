// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"sync"

	"github.com/casblasvic/weekly-calendar-sub018/realtime"
	"github.com/casblasvic/weekly-calendar-sub018/shelly"
)

type plugCall struct {
	DeviceID string
	On       bool
	Name     string
}

// fakePlugs records commands instead of sending them.
type fakePlugs struct {
	mu     sync.Mutex
	calls  []plugCall
	result shelly.SendResult
	err    error
	status shelly.Status
}

func (f *fakePlugs) Control(_ context.Context, d shelly.Device, on bool) (shelly.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, plugCall{DeviceID: d.ID, On: on})
	return f.result, f.err
}

func (f *fakePlugs) Rename(_ context.Context, d shelly.Device, name string) (shelly.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, plugCall{DeviceID: d.ID, Name: name})
	return f.result, f.err
}

func (f *fakePlugs) RefreshDevice(context.Context, shelly.Credential, shelly.Device) (shelly.Status, error) {
	return f.status, f.err
}

func (f *fakePlugs) Calls() []plugCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]plugCall(nil), f.calls...)
}

// recorder keeps every published event.
type recorder struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (r *recorder) Publish(_ context.Context, e realtime.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// fakeConns stands in for the connection manager.
type fakeConns struct {
	mu      sync.Mutex
	actions []string
	err     error
	status  shelly.ConnStatus
	zombies int
}

func (f *fakeConns) record(action, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action+":"+id)
	return f.err
}

func (f *fakeConns) Connect(_ context.Context, id string) error        { return f.record("connect", id) }
func (f *fakeConns) Disconnect(_ context.Context, id string) error     { return f.record("disconnect", id) }
func (f *fakeConns) ForceReconnect(_ context.Context, id string) error { return f.record("reconnect", id) }

func (f *fakeConns) Status(string) shelly.ConnStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeConns) CleanupZombieConnections(context.Context) (int, error) {
	return f.zombies, f.err
}

type fixedListeners int

func (n fixedListeners) ClientCount() int { return int(n) }

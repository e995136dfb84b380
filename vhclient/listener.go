// Copyright 2025 Outreach Corporation. All Rights Reserved.

package vhclient

import "sync"

// ConnectionListener is notified of connection lifecycle events. Every
// method is called with the connection epoch that triggered it (bumped on
// each successful connect, spec.md §4.F) so listeners can disambiguate
// stale notifications from racing reconnects.
type ConnectionListener interface {
	NotifyConnectionEstablished(epoch uint64)
	NotifyConnectionLost(epoch uint64, err error)
}

// listenerRegistry is a small synchronized set of attached listeners. A
// Client owns exactly one; sharedhash attaches/detaches its own listeners
// on top of whatever the caller attached.
type listenerRegistry struct {
	mu        sync.RWMutex
	listeners map[*listenerHandle]ConnectionListener
}

type listenerHandle struct {
	registry *listenerRegistry
	detached bool
}

func newListenerRegistry() *listenerRegistry {
	return &listenerRegistry{listeners: make(map[*listenerHandle]ConnectionListener)}
}

// Attach registers l and returns a handle that can later Detach it.
func (r *listenerRegistry) Attach(l ConnectionListener) *listenerHandle {
	h := &listenerHandle{registry: r}
	r.mu.Lock()
	r.listeners[h] = l
	r.mu.Unlock()
	return h
}

// Detach removes the listener. Safe to call once; a second call returns
// ErrListenerAlreadyDetached. Synchronized against concurrent notification
// dispatch, so Detach never races a still-in-flight callback onto a
// listener the caller is about to tear down.
func (h *listenerHandle) Detach() error {
	r := h.registry
	r.mu.Lock()
	defer r.mu.Unlock()
	if h.detached {
		return ErrListenerAlreadyDetached
	}
	h.detached = true
	delete(r.listeners, h)
	return nil
}

func (r *listenerRegistry) notifyEstablished(epoch uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, l := range r.listeners {
		l.NotifyConnectionEstablished(epoch)
	}
}

func (r *listenerRegistry) notifyLost(epoch uint64, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, l := range r.listeners {
		l.NotifyConnectionLost(epoch, err)
	}
}

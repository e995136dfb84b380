// Copyright 2025 Outreach Corporation. All Rights Reserved.

package sharedhash

import (
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/awinterman/vhclient/pubsub"
	"github.com/awinterman/vhclient/vhclient"
)

// Manager ties a vhclient.Client and a pubsub.Subscriber together and
// multiplexes the subscriber's incoming messages out to whichever
// SharedHash owns that channel -- grounded on SharedManager in
// original_source/src/shared/SharedHash.cc ("supply a SharedManager
// object... attachListener(this)").
type Manager struct {
	client     *vhclient.Client
	subscriber *pubsub.Subscriber
	logger     *slog.Logger

	mu    sync.Mutex
	hashes map[string]*SharedHash // keyed by pub/sub channel, not by key
}

// NewManager constructs the client and subscriber a Manager needs and
// starts both connecting in the background.
func NewManager(cfg vhclient.Config) (*Manager, error) {
	client, err := vhclient.NewClient(cfg)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		client: client,
		logger: logger,
		hashes: make(map[string]*SharedHash),
	}

	m.subscriber = pubsub.NewSubscriber(pubsub.Options{
		Members:     cfg.Members,
		TLS:         cfg.TLS,
		DialTimeout: cfg.DialTimeout,
		Handshake:   cfg.Handshake,
		Logger:      logger,
	}, m.dispatch)

	return m, nil
}

// dispatch routes one pub/sub push to the SharedHash that owns its
// channel, if any is currently registered.
func (m *Manager) dispatch(msg pubsub.Message) {
	if msg.Kind != pubsub.KindMessage {
		return // subscribe/unsubscribe acks need no action here
	}
	m.mu.Lock()
	h := m.hashes[msg.Channel]
	m.mu.Unlock()
	if h != nil {
		h.processIncoming(msg)
	}
}

// GetSharedHash returns the SharedHash for key, creating and subscribing to
// it on first use.
func (m *Manager) GetSharedHash(key string) *SharedHash {
	ch := "__vhash@" + key

	m.mu.Lock()
	if h, ok := m.hashes[ch]; ok {
		m.mu.Unlock()
		return h
	}
	m.mu.Unlock()

	h := newSharedHash(m, key)

	m.mu.Lock()
	if existing, ok := m.hashes[ch]; ok {
		m.mu.Unlock()
		h.Close()
		return existing
	}
	m.hashes[ch] = h
	m.mu.Unlock()

	m.subscriber.Subscribe(ch)
	return h
}

// Close tears down the client and the subscriber concurrently -- they are
// independent connections, so there is no ordering requirement between
// their shutdowns.
func (m *Manager) Close() error {
	var g errgroup.Group
	g.Go(func() error {
		m.subscriber.Close()
		return nil
	})
	g.Go(m.client.Close)
	return g.Wait()
}

// Copyright 2025 Outreach Corporation. All Rights Reserved.

package vhclient

import "sync"

// interceptRegistry is the process-global (host,port) -> (host,port)
// override table, consulted only at connect time -- grounded on the static
// `intercepts` map and `interceptsMutex` in
// original_source/include/qclient/QClient.hh and the addIntercept /
// clearIntercepts bodies in original_source/src/QClient.cc. It exists so
// tests can redirect a client at a real member list onto a local fixture
// server without touching the caller's Config.
var interceptRegistry = struct {
	mu    sync.Mutex
	table map[Endpoint]Endpoint
}{table: make(map[Endpoint]Endpoint)}

// AddIntercept installs a redirect so any dial to "from" is transparently
// sent to "to" instead. Process-global; intended for test fixtures.
func AddIntercept(from, to Endpoint) {
	interceptRegistry.mu.Lock()
	defer interceptRegistry.mu.Unlock()
	interceptRegistry.table[from] = to
}

// ClearIntercepts removes every installed intercept.
func ClearIntercepts() {
	interceptRegistry.mu.Lock()
	defer interceptRegistry.mu.Unlock()
	interceptRegistry.table = make(map[Endpoint]Endpoint)
}

// resolveIntercept returns the effective endpoint to dial for e, applying
// at most one level of redirection (no chaining, matching the original's
// single map lookup).
func resolveIntercept(e Endpoint) Endpoint {
	interceptRegistry.mu.Lock()
	defer interceptRegistry.mu.Unlock()
	if to, ok := interceptRegistry.table[e]; ok {
		return to
	}
	return e
}

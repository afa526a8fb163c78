package transports

import (
	"sort"
	"sync"

	"utcp/internal/tools"
	"utcp/pkg/logging"
)

// Registry maps protocol keys to CommunicationProtocol implementations.
// Registration is last-write-wins so embedders can replace a built-in
// protocol with their own. The zero value is not usable; construct with
// NewRegistry.
type Registry struct {
	mu        sync.RWMutex
	protocols map[string]CommunicationProtocol
}

// NewRegistry creates an empty, isolated registry. Tests and embedders that
// need isolation from the process-wide default use this.
func NewRegistry() *Registry {
	return &Registry{protocols: make(map[string]CommunicationProtocol)}
}

// Register binds a protocol implementation to a key. Registering an existing
// key replaces the previous implementation and logs the replacement.
func (r *Registry) Register(key string, p CommunicationProtocol) {
	r.mu.Lock()
	_, replaced := r.protocols[key]
	r.protocols[key] = p
	r.mu.Unlock()

	if replaced {
		logging.Warn("ProtocolRegistry", "protocol %q replaced by a new registration", key)
	} else {
		logging.Debug("ProtocolRegistry", "protocol %q registered", key)
	}
}

// Deregister removes a protocol binding. Removing an unknown key is a no-op;
// deregistration always succeeds.
func (r *Registry) Deregister(key string) {
	r.mu.Lock()
	delete(r.protocols, key)
	r.mu.Unlock()
}

// Get looks up the protocol for a key.
func (r *Registry) Get(key string) (CommunicationProtocol, error) {
	r.mu.RLock()
	p, ok := r.protocols[key]
	r.mu.RUnlock()

	if !ok {
		return nil, &tools.ProtocolNotFoundError{Protocol: key}
	}
	return p, nil
}

// Names returns the registered protocol keys in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.protocols))
	for k := range r.protocols {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry shared by clients that do not
// supply their own, with the built-in transports bound on first use.
// Mutations are visible to every user of the default; isolated tests should
// construct their own registry instead.
func Default() *Registry {
	builtinsOnce.Do(func() { RegisterBuiltins(defaultRegistry) })
	return defaultRegistry
}

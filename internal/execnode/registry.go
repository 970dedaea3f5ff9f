package execnode

import (
	"sort"
	"sync"
)

// Registry holds registered node capability definitions.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Capabilities
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*Capabilities),
	}
}

// Register adds or updates a capability definition.
func (r *Registry) Register(caps *Capabilities) {
	if caps == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[caps.Name] = caps
}

// Get retrieves capabilities by name. Returns nil if not found.
func (r *Registry) Get(name string) *Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[name]
}

// Names returns all registered node names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultNode is the profile used when none is configured.
const DefaultNode = "generic"

// DefaultRegistry returns a registry pre-populated with built-in nodes.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(GenericCapabilities())
	r.Register(GethCapabilities())
	r.Register(AnvilCapabilities())
	r.Register(HardhatCapabilities())
	r.Register(CDKErigonCapabilities())
	return r
}

// GenericCapabilities assumes a post-merge node with websocket access.
func GenericCapabilities() *Capabilities {
	return &Capabilities{
		Name:                DefaultNode,
		SupportsFinalityTag: true,
		SupportsNewHeads:    true,
	}
}

// GethCapabilities returns the capabilities for go-ethereum.
func GethCapabilities() *Capabilities {
	caps := GenericCapabilities()
	caps.Name = "geth"
	return caps
}

// AnvilCapabilities returns the capabilities for anvil dev chains.
func AnvilCapabilities() *Capabilities {
	return &Capabilities{
		Name:                "anvil",
		SupportsFinalityTag: true,
		SupportsNewHeads:    true,
	}
}

// HardhatCapabilities returns the capabilities for the hardhat network.
// Hardhat has no finality tag, every mined block counts.
func HardhatCapabilities() *Capabilities {
	return &Capabilities{
		Name:             "hardhat",
		Confirmations:    0,
		SupportsNewHeads: true,
	}
}

// CDKErigonCapabilities returns the capabilities for cdk-erigon sequencers.
func CDKErigonCapabilities() *Capabilities {
	return &Capabilities{
		Name:             "cdk-erigon",
		Confirmations:    2,
		SupportsNewHeads: false,
		RequiresLegacyTx: true,
	}
}

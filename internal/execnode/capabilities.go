// Package execnode describes what the ledger nodes behind the facade support,
// so the adapter picks finality and transaction settings by capability
// instead of by node name.
package execnode

// Capabilities defines what a ledger node supports.
type Capabilities struct {
	// Name is the canonical identifier (e.g. "geth", "anvil")
	Name string

	// SupportsFinalityTag indicates the node answers eth_getBlockByNumber("finalized").
	// When false, finality is a confirmation depth on top of latest.
	SupportsFinalityTag bool

	// Confirmations is the depth used when SupportsFinalityTag is false.
	Confirmations uint64

	// SupportsNewHeads indicates a websocket eth_subscribe("newHeads") endpoint.
	SupportsNewHeads bool

	// RequiresLegacyTx indicates the node rejects EIP-1559 transactions.
	RequiresLegacyTx bool
}

// String returns the canonical name of the node.
func (c *Capabilities) String() string {
	if c == nil {
		return "unknown"
	}
	return c.Name
}

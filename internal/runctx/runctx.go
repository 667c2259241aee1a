// Package runctx holds the handful of pieces of state that the source
// this spec was distilled from kept as module-level globals: the derived
// id replacement map, the recorded library database path, and the
// operator's "always yes" overwrite choice (§9 Design Notes). Here they
// live in one struct threaded explicitly through the passes instead.
package runctx

import "sync"

// Confirm records the operator's answer to an overwrite prompt.
type Confirm int

const (
	// ConfirmAsk means no standing answer has been recorded yet; the
	// dispatcher must prompt.
	ConfirmAsk Confirm = iota
	ConfirmAlwaysYes
	ConfirmAlwaysNo
)

// Context carries the process-wide state a migration run needs across
// its three passes. It has no package-level singleton; callers construct
// one per run and pass it down explicitly.
type Context struct {
	// LibraryDBPath is the resolved path to the target library database,
	// recorded when pass 1 dispatches library.db and consumed by id
	// derivation and date reconciliation, which re-open it.
	LibraryDBPath string

	// IDsByVariant holds the derived id replacement map, one sub-map per
	// idcodec.Variant, keyed by the old encoded value.
	IDsByVariant map[string]map[string]string

	mu      sync.Mutex
	confirm Confirm
}

// New builds an empty Context.
func New() *Context {
	return &Context{IDsByVariant: make(map[string]map[string]string)}
}

// Confirm returns the currently recorded overwrite choice.
func (c *Context) Confirm() Confirm {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.confirm
}

// SetConfirm records an overwrite choice so later prompts in the same run
// can be skipped.
func (c *Context) SetConfirm(v Confirm) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirm = v
}

// Lookup returns the replacement for old under the given variant, if the
// derivation pass produced one.
func (c *Context) Lookup(variant, old string) (string, bool) {
	m, ok := c.IDsByVariant[variant]
	if !ok {
		return "", false
	}
	v, ok := m[old]
	return v, ok
}

// SetVariant installs the full replacement map for one variant, as
// produced by the derivation pass.
func (c *Context) SetVariant(variant string, replacements map[string]string) {
	c.IDsByVariant[variant] = replacements
}

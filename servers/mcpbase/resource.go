package mcpbase

import (
	"context"
	"errors"
	"fmt"

	"github.com/ravikant1918/mcpbase-server"
	"github.com/ravikant1918/mcpbase-server/kvstore"
)

// KVScheme is the URI scheme of the key-value namespace.
const KVScheme = "kv"

// KVNamespace exposes a kvstore.Store as the kv://<key> resource namespace.
type KVNamespace struct {
	store *kvstore.Store
}

// NewKVNamespace creates a namespace backed by store.
func NewKVNamespace(store *kvstore.Store) *KVNamespace {
	return &KVNamespace{store: store}
}

// Scheme implements mcp.ResourceNamespace.
func (n *KVNamespace) Scheme() string { return KVScheme }

// Description implements mcp.ResourceNamespace.
func (n *KVNamespace) Description() string {
	return "In-memory key-value store with get/set/list operations"
}

// Read implements mcp.ResourceNamespace.
func (n *KVNamespace) Read(_ context.Context, key string) (mcp.ResourceEntry, bool, error) {
	e, ok := n.store.Get(key)
	if !ok {
		return mcp.ResourceEntry{}, false, nil
	}
	return toResourceEntry(e), true, nil
}

// Write implements mcp.ResourceNamespace. A value that cannot be serialized is reported
// as invalid params.
func (n *KVNamespace) Write(_ context.Context, key string, value any) (mcp.ResourceEntry, bool, error) {
	prev, existed, err := n.store.Set(key, value)
	if err != nil {
		if errors.Is(err, kvstore.ErrSerialization) {
			return mcp.ResourceEntry{}, false, fmt.Errorf("%w: %w", mcp.ErrInvalidParams, err)
		}
		return mcp.ResourceEntry{}, false, err
	}
	if !existed {
		return mcp.ResourceEntry{}, false, nil
	}
	return toResourceEntry(prev), true, nil
}

// Delete implements mcp.ResourceNamespace.
func (n *KVNamespace) Delete(_ context.Context, key string) (bool, error) {
	return n.store.Delete(key), nil
}

// List implements mcp.ResourceNamespace.
func (n *KVNamespace) List(_ context.Context) ([]mcp.ResourceEntry, error) {
	snapshot := n.store.Snapshot()
	entries := make([]mcp.ResourceEntry, 0, len(snapshot))
	for _, e := range snapshot {
		entries = append(entries, toResourceEntry(e))
	}
	return entries, nil
}

func toResourceEntry(e kvstore.Entry) mcp.ResourceEntry {
	return mcp.ResourceEntry{Key: e.Key, Value: e.Value, UpdatedAt: e.UpdatedAt}
}

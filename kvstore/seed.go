package kvstore

import (
	"fmt"
	"time"
)

// Seed writes the initial demo entries into store. The config entry carries the server
// name and version.
func Seed(store *Store, serverName, serverVersion string) error {
	seed := []struct {
		key   string
		value any
	}{
		{"example_key", "example_value"},
		{"server_started", time.Now().UTC().Format(time.RFC3339Nano)},
		{"counter", 0},
		{"config", map[string]any{
			"server_name": serverName,
			"version":     serverVersion,
		}},
	}

	for _, e := range seed {
		if _, _, err := store.Set(e.key, e.value); err != nil {
			return fmt.Errorf("seeding %s: %w", e.key, err)
		}
	}
	return nil
}

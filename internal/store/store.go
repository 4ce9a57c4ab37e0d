// Package store implements the session store: a key/value mapping owned by
// one runtime instance, surviving across sequential executions on that
// instance. Values must be JSON-serializable.
//
// Three backends are provided: in-memory (default, zero-config), SQLite
// (persistent single-node sessions), and PostgreSQL (shared/durable
// sessions). Two distinct store instances never observe each other's
// contents: persistent backends scope every row by session ID.
package store

import "context"

// Store is the session store interface the runtime binds into scripts.
// Implementations must be safe for concurrent use; mapped callback
// invocations may read and write the store in parallel.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (any, bool, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value any) error

	// Append appends value to the list stored under key. A missing key
	// becomes a single-element list; a non-list value is promoted to a
	// list retaining the old value as its first element.
	Append(ctx context.Context, key string, value any) error

	// Keys returns all keys in insertion order.
	Keys(ctx context.Context) ([]string, error)

	// All returns a snapshot of the full mapping.
	All(ctx context.Context) (map[string]any, error)

	// Clear removes all entries. Called only by explicit runtime teardown,
	// never automatically.
	Clear(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

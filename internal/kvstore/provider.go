// Package kvstore defines the durable key-value storage abstraction.
package kvstore

// Provider is the interface for durable record storage. Values are opaque
// JSON-shaped blobs addressed by string keys.
type Provider interface {
	// Get returns the value stored under key, or apperr.ErrNotFound.
	Get(key string) ([]byte, error)
	// Put durably stores value under key, replacing any previous value.
	Put(key string, value []byte) error
	// Delete removes the value stored under key. Missing keys are not an error.
	Delete(key string) error
	// Keys returns every stored key with the given prefix.
	Keys(prefix string) ([]string, error)
	// Close releases the underlying resources.
	Close() error
}

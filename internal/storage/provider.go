// Package storage persists small client-side values (the session token)
// across process restarts.
package storage

// Well-known keys.
const (
	KeyToken = "token"
)

// Provider is the interface for durable key/value client storage.
type Provider interface {
	// Get returns the value stored under key, or apperr.ErrNotFound.
	Get(key string) (string, error)
	// Set durably stores value under key, replacing any previous value.
	Set(key, value string) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(key string) error
	// Close releases any underlying resources.
	Close() error
}

// Drivers.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

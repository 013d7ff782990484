package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotInteger is returned when a value cannot be parsed as a 64 bit base-10 integer
	ErrNotInteger = errors.New("value is not an integer or out of range")
	// ErrOverflow is returned when an increment would leave the int64 range
	ErrOverflow = errors.New("increment or decrement would overflow")
)

type ExpiryStatus int

const (
	// ExpNotFound means that the key does not exist
	ExpNotFound ExpiryStatus = -2
	// ExpNoTimeout means that the key exists, but it does not have a TTL
	ExpNoTimeout ExpiryStatus = -1
	// ExpActive means that the key has an active lifetime
	ExpActive ExpiryStatus = 1
)

type SetOptions struct {
	TTL      time.Duration // key lifetime, relative to now
	ExpireAt time.Time     // absolute deadline, wins over TTL when set
	KeepTTL  bool          // if true, retain the existing TTL (ignore TTL field)
	NX       bool          // only set if the key does not exist
	XX       bool          // only set if the key already exists
}

// Stats is a point in time view of the keyspace counters
type Stats struct {
	Keys          int    // stored keys, including expired ones not yet reclaimed
	Volatile      int    // keys with a TTL
	ExpiredLazy   uint64 // keys reclaimed on access
	ExpiredActive uint64 // keys reclaimed by sweeps
}

// Storage is a common interface for working with the keyspace.
// Every method is atomic: it observes and leaves the keyspace in a consistent state
type Storage interface {
	// Get returns the value and true if the key is found. Otherwise, "", false
	Get(key string) (string, bool)

	// Set writes the value based on the options. Returns true if recording has been performed
	Set(key, value string, options SetOptions) bool

	// Delete deletes the keys. Returns the number of keys that existed and were deleted
	Delete(keys ...string) int64

	// ExistsCount returns how many of the keys exist. Repeated keys are counted every time
	ExistsCount(keys ...string) int64

	// MGet returns one element per key in order, nil for missing keys
	MGet(keys ...string) []*string

	// IncrBy adds delta to the integer stored at key, treating a missing key as 0.
	// The TTL of the key is kept
	IncrBy(key string, delta int64) (int64, error)

	// Expire sets the key lifetime. A non-positive ttl deletes the key.
	// Returns 1 if the key exists, 0 otherwise
	Expire(key string, ttl time.Duration) int64

	// Expiry returns the remaining lifetime and status as ExpiryStatus
	Expiry(key string) (time.Duration, ExpiryStatus)

	// Persist removes the expiration date of the key, making it eternal.
	// Returns 1 if successful, 0 if the key was not found or had no TTL
	Persist(key string) int64

	// Keys returns the live keys matching a glob pattern in lexicographic order
	Keys(pattern string) []string

	// FlushAll removes every key
	FlushAll()

	// Len returns the number of stored keys
	Len() int

	// SweepExpired removes every key whose deadline is at or before now.
	// Returns the number of removed keys
	SweepExpired(now time.Time) int

	// DeleteExpired checks up to limit keys with a TTL and deletes the expired ones.
	// Returns the ratio of expired to checked keys
	DeleteExpired(limit int) float64

	// Stats returns the keyspace counters
	Stats() Stats
}

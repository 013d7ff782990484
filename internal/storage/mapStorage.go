package storage

import (
	"math"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MapStorage is a thread-safe key-value storage.
// A single mutex serializes every operation, expiry sweeps included
type MapStorage struct {
	data    map[string]string // key - value
	expires map[string]int64  // key - expires time nanoseconds
	mu      sync.Mutex
	now     func() time.Time

	expiredLazy   uint64
	expiredActive uint64
}

// Option configures a MapStorage
type Option func(*MapStorage)

// WithClock replaces time.Now as the source of the current time
func WithClock(now func() time.Time) Option {
	return func(m *MapStorage) {
		m.now = now
	}
}

// NewMapStorage creates a new instance of MapStorage.
func NewMapStorage(opts ...Option) *MapStorage {
	m := &MapStorage{
		data:    make(map[string]string),
		expires: make(map[string]int64),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// expired is the single liveness rule shared by lazy checks and sweeps
func expired(expireAt, now int64) bool {
	return expireAt <= now
}

// deadline returns now+ttl in nanoseconds, saturating instead of wrapping
func deadline(now int64, ttl time.Duration) int64 {
	if int64(ttl) > math.MaxInt64-now {
		return math.MaxInt64
	}
	return now + int64(ttl)
}

func (m *MapStorage) nowNano() int64 {
	return m.now().UnixNano()
}

// lookup returns the live value of key, removing it first if it has expired. Caller holds mu
func (m *MapStorage) lookup(key string, now int64) (string, bool) {
	if exp, hasExp := m.expires[key]; hasExp && expired(exp, now) {
		m.remove(key)
		m.expiredLazy++
		return "", false
	}

	val, ok := m.data[key]
	return val, ok
}

func (m *MapStorage) remove(key string) {
	delete(m.data, key)
	delete(m.expires, key)
}

// Get returns the value and true if the key is found. Otherwise, "", false
func (m *MapStorage) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lookup(key, m.nowNano())
}

// Set writes the value based on the options. Returns true if recording has been performed
func (m *MapStorage) Set(key, value string, options SetOptions) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowNano()
	_, exists := m.lookup(key, now)

	if options.NX && exists {
		return false
	}

	if options.XX && !exists {
		return false
	}

	m.data[key] = value

	switch {
	case options.KeepTTL:
		// existing TTL stays; an expired or missing key was already cleaned by lookup
	case !options.ExpireAt.IsZero():
		m.expires[key] = options.ExpireAt.UnixNano()
	case options.TTL > 0:
		m.expires[key] = deadline(now, options.TTL)
	default:
		// no TTL provided (and not KEEPTTL), so we remove any existing expiration (persist)
		delete(m.expires, key)
	}

	// a deadline in the past still counts as a write, the key just does not survive it
	if exp, hasExp := m.expires[key]; hasExp && expired(exp, now) {
		m.remove(key)
	}

	return true
}

// Delete deletes the keys. Returns the number of keys that existed and were deleted
func (m *MapStorage) Delete(keys ...string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowNano()
	var deleted int64
	for _, key := range keys {
		if _, ok := m.lookup(key, now); ok {
			m.remove(key)
			deleted++
		}
	}
	return deleted
}

// ExistsCount returns how many of the keys exist. Repeated keys are counted every time
func (m *MapStorage) ExistsCount(keys ...string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowNano()
	var count int64
	for _, key := range keys {
		if _, ok := m.lookup(key, now); ok {
			count++
		}
	}
	return count
}

// MGet returns one element per key in order, nil for missing keys
func (m *MapStorage) MGet(keys ...string) []*string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowNano()
	values := make([]*string, len(keys))
	for i, key := range keys {
		if val, ok := m.lookup(key, now); ok {
			values[i] = &val
		}
	}
	return values
}

// IncrBy adds delta to the integer stored at key, treating a missing key as 0.
// On error the stored value is left untouched. The TTL of the key is kept
func (m *MapStorage) IncrBy(key string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := int64(0)
	if val, ok := m.lookup(key, m.nowNano()); ok {
		n, err := ParseInteger(val)
		if err != nil {
			return 0, err
		}
		current = n
	}

	if (delta > 0 && current > math.MaxInt64-delta) || (delta < 0 && current < math.MinInt64-delta) {
		return 0, ErrOverflow
	}

	current += delta
	m.data[key] = strconv.FormatInt(current, 10)

	return current, nil
}

// Expire sets the key lifetime. A non-positive ttl deletes the key at once.
// Returns 1 if the key exists, 0 otherwise
func (m *MapStorage) Expire(key string, ttl time.Duration) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowNano()
	if _, ok := m.lookup(key, now); !ok {
		return 0
	}

	if ttl <= 0 {
		m.remove(key)
		return 1
	}

	m.expires[key] = deadline(now, ttl)
	return 1
}

// Expiry returns the remaining lifetime and status as expiryStatus
func (m *MapStorage) Expiry(key string) (time.Duration, ExpiryStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowNano()

	// key does not exist
	if _, ok := m.lookup(key, now); !ok {
		return 0, ExpNotFound
	}

	// key without TTL
	exp, hasExp := m.expires[key]
	if !hasExp {
		return 0, ExpNoTimeout
	}

	return time.Duration(exp - now), ExpActive
}

// Persist removes the expiration date of the key, making it eternal.
// Returns 1 if successful, 0 if the key was not found or had no TTL
func (m *MapStorage) Persist(key string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.lookup(key, m.nowNano()); !ok {
		return 0
	}

	if _, hasExp := m.expires[key]; !hasExp {
		return 0
	}

	delete(m.expires, key)
	return 1
}

// Keys returns the live keys matching a glob pattern in lexicographic order.
// It walks the whole keyspace while holding the lock
func (m *MapStorage) Keys(pattern string) []string {
	match := compilePattern(pattern)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowNano()
	keys := make([]string, 0)
	for key := range m.data {
		if _, ok := m.lookup(key, now); !ok {
			continue
		}
		if match(key) {
			keys = append(keys, key)
		}
	}

	sort.Strings(keys)
	return keys
}

// FlushAll removes every key
func (m *MapStorage) FlushAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data = make(map[string]string)
	m.expires = make(map[string]int64)
}

// Len returns the number of stored keys. Expired keys that were not reclaimed yet are included
func (m *MapStorage) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.data)
}

// SweepExpired removes every key whose deadline is at or before now
func (m *MapStorage) SweepExpired(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := now.UnixNano()
	removed := 0
	for key, exp := range m.expires {
		if expired(exp, ts) {
			m.remove(key)
			removed++
		}
	}

	m.expiredActive += uint64(removed)
	return removed
}

// DeleteExpired randomly selects up to limit keys with a TTL and delete if his TTL has expired
func (m *MapStorage) DeleteExpired(limit int) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.expires) == 0 || limit <= 0 {
		return 0.0
	}

	checked := 0
	removed := 0
	now := m.nowNano()

	// go map iteration is randomized by design
	for key, exp := range m.expires {
		checked++
		if expired(exp, now) {
			m.remove(key)
			removed++
		}

		if checked >= limit {
			break
		}
	}

	m.expiredActive += uint64(removed)
	return float64(removed) / float64(checked)
}

// Stats returns the keyspace counters
func (m *MapStorage) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		Keys:          len(m.data),
		Volatile:      len(m.expires),
		ExpiredLazy:   m.expiredLazy,
		ExpiredActive: m.expiredActive,
	}
}

// ParseInteger parses a base-10 signed 64 bit integer: an optional leading '-'
// followed by digits, nothing else
func ParseInteger(s string) (int64, error) {
	if s == "" || s[0] == '+' {
		return 0, ErrNotInteger
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, ErrNotInteger
	}
	return n, nil
}

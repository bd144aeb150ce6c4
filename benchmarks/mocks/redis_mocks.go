package mocks

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"gitlab.com/timkado/api/doc-translate-service/internal/domain"
)

// ErrStoreDown is returned by MockCacheStore while Fail is set.
var ErrStoreDown = errors.New("mock store: connection refused")

type entry struct {
	value     []byte
	hash      map[string]string
	set       map[string]struct{}
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MockCacheStore implements domain.CacheStore in memory.
type MockCacheStore struct {
	mu   sync.Mutex
	data map[string]*entry
	now  func() time.Time

	fail atomic.Bool

	// Calls counts every operation that reached the store, failed or not.
	Calls int64
}

// NewMockCacheStore creates an empty store.
func NewMockCacheStore() *MockCacheStore {
	return &MockCacheStore{data: make(map[string]*entry), now: time.Now}
}

// SetFail makes every subsequent call return ErrStoreDown until cleared.
func (m *MockCacheStore) SetFail(fail bool) {
	m.fail.Store(fail)
}

// CallCount returns the number of calls that reached the store.
func (m *MockCacheStore) CallCount() int64 {
	return atomic.LoadInt64(&m.Calls)
}

// TTL returns the remaining ttl of key, or 0 when the key has none or is absent.
func (m *MockCacheStore) TTL(key string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[key]
	if !ok || e.expiresAt.IsZero() {
		return 0
	}
	return e.expiresAt.Sub(m.now())
}

// Exists reports whether key is present and not expired.
func (m *MockCacheStore) Exists(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookup(key) != nil
}

func (m *MockCacheStore) enter() error {
	atomic.AddInt64(&m.Calls, 1)
	if m.fail.Load() {
		return ErrStoreDown
	}
	return nil
}

func (m *MockCacheStore) lookup(key string) *entry {
	e, ok := m.data[key]
	if !ok {
		return nil
	}
	if e.expired(m.now()) {
		delete(m.data, key)
		return nil
	}
	return e
}

func (m *MockCacheStore) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

func (m *MockCacheStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := m.enter(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.lookup(key)
	if e == nil || e.value == nil {
		return nil, domain.ErrCacheMiss
	}
	return append([]byte(nil), e.value...), nil
}

func (m *MockCacheStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := m.enter(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = &entry{value: append([]byte(nil), value...), expiresAt: m.deadline(ttl)}
	return nil
}

func (m *MockCacheStore) Del(ctx context.Context, keys ...string) (int64, error) {
	if err := m.enter(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, k := range keys {
		if m.lookup(k) != nil {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func (m *MockCacheStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if err := m.enter(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.lookup(key)
	if e == nil || len(e.hash) == 0 {
		return nil, domain.ErrCacheMiss
	}
	out := make(map[string]string, len(e.hash))
	for k, v := range e.hash {
		out[k] = v
	}
	return out, nil
}

func (m *MockCacheStore) HSet(ctx context.Context, key, field, value string) error {
	return m.HMSet(ctx, key, map[string]string{field: value}, -1)
}

func (m *MockCacheStore) HMSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	if err := m.enter(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.lookup(key)
	if e == nil {
		e = &entry{}
		m.data[key] = e
	}
	if e.hash == nil {
		e.hash = make(map[string]string, len(fields))
	}
	for k, v := range fields {
		e.hash[k] = v
	}
	if ttl >= 0 {
		e.expiresAt = m.deadline(ttl)
	}
	return nil
}

func (m *MockCacheStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := m.enter(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.lookup(key); e != nil {
		e.expiresAt = m.deadline(ttl)
	}
	return nil
}

func (m *MockCacheStore) SAdd(ctx context.Context, key string, members ...string) error {
	if err := m.enter(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.lookup(key)
	if e == nil {
		e = &entry{}
		m.data[key] = e
	}
	if e.set == nil {
		e.set = make(map[string]struct{})
	}
	for _, member := range members {
		e.set[member] = struct{}{}
	}
	return nil
}

func (m *MockCacheStore) SMembers(ctx context.Context, key string) ([]string, error) {
	if err := m.enter(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.lookup(key)
	if e == nil {
		return []string{}, nil
	}
	out := make([]string, 0, len(e.set))
	for member := range e.set {
		out = append(out, member)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MockCacheStore) Ping(ctx context.Context) error {
	return m.enter()
}

type lockEntry struct {
	value     string
	expiresAt time.Time
}

// MockLockManager implements domain.LockManager in memory.
type MockLockManager struct {
	mu    sync.Mutex
	locks map[string]lockEntry
	now   func() time.Time
	fail  atomic.Bool

	// Metrics for benchmarking and assertions
	LockAttempts     int64
	LockSuccesses    int64
	ReleaseAttempts  int64
	ReleaseSuccesses int64
	releases         map[string]int
}

// NewMockLockManager creates a new mock lock manager.
func NewMockLockManager() *MockLockManager {
	return &MockLockManager{
		locks:    make(map[string]lockEntry),
		releases: make(map[string]int),
		now:      time.Now,
	}
}

// SetFail makes every call return ErrStoreDown until cleared.
func (m *MockLockManager) SetFail(fail bool) {
	m.fail.Store(fail)
}

// Held reports whether key is currently locked.
func (m *MockLockManager) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.locks[key]
	return ok && m.now().Before(e.expiresAt)
}

// Releases returns how many releases actually removed key.
func (m *MockLockManager) Releases(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releases[key]
}

// Expire drops key as if its ttl elapsed.
func (m *MockLockManager) Expire(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, key)
}

func (m *MockLockManager) AcquireLock(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	atomic.AddInt64(&m.LockAttempts, 1)
	if m.fail.Load() {
		return false, ErrStoreDown
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if e, ok := m.locks[key]; ok && now.Before(e.expiresAt) {
		return false, nil
	}
	m.locks[key] = lockEntry{value: value, expiresAt: now.Add(ttl)}
	atomic.AddInt64(&m.LockSuccesses, 1)
	return true, nil
}

func (m *MockLockManager) ReleaseLock(ctx context.Context, key string) (bool, error) {
	atomic.AddInt64(&m.ReleaseAttempts, 1)
	if m.fail.Load() {
		return false, ErrStoreDown
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.locks[key]
	if !ok || !m.now().Before(e.expiresAt) {
		delete(m.locks, key)
		return false, nil
	}
	delete(m.locks, key)
	m.releases[key]++
	atomic.AddInt64(&m.ReleaseSuccesses, 1)
	return true, nil
}

func (m *MockLockManager) ReleaseLockIfOwner(ctx context.Context, key, value string) (bool, error) {
	atomic.AddInt64(&m.ReleaseAttempts, 1)
	if m.fail.Load() {
		return false, ErrStoreDown
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.locks[key]
	if !ok || e.value != value || !m.now().Before(e.expiresAt) {
		return false, nil
	}
	delete(m.locks, key)
	m.releases[key]++
	atomic.AddInt64(&m.ReleaseSuccesses, 1)
	return true, nil
}

func (m *MockLockManager) RefreshLock(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if m.fail.Load() {
		return false, ErrStoreDown
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.locks[key]
	if !ok || e.value != value || !m.now().Before(e.expiresAt) {
		return false, nil
	}
	e.expiresAt = m.now().Add(ttl)
	m.locks[key] = e
	return true, nil
}

// MockConnectionState implements domain.ConnectionState.
type MockConnectionState struct {
	down atomic.Bool
}

// SetUp flips the reported connection state.
func (m *MockConnectionState) SetUp(up bool) {
	m.down.Store(!up)
}

func (m *MockConnectionState) IsUp() bool {
	return !m.down.Load()
}

// MockWorkerRegistry implements domain.WorkerRegistry.
type MockWorkerRegistry struct {
	mu      sync.Mutex
	workers map[string]map[string]time.Time
	Err     error
}

// NewMockWorkerRegistry creates an empty registry.
func NewMockWorkerRegistry() *MockWorkerRegistry {
	return &MockWorkerRegistry{workers: make(map[string]map[string]time.Time)}
}

func (m *MockWorkerRegistry) Heartbeat(ctx context.Context, queue, workerID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.workers[queue] == nil {
		m.workers[queue] = make(map[string]time.Time)
	}
	m.workers[queue][workerID] = time.Now()
	return nil
}

func (m *MockWorkerRegistry) Unregister(ctx context.Context, queue, workerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.workers[queue], workerID)
	return nil
}

func (m *MockWorkerRegistry) HasActiveWorkers(ctx context.Context, queue string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	return len(m.workers[queue]) > 0, nil
}

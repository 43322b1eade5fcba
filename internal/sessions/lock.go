// Package sessions provides per-conversation mutual exclusion. Every
// externally invoked use case holds its conversation's lock for the whole
// flow, so turns within one conversation are strictly serialized while
// different conversations proceed in parallel.
package sessions

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrLockTimeout is returned when acquiring a lock times out.
	ErrLockTimeout = errors.New("sessions: lock acquisition timeout")
)

// DefaultMaxEntries is the soft cap on tracked lock entries; unheld locks
// beyond it are evicted by the cleanup pass.
const DefaultMaxEntries = 10000

// conversationLock serializes use-case invocations for one conversation.
// Waiters are queued in arrival order and ownership is handed to the head
// waiter on release, which gives strict FIFO within a conversation.
type conversationLock struct {
	mu       sync.Mutex
	locked   bool
	holder   string
	acquired time.Time
	waiters  []chan struct{}
	// evicted marks an entry removed from the manager's map. A caller that
	// looked the entry up before the eviction must discard it and retry, or
	// two goroutines could hold "the" conversation lock through different
	// entries.
	evicted bool
}

// LockManager manages per-conversation locks. Locks are created lazily on
// first use. Safe for concurrent use.
type LockManager struct {
	mu         sync.Mutex
	locks      map[string]*conversationLock
	defaultTTL time.Duration
	maxEntries int
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewLockManager creates a lock manager with the given default acquisition
// timeout and starts the background cleanup loop.
func NewLockManager(defaultTTL time.Duration) *LockManager {
	if defaultTTL <= 0 {
		defaultTTL = 30 * time.Second
	}

	mgr := &LockManager{
		locks:      make(map[string]*conversationLock),
		defaultTTL: defaultTTL,
		maxEntries: DefaultMaxEntries,
		stop:       make(chan struct{}),
	}

	go mgr.cleanupLoop()

	return mgr
}

// Acquire takes the exclusive lock for the conversation, waiting up to
// timeout (the manager default when zero). Returns a release function that
// must be called when the use case completes.
func (m *LockManager) Acquire(ctx context.Context, conversationID, holder string, timeout time.Duration) (func(), error) {
	if timeout <= 0 {
		timeout = m.defaultTTL
	}

	lock := m.lockFor(conversationID)

	if !lock.locked {
		lock.locked = true
		lock.holder = holder
		lock.acquired = time.Now()
		lock.mu.Unlock()
		return m.releaseFunc(lock), nil
	}

	// Queue behind the current holder in arrival order.
	ticket := make(chan struct{}, 1)
	lock.waiters = append(lock.waiters, ticket)
	lock.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ticket:
		// Ownership was handed over by the previous holder's release.
		lock.mu.Lock()
		lock.holder = holder
		lock.acquired = time.Now()
		lock.mu.Unlock()
		return m.releaseFunc(lock), nil

	case <-timer.C:
		m.abandon(lock, ticket)
		return nil, ErrLockTimeout

	case <-ctx.Done():
		m.abandon(lock, ticket)
		return nil, ctx.Err()
	}
}

// TryAcquire takes the lock without waiting. Returns false if it is held.
func (m *LockManager) TryAcquire(conversationID, holder string) (func(), bool) {
	lock := m.lockFor(conversationID)

	defer lock.mu.Unlock()
	if lock.locked {
		return nil, false
	}
	lock.locked = true
	lock.holder = holder
	lock.acquired = time.Now()
	return m.releaseFunc(lock), true
}

// IsLocked reports whether the conversation's lock is currently held.
func (m *LockManager) IsLocked(conversationID string) bool {
	m.mu.Lock()
	lock, ok := m.locks[conversationID]
	m.mu.Unlock()
	if !ok {
		return false
	}

	lock.mu.Lock()
	defer lock.mu.Unlock()
	return lock.locked
}

// HolderInfo returns the current lock holder and acquisition time.
func (m *LockManager) HolderInfo(conversationID string) (holder string, since time.Time, locked bool) {
	m.mu.Lock()
	lock, ok := m.locks[conversationID]
	m.mu.Unlock()
	if !ok {
		return "", time.Time{}, false
	}

	lock.mu.Lock()
	defer lock.mu.Unlock()
	return lock.holder, lock.acquired, lock.locked
}

// Close stops the background cleanup loop.
func (m *LockManager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// lockFor returns the live entry for the conversation with its mutex held.
// An entry evicted by Cleanup between the map lookup and the mutex
// acquisition is discarded and the lookup retried.
func (m *LockManager) lockFor(conversationID string) *conversationLock {
	for {
		m.mu.Lock()
		lock, ok := m.locks[conversationID]
		if !ok {
			lock = &conversationLock{}
			m.locks[conversationID] = lock
		}
		m.mu.Unlock()

		lock.mu.Lock()
		if !lock.evicted {
			return lock
		}
		lock.mu.Unlock()
	}
}

func (m *LockManager) releaseFunc(lock *conversationLock) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			lock.mu.Lock()
			defer lock.mu.Unlock()
			m.handOff(lock)
		})
	}
}

// handOff passes ownership to the head waiter, or unlocks when none remain.
// Caller holds lock.mu.
func (m *LockManager) handOff(lock *conversationLock) {
	if len(lock.waiters) > 0 {
		next := lock.waiters[0]
		lock.waiters = lock.waiters[1:]
		lock.holder = ""
		next <- struct{}{}
		return
	}
	lock.locked = false
	lock.holder = ""
}

// abandon removes a waiter that timed out or was cancelled. If the hand-off
// raced the abandonment, ownership is passed straight to the next waiter.
func (m *LockManager) abandon(lock *conversationLock, ticket chan struct{}) {
	lock.mu.Lock()
	defer lock.mu.Unlock()

	for i, w := range lock.waiters {
		if w == ticket {
			lock.waiters = append(lock.waiters[:i], lock.waiters[i+1:]...)
			return
		}
	}

	// Not in the queue: the release already handed us the lock.
	select {
	case <-ticket:
		m.handOff(lock)
	default:
	}
}

// cleanupLoop periodically evicts unheld lock entries past the soft cap.
func (m *LockManager) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Cleanup()
		case <-m.stop:
			return
		}
	}
}

// Cleanup removes unheld, waiter-free lock entries while the map exceeds the
// soft cap. Also callable from a scheduled job.
func (m *LockManager) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.locks) <= m.maxEntries {
		return 0
	}

	removed := 0
	for id, lock := range m.locks {
		if len(m.locks)-removed <= m.maxEntries {
			break
		}
		lock.mu.Lock()
		if !lock.locked && len(lock.waiters) == 0 {
			lock.evicted = true
			delete(m.locks, id)
			removed++
		}
		lock.mu.Unlock()
	}
	return removed
}

// Len returns the number of tracked lock entries.
func (m *LockManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

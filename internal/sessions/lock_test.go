package sessions

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAcquireRelease(t *testing.T) {
	mgr := NewLockManager(time.Second)
	defer mgr.Close()

	release, err := mgr.Acquire(context.Background(), "conv-1", "worker-1", 0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !mgr.IsLocked("conv-1") {
		t.Fatal("lock should be held")
	}
	release()
	if mgr.IsLocked("conv-1") {
		t.Fatal("lock should be released")
	}
}

func TestAcquireTimeout(t *testing.T) {
	mgr := NewLockManager(time.Second)
	defer mgr.Close()

	release, err := mgr.Acquire(context.Background(), "conv-1", "holder", 0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	_, err = mgr.Acquire(context.Background(), "conv-1", "waiter", 20*time.Millisecond)
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("err = %v, want ErrLockTimeout", err)
	}
}

func TestAcquireContextCancelled(t *testing.T) {
	mgr := NewLockManager(time.Second)
	defer mgr.Close()

	release, _ := mgr.Acquire(context.Background(), "conv-1", "holder", 0)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := mgr.Acquire(ctx, "conv-1", "waiter", time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestFIFOWithinConversation(t *testing.T) {
	mgr := NewLockManager(time.Second)
	defer mgr.Close()

	release, err := mgr.Acquire(context.Background(), "conv-1", "holder", 0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	const waiters = 5
	var mu sync.Mutex
	var order []int
	started := make(chan struct{}, waiters)
	done := make(chan struct{}, waiters)

	for i := 0; i < waiters; i++ {
		i := i
		go func() {
			started <- struct{}{}
			rel, err := mgr.Acquire(context.Background(), "conv-1", "waiter", time.Minute)
			if err != nil {
				t.Errorf("waiter %d: %v", i, err)
				done <- struct{}{}
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			rel()
			done <- struct{}{}
		}()
		// Force arrival order: wait until the goroutine has started, then give
		// it time to enqueue before launching the next.
		<-started
		time.Sleep(10 * time.Millisecond)
	}

	release()
	for i := 0; i < waiters; i++ {
		<-done
	}

	mu.Lock()
	defer mu.Unlock()
	for i := 0; i < waiters; i++ {
		if order[i] != i {
			t.Fatalf("acquisition order = %v, want FIFO", order)
		}
	}
}

func TestIndependentConversationsParallel(t *testing.T) {
	mgr := NewLockManager(time.Second)
	defer mgr.Close()

	r1, err := mgr.Acquire(context.Background(), "conv-1", "a", 0)
	if err != nil {
		t.Fatalf("acquire conv-1: %v", err)
	}
	defer r1()

	r2, err := mgr.Acquire(context.Background(), "conv-2", "b", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("conv-2 should not block on conv-1: %v", err)
	}
	defer r2()
}

func TestTryAcquire(t *testing.T) {
	mgr := NewLockManager(time.Second)
	defer mgr.Close()

	release, ok := mgr.TryAcquire("conv-1", "a")
	if !ok {
		t.Fatal("first try-acquire should succeed")
	}
	if _, ok := mgr.TryAcquire("conv-1", "b"); ok {
		t.Fatal("second try-acquire should fail while held")
	}
	release()
	if _, ok := mgr.TryAcquire("conv-1", "b"); !ok {
		t.Fatal("try-acquire should succeed after release")
	}
}

func TestCleanupEvictsIdleLocks(t *testing.T) {
	mgr := NewLockManager(time.Second)
	defer mgr.Close()
	mgr.maxEntries = 3

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		release, _ := mgr.Acquire(context.Background(), id, "w", 0)
		release()
	}
	held, _ := mgr.Acquire(context.Background(), "held", "w", 0)
	defer held()

	mgr.Cleanup()
	if mgr.Len() > 3 {
		t.Fatalf("entries after cleanup = %d, want <= 3", mgr.Len())
	}
	if !mgr.IsLocked("held") {
		t.Fatal("held lock must survive cleanup")
	}
}

func TestEvictedEntryIsDiscardedOnLookup(t *testing.T) {
	mgr := NewLockManager(time.Second)
	defer mgr.Close()
	mgr.maxEntries = 0

	release, _ := mgr.Acquire(context.Background(), "conv-1", "w", 0)
	release()

	mgr.mu.Lock()
	stale := mgr.locks["conv-1"]
	mgr.mu.Unlock()

	if removed := mgr.Cleanup(); removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	// A goroutine that fetched the entry before the eviction observes the
	// mark instead of locking through a dead entry.
	stale.mu.Lock()
	evicted := stale.evicted
	stale.mu.Unlock()
	if !evicted {
		t.Fatal("evicted entry not marked")
	}

	held, err := mgr.Acquire(context.Background(), "conv-1", "first", 0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer held()
	if _, ok := mgr.TryAcquire("conv-1", "second"); ok {
		t.Fatal("lock held twice for one conversation")
	}
}

func TestCleanupKeepsMutualExclusion(t *testing.T) {
	mgr := NewLockManager(time.Second)
	defer mgr.Close()
	// Every idle entry is evictable, so acquisitions constantly race the
	// cleanup pass.
	mgr.maxEntries = 0

	stop := make(chan struct{})
	var cleaner sync.WaitGroup
	cleaner.Add(1)
	go func() {
		defer cleaner.Done()
		for {
			select {
			case <-stop:
				return
			default:
				mgr.Cleanup()
			}
		}
	}()

	var holders int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				release, err := mgr.Acquire(context.Background(), "conv-1", "worker", time.Minute)
				if err != nil {
					t.Errorf("acquire: %v", err)
					return
				}
				if n := atomic.AddInt32(&holders, 1); n != 1 {
					t.Errorf("concurrent holders = %d", n)
				}
				atomic.AddInt32(&holders, -1)
				release()
			}
		}()
	}
	wg.Wait()
	close(stop)
	cleaner.Wait()
}

func TestReleaseIdempotent(t *testing.T) {
	mgr := NewLockManager(time.Second)
	defer mgr.Close()

	release, _ := mgr.Acquire(context.Background(), "conv-1", "a", 0)
	release()
	release() // second call is a no-op

	if mgr.IsLocked("conv-1") {
		t.Fatal("lock should remain released")
	}
}

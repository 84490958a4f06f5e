package latch

import (
	"sync"
	"testing"
	"time"
)

func TestTryAcquireExclusive(t *testing.T) {
	l := New()
	if !l.TryAcquireExclusive() {
		t.Fatal("expected first exclusive try to succeed")
	}
	if l.TryAcquireExclusive() {
		t.Fatal("expected second exclusive try to fail while held")
	}
	l.ReleaseExclusive()
	if !l.TryAcquireExclusive() {
		t.Fatal("expected exclusive try to succeed after release")
	}
}

func TestMultipleSharedHolders(t *testing.T) {
	l := New()
	for i := 0; i < 5; i++ {
		if !l.TryAcquireShared() {
			t.Fatalf("shared acquire %d failed", i)
		}
	}
	if l.TryAcquireExclusive() {
		t.Fatal("exclusive try should fail while shared held")
	}
	for i := 0; i < 5; i++ {
		l.ReleaseShared()
	}
	if !l.TryAcquireExclusive() {
		t.Fatal("exclusive should succeed once all shared released")
	}
}

func TestExclusiveBlocksUntilReleased(t *testing.T) {
	l := New()
	l.AcquireExclusive()

	done := make(chan struct{})
	go func() {
		l.AcquireExclusive()
		close(done)
		l.ReleaseExclusive()
	}()

	select {
	case <-done:
		t.Fatal("second acquirer should not have proceeded yet")
	case <-time.After(20 * time.Millisecond):
	}

	l.ReleaseExclusive()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second acquirer never woke up")
	}
}

func TestDowngrade(t *testing.T) {
	l := New()
	l.AcquireExclusive()

	var wg sync.WaitGroup
	readers := 4
	wg.Add(readers)
	for i := 0; i < readers; i++ {
		go func() {
			defer wg.Done()
			l.AcquireShared()
			l.ReleaseShared()
		}()
	}
	time.Sleep(10 * time.Millisecond)
	l.Downgrade()
	wg.Wait()
	l.ReleaseShared()
}

func TestTryUpgrade(t *testing.T) {
	l := New()
	if !l.TryAcquireShared() {
		t.Fatal("shared acquire failed")
	}
	if !l.TryUpgrade() {
		t.Fatal("upgrade should succeed when sole shared holder")
	}
	l.ReleaseExclusive()
}

func TestTryUpgradeFailsWithMultipleReaders(t *testing.T) {
	l := New()
	l.TryAcquireShared()
	l.TryAcquireShared()
	if l.TryUpgrade() {
		t.Fatal("upgrade should fail with two shared holders")
	}
	l.ReleaseShared()
	l.ReleaseShared()
}

func TestAcquireExclusiveInterruptibly(t *testing.T) {
	l := New()
	l.AcquireExclusive()

	cancel := make(chan struct{})
	result := make(chan bool, 1)
	go func() {
		result <- l.AcquireExclusiveInterruptibly(cancel)
	}()

	time.Sleep(10 * time.Millisecond)
	close(cancel)

	select {
	case ok := <-result:
		if ok {
			t.Fatal("expected interrupted acquire to fail")
		}
	case <-time.After(time.Second):
		t.Fatal("interruptible acquire never returned")
	}
	l.ReleaseExclusive()
}

func TestConcurrentSharedAndExclusiveFairness(t *testing.T) {
	l := New()
	var wg sync.WaitGroup
	var mu sync.Mutex
	order := make([]string, 0, 20)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.AcquireShared()
			mu.Lock()
			order = append(order, "r")
			mu.Unlock()
			time.Sleep(time.Millisecond)
			l.ReleaseShared()
		}()
	}
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.AcquireExclusive()
			mu.Lock()
			order = append(order, "w")
			mu.Unlock()
			l.ReleaseExclusive()
		}()
	}
	wg.Wait()
	if len(order) != 15 {
		t.Fatalf("expected 15 recorded acquisitions, got %d", len(order))
	}
}

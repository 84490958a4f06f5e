package commitlock

import (
	"sync"
	"testing"
	"time"
)

func TestSharedReentrancy(t *testing.T) {
	c := New()
	tok := NewToken()
	c.AcquireShared(tok)
	c.AcquireShared(tok) // reentrant
	c.ReleaseShared(tok)
	c.ReleaseShared(tok)
	if !c.acquiredEqualsReleased() {
		t.Fatal("counters should balance after matched acquire/release")
	}
}

func TestExclusiveWaitsForSharedDrain(t *testing.T) {
	c := New()
	reader := NewToken()
	c.AcquireShared(reader)

	releasedExclusive := make(chan struct{})
	go func() {
		writer := NewToken()
		c.AcquireExclusive(writer)
		close(releasedExclusive)
		c.ReleaseExclusive()
	}()

	select {
	case <-releasedExclusive:
		t.Fatal("exclusive acquired while a shared holder is still active")
	case <-time.After(20 * time.Millisecond):
	}

	c.ReleaseShared(reader)

	select {
	case <-releasedExclusive:
	case <-time.After(2 * time.Second):
		t.Fatal("exclusive never drained after shared release")
	}
}

func TestManyConcurrentSharedAcquirers(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok := NewToken()
			for j := 0; j < 20; j++ {
				c.AcquireShared(tok)
				c.ReleaseShared(tok)
			}
		}()
	}
	wg.Wait()
	if !c.acquiredEqualsReleased() {
		t.Fatal("counters should balance after all goroutines finish")
	}
}

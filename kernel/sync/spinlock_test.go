package sync

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSpinlock(t *testing.T) {
	var yields atomic.Int32
	defer func(origYieldFn func()) { yieldFn = origYieldFn }(yieldFn)
	yieldFn = func() {
		yields.Add(1)
		runtime.Gosched()
	}

	var (
		sl         Spinlock
		wg         sync.WaitGroup
		numWorkers = 10
		counter    int
	)

	sl.Acquire()

	if sl.TryToAcquire() != false {
		t.Error("expected TryToAcquire to return false when lock is held")
	}

	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func(worker int) {
			sl.Acquire()
			counter++
			sl.Release()
			wg.Done()
		}(i)
	}

	<-time.After(100 * time.Millisecond)
	sl.Release()
	wg.Wait()

	if counter != numWorkers {
		t.Fatalf("expected counter to be %d; got %d", numWorkers, counter)
	}
	if yields.Load() == 0 {
		t.Fatal("expected contended Acquire calls to yield the CPU")
	}
}

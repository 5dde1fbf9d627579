package progs

import "github.com/zjuxlh1993/15410-1/kernel/syscall"

const (
	lockAddr    = bssBase
	counterAddr = bssBase + 4
	doneAddr    = bssBase + 8
)

func lock(th *syscall.Thread) {
	for th.Xchg(lockAddr, 1) != 0 {
		th.Yield(-1)
	}
}

func unlock(th *syscall.Thread) {
	th.Store32(lockAddr, 0)
}

// threadTestMain starts argv[1] threads (3 by default) that each increment
// a shared counter argv[2] times (5 by default) under a user-level mutex.
// The increment yields between the load and the store, so a broken mutex
// loses updates.
func threadTestMain(th *syscall.Thread) int {
	threads := argInt(th, 1, 3)
	rounds := argInt(th, 2, 5)

	if ret := th.NewPages(heapBase, uint32(threads)*pageSize); ret != 0 {
		printf(th, "thread_test: new_pages failed: %d\n", ret)
		return 1
	}

	for i := 0; i < threads; i++ {
		stack := heapBase + uint32(i+1)*pageSize
		tid := th.ThreadFork(stack, func(c *syscall.Thread) {
			for r := 0; r < rounds; r++ {
				lock(c)
				v := c.Load32(counterAddr)
				c.Yield(-1)
				c.Store32(counterAddr, v+1)
				unlock(c)
			}

			lock(c)
			c.Store32(doneAddr, c.Load32(doneAddr)+1)
			unlock(c)
		})
		if tid < 0 {
			printf(th, "thread_test: thread_fork failed: %d\n", tid)
			return 1
		}
	}

	for th.Load32(doneAddr) != uint32(threads) {
		th.Yield(-1)
	}

	counter := th.Load32(counterAddr)
	printf(th, "thread_test: counter %d\n", counter)
	if counter != uint32(threads*rounds) {
		return 1
	}
	return 0
}

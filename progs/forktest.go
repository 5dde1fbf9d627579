package progs

import "github.com/zjuxlh1993/15410-1/kernel/syscall"

const forkSentinel = uint32(0x5ca1ab1e)

// forkTestMain forks argv[1] children (3 by default). Each child scribbles
// over the sentinel word in the data segment and exits with 10 plus its
// index; the parent checks that its own sentinel survived and that every
// status was collected.
func forkTestMain(th *syscall.Thread) int {
	n := argInt(th, 1, 3)

	if got := th.Load32(dataBase); got != forkSentinel {
		printf(th, "fork_test: data segment holds %#x; expected %#x\n", got, forkSentinel)
		return 1
	}

	for i := 0; i < n; i++ {
		pid := th.Fork(func(c *syscall.Thread) int {
			c.Store32(dataBase, uint32(i))
			return 10 + i
		})
		if pid < 0 {
			printf(th, "fork_test: fork %d failed: %d\n", i, pid)
			return 1
		}
	}

	var sum int
	for i := 0; i < n; i++ {
		pid, status := wait(th)
		if pid < 0 {
			printf(th, "fork_test: wait failed: %d\n", pid)
			return 1
		}
		sum += status
	}

	if exp := 10*n + n*(n-1)/2; sum != exp {
		printf(th, "fork_test: status sum %d; expected %d\n", sum, exp)
		return 1
	}

	if got := th.Load32(dataBase); got != forkSentinel {
		printf(th, "fork_test: sentinel clobbered by a child: %#x\n", got)
		return 1
	}

	printf(th, "fork_test: ok (%d children)\n", n)
	return 0
}

package progs

import "github.com/zjuxlh1993/15410-1/kernel/syscall"

// spinMain busy loops for argv[1] iterations (100000 by default) so the
// timer gets a chance to preempt it.
func spinMain(th *syscall.Thread) int {
	n := argInt(th, 1, 100000)
	start := th.GetTicks()
	for i := 0; i < n; i++ {
		th.Spin()
	}
	printf(th, "spin: %d iterations in %d ticks\n", n, th.GetTicks()-start)
	return 0
}

func haltMain(th *syscall.Thread) int {
	printf(th, "halt: powering off\n")
	th.Halt()
	return 0
}

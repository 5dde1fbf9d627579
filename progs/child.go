package progs

import "github.com/zjuxlh1993/15410-1/kernel/syscall"

const childGreeting = "hello from child_program"

// childMain greets the console and exercises new_pages/remove_pages.
func childMain(th *syscall.Thread) int {
	greeting := make([]byte, len(childGreeting))
	th.Read(rodataBase, greeting)
	printf(th, "%s (tid %d, argv %q)\n", greeting, th.GetTID(), th.Args())

	if ret := th.NewPages(heapBase, 2*pageSize); ret != 0 {
		printf(th, "child_program: new_pages failed: %d\n", ret)
		return 1
	}

	th.Store32(heapBase+pageSize, 0xfeedface)
	if got := th.Load32(heapBase + pageSize); got != 0xfeedface {
		printf(th, "child_program: heap readback %#x\n", got)
		return 1
	}

	if ret := th.RemovePages(heapBase); ret != 0 {
		printf(th, "child_program: remove_pages failed: %d\n", ret)
		return 1
	}

	return 0
}

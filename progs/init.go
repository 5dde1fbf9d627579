package progs

import "github.com/zjuxlh1993/15410-1/kernel/syscall"

// initMain starts the command given on its command line (child_program by
// default) and then reaps every process that ends up as its child.
func initMain(th *syscall.Thread) int {
	cmd := []string{"child_program"}
	if args := th.Args(); len(args) > 1 {
		cmd = args[1:]
	}

	pid := th.Fork(func(c *syscall.Thread) int {
		ret := c.Exec(cmd[0], cmd)
		printf(c, "init: exec %s failed: %d\n", cmd[0], ret)
		return ret
	})
	if pid < 0 {
		printf(th, "init: fork failed: %d\n", pid)
	}

	for {
		pid, status := wait(th)
		if pid < 0 {
			break
		}
		printf(th, "init: reaped %d (status %d)\n", pid, status)
	}

	// Every live process descends from init, so once it has no children
	// no process can be handed to it again.
	printf(th, "init: no children left\n")
	never := th.Push32(0)
	for {
		th.Deschedule(never)
	}
}

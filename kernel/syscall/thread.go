package syscall

import (
	"github.com/zjuxlh1993/15410-1/kernel/gate"
	"github.com/zjuxlh1993/15410-1/kernel/kfmt"
	"github.com/zjuxlh1993/15410-1/kernel/mm"
	"github.com/zjuxlh1993/15410-1/kernel/proc"
)

// FaultStatus is the exit status of a thread killed by an invalid memory
// access.
const FaultStatus = -2

// Thread is the user mode view of a kernel thread. Its methods must only be
// called by the program running on that thread.
type Thread struct {
	k    *Kernel
	tcb  *proc.TCB
	pcb  *proc.PCB
	args []string

	// child is the code run by the thread created by the pending fork or
	// thread_fork call.
	child func(th *Thread)
}

// trap enters the kernel through vector vec with arg in ESI and returns the
// value left in EAX. The user register state is saved as a trap frame on
// the kernel stack while the call is serviced.
func (th *Thread) trap(vec gate.InterruptNumber, arg uint32) int32 {
	th.k.cpu.Checkpoint()

	regs := th.tcb.Regs
	regs.ESI = arg

	esp, err := th.tcb.Stack.PushFrame(th.tcb.ESP, &regs)
	if err != nil {
		kfmt.Panic(err)
		return -1
	}
	th.tcb.ESP = esp

	if err = th.k.table.Dispatch(vec, &regs); err != nil {
		kfmt.Panic(err)
		return -1
	}

	saved, esp, err := th.tcb.Stack.PopFrame(th.tcb.ESP)
	if err != nil {
		kfmt.Panic(err)
		return -1
	}
	saved.EAX = regs.EAX
	th.tcb.Regs, th.tcb.ESP = saved, esp

	return int32(regs.EAX)
}

// scratch runs fn and then discards whatever fn pushed on the user stack.
func (th *Thread) scratch(fn func() int32) int32 {
	sp := th.tcb.Regs.UserESP
	v := fn()
	th.tcb.Regs.UserESP = sp
	return v
}

func (th *Thread) takeChild() func(th *Thread) {
	child := th.child
	th.child = nil
	if child == nil {
		child = func(th *Thread) {}
	}
	return child
}

// Args returns the argument vector the program was started with.
func (th *Thread) Args() []string {
	return th.args
}

// readArgs decodes argc and argv from the entry stack frame.
func (th *Thread) readArgs() []string {
	esp := th.tcb.Regs.UserESP

	argc := th.Load32(esp + 4)
	argv := th.Load32(esp + 8)

	args := make([]string, argc)
	for i := range args {
		s, err := th.pcb.AddressSpace.StringAt(th.Load32(argv+uint32(i)*4), int(mm.PageSize))
		if err != nil {
			th.fault(argv)
		}
		args[i] = s
	}
	return args
}

// Spin marks an instruction boundary at which a pending interrupt, such as
// the timer, can preempt the program.
func (th *Thread) Spin() {
	th.k.cpu.Checkpoint()
}

// Fork creates a child process. The parent gets the thread id of the child
// (or a negative error). The child runs child and exits with the status it
// returns.
func (th *Thread) Fork(child func(th *Thread) int) int {
	th.child = func(c *Thread) { c.Exit(child(c)) }
	return int(th.trap(gate.ForkInt, 0))
}

// ThreadFork creates a thread in the calling process that runs body on the
// user stack ending at stack and vanishes once body returns.
func (th *Thread) ThreadFork(stack uint32, body func(th *Thread)) int {
	th.child = func(c *Thread) {
		body(c)
		c.Vanish()
	}
	return int(th.trap(gate.ThreadForkInt, stack))
}

// Exec replaces the program of the calling process. It only returns (with
// a negative error) if the program could not be loaded.
func (th *Thread) Exec(name string, argv []string) int {
	return int(th.scratch(func() int32 {
		ptrs := make([]uint32, len(argv))
		for i, arg := range argv {
			ptrs[i] = th.PushString(arg)
		}

		th.Push32(0)
		for i := len(ptrs) - 1; i >= 0; i-- {
			th.Push32(ptrs[i])
		}
		argvAddr := th.tcb.Regs.UserESP

		nameAddr := th.PushString(name)
		th.Push32(argvAddr)
		th.Push32(nameAddr)
		return th.trap(gate.ExecInt, th.tcb.Regs.UserESP)
	}))
}

// Wait blocks until a child process exits and returns its pid. The exit
// status is stored at statusAddr unless it is zero.
func (th *Thread) Wait(statusAddr uint32) int {
	return int(th.trap(gate.WaitInt, statusAddr))
}

// Yield gives up the CPU to tid, or to any runnable thread if tid is -1.
func (th *Thread) Yield(tid int) int {
	return int(th.trap(gate.YieldInt, uint32(int32(tid))))
}

// Deschedule blocks the thread unless the word at rejectAddr is non-zero.
func (th *Thread) Deschedule(rejectAddr uint32) int {
	return int(th.trap(gate.DescheduleInt, rejectAddr))
}

// MakeRunnable wakes a thread blocked in Deschedule.
func (th *Thread) MakeRunnable(tid int) int {
	return int(th.trap(gate.MakeRunnableInt, uint32(int32(tid))))
}

// GetTID returns the id of the calling thread.
func (th *Thread) GetTID() int {
	return int(th.trap(gate.GetTIDInt, 0))
}

// GetTicks returns the number of timer ticks since boot.
func (th *Thread) GetTicks() uint32 {
	return uint32(th.trap(gate.GetTicksInt, 0))
}

// NewPages allocates zeroed memory for [base, base+length).
func (th *Thread) NewPages(base, length uint32) int {
	return int(th.scratch(func() int32 {
		th.Push32(length)
		th.Push32(base)
		return th.trap(gate.NewPagesInt, th.tcb.Regs.UserESP)
	}))
}

// RemovePages releases a region allocated by NewPages.
func (th *Thread) RemovePages(base uint32) int {
	return int(th.trap(gate.RemovePagesInt, base))
}

// Print writes s to the console.
func (th *Thread) Print(s string) int {
	return int(th.scratch(func() int32 {
		buf := th.PushString(s)
		th.Push32(buf)
		th.Push32(uint32(len(s)))
		return th.trap(gate.PrintInt, th.tcb.Regs.UserESP)
	}))
}

// SetStatus sets the exit status of the process.
func (th *Thread) SetStatus(status int) {
	th.trap(gate.SetStatusInt, uint32(int32(status)))
}

// Vanish terminates the calling thread. It never returns.
func (th *Thread) Vanish() {
	th.trap(gate.VanishInt, 0)
}

// Exit sets the exit status of the process and terminates the calling
// thread.
func (th *Thread) Exit(status int) {
	th.SetStatus(status)
	th.Vanish()
}

// Halt powers off the machine.
func (th *Thread) Halt() {
	th.trap(gate.HaltInt, 0)
}

// fault kills the thread after an invalid access to addr.
func (th *Thread) fault(addr uint32) {
	th.k.faults.Add(1)
	th.k.log.Warn().Int32("tid", int32(th.tcb.TID)).Int32("pid", int32(th.pcb.PID)).Uint32("addr", addr).Msg("page fault in user mode; killing thread")
	th.Exit(FaultStatus)
}

// Load32 reads the word at addr.
func (th *Thread) Load32(addr uint32) uint32 {
	if err := th.pcb.AddressSpace.CheckUser(addr, 4, false); err != nil {
		th.fault(addr)
	}
	v, _ := th.pcb.AddressSpace.ReadUint32(addr)
	return v
}

// Store32 writes v to addr.
func (th *Thread) Store32(addr, v uint32) {
	if err := th.pcb.AddressSpace.CheckUser(addr, 4, true); err != nil {
		th.fault(addr)
	}
	_ = th.pcb.AddressSpace.WriteUint32(addr, v)
}

// Xchg atomically stores v at addr and returns the previous value.
func (th *Thread) Xchg(addr, v uint32) uint32 {
	old := th.Load32(addr)
	th.Store32(addr, v)
	return old
}

// Read copies len(buf) bytes starting at addr into buf.
func (th *Thread) Read(addr uint32, buf []byte) {
	if err := th.pcb.AddressSpace.CheckUser(addr, uint32(len(buf)), false); err != nil {
		th.fault(addr)
	}
	_ = th.pcb.AddressSpace.Read(addr, buf)
}

// Write copies buf to memory starting at addr.
func (th *Thread) Write(addr uint32, buf []byte) {
	if err := th.pcb.AddressSpace.CheckUser(addr, uint32(len(buf)), true); err != nil {
		th.fault(addr)
	}
	_ = th.pcb.AddressSpace.Write(addr, buf)
}

// SP returns the user stack pointer.
func (th *Thread) SP() uint32 {
	return th.tcb.Regs.UserESP
}

// Push32 pushes v on the user stack and returns its address.
func (th *Thread) Push32(v uint32) uint32 {
	th.tcb.Regs.UserESP -= 4
	th.Store32(th.tcb.Regs.UserESP, v)
	return th.tcb.Regs.UserESP
}

// Pop32 removes the word on top of the user stack and returns it.
func (th *Thread) Pop32() uint32 {
	v := th.Load32(th.tcb.Regs.UserESP)
	th.tcb.Regs.UserESP += 4
	return v
}

// PushString copies s and a terminating NUL byte to the user stack and
// returns its address. The stack pointer stays word aligned.
func (th *Thread) PushString(s string) uint32 {
	sp := (th.tcb.Regs.UserESP - uint32(len(s)+1)) &^ 3
	th.Write(sp, append([]byte(s), 0))
	th.tcb.Regs.UserESP = sp
	return sp
}

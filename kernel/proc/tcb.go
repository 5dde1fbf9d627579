// Package proc defines the thread and process control blocks, the store that
// maps identifiers to them, the kernel stacks threads run on and the clone
// primitive used to give a new thread a copy of its creator's context.
package proc

import (
	"github.com/zjuxlh1993/15410-1/kernel/gate"
)

// TID identifies a thread.
type TID int32

// PID identifies a process.
type PID int32

// NoPID is the parent of the root process and of the kernel process.
const NoPID = PID(-1)

// IdleTID and KernelPID are reserved for the idle thread and the kernel
// process that owns it. The store never hands them out.
const (
	IdleTID   = TID(0)
	KernelPID = PID(0)
)

// RunState describes where a thread is in its scheduling lifecycle.
type RunState uint8

const (
	// Runnable threads wait in the run queue.
	Runnable RunState = iota

	// Running is the state of the single thread that owns the CPU.
	Running

	// Blocked threads are off the run queue until made runnable again.
	Blocked

	// Zombie threads have exited and are never scheduled again.
	Zombie
)

// String implements fmt.Stringer for RunState.
func (s RunState) String() string {
	switch s {
	case Runnable:
		return "runnable"
	case Running:
		return "running"
	case Blocked:
		return "blocked"
	case Zombie:
		return "zombie"
	default:
		return "unknown"
	}
}

// TCB is a thread control block.
type TCB struct {
	TID TID
	PID PID

	// Stack is owned exclusively by this thread.
	Stack *KernelStack

	// ESP is the saved kernel stack pointer. It always lies within Stack.
	ESP uint32

	// Regs holds the register snapshot of the thread while it is not
	// executing.
	Regs gate.Registers

	State RunState

	// Entry is run on a fresh goroutine the first time the scheduler
	// switches to the thread. It is cleared once the thread has started.
	Entry func()

	// wake hands the CPU to the thread's goroutine.
	wake chan struct{}
}

// NewTCB returns a Runnable thread control block with an empty stack.
func NewTCB(tid TID, pid PID, stack *KernelStack) *TCB {
	return &TCB{
		TID:   tid,
		PID:   pid,
		Stack: stack,
		ESP:   stack.Top(),
		State: Runnable,
		wake:  make(chan struct{}, 1),
	}
}

// Resume hands the CPU to the goroutine parked in Park.
func (t *TCB) Resume() {
	t.wake <- struct{}{}
}

// Park blocks the calling goroutine until Resume is called for t. It
// returns false if done is closed first.
func (t *TCB) Park(done <-chan struct{}) bool {
	select {
	case <-t.wake:
		return true
	case <-done:
		return false
	}
}

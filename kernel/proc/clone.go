package proc

import (
	"github.com/zjuxlh1993/15410-1/kernel"
	"github.com/zjuxlh1993/15410-1/kernel/cpu"
	"github.com/zjuxlh1993/15410-1/kernel/gate"
	"github.com/zjuxlh1993/15410-1/kernel/kfmt"
)

// CloneKind tells the two returns of Clone apart.
type CloneKind uint8

const (
	// Continuation is returned immediately to the thread calling Clone.
	Continuation CloneKind = iota

	// Resumed is passed to the resume callback once the new thread is
	// scheduled for the first time.
	Resumed
)

// CloneResult is produced by each of the two returns of Clone.
type CloneResult struct {
	Kind CloneKind

	// TID is the new thread for Continuation results and the resumed
	// thread for Resumed results.
	TID TID
}

var (
	errCloneNotReplicated = &kernel.Error{Module: "proc", Message: "clone resumed without stack replication"}
	errCloneParentESP     = &kernel.Error{Module: "proc", Message: "clone parent stack pointer outside its stack"}
)

// Clone gives child a copy of parent's execution context. The snapshot regs
// is pushed onto parent's kernel stack, the whole stack region is copied to
// child's stack and child's stack pointer is rebased to the copied frame.
// Parent's stack is then restored to its previous contents.
//
// Clone returns a Continuation result to its caller. When the scheduler
// first switches to child, the copied frame is popped from child's own
// stack, EAX is zeroed and resume is invoked with a Resumed result.
//
// Clone must be called with interrupts disabled and cannot fail; callers
// must reserve child and its stack beforehand.
func Clone(c *cpu.CPU, parent, child *TCB, regs gate.Registers, resume func(CloneResult)) CloneResult {
	var scratch [gate.FrameSize]byte

	esp := parent.ESP
	if !parent.Stack.Contains(esp) || esp-parent.Stack.Base < gate.FrameSize {
		kfmt.Panic(errCloneParentESP)
		return CloneResult{Kind: Continuation, TID: child.TID}
	}

	// interrupts taken during the sequence land on the child's stack
	esp0 := c.ESP0()
	c.SetESP0(child.Stack.Top())

	kernel.Memcopy(scratch[:], parent.Stack.Bytes(esp-gate.FrameSize, esp))
	frameESP, err := parent.Stack.PushFrame(esp, &regs)
	if err != nil {
		kfmt.Panic(err)
	}

	if err = child.Stack.CopyFrom(parent.Stack); err != nil {
		kfmt.Panic(err)
	}
	child.ESP = child.Stack.Rebase(frameESP, parent.Stack)
	child.Regs = regs

	kernel.Memcopy(parent.Stack.Bytes(esp-gate.FrameSize, esp), scratch[:])
	c.SetESP0(esp0)

	child.Entry = func() { resumeClone(child, resume) }

	return CloneResult{Kind: Continuation, TID: child.TID}
}

func resumeClone(child *TCB, resume func(CloneResult)) {
	regs, esp, err := child.Stack.PopFrame(child.ESP)
	if err != nil {
		kfmt.Panic(errCloneNotReplicated)
		return
	}

	regs.EAX = 0
	child.Regs = regs
	child.ESP = esp

	resume(CloneResult{Kind: Resumed, TID: child.TID})
}

// Package task implements the process and thread lifecycle: bootstrapping
// the root process, fork, thread_fork, exit and wait.
package task

import (
	"runtime"
	"sync/atomic"

	"github.com/phuslu/log"
	"github.com/zjuxlh1993/15410-1/kernel"
	"github.com/zjuxlh1993/15410-1/kernel/cpu"
	"github.com/zjuxlh1993/15410-1/kernel/gate"
	"github.com/zjuxlh1993/15410-1/kernel/kfmt"
	"github.com/zjuxlh1993/15410-1/kernel/mm/vmm"
	"github.com/zjuxlh1993/15410-1/kernel/proc"
	"github.com/zjuxlh1993/15410-1/kernel/sched"
)

var (
	errNoChildren     = &kernel.Error{Module: "task", Message: "no children to wait for", Code: -1}
	errMissingProcess = &kernel.Error{Module: "task", Message: "running thread has no process"}
	errBootstrapped   = &kernel.Error{Module: "task", Message: "root process already exists"}
)

// Stats holds the lifecycle counters.
type Stats struct {
	Forks       uint64
	ThreadForks uint64
	Exits       uint64
}

// Manager creates and destroys processes and threads.
type Manager struct {
	cpu   *cpu.CPU
	sched *sched.Scheduler
	store *proc.Store
	log   *log.Logger

	initPID proc.PID

	forks       atomic.Uint64
	threadForks atomic.Uint64
	exits       atomic.Uint64
}

// New returns a manager for the control blocks in store. It registers
// itself as the scheduler's reaper.
func New(c *cpu.CPU, s *sched.Scheduler, store *proc.Store) *Manager {
	m := &Manager{
		cpu:     c,
		sched:   s,
		store:   store,
		log:     kfmt.Logger("task"),
		initPID: proc.NoPID,
	}
	s.SetReaper(m.reap)
	return m
}

// InitPID returns the pid of the root process.
func (m *Manager) InitPID() proc.PID {
	return m.initPID
}

// Stats returns a snapshot of the lifecycle counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Forks:       m.forks.Load(),
		ThreadForks: m.threadForks.Load(),
		Exits:       m.exits.Load(),
	}
}

// Bootstrap creates the root process with an empty address space and makes
// the calling goroutine its first thread. It also inserts the kernel process
// and its idle thread and hands both threads to the scheduler.
func (m *Manager) Bootstrap(image string) (*proc.TCB, *kernel.Error) {
	if m.initPID != proc.NoPID {
		return nil, errBootstrapped
	}

	enabled := m.cpu.SaveAndDisable()
	defer m.cpu.Restore(enabled)

	idleStack, err := m.store.Stacks.Acquire()
	if err != nil {
		return nil, err
	}

	pid, err := m.store.NextPID()
	if err != nil {
		_ = m.store.Stacks.Release(idleStack)
		return nil, err
	}
	tid, err := m.store.NextTID()
	if err != nil {
		_ = m.store.Stacks.Release(idleStack)
		return nil, err
	}
	stack, err := m.store.Stacks.Acquire()
	if err != nil {
		_ = m.store.Stacks.Release(idleStack)
		return nil, err
	}
	as, err := vmm.NewAddressSpace()
	if err != nil {
		_ = m.store.Stacks.Release(stack)
		_ = m.store.Stacks.Release(idleStack)
		return nil, err
	}

	pcb := proc.NewPCB(pid, proc.NoPID, as)
	pcb.Image = image
	pcb.AddThread(tid)
	tcb := proc.NewTCB(tid, pid, stack)

	m.store.InsertProcess(pcb)
	m.store.InsertThread(tcb)
	m.initPID = pid

	as.Activate(m.cpu)
	m.sched.Init(tcb, m.store.InsertKernel(idleStack))

	m.log.Info().Int32("pid", int32(pid)).Int32("tid", int32(tid)).Str("image", image).Msg("root process created")
	return tcb, nil
}

// current returns the running thread and its process.
func (m *Manager) current() (*proc.TCB, *proc.PCB) {
	t := m.sched.Current()
	pcb, ok := m.store.Process(t.PID)
	if !ok {
		kfmt.Panic(errMissingProcess)
	}
	return t, pcb
}

// Current returns the running thread and its process.
func (m *Manager) Current() (*proc.TCB, *proc.PCB) {
	enabled := m.cpu.SaveAndDisable()
	defer m.cpu.Restore(enabled)
	return m.current()
}

// GetTID returns the id of the running thread.
func (m *Manager) GetTID() proc.TID {
	return m.sched.Current().TID
}

// newThread reserves a tid and a kernel stack.
func (m *Manager) newThread(pid proc.PID) (*proc.TCB, *kernel.Error) {
	tid, err := m.store.NextTID()
	if err != nil {
		return nil, err
	}

	stack, err := m.store.Stacks.Acquire()
	if err != nil {
		return nil, err
	}

	return proc.NewTCB(tid, pid, stack), nil
}

// Fork creates a child process running a copy of the calling process. The
// caller's context regs is cloned to the child, which starts by activating
// its address space and running child with interrupts enabled. Fork returns
// the tid of the child's thread. On failure nothing is changed.
func (m *Manager) Fork(regs gate.Registers, child func()) (proc.TID, *kernel.Error) {
	enabled := m.cpu.SaveAndDisable()

	parent, parentPCB := m.current()

	pid, err := m.store.NextPID()
	if err != nil {
		m.cpu.Restore(enabled)
		return 0, err
	}

	tcb, err := m.newThread(pid)
	if err != nil {
		m.cpu.Restore(enabled)
		return 0, err
	}

	as, err := parentPCB.AddressSpace.Duplicate()
	if err != nil {
		_ = m.store.Stacks.Release(tcb.Stack)
		m.cpu.Restore(enabled)
		return 0, err
	}

	pcb := proc.NewPCB(pid, parentPCB.PID, as)
	pcb.Image = parentPCB.Image
	for base, length := range parentPCB.Regions {
		pcb.Regions[base] = length
	}
	pcb.AddThread(tcb.TID)

	m.store.InsertProcess(pcb)
	m.store.InsertThread(tcb)
	parentPCB.ChildCount++

	res := proc.Clone(m.cpu, parent, tcb, regs, func(proc.CloneResult) {
		m.startThread(pcb, child)
	})
	m.sched.Spawn(tcb)

	m.forks.Add(1)
	m.log.Debug().Int32("parent", int32(parentPCB.PID)).Int32("pid", int32(pid)).Int32("tid", int32(tcb.TID)).Msg("fork")

	m.cpu.Restore(enabled)
	return res.TID, nil
}

// ThreadFork creates a thread in the calling process. The new thread shares
// the address space of the caller and starts by running child.
func (m *Manager) ThreadFork(regs gate.Registers, child func()) (proc.TID, *kernel.Error) {
	enabled := m.cpu.SaveAndDisable()

	parent, pcb := m.current()

	tcb, err := m.newThread(pcb.PID)
	if err != nil {
		m.cpu.Restore(enabled)
		return 0, err
	}

	pcb.AddThread(tcb.TID)
	m.store.InsertThread(tcb)

	res := proc.Clone(m.cpu, parent, tcb, regs, func(proc.CloneResult) {
		m.startThread(pcb, child)
	})
	m.sched.Spawn(tcb)

	m.threadForks.Add(1)
	m.cpu.Restore(enabled)
	return res.TID, nil
}

// startThread is the first code run by a cloned thread.
func (m *Manager) startThread(pcb *proc.PCB, child func()) {
	pcb.AddressSpace.Activate(m.cpu)
	m.cpu.EnableInterrupts()

	child()
	m.Vanish()
}

// SetStatus sets the exit status reported for the calling process.
func (m *Manager) SetStatus(status int) {
	enabled := m.cpu.SaveAndDisable()
	_, pcb := m.current()
	pcb.Status = status
	m.cpu.Restore(enabled)
}

// Vanish terminates the calling thread. When the last thread of a process
// vanishes, the process exits: its status is handed to its parent and its
// children are adopted by the root process. When the root process exits
// the machine shuts down. Vanish never returns.
func (m *Manager) Vanish() {
	m.cpu.DisableInterrupts()

	t, pcb := m.current()
	if pcb.RemoveThread(t.TID) == 0 {
		m.exitProcess(pcb)
	}

	m.exits.Add(1)
	m.sched.Exit()
}

func (m *Manager) exitProcess(pcb *proc.PCB) {
	pcb.Exited = true
	m.log.Info().Int32("pid", int32(pcb.PID)).Int("status", pcb.Status).Str("image", pcb.Image).Msg("process exited")

	if pcb.PID == m.initPID {
		m.log.Info().Msg("root process exited; shutting down")
		m.cpu.Shutdown()
		runtime.Goexit()
	}

	root, _ := m.store.Process(m.initPID)

	// live children are adopted by the root process; exit records that
	// were never collected move along with them
	var adopted int
	m.store.RangeProcesses(func(p *proc.PCB) bool {
		if p.ParentPID == pcb.PID && !p.Exited {
			p.ParentPID = root.PID
			adopted++
		}
		return true
	})
	root.ChildCount += adopted + len(pcb.Zombies)
	root.Zombies = append(root.Zombies, pcb.Zombies...)
	for range pcb.Zombies {
		m.wakeWaiter(root)
	}
	pcb.Zombies = nil

	parent, ok := m.store.Process(pcb.ParentPID)
	if !ok {
		parent = root
	}
	parent.Zombies = append(parent.Zombies, proc.ExitRecord{PID: pcb.PID, Status: pcb.Status})
	m.wakeWaiter(parent)
}

func (m *Manager) wakeWaiter(pcb *proc.PCB) {
	if w, ok := pcb.PopWaiter(); ok {
		w.Wake()
	}
}

// Wait blocks until a child of the calling process exits and returns its
// pid and exit status. It fails if the process has no children that are
// not already being waited for.
func (m *Manager) Wait() (proc.PID, int, *kernel.Error) {
	enabled := m.cpu.SaveAndDisable()
	t, pcb := m.current()

	for {
		if rec, ok := pcb.PopZombie(); ok {
			pcb.ChildCount--
			m.cpu.Restore(enabled)
			return rec.PID, rec.Status, nil
		}

		if pcb.ChildCount <= len(pcb.Waiters) {
			m.cpu.Restore(enabled)
			return 0, 0, errNoChildren
		}

		var woken sched.IntFlag
		pcb.Waiters = append(pcb.Waiters, proc.Waiter{
			TID: t.TID,
			Wake: func() {
				woken.Set(1)
				_ = m.sched.MakeRunnable(t.TID)
			},
		})
		_ = m.sched.Deschedule(&woken)
	}
}

// reap releases the resources of an exited thread. It runs on the thread
// scheduled right after t exited, so t's stack is no longer in use. The
// address space of an exited process is destroyed along with its last
// thread.
func (m *Manager) reap(t *proc.TCB) {
	m.store.RemoveThread(t.TID)
	_ = m.store.Stacks.Release(t.Stack)

	if pcb, ok := m.store.Process(t.PID); ok && pcb.Exited && pcb.ThreadCount() == 0 {
		m.store.RemoveProcess(pcb.PID)
		if pcb.AddressSpace != nil {
			pcb.AddressSpace.Destroy()
			pcb.AddressSpace = nil
		}
	}
}

// Package sched implements the round-robin scheduler of the single CPU:
// the run queue, timer driven preemption, context switching and the
// block/wake primitives threads synchronize with.
package sched

import (
	"container/list"
	"runtime"
	"sync/atomic"

	"github.com/phuslu/log"
	"github.com/zjuxlh1993/15410-1/kernel"
	"github.com/zjuxlh1993/15410-1/kernel/cpu"
	"github.com/zjuxlh1993/15410-1/kernel/kfmt"
	"github.com/zjuxlh1993/15410-1/kernel/proc"
)

var (
	errSwitchWithInterrupts = &kernel.Error{Module: "sched", Message: "context switch with interrupts enabled"}
	errDoubleEnqueue        = &kernel.Error{Module: "sched", Message: "thread enqueued twice"}
	errEnqueueIdle          = &kernel.Error{Module: "sched", Message: "idle thread enqueued"}
	errEnqueueRunning       = &kernel.Error{Module: "sched", Message: "running thread enqueued"}
	errEnqueueState         = &kernel.Error{Module: "sched", Message: "enqueued thread is not runnable"}
	errSwitchFrame          = &kernel.Error{Module: "sched", Message: "saved context corrupted"}
	errThreadReturned       = &kernel.Error{Module: "sched", Message: "thread entry returned"}
	errNotBlocked           = &kernel.Error{Module: "sched", Message: "thread is not blocked", Code: -2}
	errNoSuchThread         = &kernel.Error{Module: "sched", Message: "no such thread", Code: -1}
	errYieldTarget          = &kernel.Error{Module: "sched", Message: "yield target is not runnable", Code: -2}
)

// Stats is a snapshot of the scheduler counters.
type Stats struct {
	ContextSwitches uint64
	Preemptions     uint64
	Ticks           uint64
	Yields          uint64
	Blocks          uint64
	Wakeups         uint64
	RunQueueLen     int
}

// Scheduler multiplexes the CPU between the threads in a proc.Store. All of
// its state is only accessed with interrupts disabled.
type Scheduler struct {
	cpu   *cpu.CPU
	store *proc.Store
	log   *log.Logger

	queue  *list.List
	queued map[proc.TID]*list.Element

	current *proc.TCB
	idle    *proc.TCB

	// quantum is the number of timer ticks a thread runs before it is
	// preempted.
	quantum uint32
	used    uint32

	// dead holds exited threads until the next thread to run reaps them.
	dead   []*proc.TCB
	reapFn func(*proc.TCB)

	stats struct {
		switches    atomic.Uint64
		preemptions atomic.Uint64
		ticks       atomic.Uint64
		yields      atomic.Uint64
		blocks      atomic.Uint64
		wakeups     atomic.Uint64
		queueLen    atomic.Int64
	}
}

// New creates a scheduler for the threads in store.
func New(c *cpu.CPU, store *proc.Store, quantum uint32) *Scheduler {
	if quantum == 0 {
		quantum = 1
	}

	return &Scheduler{
		cpu:     c,
		store:   store,
		log:     kfmt.Logger("sched"),
		queue:   list.New(),
		queued:  make(map[proc.TID]*list.Element),
		quantum: quantum,
		reapFn:  func(*proc.TCB) {},
	}
}

// SetReaper registers the function that releases the resources of exited
// threads. It runs on the thread that follows the exited one.
func (s *Scheduler) SetReaper(fn func(*proc.TCB)) {
	s.reapFn = fn
}

// Init makes boot the running thread and registers idle as the thread that
// runs whenever the run queue is empty. The idle thread is never enqueued;
// it is Blocked whenever it does not own the CPU.
func (s *Scheduler) Init(boot, idle *proc.TCB) {
	boot.State = proc.Running
	s.current = boot
	s.cpu.SetESP0(boot.Stack.Top())

	idle.State = proc.Blocked
	idle.Entry = s.idleLoop
	s.idle = idle
}

// Current returns the thread that owns the CPU.
func (s *Scheduler) Current() *proc.TCB {
	return s.current
}

// CurrentThread returns the id of the running thread.
func (s *Scheduler) CurrentThread() int32 {
	return int32(s.current.TID)
}

// Sleep blocks the running thread unless ready returns true.
func (s *Scheduler) Sleep(ready func() bool) {
	_ = s.Deschedule(CondFlag(ready))
}

// Wake makes a thread blocked in Sleep runnable. Threads that are not
// blocked are left alone.
func (s *Scheduler) Wake(tid int32) {
	_ = s.MakeRunnable(proc.TID(tid))
}

// Idle returns the idle thread.
func (s *Scheduler) Idle() *proc.TCB {
	return s.idle
}

// Stats returns a snapshot of the scheduler counters. It may be called from
// any goroutine.
func (s *Scheduler) Stats() Stats {
	return Stats{
		ContextSwitches: s.stats.switches.Load(),
		Preemptions:     s.stats.preemptions.Load(),
		Ticks:           s.stats.ticks.Load(),
		Yields:          s.stats.yields.Load(),
		Blocks:          s.stats.blocks.Load(),
		Wakeups:         s.stats.wakeups.Load(),
		RunQueueLen:     int(s.stats.queueLen.Load()),
	}
}

// Spawn makes a newly created thread runnable.
func (s *Scheduler) Spawn(t *proc.TCB) {
	enabled := s.cpu.SaveAndDisable()
	t.State = proc.Runnable
	s.enqueue(t)
	s.cpu.Restore(enabled)
}

// enqueue appends t to the tail of the run queue.
func (s *Scheduler) enqueue(t *proc.TCB) {
	var err *kernel.Error
	switch _, exists := s.queued[t.TID]; {
	case t == s.idle:
		err = errEnqueueIdle
	case t.State == proc.Running:
		err = errEnqueueRunning
	case t.State != proc.Runnable:
		err = errEnqueueState
	case exists:
		err = errDoubleEnqueue
	}

	if err != nil {
		kfmt.Panic(err)
		return
	}

	s.queued[t.TID] = s.queue.PushBack(t)
	s.stats.queueLen.Add(1)
}

// dequeue removes and returns the head of the run queue or nil if the
// queue is empty.
func (s *Scheduler) dequeue() *proc.TCB {
	front := s.queue.Front()
	if front == nil {
		return nil
	}
	return s.remove(front)
}

func (s *Scheduler) remove(elem *list.Element) *proc.TCB {
	t := s.queue.Remove(elem).(*proc.TCB)
	delete(s.queued, t.TID)
	s.stats.queueLen.Add(-1)
	return t
}

// next returns the thread to run once the current one gives up the CPU.
func (s *Scheduler) next() *proc.TCB {
	if t := s.dequeue(); t != nil {
		return t
	}
	return s.idle
}

// Tick accounts elapsed timer ticks to the running thread and preempts it
// once its quantum is used up. It is called by the timer interrupt handler
// with interrupts disabled. The idle thread is preempted as soon as another
// thread is runnable.
func (s *Scheduler) Tick(elapsed uint32) {
	s.stats.ticks.Add(1)
	s.used += elapsed
	if s.used < s.quantum && s.current != s.idle {
		return
	}
	s.used = 0

	target := s.dequeue()
	if target == nil {
		return
	}

	if prev := s.current; prev != s.idle {
		prev.State = proc.Runnable
		s.enqueue(prev)
	}

	s.stats.preemptions.Add(1)
	s.ContextSwitch(target)
}

// ContextSwitch saves the context of the running thread on its kernel stack
// and hands the CPU to target. It returns when the caller is switched back
// to. A caller in the Zombie state never returns; it is reaped by the
// thread that runs after it. Interrupts must be disabled.
func (s *Scheduler) ContextSwitch(target *proc.TCB) {
	if s.cpu.InterruptsEnabled() {
		kfmt.Panic(errSwitchWithInterrupts)
	}

	prev := s.current
	if target == prev {
		target.State = proc.Running
		return
	}

	esp, err := prev.Stack.PushFrame(prev.ESP, &prev.Regs)
	if err != nil {
		kfmt.Panic(err)
	}
	prev.ESP = esp
	if prev == s.idle {
		prev.State = proc.Blocked
	}

	s.cpu.SetESP0(target.Stack.Top())
	if pcb, ok := s.store.Process(target.PID); ok && pcb.AddressSpace != nil {
		pcb.AddressSpace.Activate(s.cpu)
	}

	s.current = target
	target.State = proc.Running
	s.stats.switches.Add(1)

	exiting := prev.State == proc.Zombie
	if exiting {
		s.dead = append(s.dead, prev)
	}

	if entry := target.Entry; entry != nil {
		target.Entry = nil
		go s.launch(entry)
	} else {
		target.Resume()
	}

	if exiting || !prev.Park(s.cpu.Done()) {
		runtime.Goexit()
	}

	regs, esp, err := prev.Stack.PopFrame(prev.ESP)
	if err != nil || s.store.Stacks.Lookup(esp) != prev.Stack {
		kfmt.Panic(errSwitchFrame)
	}
	prev.Regs = regs
	prev.ESP = esp

	s.finishSwitch()
}

// launch runs the entry point of a thread that has never been scheduled.
func (s *Scheduler) launch(entry func()) {
	s.finishSwitch()
	entry()
	kfmt.Panic(errThreadReturned)
}

// finishSwitch runs on the thread that was just switched to.
func (s *Scheduler) finishSwitch() {
	for _, t := range s.dead {
		s.reapFn(t)
	}
	s.dead = s.dead[:0]
}

// idleLoop halts the CPU until an interrupt makes a thread runnable.
func (s *Scheduler) idleLoop() {
	for {
		s.cpu.DisableInterrupts()
		if t := s.dequeue(); t != nil {
			s.ContextSwitch(t)
			continue
		}

		s.cpu.EnableInterrupts()
		s.cpu.Halt()
	}
}

// Deschedule blocks the calling thread unless flag rejects the request.
// The flag is checked with interrupts disabled so a wakeup cannot slip in
// between the check and the state change. It returns once another thread
// calls MakeRunnable for the caller.
func (s *Scheduler) Deschedule(flag Flag) *kernel.Error {
	enabled := s.cpu.SaveAndDisable()

	reject, err := flag.Reject()
	if err != nil || reject {
		s.cpu.Restore(enabled)
		return err
	}

	s.current.State = proc.Blocked
	s.stats.blocks.Add(1)
	s.ContextSwitch(s.next())

	s.cpu.Restore(enabled)
	return nil
}

// MakeRunnable moves a blocked thread to the tail of the run queue.
func (s *Scheduler) MakeRunnable(tid proc.TID) *kernel.Error {
	enabled := s.cpu.SaveAndDisable()
	defer s.cpu.Restore(enabled)

	t, ok := s.store.Thread(tid)
	if !ok {
		return errNoSuchThread
	}
	if t.State != proc.Blocked || t == s.idle {
		return errNotBlocked
	}

	t.State = proc.Runnable
	s.enqueue(t)
	s.stats.wakeups.Add(1)
	return nil
}

// Yield gives up the CPU. A negative tid yields to the head of the run
// queue; otherwise tid must name a runnable thread, which runs next.
func (s *Scheduler) Yield(tid proc.TID) *kernel.Error {
	enabled := s.cpu.SaveAndDisable()

	var target *proc.TCB
	switch {
	case tid < 0:
		target = s.dequeue()
	case tid == s.current.TID:
		s.cpu.Restore(enabled)
		return nil
	default:
		elem, ok := s.queued[tid]
		if !ok {
			s.cpu.Restore(enabled)
			if _, exists := s.store.Thread(tid); !exists {
				return errNoSuchThread
			}
			return errYieldTarget
		}
		target = s.remove(elem)
	}

	if target != nil {
		s.stats.yields.Add(1)
		s.current.State = proc.Runnable
		s.enqueue(s.current)
		s.used = 0
		s.ContextSwitch(target)
	}

	s.cpu.Restore(enabled)
	return nil
}

// Exit marks the calling thread as a zombie and switches away from it for
// good. Exit never returns.
func (s *Scheduler) Exit() {
	s.cpu.DisableInterrupts()

	s.current.State = proc.Zombie
	s.log.Debug().Int32("tid", int32(s.current.TID)).Msg("thread exited")
	s.ContextSwitch(s.next())
}

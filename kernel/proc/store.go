package proc

import (
	"math"

	"github.com/zjuxlh1993/15410-1/kernel"
	"github.com/zjuxlh1993/15410-1/kernel/maps"
)

var (
	errTooManyThreads   = &kernel.Error{Module: "proc", Message: "thread limit reached", Code: -10}
	errTooManyProcesses = &kernel.Error{Module: "proc", Message: "process limit reached", Code: -10}
)

// Store maps thread and process identifiers to their control blocks and
// owns the kernel stacks handed to threads. It is only mutated with
// interrupts disabled.
type Store struct {
	threads   maps.ConcurrentMap[TID, *TCB]
	processes maps.ConcurrentMap[PID, *PCB]

	// Stacks is the pool new threads get their kernel stack from.
	Stacks *StackPool

	maxThreads   int
	maxProcesses int
	lastTID      TID
	lastPID      PID

	// reserved is 1 once the kernel process and idle thread are
	// inserted. They do not count against the limits.
	reserved int
}

// NewStore creates an empty store. mapImpl selects the map implementation
// (see maps.NewConcurrentMap).
func NewStore(mapImpl string, stacks *StackPool, maxThreads, maxProcesses int) *Store {
	return &Store{
		threads:      maps.NewConcurrentMap[TID, *TCB](mapImpl),
		processes:    maps.NewConcurrentMap[PID, *PCB](mapImpl),
		Stacks:       stacks,
		maxThreads:   maxThreads,
		maxProcesses: maxProcesses,
	}
}

// NextTID returns an unused thread identifier. Identifiers increase
// monotonically and wrap around, skipping the ones still in use.
func (s *Store) NextTID() (TID, *kernel.Error) {
	if s.threads.Len()-s.reserved >= s.maxThreads {
		return 0, errTooManyThreads
	}

	for {
		if s.lastTID == math.MaxInt32 {
			s.lastTID = 0
		}
		s.lastTID++
		if _, inUse := s.threads.Load(s.lastTID); !inUse {
			return s.lastTID, nil
		}
	}
}

// NextPID returns an unused process identifier.
func (s *Store) NextPID() (PID, *kernel.Error) {
	if s.processes.Len()-s.reserved >= s.maxProcesses {
		return 0, errTooManyProcesses
	}

	for {
		if s.lastPID == math.MaxInt32 {
			s.lastPID = 0
		}
		s.lastPID++
		if _, inUse := s.processes.Load(s.lastPID); !inUse {
			return s.lastPID, nil
		}
	}
}

// InsertKernel creates the kernel process and its idle thread under the
// reserved identifiers and adds both to the store. The idle thread starts
// Blocked: it only ever runs when the scheduler has nothing else to run and
// is never queued.
func (s *Store) InsertKernel(idleStack *KernelStack) *TCB {
	if t, ok := s.threads.Load(IdleTID); ok {
		return t
	}

	pcb := NewPCB(KernelPID, NoPID, nil)
	pcb.Image = "idle"
	pcb.AddThread(IdleTID)

	idle := NewTCB(IdleTID, KernelPID, idleStack)
	idle.State = Blocked

	s.processes.Store(KernelPID, pcb)
	s.threads.Store(IdleTID, idle)
	s.reserved = 1
	return idle
}

// InsertThread adds t to the store.
func (s *Store) InsertThread(t *TCB) {
	s.threads.Store(t.TID, t)
}

// Thread looks up a thread control block.
func (s *Store) Thread(tid TID) (*TCB, bool) {
	return s.threads.Load(tid)
}

// RemoveThread deletes a thread control block.
func (s *Store) RemoveThread(tid TID) {
	s.threads.Delete(tid)
}

// ThreadCount returns the number of threads in the store, not counting the
// idle thread.
func (s *Store) ThreadCount() int {
	return s.threads.Len() - s.reserved
}

// RangeThreads calls fn for each thread until fn returns false.
func (s *Store) RangeThreads(fn func(*TCB) bool) {
	s.threads.Range(func(_ TID, t *TCB) bool {
		return fn(t)
	})
}

// InsertProcess adds p to the store.
func (s *Store) InsertProcess(p *PCB) {
	s.processes.Store(p.PID, p)
}

// Process looks up a process control block.
func (s *Store) Process(pid PID) (*PCB, bool) {
	return s.processes.Load(pid)
}

// RemoveProcess deletes a process control block.
func (s *Store) RemoveProcess(pid PID) {
	s.processes.Delete(pid)
}

// ProcessCount returns the number of processes in the store, not counting
// the kernel process.
func (s *Store) ProcessCount() int {
	return s.processes.Len() - s.reserved
}

// RangeProcesses calls fn for each process until fn returns false.
func (s *Store) RangeProcesses(fn func(*PCB) bool) {
	s.processes.Range(func(_ PID, p *PCB) bool {
		return fn(p)
	})
}

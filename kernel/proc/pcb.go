package proc

import "github.com/zjuxlh1993/15410-1/kernel/mm/vmm"

// ExitRecord holds the exit status of a child process that has not been
// collected by wait yet.
type ExitRecord struct {
	PID    PID
	Status int
}

// Waiter is a thread blocked waiting for a child of the process to exit.
type Waiter struct {
	TID TID

	// Wake makes the waiting thread runnable again.
	Wake func()
}

// PCB is a process control block.
type PCB struct {
	PID       PID
	ParentPID PID

	// AddressSpace is owned exclusively by this process and shared by all
	// of its threads.
	AddressSpace *vmm.AddressSpace

	// ChildCount is the number of children that have not been collected
	// by wait, including the ones that have already exited.
	ChildCount int

	// Status is reported to the parent once the last thread exits.
	Status int
	Exited bool

	// Image is the name of the program the process is running.
	Image string

	// Regions maps the base of every region allocated with new_pages to
	// its length.
	Regions map[uint32]uint32

	Zombies []ExitRecord
	Waiters []Waiter

	threads map[TID]struct{}
}

// NewPCB returns a process control block without threads.
func NewPCB(pid, parent PID, as *vmm.AddressSpace) *PCB {
	return &PCB{
		PID:          pid,
		ParentPID:    parent,
		AddressSpace: as,
		Regions:      make(map[uint32]uint32),
		threads:      make(map[TID]struct{}),
	}
}

// AddThread records tid as a member of the process.
func (p *PCB) AddThread(tid TID) {
	p.threads[tid] = struct{}{}
}

// RemoveThread removes tid from the process and returns the number of
// threads left.
func (p *PCB) RemoveThread(tid TID) int {
	delete(p.threads, tid)
	return len(p.threads)
}

// HasThread returns true if tid belongs to the process.
func (p *PCB) HasThread(tid TID) bool {
	_, ok := p.threads[tid]
	return ok
}

// ThreadCount returns the number of live threads in the process.
func (p *PCB) ThreadCount() int {
	return len(p.threads)
}

// PopZombie removes and returns the oldest uncollected exit record.
func (p *PCB) PopZombie() (ExitRecord, bool) {
	if len(p.Zombies) == 0 {
		return ExitRecord{}, false
	}

	rec := p.Zombies[0]
	p.Zombies = p.Zombies[1:]
	return rec, true
}

// PopWaiter removes and returns the thread that has been waiting the
// longest.
func (p *PCB) PopWaiter() (Waiter, bool) {
	if len(p.Waiters) == 0 {
		return Waiter{}, false
	}

	w := p.Waiters[0]
	p.Waiters = p.Waiters[1:]
	return w, true
}

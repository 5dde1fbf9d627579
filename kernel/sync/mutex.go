package sync

// Scheduler is the part of the thread scheduler that Mutex blocks on.
type Scheduler interface {
	// CurrentThread returns the id of the running thread.
	CurrentThread() int32

	// Sleep blocks the running thread unless ready returns true. ready is
	// evaluated with interrupts disabled.
	Sleep(ready func() bool)

	// Wake makes a thread blocked in Sleep runnable.
	Wake(tid int32)
}

// Interrupts controls the interrupt flag of the CPU.
type Interrupts interface {
	SaveAndDisable() bool
	Restore(enabled bool)
}

type mutexWaiter struct {
	tid     int32
	granted bool
}

// Mutex is a sleeping lock for kernel threads. Waiters are served in FIFO
// order and the lock is handed over directly to the next waiter on Unlock,
// so a thread that releases the lock cannot barge back in ahead of it.
type Mutex struct {
	sched Scheduler
	irq   Interrupts

	locked  bool
	owner   int32
	waiters []*mutexWaiter
}

// NewMutex returns an unlocked mutex.
func NewMutex(sched Scheduler, irq Interrupts) *Mutex {
	return &Mutex{sched: sched, irq: irq}
}

// Lock acquires the mutex, blocking the calling thread until it is
// available.
func (m *Mutex) Lock() {
	enabled := m.irq.SaveAndDisable()

	self := m.sched.CurrentThread()
	if !m.locked {
		m.locked, m.owner = true, self
		m.irq.Restore(enabled)
		return
	}

	w := &mutexWaiter{tid: self}
	m.waiters = append(m.waiters, w)
	for !w.granted {
		m.sched.Sleep(func() bool { return w.granted })
	}

	m.irq.Restore(enabled)
}

// Unlock releases the mutex or hands it to the longest waiting thread.
func (m *Mutex) Unlock() {
	enabled := m.irq.SaveAndDisable()

	if len(m.waiters) == 0 {
		m.locked, m.owner = false, 0
	} else {
		w := m.waiters[0]
		m.waiters = m.waiters[1:]
		m.owner = w.tid
		w.granted = true
		m.sched.Wake(w.tid)
	}

	m.irq.Restore(enabled)
}

// Owner returns the thread holding the mutex.
func (m *Mutex) Owner() (int32, bool) {
	enabled := m.irq.SaveAndDisable()
	defer m.irq.Restore(enabled)
	return m.owner, m.locked
}

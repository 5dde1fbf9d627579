package sched

import (
	"sync/atomic"

	"github.com/zjuxlh1993/15410-1/kernel"
)

// Flag is consulted by Deschedule, with interrupts disabled, to decide
// whether the caller should block.
type Flag interface {
	// Reject returns true if the caller must not block. A non-nil error
	// aborts the deschedule request.
	Reject() (bool, *kernel.Error)
}

// IntFlag is a kernel word used as a wakeup flag. A non-zero value means
// that the wakeup has already happened.
type IntFlag struct {
	v atomic.Int32
}

// Set stores v in the flag.
func (f *IntFlag) Set(v int32) {
	f.v.Store(v)
}

// Load returns the current flag value.
func (f *IntFlag) Load() int32 {
	return f.v.Load()
}

// Reject implements Flag.
func (f *IntFlag) Reject() (bool, *kernel.Error) {
	return f.v.Load() != 0, nil
}

// CondFlag adapts a predicate to Flag. The caller blocks unless the
// predicate returns true.
type CondFlag func() bool

// Reject implements Flag.
func (f CondFlag) Reject() (bool, *kernel.Error) {
	return f(), nil
}

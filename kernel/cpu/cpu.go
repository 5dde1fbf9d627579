// Package cpu models the single x86 core the kernel runs on: the interrupt
// flag, hardware interrupt delivery, the TSS privilege-level-0 stack pointer
// and the CR3 page directory register.
//
// Only the goroutine that currently owns the CPU may call the methods that
// change the interrupt flag or deliver interrupts. Raise and Shutdown are
// safe to call from any goroutine (device models, timers, signal handlers).
package cpu

import (
	"math/bits"
	"runtime"
	"sync"
	"sync/atomic"
)

// InterruptHandler is invoked for every delivered hardware interrupt line.
// Handlers run with interrupts disabled; the interrupt flag is restored once
// the handler returns.
type InterruptHandler func(line uint8)

// CPU describes the state of a single-core x86 processor.
type CPU struct {
	interruptsEnabled atomic.Bool
	pending           atomic.Uint32
	esp0              atomic.Uint32
	cr3               atomic.Uint32

	handler InterruptHandler

	// kick is signalled by Raise so a halted CPU can resume.
	kick         chan struct{}
	done         chan struct{}
	shutdownOnce sync.Once
}

// New returns a powered-on CPU with interrupts disabled.
func New() *CPU {
	return &CPU{
		kick: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// SetInterruptHandler installs the function that receives hardware
// interrupts. It must be called before interrupts are first enabled.
func (c *CPU) SetInterruptHandler(h InterruptHandler) {
	c.handler = h
}

// EnableInterrupts sets the interrupt flag and services any pending
// interrupt lines.
func (c *CPU) EnableInterrupts() {
	c.interruptsEnabled.Store(true)
	c.deliver()
}

// DisableInterrupts clears the interrupt flag.
func (c *CPU) DisableInterrupts() {
	c.interruptsEnabled.Store(false)
}

// InterruptsEnabled returns true if the interrupt flag is set.
func (c *CPU) InterruptsEnabled() bool {
	return c.interruptsEnabled.Load()
}

// SaveAndDisable clears the interrupt flag and returns its previous value so
// it can be passed to Restore. Calls may be nested.
func (c *CPU) SaveAndDisable() bool {
	return c.interruptsEnabled.Swap(false)
}

// Restore sets the interrupt flag to a value previously returned by
// SaveAndDisable.
func (c *CPU) Restore(enabled bool) {
	if enabled {
		c.EnableInterrupts()
		return
	}
	c.DisableInterrupts()
}

// Raise asserts a hardware interrupt line. The interrupt is delivered by the
// goroutine owning the CPU at its next instruction boundary with interrupts
// enabled.
func (c *CPU) Raise(line uint8) {
	for {
		old := c.pending.Load()
		if c.pending.CompareAndSwap(old, old|1<<line) {
			break
		}
	}

	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// Pending returns the mask of raised but not yet delivered interrupt lines.
func (c *CPU) Pending() uint32 {
	return c.pending.Load()
}

// Checkpoint marks an instruction boundary. If interrupts are enabled, any
// pending interrupts are delivered before Checkpoint returns.
func (c *CPU) Checkpoint() {
	c.deliver()
}

// Halt stops instruction execution until an interrupt line is raised and
// then delivers it. If the machine is shut down while halted, the calling
// goroutine exits.
func (c *CPU) Halt() {
	for c.pending.Load() == 0 {
		select {
		case <-c.kick:
		case <-c.done:
			runtime.Goexit()
		}
	}
	c.deliver()
}

// deliver services pending interrupt lines, lowest line first, for as long
// as the interrupt flag is set.
func (c *CPU) deliver() {
	for c.interruptsEnabled.Load() {
		mask := c.pending.Load()
		if mask == 0 {
			return
		}

		line := uint8(bits.TrailingZeros32(mask))
		if !c.pending.CompareAndSwap(mask, mask&^(1<<line)) {
			continue
		}

		c.interruptsEnabled.Store(false)
		if c.handler != nil {
			c.handler(line)
		}
		c.interruptsEnabled.Store(true)
	}
}

// SetESP0 updates the privilege-level-0 stack pointer used when an
// interrupt or system call arrives while running in user mode.
func (c *CPU) SetESP0(esp uint32) {
	c.esp0.Store(esp)
}

// ESP0 returns the current privilege-level-0 stack pointer.
func (c *CPU) ESP0() uint32 {
	return c.esp0.Load()
}

// SwitchPDT sets the root page table directory to point to the specified
// physical address.
func (c *CPU) SwitchPDT(pdtPhysAddr uint32) {
	c.cr3.Store(pdtPhysAddr)
}

// ActivePDT returns the physical address of the currently active page table.
func (c *CPU) ActivePDT() uint32 {
	return c.cr3.Load()
}

// Shutdown powers the machine off. Goroutines blocked in Halt, or waiting
// on Done, are released.
func (c *CPU) Shutdown() {
	c.shutdownOnce.Do(func() { close(c.done) })
}

// Done returns a channel that is closed once the machine shuts down.
func (c *CPU) Done() <-chan struct{} {
	return c.done
}

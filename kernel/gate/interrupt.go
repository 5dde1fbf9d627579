package gate

import "github.com/zjuxlh1993/15410-1/kernel"

// InterruptNumber describes an x86 interrupt/exception/trap slot.
type InterruptNumber uint8

const (
	// DivideByZero occurs when dividing any number by 0 using the DIV or
	// IDIV instruction.
	DivideByZero = InterruptNumber(0)

	// InvalidOpcode occurs when the CPU attempts to execute an invalid or
	// undefined instruction opcode.
	InvalidOpcode = InterruptNumber(6)

	// DoubleFault occurs when an unhandled exception occurs or when an
	// exception occurs within a running exception handler.
	DoubleFault = InterruptNumber(8)

	// GPFException occurs when a general protection fault occurs.
	GPFException = InterruptNumber(13)

	// PageFaultException occurs when a page directory table (PDT) or one
	// of its entries is not present or when a privilege and/or RW
	// protection check fails.
	PageFaultException = InterruptNumber(14)

	// IRQBase is the vector the master PIC is remapped to.
	IRQBase = InterruptNumber(0x20)

	// TimerInt is the vector raised by the programmable interval timer.
	TimerInt = IRQBase
)

// System call vectors. Arguments are passed in ESI (a single value or the
// address of an argument packet in user memory); results come back in EAX.
const (
	ForkInt         = InterruptNumber(0x41)
	ExecInt         = InterruptNumber(0x42)
	WaitInt         = InterruptNumber(0x44)
	YieldInt        = InterruptNumber(0x45)
	DescheduleInt   = InterruptNumber(0x46)
	MakeRunnableInt = InterruptNumber(0x47)
	GetTIDInt       = InterruptNumber(0x48)
	NewPagesInt     = InterruptNumber(0x49)
	RemovePagesInt  = InterruptNumber(0x4a)
	PrintInt        = InterruptNumber(0x4e)
	ThreadForkInt   = InterruptNumber(0x52)
	GetTicksInt     = InterruptNumber(0x53)
	HaltInt         = InterruptNumber(0x55)
	SetStatusInt    = InterruptNumber(0x59)
	VanishInt       = InterruptNumber(0x60)
)

// Handler services an interrupt. Any changes it makes to the supplied
// Registers are propagated back to the interrupted context.
type Handler func(*Registers)

var errUnhandledInterrupt = &kernel.Error{Module: "gate", Message: "no handler installed for interrupt"}

// Table models the interrupt descriptor table.
type Table struct {
	handlers [256]Handler
}

// HandleInterrupt ensures that the provided handler will be invoked when a
// particular interrupt number occurs.
func (t *Table) HandleInterrupt(intNumber InterruptNumber, handler Handler) {
	t.handlers[intNumber] = handler
}

// Dispatch routes an interrupt to its handler. The interrupt number is
// recorded in regs.Info before the handler runs.
func (t *Table) Dispatch(intNumber InterruptNumber, regs *Registers) *kernel.Error {
	handler := t.handlers[intNumber]
	if handler == nil {
		return errUnhandledInterrupt
	}

	regs.Info = uint32(intNumber)
	handler(regs)
	return nil
}

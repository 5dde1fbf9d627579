// Package irq routes hardware interrupt lines raised on the CPU to the
// interrupt descriptor table, modelling the 8259 programmable interrupt
// controller that sits between them.
package irq

import (
	"sync/atomic"

	"github.com/zjuxlh1993/15410-1/kernel/cpu"
	"github.com/zjuxlh1993/15410-1/kernel/gate"
	"github.com/zjuxlh1993/15410-1/kernel/kfmt"
)

const (
	// TimerLine is the PIC line wired to the programmable interval timer.
	TimerLine = uint8(0)

	// KeyboardLine is the PIC line wired to the keyboard controller.
	KeyboardLine = uint8(1)
)

// PIC tracks which interrupt lines are being serviced and dispatches raised
// lines to the matching gate vector.
type PIC struct {
	table *gate.Table

	inService atomic.Uint32
	delivered atomic.Uint64
	spurious  atomic.Uint64
}

// NewPIC attaches a PIC to c. Interrupt line N is delivered to gate vector
// gate.IRQBase+N.
func NewPIC(c *cpu.CPU, table *gate.Table) *PIC {
	pic := &PIC{table: table}
	c.SetInterruptHandler(pic.dispatch)
	return pic
}

// Acknowledge signals the end of interrupt for line, allowing the PIC to
// deliver it again. Handlers that context switch must acknowledge first.
func (p *PIC) Acknowledge(line uint8) {
	for {
		old := p.inService.Load()
		if p.inService.CompareAndSwap(old, old&^(1<<line)) {
			return
		}
	}
}

// InService returns true if line has been delivered but not acknowledged.
func (p *PIC) InService(line uint8) bool {
	return p.inService.Load()&(1<<line) != 0
}

// Delivered returns the number of interrupts dispatched to a handler.
func (p *PIC) Delivered() uint64 {
	return p.delivered.Load()
}

func (p *PIC) dispatch(line uint8) {
	if p.InService(line) {
		// the previous interrupt on this line has not been acknowledged yet
		p.spurious.Add(1)
		return
	}

	for {
		old := p.inService.Load()
		if p.inService.CompareAndSwap(old, old|1<<line) {
			break
		}
	}

	var regs gate.Registers
	if err := p.table.Dispatch(gate.IRQBase+gate.InterruptNumber(line), &regs); err != nil {
		kfmt.Logger("irq").Warn().Uint8("line", line).Msg(err.Message)
		p.Acknowledge(line)
		return
	}
	p.delivered.Add(1)
}

// Package pit drives the programmable interval timer that feeds the
// scheduler's time slices.
package pit

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zjuxlh1993/15410-1/device"
	"github.com/zjuxlh1993/15410-1/kernel"
	"github.com/zjuxlh1993/15410-1/kernel/irq"
	"github.com/zjuxlh1993/15410-1/kernel/kfmt"
)

const (
	// BaseFrequency is the input clock of the 8253/8254 in Hz.
	BaseFrequency = 1193182

	// MaxFrequency is the highest interrupt rate the driver accepts.
	MaxFrequency = 10000
)

var errBadFrequency = &kernel.Error{Module: "pit", Message: "timer frequency out of range", Code: -1}

// Line is the interrupt controller input the timer is wired to.
type Line interface {
	// Raise asserts a hardware interrupt line.
	Raise(line uint8)

	// Done is closed when the machine powers off.
	Done() <-chan struct{}
}

// PIT raises the timer interrupt line at a fixed rate.
type PIT struct {
	line Line
	hz   uint32

	raised atomic.Uint64

	stopOnce sync.Once
	stop     chan struct{}
	exited   chan struct{}
}

// New returns a timer that raises irq.TimerLine on line hz times per second.
func New(line Line, hz uint32) *PIT {
	return &PIT{
		line:   line,
		hz:     hz,
		stop:   make(chan struct{}),
		exited: make(chan struct{}),
	}
}

// Raised returns the number of timer interrupts asserted so far.
func (p *PIT) Raised() uint64 {
	return p.raised.Load()
}

// Divisor returns the reload value that programs channel 0 for the
// configured frequency.
func (p *PIT) Divisor() uint32 {
	if p.hz == 0 {
		return 0
	}
	return BaseFrequency / p.hz
}

// DriverName returns the name of the driver.
func (p *PIT) DriverName() string {
	return "pit"
}

// DriverVersion returns the driver version.
func (p *PIT) DriverVersion() (uint16, uint16, uint16) {
	return 0, 1, 0
}

// DriverInit programs the timer and starts raising interrupts.
func (p *PIT) DriverInit(w io.Writer) *kernel.Error {
	if p.hz == 0 || p.hz > MaxFrequency {
		return errBadFrequency
	}

	kfmt.Fprintf(w, "channel 0 at %dHz (divisor %d)\n", p.hz, p.Divisor())
	go p.run(time.Second / time.Duration(p.hz))
	return nil
}

// DriverStop stops the timer. It blocks until no more interrupts will be
// raised.
func (p *PIT) DriverStop() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.exited
}

func (p *PIT) run(period time.Duration) {
	defer close(p.exited)

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.line.Raise(irq.TimerLine)
			p.raised.Add(1)
		case <-p.stop:
			return
		case <-p.line.Done():
			return
		}
	}
}

// Probe returns a device.ProbeFn for a timer running at hz.
func Probe(line Line, hz uint32) device.ProbeFn {
	return func() device.Driver {
		return New(line, hz)
	}
}

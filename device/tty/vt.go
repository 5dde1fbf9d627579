package tty

import (
	"io"
	"sync"

	"github.com/phuslu/log"
	"github.com/zjuxlh1993/15410-1/device"
	"github.com/zjuxlh1993/15410-1/kernel"
	"github.com/zjuxlh1993/15410-1/kernel/kfmt"
)

// VT implements a line-oriented terminal supporting scrollback. The terminal
// interprets the following special characters:
//   - \r (carriage-return; discards the pending line)
//   - \n (line-feed; completes the pending line)
//   - \b (backspace)
//   - \t (tab; expanded to tabWidth spaces)
//
// Completed lines are written to the attached output and logged at debug
// level through the console logger.
type VT struct {
	mu sync.Mutex

	out io.Writer
	log *log.Logger

	tabWidth uint8
	line     []byte

	// scrollback is a ring of the most recent completed lines.
	scrollback []string
	head       int
	count      int

	state State
}

// NewVT creates a new virtual terminal device. The tabWidth parameter controls
// tab expansion whereas the scrollback parameter defines the number of
// completed lines that the terminal remembers.
func NewVT(tabWidth uint8, scrollback uint32) *VT {
	return &VT{
		tabWidth:   tabWidth,
		scrollback: make([]string, scrollback),
		log:        kfmt.Logger("console"),
	}
}

// AttachTo connects the terminal to the writer that displays its output.
func (t *VT) AttachTo(out io.Writer) {
	t.mu.Lock()
	t.out = out
	t.mu.Unlock()
}

// State returns the TTY's state.
func (t *VT) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SetState updates the TTY's state. Activating a terminal replays its
// scrollback to the attached output.
func (t *VT) SetState(newState State) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == newState {
		return
	}

	t.state = newState
	if t.state == StateActive && t.out != nil {
		for _, line := range t.linesLocked() {
			io.WriteString(t.out, line+"\n")
		}
	}
}

// Lines returns the completed lines held in the scrollback buffer.
func (t *VT) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.linesLocked()
}

func (t *VT) linesLocked() []string {
	lines := make([]string, 0, t.count)
	start := t.head - t.count
	if start < 0 {
		start += len(t.scrollback)
	}
	for i := 0; i < t.count; i++ {
		lines = append(lines, t.scrollback[(start+i)%len(t.scrollback)])
	}
	return lines
}

// Write implements io.Writer.
func (t *VT) Write(data []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, b := range data {
		t.writeByte(b)
	}

	return len(data), nil
}

// WriteByte implements io.ByteWriter.
func (t *VT) WriteByte(b byte) error {
	t.mu.Lock()
	t.writeByte(b)
	t.mu.Unlock()
	return nil
}

func (t *VT) writeByte(b byte) {
	switch b {
	case '\r':
		t.line = t.line[:0]
	case '\n':
		t.lf()
	case '\b':
		if len(t.line) > 0 {
			t.line = t.line[:len(t.line)-1]
		}
	case '\t':
		for i := uint8(0); i < t.tabWidth; i++ {
			t.line = append(t.line, ' ')
		}
	default:
		t.line = append(t.line, b)
	}
}

// lf completes the pending line.
func (t *VT) lf() {
	line := string(t.line)
	t.line = t.line[:0]

	if len(t.scrollback) != 0 {
		t.scrollback[t.head] = line
		t.head = (t.head + 1) % len(t.scrollback)
		if t.count < len(t.scrollback) {
			t.count++
		}
	}

	if t.state != StateActive {
		return
	}

	if t.out != nil {
		io.WriteString(t.out, line+"\n")
	}
	t.log.Debug().Str("line", line).Msg("console output")
}

// DriverName returns the name of this driver.
func (t *VT) DriverName() string {
	return "vt"
}

// DriverVersion returns the version of this driver.
func (t *VT) DriverVersion() (uint16, uint16, uint16) {
	return 0, 0, 1
}

// DriverInit initializes this driver.
func (t *VT) DriverInit(w io.Writer) *kernel.Error {
	kfmt.Fprintf(w, "scrollback %d lines\n", len(t.scrollback))
	return nil
}

// Probe returns a device.ProbeFn for a terminal whose output is displayed
// on out.
func Probe(out io.Writer) device.ProbeFn {
	return func() device.Driver {
		term := NewVT(DefaultTabWidth, DefaultScrollback)
		term.AttachTo(out)
		return term
	}
}

package gate

import (
	"encoding/binary"
	"io"

	"github.com/zjuxlh1993/15410-1/kernel"
	"github.com/zjuxlh1993/15410-1/kernel/kfmt"
)

// Registers contains a snapshot of all register values when an exception,
// interrupt or syscall occurs. The general purpose registers are laid out in
// PUSHA order.
type Registers struct {
	EDI uint32
	ESI uint32
	EBP uint32
	ESP uint32
	EBX uint32
	EDX uint32
	ECX uint32
	EAX uint32

	// Info contains the exception code for exceptions, the syscall number
	// for syscall entries or the IRQ number for HW interrupts.
	Info uint32

	// The return frame used by IRET
	EIP     uint32
	CS      uint32
	EFlags  uint32
	UserESP uint32
	SS      uint32
}

// DumpTo outputs the register contents to w.
func (r *Registers) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "EAX = %8x EBX = %8x\n", r.EAX, r.EBX)
	kfmt.Fprintf(w, "ECX = %8x EDX = %8x\n", r.ECX, r.EDX)
	kfmt.Fprintf(w, "ESI = %8x EDI = %8x\n", r.ESI, r.EDI)
	kfmt.Fprintf(w, "EBP = %8x ESP = %8x\n", r.EBP, r.ESP)
	kfmt.Fprintf(w, "\n")
	kfmt.Fprintf(w, "EIP = %8x CS  = %8x\n", r.EIP, r.CS)
	kfmt.Fprintf(w, "ESP = %8x SS  = %8x\n", r.UserESP, r.SS)
	kfmt.Fprintf(w, "EFL = %8x\n", r.EFlags)
}

const (
	// FrameMagic tags every register frame stored on a kernel stack.
	FrameMagic = uint32(0x5357544b)

	// FrameSize is the number of bytes occupied by an encoded frame: the
	// magic word followed by the 14 registers.
	FrameSize = 4 + 14*4

	// Segment selectors and flags installed for freshly loaded programs.
	UserCS     = uint32(0x1b)
	UserSS     = uint32(0x23)
	EFlagsIF   = uint32(1 << 9)
	EFlagsBase = uint32(1 << 1)
)

var (
	errFrameTooShort = &kernel.Error{Module: "gate", Message: "frame buffer too short"}
	errFrameMagic    = &kernel.Error{Module: "gate", Message: "register frame magic mismatch"}
)

type encodedFrame struct {
	Magic uint32
	Regs  Registers
}

// EncodeFrame writes a tagged copy of regs to the start of buf.
func EncodeFrame(buf []byte, regs *Registers) *kernel.Error {
	if _, err := binary.Encode(buf, binary.LittleEndian, &encodedFrame{Magic: FrameMagic, Regs: *regs}); err != nil {
		return errFrameTooShort
	}
	return nil
}

// DecodeFrame reads a register frame from the start of buf. An error is
// returned if buf does not begin with a frame written by EncodeFrame.
func DecodeFrame(buf []byte) (Registers, *kernel.Error) {
	var frame encodedFrame
	if _, err := binary.Decode(buf, binary.LittleEndian, &frame); err != nil {
		return Registers{}, errFrameTooShort
	}

	if frame.Magic != FrameMagic {
		return Registers{}, errFrameMagic
	}

	return frame.Regs, nil
}

// Package loader turns program images from the image store into running
// user programs: it validates the image layout, materialises its segments
// and the initial user stack in a fresh address space and enters user mode.
package loader

import (
	"sync/atomic"

	"github.com/phuslu/log"
	"github.com/zjuxlh1993/15410-1/kernel"
	"github.com/zjuxlh1993/15410-1/kernel/cpu"
	"github.com/zjuxlh1993/15410-1/kernel/gate"
	"github.com/zjuxlh1993/15410-1/kernel/kfmt"
	"github.com/zjuxlh1993/15410-1/kernel/mm"
	"github.com/zjuxlh1993/15410-1/kernel/mm/vmm"
	"github.com/zjuxlh1993/15410-1/kernel/proc"
)

const (
	// UserStackTop is the highest address of the user stack.
	UserStackTop = uint32(0xBFFFFFFF)

	// MaxNameLen bounds the length of program names passed to exec.
	MaxNameLen = 64

	wordSize = 4
)

var (
	errBadArgv          = &kernel.Error{Module: "loader", Message: "argument vector references invalid memory", Code: -8}
	errArgvTooLarge     = &kernel.Error{Module: "loader", Message: "argument vector too large", Code: -9}
	errUserModeReturned = &kernel.Error{Module: "loader", Message: "returned from user mode", Code: -11}
	errBadName          = &kernel.Error{Module: "loader", Message: "invalid program name", Code: -12}
	errMultipleThreads  = &kernel.Error{Module: "loader", Message: "exec called by a multi-threaded process", Code: -13}
	errStackOverlap     = &kernel.Error{Module: "loader", Message: "segment overlaps the user stack", Code: -2}
	errShortSegment     = &kernel.Error{Module: "loader", Message: "segment extends past the end of the image", Code: -2}
)

// Locker serialises access to the argument staging page.
type Locker interface {
	Lock()
	Unlock()
}

// EnterFunc starts executing the program just loaded for thread in user
// mode. It does not return while the program is running.
type EnterFunc func(thread *proc.TCB, pcb *proc.PCB)

// Loader loads program images into processes.
type Loader struct {
	cpu     *cpu.CPU
	images  Images
	staging Locker
	enter   EnterFunc
	log     *log.Logger

	stackSize uint32
	loads     atomic.Uint64
}

// New returns a loader that creates user stacks of stackPages pages.
func New(c *cpu.CPU, images Images, staging Locker, stackPages uint32) *Loader {
	return &Loader{
		cpu:       c,
		images:    images,
		staging:   staging,
		enter:     func(*proc.TCB, *proc.PCB) {},
		log:       kfmt.Logger("loader"),
		stackSize: stackPages * mm.PageSize,
	}
}

// SetEnter registers the function that transfers control to user mode.
func (l *Loader) SetEnter(fn EnterFunc) {
	l.enter = fn
}

// Loads returns the number of programs loaded so far.
func (l *Loader) Loads() uint64 {
	return l.loads.Load()
}

// Load replaces the program run by pcb with the image called name. The
// argument vector comes from the kernel and is trusted. Load only returns
// if the program could not be loaded, in which case pcb is unchanged.
func (l *Loader) Load(pcb *proc.PCB, thread *proc.TCB, name string, argv []string) *kernel.Error {
	return l.run(pcb, thread, name, func(page []byte) (int, *kernel.Error) {
		var used int
		for _, arg := range argv {
			if used+len(arg)+1 > len(page) {
				return 0, errArgvTooLarge
			}
			used += copy(page[used:], arg)
			page[used] = 0
			used++
		}
		return len(argv), nil
	})
}

// Exec behaves like Load but reads the program name and the NULL
// terminated argument vector from the user memory of pcb. Every pointer is
// checked before it is followed and all strings are copied into the kernel
// before the address space is modified.
func (l *Loader) Exec(pcb *proc.PCB, thread *proc.TCB, nameAddr, argvAddr uint32) *kernel.Error {
	if pcb.ThreadCount() > 1 {
		return errMultipleThreads
	}

	as := pcb.AddressSpace
	name, err := as.StringAt(nameAddr, MaxNameLen)
	if err != nil || name == "" {
		return errBadName
	}

	return l.run(pcb, thread, name, func(page []byte) (int, *kernel.Error) {
		var used int
		for argc := 0; ; argc++ {
			slot := uint64(argvAddr) + uint64(argc)*wordSize
			if slot+wordSize > 1<<32 || !as.IsUserPointerValid(uint32(slot), wordSize) {
				return 0, errBadArgv
			}

			ptr, _ := as.ReadUint32(uint32(slot))
			if ptr == 0 {
				return argc, nil
			}

			if used >= len(page) {
				return 0, errArgvTooLarge
			}

			// the string and its terminator must fit in the rest of
			// the staging page
			arg, err := as.StringAt(ptr, len(page)-used-1)
			switch err {
			case nil:
			case vmm.ErrUnterminatedString:
				return 0, errArgvTooLarge
			default:
				return 0, errBadArgv
			}

			used += copy(page[used:], arg)
			page[used] = 0
			used++
		}
	})
}

// run validates the named image, stages the argument vector and builds the
// new address space. Nothing visible to pcb changes unless every step
// succeeds.
func (l *Loader) run(pcb *proc.PCB, thread *proc.TCB, name string, stage func(page []byte) (int, *kernel.Error)) *kernel.Error {
	desc, err := Parse(l.images, name)
	if err != nil {
		return err
	}
	if err = Validate(desc); err != nil {
		return err
	}

	stackLow := UserStackTop - l.stackSize + 1
	for _, seg := range []Segment{desc.Text, desc.Data, desc.Rodata, desc.Bss} {
		if seg.Len != 0 && uint64(seg.Addr)+uint64(seg.Len) > uint64(stackLow) {
			return errStackOverlap
		}
	}

	argv, err := l.stageArgs(stage)
	if err != nil {
		return err
	}

	as, esp, err := l.materialize(desc, argv)
	if err != nil {
		return err
	}

	l.commit(pcb, thread, desc, as, esp)
	l.log.Info().Int32("pid", int32(pcb.PID)).Str("image", name).Int("argc", len(argv)).Msg("program loaded")

	l.enter(thread, pcb)
	return errUserModeReturned
}

// stageArgs copies the argument strings into a kernel page with stage and
// returns them.
func (l *Loader) stageArgs(stage func(page []byte) (int, *kernel.Error)) ([]string, *kernel.Error) {
	l.staging.Lock()
	defer l.staging.Unlock()

	frame, err := mm.AllocFrame()
	if err != nil {
		return nil, err
	}
	defer func() { _ = mm.FreeFrame(frame) }()

	page := mm.FrameData(frame)
	argc, err := stage(page)
	if err != nil {
		return nil, err
	}

	argv := make([]string, argc)
	for i, start := 0, 0; i < argc; i++ {
		end := start
		for page[end] != 0 {
			end++
		}
		argv[i] = string(page[start:end])
		start = end + 1
	}

	return argv, nil
}

// materialize builds the address space described by desc and the initial
// user stack for argv. It returns the address space and the initial user
// stack pointer.
func (l *Loader) materialize(desc *Descriptor, argv []string) (*vmm.AddressSpace, uint32, *kernel.Error) {
	as, err := vmm.NewAddressSpace()
	if err != nil {
		return nil, 0, err
	}

	var esp uint32
	if err = l.loadSegments(as, desc); err == nil {
		esp, err = l.buildStack(as, argv)
	}

	if err != nil {
		as.Destroy()
		return nil, 0, err
	}

	return as, esp, nil
}

func (l *Loader) loadSegments(as *vmm.AddressSpace, desc *Descriptor) *kernel.Error {
	const (
		rw = vmm.FlagRW | vmm.FlagUserAccessible
		ro = vmm.FlagUserAccessible
	)

	// writable segments first: a page shared with a read-only segment
	// stays writable
	segments := []struct {
		seg   Segment
		flags vmm.PageTableEntryFlag
		fill  bool
	}{
		{desc.Data, rw, false},
		{desc.Bss, rw, true},
		{desc.Text, ro, false},
		{desc.Rodata, ro, false},
	}

	buf := make([]byte, mm.PageSize)
	for _, s := range segments {
		if s.seg.Len == 0 {
			continue
		}

		if err := as.AllocatePages(s.seg.Addr, s.seg.Len, s.flags); err != nil {
			return err
		}

		if s.fill {
			kernel.Memset(buf, 0)
		}

		for done := uint32(0); done < s.seg.Len; {
			chunk := s.seg.Len - done
			if chunk > mm.PageSize {
				chunk = mm.PageSize
			}

			if !s.fill {
				n := l.images.ReadBytes(desc.Name, int(s.seg.Offset+done), int(chunk), buf)
				if n != int(chunk) {
					return errShortSegment
				}
			}

			if err := as.Write(s.seg.Addr+done, buf[:chunk]); err != nil {
				return err
			}
			done += chunk
		}
	}

	return nil
}

// buildStack maps the user stack and lays out the argument strings, the
// NULL terminated argv array and the parameters of the program entry point:
// stack_low, stack_high, argv and argc followed by a zero return address.
func (l *Loader) buildStack(as *vmm.AddressSpace, argv []string) (uint32, *kernel.Error) {
	stackLow := UserStackTop - l.stackSize + 1

	needed := uint64(5+len(argv)+1)*wordSize + wordSize
	for _, arg := range argv {
		needed += uint64(len(arg) + 1)
	}
	if needed > uint64(l.stackSize) {
		return 0, errArgvTooLarge
	}

	if err := as.AllocatePages(stackLow, l.stackSize, vmm.FlagRW|vmm.FlagUserAccessible); err != nil {
		return 0, err
	}

	esp := UserStackTop + 1
	ptrs := make([]uint32, len(argv)+1)
	for i := len(argv) - 1; i >= 0; i-- {
		esp -= uint32(len(argv[i]) + 1)
		if err := as.Write(esp, append([]byte(argv[i]), 0)); err != nil {
			return 0, err
		}
		ptrs[i] = esp
	}

	esp &^= wordSize - 1
	esp -= uint32(len(ptrs)) * wordSize
	argvAddr := esp
	for i, ptr := range ptrs {
		if err := as.WriteUint32(argvAddr+uint32(i)*wordSize, ptr); err != nil {
			return 0, err
		}
	}

	for _, word := range []uint32{stackLow, UserStackTop, argvAddr, uint32(len(argv)), 0} {
		esp -= wordSize
		if err := as.WriteUint32(esp, word); err != nil {
			return 0, err
		}
	}

	return esp, nil
}

// commit installs the new address space and the user mode entry state.
func (l *Loader) commit(pcb *proc.PCB, thread *proc.TCB, desc *Descriptor, as *vmm.AddressSpace, esp uint32) {
	enabled := l.cpu.SaveAndDisable()

	old := pcb.AddressSpace
	pcb.AddressSpace = as
	pcb.Image = desc.Name
	pcb.Regions = make(map[uint32]uint32)
	as.Activate(l.cpu)
	if old != nil {
		old.Destroy()
	}

	thread.Regs = gate.Registers{
		EIP:     desc.Entry,
		CS:      gate.UserCS,
		EFlags:  gate.EFlagsBase | gate.EFlagsIF,
		UserESP: esp,
		SS:      gate.UserSS,
	}
	l.loads.Add(1)

	l.cpu.Restore(enabled)
}

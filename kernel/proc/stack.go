package proc

import (
	"github.com/zjuxlh1993/15410-1/kernel"
	"github.com/zjuxlh1993/15410-1/kernel/gate"
	"github.com/zjuxlh1993/15410-1/kernel/mm"
	"github.com/zjuxlh1993/15410-1/kernel/mm/vmm"
)

// KernelStackBase is the virtual address of the first kernel stack. Each
// stack is followed by an unmapped guard page.
const KernelStackBase = uint32(0x00400000)

var (
	errStackOverflow  = &kernel.Error{Module: "proc", Message: "kernel stack overflow"}
	errStackUnderflow = &kernel.Error{Module: "proc", Message: "kernel stack underflow"}
	errStackSize      = &kernel.Error{Module: "proc", Message: "kernel stack size mismatch"}
	errStackRegion    = &kernel.Error{Module: "proc", Message: "kernel stacks do not fit below user memory"}
	errNoKernelStack  = &kernel.Error{Module: "proc", Message: "no free kernel stacks", Code: -10}
	errForeignStack   = &kernel.Error{Module: "proc", Message: "stack was not acquired from this pool"}
)

// KernelStack is a fixed-size stack region. Addresses passed to its methods
// are kernel virtual addresses in [Base, Top()].
type KernelStack struct {
	Base uint32

	mem   []byte
	index int
	busy  bool
}

// Size returns the size of the stack region in bytes.
func (s *KernelStack) Size() uint32 {
	return uint32(len(s.mem))
}

// Top returns the initial stack pointer of an empty stack.
func (s *KernelStack) Top() uint32 {
	return s.Base + uint32(len(s.mem))
}

// Contains returns true if addr is a valid stack pointer for this stack.
func (s *KernelStack) Contains(addr uint32) bool {
	return addr >= s.Base && addr <= s.Top()
}

// Bytes returns the stack contents between the addresses lo and hi.
func (s *KernelStack) Bytes(lo, hi uint32) []byte {
	return s.mem[lo-s.Base : hi-s.Base : hi-s.Base]
}

// Rebase translates a stack pointer into src to the same offset in s.
func (s *KernelStack) Rebase(esp uint32, src *KernelStack) uint32 {
	return s.Base + (esp - src.Base)
}

// PushFrame stores a tagged copy of regs below esp and returns the new
// stack pointer.
func (s *KernelStack) PushFrame(esp uint32, regs *gate.Registers) (uint32, *kernel.Error) {
	if !s.Contains(esp) || esp-s.Base < gate.FrameSize {
		return esp, errStackOverflow
	}

	esp -= gate.FrameSize
	if err := gate.EncodeFrame(s.Bytes(esp, esp+gate.FrameSize), regs); err != nil {
		return esp + gate.FrameSize, err
	}
	return esp, nil
}

// PopFrame reads the frame stored at esp and returns it together with the
// stack pointer above it. The frame's magic word is cleared so that the
// same frame can never be popped twice.
func (s *KernelStack) PopFrame(esp uint32) (gate.Registers, uint32, *kernel.Error) {
	if !s.Contains(esp) || s.Top()-esp < gate.FrameSize {
		return gate.Registers{}, esp, errStackUnderflow
	}

	frame := s.Bytes(esp, esp+gate.FrameSize)
	regs, err := gate.DecodeFrame(frame)
	if err != nil {
		return gate.Registers{}, esp, err
	}

	kernel.Memset(frame[:4], 0)
	return regs, esp + gate.FrameSize, nil
}

// CopyFrom replaces the contents of s with the contents of src. Both stacks
// must have the same size.
func (s *KernelStack) CopyFrom(src *KernelStack) *kernel.Error {
	if len(s.mem) != len(src.mem) {
		return errStackSize
	}

	kernel.Memcopy(s.mem, src.mem)
	return nil
}

// StackPool hands out a fixed number of equally sized kernel stacks.
type StackPool struct {
	stackSize uint32
	stacks    []*KernelStack
	free      []int
}

// NewStackPool creates a pool of count stacks, each pages pages long. The
// stacks are laid out from KernelStackBase upwards and must end below the
// start of user memory.
func NewStackPool(count int, pages uint32) (*StackPool, *kernel.Error) {
	stackSize := pages * mm.PageSize
	stride := uint64(stackSize + mm.PageSize)
	if count <= 0 || pages == 0 || uint64(KernelStackBase)+uint64(count)*stride > uint64(vmm.UserMemStart) {
		return nil, errStackRegion
	}

	pool := &StackPool{
		stackSize: stackSize,
		stacks:    make([]*KernelStack, count),
		free:      make([]int, 0, count),
	}

	for i := count - 1; i >= 0; i-- {
		pool.free = append(pool.free, i)
	}

	return pool, nil
}

// StackSize returns the size in bytes of the stacks handed out by the pool.
func (p *StackPool) StackSize() uint32 {
	return p.stackSize
}

// Available returns the number of stacks that can still be acquired.
func (p *StackPool) Available() int {
	return len(p.free)
}

// Acquire reserves a stack. The stack contents are zeroed.
func (p *StackPool) Acquire() (*KernelStack, *kernel.Error) {
	if len(p.free) == 0 {
		return nil, errNoKernelStack
	}

	index := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]

	stack := p.stacks[index]
	if stack == nil {
		stack = &KernelStack{
			Base:  KernelStackBase + uint32(index)*(p.stackSize+mm.PageSize),
			mem:   make([]byte, p.stackSize),
			index: index,
		}
		p.stacks[index] = stack
	} else {
		kernel.Memset(stack.mem, 0)
	}

	stack.busy = true
	return stack, nil
}

// Release returns a stack to the pool.
func (p *StackPool) Release(stack *KernelStack) *kernel.Error {
	if stack == nil || stack.index >= len(p.stacks) || p.stacks[stack.index] != stack || !stack.busy {
		return errForeignStack
	}

	stack.busy = false
	p.free = append(p.free, stack.index)
	return nil
}

// Lookup returns the acquired stack that addr is a valid stack pointer for
// or nil if addr falls in a guard page, a free stack or outside the pool.
func (p *StackPool) Lookup(addr uint32) *KernelStack {
	if addr < KernelStackBase {
		return nil
	}

	index := int((addr - KernelStackBase) / (p.stackSize + mm.PageSize))
	if index >= len(p.stacks) {
		return nil
	}

	if stack := p.stacks[index]; stack != nil && stack.busy && stack.Contains(addr) {
		return stack
	}

	return nil
}

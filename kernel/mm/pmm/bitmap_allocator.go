// Package pmm implements the physical frame allocator.
package pmm

import (
	"math/bits"
	"sync/atomic"

	"github.com/zjuxlh1993/15410-1/kernel"
	"github.com/zjuxlh1993/15410-1/kernel/kfmt"
	"github.com/zjuxlh1993/15410-1/kernel/mm"
	"github.com/zjuxlh1993/15410-1/kernel/sync"
)

var (
	errBitmapAllocOutOfMemory     = &kernel.Error{Module: "bitmap_alloc", Message: "out of memory", Code: -10}
	errBitmapAllocFrameNotManaged = &kernel.Error{Module: "bitmap_alloc", Message: "frame not managed by this allocator"}
	errBitmapAllocDoubleFree      = &kernel.Error{Module: "bitmap_alloc", Message: "frame is already free"}
)

// BitmapAllocator hands out frames from a contiguous physical memory arena.
// Frame allocation state is tracked by a bitmap where each bit corresponds to
// a frame (0 = free, 1 = reserved). Frame 0 is always reserved so that
// physical address 0 never backs a mapping.
type BitmapAllocator struct {
	mutex sync.Spinlock

	arena  []byte
	bitmap []uint64

	totalFrames uint32
	freeFrames  atomic.Uint32

	// lastAllocIndex is the bitmap block where the next search starts.
	lastAllocIndex int
}

// NewBitmapAllocator returns an allocator managing frameCount frames.
func NewBitmapAllocator(frameCount uint32) *BitmapAllocator {
	alloc := &BitmapAllocator{
		arena:       make([]byte, uint64(frameCount)*uint64(mm.PageSize)),
		bitmap:      make([]uint64, (frameCount+63)>>6),
		totalFrames: frameCount,
	}

	// mark the bits past the last frame as reserved
	for frame := frameCount; frame < uint32(len(alloc.bitmap))<<6; frame++ {
		alloc.bitmap[frame>>6] |= 1 << (frame & 63)
	}

	alloc.freeFrames.Store(frameCount)
	if frameCount > 0 {
		alloc.bitmap[0] |= 1
		alloc.freeFrames.Store(frameCount - 1)
	}

	return alloc
}

// AllocFrame reserves and returns a free frame.
func (alloc *BitmapAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	alloc.mutex.Acquire()
	defer alloc.mutex.Release()

	for scanned, index := 0, alloc.lastAllocIndex; scanned < len(alloc.bitmap); scanned, index = scanned+1, (index+1)%len(alloc.bitmap) {
		block := alloc.bitmap[index]
		if block == ^uint64(0) {
			continue
		}

		bit := bits.TrailingZeros64(^block)
		alloc.bitmap[index] |= 1 << bit
		alloc.lastAllocIndex = index
		alloc.freeFrames.Add(^uint32(0))
		return mm.Frame(index<<6 + bit), nil
	}

	return mm.InvalidFrame, errBitmapAllocOutOfMemory
}

// FreeFrame releases a frame previously allocated via a call to AllocFrame.
func (alloc *BitmapAllocator) FreeFrame(frame mm.Frame) *kernel.Error {
	if frame == 0 || uint32(frame) >= alloc.totalFrames {
		return errBitmapAllocFrameNotManaged
	}

	alloc.mutex.Acquire()
	defer alloc.mutex.Release()

	block, mask := frame>>6, uint64(1)<<(frame&63)
	if alloc.bitmap[block]&mask == 0 {
		return errBitmapAllocDoubleFree
	}

	alloc.bitmap[block] &^= mask
	alloc.freeFrames.Add(1)
	return nil
}

// FrameData returns the contents of frame.
func (alloc *BitmapAllocator) FrameData(frame mm.Frame) []byte {
	start := uint64(frame) << mm.PageShift
	end := start + uint64(mm.PageSize)
	return alloc.arena[start:end:end]
}

// FreeFrames returns the number of frames that can still be allocated.
func (alloc *BitmapAllocator) FreeFrames() uint32 {
	return alloc.freeFrames.Load()
}

// TotalFrames returns the number of frames managed by the allocator.
func (alloc *BitmapAllocator) TotalFrames() uint32 {
	return alloc.totalFrames
}

// Init sets up the kernel physical memory allocation sub-system with
// frameCount frames and registers it with the mm package.
func Init(frameCount uint32) *BitmapAllocator {
	alloc := NewBitmapAllocator(frameCount)
	mm.SetPhysicalMemory(alloc)

	kfmt.Printf("[pmm] physical memory: %d frames (%d KiB), %d free\n",
		alloc.totalFrames, uint64(alloc.totalFrames)*uint64(mm.PageSize)>>10, alloc.FreeFrames())
	return alloc
}

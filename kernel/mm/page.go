package mm

import (
	"math"

	"github.com/zjuxlh1993/15410-1/kernel"
)

// Frame describes a physical memory page index.
type Frame uint32

const (
	// InvalidFrame is returned by page allocators when
	// they fail to reserve the requested frame.
	InvalidFrame = Frame(math.MaxUint32)
)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical memory address pointed to by this Frame.
func (f Frame) Address() uint32 {
	return uint32(f) << PageShift
}

// FrameFromAddress returns a Frame that corresponds to
// the given physical address. This function can handle
// both page-aligned and not aligned addresses. in the
// latter case, the input address will be rounded down
// to the frame that contains it.
func FrameFromAddress(physAddr uint32) Frame {
	return Frame(physAddr >> PageShift)
}

// PhysicalMemory is implemented by physical frame allocators. Frame contents
// are reachable through FrameData, the equivalent of the kernel's direct
// mapping of physical memory.
type PhysicalMemory interface {
	// AllocFrame reserves a free frame. The frame contents are undefined.
	AllocFrame() (Frame, *kernel.Error)

	// FreeFrame returns a frame to the allocator.
	FreeFrame(Frame) *kernel.Error

	// FrameData returns a PageSize slice aliasing the frame contents.
	FrameData(Frame) []byte
}

var (
	// physMem points to the physical memory registered using
	// SetPhysicalMemory.
	physMem PhysicalMemory

	errNoPhysicalMemory = &kernel.Error{Module: "mm", Message: "no physical memory registered", Code: -10}
)

// SetPhysicalMemory registers the physical memory that will be used by the
// vmm code when new physical frames need to be allocated.
func SetPhysicalMemory(pm PhysicalMemory) { physMem = pm }

// AllocFrame allocates a new physical frame using the currently active
// physical memory.
func AllocFrame() (Frame, *kernel.Error) {
	if physMem == nil {
		return InvalidFrame, errNoPhysicalMemory
	}
	return physMem.AllocFrame()
}

// FreeFrame releases a frame obtained via AllocFrame.
func FreeFrame(f Frame) *kernel.Error {
	if physMem == nil {
		return errNoPhysicalMemory
	}
	return physMem.FreeFrame(f)
}

// FrameData returns the contents of frame f.
func FrameData(f Frame) []byte {
	return physMem.FrameData(f)
}

// Page describes a virtual memory page index.
type Page uint32

// Address returns the virtual memory address pointed to by this Page.
func (p Page) Address() uint32 {
	return uint32(p) << PageShift
}

// PageFromAddress returns a Page that corresponds to the given virtual
// address. This function can handle both page-aligned and not aligned virtual
// addresses. in the latter case, the input address will be rounded down to the
// page that contains it.
func PageFromAddress(virtAddr uint32) Page {
	return Page(virtAddr >> PageShift)
}

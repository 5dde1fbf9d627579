package vmm

import (
	"github.com/zjuxlh1993/15410-1/kernel"
	"github.com/zjuxlh1993/15410-1/kernel/cpu"
	"github.com/zjuxlh1993/15410-1/kernel/mm"
)

var (
	errKernelRegion = &kernel.Error{Module: "vmm", Message: "address range overlaps kernel memory", Code: -14}
	errDestroyed    = &kernel.Error{Module: "vmm", Message: "address space has been destroyed"}
)

// AddressSpace describes the user portion of a process's virtual address
// space. It owns the page directory, every page table it references and
// every frame mapped through it.
type AddressSpace struct {
	pdtFrame mm.Frame
}

// NewAddressSpace allocates an empty page directory.
func NewAddressSpace() (*AddressSpace, *kernel.Error) {
	pdtFrame, err := allocZeroedFrame()
	if err != nil {
		return nil, err
	}

	return &AddressSpace{pdtFrame: pdtFrame}, nil
}

func allocZeroedFrame() (mm.Frame, *kernel.Error) {
	frame, err := mm.AllocFrame()
	if err != nil {
		return mm.InvalidFrame, err
	}

	kernel.Memset(mm.FrameData(frame), 0)
	return frame, nil
}

// PDT returns the frame holding the page directory.
func (as *AddressSpace) PDT() mm.Frame {
	return as.pdtFrame
}

// Activate loads this address space into the CPU's CR3 register.
func (as *AddressSpace) Activate(c *cpu.CPU) {
	c.SwitchPDT(as.pdtFrame.Address())
}

// Map establishes a mapping between a virtual page and a physical memory
// frame. Missing page tables are allocated on demand.
func (as *AddressSpace) Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	if !as.pdtFrame.Valid() {
		return errDestroyed
	}

	var err *kernel.Error

	walk(as.pdtFrame, page.Address(), func(pteLevel uint8, table mm.Frame, index uint32, pte pageTableEntry) bool {
		// If we reached the last level all we need to do is to map the
		// frame in place and flag it as present
		if pteLevel == pageLevels-1 {
			pte = 0
			pte.SetFrame(frame)
			pte.SetFlags(flags | FlagPresent)
			storeEntry(table, index, pte)
			return true
		}

		if pte.HasFlags(FlagPresent) {
			return true
		}

		// Next table does not yet exist; we need to allocate a
		// physical frame for it and clear its contents. Directory
		// entries are permissive; the leaf entry decides access.
		var tableFrame mm.Frame
		if tableFrame, err = allocZeroedFrame(); err != nil {
			return false
		}

		pte = 0
		pte.SetFrame(tableFrame)
		pte.SetFlags(FlagPresent | FlagRW | FlagUserAccessible)
		storeEntry(table, index, pte)
		return true
	})

	return err
}

// Unmap removes a mapping previously installed via a call to Map and
// returns the frame it pointed to. The frame is not released.
func (as *AddressSpace) Unmap(page mm.Page) (mm.Frame, *kernel.Error) {
	var (
		frame = mm.InvalidFrame
		err   = ErrInvalidMapping
	)

	walk(as.pdtFrame, page.Address(), func(pteLevel uint8, table mm.Frame, index uint32, pte pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			return false
		}

		if pteLevel == pageLevels-1 {
			frame, err = pte.Frame(), nil
			storeEntry(table, index, 0)
		}
		return true
	})

	return frame, err
}

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrInvalidMapping if the virtual address does not
// correspond to a mapped physical address.
func (as *AddressSpace) Translate(virtAddr uint32) (uint32, *kernel.Error) {
	pte, err := pteForAddress(as.pdtFrame, virtAddr)
	if err != nil {
		return 0, err
	}

	// Calculate the physical address by taking the physical frame address and
	// appending the offset from the virtual address
	return pte.Frame().Address() + PageOffset(virtAddr), nil
}

// visit calls fn for each present leaf entry in ascending page order. The
// iteration stops early if fn returns false.
func (as *AddressSpace) visit(fn func(page mm.Page, pte pageTableEntry) bool) {
	for pdIndex := uint32(0); pdIndex < entriesPerTable; pdIndex++ {
		pde := loadEntry(as.pdtFrame, pdIndex)
		if !pde.HasFlags(FlagPresent) {
			continue
		}

		for ptIndex := uint32(0); ptIndex < entriesPerTable; ptIndex++ {
			pte := loadEntry(pde.Frame(), ptIndex)
			if !pte.HasFlags(FlagPresent) {
				continue
			}

			page := mm.Page(pdIndex<<pageLevelBits[1] | ptIndex)
			if !fn(page, pte) {
				return
			}
		}
	}
}

// Pages returns the number of mapped pages.
func (as *AddressSpace) Pages() int {
	var count int
	as.visit(func(mm.Page, pageTableEntry) bool {
		count++
		return true
	})
	return count
}

// AllocatePages backs the virtual range [base, base+length) with zeroed
// frames. The range is rounded outwards to page boundaries. Pages that are
// already mapped keep their contents. If an allocation fails, the pages
// mapped by this call are released and the address space is left as it was.
func (as *AddressSpace) AllocatePages(base, length uint32, flags PageTableEntryFlag) *kernel.Error {
	if length == 0 {
		return nil
	}

	start := uint64(mm.PageAlignDown(base))
	end := mm.PageAlignUp(uint64(base) + uint64(length))
	if start < uint64(UserMemStart) || end > 1<<32 {
		return errKernelRegion
	}

	var added []mm.Page
	for addr := start; addr < end; addr += uint64(mm.PageSize) {
		page := mm.PageFromAddress(uint32(addr))
		if _, err := pteForAddress(as.pdtFrame, page.Address()); err == nil {
			continue
		}

		frame, err := allocZeroedFrame()
		if err == nil {
			if err = as.Map(page, frame, flags); err != nil {
				_ = mm.FreeFrame(frame)
			}
		}

		if err != nil {
			for _, p := range added {
				if f, unmapErr := as.Unmap(p); unmapErr == nil {
					_ = mm.FreeFrame(f)
				}
			}
			return err
		}

		added = append(added, page)
	}

	return nil
}

// RemovePages unmaps and releases every page in [base, base+length).
func (as *AddressSpace) RemovePages(base, length uint32) *kernel.Error {
	start := uint64(mm.PageAlignDown(base))
	end := mm.PageAlignUp(uint64(base) + uint64(length))
	if start < uint64(UserMemStart) || end > 1<<32 {
		return errKernelRegion
	}

	for addr := start; addr < end; addr += uint64(mm.PageSize) {
		if frame, err := as.Unmap(mm.PageFromAddress(uint32(addr))); err == nil {
			_ = mm.FreeFrame(frame)
		}
	}
	return nil
}

// Duplicate returns an eager copy of the address space: every mapped page
// gets a new frame holding a copy of its contents and the same flags. No
// frames are shared so writes through either space are never visible in the
// other. On failure, everything allocated for the copy is released and the
// source is left untouched.
func (as *AddressSpace) Duplicate() (*AddressSpace, *kernel.Error) {
	clone, err := NewAddressSpace()
	if err != nil {
		return nil, err
	}

	as.visit(func(page mm.Page, pte pageTableEntry) bool {
		var frame mm.Frame
		if frame, err = mm.AllocFrame(); err != nil {
			return false
		}

		kernel.Memcopy(mm.FrameData(frame), mm.FrameData(pte.Frame()))
		if err = clone.Map(page, frame, pte.Flags()); err != nil {
			_ = mm.FreeFrame(frame)
			return false
		}
		return true
	})

	if err != nil {
		clone.Destroy()
		return nil, err
	}

	return clone, nil
}

// Destroy releases every frame owned by the address space, including its
// page tables and directory. The address space must not be active.
func (as *AddressSpace) Destroy() {
	if !as.pdtFrame.Valid() {
		return
	}

	for pdIndex := uint32(0); pdIndex < entriesPerTable; pdIndex++ {
		pde := loadEntry(as.pdtFrame, pdIndex)
		if !pde.HasFlags(FlagPresent) {
			continue
		}

		for ptIndex := uint32(0); ptIndex < entriesPerTable; ptIndex++ {
			if pte := loadEntry(pde.Frame(), ptIndex); pte.HasFlags(FlagPresent) {
				_ = mm.FreeFrame(pte.Frame())
			}
		}
		_ = mm.FreeFrame(pde.Frame())
	}

	_ = mm.FreeFrame(as.pdtFrame)
	as.pdtFrame = mm.InvalidFrame
}

package vmm

import (
	"github.com/zjuxlh1993/15410-1/kernel"
	"github.com/zjuxlh1993/15410-1/kernel/mm"
)

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level, the frame holding the table for
// that level and the index and value of the entry that maps the address. If
// the function returns false, then the page walk is aborted.
type pageTableWalker func(pteLevel uint8, table mm.Frame, index uint32, pte pageTableEntry) bool

// walk performs a page table walk for the given virtual address starting at
// the page directory stored in pdtFrame. It calls the suppplied walkFn with
// the page table entry that corresponds to each page table level. The walk
// ends at the first entry that is not present once walkFn has seen it.
func walk(pdtFrame mm.Frame, virtAddr uint32, walkFn pageTableWalker) {
	table := pdtFrame
	for level := uint8(0); level < pageLevels; level++ {
		// Extract the bits from virtual address that correspond to the
		// index in this level's page table
		index := (virtAddr >> pageLevelShifts[level]) & ((1 << pageLevelBits[level]) - 1)
		if !walkFn(level, table, index, loadEntry(table, index)) {
			return
		}

		// walkFn may have installed a missing table so reload the entry
		pte := loadEntry(table, index)
		if !pte.HasFlags(FlagPresent) {
			return
		}

		table = pte.Frame()
	}
}

// pteForAddress returns the final page table entry that correspond to a
// particular virtual address. The function performs a page table walk till it
// reaches the final page table entry returning ErrInvalidMapping if the page
// is not present.
func pteForAddress(pdtFrame mm.Frame, virtAddr uint32) (pageTableEntry, *kernel.Error) {
	var (
		err   = ErrInvalidMapping
		entry pageTableEntry
	)

	walk(pdtFrame, virtAddr, func(pteLevel uint8, _ mm.Frame, _ uint32, pte pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			return false
		}

		if pteLevel == pageLevels-1 {
			entry, err = pte, nil
		}
		return true
	})

	return entry, err
}

// PageOffset returns the offset within the page specified by a virtual
// address.
func PageOffset(virtAddr uint32) uint32 {
	return virtAddr & ((1 << pageLevelShifts[pageLevels-1]) - 1)
}

package mm

const (
	// PointerShift is equal to log2 of the pointer size of the 32-bit
	// target. The pointer size is defined as (1 << PointerShift).
	PointerShift = uint32(2)

	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = uint32(12)

	// PageSize defines the system's page size in bytes.
	PageSize = uint32(1 << PageShift)
)

// PageAlignDown rounds addr down to the start of the page that contains it.
func PageAlignDown(addr uint32) uint32 {
	return addr &^ (PageSize - 1)
}

// PageAlignUp rounds addr up to the next page boundary. The result is
// returned as a uint64 so that rounding the last page of the 32-bit address
// space does not wrap around.
func PageAlignUp(addr uint64) uint64 {
	return (addr + uint64(PageSize) - 1) &^ uint64(PageSize-1)
}

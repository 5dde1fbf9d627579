package vmm

import (
	"encoding/binary"

	"github.com/zjuxlh1993/15410-1/kernel"
	"github.com/zjuxlh1993/15410-1/kernel/mm"
)

var (
	// ErrBadUserPointer is returned when a user supplied address range is
	// not entirely mapped and accessible from user mode.
	ErrBadUserPointer = &kernel.Error{Module: "vmm", Message: "user pointer references unmapped or protected memory", Code: -14}

	// ErrUnterminatedString is returned when a user string does not end
	// within the allowed length.
	ErrUnterminatedString = &kernel.Error{Module: "vmm", Message: "user string is not terminated", Code: -14}
)

// forEachChunk splits [addr, addr+size) at page boundaries and calls fn with
// the backing bytes of each piece.
func (as *AddressSpace) forEachChunk(addr uint32, size int, fn func(offset int, mem []byte)) *kernel.Error {
	if uint64(addr)+uint64(size) > 1<<32 {
		return ErrInvalidMapping
	}

	for offset := 0; offset < size; {
		cur := addr + uint32(offset)
		pte, err := pteForAddress(as.pdtFrame, cur)
		if err != nil {
			return err
		}

		pageOff := PageOffset(cur)
		chunk := int(mm.PageSize - pageOff)
		if rem := size - offset; rem < chunk {
			chunk = rem
		}

		fn(offset, mm.FrameData(pte.Frame())[pageOff:pageOff+uint32(chunk)])
		offset += chunk
	}

	return nil
}

// Read copies len(buf) bytes starting at virtual address addr into buf. It
// uses kernel privileges: only presence is checked.
func (as *AddressSpace) Read(addr uint32, buf []byte) *kernel.Error {
	return as.forEachChunk(addr, len(buf), func(offset int, mem []byte) {
		copy(buf[offset:], mem)
	})
}

// Write copies buf to virtual address addr. It uses kernel privileges so
// read-only pages can be written.
func (as *AddressSpace) Write(addr uint32, buf []byte) *kernel.Error {
	return as.forEachChunk(addr, len(buf), func(offset int, mem []byte) {
		copy(mem, buf[offset:])
	})
}

// ReadUint32 reads a little-endian word from addr.
func (as *AddressSpace) ReadUint32(addr uint32) (uint32, *kernel.Error) {
	var buf [4]byte
	if err := as.Read(addr, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// WriteUint32 writes a little-endian word to addr.
func (as *AddressSpace) WriteUint32(addr, value uint32) *kernel.Error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	return as.Write(addr, buf[:])
}

// CheckUser verifies that user code may access every byte of [addr,
// addr+size). Write accesses additionally require writable pages.
func (as *AddressSpace) CheckUser(addr, size uint32, write bool) *kernel.Error {
	if addr < UserMemStart || uint64(addr)+uint64(size) > 1<<32 {
		return ErrBadUserPointer
	}

	required := FlagPresent | FlagUserAccessible
	if write {
		required |= FlagRW
	}

	end := uint64(addr) + uint64(size)
	for page := uint64(mm.PageAlignDown(addr)); page < end; page += uint64(mm.PageSize) {
		pte, err := pteForAddress(as.pdtFrame, uint32(page))
		if err != nil || !pte.HasFlags(required) {
			return ErrBadUserPointer
		}
	}

	return nil
}

// IsUserPointerValid returns true if user code may read the size bytes
// starting at addr.
func (as *AddressSpace) IsUserPointerValid(addr, size uint32) bool {
	return as.CheckUser(addr, size, false) == nil
}

// StringAt copies the NUL-terminated user string at addr. Every byte is
// checked for user accessibility before it is read and at most maxLen bytes
// (excluding the terminator) are accepted, so an unterminated string is
// rejected instead of walking off into unmapped memory.
func (as *AddressSpace) StringAt(addr uint32, maxLen int) (string, *kernel.Error) {
	var (
		out []byte
		b   [1]byte
	)

	for i := 0; i <= maxLen; i++ {
		cur := uint64(addr) + uint64(i)
		if cur >= 1<<32 || !as.IsUserPointerValid(uint32(cur), 1) {
			return "", ErrBadUserPointer
		}

		if err := as.Read(uint32(cur), b[:]); err != nil {
			return "", ErrBadUserPointer
		}

		if b[0] == 0 {
			return string(out), nil
		}
		out = append(out, b[0])
	}

	return "", ErrUnterminatedString
}

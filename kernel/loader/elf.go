package loader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"io"

	"github.com/zjuxlh1993/15410-1/kernel"
)

var (
	errImageNotFound  = &kernel.Error{Module: "loader", Message: "program image not found", Code: -1}
	errMalformedImage = &kernel.Error{Module: "loader", Message: "malformed program image", Code: -2}
)

// Images is implemented by program image stores.
type Images interface {
	Has(name string) bool
	ReadBytes(name string, offset, length int, buf []byte) int
}

// Segment describes a section of a program image.
type Segment struct {
	// Addr is the virtual address the segment is loaded at.
	Addr uint32

	// Offset is the position of the segment contents in the image.
	Offset uint32

	Len uint32
}

// Descriptor holds the memory layout of a program image.
type Descriptor struct {
	Name  string
	Entry uint32

	Text   Segment
	Data   Segment
	Rodata Segment
	Bss    Segment
}

// imageReader exposes an image as an io.ReaderAt.
type imageReader struct {
	images Images
	name   string
}

func (r imageReader) ReadAt(p []byte, off int64) (int, error) {
	n := r.images.ReadBytes(r.name, int(off), len(p), p)
	switch {
	case n < 0:
		return 0, io.EOF
	case n < len(p):
		return n, io.ErrUnexpectedEOF
	}
	return n, nil
}

// Parse reads the layout of the named ELF32 i386 image. Sections missing
// from the image are reported with a zero length.
func Parse(images Images, name string) (*Descriptor, *kernel.Error) {
	if !images.Has(name) {
		return nil, errImageNotFound
	}

	f, err := elf.NewFile(imageReader{images: images, name: name})
	if err != nil {
		return nil, errMalformedImage
	}

	if f.Class != elf.ELFCLASS32 || f.Machine != elf.EM_386 || f.Type != elf.ET_EXEC {
		return nil, errMalformedImage
	}

	desc := &Descriptor{Name: name, Entry: uint32(f.Entry)}
	for _, sec := range f.Sections {
		seg := Segment{Addr: uint32(sec.Addr), Offset: uint32(sec.Offset), Len: uint32(sec.Size)}
		switch sec.Name {
		case ".text":
			desc.Text = seg
		case ".data":
			desc.Data = seg
		case ".rodata":
			desc.Rodata = seg
		case ".bss":
			seg.Offset = 0
			desc.Bss = seg
		}
	}

	return desc, nil
}

// Section describes the address and contents of a section in an image built
// by BuildImage.
type Section struct {
	Addr  uint32
	Bytes []byte
}

// Layout describes an image for BuildImage.
type Layout struct {
	Entry uint32

	Text   Section
	Data   Section
	Rodata Section

	BssAddr uint32
	BssLen  uint32
}

const (
	elfHeaderSize  = 52
	elfSectionSize = 40
)

// BuildImage encodes layout as a minimal ELF32 i386 executable containing a
// section header table and the sections that are not empty.
func BuildImage(layout Layout) []byte {
	type section struct {
		name  string
		typ   elf.SectionType
		flags elf.SectionFlag
		addr  uint32
		data  []byte
		size  uint32
	}

	var sections []section
	add := func(name string, flags elf.SectionFlag, sec Section) {
		if len(sec.Bytes) != 0 {
			sections = append(sections, section{name, elf.SHT_PROGBITS, flags, sec.Addr, sec.Bytes, uint32(len(sec.Bytes))})
		}
	}
	add(".text", elf.SHF_ALLOC|elf.SHF_EXECINSTR, layout.Text)
	add(".data", elf.SHF_ALLOC|elf.SHF_WRITE, layout.Data)
	add(".rodata", elf.SHF_ALLOC, layout.Rodata)
	if layout.BssLen != 0 {
		sections = append(sections, section{".bss", elf.SHT_NOBITS, elf.SHF_ALLOC | elf.SHF_WRITE, layout.BssAddr, nil, layout.BssLen})
	}

	// the section name table; index 0 is the empty name
	shstrtab := []byte{0}
	nameOffsets := make([]uint32, len(sections)+1)
	for i, sec := range sections {
		nameOffsets[i] = uint32(len(shstrtab))
		shstrtab = append(append(shstrtab, sec.name...), 0)
	}
	nameOffsets[len(sections)] = uint32(len(shstrtab))
	shstrtab = append(append(shstrtab, ".shstrtab"...), 0)
	sections = append(sections, section{".shstrtab", elf.SHT_STRTAB, 0, 0, shstrtab, uint32(len(shstrtab))})

	var body bytes.Buffer
	offsets := make([]uint32, len(sections))
	for i, sec := range sections {
		offsets[i] = elfHeaderSize + uint32(body.Len())
		body.Write(sec.data)
	}

	shoff := elfHeaderSize + uint32(body.Len())
	shoff = (shoff + 3) &^ 3
	body.Write(make([]byte, int(shoff)-elfHeaderSize-body.Len()))

	hdr := elf.Header32{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_386),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     layout.Entry,
		Shoff:     shoff,
		Ehsize:    elfHeaderSize,
		Shentsize: elfSectionSize,
		Shnum:     uint16(len(sections) + 1),
		Shstrndx:  uint16(len(sections)),
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS32)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	var out bytes.Buffer
	_ = binary.Write(&out, binary.LittleEndian, &hdr)
	out.Write(body.Bytes())

	// the null section comes first
	_ = binary.Write(&out, binary.LittleEndian, &elf.Section32{})
	for i, sec := range sections {
		sh := elf.Section32{
			Name:      nameOffsets[i],
			Type:      uint32(sec.typ),
			Flags:     uint32(sec.flags),
			Addr:      sec.addr,
			Off:       offsets[i],
			Size:      sec.size,
			Addralign: 1,
		}
		if sec.typ == elf.SHT_NOBITS {
			sh.Off = 0
		}
		_ = binary.Write(&out, binary.LittleEndian, &sh)
	}

	return out.Bytes()
}

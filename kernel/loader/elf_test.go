package loader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"
)

var testLayout = Layout{
	Entry:   0x01000010,
	Text:    Section{Addr: 0x01000000, Bytes: bytes.Repeat([]byte{0x90}, 0x40)},
	Rodata:  Section{Addr: 0x01001000, Bytes: []byte("hello, world\x00")},
	Data:    Section{Addr: 0x01002000, Bytes: []byte{1, 2, 3, 4, 5}},
	BssAddr: 0x01002005,
	BssLen:  0x1800,
}

func TestBuildAndParse(t *testing.T) {
	images := NewImageStore()
	images.Add("prog", BuildImage(testLayout))

	desc, err := Parse(images, "prog")
	if err != nil {
		t.Fatal(err)
	}

	if desc.Name != "prog" || desc.Entry != testLayout.Entry {
		t.Fatalf("unexpected descriptor header: %+v", desc)
	}

	specs := []struct {
		name string
		seg  Segment
		sec  Section
	}{
		{".text", desc.Text, testLayout.Text},
		{".data", desc.Data, testLayout.Data},
		{".rodata", desc.Rodata, testLayout.Rodata},
	}

	for _, spec := range specs {
		if spec.seg.Addr != spec.sec.Addr || spec.seg.Len != uint32(len(spec.sec.Bytes)) {
			t.Errorf("[%s] expected addr %x len %d; got %+v", spec.name, spec.sec.Addr, len(spec.sec.Bytes), spec.seg)
			continue
		}

		buf := make([]byte, spec.seg.Len)
		if n := images.ReadBytes("prog", int(spec.seg.Offset), len(buf), buf); n != len(buf) || !bytes.Equal(buf, spec.sec.Bytes) {
			t.Errorf("[%s] expected section contents %v at offset %d; got %v", spec.name, spec.sec.Bytes, spec.seg.Offset, buf)
		}
	}

	if desc.Bss.Addr != testLayout.BssAddr || desc.Bss.Len != testLayout.BssLen {
		t.Fatalf("expected bss at %x with len %x; got %+v", testLayout.BssAddr, testLayout.BssLen, desc.Bss)
	}
}

func TestParseMissingSections(t *testing.T) {
	images := NewImageStore()
	images.Add("tiny", BuildImage(Layout{
		Entry: 0x01000000,
		Text:  Section{Addr: 0x01000000, Bytes: []byte{0xc3}},
	}))

	desc, err := Parse(images, "tiny")
	if err != nil {
		t.Fatal(err)
	}

	if desc.Data.Len != 0 || desc.Rodata.Len != 0 || desc.Bss.Len != 0 {
		t.Fatalf("expected missing sections to have zero length; got %+v", desc)
	}
}

func TestParseErrors(t *testing.T) {
	good := BuildImage(testLayout)

	wrongMachine := append([]byte(nil), good...)
	binary.LittleEndian.PutUint16(wrongMachine[18:], uint16(elf.EM_X86_64))

	truncated := good[:len(good)-8]

	images := NewImageStore()
	images.Add("garbage", []byte("definitely not an ELF file, just text"))
	images.Add("wrong-machine", wrongMachine)
	images.Add("truncated", truncated)
	images.Add("empty", nil)

	specs := []struct {
		name string
		exp  int
	}{
		{"missing", -1},
		{"garbage", -2},
		{"wrong-machine", -2},
		{"truncated", -2},
		{"empty", -2},
	}

	for _, spec := range specs {
		if _, err := Parse(images, spec.name); err == nil || err.Code != spec.exp {
			t.Errorf("[%s] expected error code %d; got %v", spec.name, spec.exp, err)
		}
	}
}

package mm

import (
	"testing"

	"github.com/zjuxlh1993/15410-1/kernel"
)

func TestFrameMethods(t *testing.T) {
	for frameIndex := uint32(0); frameIndex < 128; frameIndex++ {
		frame := Frame(frameIndex)

		if !frame.Valid() {
			t.Errorf("expected frame %d to be valid", frameIndex)
		}

		if exp, got := frameIndex<<PageShift, frame.Address(); got != exp {
			t.Errorf("expected frame (%d, index: %d) call to Address() to return %x; got %x", frame, frameIndex, exp, got)
		}
	}

	invalidFrame := InvalidFrame
	if invalidFrame.Valid() {
		t.Error("expected InvalidFrame.Valid() to return false")
	}
}

func TestFrameFromAddress(t *testing.T) {
	specs := []struct {
		input    uint32
		expFrame Frame
	}{
		{0, Frame(0)},
		{4095, Frame(0)},
		{4096, Frame(1)},
		{4123, Frame(1)},
	}

	for specIndex, spec := range specs {
		if got := FrameFromAddress(spec.input); got != spec.expFrame {
			t.Errorf("[spec %d] expected returned frame to be %v; got %v", specIndex, spec.expFrame, got)
		}
	}
}

type mockMemory struct {
	allocCalls, freeCalls int
	data                  [PageSize]byte
}

func (m *mockMemory) AllocFrame() (Frame, *kernel.Error) {
	m.allocCalls++
	return FrameFromAddress(0xbadf00), nil
}

func (m *mockMemory) FreeFrame(Frame) *kernel.Error {
	m.freeCalls++
	return nil
}

func (m *mockMemory) FrameData(Frame) []byte { return m.data[:] }

func TestPhysicalMemory(t *testing.T) {
	defer SetPhysicalMemory(nil)

	SetPhysicalMemory(nil)
	if _, err := AllocFrame(); err != errNoPhysicalMemory {
		t.Fatalf("expected errNoPhysicalMemory; got %v", err)
	}

	mem := &mockMemory{}
	SetPhysicalMemory(mem)

	frame, err := AllocFrame()
	if err != nil {
		t.Fatal(err)
	}
	if exp := FrameFromAddress(0xbadf00); frame != exp {
		t.Fatalf("expected frame %d; got %d", exp, frame)
	}

	if err = FreeFrame(frame); err != nil {
		t.Fatal(err)
	}

	if mem.allocCalls != 1 || mem.freeCalls != 1 {
		t.Fatalf("expected one alloc and one free call; got %d and %d", mem.allocCalls, mem.freeCalls)
	}

	if got := len(FrameData(frame)); got != int(PageSize) {
		t.Fatalf("expected frame data to be %d bytes; got %d", PageSize, got)
	}
}

func TestPageMethods(t *testing.T) {
	for pageIndex := uint32(0); pageIndex < 128; pageIndex++ {
		page := Page(pageIndex)

		if exp, got := pageIndex<<PageShift, page.Address(); got != exp {
			t.Errorf("expected page (%d, index: %d) call to Address() to return %x; got %x", page, pageIndex, exp, got)
		}
	}
}

func TestPageFromAddress(t *testing.T) {
	specs := []struct {
		input   uint32
		expPage Page
	}{
		{0, Page(0)},
		{4095, Page(0)},
		{4096, Page(1)},
		{4123, Page(1)},
	}

	for specIndex, spec := range specs {
		if got := PageFromAddress(spec.input); got != spec.expPage {
			t.Errorf("[spec %d] expected returned page to be %v; got %v", specIndex, spec.expPage, got)
		}
	}
}

func TestPageAlign(t *testing.T) {
	if exp, got := uint32(0x1000), PageAlignDown(0x1fff); got != exp {
		t.Errorf("expected PageAlignDown to return %x; got %x", exp, got)
	}

	if exp, got := uint64(0x2000), PageAlignUp(0x1001); got != exp {
		t.Errorf("expected PageAlignUp to return %x; got %x", exp, got)
	}

	if exp, got := uint64(1)<<32, PageAlignUp(0xffffffff); got != exp {
		t.Errorf("expected PageAlignUp to return %x; got %x", exp, got)
	}
}

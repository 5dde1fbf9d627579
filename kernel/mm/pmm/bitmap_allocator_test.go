package pmm

import (
	"testing"

	"github.com/zjuxlh1993/15410-1/kernel/mm"
)

func TestBitmapAllocator(t *testing.T) {
	t.Run("frame zero is reserved", func(t *testing.T) {
		alloc := NewBitmapAllocator(70)

		if exp, got := uint32(69), alloc.FreeFrames(); got != exp {
			t.Fatalf("expected %d free frames; got %d", exp, got)
		}

		seen := make(map[mm.Frame]bool)
		for i := 0; i < 69; i++ {
			frame, err := alloc.AllocFrame()
			if err != nil {
				t.Fatalf("[alloc %d] unexpected error: %v", i, err)
			}
			if frame == 0 {
				t.Fatal("expected frame 0 never to be allocated")
			}
			if uint32(frame) >= 70 {
				t.Fatalf("expected frame to be managed by the allocator; got %d", frame)
			}
			if seen[frame] {
				t.Fatalf("frame %d allocated twice", frame)
			}
			seen[frame] = true
		}

		if _, err := alloc.AllocFrame(); err != errBitmapAllocOutOfMemory {
			t.Fatalf("expected errBitmapAllocOutOfMemory; got %v", err)
		}
		if got := alloc.FreeFrames(); got != 0 {
			t.Fatalf("expected no free frames; got %d", got)
		}
	})

	t.Run("free and reuse", func(t *testing.T) {
		alloc := NewBitmapAllocator(8)

		frame, err := alloc.AllocFrame()
		if err != nil {
			t.Fatal(err)
		}

		data := alloc.FrameData(frame)
		if exp, got := int(mm.PageSize), len(data); got != exp || cap(data) != exp {
			t.Fatalf("expected frame data len/cap %d; got %d/%d", exp, got, cap(data))
		}
		data[0] = 0xaa

		if err = alloc.FreeFrame(frame); err != nil {
			t.Fatal(err)
		}
		if err = alloc.FreeFrame(frame); err != errBitmapAllocDoubleFree {
			t.Fatalf("expected errBitmapAllocDoubleFree; got %v", err)
		}
		if err = alloc.FreeFrame(0); err != errBitmapAllocFrameNotManaged {
			t.Fatalf("expected errBitmapAllocFrameNotManaged; got %v", err)
		}
		if err = alloc.FreeFrame(8); err != errBitmapAllocFrameNotManaged {
			t.Fatalf("expected errBitmapAllocFrameNotManaged; got %v", err)
		}

		if exp, got := uint32(7), alloc.FreeFrames(); got != exp {
			t.Fatalf("expected %d free frames; got %d", exp, got)
		}
	})
}

func TestInit(t *testing.T) {
	defer mm.SetPhysicalMemory(nil)

	alloc := Init(16)
	if exp, got := uint32(16), alloc.TotalFrames(); got != exp {
		t.Fatalf("expected %d frames; got %d", exp, got)
	}

	frame, err := mm.AllocFrame()
	if err != nil {
		t.Fatal(err)
	}

	if exp, got := uint32(14), alloc.FreeFrames(); got != exp {
		t.Fatalf("expected the registered allocator to serve mm.AllocFrame; free frames %d, expected %d", got, exp)
	}

	if err = mm.FreeFrame(frame); err != nil {
		t.Fatal(err)
	}
}

package vmm

import (
	"testing"

	"github.com/zjuxlh1993/15410-1/kernel/mm"
)

func TestPageTableEntryFlags(t *testing.T) {
	var (
		pte   pageTableEntry
		flag1 = PageTableEntryFlag(1 << 10)
		flag2 = PageTableEntryFlag(1 << 11)
	)

	if pte.HasAnyFlag(flag1 | flag2) {
		t.Fatalf("expected HasAnyFlags to return false")
	}

	pte.SetFlags(flag1 | flag2)

	if !pte.HasAnyFlag(flag1 | flag2) {
		t.Fatalf("expected HasAnyFlags to return true")
	}

	if !pte.HasFlags(flag1 | flag2) {
		t.Fatalf("expected HasFlags to return true")
	}

	pte.ClearFlags(flag1)

	if !pte.HasAnyFlag(flag1 | flag2) {
		t.Fatalf("expected HasAnyFlags to return true")
	}

	if pte.HasFlags(flag1 | flag2) {
		t.Fatalf("expected HasFlags to return false")
	}
}

func TestPageTableEntryFrameEncoding(t *testing.T) {
	var (
		pte       pageTableEntry
		physFrame = mm.Frame(123)
	)

	pte.SetFlags(FlagPresent | FlagUserAccessible)
	pte.SetFrame(physFrame)
	if got := pte.Frame(); got != physFrame {
		t.Fatalf("expected pte.Frame() to return %v; got %v", physFrame, got)
	}

	if exp, got := FlagPresent|FlagUserAccessible, pte.Flags(); got != exp {
		t.Fatalf("expected flags %x to survive SetFrame; got %x", exp, got)
	}
}

func TestWalk(t *testing.T) {
	setupMemory(t, 16)
	as, _ := NewAddressSpace()

	addr := UserMemStart + 0x12345
	_ = as.AllocatePages(addr, 1, FlagRW|FlagUserAccessible)

	var (
		levels  []uint8
		indices []uint32
	)
	walk(as.PDT(), addr, func(level uint8, _ mm.Frame, index uint32, pte pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			t.Errorf("expected level %d entry to be present", level)
		}
		levels = append(levels, level)
		indices = append(indices, index)
		return true
	})

	if len(levels) != pageLevels {
		t.Fatalf("expected walk to visit %d levels; got %d", pageLevels, len(levels))
	}

	if exp := addr >> 22; indices[0] != exp {
		t.Errorf("expected directory index %d; got %d", exp, indices[0])
	}
	if exp := (addr >> 12) & 0x3ff; indices[1] != exp {
		t.Errorf("expected table index %d; got %d", exp, indices[1])
	}

	if exp, got := uint32(0x345), PageOffset(addr); got != exp {
		t.Errorf("expected page offset %x; got %x", exp, got)
	}
}

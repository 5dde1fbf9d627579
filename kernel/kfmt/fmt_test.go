package kfmt

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestPrintf(t *testing.T) {
	defer SetOutputSink(nil)

	// keeps vet from checking the malformed format strings below
	printfn := Printf

	specs := []struct {
		format string
		args   []interface{}
		exp    string
	}{
		{"machine booted", nil, "machine booted"},

		// bools ignore the width
		{"interrupts enabled: %t", []interface{}{true}, "interrupts enabled: true"},
		{"exited: %8t", []interface{}{false}, "exited: false"},

		// driver banners and image names
		{"[hal] %s(%d.%d.%d): ", []interface{}{"pit", uint16(0), uint16(1), uint16(0)}, "[hal] pit(0.1.0): "},
		{"exec %s", []interface{}{[]byte("child_program")}, "exec child_program"},
		{"|%6s|", []interface{}{"tid"}, "|   tid|"},
		{"|%2s|", []interface{}{"fork_test"}, "|fork_test|"},

		// identifiers, counters and addresses
		{"pid %d tid %d", []interface{}{int32(3), int32(4)}, "pid 3 tid 4"},
		{"frames free: '%6d'", []interface{}{uint32(1020)}, "frames free: '  1020'"},
		{"segment flags %o", []interface{}{uint16(0755)}, "segment flags 755"},
		{"cr3 0x%8x", []interface{}{uint32(0x1000)}, "cr3 0x00001000"},
		{"esp0 0x%x", []interface{}{uintptr(0xbffff000)}, "esp0 0xbffff000"},
		{"entry 0x%4x", []interface{}{uint64(0x1000060)}, "entry 0x1000060"},

		// negative system call results
		{"status %d", []interface{}{-2}, "status -2"},
		{"fork: %4d", []interface{}{int(-10)}, "fork:  -10"},
		{"rebase %x", []interface{}{int32(-0x20)}, "rebase -20"},
		{"rebase %6x", []interface{}{int64(-0x1f)}, "rebase -0001f"},

		// the width is capped
		{"|%64d|", []interface{}{uint8(7)}, "|" + strings.Repeat(" ", maxPadLen-1) + "7|"},

		{"%%%s%d", []interface{}{"tid", 9}, "%tid9"},

		// malformed requests
		{"tid %d", []interface{}{1, 2}, "tid 1%!(EXTRA)"},
		{"pid %d", nil, "pid (MISSING)"},
		{"state %q", nil, "state %!(NOVERB)"},
		{"quantum 4%", nil, "quantum 4%!(NOVERB)"},
		{"running %t", []interface{}{"yes"}, "running %!(WRONGTYPE)"},
		{"tid %d", []interface{}{"seven"}, "tid %!(WRONGTYPE)"},
		{"image %s", []interface{}{42}, "image %!(WRONGTYPE)"},
	}

	var buf bytes.Buffer
	SetOutputSink(&buf)

	for specIndex, spec := range specs {
		buf.Reset()
		printfn(spec.format, spec.args...)

		if got := buf.String(); got != spec.exp {
			t.Errorf("[spec %d] %q: expected to get\n%q\ngot:\n%q", specIndex, spec.format, spec.exp, got)
		}
	}
}

func TestPrintfToEarlyLog(t *testing.T) {
	defer SetOutputSink(nil)

	SetOutputSink(io.Discard)
	SetOutputSink(nil)

	Printf("pmm: %d frames\n", 1024)
	Printf("sched: quantum %d ticks\n", 4)

	var buf bytes.Buffer
	SetOutputSink(&buf)

	if exp, got := "pmm: 1024 frames\nsched: quantum 4 ticks\n", buf.String(); got != exp {
		t.Fatalf("expected to get:\n%q\ngot:\n%q", exp, got)
	}

	if GetOutputSink() != &buf {
		t.Fatal("expected GetOutputSink to return the installed sink")
	}
}

func TestFprintf(t *testing.T) {
	var buf bytes.Buffer

	exp := "tid 7 blocked"
	Fprintf(&buf, "tid %d %s", 7, "blocked")

	if got := buf.String(); got != exp {
		t.Fatalf("expected to get:\n%q\ngot:\n%q", exp, got)
	}
}

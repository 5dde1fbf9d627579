package tty

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/zjuxlh1993/15410-1/device"
)

func TestVtWrite(t *testing.T) {
	t.Run("inactive terminal", func(t *testing.T) {
		var out bytes.Buffer
		term := NewVT(4, 10)
		term.AttachTo(&out)

		data := []byte("\b123\b4\t5\n67\r68\n")
		count, err := term.Write(data)
		if err != nil {
			t.Fatal(err)
		}

		if count != len(data) {
			t.Fatalf("expected to write %d bytes; wrote %d", len(data), count)
		}

		if out.Len() != 0 {
			t.Fatalf("expected an inactive terminal not to sync its output; got %q", out.String())
		}

		if exp, got := []string{"124    5", "68"}, term.Lines(); !reflect.DeepEqual(got, exp) {
			t.Fatalf("expected lines %q; got %q", exp, got)
		}
	})

	t.Run("active terminal", func(t *testing.T) {
		var out bytes.Buffer
		term := NewVT(2, 10)
		term.AttachTo(&out)
		term.SetState(StateActive)

		term.Write([]byte("hello\tworld\npartial"))
		if exp, got := "hello  world\n", out.String(); got != exp {
			t.Fatalf("expected output %q; got %q", exp, got)
		}

		// The pending line is flushed by the next line feed.
		term.WriteByte('\n')
		if exp, got := "hello  world\npartial\n", out.String(); got != exp {
			t.Fatalf("expected output %q; got %q", exp, got)
		}
	})

	t.Run("without attached output", func(t *testing.T) {
		term := NewVT(4, 10)
		term.SetState(StateActive)
		if _, err := term.Write([]byte("lost\n")); err != nil {
			t.Fatal(err)
		}

		if exp, got := []string{"lost"}, term.Lines(); !reflect.DeepEqual(got, exp) {
			t.Fatalf("expected lines %q; got %q", exp, got)
		}
	})
}

func TestVtScrollback(t *testing.T) {
	term := NewVT(4, 3)
	for _, line := range []string{"a", "b", "c", "d", "e"} {
		term.Write([]byte(line + "\n"))
	}

	if exp, got := []string{"c", "d", "e"}, term.Lines(); !reflect.DeepEqual(got, exp) {
		t.Fatalf("expected scrollback %q; got %q", exp, got)
	}

	t.Run("no scrollback", func(t *testing.T) {
		term := NewVT(4, 0)
		term.Write([]byte("a\n"))
		if got := term.Lines(); len(got) != 0 {
			t.Fatalf("expected empty scrollback; got %q", got)
		}
	})
}

func TestVtSetState(t *testing.T) {
	var out bytes.Buffer
	term := NewVT(4, 2)
	term.AttachTo(&out)

	term.Write([]byte("one\ntwo\nthree\n"))
	if out.Len() != 0 {
		t.Fatalf("expected no output before activation; got %q", out.String())
	}

	// Activating this terminal should replay the scrollback.
	term.SetState(StateActive)
	if exp, got := "two\nthree\n", out.String(); got != exp {
		t.Fatalf("expected activation to replay %q; got %q", exp, got)
	}

	if term.State() != StateActive {
		t.Fatal("expected terminal to be active")
	}

	// Setting the same state again is a no-op.
	term.SetState(StateActive)
	if exp, got := "two\nthree\n", out.String(); got != exp {
		t.Fatalf("expected no additional output; got %q", got)
	}

	term.SetState(StateInactive)
	term.Write([]byte("four\n"))
	if exp, got := "two\nthree\n", out.String(); got != exp {
		t.Fatalf("expected inactive terminal to stop syncing; got %q", got)
	}
}

func TestVTDriverInterface(t *testing.T) {
	var dev device.Driver = NewVT(0, 7)

	var buf bytes.Buffer
	if err := dev.DriverInit(&buf); err != nil {
		t.Fatal(err)
	}

	if exp, got := "scrollback 7 lines\n", buf.String(); got != exp {
		t.Fatalf("expected init output %q; got %q", exp, got)
	}

	if dev.DriverName() == "" {
		t.Fatal("DriverName() returned an empty string")
	}

	if major, minor, patch := dev.DriverVersion(); major+minor+patch == 0 {
		t.Fatal("DriverVersion() returned an invalid version number")
	}

	if _, ok := dev.(Device); !ok {
		t.Fatal("expected VT to implement Device")
	}
}

func TestVTProbe(t *testing.T) {
	var out bytes.Buffer
	drv := Probe(&out)()
	if drv == nil {
		t.Fatal("expected Probe to return a driver")
	}

	term := drv.(*VT)
	term.SetState(StateActive)
	term.Write([]byte("x\n"))
	if exp, got := "x\n", out.String(); got != exp {
		t.Fatalf("expected probed terminal to write to the supplied output; got %q", got)
	}
}

package kfmt

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func drain(t *testing.T, l *earlyLog) string {
	t.Helper()

	var buf bytes.Buffer
	n, err := l.WriteTo(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if int(n) != buf.Len() {
		t.Fatalf("expected WriteTo to report %d bytes; got %d", buf.Len(), n)
	}
	return buf.String()
}

func TestEarlyLog(t *testing.T) {
	t.Run("fits", func(t *testing.T) {
		l := earlyLog{buf: make([]byte, 64)}
		l.Write([]byte("pmm: 1024 frames\n"))
		l.Write([]byte("sched: quantum 4 ticks\n"))

		if exp, got := "pmm: 1024 frames\nsched: quantum 4 ticks\n", drain(t, &l); got != exp {
			t.Fatalf("expected:\n%q\ngot:\n%q", exp, got)
		}
		if got := drain(t, &l); got != "" {
			t.Fatalf("expected a drained log to be empty; got %q", got)
		}
	})

	t.Run("overwritten mid-line", func(t *testing.T) {
		l := earlyLog{buf: make([]byte, 16)}
		l.Write([]byte("boot: cpu ok\nidle: tid 0\n"))

		// the oldest kept bytes are "cpu ok\n", which was cut
		exp := "[kfmt] early boot log truncated; 13 bytes lost\nidle: tid 0\n"
		if got := drain(t, &l); got != exp {
			t.Fatalf("expected:\n%q\ngot:\n%q", exp, got)
		}
	})

	t.Run("overwritten at a line boundary", func(t *testing.T) {
		l := earlyLog{buf: make([]byte, 12)}
		l.Write([]byte("init: pid 1\nidle: tid 0\n"))

		exp := "[kfmt] early boot log truncated; 12 bytes lost\nidle: tid 0\n"
		if got := drain(t, &l); got != exp {
			t.Fatalf("expected:\n%q\ngot:\n%q", exp, got)
		}
	})

	t.Run("wrapped buffer drains in order", func(t *testing.T) {
		l := earlyLog{buf: make([]byte, 8)}
		l.Write([]byte("abcdef"))
		l.WriteTo(&bytes.Buffer{})

		l.Write([]byte("12\n345\n"))
		if exp, got := "12\n345\n", drain(t, &l); got != exp {
			t.Fatalf("expected:\n%q\ngot:\n%q", exp, got)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		var l earlyLog
		if n, err := l.Write([]byte("lost\n")); n != 5 || err != nil {
			t.Fatalf("expected the write to succeed; got %d, %v", n, err)
		}

		exp := "[kfmt] early boot log truncated; 5 bytes lost\n"
		if got := drain(t, &l); got != exp {
			t.Fatalf("expected:\n%q\ngot:\n%q", exp, got)
		}
	})

	t.Run("resize keeps the newest output", func(t *testing.T) {
		l := earlyLog{buf: make([]byte, 32)}
		l.Write([]byte("hal: pit\nhal: vt\n"))

		l.resize(64)
		if exp, got := "hal: pit\nhal: vt\n", drain(t, &l); got != exp {
			t.Fatalf("expected:\n%q\ngot:\n%q", exp, got)
		}

		l.Write([]byte("hal: pit\nhal: vt\n"))
		l.resize(10)
		exp := "[kfmt] early boot log truncated; 9 bytes lost\nhal: vt\n"
		if got := drain(t, &l); got != exp {
			t.Fatalf("expected:\n%q\ngot:\n%q", exp, got)
		}
		if len(l.buf) != 10 {
			t.Fatalf("expected capacity 10; got %d", len(l.buf))
		}
	})

	t.Run("sink error", func(t *testing.T) {
		l := earlyLog{buf: make([]byte, 8)}
		l.Write([]byte("x\n"))

		expErr := errors.New("console gone")
		if _, err := l.WriteTo(writerThatAlwaysErrors{expErr}); err != expErr {
			t.Fatalf("expected error %v; got %v", expErr, err)
		}
	})
}

func TestSetEarlyBufferSize(t *testing.T) {
	defer func() {
		SetOutputSink(nil)
		SetEarlyBufferSize(DefaultEarlyBufferSize)
	}()

	pmmLine := "pmm: 1020 frames free\n"
	taskLine := "task: root process pid 1\n"

	specs := []struct {
		name     string
		capacity int
		exp      string
	}{
		{
			"newest line fits",
			32,
			// the bytes pushed out plus the rest of the line they cut
			truncationNotice(len(pmmLine)) + taskLine,
		},
		{
			"line longer than the buffer",
			16,
			truncationNotice(len(pmmLine) + len(taskLine)),
		},
	}

	for _, spec := range specs {
		t.Run(spec.name, func(t *testing.T) {
			// start from an empty log
			SetOutputSink(io.Discard)
			SetOutputSink(nil)
			SetEarlyBufferSize(spec.capacity)

			Printf("pmm: %d frames free\n", 1020)
			Printf("task: root process pid %d\n", 1)

			var buf bytes.Buffer
			SetOutputSink(&buf)

			if got := buf.String(); got != spec.exp {
				t.Fatalf("expected the console to receive:\n%q\ngot:\n%q", spec.exp, got)
			}
		})
	}
}

func truncationNotice(lost int) string {
	var buf bytes.Buffer
	Fprintf(&buf, "[kfmt] early boot log truncated; %d bytes lost\n", lost)
	return buf.String()
}

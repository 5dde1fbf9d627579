package kfmt

import (
	"bytes"
	"io"
)

// PrefixWriter tags every line written through it with a prefix. The HAL
// uses it so that driver output reads "[hal] name(major.minor.patch): ...".
//
// Each line segment is handed to the sink together with its prefix in a
// single Write call, so a line-buffered terminal never sees a bare prefix.
// When Sink is nil the output follows Printf: it reaches the active console
// or, before one is attached, the early boot log.
type PrefixWriter struct {
	// Sink receives the prefixed output. A nil Sink selects the kfmt
	// output path.
	Sink io.Writer

	// Prefix is injected at the beginning of each line.
	Prefix []byte

	midLine bool
	lines   int
	scratch []byte
}

// SetPrefix formats the prefix using the Printf verbs and resets the line
// state, so the next write starts a fresh prefixed line.
func (w *PrefixWriter) SetPrefix(format string, args ...interface{}) {
	w.Prefix = appendf(w.Prefix[:0], format, args)
	w.midLine = false
}

// Lines returns the number of complete lines written so far.
func (w *PrefixWriter) Lines() int {
	return w.lines
}

// Write implements io.Writer. The returned count covers the bytes of p that
// reached the sink and never includes the injected prefixes.
func (w *PrefixWriter) Write(p []byte) (int, error) {
	var written int

	for len(p) != 0 {
		end := bytes.IndexByte(p, '\n') + 1
		if end == 0 {
			end = len(p)
		}
		segment := p[:end]

		w.scratch = w.scratch[:0]
		if !w.midLine {
			w.scratch = append(w.scratch, w.Prefix...)
		}
		prefixLen := len(w.scratch)
		w.scratch = append(w.scratch, segment...)

		n, err := w.writeOut(w.scratch)
		if n -= prefixLen; n > 0 {
			written += n
		}
		if err != nil {
			return written, err
		}

		w.midLine = segment[len(segment)-1] != '\n'
		if !w.midLine {
			w.lines++
		}
		p = p[end:]
	}

	return written, nil
}

func (w *PrefixWriter) writeOut(p []byte) (int, error) {
	if w.Sink != nil {
		return w.Sink.Write(p)
	}

	writeOutput(p)
	return len(p), nil
}

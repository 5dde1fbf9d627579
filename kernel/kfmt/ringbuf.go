package kfmt

import "io"

// DefaultEarlyBufferSize is the number of bytes of boot output kept until a
// console is attached.
const DefaultEarlyBufferSize = 2048

// earlyLog captures Printf output produced before a console exists. It keeps
// the newest bytes; once older output has been overwritten, the drain skips
// ahead to the next line boundary so the console never starts mid-line.
type earlyLog struct {
	buf   []byte
	start int
	size  int

	// lost counts the bytes discarded since the last drain and partial is
	// set when the oldest kept byte is in the middle of a line.
	lost    int
	partial bool
}

// resize changes the capacity of the log, keeping the newest bytes that
// still fit.
func (l *earlyLog) resize(capacity int) {
	if capacity < 0 {
		capacity = 0
	}

	keep := min(l.size, capacity)
	if dropped := l.size - keep; dropped != 0 {
		last := l.buf[(l.start+dropped-1)%len(l.buf)]
		l.partial = last != '\n'
		l.lost += dropped
	}

	buf := make([]byte, capacity)
	l.copyTail(buf[:keep])
	l.buf, l.start, l.size = buf, 0, keep
}

// copyTail fills dst with the newest len(dst) bytes of the log.
func (l *earlyLog) copyTail(dst []byte) {
	if len(dst) == 0 {
		return
	}

	from := (l.start + l.size - len(dst)) % len(l.buf)
	n := copy(dst, l.buf[from:min(from+len(dst), len(l.buf))])
	copy(dst[n:], l.buf)
}

// Write implements io.Writer. It never fails; bytes that do not fit push the
// oldest ones out.
func (l *earlyLog) Write(p []byte) (int, error) {
	capacity := len(l.buf)
	if capacity == 0 {
		if len(p) != 0 {
			l.lost += len(p)
			l.partial = p[len(p)-1] != '\n'
		}
		return len(p), nil
	}

	for _, b := range p {
		if l.size == capacity {
			l.partial = l.buf[l.start] != '\n'
			l.start = (l.start + 1) % capacity
			l.size--
			l.lost++
		}
		l.buf[(l.start+l.size)%capacity] = b
		l.size++
	}

	return len(p), nil
}

// WriteTo drains the log into w. If output was lost, a notice with the
// number of missing bytes precedes the remaining complete lines.
func (l *earlyLog) WriteTo(w io.Writer) (int64, error) {
	defer l.reset()

	out := make([]byte, l.size)
	l.copyTail(out)

	if l.lost != 0 {
		lost := l.lost
		if l.partial {
			cut := 0
			for cut < len(out) && out[cut] != '\n' {
				cut++
			}
			cut = min(cut+1, len(out))
			lost += cut
			out = out[cut:]
		}

		notice := appendf(nil, "[kfmt] early boot log truncated; %d bytes lost\n", []interface{}{lost})
		out = append(notice, out...)
	}

	if len(out) == 0 {
		return 0, nil
	}
	n, err := w.Write(out)
	return int64(n), err
}

func (l *earlyLog) reset() {
	l.start, l.size, l.lost, l.partial = 0, 0, 0, false
}

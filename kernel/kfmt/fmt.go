package kfmt

import (
	"io"
	"strconv"
	"sync"
)

// maxPadLen caps the width accepted by the formatting verbs.
const maxPadLen = 32

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")

	// sinkMu serializes writes to outputSink and the early print buffer.
	sinkMu sync.Mutex

	// earlyPrintBuffer stores Printf output until a console is attached.
	earlyPrintBuffer = earlyLog{buf: make([]byte, DefaultEarlyBufferSize)}

	// outputSink is a io.Writer where Printf will send its output. If set
	// to nil, then the output will be redirected to the earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink sets the default target for calls to Printf to w and replays
// the early boot log into it.
func SetOutputSink(w io.Writer) {
	sinkMu.Lock()
	defer sinkMu.Unlock()

	outputSink = w
	if w != nil {
		earlyPrintBuffer.WriteTo(w)
	}
}

// SetEarlyBufferSize changes how many bytes of boot output are kept while no
// console is attached. Output already buffered is kept if it fits.
func SetEarlyBufferSize(size int) {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	earlyPrintBuffer.resize(size)
}

// writeOutput sends p to the output sink or, without one, to the early boot
// log.
func writeOutput(p []byte) {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	if outputSink != nil {
		outputSink.Write(p)
		return
	}
	earlyPrintBuffer.Write(p)
}

// GetOutputSink returns the default target for calls to Printf.
func GetOutputSink() io.Writer {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	return outputSink
}

// Printf provides a minimal Printf implementation for kernel code paths that
// must produce output without touching the structured logger (panics, register
// dumps, driver probing).
//
// Similar to fmt.Printf, this version of printf supports the following subset
// of formatting verbs:
//
// Strings:
//
//	%s the uninterpreted bytes of the string or byte slice
//
// Integers:
//
//	%o base 8
//	%d base 10
//	%x base 16, with lower-case letters for a-f
//
// Booleans:
//
//	%t "true" or "false"
//
// Width is specified by an optional decimal number immediately preceding the verb.
// String values and base-10 integers are left-padded with spaces while base-8
// and base-16 integers are left-padded with zeroes.
//
// The output of Printf is written to the active output sink. If no sink is
// available, then the output is kept in the early boot log that
// SetOutputSink replays.
func Printf(format string, args ...interface{}) {
	writeOutput(appendf(nil, format, args))
}

// Fprintf behaves exactly like Printf but it writes the formatted output to
// the specified io.Writer with a single Write call.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	w.Write(appendf(nil, format, args))
}

// appendf formats args according to format and appends the result to buf.
func appendf(buf []byte, format string, args []interface{}) []byte {
	var (
		nextArgIndex int
		padLen       int
	)

	for index := 0; index < len(format); index++ {
		if format[index] != '%' {
			buf = append(buf, format[index])
			continue
		}

		padLen = 0
		index++
	parseFmt:
		for ; index < len(format); index++ {
			ch := format[index]
			switch {
			case ch == '%':
				buf = append(buf, '%')
				break parseFmt
			case ch >= '0' && ch <= '9':
				padLen = (padLen * 10) + int(ch-'0')
				continue
			case ch == 'd' || ch == 'x' || ch == 'o' || ch == 's' || ch == 't':
				if nextArgIndex >= len(args) {
					buf = append(buf, errMissingArg...)
					break parseFmt
				}

				if padLen > maxPadLen {
					padLen = maxPadLen
				}

				switch ch {
				case 'o':
					buf = fmtInt(buf, args[nextArgIndex], 8, padLen)
				case 'd':
					buf = fmtInt(buf, args[nextArgIndex], 10, padLen)
				case 'x':
					buf = fmtInt(buf, args[nextArgIndex], 16, padLen)
				case 's':
					buf = fmtString(buf, args[nextArgIndex], padLen)
				case 't':
					buf = fmtBool(buf, args[nextArgIndex])
				}

				nextArgIndex++
				break parseFmt
			default:
				buf = append(buf, errNoVerb...)
				break parseFmt
			}
		}

		// reached end of formatting string without finding a verb
		if index == len(format) {
			buf = append(buf, errNoVerb...)
		}
	}

	for ; nextArgIndex < len(args); nextArgIndex++ {
		buf = append(buf, errExtraArg...)
	}

	return buf
}

func fmtBool(buf []byte, v interface{}) []byte {
	bVal, ok := v.(bool)
	if !ok {
		return append(buf, errWrongArgType...)
	}
	return strconv.AppendBool(buf, bVal)
}

// fmtString appends a formatted version of string or []byte value v, applying
// the padding specified by padLen.
func fmtString(buf []byte, v interface{}, padLen int) []byte {
	switch castedVal := v.(type) {
	case string:
		buf = fmtRepeat(buf, ' ', padLen-len(castedVal))
		return append(buf, castedVal...)
	case []byte:
		buf = fmtRepeat(buf, ' ', padLen-len(castedVal))
		return append(buf, castedVal...)
	default:
		return append(buf, errWrongArgType...)
	}
}

func fmtRepeat(buf []byte, ch byte, count int) []byte {
	for ; count > 0; count-- {
		buf = append(buf, ch)
	}
	return buf
}

// fmtInt appends a formatted version of v in the requested base, applying the
// padding specified by padLen. All built-in signed and unsigned integer types
// are supported.
func fmtInt(buf []byte, v interface{}, base, padLen int) []byte {
	var (
		uval     uint64
		negative bool
		digits   [64]byte
	)

	switch t := v.(type) {
	case uint8:
		uval = uint64(t)
	case uint16:
		uval = uint64(t)
	case uint32:
		uval = uint64(t)
	case uint64:
		uval = t
	case uint:
		uval = uint64(t)
	case uintptr:
		uval = uint64(t)
	case int8:
		uval, negative = abs(int64(t))
	case int16:
		uval, negative = abs(int64(t))
	case int32:
		uval, negative = abs(int64(t))
	case int64:
		uval, negative = abs(t)
	case int:
		uval, negative = abs(int64(t))
	default:
		return append(buf, errWrongArgType...)
	}

	num := strconv.AppendUint(digits[:0], uval, base)

	if base == 10 {
		// the sign takes up one of the padded spaces
		if negative {
			num = append([]byte{'-'}, num...)
		}
		buf = fmtRepeat(buf, ' ', padLen-len(num))
		return append(buf, num...)
	}

	if negative {
		buf = append(buf, '-')
		padLen--
	}
	buf = fmtRepeat(buf, '0', padLen-len(num))
	return append(buf, num...)
}

func abs(v int64) (uint64, bool) {
	if v < 0 {
		return uint64(-v), true
	}
	return uint64(v), false
}

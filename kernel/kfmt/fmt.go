// Package kfmt implements the formatted output used by the kernel before and
// after the console is ready. None of the functions in this package allocate
// memory, so they can be used while the Go allocator is unavailable.
package kfmt

import (
	"bootirq/kernel"
	"io"
	"unsafe"
)

// maxBufSize defines the buffer size for formatting numbers.
const maxBufSize = 32

const hexDigits = "0123456789abcdef"

var (
	errMissingArg   = "(MISSING)"
	errWrongArgType = "%!(WRONGTYPE)"
	errNoVerb       = "%!(NOVERB)"
	errExtraArg     = "%!(EXTRA)"

	numFmtBuf [maxBufSize]byte

	// earlyPrintBuffer captures Printf output while no output sink is
	// attached.
	earlyPrintBuffer ringBuffer

	// outputSink receives the output of Printf. If nil, output goes to
	// earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink sets the default target for calls to Printf to w and replays
// any output accumulated while no sink was attached.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		io.Copy(w, &earlyPrintBuffer)
	}
}

// GetOutputSink returns the current target for calls to Printf.
func GetOutputSink() io.Writer {
	return outputSink
}

// Printf provides a minimal Printf implementation that can be safely used
// before the Go runtime has been properly initialized.
//
// The supported verbs are:
//
//	%s  string, []byte, *kernel.Error (its message) or kernel.ErrorKind
//	%d  integer, base 10
//	%o  integer, base 8
//	%x  integer, base 16 with lower-case letters
//	%t  bool
//
// An optional decimal width may precede the verb. Strings and base-10
// integers are left-padded with spaces; base-8 and base-16 integers are
// left-padded with zeroes.
//
// Pointers (%p) are not supported as printing them requires the reflect
// package which makes the compiler emit allocating conversions for the
// argument slice.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves exactly like Printf but it writes the formatted output to
// the specified io.Writer.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		argIndex int
		runStart int
	)

	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			continue
		}

		writeString(w, format[runStart:i])

		width := 0
		for i++; i < len(format) && format[i] >= '0' && format[i] <= '9'; i++ {
			width = width*10 + int(format[i]-'0')
		}

		if i == len(format) {
			writeString(w, errNoVerb)
			runStart = i
			break
		}

		switch verb := format[i]; verb {
		case '%':
			writeString(w, "%")
		case 's', 'd', 'o', 'x', 't':
			if argIndex >= len(args) {
				writeString(w, errMissingArg)
				break
			}

			fmtArg(w, verb, args[argIndex], width)
			argIndex++
		default:
			writeString(w, errNoVerb)
		}

		runStart = i + 1
	}

	if runStart < len(format) {
		writeString(w, format[runStart:])
	}

	for ; argIndex < len(args); argIndex++ {
		writeString(w, errExtraArg)
	}
}

func fmtArg(w io.Writer, verb byte, arg interface{}, width int) {
	switch verb {
	case 's':
		fmtString(w, arg, width)
	case 'd':
		fmtInt(w, arg, 10, width)
	case 'o':
		fmtInt(w, arg, 8, width)
	case 'x':
		fmtInt(w, arg, 16, width)
	case 't':
		fmtBool(w, arg)
	}
}

func fmtBool(w io.Writer, v interface{}) {
	b, ok := v.(bool)
	switch {
	case !ok:
		writeString(w, errWrongArgType)
	case b:
		writeString(w, "true")
	default:
		writeString(w, "false")
	}
}

// fmtString prints a string-like value left-padded with spaces to width.
func fmtString(w io.Writer, v interface{}, width int) {
	var str string

	switch t := v.(type) {
	case string:
		str = t
	case []byte:
		fmtRepeat(w, ' ', width-len(t))
		doWrite(w, t)
		return
	case *kernel.Error:
		if t != nil {
			str = t.Message
		}
	case kernel.ErrorKind:
		str = t.String()
	default:
		writeString(w, errWrongArgType)
		return
	}

	fmtRepeat(w, ' ', width-len(str))
	writeString(w, str)
}

func fmtRepeat(w io.Writer, ch byte, count int) {
	numFmtBuf[0] = ch
	for ; count > 0; count-- {
		doWrite(w, numFmtBuf[:1])
	}
}

// fmtInt prints v in the requested base. The digits are assembled from the
// end of numFmtBuf towards its start.
func fmtInt(w io.Writer, v interface{}, base uint64, width int) {
	var (
		val uint64
		neg bool
	)

	switch t := v.(type) {
	case uint8:
		val = uint64(t)
	case uint16:
		val = uint64(t)
	case uint32:
		val = uint64(t)
	case uint64:
		val = t
	case uint:
		val = uint64(t)
	case uintptr:
		val = uint64(t)
	case kernel.ErrorKind:
		val = uint64(t)
	case int8:
		neg, val = splitSign(int64(t))
	case int16:
		neg, val = splitSign(int64(t))
	case int32:
		neg, val = splitSign(int64(t))
	case int64:
		neg, val = splitSign(t)
	case int:
		neg, val = splitSign(int64(t))
	default:
		writeString(w, errWrongArgType)
		return
	}

	padCh := byte('0')
	if base == 10 {
		padCh = ' '
	}

	if width >= maxBufSize {
		width = maxBufSize - 1
	}

	pos := maxBufSize
	for {
		pos--
		numFmtBuf[pos] = hexDigits[val%base]
		if val /= base; val == 0 {
			break
		}
	}

	// Space padding goes before the sign, zero padding after it.
	if neg && padCh == ' ' {
		pos--
		numFmtBuf[pos] = '-'
	}

	for maxBufSize-pos < width {
		pos--
		numFmtBuf[pos] = padCh
	}

	if neg && padCh == '0' {
		pos--
		numFmtBuf[pos] = '-'
	}

	doWrite(w, numFmtBuf[pos:])
}

func splitSign(v int64) (bool, uint64) {
	if v < 0 {
		return true, uint64(-v)
	}

	return false, uint64(v)
}

// writeString writes s without converting it to a byte slice, which would
// allocate.
func writeString(w io.Writer, s string) {
	if len(s) == 0 {
		return
	}

	doWrite(w, unsafe.Slice(unsafe.StringData(s), len(s)))
}

// doWrite hides p from the compiler's escape analysis. Passing p straight to
// the io.Writer makes the compiler assume that it escapes, which turns every
// Printf call into an allocation.
func doWrite(w io.Writer, p []byte) {
	doRealWrite(w, noEscape(unsafe.Pointer(&p)))
}

func doRealWrite(w io.Writer, bufPtr unsafe.Pointer) {
	p := *(*[]byte)(bufPtr)
	if w != nil {
		w.Write(p)
	} else {
		earlyPrintBuffer.Write(p)
	}
}

// noEscape hides a pointer from escape analysis.
//
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}

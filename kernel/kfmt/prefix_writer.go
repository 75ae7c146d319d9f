package kfmt

import "io"

// PrefixWriter is an io.Writer that wraps another io.Writer and injects a
// prefix at the beginning of each line.
type PrefixWriter struct {
	// A writer where all writes get sent to. If nil, output is captured
	// by the same buffer that Printf uses while no sink is attached.
	Sink io.Writer

	// The prefix injected at the beginning of each line.
	Prefix []byte

	// midLine is set when the last byte written to Sink was not a newline.
	midLine bool
}

// Write writes p to the sink, emitting the prefix before the first byte of
// every line. The returned count excludes the injected prefixes.
func (w *PrefixWriter) Write(p []byte) (int, error) {
	var (
		written int
		sink    = w.Sink
	)

	if sink == nil {
		sink = &earlyPrintBuffer
	}

	for len(p) != 0 {
		lineEnd := len(p)
		for i, b := range p {
			if b == '\n' {
				lineEnd = i + 1
				break
			}
		}

		if !w.midLine {
			if _, err := sink.Write(w.Prefix); err != nil {
				return written, err
			}
		}

		n, err := sink.Write(p[:lineEnd])
		written += n
		if err != nil {
			return written, err
		}

		w.midLine = p[lineEnd-1] != '\n'
		p = p[lineEnd:]
	}

	return written, nil
}

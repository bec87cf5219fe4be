package logx

import (
	"runtime"
	"strconv"
	"strings"
)

// StackTrace renders up to maxFrames frames of the calling goroutine, one
// "function file:line" pair per frame. Runtime frames are left out so a
// recovered panic points at the code that raised it.
func StackTrace(skip, maxFrames int) string {
	if maxFrames <= 0 {
		maxFrames = 16
	}
	pcs := make([]uintptr, maxFrames+8)
	frames := runtime.CallersFrames(pcs[:runtime.Callers(skip, pcs)])

	var b strings.Builder
	n := 0
	for n < maxFrames {
		fr, more := frames.Next()
		if fr.File != "" && !strings.HasPrefix(fr.Function, "runtime.") {
			if n > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(fr.Function)
			b.WriteString(" ")
			b.WriteString(fr.File)
			b.WriteByte(':')
			b.WriteString(strconv.Itoa(fr.Line))
			n++
		}
		if !more {
			break
		}
	}
	return b.String()
}

package postgres

import (
	"runtime"
	"strings"
)

const modulePrefix = "github.com/linnemanlabs/erpath/"

// origin names who issued a query: the store method that ran it and the
// service operation above that store.
type origin struct {
	caller    string
	operation string
}

// findOrigin walks the stack above the tracer. Frames outside this module
// (pgx, otelpgx, the runtime) and frames of this package are skipped.
func findOrigin() origin {
	pcs := make([]uintptr, 48)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var o origin
	for {
		fr, more := frames.Next()
		if isAppFrame(fr.Function) {
			switch {
			case o.caller == "":
				o.caller = shortFunc(fr.Function)
			case !isStoreFrame(fr.Function):
				o.operation = shortFunc(fr.Function)
				return o
			}
		}
		if !more {
			return o
		}
	}
}

func isAppFrame(fn string) bool {
	return strings.HasPrefix(fn, modulePrefix) &&
		!strings.HasPrefix(fn, modulePrefix+"internal/postgres.")
}

// isStoreFrame reports whether fn belongs to the same store package as the
// caller, so helper frames are not reported as the operation.
func isStoreFrame(fn string) bool {
	return strings.HasPrefix(fn, modulePrefix+"internal/care/pgstore.")
}

// shortFunc trims the import path and keeps package, receiver and method,
// e.g. "pgstore.(*Store).Get".
func shortFunc(fn string) string {
	if i := strings.LastIndex(fn, "/"); i >= 0 {
		fn = fn[i+1:]
	}
	return fn
}

// Package goroutineid resolves the id of the calling goroutine.
//
// The engine session uses it to tell a callback that re-enters the host from
// inside the script engine (same goroutine as the in-flight operation) apart
// from a genuinely concurrent caller.
package goroutineid

import (
	"runtime"
	"sync"
)

var stackBufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 64)
		return &b
	},
}

// Get returns the current goroutine id, or 0 if it cannot be determined.
// Only the header line of the stack is captured, so the buffer stays small.
func Get() int64 {
	bp := stackBufPool.Get().(*[]byte)
	defer stackBufPool.Put(bp)
	n := runtime.Stack(*bp, false)
	return parse((*bp)[:n])
}

// parse extracts X from a "goroutine X [status]:" header without allocating.
func parse(stack []byte) int64 {
	const prefix = "goroutine "
	if len(stack) <= len(prefix) || string(stack[:len(prefix)]) != prefix {
		return 0
	}
	var id int64
	for _, b := range stack[len(prefix):] {
		if b < '0' || b > '9' {
			break
		}
		id = id*10 + int64(b-'0')
	}
	return id
}

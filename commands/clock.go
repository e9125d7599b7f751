package commands

import (
	"sync/atomic"
	"time"
)

var lastTimestamp int64

// nextTimestamp returns a process-monotonic nanosecond timestamp so commands
// issued in the same instant still order deterministically.
func nextTimestamp() int64 {
	for {
		now := time.Now().UnixNano()
		last := atomic.LoadInt64(&lastTimestamp)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastTimestamp, last, now) {
			return now
		}
	}
}

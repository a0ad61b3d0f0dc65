package audio

import (
	"runtime"
	"sync/atomic"
)

// spinLock is a mutual exclusion lock that never parks the calling goroutine.
// Critical sections guarded by it must not allocate or block.
type spinLock struct {
	held atomic.Bool
}

func (l *spinLock) Lock() {
	for !l.held.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

func (l *spinLock) TryLock() bool {
	return l.held.CompareAndSwap(false, true)
}

func (l *spinLock) Unlock() {
	if !l.held.CompareAndSwap(true, false) {
		panic("audio: unlock of unlocked spinLock")
	}
}

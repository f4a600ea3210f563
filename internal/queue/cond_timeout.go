package queue

import (
	"sync"
	"time"
)

// waitWithTimeout waits on cond (whose Locker must already be held by the
// caller) for up to d. It returns nothing and does not report whether
// the wakeup was a signal or the deadline. sync.Cond has no native timed
// wait, so a timer goroutine wakes the
// waiter via Broadcast at the deadline; the caller's own loop condition
// (re-checked by PopTimeout) distinguishes a real signal from a timeout
// expiry, so a spurious extra broadcast here is harmless.
func waitWithTimeout(cond *sync.Cond, mu sync.Locker, d time.Duration) {
	timer := time.AfterFunc(d, func() {
		mu.Lock()
		cond.Broadcast()
		mu.Unlock()
	})
	defer timer.Stop()

	cond.Wait()
}

package handshake

// waiter is a single-use slot for one code. The channel is buffered so that
// resolving never blocks, whether or not the login is already waiting.
type waiter struct {
	ch       chan string
	resolved bool
}

func newWaiter() *waiter { return &waiter{ch: make(chan string, 1)} }

// resolve delivers v; false if the slot was already filled.
// Callers hold the owning Operation's lock.
func (w *waiter) resolve(v string) bool {
	if w.resolved {
		return false
	}
	w.resolved = true
	w.ch <- v
	return true
}

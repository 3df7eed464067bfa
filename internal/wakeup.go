package internal

// WakeUp is a signal-and-forget wake-up channel: any number of concurrent
// Signal calls collapse into at most one pending wake-up, and a receiver
// draining C never blocks the signaler.
//
// This replaces a captured-closure resolver (a stored "resolve" func swapped
// out under a mutex each time a waiter arms itself) with a single
// buffered channel: Signal is just a non-blocking send, and there is
// nothing to replace or race once a new waiter starts waiting.
type WakeUp struct {
	c chan struct{}
}

// NewWakeUp returns a ready-to-use WakeUp.
func NewWakeUp() *WakeUp {
	return &WakeUp{c: make(chan struct{}, 1)}
}

// Signal requests a wake-up. It never blocks: if one is already pending,
// this call is a no-op.
func (w *WakeUp) Signal() {
	select {
	case w.c <- struct{}{}:
	default:
	}
}

// C returns the channel a waiter should select on. A receive succeeds at
// most once per Signal, regardless of how many Signal calls coalesced
// into it.
func (w *WakeUp) C() <-chan struct{} {
	return w.c
}

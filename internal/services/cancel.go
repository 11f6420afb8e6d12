package services

import "sync"

// CancelToken is an advisory cancellation flag for one task. The engine
// polls it between steps; it never interrupts a statement in flight.
type CancelToken struct {
	once sync.Once
	done chan struct{}
}

func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Cancel sets the flag. Calling it more than once is harmless.
func (t *CancelToken) Cancel() {
	t.once.Do(func() { close(t.done) })
}

// Cancelled reports whether Cancel has been called.
func (t *CancelToken) Cancelled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done is closed once the token is cancelled.
func (t *CancelToken) Done() <-chan struct{} { return t.done }

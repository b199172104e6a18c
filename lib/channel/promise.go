package channel

import "sync"

// Promise holds the eventual Result of an invocation. Only the first Resolve
// takes effect, so an SDK that fires a completion callback twice still
// produces a single reply.
type Promise struct {
	once   sync.Once
	done   chan struct{}
	result Result
}

// NewPromise returns an unresolved promise.
func NewPromise() *Promise {
	return &Promise{done: make(chan struct{})}
}

// Resolved returns a promise already settled with r.
func Resolved(r Result) *Promise {
	p := NewPromise()
	p.Resolve(r)
	return p
}

// Resolve settles the promise. It reports whether this call won.
func (p *Promise) Resolve(r Result) bool {
	won := false
	p.once.Do(func() {
		p.result = r
		close(p.done)
		won = true
	})
	return won
}

// Done is closed once the promise is settled.
func (p *Promise) Done() <-chan struct{} {
	return p.done
}

// Result returns the settled result. It must only be called after Done.
func (p *Promise) Result() Result {
	<-p.done
	return p.result
}

package irrecoverable

import (
	"context"
	"runtime"

	"go.uber.org/atomic"
)

// Signaler hands the first irrecoverable error of a component to whoever
// supervises it.
type Signaler struct {
	errChan chan error
	thrown  *atomic.Bool
}

func NewSignaler() (*Signaler, <-chan error) {
	errChan := make(chan error, 1)
	return &Signaler{
		errChan: errChan,
		thrown:  atomic.NewBool(false),
	}, errChan
}

// Throw is a narrow drop-in replacement for panic and log.Fatal. It delivers
// err if no error has been thrown before and terminates the calling goroutine.
func (s *Signaler) Throw(err error) {
	defer runtime.Goexit()
	if s.thrown.CAS(false, true) {
		s.errChan <- err
	}
}

// SignalerContext is a context.Context a component can throw irrecoverable
// errors on.
type SignalerContext interface {
	context.Context
	Throw(err error) // delegates to the signaler
	sealed()         // private, to constrain builder to using WithSignaler
}

type signalerCtx struct {
	context.Context
	*Signaler
}

func (sc signalerCtx) sealed() {}

// WithSignaler returns a SignalerContext derived from parent and the channel
// the first thrown error is delivered on.
func WithSignaler(parent context.Context) (SignalerContext, <-chan error) {
	sig, errChan := NewSignaler()
	return signalerCtx{parent, sig}, errChan
}

package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrTransport wraps the terminal error returned once a Supervisor
// exhausts its retry budget, corresponding to the TransportError
// taxonomy entry in §7.
var ErrTransport = errors.New("transport: channel unavailable")

// DialFunc opens a fresh Channel, e.g. transport.Dial bound to a fixed
// address.
type DialFunc func(ctx context.Context) (Channel, error)

// Supervisor drives one side of the §4.5 channel lifecycle state machine:
// Disconnected → Connecting → Connected → Reconnecting → Closed. It is
// used by a child hub dialing its parent, the side responsible for
// re-establishing the connection after a break.
type Supervisor struct {
	dial        DialFunc
	interval    time.Duration
	maxAttempts int

	mu    sync.Mutex
	state State
}

// NewSupervisor creates a Supervisor that reconnects via dial, waiting
// interval between attempts (default 5s, per reconnect_interval_sec) and
// giving up after maxAttempts consecutive failures (default 3).
func NewSupervisor(dial DialFunc, interval time.Duration, maxAttempts int) *Supervisor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Supervisor{dial: dial, interval: interval, maxAttempts: maxAttempts, state: Disconnected}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Run dials, then calls serve with the live channel; serve should block
// until the channel breaks or ctx is done. Run takes serve as well as ctx,
// so it joins a run.Group wrapped in run.Func. On a break (serve returns a
// non-nil error while ctx is still active), Run transitions to Reconnecting
// and dials again. Failed dials are retried with a fixed interval backoff;
// after maxAttempts consecutive failed dials Run gives up with ErrTransport.
// The attempt counter resets after any successful connection.
func (s *Supervisor) Run(ctx context.Context, serve func(ctx context.Context, ch Channel) error) error {
	attempts := 0
	broke := false
	for {
		if ctx.Err() != nil {
			s.setState(Closed)
			return ctx.Err()
		}

		if attempts == 0 && !broke {
			s.setState(Connecting)
		} else {
			s.setState(Reconnecting)
		}

		ch, err := s.dial(ctx)
		if err != nil {
			attempts++
			if attempts >= s.maxAttempts {
				s.setState(Closed)
				return fmt.Errorf("%w: %d attempts: %v", ErrTransport, attempts, err)
			}
			if !sleep(ctx, s.interval) {
				s.setState(Closed)
				return ctx.Err()
			}
			continue
		}

		s.setState(Connected)
		attempts = 0
		serveErr := serve(ctx, ch)
		ch.Close()

		if ctx.Err() != nil {
			s.setState(Closed)
			return ctx.Err()
		}
		if serveErr == nil {
			s.setState(Closed)
			return nil
		}
		// Channel broke; loop around to reconnect.
		broke = true
	}
}

// sleep waits for d or ctx cancellation, reporting false on cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Package breakers wraps external collaborators in circuit breakers.
package breakers

import (
	"errors"
	"time"

	cb "github.com/sony/gobreaker"
)

// ErrOpen is returned while a breaker rejects calls.
var ErrOpen = errors.New("circuit breaker open")

// Settings configures a breaker. Zero values take the defaults.
type Settings struct {
	ConsecutiveFailures uint32
	Interval            time.Duration
	Timeout             time.Duration
	OnStateChange       func(name string, from, to string)
}

type Breaker struct{ cb *cb.CircuitBreaker }

// New creates a breaker that trips after three consecutive failures, or once
// more than 5% of at least 20 calls in the interval have failed.
func New(name string, s Settings) *Breaker {
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = 3
	}
	if s.Interval <= 0 {
		s.Interval = 60 * time.Second
	}
	if s.Timeout <= 0 {
		s.Timeout = 60 * time.Second
	}
	st := cb.Settings{Name: name}
	st.Interval = s.Interval
	st.Timeout = s.Timeout
	st.ReadyToTrip = func(counts cb.Counts) bool {
		if counts.ConsecutiveFailures >= s.ConsecutiveFailures {
			return true
		}
		total := counts.Requests
		if total < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(total) > 0.05
	}
	if s.OnStateChange != nil {
		st.OnStateChange = func(name string, from, to cb.State) {
			s.OnStateChange(name, from.String(), to.String())
		}
	}
	return &Breaker{cb: cb.NewCircuitBreaker(st)}
}

// Execute runs fn through the breaker. Rejections are reported as ErrOpen.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	v, err := b.cb.Execute(fn)
	if errors.Is(err, cb.ErrOpenState) || errors.Is(err, cb.ErrTooManyRequests) {
		return nil, ErrOpen
	}
	return v, err
}

// State returns "closed", "half-open" or "open".
func (b *Breaker) State() string { return b.cb.State().String() }

func (b *Breaker) Name() string { return b.cb.Name() }

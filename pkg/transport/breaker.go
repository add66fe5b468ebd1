package transport

import (
	"time"

	"github.com/sony/gobreaker"
)

// breaker wraps a per-client gobreaker.CircuitBreaker around Server.Write
// so a peer whose writes fail three times in a row trips open and further
// writes to it are rejected without touching the FIFO until the 30-second
// cooldown lets one trial write through (SPEC_FULL.md DOMAIN STACK). A
// write that blocks rather than fails does not count toward tripping.
type breaker struct {
	cb *gobreaker.CircuitBreaker
}

func newBreaker(client string) *breaker {
	settings := gobreaker.Settings{
		Name:        client,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *breaker) execute(fn func() (interface{}, error)) (interface{}, error) {
	return b.cb.Execute(fn)
}

package fetch

import (
	"net/url"
	"sync"
	"time"

	"github.com/cenk/backoff"
	circuit "github.com/rubyist/circuitbreaker"
)

const (
	breakerInitialInterval = 30 * time.Second
	breakerMaxInterval     = 5 * time.Minute
)

// breakers holds one circuit per host.
type breakers struct {
	threshold int64

	mu    sync.Mutex
	byKey map[string]*circuit.Breaker
}

func newBreakers(threshold int64) *breakers {
	return &breakers{
		threshold: threshold,
		byKey:     make(map[string]*circuit.Breaker),
	}
}

// get returns the breaker of host, creating it on first use.
// A non-positive threshold disables breaking and get returns nil.
func (b *breakers) get(host string) *circuit.Breaker {
	if b == nil || b.threshold <= 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if breaker, ok := b.byKey[host]; ok {
		return breaker
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = breakerInitialInterval
	expBackoff.MaxInterval = breakerMaxInterval
	expBackoff.Reset()

	breaker := circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ThresholdTripFunc(b.threshold),
	})

	b.byKey[host] = breaker

	return breaker
}

// states reports "open" or "closed" per known host.
func (b *breakers) states() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()

	states := make(map[string]string, len(b.byKey))

	for host, breaker := range b.byKey {
		if breaker.Tripped() {
			states[host] = "open"
		} else {
			states[host] = "closed"
		}
	}

	return states
}

// hostOf groups URLs by host for circuit selection.
func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}

	return parsed.Host
}

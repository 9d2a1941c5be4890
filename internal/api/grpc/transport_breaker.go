package grpc

import (
	"time"

	"github.com/sony/gobreaker"
)

// newTransportBreaker builds the circuit breaker guarding outbound remote
// Tell/Ask calls. spec.md §6 treats a disconnected or overloaded remote
// peer as the RemoteDisconnect exit reason rather than letting every caller
// block on a peer that has stopped answering; tripping the breaker after a
// run of consecutive failures gives the rest of the system that signal
// without waiting for each individual call to time out first.
func newTransportBreaker() *gobreaker.CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        "substrate-transport",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return gobreaker.NewCircuitBreaker(settings)
}

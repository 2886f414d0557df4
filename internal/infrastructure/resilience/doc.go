/*
Package resilience provides circuit breakers for outgoing network requests.

The network client keeps one Breaker per request origin in a Set. An origin
that keeps failing trips its own breaker; further navigations, fetches and
prefetches to it fail fast with ErrCircuitOpen until the open timeout
elapses, while other origins are unaffected.

	set := resilience.NewSet(resilience.Settings{
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	err := set.Get("https://example.com").Execute(func() error {
		resp, err = client.Do(req)
		return err
	})

A breaker moves closed → open after ReadyToTrip, open → half-open after
Timeout, and half-open → closed after MaxRequests consecutive successes. A
failure while half-open reopens it. Counts reset every Interval while
closed; results from a previous generation are ignored.
*/
package resilience

package ingest

import "time"

// maxBackoffExponent caps the exponent in the backoff growth formula so a
// chronically failing peer's delay plateaus instead of growing unbounded.
const maxBackoffExponent = 5

// backoffDelay computes the Stage D failure-path cooldown: 60 * 2^min(k,5)
// seconds, where k is the peer's failure count after this attempt.
func backoffDelay(failureCount int) time.Duration {
	exp := failureCount
	if exp > maxBackoffExponent {
		exp = maxBackoffExponent
	}
	multiplier := 1 << uint(exp)
	return time.Duration(60*multiplier) * time.Second
}

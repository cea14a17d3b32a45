package coordinator

import "time"

const (
	backoffMultiplier = 2
	backoffCapUnits   = 10
)

// Backoff returns how long a record must rest after its n-th failure before
// the coordinator may resubmit it: base, base*2, base*4, ... capped at
// 10*base. retryCount below 1 is treated as the first failure.
func Backoff(base time.Duration, retryCount int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if retryCount < 1 {
		retryCount = 1
	}

	d := base
	for i := 1; i < retryCount; i++ {
		d *= backoffMultiplier
		if d >= backoffCapUnits*base {
			return backoffCapUnits * base
		}
	}
	return d
}

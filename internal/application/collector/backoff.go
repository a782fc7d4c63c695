package collector

import "time"

// Backoff doubles Base per consecutive failure, capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait after the given number of consecutive failures (>= 1).
func (b Backoff) Delay(failures int) time.Duration {
	if failures <= 0 || b.Base <= 0 {
		return b.Base
	}
	d := b.Base
	for i := 1; i < failures; i++ {
		if b.Max > 0 && d >= b.Max {
			break
		}
		d *= 2
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}

func maxDur(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

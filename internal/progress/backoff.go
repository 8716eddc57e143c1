package progress

import "time"

// Backoff computes reconnect delays: Initial * Multiplier^(attempt-1), bounded
// by an attempt count and a total elapsed-time ceiling.
type Backoff struct {
	Initial     time.Duration
	Multiplier  float64
	MaxElapsed  time.Duration
	MaxAttempts int
}

// Delay returns the wait after failed attempt n (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(b.Initial)
	for i := 1; i < attempt; i++ {
		d *= mult
		if d > float64(b.MaxElapsed) && b.MaxElapsed > 0 {
			break
		}
	}
	return time.Duration(d)
}

// Next returns the wait before the attempt after failed attempt n, or false
// when the attempt budget is spent or waiting would cross MaxElapsed.
func (b Backoff) Next(attempt int, elapsed time.Duration) (time.Duration, bool) {
	if b.MaxAttempts > 0 && attempt >= b.MaxAttempts {
		return 0, false
	}
	d := b.Delay(attempt)
	if b.MaxElapsed > 0 && elapsed+d > b.MaxElapsed {
		return 0, false
	}
	return d, true
}

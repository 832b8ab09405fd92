package core

import (
	"math"
	"time"
)

const (
	DefaultRetryBase = 30 * time.Second
	DefaultRetryMax  = time.Hour
)

// ExponentialRetryPolicy doubles the base delay per completed attempt and
// caps at Max. attempt=1 yields Base, attempt=2 yields 2*Base, and so on.
type ExponentialRetryPolicy struct {
	Base time.Duration
	Max  time.Duration
}

func (p ExponentialRetryPolicy) NextDelay(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = DefaultRetryBase
	}
	max := p.Max
	if max <= 0 {
		max = DefaultRetryMax
	}
	if attempt < 1 {
		attempt = 1
	}
	exponent := float64(attempt - 1)
	if exponent > 32 {
		exponent = 32
	}
	delay := time.Duration(float64(base) * math.Pow(2, exponent))
	if delay <= 0 || delay > max {
		return max
	}
	return delay
}

var _ RetryPolicy = ExponentialRetryPolicy{}

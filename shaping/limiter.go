// Package shaping turns raw operator axes into physical chassis commands.
package shaping

import (
	"math"
	"time"

	"github.com/benbjohnson/clock"
)

// RateLimiter bounds how fast its output may change, in units per second.
type RateLimiter struct {
	rate  float64
	clk   clock.Clock
	last  float64
	stamp time.Time
}

// NewRateLimiter returns a limiter starting at zero. A rate of zero disables limiting.
func NewRateLimiter(rate float64, clk clock.Clock) *RateLimiter {
	if clk == nil {
		clk = clock.New()
	}
	return &RateLimiter{rate: rate, clk: clk, stamp: clk.Now()}
}

// Calculate moves the output toward input by at most rate*elapsed.
func (l *RateLimiter) Calculate(input float64) float64 {
	now := l.clk.Now()
	elapsed := now.Sub(l.stamp).Seconds()
	l.stamp = now
	if l.rate <= 0 {
		l.last = input
		return input
	}
	step := l.rate * elapsed
	l.last += math.Max(-step, math.Min(input-l.last, step))
	return l.last
}

// Reset sets the output to value without rate limiting.
func (l *RateLimiter) Reset(value float64) {
	l.last = value
	l.stamp = l.clk.Now()
}

// Last returns the most recent output.
func (l *RateLimiter) Last() float64 {
	return l.last
}

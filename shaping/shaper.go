package shaping

import (
	"math"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

// AxisConfig describes how one command axis is shaped.
type AxisConfig struct {
	// Deadband zeroes inputs whose magnitude is at or below it.
	Deadband float64 `json:"deadband"`
	// Exponent is the sign-preserving power applied after the deadband, 2 or 3 in practice.
	Exponent float64 `json:"exponent"`
	// SlewRate is the largest change per second of the normalized output. Zero disables it.
	SlewRate float64 `json:"slew_rate"`
}

// Validate checks the axis configuration.
func (c AxisConfig) Validate() error {
	switch {
	case c.Deadband < 0 || c.Deadband >= 1:
		return errors.Errorf("deadband must be in [0, 1), got %v", c.Deadband)
	case c.Exponent < 1:
		return errors.Errorf("exponent must be at least 1, got %v", c.Exponent)
	case c.SlewRate < 0:
		return errors.Errorf("slew rate must not be negative, got %v", c.SlewRate)
	}
	return nil
}

// Axis shapes one command axis. It owns its limiter for its whole life.
type Axis struct {
	cfg       AxisConfig
	maxOutput float64
	limiter   *RateLimiter
}

// NewAxis builds an axis whose normalized output is scaled to maxOutput.
func NewAxis(cfg AxisConfig, maxOutput float64, clk clock.Clock) (*Axis, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if maxOutput <= 0 {
		return nil, errors.Errorf("max output must be positive, got %v", maxOutput)
	}
	return &Axis{
		cfg:       cfg,
		maxOutput: maxOutput,
		limiter:   NewRateLimiter(cfg.SlewRate, clk),
	}, nil
}

// Shape converts a raw [-1, 1] input to physical units.
func (a *Axis) Shape(raw float64) float64 {
	return Shape(raw, a.cfg.Deadband, a.cfg.Exponent, a.limiter, a.maxOutput)
}

// Reset clears the rate limiter memory.
func (a *Axis) Reset() {
	a.limiter.Reset(0)
}

// MaxOutput is the physical value of a full-scale input.
func (a *Axis) MaxOutput() float64 {
	return a.maxOutput
}

// Shape applies the deadband, a sign-preserving power, the rate limiter and
// the final scale, in that order. Inputs are clamped to [-1, 1].
func Shape(raw, deadband, exponent float64, limiter *RateLimiter, maxOutput float64) float64 {
	if math.IsNaN(raw) || math.Abs(raw) <= deadband {
		raw = 0
	}
	raw = math.Max(-1, math.Min(raw, 1))
	shaped := math.Copysign(math.Pow(math.Abs(raw), exponent), raw)
	if limiter != nil {
		shaped = limiter.Calculate(shaped)
	}
	return shaped * maxOutput
}

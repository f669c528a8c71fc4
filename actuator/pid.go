package actuator

import "math"

// PIDConfig holds the gains of a position loop.
type PIDConfig struct {
	Kp float64 `json:"kp"`
	Ki float64 `json:"ki"`
	Kd float64 `json:"kd"`
	// IntegralLimit bounds the accumulated error. Zero means 1/Ki when Ki is set.
	IntegralLimit float64 `json:"integral_limit,omitempty"`
}

// PID is a discrete PID controller with an output clamped to [-1, 1].
type PID struct {
	cfg         PIDConfig
	integral    float64
	prevError   float64
	initialized bool
}

// NewPID returns a PID with the given gains.
func NewPID(cfg PIDConfig) *PID {
	if cfg.IntegralLimit == 0 && cfg.Ki != 0 {
		cfg.IntegralLimit = 1 / math.Abs(cfg.Ki)
	}
	return &PID{cfg: cfg}
}

// Reset clears the integrator and derivative history.
func (p *PID) Reset() {
	p.integral = 0
	p.prevError = 0
	p.initialized = false
}

// Update returns the output for the given error after dt seconds.
func (p *PID) Update(err, dt float64) float64 {
	if !p.initialized {
		p.prevError = err
		p.initialized = true
	}

	p.integral += err * dt
	if lim := p.cfg.IntegralLimit; lim > 0 {
		p.integral = math.Max(-lim, math.Min(p.integral, lim))
	}

	var deriv float64
	if dt > 0 {
		deriv = (err - p.prevError) / dt
	}
	p.prevError = err

	out := p.cfg.Kp*err + p.cfg.Ki*p.integral + p.cfg.Kd*deriv
	return math.Max(-1, math.Min(out, 1))
}

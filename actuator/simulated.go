package actuator

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// ControlMode is the loop an actuator is currently closing.
type ControlMode int

// Control modes.
const (
	ModeStopped ControlMode = iota
	ModeVelocity
	ModePosition
)

// Simulated is an ideal actuator. Velocity references are tracked exactly and
// integrated into position over clock time; position references are reached
// instantly, or at MaxVelocity when it is set.
type Simulated struct {
	mu          sync.Mutex
	clk         clock.Clock
	maxVelocity float64

	mode     ControlMode
	neutral  NeutralMode
	velocity float64
	position float64
	target   float64
	stamp    time.Time
}

// NewSimulated returns a stopped simulated actuator. maxVelocity bounds how
// fast position references are approached, zero means instantly.
func NewSimulated(clk clock.Clock, maxVelocity float64) *Simulated {
	if clk == nil {
		clk = clock.New()
	}
	return &Simulated{clk: clk, maxVelocity: maxVelocity, stamp: clk.Now()}
}

// advance integrates motion since the last call. Callers hold mu.
func (s *Simulated) advance() {
	now := s.clk.Now()
	dt := now.Sub(s.stamp).Seconds()
	s.stamp = now
	switch s.mode {
	case ModeVelocity:
		s.position += s.velocity * dt
	case ModePosition:
		if s.maxVelocity <= 0 {
			s.position = s.target
			s.velocity = 0
			return
		}
		step := math.Max(-s.maxVelocity*dt, math.Min(s.target-s.position, s.maxVelocity*dt))
		s.position += step
		if dt > 0 {
			s.velocity = step / dt
		}
	default:
		s.velocity = 0
	}
}

// SetVelocityReference implements Actuator.
func (s *Simulated) SetVelocityReference(ctx context.Context, revsPerSec float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	s.mode = ModeVelocity
	s.velocity = revsPerSec
	return nil
}

// SetPositionReference implements Actuator.
func (s *Simulated) SetPositionReference(ctx context.Context, revs float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	s.mode = ModePosition
	s.target = revs
	if s.maxVelocity <= 0 {
		s.position = revs
		s.velocity = 0
	}
	return nil
}

// VelocityFeedback implements Actuator.
func (s *Simulated) VelocityFeedback(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	return s.velocity, nil
}

// PositionFeedback implements Actuator.
func (s *Simulated) PositionFeedback(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	return s.position, nil
}

// Stop implements Actuator.
func (s *Simulated) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	s.mode = ModeStopped
	s.velocity = 0
	return nil
}

// SetNeutralMode implements Actuator.
func (s *Simulated) SetNeutralMode(ctx context.Context, mode NeutralMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.neutral = mode
	return nil
}

// SetReferenceFrame implements Actuator.
func (s *Simulated) SetReferenceFrame(ctx context.Context, revs float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	s.target += revs - s.position
	s.position = revs
	return nil
}

// Mode returns the loop currently being closed.
func (s *Simulated) Mode() ControlMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Neutral returns the configured neutral mode.
func (s *Simulated) Neutral() NeutralMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.neutral
}

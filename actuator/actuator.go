// Package actuator defines the closed-loop motor controllers a swerve module
// drives, and the implementations the base can be configured with.
package actuator

import (
	"context"
	"fmt"
)

// NeutralMode is what an actuator does with zero output.
type NeutralMode int

// Neutral modes.
const (
	NeutralCoast NeutralMode = iota
	NeutralBrake
)

func (m NeutralMode) String() string {
	switch m {
	case NeutralCoast:
		return "coast"
	case NeutralBrake:
		return "brake"
	default:
		return fmt.Sprintf("NeutralMode(%d)", int(m))
	}
}

// An Actuator is a motor whose controller closes velocity and position loops
// on its own. Positions are rotor revolutions and velocities rotor revolutions
// per second. No method may block for longer than a bus write.
type Actuator interface {
	// SetVelocityReference commands a closed-loop velocity.
	SetVelocityReference(ctx context.Context, revsPerSec float64) error
	// SetPositionReference commands a closed-loop position. Positions are
	// continuous: 1.25 and 0.25 are different targets.
	SetPositionReference(ctx context.Context, revs float64) error
	VelocityFeedback(ctx context.Context) (float64, error)
	PositionFeedback(ctx context.Context) (float64, error)
	// Stop commands zero output.
	Stop(ctx context.Context) error
	SetNeutralMode(ctx context.Context, mode NeutralMode) error
	// SetReferenceFrame declares the current position to be revs.
	SetReferenceFrame(ctx context.Context, revs float64) error
}

package drive

import (
	"math"

	"github.com/golang/geo/s1"
	"github.com/pkg/errors"

	"swerve/kinematics"
	"swerve/shaping"
)

// Config holds the drivetrain limits and operator input shaping.
type Config struct {
	// MaxSpeed is the chassis speed of a full-scale translation input, m/s.
	MaxSpeed float64
	// MaxAngularSpeed is the chassis rate of a full-scale rotation input, rad/s.
	MaxAngularSpeed float64
	// MaxModuleSpeed is the fastest any wheel may be driven, m/s.
	MaxModuleSpeed float64

	Translation shaping.AxisConfig
	Rotation    shaping.AxisConfig

	// DefenseAngles is the X stance, in module order.
	DefenseAngles [kinematics.NumModules]s1.Angle
}

// DefaultConfig returns the limits of a typical competition base.
func DefaultConfig() Config {
	return Config{
		MaxSpeed:        4.5,
		MaxAngularSpeed: 2 * math.Pi,
		MaxModuleSpeed:  4.5,
		Translation:     shaping.AxisConfig{Deadband: 0.05, Exponent: 2, SlewRate: 2},
		Rotation:        shaping.AxisConfig{Deadband: 0.1, Exponent: 3, SlewRate: 2},
		DefenseAngles: [kinematics.NumModules]s1.Angle{
			kinematics.Degrees(135),
			kinematics.Degrees(135),
			kinematics.Degrees(45),
			kinematics.Degrees(45),
		},
	}
}

// Validate checks the drivetrain configuration.
func (c Config) Validate() error {
	switch {
	case !(c.MaxSpeed > 0):
		return errors.Errorf("max speed must be positive, got %v", c.MaxSpeed)
	case !(c.MaxAngularSpeed > 0):
		return errors.Errorf("max angular speed must be positive, got %v", c.MaxAngularSpeed)
	case !(c.MaxModuleSpeed > 0):
		return errors.Errorf("max module speed must be positive, got %v", c.MaxModuleSpeed)
	}
	if err := c.Translation.Validate(); err != nil {
		return errors.Wrap(err, "translation")
	}
	return errors.Wrap(c.Rotation.Validate(), "rotation")
}

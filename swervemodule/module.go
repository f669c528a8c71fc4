// Package swervemodule controls one swerve module: a drive actuator that sets
// the wheel speed and a steer actuator that sets the wheel heading.
package swervemodule

import (
	"context"
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/s1"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"

	"swerve/actuator"
	"swerve/kinematics"
)

// Mode is the state of a module's controller.
type Mode int

// Module modes.
const (
	ModeIdle Mode = iota
	ModeTracking
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeTracking:
		return "tracking"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Config is the fixed description of one module.
type Config struct {
	Name string
	// Offset of the module from the center of rotation, x forward, y left, metres.
	Offset r2.Point
	// DriveGearRatio is drive rotor revolutions per wheel revolution.
	DriveGearRatio float64
	// SteerGearRatio is steer rotor revolutions per module revolution.
	SteerGearRatio float64
	// WheelCircumference in metres.
	WheelCircumference float64
	// InitialAngle, when set, seeds the steer position at startup, typically
	// from an absolute encoder.
	InitialAngle *s1.Angle
}

// Validate checks the module configuration.
func (c Config) Validate() error {
	switch {
	case c.Name == "":
		return errors.New("module needs a name")
	case !(c.DriveGearRatio > 0):
		return errors.Errorf("module %s: drive gear ratio must be positive, got %v", c.Name, c.DriveGearRatio)
	case !(c.SteerGearRatio > 0):
		return errors.Errorf("module %s: steer gear ratio must be positive, got %v", c.Name, c.SteerGearRatio)
	case !(c.WheelCircumference > 0):
		return errors.Errorf("module %s: wheel circumference must be positive, got %v", c.Name, c.WheelCircumference)
	}
	return nil
}

// Status is a snapshot of a module for telemetry.
type Status struct {
	Name      string
	Mode      Mode
	Degraded  bool
	LastError string
	// Measured is the last good measured state, Distance the last good travel.
	Measured kinematics.ModuleState
	Distance float64
	// Target is the last commanded state after optimization.
	Target kinematics.ModuleState
	// RawSteer is the steer actuator position in rotor revolutions.
	RawSteer float64
}

// Module owns the two actuators of one swerve module. It is not safe for
// concurrent use.
type Module struct {
	cfg    Config
	drive  actuator.Actuator
	steer  actuator.Actuator
	logger logging.Logger

	mode     Mode
	degraded bool
	lastErr  error

	// last good feedback
	speed    float64
	distance float64
	rawSteer float64

	target kinematics.ModuleState
}

// New returns an idle module. Invalid configuration and a failed steer
// seeding are fatal.
func New(ctx context.Context, cfg Config, drive, steer actuator.Actuator, logger logging.Logger) (*Module, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if drive == nil || steer == nil {
		return nil, errors.Errorf("module %s needs both a drive and a steer actuator", cfg.Name)
	}
	m := &Module{
		cfg:    cfg,
		drive:  drive,
		steer:  steer,
		logger: logger,
	}

	if cfg.InitialAngle != nil {
		revs := cfg.InitialAngle.Degrees() / 360 * cfg.SteerGearRatio
		if err := steer.SetReferenceFrame(ctx, revs); err != nil {
			return nil, errors.Wrapf(err, "seeding steer position of module %s", cfg.Name)
		}
		logger.Infow("seeded steer position", "module", cfg.Name, "angle_deg", cfg.InitialAngle.Degrees())
		m.rawSteer = revs
	}

	// prime the feedback cache; a failure here only degrades the module
	if _, err := m.State(ctx); err != nil {
		logger.Warnw("module feedback unavailable at startup", "module", cfg.Name, "error", err)
	}
	if cfg.InitialAngle != nil {
		m.target.Angle = kinematics.NormalizeAngle(*cfg.InitialAngle)
	} else {
		m.target.Angle = m.angle()
	}
	return m, nil
}

// Name returns the module name.
func (m *Module) Name() string {
	return m.cfg.Name
}

// Offset returns the module offset from the center of rotation.
func (m *Module) Offset() r2.Point {
	return m.cfg.Offset
}

// Mode returns the controller state.
func (m *Module) Mode() Mode {
	return m.mode
}

// Degraded reports whether the last exchange with the hardware failed.
func (m *Module) Degraded() bool {
	return m.degraded
}

// LastAngle is the last commanded wheel heading, or the measured heading
// before any command.
func (m *Module) LastAngle() s1.Angle {
	return m.target.Angle
}

// State returns the measured wheel speed and heading. On a feedback failure
// the last good values are returned along with the error.
func (m *Module) State(ctx context.Context) (kinematics.ModuleState, error) {
	err := m.readSteer(ctx)
	if vel, verr := m.drive.VelocityFeedback(ctx); verr != nil {
		err = multierr.Append(err, errors.Wrap(verr, "drive velocity"))
	} else {
		m.speed = vel / m.cfg.DriveGearRatio * m.cfg.WheelCircumference
	}
	m.record(err)
	return kinematics.ModuleState{Speed: m.speed, Angle: m.angle()}, m.wrap(err)
}

// Position returns the measured wheel travel and heading. On a feedback
// failure the last good values are returned along with the error.
func (m *Module) Position(ctx context.Context) (kinematics.ModulePosition, error) {
	err := m.readSteer(ctx)
	if pos, perr := m.drive.PositionFeedback(ctx); perr != nil {
		err = multierr.Append(err, errors.Wrap(perr, "drive position"))
	} else {
		m.distance = pos / m.cfg.DriveGearRatio * m.cfg.WheelCircumference
	}
	m.record(err)
	return kinematics.ModulePosition{Distance: m.distance, Angle: m.angle()}, m.wrap(err)
}

// SetState drives the module toward target along the shortest steer path.
func (m *Module) SetState(ctx context.Context, target kinematics.ModuleState) error {
	target.Angle = kinematics.NormalizeAngle(target.Angle)
	err := m.readSteer(ctx)

	opt := Optimize(target, m.continuousAngle())
	driveRef := opt.Speed / m.cfg.WheelCircumference * m.cfg.DriveGearRatio
	steerRef := opt.Angle.Degrees() / 360 * m.cfg.SteerGearRatio

	if derr := m.drive.SetVelocityReference(ctx, driveRef); derr != nil {
		err = multierr.Append(err, errors.Wrap(derr, "drive reference"))
	}
	if serr := m.steer.SetPositionReference(ctx, steerRef); serr != nil {
		err = multierr.Append(err, errors.Wrap(serr, "steer reference"))
	}

	m.mode = ModeTracking
	m.target = kinematics.ModuleState{Speed: opt.Speed, Angle: kinematics.NormalizeAngle(opt.Angle)}
	m.record(err)
	return m.wrap(err)
}

// Stop commands zero output on both actuators and idles the module. It may be
// called at any time.
func (m *Module) Stop(ctx context.Context) error {
	err := multierr.Combine(
		errors.Wrap(m.drive.Stop(ctx), "drive stop"),
		errors.Wrap(m.steer.Stop(ctx), "steer stop"),
	)
	m.mode = ModeIdle
	m.target.Speed = 0
	m.record(err)
	return m.wrap(err)
}

// BrakeMode makes both actuators hold when not driven.
func (m *Module) BrakeMode(ctx context.Context) error {
	return m.setNeutralMode(ctx, actuator.NeutralBrake)
}

// CoastMode lets both actuators spin freely when not driven.
func (m *Module) CoastMode(ctx context.Context) error {
	return m.setNeutralMode(ctx, actuator.NeutralCoast)
}

func (m *Module) setNeutralMode(ctx context.Context, mode actuator.NeutralMode) error {
	err := multierr.Combine(
		errors.Wrapf(m.drive.SetNeutralMode(ctx, mode), "drive %s mode", mode),
		errors.Wrapf(m.steer.SetNeutralMode(ctx, mode), "steer %s mode", mode),
	)
	m.record(err)
	return m.wrap(err)
}

// Status returns a snapshot of the module from cached values.
func (m *Module) Status() Status {
	s := Status{
		Name:     m.cfg.Name,
		Mode:     m.mode,
		Degraded: m.degraded,
		Measured: kinematics.ModuleState{Speed: m.speed, Angle: m.angle()},
		Distance: m.distance,
		Target:   m.target,
		RawSteer: m.rawSteer,
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}

func (m *Module) readSteer(ctx context.Context) error {
	pos, err := m.steer.PositionFeedback(ctx)
	if err != nil {
		return errors.Wrap(err, "steer position")
	}
	m.rawSteer = pos
	return nil
}

// continuousAngle is the measured steer angle without wrapping.
func (m *Module) continuousAngle() s1.Angle {
	return kinematics.Degrees(m.rawSteer / m.cfg.SteerGearRatio * 360)
}

func (m *Module) angle() s1.Angle {
	return kinematics.NormalizeAngle(m.continuousAngle())
}

func (m *Module) wrap(err error) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, "module %s", m.cfg.Name)
}

// record tracks the degraded flag, logging only on transitions.
func (m *Module) record(err error) {
	switch {
	case err != nil && !m.degraded:
		m.logger.Warnw("module degraded", "module", m.cfg.Name, "error", err)
	case err == nil && m.degraded:
		m.logger.Infow("module recovered", "module", m.cfg.Name)
	}
	m.degraded = err != nil
	if err != nil {
		m.lastErr = err
	}
}

// Optimize returns the state equivalent to target that needs the least steer
// travel from current: the steer delta is at most 90° in magnitude, with the
// speed reversed when the wheel is turned around. The returned angle is
// continuous with current and is not normalized.
func Optimize(target kinematics.ModuleState, current s1.Angle) kinematics.ModuleState {
	delta := math.Mod(target.Angle.Degrees()-current.Degrees(), 360)
	if delta > 180 {
		delta -= 360
	} else if delta <= -180 {
		delta += 360
	}

	speed := target.Speed
	if math.Abs(delta) > 90 {
		speed = -speed
		if delta > 0 {
			delta -= 180
		} else {
			delta += 180
		}
	}
	return kinematics.ModuleState{Speed: speed, Angle: kinematics.Degrees(current.Degrees() + delta)}
}

// Package drive is the swerve drivetrain: it turns chassis commands into four
// module targets and keeps the odometry estimate.
package drive

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/s1"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"

	"swerve/heading"
	"swerve/kinematics"
	"swerve/odometry"
	"swerve/shaping"
	"swerve/swervemodule"
)

// Drivetrain coordinates the four modules. It is not safe for concurrent use;
// callers serialize every method, including Periodic.
type Drivetrain struct {
	cfg     Config
	modules [kinematics.NumModules]*swervemodule.Module
	kin     *kinematics.Kinematics
	gyro    heading.Sensor
	odom    *odometry.Estimator
	logger  logging.Logger

	x, y, rot *shaping.Axis

	lastHeading s1.Angle
	commanded   kinematics.ChassisSpeeds
}

// New builds a drivetrain over modules, given in module order. Invalid
// configuration and degenerate module geometry are fatal; failing sensor reads
// only degrade the initial odometry baseline.
func New(ctx context.Context, cfg Config, modules [kinematics.NumModules]*swervemodule.Module, gyro heading.Sensor,
	clk clock.Clock, logger logging.Logger,
) (*Drivetrain, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if gyro == nil {
		return nil, errors.New("drivetrain needs a heading sensor")
	}
	var offsets [kinematics.NumModules]r2.Point
	for i, m := range modules {
		if m == nil {
			return nil, errors.Errorf("missing %s module", kinematics.ModuleNames[i])
		}
		offsets[i] = m.Offset()
	}
	kin, err := kinematics.New(offsets)
	if err != nil {
		return nil, err
	}

	d := &Drivetrain{
		cfg:     cfg,
		modules: modules,
		kin:     kin,
		gyro:    gyro,
		logger:  logger,
	}
	if d.x, err = shaping.NewAxis(cfg.Translation, cfg.MaxSpeed, clk); err != nil {
		return nil, err
	}
	if d.y, err = shaping.NewAxis(cfg.Translation, cfg.MaxSpeed, clk); err != nil {
		return nil, err
	}
	if d.rot, err = shaping.NewAxis(cfg.Rotation, cfg.MaxAngularSpeed, clk); err != nil {
		return nil, err
	}

	h, herr := d.Heading(ctx)
	positions, perr := d.ModulePositions(ctx)
	if err := multierr.Combine(herr, perr); err != nil {
		logger.Warnw("odometry baseline uses stale readings", "error", err)
	}
	d.odom = odometry.New(kin, h, positions, kinematics.Pose{Heading: h})
	return d, nil
}

// Kinematics returns the geometry the drivetrain was built with.
func (d *Drivetrain) Kinematics() *kinematics.Kinematics {
	return d.kin
}

// Modules returns the modules in module order.
func (d *Drivetrain) Modules() [kinematics.NumModules]*swervemodule.Module {
	return d.modules
}

// Drive commands the chassis from normalized operator inputs in [-1, 1]. Each
// axis is shaped first, then field-relative inputs are rotated into the robot
// frame by the current heading.
func (d *Drivetrain) Drive(ctx context.Context, x, y, rotation float64, fieldRelative bool) error {
	vx, vy, omega := d.x.Shape(x), d.y.Shape(y), d.rot.Shape(rotation)
	speeds := kinematics.ChassisSpeeds{Vx: vx, Vy: vy, Omega: omega}

	var headingErr error
	if fieldRelative {
		var h s1.Angle
		h, headingErr = d.Heading(ctx)
		speeds = kinematics.FromFieldRelative(vx, vy, omega, h)
	}
	return multierr.Append(headingErr, d.DriveRobotRelative(ctx, speeds))
}

// DriveRobotRelative commands a chassis velocity in physical units with no
// shaping.
func (d *Drivetrain) DriveRobotRelative(ctx context.Context, speeds kinematics.ChassisSpeeds) error {
	d.commanded = speeds
	return d.SetModuleStates(ctx, d.kin.ToModuleStates(speeds, d.lastAngles()))
}

// SetModuleStates desaturates states against the module speed limit and sends
// one to each module. Every module is commanded even when others fail.
func (d *Drivetrain) SetModuleStates(ctx context.Context, states [kinematics.NumModules]kinematics.ModuleState) error {
	states = kinematics.Desaturate(states, d.cfg.MaxModuleSpeed)
	return d.each(func(i int, m *swervemodule.Module) error {
		return m.SetState(ctx, states[i])
	})
}

// StopModules stops every module.
func (d *Drivetrain) StopModules(ctx context.Context) error {
	d.commanded = kinematics.ChassisSpeeds{}
	return d.each(func(_ int, m *swervemodule.Module) error {
		return m.Stop(ctx)
	})
}

// SetNeutralMode sets brake or coast on every module.
func (d *Drivetrain) SetNeutralMode(ctx context.Context, brake bool) error {
	return d.each(func(_ int, m *swervemodule.Module) error {
		if brake {
			return m.BrakeMode(ctx)
		}
		return m.CoastMode(ctx)
	})
}

// GoToAngle points every wheel at angle without moving.
func (d *Drivetrain) GoToAngle(ctx context.Context, angle s1.Angle) error {
	d.commanded = kinematics.ChassisSpeeds{}
	return d.each(func(_ int, m *swervemodule.Module) error {
		return m.SetState(ctx, kinematics.ModuleState{Angle: angle})
	})
}

// DefenseMode locks the wheels in the X stance and brakes them.
func (d *Drivetrain) DefenseMode(ctx context.Context) error {
	d.commanded = kinematics.ChassisSpeeds{}
	err := d.each(func(i int, m *swervemodule.Module) error {
		return m.SetState(ctx, kinematics.ModuleState{Angle: d.cfg.DefenseAngles[i]})
	})
	return multierr.Append(err, d.SetNeutralMode(ctx, true))
}

// ResetShaping clears the operator input rate limiters.
func (d *Drivetrain) ResetShaping() {
	d.x.Reset()
	d.y.Reset()
	d.rot.Reset()
}

// Heading reads the gyro. On failure the last good heading is returned with
// the error.
func (d *Drivetrain) Heading(ctx context.Context) (s1.Angle, error) {
	h, err := d.gyro.Heading(ctx)
	if err != nil {
		return d.lastHeading, errors.Wrap(err, "heading")
	}
	d.lastHeading = h
	return h, nil
}

// ModuleStates returns the measured state of every module.
func (d *Drivetrain) ModuleStates(ctx context.Context) ([kinematics.NumModules]kinematics.ModuleState, error) {
	var states [kinematics.NumModules]kinematics.ModuleState
	err := d.each(func(i int, m *swervemodule.Module) error {
		var err error
		states[i], err = m.State(ctx)
		return err
	})
	return states, err
}

// ModulePositions returns the measured position of every module.
func (d *Drivetrain) ModulePositions(ctx context.Context) ([kinematics.NumModules]kinematics.ModulePosition, error) {
	var positions [kinematics.NumModules]kinematics.ModulePosition
	err := d.each(func(i int, m *swervemodule.Module) error {
		var err error
		positions[i], err = m.Position(ctx)
		return err
	})
	return positions, err
}

// RobotRelativeSpeeds is the chassis velocity measured by the modules.
func (d *Drivetrain) RobotRelativeSpeeds(ctx context.Context) (kinematics.ChassisSpeeds, error) {
	states, err := d.ModuleStates(ctx)
	return d.kin.ToChassisSpeeds(states), err
}

// CommandedSpeeds is the last robot-relative chassis velocity commanded.
func (d *Drivetrain) CommandedSpeeds() kinematics.ChassisSpeeds {
	return d.commanded
}

// Pose returns the odometry estimate as of the last Periodic call.
func (d *Drivetrain) Pose() kinematics.Pose {
	return d.odom.Pose()
}

// ResetOdometry overwrites the pose estimate. The estimate is reset even when
// readings fail, against the last good readings.
func (d *Drivetrain) ResetOdometry(ctx context.Context, pose kinematics.Pose) error {
	h, herr := d.Heading(ctx)
	positions, perr := d.ModulePositions(ctx)
	d.odom.Reset(h, positions, pose)
	return multierr.Combine(herr, perr)
}

// Periodic updates odometry and refreshes the measured module speeds. It is
// called once per control period.
func (d *Drivetrain) Periodic(ctx context.Context) (kinematics.Pose, error) {
	h, herr := d.Heading(ctx)
	positions, perr := d.ModulePositions(ctx)
	_, serr := d.ModuleStates(ctx)
	return d.odom.Update(h, positions), multierr.Combine(herr, perr, serr)
}

func (d *Drivetrain) lastAngles() [kinematics.NumModules]s1.Angle {
	var out [kinematics.NumModules]s1.Angle
	for i, m := range d.modules {
		out[i] = m.LastAngle()
	}
	return out
}

// each runs fn on every module in order and combines the failures.
func (d *Drivetrain) each(fn func(i int, m *swervemodule.Module) error) error {
	var errs error
	for i, m := range d.modules {
		errs = multierr.Append(errs, fn(i, m))
	}
	return errs
}

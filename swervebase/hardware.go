package swervebase

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/s1"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/components/encoder"
	"go.viam.com/rdk/components/motor"
	"go.viam.com/rdk/components/movementsensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"

	"swerve/actuator"
	"swerve/heading"
	"swerve/kinematics"
	"swerve/swervemodule"
)

// hardware is everything the drivetrain is built on.
type hardware struct {
	drives [kinematics.NumModules]actuator.Actuator
	steers [kinematics.NumModules]actuator.Actuator
	gyro   heading.Sensor
	// simGyro is set when the heading is simulated from commanded rotation.
	simGyro *heading.Integrating
	closers []func() error
}

func (hw *hardware) close() error {
	var err error
	for _, c := range hw.closers {
		err = multierr.Append(err, c())
	}
	hw.closers = nil
	return err
}

// absoluteEncoder is the part of an rdk encoder read for steer seeding.
type absoluteEncoder interface {
	Position(ctx context.Context, positionType encoder.PositionType, extra map[string]interface{}) (
		float64, encoder.PositionType, error)
}

func buildHardware(
	ctx context.Context,
	deps resource.Dependencies,
	cfg *Config,
	clk clock.Clock,
	logger logging.Logger,
) (*hardware, error) {
	hw := &hardware{}

	switch cfg.Actuator {
	case actuatorSim:
		for i := range hw.drives {
			hw.drives[i] = actuator.NewSimulated(clk, 0)
			hw.steers[i] = actuator.NewSimulated(clk, 0)
		}
	case actuatorMotor:
		for i, m := range cfg.Modules {
			driveMotor, err := motor.FromDependencies(deps, m.DriveMotor)
			if err != nil {
				return nil, err
			}
			steerMotor, err := motor.FromDependencies(deps, m.SteerMotor)
			if err != nil {
				return nil, err
			}
			hw.drives[i] = actuator.NewMotor(m.DriveMotor, driveMotor, actuator.PIDConfig{}, clk, logger)
			hw.steers[i] = actuator.NewMotor(m.SteerMotor, steerMotor, cfg.steerPID(), clk, logger)
		}
	case actuatorCAN:
		bus, err := actuator.NewCANBus(cfg.canChannel(), logger)
		if err != nil {
			return nil, errors.Wrapf(err, "opening CAN channel %s", cfg.canChannel())
		}
		hw.closers = append(hw.closers, bus.Close)
		for i, m := range cfg.Modules {
			hw.drives[i] = bus.Actuator(m.DriveNode)
			hw.steers[i] = bus.Actuator(m.SteerNode)
		}
	default:
		return nil, errors.Errorf("unknown actuator %q", cfg.Actuator)
	}

	if cfg.MovementSensor != "" {
		ms, err := movementsensor.FromDependencies(deps, cfg.MovementSensor)
		if err != nil {
			return nil, multierr.Combine(err, hw.close())
		}
		hw.gyro = heading.NewMovementSensor(cfg.MovementSensor, ms, cfg.InvertHeading)
	} else {
		hw.simGyro = heading.NewIntegrating(0)
		hw.gyro = hw.simGyro
	}
	return hw, nil
}

// buildModules seeds and builds the four modules in module order.
func buildModules(
	ctx context.Context,
	deps resource.Dependencies,
	cfg *Config,
	hw *hardware,
	logger logging.Logger,
) ([kinematics.NumModules]*swervemodule.Module, error) {
	var modules [kinematics.NumModules]*swervemodule.Module
	for i, m := range cfg.Modules {
		mcfg := swervemodule.Config{
			Name:               cfg.moduleName(i),
			Offset:             r2.Point{X: m.OffsetXM, Y: m.OffsetYM},
			DriveGearRatio:     cfg.DriveGearRatio,
			SteerGearRatio:     cfg.SteerGearRatio,
			WheelCircumference: cfg.WheelCircumferenceMm / 1000,
		}
		if m.AbsoluteEncoder != "" {
			enc, err := encoder.FromDependencies(deps, m.AbsoluteEncoder)
			if err != nil {
				return modules, err
			}
			angle, err := readAbsoluteAngle(ctx, enc, m.AbsoluteOffsetDeg)
			if err != nil {
				return modules, errors.Wrapf(err, "reading absolute encoder %s", m.AbsoluteEncoder)
			}
			mcfg.InitialAngle = &angle
		}

		module, err := swervemodule.New(ctx, mcfg, hw.drives[i], hw.steers[i], logger)
		if err != nil {
			return modules, err
		}
		modules[i] = module
	}
	return modules, nil
}

func readAbsoluteAngle(ctx context.Context, enc absoluteEncoder, offsetDeg float64) (s1.Angle, error) {
	deg, posType, err := enc.Position(ctx, encoder.PositionTypeDegrees, nil)
	if err != nil {
		return 0, err
	}
	if posType != encoder.PositionTypeDegrees {
		return 0, errors.New("encoder does not report degrees")
	}
	return kinematics.NormalizeAngle(kinematics.Degrees(deg - offsetDeg)), nil
}

// Package swervebase is a viam base component driving a four-module swerve
// drivetrain from a fixed-period control loop.
package swervebase

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/components/base"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/operation"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"
	rdkutils "go.viam.com/rdk/utils"
	viamutils "go.viam.com/utils"

	"swerve/drive"
	"swerve/kinematics"
	"swerve/telemetry"
)

// Model is the swerve base model.
var Model = resource.NewModel("intermode", "modal", "swerve")

// Register adds the swerve base to the component registry.
func Register() {
	resource.RegisterComponent(
		base.API,
		Model,
		resource.Registration[base.Base, *Config]{Constructor: newBase})
}

type holdKind int

const (
	holdNone holdKind = iota
	holdPower
	holdVelocity
)

// heldCommand is re-applied every control period until replaced.
type heldCommand struct {
	kind holdKind
	// seq identifies the command, so a finished timed move only stops the
	// base if nothing replaced its command.
	seq uint64

	x, y, rotation float64
	fieldRelative  bool

	speeds kinematics.ChassisSpeeds
}

type swerveBase struct {
	resource.Named
	resource.AlwaysRebuild

	logger     logging.Logger
	clk        clock.Clock
	period     time.Duration
	geometries []spatialmath.Geometry

	widthM         float64
	circumferenceM float64

	opMgr *operation.SingleOperationManager

	mu          sync.Mutex
	hw          *hardware
	dt          *drive.Drivetrain
	held        heldCommand
	store       *telemetry.Store
	sink        telemetry.Sink
	lastLoopErr string

	cancel                  func()
	activeBackgroundWorkers sync.WaitGroup
}

func newBase(ctx context.Context, deps resource.Dependencies, conf resource.Config, logger logging.Logger) (base.Base, error) {
	cfg, err := resource.NativeConfig[*Config](conf)
	if err != nil {
		return nil, err
	}

	var geometries []spatialmath.Geometry
	if conf.Frame != nil {
		frame, err := conf.Frame.ParseConfig()
		if err != nil {
			return nil, err
		}
		geometries = append(geometries, frame.Geometry())
	}

	b, err := newSwerveBase(ctx, deps, conf.ResourceName(), cfg, clock.New(), logger)
	if err != nil {
		return nil, err
	}
	b.geometries = geometries
	b.start()
	return b, nil
}

// newSwerveBase builds the base without starting its control loop.
func newSwerveBase(
	ctx context.Context,
	deps resource.Dependencies,
	name resource.Name,
	cfg *Config,
	clk clock.Clock,
	logger logging.Logger,
) (*swerveBase, error) {
	hw, err := buildHardware(ctx, deps, cfg, clk, logger)
	if err != nil {
		return nil, err
	}
	modules, err := buildModules(ctx, deps, cfg, hw, logger)
	if err != nil {
		return nil, multierr.Combine(err, hw.close())
	}
	dt, err := drive.New(ctx, cfg.driveConfig(), modules, hw.gyro, clk, logger)
	if err != nil {
		return nil, multierr.Combine(err, hw.close())
	}

	store := telemetry.NewStore()
	sinks := telemetry.Multi{store}
	if cfg.MQTT != nil {
		pub, err := telemetry.NewMQTT(*cfg.MQTT, logger)
		if err != nil {
			return nil, multierr.Combine(err, hw.close())
		}
		sinks = append(sinks, pub)
		hw.closers = append(hw.closers, pub.Close)
	}

	minY, maxY := math.Inf(1), math.Inf(-1)
	for _, o := range dt.Kinematics().Offsets() {
		minY, maxY = math.Min(minY, o.Y), math.Max(maxY, o.Y)
	}

	b := &swerveBase{
		Named:          name.AsNamed(),
		logger:         logger,
		clk:            clk,
		period:         time.Duration(cfg.controlPeriodMs()) * time.Millisecond,
		widthM:         maxY - minY,
		circumferenceM: cfg.WheelCircumferenceMm / 1000,
		opMgr:          operation.NewSingleOperationManager(),
		hw:             hw,
		dt:             dt,
		store:          store,
		sink:           sinks,
		cancel:         func() {},
	}
	logger.Infow("swerve base ready",
		"actuator", cfg.Actuator,
		"period", b.period,
		"drive_base_radius_m", dt.Kinematics().DriveBaseRadius())
	return b, nil
}

// start runs the control loop until Close.
func (b *swerveBase) start() {
	cancelCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.activeBackgroundWorkers.Add(1)
	viamutils.ManagedGo(func() {
		b.controlLoop(cancelCtx)
	}, b.activeBackgroundWorkers.Done)
}

// hold replaces the held command and returns its sequence number. Callers hold mu.
func (b *swerveBase) hold(cmd heldCommand) uint64 {
	cmd.seq = b.held.seq + 1
	b.held = cmd
	return cmd.seq
}

// apply sends the held command once. Callers hold mu.
func (b *swerveBase) apply(ctx context.Context) error {
	switch b.held.kind {
	case holdPower:
		return b.dt.Drive(ctx, b.held.x, b.held.y, b.held.rotation, b.held.fieldRelative)
	case holdVelocity:
		return b.dt.DriveRobotRelative(ctx, b.held.speeds)
	default:
		return nil
	}
}

// holdAndApply holds cmd and applies it immediately.
func (b *swerveBase) holdAndApply(ctx context.Context, cmd heldCommand) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	seq := b.hold(cmd)
	return seq, b.apply(ctx)
}

// release stops the modules and clears the held command. A non-zero seq only
// releases that command.
func (b *swerveBase) release(ctx context.Context, seq uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if seq != 0 && b.held.seq != seq {
		return nil
	}
	b.hold(heldCommand{})
	return b.dt.StopModules(ctx)
}

// robotSpeeds maps viam base velocities (linear mm/s with +Y forward and +X
// right, angular deg/s) to chassis speeds.
func robotSpeeds(linear, angular r3.Vector) kinematics.ChassisSpeeds {
	return kinematics.ChassisSpeeds{
		Vx:    linear.Y / 1000,
		Vy:    -linear.X / 1000,
		Omega: rdkutils.DegToRad(angular.Z),
	}
}

// SetPower drives field-relative from normalized joystick axes.
func (b *swerveBase) SetPower(ctx context.Context, linear, angular r3.Vector, extra map[string]interface{}) error {
	b.opMgr.CancelRunning(ctx)
	b.logger.Debugw("SetPower",
		"linear.X", linear.X,
		"linear.Y", linear.Y,
		"angular.Z", angular.Z,
	)
	if linear.Z != 0 || angular.X != 0 || angular.Y != 0 {
		b.logger.Warnw("SetPower components other than linear X/Y and angular Z have no effect")
	}

	_, err := b.holdAndApply(ctx, heldCommand{
		kind:          holdPower,
		x:             linear.Y,
		y:             -linear.X,
		rotation:      angular.Z,
		fieldRelative: true,
	})
	return err
}

// SetVelocity drives robot-relative at the given mm/s and deg/s.
func (b *swerveBase) SetVelocity(ctx context.Context, linear, angular r3.Vector, extra map[string]interface{}) error {
	b.opMgr.CancelRunning(ctx)
	b.logger.Debugw("SetVelocity",
		"linear.X", linear.X,
		"linear.Y", linear.Y,
		"angular.Z", angular.Z,
	)
	_, err := b.holdAndApply(ctx, heldCommand{kind: holdVelocity, speeds: robotSpeeds(linear, angular)})
	return err
}

// MoveStraight drives forward (or backward for a negative distance) for the
// time the distance takes at mmPerSec, then stops.
func (b *swerveBase) MoveStraight(ctx context.Context, distanceMm int, mmPerSec float64, extra map[string]interface{}) error {
	ctx, done := b.opMgr.New(ctx)
	defer done()

	if distanceMm == 0 || math.Abs(mmPerSec) < 0.0001 {
		return b.Stop(ctx, nil)
	}
	speed := math.Copysign(math.Abs(mmPerSec), float64(distanceMm))
	duration := time.Duration(math.Abs(float64(distanceMm)/mmPerSec) * float64(time.Second))
	return b.timedMove(ctx, robotSpeeds(r3.Vector{Y: speed}, r3.Vector{}), duration)
}

// Spin turns in place by angleDeg at degsPerSec, then stops.
func (b *swerveBase) Spin(ctx context.Context, angleDeg, degsPerSec float64, extra map[string]interface{}) error {
	ctx, done := b.opMgr.New(ctx)
	defer done()

	if angleDeg == 0 || math.Abs(degsPerSec) < 0.0001 {
		return b.Stop(ctx, nil)
	}
	rate := math.Copysign(math.Abs(degsPerSec), angleDeg)
	duration := time.Duration(math.Abs(angleDeg/degsPerSec) * float64(time.Second))
	return b.timedMove(ctx, robotSpeeds(r3.Vector{}, r3.Vector{Z: rate}), duration)
}

func (b *swerveBase) timedMove(ctx context.Context, speeds kinematics.ChassisSpeeds, duration time.Duration) error {
	seq, err := b.holdAndApply(ctx, heldCommand{kind: holdVelocity, speeds: speeds})
	defer func() {
		if stopErr := b.release(context.Background(), seq); stopErr != nil {
			b.logger.Warnw("stopping after timed move", "error", stopErr)
		}
	}()
	if err != nil {
		b.logger.Warnw("timed move degraded", "error", err)
	}

	timer := b.clk.Timer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Stop stops the base immediately.
func (b *swerveBase) Stop(ctx context.Context, extra map[string]interface{}) error {
	b.opMgr.CancelRunning(ctx)
	return b.release(ctx, 0)
}

// IsMoving reports whether a motion command is being held.
func (b *swerveBase) IsMoving(ctx context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.held.kind == holdNone {
		return false, nil
	}
	if b.held.kind == holdVelocity {
		return !b.held.speeds.IsZero(), nil
	}
	return !b.dt.CommandedSpeeds().IsZero(), nil
}

// Properties reports the track width and wheel size. A swerve base turns in place.
func (b *swerveBase) Properties(ctx context.Context, extra map[string]interface{}) (base.Properties, error) {
	return base.Properties{
		WidthMeters:              b.widthM,
		WheelCircumferenceMeters: b.circumferenceM,
		TurningRadiusMeters:      0,
	}, nil
}

// Geometries returns the geometry from the frame config.
func (b *swerveBase) Geometries(ctx context.Context, extra map[string]interface{}) ([]spatialmath.Geometry, error) {
	return b.geometries, nil
}

// Close stops the control loop and the modules, and releases the hardware.
func (b *swerveBase) Close(ctx context.Context) error {
	b.opMgr.CancelRunning(ctx)
	b.cancel()
	b.activeBackgroundWorkers.Wait()

	err := b.release(ctx, 0)
	b.mu.Lock()
	err = multierr.Append(err, b.hw.close())
	b.mu.Unlock()
	return errors.Wrap(err, "closing swerve base")
}

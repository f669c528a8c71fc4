package swervemodule

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/test"

	"swerve/actuator"
	"swerve/kinematics"
)

const (
	driveRatio    = 6.75
	steerRatio    = 12.8
	circumference = 0.3
)

// flaky fails every call while fail is set.
type flaky struct {
	actuator.Actuator
	fail bool
}

var errBusOff = errors.New("bus off")

func (f *flaky) SetVelocityReference(ctx context.Context, revsPerSec float64) error {
	if f.fail {
		return errBusOff
	}
	return f.Actuator.SetVelocityReference(ctx, revsPerSec)
}

func (f *flaky) SetPositionReference(ctx context.Context, revs float64) error {
	if f.fail {
		return errBusOff
	}
	return f.Actuator.SetPositionReference(ctx, revs)
}

func (f *flaky) VelocityFeedback(ctx context.Context) (float64, error) {
	if f.fail {
		return 0, errBusOff
	}
	return f.Actuator.VelocityFeedback(ctx)
}

func (f *flaky) PositionFeedback(ctx context.Context) (float64, error) {
	if f.fail {
		return 0, errBusOff
	}
	return f.Actuator.PositionFeedback(ctx)
}

func (f *flaky) Stop(ctx context.Context) error {
	if f.fail {
		return errBusOff
	}
	return f.Actuator.Stop(ctx)
}

type rig struct {
	clk          *clock.Mock
	drive, steer *actuator.Simulated
	module       *Module
}

func newRig(t *testing.T, initialDeg *float64) *rig {
	t.Helper()
	r := &rig{clk: clock.NewMock()}
	r.drive = actuator.NewSimulated(r.clk, 0)
	r.steer = actuator.NewSimulated(r.clk, 0)
	cfg := testConfig()
	if initialDeg != nil {
		a := kinematics.Degrees(*initialDeg)
		cfg.InitialAngle = &a
	}
	m, err := New(context.Background(), cfg, r.drive, r.steer, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	r.module = m
	return r
}

func testConfig() Config {
	return Config{
		Name:               "front_left",
		Offset:             r2.Point{X: 0.4, Y: 0.4},
		DriveGearRatio:     driveRatio,
		SteerGearRatio:     steerRatio,
		WheelCircumference: circumference,
	}
}

func deg(d float64) *float64 {
	return &d
}

func TestConfigValidate(t *testing.T) {
	test.That(t, testConfig().Validate(), test.ShouldBeNil)

	for name, mutate := range map[string]func(*Config){
		"no name":          func(c *Config) { c.Name = "" },
		"zero drive ratio": func(c *Config) { c.DriveGearRatio = 0 },
		"negative steer":   func(c *Config) { c.SteerGearRatio = -1 },
		"nan circumference": func(c *Config) {
			c.WheelCircumference = math.NaN()
		},
	} {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig()
			mutate(&cfg)
			_, err := New(context.Background(), cfg, actuator.NewSimulated(nil, 0), actuator.NewSimulated(nil, 0),
				logging.NewTestLogger(t))
			test.That(t, err, test.ShouldNotBeNil)
		})
	}
}

func TestSeeding(t *testing.T) {
	r := newRig(t, deg(90))
	pos, err := r.steer.PositionFeedback(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pos, test.ShouldAlmostEqual, steerRatio/4)

	state, err := r.module.State(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, state.Angle.Degrees(), test.ShouldAlmostEqual, 90.0)
	test.That(t, r.module.LastAngle().Degrees(), test.ShouldAlmostEqual, 90.0)
	test.That(t, r.module.Mode(), test.ShouldEqual, ModeIdle)
}

func TestSeedingWithoutSteerFeedback(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	sim := actuator.NewSimulated(clk, 0)
	steer := &flaky{Actuator: sim, fail: true}
	cfg := testConfig()
	initial := kinematics.Degrees(450)
	cfg.InitialAngle = &initial

	m, err := New(ctx, cfg, actuator.NewSimulated(clk, 0), steer, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.Degraded(), test.ShouldBeTrue)
	test.That(t, m.LastAngle().Degrees(), test.ShouldAlmostEqual, 90.0)

	state, err := m.State(ctx)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, state.Angle.Degrees(), test.ShouldAlmostEqual, 90.0)

	steer.fail = false
	pos, err := sim.PositionFeedback(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pos, test.ShouldAlmostEqual, 450.0/360*steerRatio)
}

func TestSetStateFlipsPastNinetyDegrees(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, deg(170))

	test.That(t, r.module.SetState(ctx, kinematics.ModuleState{Speed: 1, Angle: kinematics.Degrees(350)}), test.ShouldBeNil)
	test.That(t, r.module.Mode(), test.ShouldEqual, ModeTracking)

	steerPos, _ := r.steer.PositionFeedback(ctx)
	test.That(t, steerPos, test.ShouldAlmostEqual, 170.0/360*steerRatio)
	driveVel, _ := r.drive.VelocityFeedback(ctx)
	test.That(t, driveVel, test.ShouldAlmostEqual, -1/circumference*driveRatio)

	status := r.module.Status()
	test.That(t, status.Target.Speed, test.ShouldAlmostEqual, -1.0)
	test.That(t, status.Target.Angle.Degrees(), test.ShouldAlmostEqual, 170.0)

	state, err := r.module.State(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, state.Speed, test.ShouldAlmostEqual, -1.0)
	test.That(t, state.Angle.Degrees(), test.ShouldAlmostEqual, 170.0)
}

func TestSetStateTracksContinuously(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, deg(350))

	test.That(t, r.module.SetState(ctx, kinematics.ModuleState{Speed: 0.5, Angle: kinematics.Degrees(10)}), test.ShouldBeNil)
	steerPos, _ := r.steer.PositionFeedback(ctx)
	test.That(t, steerPos, test.ShouldAlmostEqual, 370.0/360*steerRatio)

	// a target given outside [0, 360) is normalized first
	test.That(t, r.module.SetState(ctx, kinematics.ModuleState{Speed: 0.5, Angle: kinematics.Degrees(-330)}), test.ShouldBeNil)
	steerPos, _ = r.steer.PositionFeedback(ctx)
	test.That(t, steerPos, test.ShouldAlmostEqual, 390.0/360*steerRatio)

	state, _ := r.module.State(ctx)
	test.That(t, state.Angle.Degrees(), test.ShouldAlmostEqual, 30.0)
	test.That(t, state.Speed, test.ShouldAlmostEqual, 0.5)
}

func TestPositionIntegratesTravel(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, nil)

	test.That(t, r.module.SetState(ctx, kinematics.ModuleState{Speed: 1.5}), test.ShouldBeNil)
	r.clk.Add(2 * time.Second)
	pos, err := r.module.Position(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pos.Distance, test.ShouldAlmostEqual, 3.0)
	test.That(t, pos.Angle.Degrees(), test.ShouldAlmostEqual, 0.0)
}

func TestStopAndNeutralModes(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, nil)

	test.That(t, r.module.SetState(ctx, kinematics.ModuleState{Speed: 1, Angle: kinematics.Degrees(45)}), test.ShouldBeNil)
	for i := 0; i < 2; i++ {
		test.That(t, r.module.Stop(ctx), test.ShouldBeNil)
		test.That(t, r.module.Mode(), test.ShouldEqual, ModeIdle)
		test.That(t, r.drive.Mode(), test.ShouldEqual, actuator.ModeStopped)
		test.That(t, r.steer.Mode(), test.ShouldEqual, actuator.ModeStopped)
	}
	test.That(t, r.module.LastAngle().Degrees(), test.ShouldAlmostEqual, 45.0)

	test.That(t, r.module.BrakeMode(ctx), test.ShouldBeNil)
	test.That(t, r.drive.Neutral(), test.ShouldEqual, actuator.NeutralBrake)
	test.That(t, r.steer.Neutral(), test.ShouldEqual, actuator.NeutralBrake)
	test.That(t, r.module.Mode(), test.ShouldEqual, ModeIdle)

	test.That(t, r.module.CoastMode(ctx), test.ShouldBeNil)
	test.That(t, r.drive.Neutral(), test.ShouldEqual, actuator.NeutralCoast)
	test.That(t, r.steer.Neutral(), test.ShouldEqual, actuator.NeutralCoast)
}

func TestDegradedModule(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	drive := actuator.NewSimulated(clk, 0)
	steer := &flaky{Actuator: actuator.NewSimulated(clk, 0)}
	m, err := New(ctx, testConfig(), drive, steer, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	test.That(t, m.SetState(ctx, kinematics.ModuleState{Speed: 1, Angle: kinematics.Degrees(30)}), test.ShouldBeNil)
	// SetState reads the steer before commanding it; refresh the cache
	_, err = m.State(ctx)
	test.That(t, err, test.ShouldBeNil)
	steer.fail = true

	err = m.SetState(ctx, kinematics.ModuleState{Speed: 2, Angle: kinematics.Degrees(30)})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "front_left")
	test.That(t, errors.Is(err, errBusOff), test.ShouldBeTrue)
	test.That(t, m.Degraded(), test.ShouldBeTrue)
	test.That(t, m.Status().LastError, test.ShouldContainSubstring, "bus off")

	// the healthy actuator still got its command
	vel, _ := drive.VelocityFeedback(ctx)
	test.That(t, vel, test.ShouldAlmostEqual, 2/circumference*driveRatio)

	// stale feedback is served
	state, err := m.State(ctx)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, state.Angle.Degrees(), test.ShouldAlmostEqual, 30.0)
	test.That(t, state.Speed, test.ShouldAlmostEqual, 2.0)

	// a failed SetState still optimized against the cached angle
	test.That(t, m.LastAngle().Degrees(), test.ShouldAlmostEqual, 30.0)

	steer.fail = false
	state, err = m.State(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, state.Angle.Degrees(), test.ShouldAlmostEqual, 30.0, 1e-9)
	test.That(t, m.Degraded(), test.ShouldBeFalse)
	test.That(t, m.Status().Degraded, test.ShouldBeFalse)
}

func TestOptimize(t *testing.T) {
	t.Run("flip", func(t *testing.T) {
		opt := Optimize(kinematics.ModuleState{Speed: 1, Angle: kinematics.Degrees(350)}, kinematics.Degrees(170))
		test.That(t, opt.Speed, test.ShouldAlmostEqual, -1.0)
		test.That(t, opt.Angle.Degrees(), test.ShouldAlmostEqual, 170.0)
	})

	t.Run("no flip within ninety", func(t *testing.T) {
		opt := Optimize(kinematics.ModuleState{Speed: 1, Angle: kinematics.Degrees(80)}, kinematics.Degrees(0))
		test.That(t, opt.Speed, test.ShouldAlmostEqual, 1.0)
		test.That(t, opt.Angle.Degrees(), test.ShouldAlmostEqual, 80.0)
	})

	t.Run("wraps across zero", func(t *testing.T) {
		opt := Optimize(kinematics.ModuleState{Speed: 1, Angle: kinematics.Degrees(10)}, kinematics.Degrees(710))
		test.That(t, opt.Speed, test.ShouldAlmostEqual, 1.0)
		test.That(t, opt.Angle.Degrees(), test.ShouldAlmostEqual, 730.0)
	})

	t.Run("bounded and equivalent", func(t *testing.T) {
		for c := -720.0; c <= 720; c += 7 {
			for tgt := 0.0; tgt < 360; tgt += 11 {
				target := kinematics.ModuleState{Speed: 1.3, Angle: kinematics.Degrees(tgt)}
				current := kinematics.Degrees(c)
				opt := Optimize(target, current)

				test.That(t, math.Abs(opt.Angle.Degrees()-c), test.ShouldBeLessThanOrEqualTo, 90+1e-9)

				wantX, wantY := target.Velocity()
				gotX, gotY := opt.Velocity()
				test.That(t, gotX, test.ShouldAlmostEqual, wantX, 1e-9)
				test.That(t, gotY, test.ShouldAlmostEqual, wantY, 1e-9)
			}
		}
	})

	test.That(t, ModeTracking.String(), test.ShouldEqual, "tracking")
}

package actuator

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	fakeencoder "go.viam.com/rdk/components/encoder/fake"
	fakemotor "go.viam.com/rdk/components/motor/fake"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/test"
)

type fakeMotor struct {
	rpm      float64
	power    float64
	position float64
	zeroed   float64
	stops    int
	posErr   error
}

func (m *fakeMotor) SetPower(ctx context.Context, powerPct float64, extra map[string]interface{}) error {
	m.power = powerPct
	return nil
}

func (m *fakeMotor) GoFor(ctx context.Context, rpm, revolutions float64, extra map[string]interface{}) error {
	m.rpm = rpm
	return nil
}

func (m *fakeMotor) Position(ctx context.Context, extra map[string]interface{}) (float64, error) {
	return m.position, m.posErr
}

// ResetZeroPosition follows rdk motors: the position afterwards is -offset.
func (m *fakeMotor) ResetZeroPosition(ctx context.Context, offset float64, extra map[string]interface{}) error {
	m.zeroed = offset
	m.position = -offset
	return nil
}

func (m *fakeMotor) Stop(ctx context.Context, extra map[string]interface{}) error {
	m.stops++
	m.rpm = 0
	m.power = 0
	return nil
}

func TestMotorVelocity(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	fm := &fakeMotor{}
	m := NewMotor("drive", fm, PIDConfig{}, clk, logging.NewTestLogger(t))

	test.That(t, m.SetVelocityReference(ctx, 2), test.ShouldBeNil)
	test.That(t, fm.rpm, test.ShouldAlmostEqual, 120.0)

	test.That(t, m.SetVelocityReference(ctx, 0), test.ShouldBeNil)
	test.That(t, fm.stops, test.ShouldEqual, 1)

	vel, err := m.VelocityFeedback(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, vel, test.ShouldEqual, 0.0)

	fm.position = 1
	clk.Add(100 * time.Millisecond)
	vel, err = m.VelocityFeedback(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, vel, test.ShouldAlmostEqual, 10.0)

	// too soon for a new estimate
	fm.position = 5
	clk.Add(time.Millisecond)
	vel, _ = m.VelocityFeedback(ctx)
	test.That(t, vel, test.ShouldAlmostEqual, 10.0)

	fm.posErr = errors.New("encoder unplugged")
	_, err = m.VelocityFeedback(ctx)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "drive")
}

func TestMotorPosition(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	fm := &fakeMotor{}
	m := NewMotor("steer", fm, PIDConfig{Kp: 2}, clk, logging.NewTestLogger(t))

	test.That(t, m.SetPositionReference(ctx, 0.25), test.ShouldBeNil)
	test.That(t, fm.power, test.ShouldAlmostEqual, 0.5)

	fm.position = 0.2
	clk.Add(20 * time.Millisecond)
	pos, err := m.PositionFeedback(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pos, test.ShouldAlmostEqual, 0.2)
	test.That(t, fm.power, test.ShouldAlmostEqual, 0.1)

	// saturates
	clk.Add(20 * time.Millisecond)
	test.That(t, m.SetPositionReference(ctx, 10), test.ShouldBeNil)
	test.That(t, fm.power, test.ShouldEqual, 1.0)

	test.That(t, m.SetReferenceFrame(ctx, 3), test.ShouldBeNil)
	test.That(t, fm.zeroed, test.ShouldEqual, -3.0)
	pos, err = m.PositionFeedback(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pos, test.ShouldAlmostEqual, 3.0)

	test.That(t, m.Stop(ctx), test.ShouldBeNil)
	fm.power = 0.7
	test.That(t, m.SetNeutralMode(ctx, NeutralBrake), test.ShouldBeNil)
	test.That(t, fm.power, test.ShouldEqual, 0.0)
}

func TestMotorReferenceFrameOnFakeMotor(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)

	enc, err := fakeencoder.NewEncoder(ctx, resource.Config{
		Name:                "steer_encoder",
		ConvertedAttributes: &fakeencoder.Config{},
	}, logger)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, enc.Close(ctx), test.ShouldBeNil)
	}()
	fm := &fakemotor.Motor{
		Encoder:           enc.(fakeencoder.Encoder),
		PositionReporting: true,
		MaxRPM:            60,
		TicksPerRotation:  1,
	}

	m := NewMotor("steer", fm, PIDConfig{Kp: 1}, clock.NewMock(), logger)
	test.That(t, m.SetReferenceFrame(ctx, 3), test.ShouldBeNil)
	pos, err := m.PositionFeedback(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pos, test.ShouldAlmostEqual, 3.0)

	test.That(t, m.SetReferenceFrame(ctx, -1.25), test.ShouldBeNil)
	pos, err = m.PositionFeedback(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pos, test.ShouldAlmostEqual, -1.25)
}

func TestMotorPositionLoopRate(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	fm := &fakeMotor{}
	m := NewMotor("steer", fm, PIDConfig{Kp: 0.5, Kd: 0.01}, clk, logging.NewTestLogger(t))

	test.That(t, m.SetPositionReference(ctx, 0.1), test.ShouldBeNil)
	test.That(t, fm.power, test.ShouldAlmostEqual, 0.05)

	// reads within the same control period leave the output alone
	fm.position = 0.002
	clk.Add(50 * time.Microsecond)
	_, err := m.PositionFeedback(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fm.power, test.ShouldAlmostEqual, 0.05)
	test.That(t, m.SetPositionReference(ctx, 0.1), test.ShouldBeNil)
	test.That(t, fm.power, test.ShouldAlmostEqual, 0.05)

	// the next period steps with the whole elapsed time
	clk.Add(20 * time.Millisecond)
	_, err = m.PositionFeedback(ctx)
	test.That(t, err, test.ShouldBeNil)
	dt := (20*time.Millisecond + 50*time.Microsecond).Seconds()
	test.That(t, fm.power, test.ShouldAlmostEqual, 0.5*0.098+0.01*(0.098-0.1)/dt, 1e-9)
	test.That(t, fm.power, test.ShouldBeGreaterThan, 0.)
}

func TestPID(t *testing.T) {
	p := NewPID(PIDConfig{Kp: 0.5, Ki: 1, Kd: 0.1})
	// first update has no derivative kick
	test.That(t, p.Update(1, 0.1), test.ShouldAlmostEqual, 0.5+0.1)
	test.That(t, p.Update(0.5, 0.1), test.ShouldAlmostEqual, 0.25+0.15-0.5)

	p.Reset()
	test.That(t, p.Update(0, 0.1), test.ShouldEqual, 0.0)

	// integral is clamped to 1/Ki
	for i := 0; i < 100; i++ {
		p.Update(1, 1)
	}
	test.That(t, p.integral, test.ShouldEqual, 1.0)
	test.That(t, p.Update(-10, 0.1), test.ShouldEqual, -1.0)
}

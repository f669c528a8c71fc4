package actuator

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

const (
	// minVelocityInterval is the shortest window a velocity estimate is taken over.
	minVelocityInterval = 5 * time.Millisecond
	// minStepInterval is the shortest time between two position loop updates.
	minStepInterval = 10 * time.Millisecond
)

// EncodedMotor is the part of an rdk motor.Motor the Motor actuator drives.
type EncodedMotor interface {
	SetPower(ctx context.Context, powerPct float64, extra map[string]interface{}) error
	GoFor(ctx context.Context, rpm, revolutions float64, extra map[string]interface{}) error
	Position(ctx context.Context, extra map[string]interface{}) (float64, error)
	ResetZeroPosition(ctx context.Context, offset float64, extra map[string]interface{}) error
	Stop(ctx context.Context, extra map[string]interface{}) error
}

// Motor adapts an rdk motor to an Actuator. Velocity references run the motor
// at a fixed rpm; position references close a PID loop on the encoder,
// stepped by references and position reads at most once per minStepInterval.
type Motor struct {
	mu     sync.Mutex
	name   string
	motor  EncodedMotor
	pid    *PID
	clk    clock.Clock
	logger logging.Logger

	mode     ControlMode
	neutral  NeutralMode
	target   float64
	stepped  bool
	lastStep time.Time

	havePosition bool
	lastPosition float64
	lastSample   time.Time
	velocity     float64
}

// NewMotor wraps m. pid is only used for position references.
func NewMotor(name string, m EncodedMotor, pid PIDConfig, clk clock.Clock, logger logging.Logger) *Motor {
	if clk == nil {
		clk = clock.New()
	}
	return &Motor{
		name:   name,
		motor:  m,
		pid:    NewPID(pid),
		clk:    clk,
		logger: logger,
	}
}

// SetVelocityReference implements Actuator.
func (a *Motor) SetVelocityReference(ctx context.Context, revsPerSec float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mode = ModeVelocity
	rpm := revsPerSec * 60
	if math.Abs(rpm) < 0.1 {
		return errors.Wrapf(a.motor.Stop(ctx, nil), "stopping motor %s", a.name)
	}
	// zero revolutions runs until the next command
	return errors.Wrapf(a.motor.GoFor(ctx, rpm, 0, nil), "setting motor %s to %.2f rpm", a.name, rpm)
}

// SetPositionReference implements Actuator.
func (a *Motor) SetPositionReference(ctx context.Context, revs float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mode != ModePosition {
		a.pid.Reset()
		a.stepped = false
	}
	a.mode = ModePosition
	a.target = revs
	pos, err := a.sample(ctx)
	if err != nil {
		return err
	}
	return a.step(ctx, pos)
}

// VelocityFeedback implements Actuator. rdk motors report position only, so
// velocity is differentiated from successive position samples.
func (a *Motor) VelocityFeedback(ctx context.Context) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.sample(ctx); err != nil {
		return 0, err
	}
	return a.velocity, nil
}

// PositionFeedback implements Actuator.
func (a *Motor) PositionFeedback(ctx context.Context) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	pos, err := a.sample(ctx)
	if err != nil {
		return 0, err
	}
	if a.mode == ModePosition {
		if err := a.step(ctx, pos); err != nil {
			return pos, err
		}
	}
	return pos, nil
}

// Stop implements Actuator.
func (a *Motor) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mode = ModeStopped
	a.pid.Reset()
	a.stepped = false
	return errors.Wrapf(a.motor.Stop(ctx, nil), "stopping motor %s", a.name)
}

// SetNeutralMode implements Actuator. rdk motors have no neutral mode setting;
// the mode is recorded and a braked motor is held at zero power when stopped.
func (a *Motor) SetNeutralMode(ctx context.Context, mode NeutralMode) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.neutral != mode {
		a.logger.Debugw("neutral mode changed", "motor", a.name, "mode", mode.String())
	}
	a.neutral = mode
	if mode == NeutralBrake && a.mode == ModeStopped {
		return errors.Wrapf(a.motor.SetPower(ctx, 0, nil), "braking motor %s", a.name)
	}
	return nil
}

// SetReferenceFrame implements Actuator. rdk motors report -offset after
// ResetZeroPosition(offset).
func (a *Motor) SetReferenceFrame(ctx context.Context, revs float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.motor.ResetZeroPosition(ctx, -revs, nil); err != nil {
		return errors.Wrapf(err, "resetting position of motor %s", a.name)
	}
	a.havePosition = false
	return nil
}

// sample reads the encoder and refreshes the velocity estimate. Callers hold mu.
func (a *Motor) sample(ctx context.Context) (float64, error) {
	pos, err := a.motor.Position(ctx, nil)
	if err != nil {
		return 0, errors.Wrapf(err, "reading position of motor %s", a.name)
	}
	now := a.clk.Now()
	if !a.havePosition {
		a.havePosition = true
		a.lastPosition = pos
		a.lastSample = now
		a.velocity = 0
		return pos, nil
	}
	if dt := now.Sub(a.lastSample); dt >= minVelocityInterval {
		a.velocity = (pos - a.lastPosition) / dt.Seconds()
		a.lastPosition = pos
		a.lastSample = now
	}
	return pos, nil
}

// step runs one iteration of the position loop unless the last one was less
// than minStepInterval ago. Callers hold mu.
func (a *Motor) step(ctx context.Context, pos float64) error {
	now := a.clk.Now()
	var dt time.Duration
	if a.stepped {
		if dt = now.Sub(a.lastStep); dt < minStepInterval {
			return nil
		}
	}
	a.stepped = true
	a.lastStep = now
	power := a.pid.Update(a.target-pos, dt.Seconds())
	return errors.Wrapf(a.motor.SetPower(ctx, power, nil), "setting power of motor %s", a.name)
}

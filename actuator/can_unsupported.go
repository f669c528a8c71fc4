//go:build !linux

package actuator

import (
	"context"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

var errCANUnsupported = errors.New("CAN actuators are only supported on linux")

// CANBus is unavailable on this platform.
type CANBus struct{}

// NewCANBus always fails on this platform.
func NewCANBus(channel string, logger logging.Logger) (*CANBus, error) {
	return nil, errCANUnsupported
}

// Actuator returns an actuator whose every call fails.
func (b *CANBus) Actuator(node uint8) *CAN {
	return &CAN{}
}

// Close does nothing.
func (b *CANBus) Close() error {
	return nil
}

// CAN is unavailable on this platform.
type CAN struct{}

// SetVelocityReference implements Actuator.
func (a *CAN) SetVelocityReference(ctx context.Context, revsPerSec float64) error {
	return errCANUnsupported
}

// SetPositionReference implements Actuator.
func (a *CAN) SetPositionReference(ctx context.Context, revs float64) error {
	return errCANUnsupported
}

// VelocityFeedback implements Actuator.
func (a *CAN) VelocityFeedback(ctx context.Context) (float64, error) {
	return 0, errCANUnsupported
}

// PositionFeedback implements Actuator.
func (a *CAN) PositionFeedback(ctx context.Context) (float64, error) {
	return 0, errCANUnsupported
}

// Stop implements Actuator.
func (a *CAN) Stop(ctx context.Context) error {
	return errCANUnsupported
}

// SetNeutralMode implements Actuator.
func (a *CAN) SetNeutralMode(ctx context.Context, mode NeutralMode) error {
	return errCANUnsupported
}

// SetReferenceFrame implements Actuator.
func (a *CAN) SetReferenceFrame(ctx context.Context, revs float64) error {
	return errCANUnsupported
}

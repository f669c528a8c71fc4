// Package heading provides the robot heading sources the drive consumes.
package heading

import (
	"context"
	"sync"
	"time"

	"github.com/golang/geo/s1"
	"github.com/pkg/errors"
	"go.viam.com/rdk/spatialmath"

	"swerve/kinematics"
)

// A Sensor reports the robot's heading on the field, counter-clockwise positive.
type Sensor interface {
	Heading(ctx context.Context) (s1.Angle, error)
}

// OrientationSource is the part of an rdk movement sensor MovementSensor reads.
type OrientationSource interface {
	Orientation(ctx context.Context, extra map[string]interface{}) (spatialmath.Orientation, error)
}

// MovementSensor reads the heading from the yaw of a movement sensor.
type MovementSensor struct {
	name   string
	sensor OrientationSource
	invert bool
}

// NewMovementSensor wraps ms. Gyros mounted upside down or reporting
// clockwise yaw need invert.
func NewMovementSensor(name string, ms OrientationSource, invert bool) *MovementSensor {
	return &MovementSensor{name: name, sensor: ms, invert: invert}
}

// Heading implements Sensor.
func (m *MovementSensor) Heading(ctx context.Context) (s1.Angle, error) {
	orientation, err := m.sensor.Orientation(ctx, nil)
	if err != nil {
		return 0, errors.Wrapf(err, "reading orientation of %s", m.name)
	}
	yaw := orientation.EulerAngles().Yaw
	if m.invert {
		yaw = -yaw
	}
	return kinematics.NormalizeAngle(s1.Angle(yaw)), nil
}

// Integrating is a simulated gyro that integrates the angular velocity it is fed.
type Integrating struct {
	mu      sync.Mutex
	heading s1.Angle
}

// NewIntegrating returns a simulated gyro pointing at initial.
func NewIntegrating(initial s1.Angle) *Integrating {
	return &Integrating{heading: kinematics.NormalizeAngle(initial)}
}

// Integrate advances the heading by omega rad/s over dt.
func (g *Integrating) Integrate(omega float64, dt time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.heading = kinematics.NormalizeAngle(g.heading + s1.Angle(omega*dt.Seconds()))
}

// Set overwrites the heading.
func (g *Integrating) Set(a s1.Angle) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.heading = kinematics.NormalizeAngle(a)
}

// Heading implements Sensor.
func (g *Integrating) Heading(ctx context.Context) (s1.Angle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.heading, nil
}

// Package odometry integrates module travel and the gyro heading into a field pose.
package odometry

import (
	"math"

	"github.com/golang/geo/s1"

	"swerve/kinematics"
)

// Estimator tracks the robot pose. It is not safe for concurrent use.
type Estimator struct {
	kin *kinematics.Kinematics

	pose kinematics.Pose
	// offset is added to the gyro heading to get the pose heading.
	offset        s1.Angle
	prevDistances [kinematics.NumModules]float64
}

// New starts an estimate at initial, with the given gyro heading and module
// positions as the baseline.
func New(kin *kinematics.Kinematics, heading s1.Angle, positions [kinematics.NumModules]kinematics.ModulePosition,
	initial kinematics.Pose,
) *Estimator {
	e := &Estimator{kin: kin}
	e.Reset(heading, positions, initial)
	return e
}

// Pose returns the current estimate.
func (e *Estimator) Pose() kinematics.Pose {
	return e.pose
}

// Update advances the estimate by the travel since the last call. The
// robot-relative displacement is rotated onto the field by the mean of the
// previous and current heading.
func (e *Estimator) Update(heading s1.Angle, positions [kinematics.NumModules]kinematics.ModulePosition) kinematics.Pose {
	var deltas [kinematics.NumModules]kinematics.ModulePosition
	for i, p := range positions {
		deltas[i] = kinematics.ModulePosition{Distance: p.Distance - e.prevDistances[i], Angle: p.Angle}
		e.prevDistances[i] = p.Distance
	}
	twist := e.kin.ToTwist(deltas)

	prev := e.pose.Heading
	next := kinematics.NormalizeAngle(heading + e.offset)
	turn := math.Remainder((next - prev).Radians(), 2*math.Pi)
	sin, cos := math.Sincos(prev.Radians() + turn/2)

	e.pose.X += twist.Dx*cos - twist.Dy*sin
	e.pose.Y += twist.Dx*sin + twist.Dy*cos
	e.pose.Heading = next
	return e.pose
}

// Reset overwrites the estimate and rebaselines on the given gyro heading and
// module positions.
func (e *Estimator) Reset(heading s1.Angle, positions [kinematics.NumModules]kinematics.ModulePosition, pose kinematics.Pose) {
	pose.Heading = kinematics.NormalizeAngle(pose.Heading)
	e.pose = pose
	e.offset = pose.Heading - heading
	for i, p := range positions {
		e.prevDistances[i] = p.Distance
	}
}

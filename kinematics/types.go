// Package kinematics holds the swerve data model and the transform between
// chassis velocities and per-module wheel states.
package kinematics

import (
	"fmt"
	"math"

	"github.com/golang/geo/s1"
)

// NumModules is the number of swerve modules on the base.
const NumModules = 4

// Module indices. Every 4-tuple in this repository is ordered this way.
const (
	FrontLeft = iota
	FrontRight
	BackLeft
	BackRight
)

// ModuleNames are the canonical module names in index order.
var ModuleNames = [NumModules]string{"front_left", "front_right", "back_left", "back_right"}

// ChassisSpeeds is a chassis velocity. Vx is forward, Vy is left (m/s), Omega
// is counter-clockwise (rad/s).
type ChassisSpeeds struct {
	Vx    float64 `json:"vx"`
	Vy    float64 `json:"vy"`
	Omega float64 `json:"omega"`
}

// FromFieldRelative converts field-relative speeds to robot-relative speeds
// given the robot's heading on the field.
func FromFieldRelative(vx, vy, omega float64, heading s1.Angle) ChassisSpeeds {
	sin, cos := math.Sincos(heading.Radians())
	return ChassisSpeeds{
		Vx:    vx*cos + vy*sin,
		Vy:    -vx*sin + vy*cos,
		Omega: omega,
	}
}

// IsZero reports whether no motion is requested.
func (c ChassisSpeeds) IsZero() bool {
	return c.Vx == 0 && c.Vy == 0 && c.Omega == 0
}

// ModuleState is the velocity of one wheel: a signed speed along the wheel
// heading.
type ModuleState struct {
	Speed float64
	Angle s1.Angle
}

func (s ModuleState) String() string {
	return fmt.Sprintf("{%.3f m/s @ %.1f°}", s.Speed, s.Angle.Degrees())
}

// Velocity returns the ground contact velocity vector of the wheel.
func (s ModuleState) Velocity() (float64, float64) {
	sin, cos := math.Sincos(s.Angle.Radians())
	return s.Speed * cos, s.Speed * sin
}

// ModulePosition is the cumulative travel of one wheel and its heading.
type ModulePosition struct {
	Distance float64
	Angle    s1.Angle
}

// Pose is a position on the field.
type Pose struct {
	X       float64
	Y       float64
	Heading s1.Angle
}

func (p Pose) String() string {
	return fmt.Sprintf("{x: %.3f, y: %.3f, heading: %.1f°}", p.X, p.Y, p.Heading.Degrees())
}

// Twist is a robot-relative displacement.
type Twist struct {
	Dx     float64
	Dy     float64
	Dtheta float64
}

// NormalizeAngle returns the equivalent angle in [0, 2π).
func NormalizeAngle(a s1.Angle) s1.Angle {
	r := math.Mod(a.Radians(), 2*math.Pi)
	if r < 0 {
		r += 2 * math.Pi
	}
	if r >= 2*math.Pi {
		r = 0
	}
	return s1.Angle(r)
}

// Degrees builds an angle from degrees.
func Degrees(deg float64) s1.Angle {
	return s1.Angle(deg) * s1.Degree
}

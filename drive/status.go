package drive

import (
	"github.com/golang/geo/s1"

	"swerve/kinematics"
	"swerve/swervemodule"
)

// Status is a snapshot of the drivetrain built from cached values only.
type Status struct {
	Pose      kinematics.Pose
	Heading   s1.Angle
	Commanded kinematics.ChassisSpeeds
	Modules   [kinematics.NumModules]swervemodule.Status
	// Degraded names the modules whose last hardware exchange failed.
	Degraded []string
}

// Status returns the current snapshot.
func (d *Drivetrain) Status() Status {
	s := Status{
		Pose:      d.odom.Pose(),
		Heading:   d.lastHeading,
		Commanded: d.commanded,
	}
	for i, m := range d.modules {
		s.Modules[i] = m.Status()
		if s.Modules[i].Degraded {
			s.Degraded = append(s.Degraded, s.Modules[i].Name)
		}
	}
	return s
}

// Flatten names every value of the snapshot for a telemetry sink.
func (s Status) Flatten() map[string]interface{} {
	out := map[string]interface{}{
		"pose_x_m":         s.Pose.X,
		"pose_y_m":         s.Pose.Y,
		"pose_heading_deg": s.Pose.Heading.Degrees(),
		"gyro_heading_deg": s.Heading.Degrees(),
		"commanded_vx_mps": s.Commanded.Vx,
		"commanded_vy_mps": s.Commanded.Vy,
		"commanded_omega":  s.Commanded.Omega,
		"degraded_modules": len(s.Degraded),
	}
	for _, m := range s.Modules {
		prefix := m.Name + "/"
		out[prefix+"mode"] = m.Mode.String()
		out[prefix+"degraded"] = m.Degraded
		out[prefix+"angle_deg"] = m.Measured.Angle.Degrees()
		out[prefix+"speed_mps"] = m.Measured.Speed
		out[prefix+"distance_m"] = m.Distance
		out[prefix+"target_angle_deg"] = m.Target.Angle.Degrees()
		out[prefix+"target_speed_mps"] = m.Target.Speed
		out[prefix+"raw_steer_revs"] = m.RawSteer
		out[prefix+"last_error"] = m.LastError
	}
	return out
}

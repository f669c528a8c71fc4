package swervebase

import (
	"fmt"
	"math"

	"github.com/golang/geo/s1"
	"github.com/pkg/errors"
	"go.viam.com/rdk/resource"

	"swerve/actuator"
	"swerve/drive"
	"swerve/kinematics"
	"swerve/shaping"
	"swerve/telemetry"
)

// Actuator backends.
const (
	actuatorSim   = "sim"
	actuatorMotor = "motor"
	actuatorCAN   = "can"
)

const (
	defaultCANChannel      = "can0"
	defaultControlPeriodMs = 20
	maxCANNode             = 0x7F
)

// ModuleConfig describes one swerve module.
type ModuleConfig struct {
	Name     string  `json:"name,omitempty"`
	OffsetXM float64 `json:"offset_x_m"`
	OffsetYM float64 `json:"offset_y_m"`

	// motor backend
	DriveMotor string `json:"drive_motor,omitempty"`
	SteerMotor string `json:"steer_motor,omitempty"`
	// can backend
	DriveNode uint8 `json:"drive_node,omitempty"`
	SteerNode uint8 `json:"steer_node,omitempty"`

	// AbsoluteEncoder seeds the steer angle at startup. Its reading minus
	// AbsoluteOffsetDeg is the wheel heading, counter-clockwise from forward.
	AbsoluteEncoder   string  `json:"absolute_encoder,omitempty"`
	AbsoluteOffsetDeg float64 `json:"absolute_offset_deg,omitempty"`
}

// Config configures a swerve base.
type Config struct {
	Actuator   string `json:"actuator"`
	CANChannel string `json:"can_channel,omitempty"`

	MovementSensor string `json:"movement_sensor,omitempty"`
	InvertHeading  bool   `json:"invert_heading,omitempty"`

	ControlPeriodMs int `json:"control_period_ms,omitempty"`

	MaxSpeedMps               float64 `json:"max_speed_mps,omitempty"`
	MaxAngularSpeedDegsPerSec float64 `json:"max_angular_speed_degs_per_sec,omitempty"`
	MaxModuleSpeedMps         float64 `json:"max_module_speed_mps,omitempty"`

	DriveGearRatio       float64 `json:"drive_gear_ratio"`
	SteerGearRatio       float64 `json:"steer_gear_ratio"`
	WheelCircumferenceMm float64 `json:"wheel_circumference_mm"`

	Translation      *shaping.AxisConfig `json:"translation,omitempty"`
	Rotation         *shaping.AxisConfig `json:"rotation,omitempty"`
	DefenseAnglesDeg []float64           `json:"defense_angles_deg,omitempty"`

	SteerKp float64 `json:"steer_kp,omitempty"`
	SteerKi float64 `json:"steer_ki,omitempty"`
	SteerKd float64 `json:"steer_kd,omitempty"`

	MQTT *telemetry.MQTTConfig `json:"mqtt,omitempty"`

	Modules []ModuleConfig `json:"modules"`
}

// Validate validates the config and returns the names of the motors, encoders
// and movement sensor the base depends on.
func (cfg *Config) Validate(path string) ([]string, error) {
	var deps []string

	switch cfg.Actuator {
	case actuatorSim, actuatorMotor, actuatorCAN:
	case "":
		return nil, resource.NewConfigValidationFieldRequiredError(path, "actuator")
	default:
		return nil, resource.NewConfigValidationError(path,
			errors.Errorf("actuator must be one of %s|%s|%s, got %q", actuatorSim, actuatorMotor, actuatorCAN, cfg.Actuator))
	}

	if cfg.MovementSensor != "" {
		deps = append(deps, cfg.MovementSensor)
	} else if cfg.Actuator != actuatorSim {
		return nil, resource.NewConfigValidationFieldRequiredError(path, "movement_sensor")
	}

	if cfg.ControlPeriodMs < 0 {
		return nil, resource.NewConfigValidationError(path, errors.New("control_period_ms must not be negative"))
	}
	for field, v := range map[string]float64{
		"drive_gear_ratio":       cfg.DriveGearRatio,
		"steer_gear_ratio":       cfg.SteerGearRatio,
		"wheel_circumference_mm": cfg.WheelCircumferenceMm,
	} {
		if v == 0 {
			return nil, resource.NewConfigValidationFieldRequiredError(path, field)
		}
		if !(v > 0) {
			return nil, resource.NewConfigValidationError(path, errors.Errorf("%s must be positive", field))
		}
	}
	for field, v := range map[string]float64{
		"max_speed_mps":                  cfg.MaxSpeedMps,
		"max_angular_speed_degs_per_sec": cfg.MaxAngularSpeedDegsPerSec,
		"max_module_speed_mps":           cfg.MaxModuleSpeedMps,
	} {
		if v < 0 || math.IsNaN(v) {
			return nil, resource.NewConfigValidationError(path, errors.Errorf("%s must not be negative", field))
		}
	}
	if cfg.Translation != nil {
		if err := cfg.Translation.Validate(); err != nil {
			return nil, resource.NewConfigValidationError(path, errors.Wrap(err, "translation"))
		}
	}
	if cfg.Rotation != nil {
		if err := cfg.Rotation.Validate(); err != nil {
			return nil, resource.NewConfigValidationError(path, errors.Wrap(err, "rotation"))
		}
	}
	if n := len(cfg.DefenseAnglesDeg); n != 0 && n != kinematics.NumModules {
		return nil, resource.NewConfigValidationError(path,
			errors.Errorf("defense_angles_deg needs %d angles, got %d", kinematics.NumModules, n))
	}
	if cfg.MQTT != nil {
		if err := cfg.MQTT.Validate(); err != nil {
			return nil, resource.NewConfigValidationError(path, err)
		}
	}

	if len(cfg.Modules) != kinematics.NumModules {
		return nil, resource.NewConfigValidationError(path,
			errors.Errorf("need exactly %d modules (front left, front right, back left, back right), got %d",
				kinematics.NumModules, len(cfg.Modules)))
	}
	nodes := map[uint8]bool{}
	for i, m := range cfg.Modules {
		modulePath := fmt.Sprintf("%s.modules.%d", path, i)
		switch cfg.Actuator {
		case actuatorMotor:
			if m.DriveMotor == "" {
				return nil, resource.NewConfigValidationFieldRequiredError(modulePath, "drive_motor")
			}
			if m.SteerMotor == "" {
				return nil, resource.NewConfigValidationFieldRequiredError(modulePath, "steer_motor")
			}
			deps = append(deps, m.DriveMotor, m.SteerMotor)
		case actuatorCAN:
			for _, node := range []uint8{m.DriveNode, m.SteerNode} {
				if node == 0 || node > maxCANNode {
					return nil, resource.NewConfigValidationError(modulePath,
						errors.Errorf("CAN nodes must be in [1, %d], got %d", maxCANNode, node))
				}
				if nodes[node] {
					return nil, resource.NewConfigValidationError(modulePath, errors.Errorf("CAN node %d is used twice", node))
				}
				nodes[node] = true
			}
		}
		if m.AbsoluteEncoder != "" {
			deps = append(deps, m.AbsoluteEncoder)
		}
	}

	// motor steers are position controlled here; with no gain they never turn
	if cfg.Actuator == actuatorMotor {
		if cfg.SteerKp == 0 {
			return nil, resource.NewConfigValidationFieldRequiredError(path, "steer_kp")
		}
		if !(cfg.SteerKp > 0) {
			return nil, resource.NewConfigValidationError(path, errors.New("steer_kp must be positive"))
		}
	}

	return deps, nil
}

func (cfg *Config) moduleName(i int) string {
	if name := cfg.Modules[i].Name; name != "" {
		return name
	}
	return kinematics.ModuleNames[i]
}

func (cfg *Config) controlPeriodMs() int {
	if cfg.ControlPeriodMs == 0 {
		return defaultControlPeriodMs
	}
	return cfg.ControlPeriodMs
}

func (cfg *Config) canChannel() string {
	if cfg.CANChannel == "" {
		return defaultCANChannel
	}
	return cfg.CANChannel
}

func (cfg *Config) steerPID() actuator.PIDConfig {
	return actuator.PIDConfig{Kp: cfg.SteerKp, Ki: cfg.SteerKi, Kd: cfg.SteerKd}
}

// driveConfig fills the drivetrain defaults in with whatever is configured.
func (cfg *Config) driveConfig() drive.Config {
	out := drive.DefaultConfig()
	if cfg.MaxSpeedMps > 0 {
		out.MaxSpeed = cfg.MaxSpeedMps
	}
	if cfg.MaxAngularSpeedDegsPerSec > 0 {
		out.MaxAngularSpeed = (s1.Angle(cfg.MaxAngularSpeedDegsPerSec) * s1.Degree).Radians()
	}
	if cfg.MaxModuleSpeedMps > 0 {
		out.MaxModuleSpeed = cfg.MaxModuleSpeedMps
	}
	if cfg.Translation != nil {
		out.Translation = *cfg.Translation
	}
	if cfg.Rotation != nil {
		out.Rotation = *cfg.Rotation
	}
	for i, deg := range cfg.DefenseAnglesDeg {
		out.DefenseAngles[i] = kinematics.Degrees(deg)
	}
	return out
}

package swervebase

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	rdkutils "go.viam.com/rdk/utils"

	"swerve/kinematics"
)

type driveArgs struct {
	X             float64 `json:"x"`
	Y             float64 `json:"y"`
	Rotation      float64 `json:"rotation"`
	FieldRelative *bool   `json:"field_relative"`
}

type speedsArgs struct {
	Vx    float64 `json:"vx"`
	Vy    float64 `json:"vy"`
	Omega float64 `json:"omega"`
}

type angleArgs struct {
	AngleDeg *float64 `json:"angle_deg"`
}

type neutralArgs struct {
	Brake *bool `json:"brake"`
}

type poseArgs struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	HeadingDeg float64 `json:"heading_deg"`
}

// decodeArgs decodes the command's arguments into out by json tag. Numbers
// given as strings are accepted.
func decodeArgs(cmd map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(cmd)
}

func poseToMap(p kinematics.Pose) map[string]interface{} {
	return map[string]interface{}{
		"x":           p.X,
		"y":           p.Y,
		"heading_deg": p.Heading.Degrees(),
	}
}

func processed(name string) map[string]interface{} {
	return map[string]interface{}{"return": fmt.Sprintf("%s command processed", name)}
}

// DoCommand executes the drivetrain commands beyond the Base interface.
func (b *swerveBase) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	nameRaw, ok := cmd["command"]
	if !ok {
		return nil, errors.New("missing 'command' value")
	}
	name, ok := nameRaw.(string)
	if !ok {
		return nil, errors.Errorf("command must be a string but is type %T", nameRaw)
	}

	switch name {
	case "drive":
		var args driveArgs
		if err := decodeArgs(cmd, &args); err != nil {
			return nil, errors.Wrap(err, name)
		}
		fieldRelative := true
		if args.FieldRelative != nil {
			fieldRelative = *args.FieldRelative
		}
		b.opMgr.CancelRunning(ctx)
		if _, err := b.holdAndApply(ctx, heldCommand{
			kind:          holdPower,
			x:             args.X,
			y:             args.Y,
			rotation:      args.Rotation,
			fieldRelative: fieldRelative,
		}); err != nil {
			return nil, err
		}
		return processed(name), nil

	case "drive_robot_relative":
		var args speedsArgs
		if err := decodeArgs(cmd, &args); err != nil {
			return nil, errors.Wrap(err, name)
		}
		b.opMgr.CancelRunning(ctx)
		speeds := kinematics.ChassisSpeeds{Vx: args.Vx, Vy: args.Vy, Omega: args.Omega}
		if _, err := b.holdAndApply(ctx, heldCommand{kind: holdVelocity, speeds: speeds}); err != nil {
			return nil, err
		}
		return processed(name), nil

	case "defense_mode":
		if err := b.oneShot(ctx, func() error { return b.dt.DefenseMode(ctx) }); err != nil {
			return nil, err
		}
		return processed(name), nil

	case "go_to_angle":
		var args angleArgs
		if err := decodeArgs(cmd, &args); err != nil {
			return nil, errors.Wrap(err, name)
		}
		if args.AngleDeg == nil {
			return nil, errors.New("angle_deg must be set to a number")
		}
		angle := kinematics.Degrees(*args.AngleDeg)
		if err := b.oneShot(ctx, func() error { return b.dt.GoToAngle(ctx, angle) }); err != nil {
			return nil, err
		}
		return processed(name), nil

	case "set_neutral_mode":
		var args neutralArgs
		if err := decodeArgs(cmd, &args); err != nil {
			return nil, errors.Wrap(err, name)
		}
		if args.Brake == nil {
			return nil, errors.New("brake must be set and a boolean value")
		}
		b.mu.Lock()
		err := b.dt.SetNeutralMode(ctx, *args.Brake)
		b.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return processed(name), nil

	case "stop":
		if err := b.Stop(ctx, nil); err != nil {
			return nil, err
		}
		return processed(name), nil

	case "reset_odometry":
		var args poseArgs
		if err := decodeArgs(cmd, &args); err != nil {
			return nil, errors.Wrap(err, name)
		}
		pose := kinematics.Pose{X: args.X, Y: args.Y, Heading: kinematics.Degrees(args.HeadingDeg)}
		b.mu.Lock()
		err := b.dt.ResetOdometry(ctx, pose)
		b.mu.Unlock()
		b.logger.Debugw("odometry reset", "pose", pose.String())
		if err != nil {
			return nil, err
		}
		return processed(name), nil

	case "get_pose":
		b.mu.Lock()
		pose := b.dt.Pose()
		b.mu.Unlock()
		return poseToMap(pose), nil

	case "get_robot_relative_speeds":
		b.mu.Lock()
		speeds, err := b.dt.RobotRelativeSpeeds(ctx)
		b.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"vx":        speeds.Vx,
			"vy":        speeds.Vy,
			"omega":     speeds.Omega,
			"omega_deg": rdkutils.RadToDeg(speeds.Omega),
		}, nil

	case "reset_shaping":
		b.mu.Lock()
		b.dt.ResetShaping()
		b.mu.Unlock()
		return processed(name), nil

	case "get_telemetry":
		return b.store.All(), nil

	default:
		return nil, fmt.Errorf("no such command: %s", name)
	}
}

// oneShot clears the held command and runs fn once under the lock.
func (b *swerveBase) oneShot(ctx context.Context, fn func() error) error {
	b.opMgr.CancelRunning(ctx)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hold(heldCommand{})
	return fn()
}

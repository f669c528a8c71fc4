package swervebase

import (
	"context"
)

// controlLoop runs one control period every b.period until ctx is done.
func (b *swerveBase) controlLoop(ctx context.Context) {
	ticker := b.clk.Ticker(b.period)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.step(ctx)
		}
	}
}

// step re-applies the held command, advances odometry and publishes the
// drivetrain status.
func (b *swerveBase) step(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.apply(ctx)
	if b.hw.simGyro != nil {
		b.hw.simGyro.Integrate(b.dt.CommandedSpeeds().Omega, b.period)
	}
	if _, perr := b.dt.Periodic(ctx); perr != nil && err == nil {
		err = perr
	}

	var msg string
	if err != nil {
		msg = err.Error()
	}
	if msg != b.lastLoopErr {
		if err != nil {
			b.logger.Warnw("control period degraded", "error", err)
		} else {
			b.logger.Infow("control period recovered")
		}
		b.lastLoopErr = msg
	}

	values := b.dt.Status().Flatten()
	values["drive_base_radius_m"] = b.dt.Kinematics().DriveBaseRadius()
	b.sink.Publish(values)
}

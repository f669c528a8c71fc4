// Package main is a viam module serving the swerve drive base.
package main

import (
	"context"

	"go.viam.com/rdk/components/base"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/module"
	goutils "go.viam.com/utils"

	"swerve/swervebase"
)

// Version number
var version = "0.1.0"

func main() {
	goutils.ContextualMain(mainWithArgs, logging.NewDebugLogger("swerveBaseModule"))
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) (err error) {
	logger.Infow("starting swerve base module", "version", version)
	swervebase.Register()
	swerveModule, err := module.NewModuleFromArgs(ctx, logger)
	if err != nil {
		return err
	}
	if err := swerveModule.AddModelFromRegistry(ctx, base.API, swervebase.Model); err != nil {
		return err
	}

	err = swerveModule.Start(ctx)
	defer swerveModule.Close(ctx)

	if err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

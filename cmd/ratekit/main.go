/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Command ratekit runs the rate-limiting HTTP service.
package main

import (
	"errors"
	"fmt"
	golog "log"
	"os"

	"github.com/spf13/pflag"

	"github.com/carelog/ratekit/internal/app"
	"github.com/carelog/ratekit/internal/version"
	"github.com/carelog/ratekit/log"
	"github.com/carelog/ratekit/service"
)

func main() {
	if err := runApp(os.Args[1:]); err != nil {
		golog.Fatal(err)
	}
}

func runApp(args []string) error {
	flags := pflag.NewFlagSet(app.ServiceName, pflag.ContinueOnError)
	cfgPath := flags.StringP("config", "c", "", "path to the YAML or JSON configuration file (defaults and RATEKIT_* env vars are used when empty)")
	printVersion := flags.Bool("version", false, "print version and exit")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *printVersion {
		fmt.Println(version.Get())
		return nil
	}

	cfg, err := app.LoadConfig(*cfgPath)
	if err != nil {
		return err
	}

	logger, loggerClose := log.NewLogger(cfg.Log)
	defer loggerClose()

	a, err := app.New(cfg, logger, app.Opts{})
	if err != nil {
		return err
	}

	return service.New(logger, a).Start()
}

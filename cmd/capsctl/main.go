package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

const (
	name    = "capsctl"
	usage   = "probe and inspect hypervisor binary capabilities"
	version = "0.1.0"
)

var capsLog = logrus.WithField("source", "capsctl")

var globalFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "config",
		Usage: "path to a capsctl TOML config file (lib dir, probe uid/gid, env allowlist)",
	},
	cli.DurationFlag{
		Name:  "timeout",
		Value: defaultProbeTimeout,
		Usage: "maximum time to allow a single probe to run",
	},
}

func createApp() *cli.App {
	app := cli.NewApp()
	app.Name = name
	app.Usage = usage
	app.Version = version
	app.Flags = globalFlags
	app.Commands = []cli.Command{
		probeCLICommand,
		cacheStatCLICommand,
	}
	return app
}

func fatal(err error) {
	capsLog.Error(err)
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func main() {
	if err := createApp().Run(os.Args); err != nil {
		fatal(err)
	}
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/urfave/cli"

	"github.com/kata-containers/qemu-capabilities/caps"
	"github.com/kata-containers/qemu-capabilities/internal/config"
)

const defaultProbeTimeout = 30 * time.Second

// probeResult is the JSON shape printed by "capsctl probe": a flattened,
// stable rendering of a caps.CapabilityRecord that does not expose the
// FlagSet's internal word layout.
type probeResult struct {
	BinaryPath      string             `json:"binary_path"`
	Arch            string             `json:"arch"`
	Version         int                `json:"version"`
	AccelVersion    int                `json:"accel_version,omitempty"`
	BuiltViaMonitor bool               `json:"built_via_monitor"`
	Flags           []string           `json:"flags"`
	Machines        []caps.MachineType `json:"machines"`
	CPUModels       []string           `json:"cpu_models"`
}

func loadConfigOrDefault(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

var probeCLICommand = cli.Command{
	Name:      "probe",
	Usage:     "probe a hypervisor binary and print its capability record",
	ArgsUsage: "<binary-path>",
	Flags: []cli.Flag{
		cli.BoolFlag{
			Name:  "no-cache",
			Usage: "bypass the on-disk status-file snapshot for this run",
		},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.NewExitError("expected exactly one binary path argument", 1)
		}
		binaryPath := c.Args().First()

		cfg, err := loadConfigOrDefault(c.GlobalString("config"))
		if err != nil {
			return err
		}
		if c.Bool("no-cache") {
			cfg.NoCacheFile = true
		}

		cache := caps.NewCache(cfg)
		defer cache.Free()

		ctx, cancel := context.WithTimeout(context.Background(), c.GlobalDuration("timeout"))
		defer cancel()

		record, err := cache.LookupCopy(ctx, binaryPath)
		if err != nil {
			return cli.NewExitError(fmt.Sprintf("probe failed: %v", err), 1)
		}

		result := probeResult{
			BinaryPath:      record.BinaryPath,
			Arch:            string(record.Arch),
			Version:         record.Version,
			AccelVersion:    record.AccelVersion,
			BuiltViaMonitor: record.BuiltViaMonitor,
			Flags:           record.Flags.Names(),
			Machines:        record.Machines,
			CPUModels:       record.CPUModels,
		}

		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

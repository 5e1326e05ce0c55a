package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/urfave/cli"
)

// cacheStatCLICommand inspects the on-disk status-file snapshot
// directory a running capsctl-backed daemon maintains, without needing
// to talk to that daemon -- every snapshot is a self-contained TOML
// file keyed by the sha256 of the probed binary's path.
var cacheStatCLICommand = cli.Command{
	Name:  "cache-stat",
	Usage: "list the on-disk capability snapshot files under a lib directory",
	Action: func(c *cli.Context) error {
		cfg, err := loadConfigOrDefault(c.GlobalString("config"))
		if err != nil {
			return err
		}

		dir := filepath.Join(cfg.LibDir, "capabilities")
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Fprintf(c.App.Writer, "no snapshot directory at %s\n", dir)
				return nil
			}
			return err
		}

		w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "FILE\tSIZE\tMODIFIED")
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "%s\t%d\t%s\n", entry.Name(), info.Size(), info.ModTime().Format("2006-01-02T15:04:05"))
		}
		return w.Flush()
	},
}

package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

var (
	version   string
	commit    string
	buildType = "unclassified"
)

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "scheduler"
	app.HelpName = "scheduler"
	app.Usage = "runs batch-rotating notification tasks on cron schedules"
	app.UsageText = "scheduler [--config path] | scheduler <command> [arguments...]"
	app.Version = fmt.Sprintf("%s-%s (%s)", version, buildType, commit)
	app.Flags = runFlags
	app.Action = run
	app.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "load the config and run every task until a signal or a fatal error",
			Flags:  runFlags,
			Action: run,
		},
		{
			Name:      "next",
			Aliases:   []string{"n"},
			Usage:     "preview the next fire times of a schedule",
			ArgsUsage: "<schedule>",
			Flags:     nextFlags,
			Action:    next,
		},
	}
	return app
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "scheduler: %s\n", err.Error())
		os.Exit(1)
	}
}

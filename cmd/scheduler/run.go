package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/urfave/cli"

	"github.com/ChefBingbong/pcs-notification-scheduler/internal/app"
	logx "github.com/ChefBingbong/pcs-notification-scheduler/pkg/logx"
)

var runFlags = []cli.Flag{
	cli.StringFlag{
		Name:   "config, c",
		Value:  "./config.yaml",
		Usage:  "path to the config file (json or yaml)",
		EnvVar: "SCHEDULER_CONFIG",
	},
}

func run(c *cli.Context) error {
	a, err := app.New(c.String("config"))
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("fatal: %v", err), 1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if err := a.Start(context.Background()); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return cli.NewExitError(fmt.Sprintf("fatal start: %v", err), 1)
	}
	notifySystemd(a, daemon.SdNotifyReady)

	reason := app.StopFatalError
	select {
	case sig := <-sigCh:
		reason = app.ReasonForSignal(sig)
		a.Shutdown(sig)
	case <-a.Done():
	}

	notifySystemd(a, daemon.SdNotifyStopping)
	_ = a.Stop(context.Background(), reason)

	if code := a.ExitCode(); code != 0 {
		return cli.NewExitError(fmt.Sprintf("fatal: %v", a.Err()), code)
	}
	return nil
}

// notifySystemd is a no-op outside a Type=notify unit.
func notifySystemd(a *app.App, state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		a.Logger().Warn("sd_notify failed", logx.Err(err))
	}
}

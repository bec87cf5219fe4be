package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/urfave/cli"

	"github.com/ChefBingbong/pcs-notification-scheduler/internal/task/timer"
	logx "github.com/ChefBingbong/pcs-notification-scheduler/pkg/logx"
)

var nextFlags = []cli.Flag{
	cli.IntFlag{
		Name:  "count, n",
		Value: 5,
		Usage: "number of fire times to print",
	},
	cli.StringFlag{
		Name:  "tz",
		Value: "UTC",
		Usage: "timezone the schedule is evaluated in",
	},
	cli.Int64Flag{
		Name:  "at",
		Usage: "unix time of an event; prints the daily schedule firing at it plus the buffers",
	},
	cli.IntFlag{
		Name:  "seconds",
		Usage: "seconds added to --at",
	},
	cli.IntFlag{
		Name:  "minutes",
		Usage: "minutes added to --at",
	},
}

func next(c *cli.Context) error {
	raw := strings.TrimSpace(strings.Join(c.Args(), " "))
	if at := c.Int64("at"); at != 0 {
		raw = timer.RecomputeSchedule(at, c.Int("seconds"), c.Int("minutes"))
	}
	if raw == "" {
		return errors.New("next: a schedule or --at is required")
	}
	loc, err := timer.LoadLocation(c.String("tz"))
	if err != nil {
		return err
	}
	return printNext(c.App.Writer, timer.New(loc, logx.Nop()), raw, time.Now(), c.Int("count"))
}

func printNext(w io.Writer, svc *timer.Service, raw string, from time.Time, n int) error {
	if n <= 0 {
		n = 1
	}
	times, err := svc.Preview(raw, from, n)
	if err != nil {
		return err
	}
	_, ps, _ := svc.Parse(raw)
	fmt.Fprintf(w, "schedule: %s (%s)\n", raw, ps.Expr())
	for i, t := range times {
		fmt.Fprintf(w, "%2d. %s\n", i+1, t.Format(time.RFC3339))
	}
	return nil
}

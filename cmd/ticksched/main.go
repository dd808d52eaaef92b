package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/urfave/cli"

	"tickdefer/internal/job"
	"tickdefer/internal/sched"
)

const consoleTimeFormat = "15:04:05.000"

var runFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "config, c",
		Usage: "path to the YAML config",
		Value: "config.yml",
	},
	cli.StringFlag{
		Name:  "csv",
		Usage: "write status events to this CSV file (overrides csv_path)",
	},
	cli.Float64Flag{
		Name:  "time-scale, s",
		Usage: "initial time scale (overrides time_scale)",
		Value: -1,
	},
	cli.DurationFlag{
		Name:  "run-for, d",
		Usage: "stop after this much wall-clock time (overrides run_for)",
	},
	cli.StringFlag{
		Name:  "log-level, l",
		Usage: "trace, debug, info, warn or error (overrides log_level)",
	},
	cli.BoolFlag{
		Name:  "no-watch",
		Usage: "do not reload time_scale when the config file changes",
	},
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	cw := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: consoleTimeFormat}
	return zerolog.New(cw).Level(lvl).With().Timestamp().Logger()
}

func run(ctx *cli.Context) error {
	path := ctx.String("config")
	cfg, err := sched.Load(path)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	if v := ctx.String("csv"); v != "" {
		cfg.CSVPath = v
	}
	if v := ctx.Float64("time-scale"); v >= 0 {
		cfg.TimeScale = v
	}
	if v := ctx.String("log-level"); v != "" {
		cfg.LogLevel = v
	}
	runFor, err := cfg.RunDuration()
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	if v := ctx.Duration("run-for"); v > 0 {
		runFor = v
	}

	log := newLogger(cfg.LogLevel)
	log.Info().
		Int("tick_ms", cfg.TickMS).
		Float64("time_scale", cfg.TimeScale).
		Int("calls", len(cfg.Calls)).
		Msg("loaded config")

	s := sched.New(cfg, log)
	if cfg.CSVPath != "" {
		if err := s.EnableCSVLogging(cfg.CSVPath); err != nil {
			return cli.NewExitError(fmt.Sprintf("csv: %v", err), 1)
		}
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if runFor > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, runFor)
		defer cancel()
	}

	counters, err := startCalls(runCtx, s, cfg.Calls, log)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	if !ctx.Bool("no-watch") && path != "" {
		if err := watchTimeScale(runCtx, path, s.Clock(), log); err != nil {
			log.Warn().Err(err).Msg("config watch disabled")
		}
	}

	err = s.Run(runCtx)
	for _, cc := range cfg.Calls {
		log.Info().Str("call", cc.Name).Int64("runs", counters[cc.Name].Count()).Msg("work total")
	}
	return err
}

// startCalls builds every configured call, triggers runners and arms
// repeaters. The returned counters track how often each work item ran.
func startCalls(ctx context.Context, s *sched.Scheduler, calls []sched.CallConfig, log zerolog.Logger) (map[string]*job.Counter, error) {
	counters := make(map[string]*job.Counter, len(calls))
	for _, cc := range calls {
		counter := new(job.Counter)
		work := job.Chain(job.Logging(log, cc.Name), counter.Work())
		call, err := s.Build(cc, work, sched.WithContext(ctx))
		if err != nil {
			return nil, err
		}
		counters[cc.Name] = counter

		switch c := call.(type) {
		case sched.Triggerable:
			n := cc.Triggers
			if n <= 0 {
				n = 1
			}
			for i := 0; i < n; i++ {
				c.Trigger()
			}
		case sched.Activatable:
			c.SetArmed(true)
		}
	}
	return counters, nil
}

func main() {
	app := cli.App{
		Name:      "ticksched",
		HelpName:  "ticksched",
		Usage:     "drive coalescing tick/duration primitives from a config file",
		UsageText: "ticksched [--config config.yml] [--run-for 5s]",
		Version:   "0.1.0",
		Flags:     runFlags,
		Action:    run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

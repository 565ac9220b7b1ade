package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"trade_core/internal/modules/config"
	"trade_core/internal/modules/health"
	"trade_core/internal/modules/postgres"
	"trade_core/internal/runner"
	"trade_core/pkg/logger"
	"trade_core/pkg/tracing"
)

// Flags is the command line shared by every stage binary:
//
//	<stage> [flags] once|follow
func Flags(component string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(component, pflag.ContinueOnError)
	fs.String("config", "", "path to the YAML config file")
	fs.Var(new(intervalValue), "interval", "pause between passes in follow mode (seconds or a duration like 30s)")
	fs.Bool("dry-run", false, "read from postgres but discard every write")
	fs.String("profile", "", "risk profile name")
	fs.Float64("rr-min", 0, "override the profile's minimum reward:risk")
	fs.Float64("sl-cap", 0, "override the profile's per-trade stop-loss cap")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] once|follow\n", component)
		fs.PrintDefaults()
	}
	return fs
}

// intervalValue accepts bare seconds ("15") as well as Go durations ("1m").
type intervalValue time.Duration

func (v *intervalValue) String() string { return time.Duration(*v).String() }

func (v *intervalValue) Type() string { return "interval" }

func (v *intervalValue) Set(raw string) error {
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		*v = intervalValue(time.Duration(secs * float64(time.Second)))
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("interval %q: want seconds or a duration", raw)
	}
	*v = intervalValue(d)
	return nil
}

// Main runs one pipeline stage. stage carries the modules that provide the
// stage's runner.Pass. The process exits 0 on success, 1 on a failed pass
// or startup error and 2 on bad usage.
func Main(component string, stage ...fx.Option) {
	os.Exit(run(component, os.Args[1:], stage...))
}

func run(component string, args []string, stage ...fx.Option) int {
	cfg, log, cleanup, code := bootstrap(component, args)
	if cleanup == nil {
		return code
	}
	defer cleanup()

	opts := []fx.Option{
		fx.Supply(log),
		fx.WithLogger(fxLogger),
		config.Module(cfg),
		postgres.Module(),
	}
	opts = append(opts, stage...)
	if cfg.Runner.Mode == config.ModeFollow {
		opts = append(opts, health.Module())
	}
	opts = append(opts, runner.Module())

	log.Info("starting",
		zap.String("component", component),
		zap.String("mode", cfg.Runner.Mode),
		zap.Bool("dry_run", cfg.DryRun),
	)
	return runApp(fx.New(opts...), log)
}

// bootstrap parses args and builds the config, logger and tracer. A nil
// cleanup means the process should exit with code.
func bootstrap(component string, args []string) (*config.Config, *zap.Logger, func(), int) {
	fs := Flags(component)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, nil, nil, 0
		}
		return nil, nil, nil, 2
	}
	if fs.NArg() > 1 {
		fs.Usage()
		return nil, nil, nil, 2
	}

	cfg, err := config.NewConfig(fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", component, err)
		return nil, nil, nil, 2
	}

	name := cfg.Service.Name + "-" + component
	logger.SetServiceName(name)
	tracing.SetServiceName(name)

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", component, err)
		return nil, nil, nil, 1
	}

	_, closeTracer, err := tracing.InitTracer(cfg.Tracing)
	if err != nil {
		log.Error("init tracer", zap.Error(err))
		_ = log.Sync()
		return nil, nil, nil, 1
	}
	return cfg, log, func() {
		closeTracer()
		_ = log.Sync()
	}, 0
}

func fxLogger(l *zap.Logger) fxevent.Logger {
	return &fxevent.ZapLogger{Logger: l.Named("fx")}
}

func runApp(app *fx.App, log *zap.Logger) int {
	if err := app.Err(); err != nil {
		log.Error("build app", zap.Error(err))
		return 1
	}
	startCtx, cancel := context.WithTimeout(context.Background(), app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		log.Error("start app", zap.Error(err))
		return 1
	}

	sig := <-app.Wait()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), app.StopTimeout())
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil {
		log.Error("stop app", zap.Error(err))
	}
	log.Info("stopped", zap.Int("exit_code", sig.ExitCode))
	return sig.ExitCode
}

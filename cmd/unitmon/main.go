package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/unitmon/internal/config"
	"git.home.luguber.info/inful/unitmon/internal/daemon"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Run struct{} `cmd:"" default:"1" help:"Monitor systemd user units and send metrics to Telegraf"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Initialize a new configuration file"`

	Check struct{} `cmd:"" help:"Validate configuration and probe the bus and metrics socket"`

	Version struct{} `cmd:"" help:"Print version information"`
}

func main() {
	ctx := kong.Parse(&CLI)

	switch ctx.Command() {
	case "run":
		cfg := mustLoadConfig()
		setupLogging(cfg)
		if err := runMonitor(cfg); err != nil {
			slog.Error("Monitor failed", "error", err)
			os.Exit(1)
		}
	case "init":
		if err := runInit(CLI.Config, CLI.Init.Force); err != nil {
			slog.Error("Init failed", "error", err)
			os.Exit(1)
		}
	case "check":
		cfg := mustLoadConfig()
		setupLogging(cfg)
		if err := runCheck(cfg); err != nil {
			os.Exit(1)
		}
	case "version":
		printVersion()
	}
}

func mustLoadConfig() *config.Config {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	return cfg
}

// setupLogging installs the process-wide slog handler. The verbose flag
// overrides the configured level.
func setupLogging(cfg *config.Config) {
	level := config.NormalizeLogLevel(cfg.Logging.Level).SlogLevel()
	if CLI.Verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if config.NormalizeLogFormat(cfg.Logging.Format) == config.LogFormatJSON {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func runMonitor(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := daemon.New(CLI.Config, cfg)
	if err != nil {
		return err
	}
	return d.Run(ctx)
}

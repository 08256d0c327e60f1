// Package daemon wires the session bus gateway, unit state engine, poll
// scheduler and Telegraf sink into one long-running process.
package daemon

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promcollect "github.com/prometheus/client_golang/prometheus/collectors"

	"git.home.luguber.info/inful/unitmon/internal/config"
	"git.home.luguber.info/inful/unitmon/internal/engine"
	"git.home.luguber.info/inful/unitmon/internal/filter"
	"git.home.luguber.info/inful/unitmon/internal/identity"
	"git.home.luguber.info/inful/unitmon/internal/logfields"
	"git.home.luguber.info/inful/unitmon/internal/metrics"
	"git.home.luguber.info/inful/unitmon/internal/sink"
	"git.home.luguber.info/inful/unitmon/internal/systemd"
)

// Daemon owns the monitoring process lifecycle, including configuration
// reloads: a config change stops the current engine run and starts a new one
// with the freshly loaded filter set. The session identity is resolved once
// and survives reloads.
type Daemon struct {
	configPath string
	session    identity.Session
	registry   *prom.Registry
	recorder   metrics.Recorder
	startedAt  time.Time

	mu     sync.RWMutex
	cfg    *config.Config
	engine *engine.Engine
}

// New creates a daemon from a loaded configuration. configPath may be empty,
// which disables the config watcher.
func New(configPath string, cfg *config.Config) (*Daemon, error) {
	session, err := identity.Resolve()
	if err != nil {
		return nil, err
	}

	registry := prom.NewRegistry()
	registry.MustRegister(
		promcollect.NewGoCollector(),
		promcollect.NewProcessCollector(promcollect.ProcessCollectorOpts{}),
	)

	return &Daemon{
		configPath: configPath,
		session:    session,
		registry:   registry,
		recorder:   metrics.NewPrometheusRecorder(registry),
		startedAt:  time.Now(),
		cfg:        cfg,
	}, nil
}

// Run executes engine runs until the context is canceled, restarting on
// configuration changes.
func (d *Daemon) Run(ctx context.Context) error {
	slog.Info("Starting systemd unit monitor",
		slog.String("user", d.session.Username),
		slog.Int("uid", d.session.UID),
		logfields.Socket(d.cfg.Telegraf.SocketPath),
		logfields.Interval(d.cfg.Monitoring.PollInterval().String()))

	for {
		reload, err := d.runOnce(ctx)
		if err != nil {
			return err
		}
		if !reload {
			slog.Info("Shutting down")
			return nil
		}
		d.reloadConfig()
	}
}

// reloadConfig re-reads the config file, keeping the previous configuration
// when the new one fails to load or validate.
func (d *Daemon) reloadConfig() {
	cfg, err := config.Load(d.configPath)
	if err != nil {
		slog.Error("Config reload failed, keeping previous configuration", logfields.Error(err))
		return
	}
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
	slog.Info("Configuration reloaded")
}

// runOnce builds and runs one engine instance. It returns reload=true when a
// config change requests a restart, reload=false on clean shutdown.
func (d *Daemon) runOnce(ctx context.Context) (reload bool, err error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg := d.currentConfig()

	gateway, err := systemd.NewClient(runCtx)
	if err != nil {
		return false, err
	}
	defer gateway.Close()

	out := sink.NewTelegraf(cfg.Telegraf.SocketPath)
	defer func() { _ = out.Close() }()

	filters := filter.NewSet(
		filter.ParseList(cfg.Filters.Include),
		filter.ParseList(cfg.Filters.Exclude),
	)
	eng := engine.New(gateway, out, engine.Config{
		Measurement: cfg.Telegraf.Measurement,
		Filters:     filters,
		Session:     d.session,
	}, engine.WithRecorder(d.recorder))
	d.setEngine(eng)
	defer d.setEngine(nil)

	scheduler, err := NewScheduler()
	if err != nil {
		return false, err
	}
	if err := scheduler.SchedulePoll(cfg.Monitoring.PollInterval(), eng.TriggerPoll); err != nil {
		return false, err
	}
	scheduler.Start(runCtx)
	defer func() { _ = scheduler.Stop(runCtx) }()

	var configChanged <-chan struct{}
	if d.configPath != "" {
		watcher, werr := NewConfigWatcher(d.configPath)
		if werr != nil {
			slog.Warn("Config watching disabled", logfields.Error(werr))
		} else {
			defer watcher.Close()
			if werr := watcher.Start(runCtx); werr != nil {
				slog.Warn("Config watching disabled", logfields.Error(werr))
			} else {
				configChanged = watcher.Changed()
			}
		}
	}

	stopAdmin, err := d.startAdminServer(runCtx)
	if err != nil {
		return false, err
	}
	defer stopAdmin()

	engineDone := make(chan error, 1)
	go func() { engineDone <- eng.Run(runCtx) }()

	select {
	case <-ctx.Done():
		cancel()
		<-engineDone // let in-flight handling finish
		return false, nil
	case <-configChanged:
		slog.Info("Configuration changed, restarting engine")
		cancel()
		<-engineDone
		return true, nil
	case err := <-engineDone:
		if errors.Is(err, context.Canceled) {
			return false, nil
		}
		return false, err
	}
}

func (d *Daemon) currentConfig() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

func (d *Daemon) currentEngine() *engine.Engine {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.engine
}

func (d *Daemon) setEngine(e *engine.Engine) {
	d.mu.Lock()
	d.engine = e
	d.mu.Unlock()
}

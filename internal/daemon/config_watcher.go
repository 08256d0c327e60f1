package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/unitmon/internal/logfields"
)

// ConfigWatcher monitors the configuration file and signals changes so the
// daemon can restart the engine with a freshly loaded filter set.
type ConfigWatcher struct {
	configPath   string
	watcher      *fsnotify.Watcher
	changed      chan struct{}
	debounceTime time.Duration
}

// NewConfigWatcher creates a watcher for the given config file.
func NewConfigWatcher(configPath string) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	// Resolve absolute path for consistent watching
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	return &ConfigWatcher{
		configPath:   absPath,
		watcher:      watcher,
		changed:      make(chan struct{}, 1),
		debounceTime: 2 * time.Second, // Debounce rapid file changes
	}, nil
}

// Changed delivers one signal per settled config change.
func (cw *ConfigWatcher) Changed() <-chan struct{} {
	return cw.changed
}

// Start begins monitoring the configuration file.
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	// Watch the directory containing the config file (more reliable than
	// watching the file directly; editors replace files on save).
	configDir := filepath.Dir(cw.configPath)
	if err := cw.watcher.Add(configDir); err != nil {
		return fmt.Errorf("failed to watch config directory %s: %w", configDir, err)
	}

	go cw.loop(ctx)
	slog.Info("Watching configuration file", slog.String("path", cw.configPath))
	return nil
}

// Close stops the watcher.
func (cw *ConfigWatcher) Close() error {
	return cw.watcher.Close()
}

func (cw *ConfigWatcher) loop(ctx context.Context) {
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	fire := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != cw.configPath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			slog.Debug("Config file event", slog.String("op", event.Op.String()))
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(cw.debounceTime, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Config watcher error", logfields.Error(err))
		case <-fire:
			select {
			case cw.changed <- struct{}{}:
			default:
			}
		}
	}
}

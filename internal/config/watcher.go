package config

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"wadispatch/internal/constants"
	"wadispatch/internal/models"
)

// Watcher polls the config file and reloads it when its mtime changes.
// Only settings that are safe to change at runtime are acted on by the
// registered callbacks; the rest take effect on restart.
type Watcher struct {
	configPath string
	interval   time.Duration
	logger     *logrus.Logger
	mu         sync.RWMutex
	config     *models.Config
	callbacks  []func(*models.Config)
}

func NewWatcher(configPath string, logger *logrus.Logger) *Watcher {
	return &Watcher{
		configPath: configPath,
		interval:   constants.DefaultConfigWatchIntervalSec * time.Second,
		logger:     logger,
		callbacks:  make([]func(*models.Config), 0),
	}
}

// Start loads the file once and then polls until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	cfg, err := LoadConfig(w.configPath)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.config = cfg
	w.mu.Unlock()

	stat, err := os.Stat(w.configPath)
	if err != nil {
		return err
	}
	lastModTime := stat.ModTime()

	w.logger.WithField("path", w.configPath).Info("Configuration watcher started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Configuration watcher stopping")
			return nil

		case <-ticker.C:
			stat, err := os.Stat(w.configPath)
			if err != nil {
				w.logger.WithError(err).Error("Failed to stat configuration file")
				continue
			}

			if stat.ModTime().After(lastModTime) {
				w.logger.Debug("Configuration file changed")
				lastModTime = stat.ModTime()
				w.reload()
			}
		}
	}
}

// Config returns the most recently loaded configuration, or nil before
// Start has loaded it.
func (w *Watcher) Config() *models.Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

func (w *Watcher) OnConfigChange(callback func(*models.Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// reload keeps the previous config when the new file fails to load or
// validate.
func (w *Watcher) reload() {
	next, err := LoadConfig(w.configPath)
	if err != nil {
		w.logger.WithError(err).Error("Failed to reload configuration; keeping previous")
		return
	}

	w.mu.Lock()
	prev := w.config
	w.config = next
	callbacks := make([]func(*models.Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	w.logger.Info("Configuration reloaded")
	w.logChanges(prev, next)

	for _, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					w.logger.WithField("panic", r).Error("Config change callback panicked")
				}
			}()
			cb(next)
		}()
	}
}

func (w *Watcher) logChanges(prev, next *models.Config) {
	if prev == nil {
		return
	}

	if prev.Logging.Level != next.Logging.Level {
		w.logger.WithFields(logrus.Fields{
			"old": prev.Logging.Level,
			"new": next.Logging.Level,
		}).Info("Log level changed")
	}

	if prev.Database.RetentionDays != next.Database.RetentionDays ||
		prev.Queue.BatchSize != next.Queue.BatchSize ||
		prev.Queue.MaxRetries != next.Queue.MaxRetries {
		w.logger.Warn("Queue or retention settings changed; restart to apply")
	}
}

// LogLevelUpdater returns a callback that applies logging.level to logger.
func LogLevelUpdater(logger *logrus.Logger) func(*models.Config) {
	return func(cfg *models.Config) {
		level, err := logrus.ParseLevel(cfg.Logging.Level)
		if err != nil {
			logger.WithError(err).Warn("Ignoring invalid log level")
			return
		}
		logger.SetLevel(level)
	}
}

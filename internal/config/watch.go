package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"tradesync/internal/logger"
)

// Watcher re-reads the config file when it changes on disk and hands the
// decoded result to onChange. Only runtime knobs (log level, reconcile
// interval, SL/TP convention) are expected to take effect; structural
// settings like addresses require a restart.
type Watcher struct {
	path     string
	onChange func(*Config)

	mu      sync.Mutex
	started bool
	v       *viper.Viper
}

// NewWatcher builds a watcher for path. onChange runs on the fsnotify
// goroutine and must not block.
func NewWatcher(path string, onChange func(*Config)) *Watcher {
	return &Watcher{path: path, onChange: onChange}
}

// Start begins watching. Safe to call once; later calls are no-ops.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	v := viper.New()
	v.SetConfigFile(w.path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		logger.Infof("config: change detected op=%s file=%s", evt.Op, evt.Name)
		cfg, err := decode(v)
		if err != nil {
			logger.Warnf("config: reload decode failed, keeping previous: %v", err)
			return
		}
		cfg.applyDefaults()
		if err := validate(cfg); err != nil {
			logger.Warnf("config: reload rejected, keeping previous: %v", err)
			return
		}
		if w.onChange != nil {
			w.onChange(cfg)
		}
	})
	v.WatchConfig()
	w.v = v
	w.started = true
	logger.Infof("config: watching %s", w.path)
	return nil
}

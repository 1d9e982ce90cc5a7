package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// PollInterval is how often the file mtime is checked when fsnotify is
// unavailable.
var PollInterval = 30 * time.Second

const debounce = 200 * time.Millisecond

// Watch reloads path whenever it changes and hands the new config to
// onChange. A config that fails to load or validate is logged and skipped;
// the previous settings stay in effect. Watch returns immediately.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func(*Config)) {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "config_watch", "path", path)

	reload := func() {
		cfg, err := Load(path)
		if err != nil {
			log.Warn("config reload rejected", "error", err)
			return
		}
		log.Info("config reloaded")
		onChange(cfg)
	}

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		// The directory is watched so that editors that replace the file
		// (rename over it) are still seen.
		if err = watcher.Add(filepath.Dir(path)); err != nil {
			watcher.Close()
		}
	}
	if err != nil {
		log.Warn("fsnotify unavailable, falling back to polling", "error", err)
		go poll(ctx, path, reload)
		return
	}

	go func() {
		defer watcher.Close()
		target := filepath.Clean(path)
		var pending <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
					pending = time.After(debounce)
				}
			case <-pending:
				pending = nil
				reload()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("watcher error", "error", err)
			}
		}
	}()
}

func poll(ctx context.Context, path string, reload func()) {
	var last time.Time
	if st, err := os.Stat(path); err == nil {
		last = st.ModTime()
	}

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st, err := os.Stat(path)
			if err != nil || !st.ModTime().After(last) {
				continue
			}
			last = st.ModTime()
			reload()
		}
	}
}

package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Mishiranu/threadwatch/internal/config"
)

// reloadDebounce coalesces bursts of file events (editors write in
// several steps; sqlite touches the database and its WAL together).
const reloadDebounce = 500 * time.Millisecond

// favoriteReconciler re-reads the favorites table and publishes changes.
type favoriteReconciler interface {
	Reconcile(ctx context.Context) error
}

// prefsListener is told that the preferences in the holder changed.
type prefsListener interface {
	PreferencesChanged()
}

// reloader watches the config file and the state database. A config change
// reloads the holder and notifies the scheduler; a database change made by
// another process (the fav command) is reconciled into favorites events.
// SIGHUP does both.
type reloader struct {
	holder    *config.Holder
	prefs     prefsListener
	favorites favoriteReconciler
	statePath string
	env       config.EnvOverrides
	cli       config.CLIOverrides
	logger    *slog.Logger
	debounce  time.Duration
}

func newReloader(
	holder *config.Holder, prefs prefsListener, favorites favoriteReconciler,
	statePath string, env config.EnvOverrides, cli config.CLIOverrides, logger *slog.Logger,
) *reloader {
	return &reloader{
		holder:    holder,
		prefs:     prefs,
		favorites: favorites,
		statePath: statePath,
		env:       env,
		cli:       cli,
		logger:    logger,
		debounce:  reloadDebounce,
	}
}

// Run watches until ctx is canceled. Directories rather than files are
// watched so atomic replace-by-rename is seen.
func (r *reloader) Run(ctx context.Context, sighup <-chan os.Signal) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		r.logger.Warn("file watching unavailable, reload only on SIGHUP",
			slog.String("error", err.Error()),
		)

		return r.runSignalsOnly(ctx, sighup)
	}
	defer w.Close()

	cfgPath := r.holder.Path()

	for _, dir := range r.watchDirs(cfgPath) {
		if _, err := os.Stat(dir); err != nil {
			r.logger.Debug("not watching missing directory", slog.String("dir", dir))
			continue
		}

		if err := w.Add(dir); err != nil {
			r.logger.Warn("cannot watch directory",
				slog.String("dir", dir),
				slog.String("error", err.Error()),
			)
		}
	}

	var cfgDue, dbDue debounceTimer

	for {
		select {
		case <-ctx.Done():
			cfgDue.stop()
			dbDue.stop()

			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}

			switch {
			case cfgPath != "" && filepath.Clean(ev.Name) == filepath.Clean(cfgPath):
				cfgDue.arm(r.debounce)
			case r.isStateFile(ev.Name):
				dbDue.arm(r.debounce)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}

			r.logger.Warn("file watcher error", slog.String("error", err.Error()))

		case <-sighup:
			r.logger.Info("SIGHUP received, reloading")
			r.reloadConfig()
			r.reconcile(ctx)

		case <-cfgDue.c:
			cfgDue.fired()
			r.reloadConfig()

		case <-dbDue.c:
			dbDue.fired()
			r.reconcile(ctx)
		}
	}
}

func (r *reloader) runSignalsOnly(ctx context.Context, sighup <-chan os.Signal) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sighup:
			r.reloadConfig()
			r.reconcile(ctx)
		}
	}
}

func (r *reloader) watchDirs(cfgPath string) []string {
	var dirs []string

	if cfgPath != "" {
		dirs = append(dirs, filepath.Dir(cfgPath))
	}

	if r.statePath != "" {
		stateDir := filepath.Dir(r.statePath)
		if len(dirs) == 0 || dirs[0] != stateDir {
			dirs = append(dirs, stateDir)
		}
	}

	return dirs
}

// isStateFile matches the database and its -wal/-shm companions.
func (r *reloader) isStateFile(name string) bool {
	if r.statePath == "" {
		return false
	}

	return strings.HasPrefix(filepath.Clean(name), filepath.Clean(r.statePath))
}

// reloadConfig re-reads the config file. An invalid file keeps the running
// config.
func (r *reloader) reloadConfig() {
	path := r.holder.Path()
	if path == "" {
		return
	}

	cfg, err := config.LoadOrDefault(path, r.logger)
	if err != nil {
		r.logger.Warn("config reload failed, keeping current config",
			slog.String("error", err.Error()),
		)

		return
	}

	config.ApplyOverrides(cfg, r.env, r.cli)

	if err := config.Validate(cfg); err != nil {
		r.logger.Warn("reloaded config invalid, keeping current config",
			slog.String("error", err.Error()),
		)

		return
	}

	old := r.holder.Config()
	r.holder.Update(cfg)

	if old.Listen != cfg.Listen {
		r.logger.Warn("listen address changed; restart the daemon to apply",
			slog.String("listen", cfg.Listen),
		)
	}

	r.logger.Info("config reloaded", slog.String("path", path))
	r.prefs.PreferencesChanged()
}

func (r *reloader) reconcile(ctx context.Context) {
	if err := r.favorites.Reconcile(ctx); err != nil && ctx.Err() == nil {
		r.logger.Warn("favorites reconcile failed", slog.String("error", err.Error()))
	}
}

// debounceTimer is a restartable timer whose channel is nil while idle, so
// it can sit in a select unconditionally.
type debounceTimer struct {
	t *time.Timer
	c <-chan time.Time
}

func (d *debounceTimer) arm(after time.Duration) {
	if d.t == nil {
		d.t = time.NewTimer(after)
	} else {
		d.t.Reset(after)
	}

	d.c = d.t.C
}

func (d *debounceTimer) fired() {
	d.c = nil
}

func (d *debounceTimer) stop() {
	if d.t != nil {
		d.t.Stop()
	}
}

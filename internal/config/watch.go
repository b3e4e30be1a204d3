package config

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const watchDebounce = 300 * time.Millisecond

// Watch re-reads the config file whenever it changes and hands every
// successfully parsed config to onChange. Events are debounced so editors
// that write in multiple steps trigger a single reload; files that fail to
// parse are logged and dropped, keeping the previous config in effect.
//
// The directory (not the file) is watched so atomic rename-style saves are
// still observed. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, log zerolog.Logger, onChange func(Config)) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	log.Debug().Str("dir", dir).Str("file", base).Msg("config watcher started")

	var timer *time.Timer
	reload := make(chan struct{}, 1)
	debounce := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(watchDebounce, func() {
			select {
			case reload <- struct{}{}:
			default:
			}
		})
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			// Compare by basename; editors and atomic saves rename around the
			// target path.
			if strings.EqualFold(filepath.Base(ev.Name), base) &&
				ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Chmod) != 0 {
				debounce()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Str("dir", dir).Msg("config watch error")
		case <-reload:
			cfg, err := Load(path)
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("config reload rejected")
				continue
			}
			log.Info().Str("path", path).Msg("config reloaded")
			onChange(cfg)
		}
	}
}

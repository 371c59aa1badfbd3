package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"dmvwatch/pkg/logx"
)

// Watch reloads the config document when the file changes and hands each
// successfully parsed result to onChange. Parse failures are logged and
// skipped; the previous config stays in effect.
//
// The parent directory is watched (not the file itself) so editors that
// replace the file via rename keep triggering events.
func Watch(ctx context.Context, path string, log logx.Logger, onChange func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		return err
	}

	target := filepath.Clean(path)

	// Debounce: editors often emit several writes per save.
	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(250*time.Millisecond, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watch error", logx.Err(err))

		case <-fire:
			cfg, err := Load(path)
			if err != nil {
				log.Warn("config reload skipped", logx.Err(err))
				continue
			}
			cfg.ApplyEnvOverrides()
			log.Info("config reloaded", logx.String("path", path))
			onChange(cfg)
		}
	}
}

package main

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"tickdefer/internal/sched"
)

// reloadDebounce absorbs the burst of events editors emit on save.
const reloadDebounce = 200 * time.Millisecond

// watchTimeScale reloads path on change and applies its time_scale to clock.
// Everything else in the file only takes effect on restart.
func watchTimeScale(ctx context.Context, path string, clock *sched.TickClock, log zerolog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// watch the directory so rename-on-save editors keep working
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return err
	}

	target := filepath.Clean(path)
	go func() {
		defer w.Close()

		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(reloadDebounce)
				} else {
					timer.Reset(reloadDebounce)
				}
				fire = timer.C
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("config watch error")
			case <-fire:
				fire = nil
				applyTimeScale(path, clock, log)
			}
		}
	}()
	return nil
}

func applyTimeScale(path string, clock *sched.TickClock, log zerolog.Logger) {
	cfg, err := sched.Load(path)
	if err != nil {
		log.Warn().Err(err).Msg("config reload rejected")
		return
	}
	prev := clock.TimeScale()
	if prev == cfg.TimeScale {
		return
	}
	clock.SetTimeScale(cfg.TimeScale)
	log.Info().
		Float64("from", prev).
		Float64("to", cfg.TimeScale).
		Msg("time scale changed")
}

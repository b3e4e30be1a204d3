// Package app wires config, logging, storage, the gateway client, the
// dispatcher and the HTTP API into one process.
package app

import (
	"context"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"

	"sigsched/internal/api"
	"sigsched/internal/config"
	"sigsched/internal/dispatch"
	"sigsched/internal/gateway"
	"sigsched/internal/logging"
	"sigsched/internal/storage"
)

type App struct {
	cfgPath string
	cfg     config.Config

	logsvc *logging.Service
	log    zerolog.Logger
	store  storage.Store
	api    *api.Server
	runner *dispatch.Runner

	cancelBG context.CancelFunc
	bg       sync.WaitGroup
	httpErr  chan error
}

func New(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	logsvc, err := logging.New(logging.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logging.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if err != nil {
		return nil, err
	}
	log := logsvc.Logger()

	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: cfg.Storage.BusyTimeoutDuration(),
	}, log.With().Str("component", "storage").Logger())
	if err != nil {
		_ = logsvc.Close()
		return nil, err
	}

	gw := gateway.New(gateway.Config{
		URL:     cfg.Gateway.URL,
		Number:  cfg.Gateway.Number,
		Timeout: cfg.Gateway.TimeoutDuration(),
	}, log.With().Str("component", "gateway").Logger())

	disp := dispatch.New(
		dispatch.Config{RatePerSec: cfg.Dispatch.RatePerSec},
		store, gw,
		log.With().Str("component", "dispatch").Logger(),
	)
	runner, err := dispatch.NewRunner(disp, cfg.Dispatch.Cron, log.With().Str("component", "dispatch").Logger())
	if err != nil {
		_ = store.Close()
		_ = logsvc.Close()
		return nil, err
	}

	srv := api.New(api.Config{
		Listen:     cfg.Listen,
		UploadsDir: cfg.Uploads.Dir,
	}, store, gw, log.With().Str("component", "api").Logger())

	return &App{
		cfgPath: cfgPath,
		cfg:     cfg,
		logsvc:  logsvc,
		log:     log,
		store:   store,
		api:     srv,
		runner:  runner,
		httpErr: make(chan error, 1),
	}, nil
}

// Start brings the process up: HTTP API, dispatch runner (including its
// immediate catch-up tick), config watcher and systemd notifications.
func (a *App) Start(ctx context.Context) error {
	bgCtx, cancel := context.WithCancel(ctx)
	a.cancelBG = cancel

	a.api.Start(a.httpErr)
	a.runner.Start(ctx)

	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		// Only the log level is live-reloadable; everything else is fixed at
		// process start.
		err := config.Watch(bgCtx, a.cfgPath, a.log.With().Str("component", "config").Logger(), func(cfg config.Config) {
			a.logsvc.SetLevel(cfg.Logging.Level)
		})
		if err != nil {
			a.log.Warn().Err(err).Msg("config watcher unavailable")
		}
	}()

	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		select {
		case err := <-a.httpErr:
			a.log.Error().Err(err).Msg("http server failed")
		case <-bgCtx.Done():
		}
	}()

	a.notifySystemd(bgCtx)
	a.log.Info().Msg("signal scheduler started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if a.cancelBG != nil {
		a.cancelBG()
	}
	a.runner.Stop()
	if err := a.api.Shutdown(ctx); err != nil {
		a.log.Warn().Err(err).Msg("http shutdown error")
	}
	a.bg.Wait()

	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("storage close error")
	}
	a.log.Info().Msg("signal scheduler stopped")
	return a.logsvc.Close()
}

// notifySystemd reports readiness and, when the unit configures one, feeds
// the systemd watchdog. No-op outside systemd.
func (a *App) notifySystemd(ctx context.Context) {
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn().Err(err).Msg("sd_notify failed")
	} else if ok {
		a.log.Debug().Msg("systemd notified ready")
	}

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}()
}

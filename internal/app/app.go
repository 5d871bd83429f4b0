// Package app wires configuration, logging, storage, the session
// supervisor, the dispatch pipeline and the HTTP API into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wablast/internal/config"
	"wablast/internal/dispatch"
	"wablast/internal/eventbus"
	"wablast/internal/httpapi"
	"wablast/internal/runtime/supervisor"
	"wablast/internal/schedule"
	"wablast/internal/session"
	"wablast/internal/storage"
	"wablast/internal/whatsapp"
	logx "wablast/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store  storage.Store
	client *whatsapp.Client
	sess   *session.Supervisor
	disp   *dispatch.Service
	api    *httpapi.Server
	sched  *schedule.Service
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", cfgPath, err)
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	var store storage.Store
	if cfg.Storage != nil {
		st, err := storage.Open(storage.Config{
			Path:        cfg.Storage.Path,
			BusyTimeout: cfg.Storage.ResolvedBusyTimeout(),
		}, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, fmt.Errorf("opening history store: %w", err)
		}
		store = st
		log.Info("pass history enabled", logx.String("path", cfg.Storage.Path))
	}

	client := whatsapp.New(whatsapp.Config{
		StorePath: cfg.Session.ResolvedStorePath(),
	}, log.With(logx.String("comp", "whatsapp")))

	sess := session.New(session.Config{
		ReconnectBase: cfg.Session.ResolvedReconnectBase(),
		ReconnectCap:  cfg.Session.ResolvedReconnectCap(),
		MaxAttempts:   cfg.Session.ResolvedMaxAttempts(),
		SendTimeout:   cfg.Session.ResolvedSendTimeout(),
		ProbeText:     cfg.Session.ProbeText,
	}, client, log.With(logx.String("comp", "session")), bus)

	var rec dispatch.Recorder
	if store != nil {
		rec = store
	}
	disp := dispatch.New(mapDispatchConfig(cfg), sess,
		log.With(logx.String("comp", "dispatch")), bus, rec)

	var hist httpapi.History
	if store != nil {
		hist = store
	}
	a := &App{
		cfgm:   cfgm,
		log:    log,
		logs:   logSvc,
		bus:    bus,
		store:  store,
		client: client,
		sess:   sess,
		disp:   disp,
	}

	a.api = httpapi.New(httpapi.Config{
		Addr:              cfg.Server.ResolvedAddr(),
		ReadTimeout:       durationOrZero("server.read_timeout", cfg.Server.ReadTimeout),
		WriteTimeout:      durationOrZero("server.write_timeout", cfg.Server.WriteTimeout),
		IdleTimeout:       durationOrZero("server.idle_timeout", cfg.Server.IdleTimeout),
		MaxUploadBytes:    cfg.Uploads.ResolvedMaxBytes(),
		StaticDir:         cfg.Server.StaticDir,
		ImagePath:         cfg.Message.ImagePath,
		FallbackImagePath: cfg.Message.FallbackImagePath,
	}, log.With(logx.String("comp", "http")), sess, disp, passStarter{a}, hist)

	if cfg.Schedule != nil && cfg.Schedule.Enabled {
		a.sched = schedule.New(schedule.Config{
			Spec:     cfg.Schedule.Spec,
			Timezone: cfg.Schedule.Timezone,
		}, passStarter{a}, log.With(logx.String("comp", "schedule")))
		if err := a.sched.Validate(); err != nil {
			return nil, err
		}
	}

	return a, nil
}

// passStarter lets the HTTP and cron triggers share one entry point into
// the dispatch pipeline, bound to the app lifetime rather than a request.
type passStarter struct{ a *App }

func (p passStarter) Start() error {
	ctx := context.Background()
	if p.a.sup != nil {
		ctx = p.a.sup.Context()
	}
	return p.a.disp.Start(ctx)
}

// Done is closed when the app supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		if cfg.Schedule != nil && cfg.Schedule.Enabled {
			probe := schedule.New(schedule.Config{
				Spec:     cfg.Schedule.Spec,
				Timezone: cfg.Schedule.Timezone,
			}, nil, logx.Nop())
			if err := probe.Validate(); err != nil {
				return err
			}
		}
		return nil
	})

	a.sup.GoRestart("config.watch", a.cfgm.Watch)
	a.sup.Go("config.reload", a.reloadLoop)
	a.sup.Go("session", a.sess.Run)
	a.sup.Go("http", a.api.Run)
	if a.sched != nil {
		a.sup.Go("schedule", a.sched.Run)
	}
	a.sup.Go0("eventbus.log", a.eventLogLoop)

	a.log.Info("started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	err := a.sup.Stop(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		a.log.Warn("shutdown timed out; exiting anyway")
	}

	_ = a.client.Close()
	if a.store != nil {
		_ = a.store.Close()
	}
	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

// reloadLoop applies hot-reloadable sections of a published config:
// logging sinks/levels and the dispatch pass settings. Server address,
// session policy and schedule changes need a restart.
func (a *App) reloadLoop(ctx context.Context) error {
	sub := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(sub)

	prev := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cfg, ok := <-sub:
			if !ok {
				return nil
			}
			changed, attrs := config.SummarizeChange(prev, cfg)
			if len(changed) == 0 {
				continue
			}
			a.log.Info("config reloaded", append(attrs, logx.Any("sections", changed))...)

			a.logs.Apply(mapLogConfig(cfg))
			a.disp.Apply(mapDispatchConfig(cfg))
			prev = cfg
		}
	}
}

// eventLogLoop mirrors bus traffic into the debug log.
func (a *App) eventLogLoop(ctx context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Alerts: logx.AlertConfig{
			Enabled:    cfg.Logging.Alerts.Enabled,
			Token:      cfg.Logging.Alerts.Token,
			ChatID:     cfg.Logging.Alerts.ChatID,
			MinLevel:   cfg.Logging.Alerts.MinLevel,
			RatePerSec: cfg.Logging.Alerts.RatePerSec,
		},
	}
}

func mapDispatchConfig(cfg *config.Config) dispatch.Config {
	return dispatch.Config{
		Template:          cfg.Message.Template,
		ImagePath:         cfg.Message.ImagePath,
		FallbackImagePath: cfg.Message.FallbackImagePath,
		MessageDelay:      cfg.Message.ResolvedDelay(),
		RetryAttempts:     cfg.Message.ResolvedRetryAttempts(),
	}
}

func durationOrZero(path, raw string) time.Duration {
	d, err := config.DurationField(path, raw)
	if err != nil {
		return 0
	}
	return d
}

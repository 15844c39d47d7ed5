// Package app wires the rig together: config, logging, persistence,
// the task engine, the sensor service, and the status API.
package app

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"aquarig/internal/api"
	"aquarig/internal/cloud"
	"aquarig/internal/config"
	"aquarig/internal/eventbus"
	"aquarig/internal/history"
	"aquarig/internal/observability/pprof"
	"aquarig/internal/runtime/supervisor"
	"aquarig/internal/sched"
	"aquarig/internal/sensor"
	"aquarig/internal/tasks"
	"aquarig/pkg/logx"
)

// Default pacing for the built-in tasks when the config omits them.
const (
	defaultSensorInterval    = 5 * time.Minute
	defaultHeartbeatInterval = 30 * time.Second
	defaultUploadInterval    = time.Hour
	defaultFeederInterval    = 10 * time.Minute
	defaultFeedInterval      = time.Minute
	defaultCleanupInterval   = 24 * time.Hour
)

type App struct {
	cfgPath string
	cfgm    *config.Manager

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store  history.Store
	cloud  *cloud.Client
	sensor *sensor.Service
	engine *sched.Engine
	api    *api.Server
	pprof  *pprof.Service
	rec    *history.Recorder

	sup *supervisor.Supervisor

	stopOnce sync.Once
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	hcfg, err := mapHistoryConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := history.Open(hcfg, log.With(logx.String("comp", "history")))
	if err != nil {
		return nil, err
	}
	if store != nil {
		log.Info("history enabled", logx.String("driver", hcfg.Driver))
	}

	ccfg, err := mapCloudConfig(cfg)
	if err != nil {
		return nil, err
	}
	cloudClient := cloud.New(ccfg, log.With(logx.String("comp", "cloud")))

	scfg, err := mapSensorConfig(cfg)
	if err != nil {
		return nil, err
	}
	sensorSvc := sensor.New(scfg, sensor.NewSimSampler(), store,
		log.With(logx.String("comp", "sensor")))

	ecfg, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	engine := sched.New(ecfg, log.With(logx.String("comp", "engine")), bus)

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		cloud:   cloudClient,
		sensor:  sensorSvc,
		engine:  engine,
	}

	if cfg.API.Enabled {
		a.api = api.NewServer(api.Config{Addr: cfg.API.Addr}, engine, store,
			log.With(logx.String("comp", "api")))
	}
	if store != nil {
		a.rec = history.NewRecorder(store, log.With(logx.String("comp", "recorder")))
	}
	a.pprof = pprof.New(mapPprofConfig(cfg), log)

	if err := a.registerTasks(cfg); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) registerTasks(cfg *config.Config) error {
	add := func(t sched.Task, every time.Duration) error {
		rule, err := sched.NewInterval(every)
		if err != nil {
			return err
		}
		return a.engine.Add(t, rule)
	}

	if cfg.Tasks.Sensor.On(true) {
		every, err := taskInterval("sensor", cfg.Tasks.Sensor, defaultSensorInterval)
		if err != nil {
			return err
		}
		if err := add(tasks.NewSensor(a.sensor, 2*every, a.log), every); err != nil {
			return err
		}
	}

	if cfg.Tasks.Heartbeat.On(true) {
		every, err := taskInterval("heartbeat", cfg.Tasks.Heartbeat, defaultHeartbeatInterval)
		if err != nil {
			return err
		}
		if err := add(tasks.NewHeartbeat(rigID(), a.cloud, a.sensor), every); err != nil {
			return err
		}
	}

	if cfg.Tasks.Upload.On(true) {
		every, err := taskInterval("upload", cfg.Tasks.Upload.TaskConfig, defaultUploadInterval)
		if err != nil {
			return err
		}
		dirs := []tasks.UploadDir{tasks.SensorUploadDir(a.sensor.DataDir())}
		if err := add(tasks.NewUpload(a.cloud, dirs, cfg.Tasks.Upload.Days, a.log), every); err != nil {
			return err
		}
	}

	if cfg.Tasks.FeederStatus.On(false) {
		every, err := taskInterval("feeder_status", cfg.Tasks.FeederStatus.TaskConfig, defaultFeederInterval)
		if err != nil {
			return err
		}
		if err := add(tasks.NewFeederStatus(a.cloud, cfg.Tasks.FeederStatus.Device, a.log), every); err != nil {
			return err
		}
	}

	if cfg.Tasks.Feed.On(false) {
		every, err := taskInterval("feed", cfg.Tasks.Feed.TaskConfig, defaultFeedInterval)
		if err != nil {
			return err
		}
		feed := tasks.NewFeed(a.cloud, cfg.Tasks.Feed.Device, cfg.Tasks.Feed.Times, cfg.Tasks.Feed.Portions, a.log)
		if err := add(feed, every); err != nil {
			return err
		}
	}

	if cfg.Tasks.Cleanup.On(true) {
		every, err := taskInterval("cleanup", cfg.Tasks.Cleanup.TaskConfig, defaultCleanupInterval)
		if err != nil {
			return err
		}
		cleanup := tasks.NewCleanup([]string{a.sensor.DataDir()}, cfg.Tasks.Cleanup.RetentionDays, a.log)
		if err := add(cleanup, every); err != nil {
			return err
		}
	}

	// Pet the watchdog at half the systemd timeout; skipped entirely
	// when the unit has no WatchdogSec.
	if interval, err := daemon.SdWatchdogEnabled(false); err == nil && interval > 0 {
		if err := add(tasks.NewWatchdog(a.log), interval/2); err != nil {
			return err
		}
	}
	return nil
}

// Engine exposes the task engine for diagnostics and tests.
func (a *App) Engine() *sched.Engine { return a.engine }

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	if err := a.sensor.Start(a.sup.Context()); err != nil {
		return err
	}
	a.engine.Start(a.sup.Context())

	if a.rec != nil {
		bus := a.bus
		a.sup.Go("history.recorder", func(c context.Context) error {
			return a.rec.Run(c, bus)
		})
	}

	if a.api != nil {
		a.sup.Go("api.serve", func(c context.Context) error {
			return a.api.Start()
		})
		a.sup.Go0("api.shutdown", func(c context.Context) {
			<-c.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = a.api.Shutdown(sctx)
		})
	}

	if a.pprof.Enabled() {
		a.pprof.Start(a.sup.Context())
	}

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyReload(newCfg)
			}
		}
	})

	// Debug-level event feed for diagnosing scheduling behavior.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err == nil && sent {
		a.log.Debug("systemd notified ready")
	}
	a.log.Info("rig started")
	return nil
}

// applyReload applies the hot-reloadable parts of a validated config.
// Engine, history, and cloud settings need a restart.
func (a *App) applyReload(cfg *config.Config) {
	a.logs.Apply(mapLogConfig(cfg))
	a.log.Info("logging config applied", logx.String("level", cfg.Log.Level))
	a.log.Debug("engine, history, and cloud config changes take effect on restart")
	a.bus.Publish(eventbus.Event{Type: "config.reloaded", Time: time.Now()})
}

func (a *App) Stop(ctx context.Context) error {
	var firstErr error
	a.stopOnce.Do(func() {
		_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
		a.log.Info("rig stopping")

		a.engine.Stop(ctx)
		a.pprof.Stop(ctx)

		if a.sup != nil {
			if err := a.sup.Stop(ctx); err != nil && firstErr == nil {
				firstErr = err
			}
			if st := a.sup.Stats(); st.Active > 0 {
				a.log.Warn("goroutines still active after stop", logx.Any("active", st.Active))
			}
		}
		// Engine stop hooks already stop the sensor service; this is a
		// no-op then, but covers tasks.sensor being disabled in config.
		if err := a.sensor.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		if a.store != nil {
			if err := a.store.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if n := a.bus.Dropped(); n > 0 {
			a.log.Warn("event bus dropped events", logx.Any("count", n))
		}
		_ = a.logs.Close()
	})
	return firstErr
}

func rigID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "aquarig"
}

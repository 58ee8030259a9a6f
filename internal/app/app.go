// Package app wires the bot together and routes inbound events to the
// session, access, delivery and broadcast components.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"tunebot/internal/access"
	"tunebot/internal/artifact"
	"tunebot/internal/broadcast"
	"tunebot/internal/config"
	"tunebot/internal/delivery"
	"tunebot/internal/directory"
	"tunebot/internal/resolver/ytdlp"
	"tunebot/internal/session"
	"tunebot/internal/transport"
	telegram "tunebot/internal/transport/telegram"
	logx "tunebot/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	logs *logx.Service
	log  logx.Logger

	adapter  transport.Adapter
	sessions *session.Store
	dir      directory.Directory
	arts     *artifact.Store
	engine   *ytdlp.Engine
	gate     *access.Gate
	coord    *delivery.Coordinator
	bcast    *broadcast.Engine
	router   *router
	sweeper  *cron.Cron

	adminID int64

	// prompt bookkeeping knobs, hot-reloadable
	promptMu  sync.Mutex
	promptTTL time.Duration
	promptCap int

	updates chan transport.Update
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(logs.Logger().With(logx.String("comp", "config")))

	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: config.DurationField(cfg.Telegram.PollTimeout, 10*time.Second),
	}, logs.Logger().With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	dir, err := directory.Open(directory.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: config.DurationField(cfg.Storage.BusyTimeout, 0),
	}, logs.Logger().With(logx.String("comp", "directory")))
	if err != nil {
		return nil, err
	}

	arts, err := artifact.NewStore(cfg.Artifact.Dir, logs.Logger().With(logx.String("comp", "artifact")))
	if err != nil {
		_ = dir.Close()
		return nil, err
	}

	engine := ytdlp.New(ytdlp.Config{
		Binary:          cfg.Resolver.Binary,
		Limit:           cfg.Search.Limit,
		SearchTimeout:   config.DurationField(cfg.Resolver.SearchTimeout, 0),
		DownloadTimeout: config.DurationField(cfg.Resolver.DownloadTimeout, 0),
	}, arts, logs.Logger().With(logx.String("comp", "resolver")))

	policy, _ := access.ParsePolicy(cfg.Access.FailPolicy)
	gate := access.New(access.Config{
		Channel: cfg.Access.Channel,
		Policy:  policy,
	}, adapter, logs.Logger().With(logx.String("comp", "access")))

	sessions := session.NewStore()
	coord := delivery.New(engine, adapter, sessions, logs.Logger().With(logx.String("comp", "delivery")))

	bcast := broadcast.New(broadcast.Config{
		AdminID:   cfg.Admin.UserID,
		SendDelay: config.DurationField(cfg.Broadcast.SendDelay, 200*time.Millisecond),
	}, dir, adapter, logs.Logger().With(logx.String("comp", "broadcast")))

	a := &App{
		cfgm:      cfgm,
		logs:      logs,
		log:       log,
		adapter:   adapter,
		sessions:  sessions,
		dir:       dir,
		arts:      arts,
		engine:    engine,
		gate:      gate,
		coord:     coord,
		bcast:     bcast,
		adminID:   cfg.Admin.UserID,
		promptTTL: config.DurationField(cfg.Access.PromptTTL, 0),
		promptCap: cfg.Access.PromptCap,
		updates:   make(chan transport.Update, 256),
	}
	a.router = newRouter(a.handleUpdate)

	orphanMaxAge := config.DurationField(cfg.Artifact.OrphanMaxAge, 2*time.Hour)
	a.sweeper = cron.New()
	if _, err := a.sweeper.AddFunc(cfg.Artifact.SweepSchedule, func() {
		arts.SweepOrphans(orphanMaxAge)
	}); err != nil {
		_ = dir.Close()
		return nil, fmt.Errorf("artifact.sweep_schedule: %w", err)
	}

	return a, nil
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		cancel()
		return err
	}

	// Pump: fan inbound events into per-session-key FIFO workers.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case up := <-a.updates:
				key, ok := sessionKey(up)
				if !ok {
					continue
				}
				a.router.dispatch(runCtx, key, up)
			}
		}
	}()

	// Config hot reload.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(runCtx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()
	sub := a.cfgm.Subscribe(1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-runCtx.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(cfg)
			}
		}
	}()

	a.sweeper.Start()
	a.log.Info("started", logx.Int64("admin_id", a.adminID))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	<-a.sweeper.Stop().Done()
	_ = a.adapter.Stop(ctx)

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		a.router.wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	case <-time.After(10 * time.Second):
		a.log.Warn("shutdown timed out waiting for workers")
	}

	err := a.dir.Close()
	_ = a.logs.Close()
	return err
}

// applyConfig re-applies hot-reloadable knobs. Token, admin identity and
// storage backend require a restart.
func (a *App) applyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	a.logs.SetLevel(cfg.Logging.Level)

	policy, _ := access.ParsePolicy(cfg.Access.FailPolicy)
	a.gate.Apply(access.Config{Channel: cfg.Access.Channel, Policy: policy})

	a.bcast.Apply(config.DurationField(cfg.Broadcast.SendDelay, 200*time.Millisecond))

	a.engine.Apply(ytdlp.Config{
		Binary:          cfg.Resolver.Binary,
		Limit:           cfg.Search.Limit,
		SearchTimeout:   config.DurationField(cfg.Resolver.SearchTimeout, 0),
		DownloadTimeout: config.DurationField(cfg.Resolver.DownloadTimeout, 0),
	})

	a.promptMu.Lock()
	a.promptTTL = config.DurationField(cfg.Access.PromptTTL, 0)
	a.promptCap = cfg.Access.PromptCap
	a.promptMu.Unlock()

	if cfg.Admin.UserID != a.adminID {
		a.log.Warn("admin.user_id changed in config; restart required to take effect")
	}
	a.log.Info("config applied")
}

func (a *App) promptLimits() (time.Duration, int) {
	a.promptMu.Lock()
	defer a.promptMu.Unlock()
	return a.promptTTL, a.promptCap
}

func sessionKey(up transport.Update) (session.Key, bool) {
	switch up.Kind {
	case transport.UpdateMessage:
		if up.Message == nil {
			return session.Key{}, false
		}
		return session.Key{UserID: up.Message.FromID, ChatID: up.Message.ChatID}, true
	case transport.UpdateCallback:
		if up.Callback == nil {
			return session.Key{}, false
		}
		return session.Key{UserID: up.Callback.FromID, ChatID: up.Callback.ChatID}, true
	default:
		return session.Key{}, false
	}
}

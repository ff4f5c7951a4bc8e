package app

import (
	"context"

	"github.com/mvilaca/parley/internal/attach"
	"github.com/mvilaca/parley/internal/bus"
	"github.com/mvilaca/parley/internal/config"
	"github.com/mvilaca/parley/internal/convo"
	"github.com/mvilaca/parley/internal/lock"
	"github.com/mvilaca/parley/internal/logging"
	"github.com/mvilaca/parley/internal/rest"
	"github.com/mvilaca/parley/internal/session"
	"github.com/mvilaca/parley/internal/transport"
	"github.com/mvilaca/parley/internal/tui"
	"github.com/mvilaca/parley/internal/typing"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module returns the fx module for the client, composing all providers
// and lifecycle hooks.
func Module() fx.Option {
	return fx.Module("parley",
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideMachine,
			provideSession,
			provideLock,
			provideTransport,
			provideREST,
			providePreparer,
			provideTracker,
			provideStore,
			provideApp,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	if err := session.EnsureDirs(); err != nil {
		return nil, err
	}
	return config.Load(session.ConfigPath())
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(session.LogPath(), cfg.LogToStderr)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideMachine(b *bus.Bus) *session.Machine {
	return session.NewMachine(b)
}

func provideSession(machine *session.Machine) *session.Session {
	return session.New(machine)
}

func provideLock(logger *zap.Logger) (*lock.Lock, error) {
	l, err := lock.Acquire(session.LockPath())
	if err != nil {
		return nil, err
	}
	logger.Info("instance lock acquired", zap.String("path", session.LockPath()))
	return l, nil
}

func provideTransport(cfg *config.Config, b *bus.Bus, machine *session.Machine, logger *zap.Logger) *transport.Session {
	return transport.New(cfg.WebsocketURL(), cfg.AckTimeout, b, machine, logger)
}

func provideREST(cfg *config.Config, logger *zap.Logger) *rest.Client {
	return rest.New(cfg.ServerURL, logger)
}

func providePreparer(logger *zap.Logger) *attach.Preparer {
	return attach.NewPreparer(logger)
}

func provideTracker(t *transport.Session, b *bus.Bus, logger *zap.Logger) *typing.Tracker {
	return typing.NewTracker(t, b, logger)
}

func provideStore(t *transport.Session, b *bus.Bus, sess *session.Session, tracker *typing.Tracker, logger *zap.Logger) *convo.Store {
	return convo.NewStore(t, b, sess, tracker, logger)
}

func provideApp(cfg *config.Config, logger *zap.Logger, b *bus.Bus, sess *session.Session, t *transport.Session, r *rest.Client, store *convo.Store, tracker *typing.Tracker, preparer *attach.Preparer) *tui.App {
	return tui.NewApp(tui.Deps{
		Config:    cfg,
		Logger:    logger,
		Bus:       b,
		Session:   sess,
		Transport: t,
		REST:      r,
		Store:     store,
		Typing:    tracker,
		Preparer:  preparer,
	})
}

func registerLifecycle(lc fx.Lifecycle, store *convo.Store, t *transport.Session, tracker *typing.Tracker, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			store.Start(context.Background())
			return nil
		},
		OnStop: func(_ context.Context) error {
			store.Stop()
			tracker.Reset()
			t.Close()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("client stopped")
			_ = logger.Sync()
			return nil
		},
	})
}

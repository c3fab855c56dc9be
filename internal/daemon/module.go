package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/lcastillo/vitrina/internal/api"
	"github.com/lcastillo/vitrina/internal/config"
	"github.com/lcastillo/vitrina/internal/feed"
	"github.com/lcastillo/vitrina/internal/lock"
	"github.com/lcastillo/vitrina/internal/logging"
	"github.com/lcastillo/vitrina/internal/notify"
	"github.com/lcastillo/vitrina/internal/paths"
	"github.com/lcastillo/vitrina/internal/store"
)

// Params holds the resolved runtime configuration passed to the fx module.
type Params struct {
	Config *config.Config
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideFeed,
			provideLock,
			provideStore,
			provideDispatcher,
			provideAPI,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(paths.LogPath(p.Config.DataDir), p.Config.DataDir)
}

func provideFeed() *feed.Feed {
	return feed.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := paths.EnsureDir(p.Config.DataDir); err != nil {
		return nil, err
	}
	logger.Info("acquiring data dir lock", zap.String("data_dir", p.Config.DataDir))
	l, err := lock.Acquire(p.Config.DataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("data dir lock acquired")
	return l, nil
}

func provideStore(p Params, f *feed.Feed, logger *zap.Logger) (*store.DB, error) {
	dbPath := paths.DBPath(p.Config.DataDir)
	db, err := store.Open(dbPath, f)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

// provideDispatcher picks Telegram when a bot token is configured; otherwise
// notifications go to the structured log.
func provideDispatcher(p Params, db *store.DB, logger *zap.Logger) (notify.Dispatcher, error) {
	if p.Config.Telegram.Token != "" {
		d, err := notify.NewTelegramDispatcher(p.Config.Telegram.Token, db, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("telegram dispatcher enabled")
		return d, nil
	}
	logger.Info("no telegram token, using log dispatcher")
	return notify.NewLogDispatcher(logger), nil
}

func provideAPI(db *store.DB, dispatcher notify.Dispatcher, logger *zap.Logger) *api.Server {
	return api.NewServer(db, dispatcher, logger.Named("api"))
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, apiSrv *api.Server, lk *lock.Lock, db *store.DB, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			apiSrv.Close()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

// Package daemon composes the profile's components into one fx app:
// config, store, transport, directories, keys, and the session and
// router that tie them together.
package daemon

import (
	"context"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/tapchat/tapd/internal/bus"
	"github.com/tapchat/tapd/internal/config"
	"github.com/tapchat/tapd/internal/delivery"
	"github.com/tapchat/tapd/internal/directory"
	"github.com/tapchat/tapd/internal/keyvault"
	"github.com/tapchat/tapd/internal/lock"
	"github.com/tapchat/tapd/internal/logging"
	"github.com/tapchat/tapd/internal/notify"
	"github.com/tapchat/tapd/internal/profile"
	"github.com/tapchat/tapd/internal/router"
	"github.com/tapchat/tapd/internal/session"
	"github.com/tapchat/tapd/internal/store"
	"github.com/tapchat/tapd/internal/wire"
	"github.com/tapchat/tapd/internal/worker"
)

const (
	poolShards = 8
	poolDepth  = 256
)

// Params holds the resolved profile passed to the fx module.
type Params struct {
	Profile string
}

// Module returns the fx module for the daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideStorage,
			provideBroker,
			provideKeyDirectory,
			provideProfileDirectory,
			provideVault,
			provideWire,
			provideLifecycleState,
			providePolicy,
			provideTracker,
			provideLiveness,
			providePool,
			provideManager,
			provideRouter,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	return config.Load(profile.ConfigPath(p.Profile))
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.Profile)
	db, err := store.Open(dbPath)
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

func provideStorage(db *store.DB) store.Storage {
	return db
}

// provideBroker is the directory connection. It reconnects on its own;
// the session link has its own connection with session-managed
// reconnect semantics.
func provideBroker(cfg *config.Config, logger *zap.Logger) (*nats.Conn, error) {
	return nats.Connect(cfg.ServerURL,
		nats.Name("tapd-directory/"+cfg.Identity),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("directory link lost", zap.Error(err))
		}),
		nats.ReconnectHandler(func(*nats.Conn) {
			logger.Info("directory link restored")
		}),
	)
}

func provideKeyDirectory(nc *nats.Conn, logger *zap.Logger) directory.KeyDirectory {
	return directory.NewNATSKeys(nc, logger)
}

func provideProfileDirectory(nc *nats.Conn) directory.ProfileDirectory {
	return directory.NewNATSProfiles(nc)
}

func provideVault(p Params, cfg *config.Config, keys directory.KeyDirectory,
	db store.Storage, logger *zap.Logger) (*keyvault.Vault, error) {
	v := keyvault.New(cfg.Identity, profile.KeyPath(p.Profile), keys, db, logger)
	if err := v.EnsureKeyPair(); err != nil {
		return nil, err
	}
	return v, nil
}

func provideWire(cfg *config.Config, logger *zap.Logger) wire.Client {
	return wire.NewConn(cfg.ServerURL, cfg.Identity, logger)
}

func provideLifecycleState() *notify.Lifecycle {
	return notify.NewLifecycle()
}

func providePolicy(cfg *config.Config, db store.Storage, life *notify.Lifecycle,
	b *bus.Bus, logger *zap.Logger) *notify.Policy {
	return notify.NewPolicy(cfg, db, life, b, logger)
}

func provideTracker(db store.Storage, b *bus.Bus, logger *zap.Logger) *delivery.Tracker {
	return delivery.NewTracker(db, b, logger)
}

func provideLiveness(db store.Storage, b *bus.Bus, logger *zap.Logger) *delivery.Liveness {
	return delivery.NewLiveness(db, b, logger)
}

func providePool(logger *zap.Logger) *worker.Pool {
	return worker.NewPool(poolShards, poolDepth, logger)
}

func provideManager(cfg *config.Config, client wire.Client, db store.Storage,
	vault *keyvault.Vault, profiles directory.ProfileDirectory,
	b *bus.Bus, logger *zap.Logger) *session.Manager {
	return session.NewManager(cfg, client, db, vault, profiles, b, logger)
}

func provideRouter(cfg *config.Config, client wire.Client, db store.Storage,
	vault *keyvault.Vault, tracker *delivery.Tracker, liveness *delivery.Liveness,
	policy *notify.Policy, pool *worker.Pool, b *bus.Bus, logger *zap.Logger) *router.Router {
	return router.New(cfg, client, db, vault, tracker, liveness, policy, pool, b, logger)
}

// startup brings the session online: connect quietly, replay the
// offline queue, announce, rejoin rooms. Transport failures retry with
// the configured fixed-delay policy; auth refusal stops the attempts.
func startup(ctx context.Context, cfg *config.Config, mgr *session.Manager,
	rtr *router.Router, logger *zap.Logger) {
	delay := time.Duration(cfg.ReconnectDelaySeconds) * time.Second
	for attempt := 1; ; attempt++ {
		err := connectAndReplay(ctx, mgr, rtr, logger)
		if err == nil {
			return
		}
		if errors.Is(err, wire.ErrAuthFailed) {
			logger.Error("startup refused, credentials invalid", zap.Error(err))
			return
		}
		if max := cfg.ReconnectMaxAttempts; max > 0 && attempt >= max {
			logger.Error("startup attempts exhausted", zap.Int("attempts", max))
			return
		}
		logger.Warn("startup failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// connectAndReplay is one startup attempt. The offline queue drains
// before the account looks online.
func connectAndReplay(ctx context.Context, mgr *session.Manager,
	rtr *router.Router, logger *zap.Logger) error {
	if err := mgr.ConnectForReplay(ctx); err != nil {
		return err
	}
	if err := rtr.ReplayOffline(ctx); err != nil {
		logger.Warn("offline replay failed", zap.Error(err))
	}
	if err := mgr.GoOnline(ctx); err != nil {
		return err
	}
	if err := rtr.JoinAll(ctx); err != nil {
		logger.Warn("room rejoin failed", zap.Error(err))
	}
	return nil
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, nc *nats.Conn, cfg *config.Config,
	mgr *session.Manager, rtr *router.Router, pool *worker.Pool,
	client wire.Client, db *store.DB, logger *zap.Logger) {
	runCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			pool.Start()
			mgr.SetHandler(rtr)
			go func() {
				if err := mgr.Run(runCtx); err != nil {
					logger.Error("event loop stopped", zap.Error(err))
				}
			}()
			go startup(runCtx, cfg, mgr, rtr, logger)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			_ = rtr.Typist().Shutdown(ctx)
			if err := mgr.Disconnect(ctx); err != nil {
				logger.Warn("disconnect failed", zap.Error(err))
			}
			pool.Stop()
			nc.Close()
			if err := db.Close(); err != nil {
				logger.Warn("store close failed", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

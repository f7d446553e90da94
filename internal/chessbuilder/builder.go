package chessbuilder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	corechess "github.com/park285/cheese-board/internal/chess"
	"github.com/park285/cheese-board/internal/chess/openingbook"
	"github.com/park285/cheese-board/internal/chess/rules"
	"github.com/park285/cheese-board/internal/chess/uci"
	"github.com/park285/cheese-board/internal/config"
	"github.com/park285/cheese-board/internal/service/game"
)

// Deps is everything serve needs, built from one AppConfig.
type Deps struct {
	Service *game.Service
	Pool    *uci.Pool
	Store   game.SnapshotStore
	Repo    game.Repository

	rdb *redis.Client
	db  *sql.DB
}

// New builds the service graph. Redis, Postgres and the engine are optional:
// without them sessions stay in memory, the archive is in memory and the
// automated side plays random legal moves.
func New(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Deps{}
	ok := false
	defer func() {
		if !ok {
			d.Close()
		}
	}()

	if cfg.Engine.HasEngine() {
		pool, err := NewPool(cfg.Engine, logger)
		if err != nil {
			return nil, err
		}
		d.Pool = pool
	} else {
		logger.Warn("engine_not_configured", zap.String("fallback", "random legal moves"))
	}

	if url := strings.TrimSpace(cfg.Redis.URL); url != "" {
		rdb, err := game.DialRedis(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("init redis: %w", err)
		}
		d.rdb = rdb
		d.Store = game.NewRedisStore(rdb, cfg.Redis.SessionTTL)
	}

	if url := strings.TrimSpace(cfg.Database.URL); url != "" {
		db, err := game.OpenPostgres(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("init postgres: %w", err)
		}
		d.db = db
		d.Repo = game.NewRepository(db)
	} else {
		d.Repo = game.NewMemoryRepository()
	}

	book, err := openingbook.Open(cfg.Play.BookPath)
	if err != nil {
		return nil, fmt.Errorf("open opening book: %w", err)
	}

	svcCfg := game.Config{
		TickInterval:  cfg.Play.TickInterval,
		AnalysisLevel: cfg.Engine.AnalysisLevel,
		AnalysisDepth: cfg.Engine.AnalysisDepth,
		PGNSite:       cfg.Play.PGNSite,
		Coordinator: corechess.CoordinatorConfig{
			MinDelay:   cfg.Play.MinDelay,
			MaxDelay:   cfg.Play.MaxDelay,
			MoveBudget: cfg.Play.MoveBudget,
			HintBudget: cfg.Play.HintBudget,
			Humanize:   cfg.Play.Humanize,
		},
	}
	if book != nil {
		svcCfg.Coordinator.Book = book
	}

	var engines game.EnginePool
	if d.Pool != nil {
		engines = d.Pool
	}
	var store game.SnapshotStore
	if d.Store != nil {
		store = d.Store
	}
	svc, err := game.NewService(rules.NewBoardOracle(), engines, store, d.Repo, svcCfg, logger)
	if err != nil {
		return nil, err
	}
	d.Service = svc

	logger.Info("chess_deps_ready",
		zap.Bool("engine", d.Pool != nil),
		zap.Bool("redis", d.rdb != nil),
		zap.Bool("postgres", d.db != nil),
		zap.Bool("book", book != nil),
	)
	ok = true
	return d, nil
}

// NewPool builds an engine pool over the configured transport.
func NewPool(cfg config.EngineConfig, logger *zap.Logger) (*uci.Pool, error) {
	pool, err := uci.NewPool(uci.PoolConfig{
		Dialer: Dialer(cfg),
		Bridge: uci.Config{
			StartupTimeout: cfg.StartupTimeout,
			Grace:          cfg.Grace,
			Threads:        cfg.Threads,
			HashMB:         cfg.HashMB,
			EvalDepth:      cfg.EvalDepth,
			Logger:         logger,
		},
		PerLevelCapacity: cfg.PoolSize,
	})
	if err != nil {
		return nil, fmt.Errorf("init engine pool: %w", err)
	}
	return pool, nil
}

// Dialer picks the websocket transport when a URL is set, else the local binary.
func Dialer(cfg config.EngineConfig) uci.Dialer {
	if url := strings.TrimSpace(cfg.URL); url != "" {
		var header http.Header
		if token := strings.TrimSpace(cfg.Token); token != "" {
			header = http.Header{"Authorization": []string{"Bearer " + token}}
		}
		return uci.WebSocketDialer(url, header)
	}
	return uci.ProcessDialer(cfg.Path, cfg.Args...)
}

// Close stops the service (keeping snapshots) and releases the backends.
func (d *Deps) Close() error {
	if d == nil {
		return nil
	}
	if d.Service != nil {
		d.Service.Shutdown()
	}
	var errs []error
	if d.Pool != nil {
		errs = append(errs, d.Pool.Close())
	}
	if d.rdb != nil {
		errs = append(errs, d.rdb.Close())
	}
	if d.db != nil {
		errs = append(errs, d.db.Close())
	}
	return errors.Join(errs...)
}

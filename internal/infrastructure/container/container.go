package container

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"pricehub/internal/application/port"
	"pricehub/internal/infrastructure/config"
	"pricehub/internal/infrastructure/storage"
	pgrepo "pricehub/internal/infrastructure/storage/postgres"
	redisrepo "pricehub/internal/infrastructure/storage/redis"
	sqliterepo "pricehub/internal/infrastructure/storage/sqlite"
)

// Container 持有存储层依赖：告警仓储 + 可选 Redis
type Container struct {
	cfg         *config.Config
	store       port.AlertStore
	redisClient *redis.Client
	redisRepo   *redisrepo.Repo
	closeOnce   sync.Once
	closerChain []func() error
}

// New 按配置初始化存储层，失败时清理已初始化的资源
func New(ctx context.Context, cfg *config.Config) (*Container, error) {
	c := &Container{
		cfg:         cfg,
		closerChain: make([]func() error, 0),
	}

	if err := c.initStore(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("alert store init failed: %w", err)
	}
	if cfg.Redis.Enabled {
		if err := c.initRedis(ctx); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("redis init failed: %w", err)
		}
	}
	return c, nil
}

// initStore 根据 storage.driver 选择告警仓储
func (c *Container) initStore() error {
	var (
		store port.AlertStore
		err   error
	)
	switch c.cfg.Storage.Driver {
	case config.DriverSQLite:
		store, err = sqliterepo.New(c.cfg.Storage.SQLite.Path)
	case config.DriverPostgres:
		store, err = pgrepo.New(c.cfg.Storage.Postgres.DSN, c.cfg.Storage.Postgres.MaxOpenConns)
	case config.DriverMemory, "":
		store = storage.NewInMemoryAlertStore()
	default:
		return fmt.Errorf("unknown storage driver %q", c.cfg.Storage.Driver)
	}
	if err != nil {
		return err
	}

	c.store = store
	c.closerChain = append(c.closerChain, func() error {
		log.Info().Str("driver", c.cfg.Storage.Driver).Msg("closing alert store")
		return store.Close()
	})

	log.Info().Str("driver", c.cfg.Storage.Driver).Msg("alert store initialized")
	return nil
}

// initRedis 初始化 Redis 连接
func (c *Container) initRedis(ctx context.Context) error {
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.cfg.Redis.Addr,
		Password: c.cfg.Redis.Password,
		DB:       c.cfg.Redis.DB,
	})

	// 测试连接
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("redis ping failed: %w", err)
	}

	c.redisClient = rdb
	c.redisRepo = redisrepo.New(
		rdb,
		c.cfg.Redis.Prefix,
		c.cfg.RedisTTL(),
		c.cfg.Redis.TriggerStream,
		c.cfg.Redis.TriggerChannel,
	)

	// 注册关闭回调
	c.closerChain = append(c.closerChain, func() error {
		log.Info().Msg("closing redis connection")
		return rdb.Close()
	})

	log.Info().
		Str("addr", c.cfg.Redis.Addr).
		Int("db", c.cfg.Redis.DB).
		Msg("redis initialized")
	return nil
}

func (c *Container) Store() port.AlertStore { return c.store }

// RedisRepo 获取 Redis 仓储，未启用时为 nil
func (c *Container) RedisRepo() *redisrepo.Repo { return c.redisRepo }

// Close 关闭所有资源（按后进先出顺序）
func (c *Container) Close() error {
	var err error
	c.closeOnce.Do(func() {
		for i := len(c.closerChain) - 1; i >= 0; i-- {
			if e := c.closerChain[i](); e != nil {
				log.Error().Err(e).Msg("error closing resource")
				if err == nil {
					err = e
				}
			}
		}
		log.Info().Msg("container closed")
	})
	return err
}

package svc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"pricehub/internal/application/port"
	"pricehub/internal/application/service"
	"pricehub/internal/infrastructure/config"
	"pricehub/internal/infrastructure/container"
	"pricehub/internal/infrastructure/pricefeed"
	"pricehub/internal/infrastructure/storage/composite"
	"pricehub/internal/infrastructure/websocket"
	"pricehub/internal/interfaces/console"
	"pricehub/internal/interfaces/httpapi"
	"pricehub/internal/interfaces/ws"
)

type ServiceContext struct {
	Config *config.Config

	// 基础设施层（第一层初始化）
	container *container.Container
	Connector *websocket.Connector

	// 共享状态
	Cache       *service.PriceCache
	Registry    *service.SubscriptionRegistry
	Distributor *service.TickDistributor

	// 消费者
	Hub          *ws.Hub
	Engine       *service.AlertEngine  // nil when alerts are disabled
	PriceService *service.PriceService // nil when redis is disabled
	Status       *service.StatusService
	HTTP         *httpapi.Server

	hubQueue    *service.TickQueue
	engineQueue *service.TickQueue
}

// New 创建并初始化 ServiceContext
// 这是应用启动的唯一入口点，所有依赖初始化都在这里完成
func New(ctx context.Context, cfg *config.Config) (*ServiceContext, error) {
	codec, err := pricefeed.New(cfg.Upstream.Exchange)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoUpstreamCodec, cfg.Upstream.Exchange)
	}

	c, err := container.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageInitFailed, err)
	}

	sc := &ServiceContext{
		Config:    cfg,
		container: c,
		Cache:     service.NewPriceCache(),
		Registry:  service.NewSubscriptionRegistry(),
	}
	sc.Distributor = service.NewTickDistributor(sc.Cache)

	// 队列必须在行情开始流动之前注册
	sc.hubQueue = sc.Distributor.Subscribe("hub", 1024, cfg.Alerts.QueueCapacity)
	if cfg.Alerts.Enabled {
		sc.engineQueue = sc.Distributor.Subscribe("alert-engine", 1024, cfg.Alerts.QueueCapacity)
	}

	sc.Connector = websocket.NewConnector(connectorConfig(cfg), codec, sc.Distributor, sc.Registry)
	sc.Registry.Attach(sc.Connector)
	if len(cfg.Upstream.Symbols) > 0 {
		sc.Registry.Acquire(service.HolderConfig, cfg.Upstream.Symbols)
	}

	sc.Hub = ws.NewHub(hubConfig(cfg), sc.Registry, sc.Cache)

	if cfg.Alerts.Enabled {
		sc.Engine = sc.buildEngine()
	}
	if repo := c.RedisRepo(); repo != nil {
		sc.PriceService = service.NewPriceService(sc.Cache, composite.NewMirror(repo))
	}

	sc.Status = service.NewStatusService(sc.Connector, sc.Registry, sc.Cache)
	sc.Status.Register("upstream", func() any { return sc.Connector.Stats() })
	sc.Status.Register("hub", func() any { return sc.Hub.Stats() })
	sc.Status.Register("queues", func() any { return sc.Distributor.QueueStats() })
	sc.Status.Register("holders", func() any { return sc.Registry.HolderCount() })
	if sc.Engine != nil {
		sc.Status.Register("alert_engine", func() any { return sc.Engine.Stats() })
	}

	sc.HTTP = httpapi.NewServer(httpapi.Deps{
		Addr:   cfg.HTTP.Addr,
		WsPath: cfg.HTTP.WsPath,
		Hub:    sc.Hub,
		Status: sc.Status,
		Prices: sc.Cache,
	})

	log.Info().
		Str("exchange", codec.Name()).
		Str("storage", cfg.Storage.Driver).
		Bool("alerts", cfg.Alerts.Enabled).
		Bool("redis", cfg.Redis.Enabled).
		Strs("seed_symbols", cfg.Upstream.Symbols).
		Msg("service context initialized")
	return sc, nil
}

// buildEngine 组装告警引擎：仓储（可带缓存）+ 触发事件下游
func (sc *ServiceContext) buildEngine() *service.AlertEngine {
	cfg := sc.Config

	var repo port.AlertRepository = sc.container.Store()
	if ttl := cfg.AlertCacheTTL(); ttl > 0 {
		repo = service.NewCachedAlertRepository(repo, ttl)
	}

	var redisSink port.TriggerSink
	if r := sc.container.RedisRepo(); r != nil {
		redisSink = r
	}
	sink := composite.NewSink(redisSink, sc.buildDispatcher())

	return service.NewAlertEngine(service.AlertEngineConfig{
		Workers:            cfg.Alerts.Workers,
		WorkerBuffer:       256,
		SymbolSyncInterval: cfg.SymbolSyncInterval(),
	}, repo, sink, sc.Registry)
}

func (sc *ServiceContext) buildDispatcher() *service.NotificationDispatcher {
	cfg := sc.Config
	notifiers := make([]port.Notifier, 0, len(cfg.Notify.Channels))
	for _, ch := range cfg.Notify.Channels {
		ch = strings.ToLower(strings.TrimSpace(ch))
		if ch == "" {
			continue
		}
		switch r := sc.container.RedisRepo(); {
		case ch == console.Channel:
			notifiers = append(notifiers, console.NewNotifier(os.Stdout))
		case r != nil && ch == r.Notifier().Channel():
			notifiers = append(notifiers, r.Notifier())
		default:
			notifiers = append(notifiers, service.NewLogNotifier(ch))
		}
	}
	gate := service.NewMutedUsersGate(cfg.Notify.MutedUserIDs, service.AllowAllGate{})
	return service.NewNotificationDispatcher(gate, notifiers...)
}

// Store exposes the alert store for seeding tools and tests.
func (sc *ServiceContext) Store() port.AlertStore { return sc.container.Store() }

// Handler is the HTTP surface without a listener, for embedding and tests.
func (sc *ServiceContext) Handler() http.Handler { return sc.HTTP.Handler() }

// Run 启动所有组件，任一组件返回错误或 ctx 取消时整体退出
func (sc *ServiceContext) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := sc.Connector.Start(gctx)
		if err != nil {
			log.Error().Err(err).Msg("upstream connector stopped")
		}
		return err
	})
	g.Go(func() error { return sc.Hub.Run(gctx, sc.hubQueue) })
	if sc.Engine != nil {
		g.Go(func() error { return sc.Engine.Run(gctx, sc.engineQueue) })
	}
	if sc.PriceService != nil {
		g.Go(func() error { return sc.PriceService.Run(gctx, sc.Config.RedisSnapshotInterval()) })
	}
	g.Go(func() error { return sc.HTTP.Run(gctx, sc.Config.ShutdownTimeout()) })

	err := g.Wait()
	sc.Distributor.Close()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// Close 关闭 ServiceContext 中的所有资源
// 应该在 Run 返回之后调用
func (sc *ServiceContext) Close() error {
	sc.Distributor.Close()
	sc.Hub.Close()
	return sc.container.Close()
}

func connectorConfig(cfg *config.Config) websocket.Config {
	u := cfg.Upstream
	return websocket.Config{
		URL:          u.WsURL,
		DialTimeout:  time.Duration(u.DialTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(u.IdleTimeoutSec) * time.Second,
		PingInterval: time.Duration(u.PingIntervalSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
		Backoff: websocket.BackoffConfig{
			Base:   time.Duration(u.BackoffBaseMs) * time.Millisecond,
			Max:    time.Duration(u.BackoffMaxMs) * time.Millisecond,
			Factor: u.BackoffFactor,
			Jitter: u.BackoffJitter,
		},
		MaxAttempts: u.MaxAttempts,
	}
}

func hubConfig(cfg *config.Config) ws.Config {
	h := cfg.HTTP
	pong := time.Duration(h.PongWaitSec) * time.Second
	return ws.Config{
		OutboxSize:          h.OutboundQueueSize,
		MaxMessageBytes:     h.MaxMessageBytes,
		MaxSymbolsPerClient: h.MaxSymbolsPerClient,
		WriteTimeout:        time.Duration(h.WriteTimeoutSec) * time.Second,
		PongWait:            pong,
		PingPeriod:          pong * 9 / 10,
		SnapshotOnSubscribe: h.SnapshotOnSubscribe,
	}
}

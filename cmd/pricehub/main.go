package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"pricehub/internal/infrastructure/config"
	_ "pricehub/internal/infrastructure/exchange/binance"
	_ "pricehub/internal/infrastructure/exchange/bitget"
	_ "pricehub/internal/infrastructure/exchange/bybit"
	_ "pricehub/internal/infrastructure/exchange/okx"
	"pricehub/internal/infrastructure/logger"
	"pricehub/internal/infrastructure/svc"
)

func main() {
	configPath := flag.String("config", "configs/config.toml", "path to config.toml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Setup("info", "console")
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc, err := svc.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("service initialization failed")
	}

	log.Info().
		Str("config", *configPath).
		Str("addr", cfg.HTTP.Addr).
		Str("exchange", cfg.Upstream.Exchange).
		Int("seed_symbols", len(cfg.Upstream.Symbols)).
		Msg("pricehub started")

	runErr := sc.Run(ctx)
	if err := sc.Close(); err != nil {
		log.Error().Err(err).Msg("close failed")
	}
	if runErr != nil {
		log.Error().Err(runErr).Msg("pricehub exited")
		os.Exit(1)
	}
	log.Info().Msg("pricehub stopped")
}

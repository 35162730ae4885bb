package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"tokenbar/internal/infrastructure/config"
	"tokenbar/internal/infrastructure/logger"
	"tokenbar/internal/infrastructure/svc"
	"tokenbar/internal/interfaces/console"
)

func main() {
	configPath := flag.String("config", "configs/config.toml", "path to config.toml")
	flag.Parse()

	logger.Setup("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}
	logger.Setup(cfg.App.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc, err := svc.New(cfg, console.NewSink())
	if err != nil {
		log.Fatal().Err(err).Msg("init failed")
	}
	defer func() {
		if err := sc.Close(); err != nil {
			log.Error().Err(err).Msg("shutdown")
		}
	}()

	settings := cfg.UserSettings()
	log.Info().
		Str("config", *configPath).
		Int("tokens", len(cfg.Tokens.List)).
		Str("source", string(settings.DataSource)).
		Str("quote", settings.QuoteMode.Label()).
		Msg("tokenbar started")

	// 启动失败不退出：governor 记录错误，SIGHUP 可以重试
	if err := sc.Start(ctx); err != nil {
		log.Error().Err(err).Msg("start failed, waiting for reload")
	}

	done := make(chan error, 1)
	go func() { done <- sc.Monitor().Run(ctx) }()

	// SIGUSR1 进入后台，SIGUSR2 回到前台，SIGHUP 重新加载配置
	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigs)

	for {
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("monitor service exited")
			}
			return

		case sig := <-sigs:
			switch sig {
			case syscall.SIGUSR1:
				sc.Governor().EnterBackground()
			case syscall.SIGUSR2:
				sc.Governor().EnterForeground()
			case syscall.SIGHUP:
				next, err := config.Load(*configPath)
				if err != nil {
					log.Error().Err(err).Msg("reload config failed, keeping current")
					continue
				}
				logger.Setup(next.App.LogLevel)
				if err := sc.Reload(ctx, next); err != nil {
					log.Error().Err(err).Msg("apply reloaded config failed")
				}
			}
		}
	}
}

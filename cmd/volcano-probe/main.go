package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jay3332/volcano"
	"github.com/jay3332/volcano/config"
)

// probeClient satisfies volcano.Client without a real host application.
type probeClient struct{}

func (probeClient) UserID() string { return "volcano-probe" }

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && cfg.LogLevel != "" {
		zerolog.SetGlobalLevel(lvl)
	}
	if len(cfg.Nodes) == 0 {
		log.Fatal().Msg("no nodes configured")
	}

	pool := volcano.NewPool[volcano.Client]()
	for _, nc := range cfg.Nodes {
		node, err := pool.Start(ctx, probeClient{}, volcano.NodeConfig{
			Identifier:       nc.Identifier,
			Host:             nc.Host,
			Port:             nc.Port,
			Password:         nc.Password,
			Region:           nc.Region,
			Secure:           nc.Secure,
			Logger:           &log.Logger,
			ReconnectTries:   cfg.ReconnectTries,
			ReconnectMinWait: cfg.ReconnectMinWait,
			ReconnectMaxWait: cfg.ReconnectMaxWait,
		})
		if err != nil {
			log.Error().Err(err).Str("host", nc.Host).Int("port", nc.Port).Msg("node failed to start")
			continue
		}
		log.Info().Str("node", node.Identifier()).Str("region", node.Region()).Msg("node started")
	}

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutting down")
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			pool.Close(shutdownCtx)
			shutdownCancel()
			log.Info().Msg("pool closed")
			return
		case <-ticker.C:
			for _, node := range pool.Nodes() {
				stats, err := node.FetchStats(ctx)
				if err != nil {
					log.Warn().Err(err).Str("node", node.Identifier()).Msg("stats fetch failed")
					continue
				}
				log.Info().
					Str("node", node.Identifier()).
					Str("state", node.State().String()).
					Int("players", stats.Players).
					Int("playing", stats.PlayingPlayers).
					Float64("cpu", stats.CPU.SystemLoad).
					Msg("node stats")
			}
		}
	}
}

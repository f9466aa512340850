package main

import (
	"context"
	"log"

	"analysis/internal/chain"
	"analysis/internal/config"
	"analysis/internal/store"
	"analysis/internal/supervisor"
	"analysis/internal/tokenmeta"
)

func main() {
	cfg := config.MustLoad()

	st, err := store.Open(store.Options{
		DSN:         cfg.DatabaseURL,
		Automigrate: cfg.DatabaseAutomigrate,
	})
	if err != nil {
		log.Fatalf("[server] failed to open store: %v", err)
	}

	ch := chain.NewRPCClient(cfg.SolanaRPCURL, cfg.ChainMaxConcurrency)

	var redisTier *tokenmeta.RedisTier
	if cfg.RedisURL != "" {
		redisTier, err = tokenmeta.NewRedisTier(context.Background(), cfg.RedisURL)
		if err != nil {
			log.Fatalf("[server] failed to connect redis: %v", err)
		}
	}

	sup := supervisor.New(cfg, st, ch, redisTier)
	if err := sup.Run(context.Background()); err != nil {
		log.Fatalf("[server] %v", err)
	}
}

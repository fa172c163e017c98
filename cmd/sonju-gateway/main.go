// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rapidaai/sonju/internal/broker"
	"github.com/rapidaai/sonju/internal/config"
	"github.com/rapidaai/sonju/internal/registry"
	"github.com/rapidaai/sonju/internal/retrieval"
	"github.com/rapidaai/sonju/pkg/commons"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "sonju-gateway: failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := commons.NewZapLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sonju-gateway: failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	var mirror registry.Mirror
	if cfg.RedisAddr != "" {
		redisMirror := registry.NewRedisMirror(cfg.RedisAddr, logger)
		defer redisMirror.Close()
		mirror = redisMirror
	}
	reg := registry.New(mirror)

	retriever := retrieval.New(cfg.OpenAIAPIKey, cfg.SearchModel, cfg.VectorStoreID, logger)

	b := broker.New(cfg, reg, retriever, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: b.Engine(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("sonju-gateway: shutdown signal received")
		cancel()
	}()

	go func() {
		logger.Infow("sonju-gateway: listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("sonju-gateway: server error: %v", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("sonju-gateway: graceful shutdown failed: %v", err)
		os.Exit(1)
	}
	logger.Info("sonju-gateway: shutdown complete")
}

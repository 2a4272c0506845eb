// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package main wires the gateway's collaborators together: rule store,
// matcher, relays, limiter, shell router, request log, control plane, and
// the KV adapter backing persistence. Orchestration and shutdown ordering
// follow etalazz-vsa's cmd/ratelimiter-api/main.go: start background
// workers, start the HTTP server in a goroutine, block on a signal, then
// tear down workers before the server.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"gatewayd/internal/api"
	"gatewayd/internal/config"
	"gatewayd/internal/gateway"
	"gatewayd/internal/kv"
	"gatewayd/internal/ratelimit"
	"gatewayd/internal/reqlog"
	"gatewayd/internal/rules"
	"gatewayd/internal/shell"
	"gatewayd/internal/snapshot"
	"gatewayd/pkg/pool"
)

func main() {
	configPath := flag.String("config", "", "Path to the gateway's YAML configuration file")
	logLevel := flag.String("log-level", "info", "Zerolog level: debug, info, warn, error")
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	var store kv.Store
	if cfg.RedisAddr != "" {
		store = kv.NewRedis(cfg.RedisAddr, "gateway")
	} else {
		store = kv.NewMem()
	}

	ruleStore := rules.NewStore(cfg.Rules, store)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ruleStore.Load(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to load dynamic rules from KV")
	}
	cancel()

	limiter, err := ratelimit.New(ratelimit.Config{
		Requests:     cfg.RateLimit.Requests,
		Window:       cfg.WindowDuration(),
		KeyBy:        cfg.RateLimit.KeyBy,
		ExcludePaths: cfg.RateLimit.ExcludePaths,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build rate limiter")
	}

	cleanupWorker := ratelimit.NewWorker(limiter, time.Minute, cfg.WindowDuration())
	cleanupWorker.Start()

	snapshotter := snapshot.New(limiter, store, time.Second)
	snapshotter.Start()

	shellRouter := shell.New(cfg.ShellDir, cfg.APIBase, cfg.ShellExcludes, store)
	loadCtx, loadCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := shellRouter.Load(loadCtx); err != nil {
		log.Warn().Err(err).Msg("failed to load shell excludes from KV")
	}
	loadCancel()

	requestLog := reqlog.New(100)

	var shellPool pool.Pool
	if cfg.ShellDir != "" {
		shellPool = pool.NewHTTPPool(nil, map[string]string{cfg.ShellDir: "http://localhost:4173"})
	}

	gw := gateway.New(cfg, shellRouter, limiter, ruleStore, requestLog, shellPool)
	controlPlane := api.New(cfg, limiter, shellRouter, ruleStore, requestLog, store)

	mux := http.NewServeMux()
	mux.Handle(cfg.APIBase+"/", http.StripPrefix(cfg.APIBase, controlPlane.Mount()))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if !gw.ServeHTTP(w, r) {
			http.NotFound(w, r)
		}
	})

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("gateway listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("gateway server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")

	snapshotter.Stop()
	cleanupWorker.Stop()
	if closer, ok := store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close KV handle")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server shutdown failed")
	}

	log.Info().Msg("gateway stopped")
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arisuchan/chatroom/config"
	"github.com/arisuchan/chatroom/pkg/admin"
	"github.com/arisuchan/chatroom/pkg/ai"
	"github.com/arisuchan/chatroom/pkg/group"
	"github.com/arisuchan/chatroom/pkg/handler"
	"github.com/arisuchan/chatroom/pkg/metrics"
	"github.com/arisuchan/chatroom/pkg/protocol"
	"github.com/arisuchan/chatroom/pkg/server"
	"github.com/arisuchan/chatroom/pkg/session"
	"github.com/arisuchan/chatroom/pkg/store"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("initializing storage")
	st, err := store.New(ctx, cfg.Database.URL, cfg.Redis.URL, cfg.Auth.BcryptCost, logger)
	if err != nil {
		logger.Error("failed to connect to storage", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	st.SetBootstrapPasswords(cfg.Auth.AdminBootstrapPass, cfg.Auth.AIBootstrapPass)
	logger.Info("initializing database schema")
	if err := st.InitSchema(); err != nil {
		logger.Error("failed to initialize schema", "error", err)
		os.Exit(1)
	}

	blobs, err := store.NewLocalBlobStore(cfg.File.StorageRoot)
	if err != nil {
		logger.Error("failed to initialize file storage", "error", err)
		os.Exit(1)
	}

	metrics.Register(prometheus.DefaultRegisterer)
	go serveMetrics(logger)

	sessions := session.NewRegistry(st, logger)
	dispatcher := protocol.NewDispatcher(logger)
	srv := server.New(dispatcher, sessions, logger, server.Options{
		MaxConnections: cfg.Server.MaxConnections,
		ReadBufferSize: cfg.Server.ReadBufferSize,
	})

	groups := group.NewEngine(st, sessions, srv.Lookup, logger)
	adminEngine := admin.New(st, groups)

	var participant *ai.Participant
	if cfg.AI.Enabled {
		client, err := ai.NewClient(ai.Config{
			Provider: cfg.AI.Provider,
			BaseURL:  cfg.AI.BaseURL,
			APIKey:   cfg.AI.APIKey,
			Model:    cfg.AI.Model,
		})
		if err != nil {
			logger.Error("AI client init failed, continuing without AI participant", "error", err)
		} else {
			participant = ai.NewParticipant(client, st, groups, ai.Options{
				SystemPrompt:    cfg.AI.SystemPrompt,
				TriggerKeywords: cfg.AI.TriggerKeywords,
				HistoryWindow:   cfg.AI.HistoryWindow,
				WorkerPoolSize:  cfg.AI.WorkerPoolSize,
				QueueDepth:      cfg.AI.QueueDepth,
			}, logger)
		}
	}

	registrar := handler.NewRegistrar(st, sessions, groups, adminEngine, participant, handler.FileConfig{
		AllowedExtensions: cfg.File.AllowedExtensions,
		MaxSizeBytes:      cfg.File.MaxSizeBytes,
	}, blobs, logger)
	registrar.RegisterAll(dispatcher)

	go relaySyncEvents(st, logger)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	logger.Info("chatroom server starting", "addr", addr)
	if err := srv.ListenAndServe(ctx, addr); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func serveMetrics(logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(":9090", mux); err != nil {
		logger.Warn("metrics server stopped", "error", err)
	}
}

// relaySyncEvents drains the chat_sync channel that every instance's
// Group Engine publishes to after a local broadcast. This instance
// only logs the event; a horizontally-scaled deployment would extend
// this to re-dispatch ev.Message to any locally-held session in
// ev.GroupID, skipping events whose OriginPID is its own.
func relaySyncEvents(st *store.Store, logger *slog.Logger) {
	events, _ := st.SubscribeSync()
	for ev := range events {
		logger.Debug("cross-instance sync event", "group_id", ev.GroupID, "origin", ev.OriginPID)
	}
}

package main

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xaenox/agent0/internal/agent"
	"github.com/xaenox/agent0/internal/auth"
	"github.com/xaenox/agent0/internal/server"
	"github.com/xaenox/agent0/internal/session"
	"github.com/xaenox/agent0/internal/storage"
	"github.com/xaenox/agent0/pkg/config"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", "config.yaml"))
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)

	// Without identity provider settings the chat UI cannot work; serve the
	// configuration error instead.
	if err := cfg.Validate(); err != nil {
		if errors.Is(err, config.ErrMissingAuthConfig) {
			logger.Error("Identity provider not configured, serving configuration error page", zap.Error(err))
			if err := server.NewConfigErrorRouter(err).Run(addr); err != nil {
				logger.Fatal("Server error", zap.Error(err))
			}
			return
		}
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	// Initialize storage
	var store storage.ChatStore
	if cfg.Database.UseLocal {
		logger.Info("Using local storage", zap.String("data_dir", cfg.Database.DataDir))
		store, err = storage.NewLocalStore(cfg.Database.DataDir)
		if err != nil {
			logger.Fatal("Failed to initialize storage", zap.Error(err))
		}
	} else {
		logger.Info("Using PostgreSQL storage")
		dbConfig := storage.DatabaseConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
			UseLocal: cfg.Database.UseLocal,
		}
		store, err = storage.NewPostgresStore(dbConfig, logger)
		if err != nil {
			logger.Fatal("Failed to initialize storage", zap.Error(err))
		}
	}
	defer store.Close()

	// Initialize identity provider and agent API clients
	authClient := auth.NewClient(auth.Config{
		Domain:       cfg.Auth.Domain,
		ClientID:     cfg.Auth.ClientID,
		ClientSecret: cfg.Auth.ClientSecret,
		Audience:     cfg.Auth.Audience,
	}, logger)
	agentClient := agent.NewClient(cfg.Agent.Host, cfg.Agent.Path, logger)

	// In service mode the identity client acquires credentials itself;
	// otherwise each caller's bearer is forwarded to the agent API.
	var tokens auth.TokenSource
	if cfg.Auth.UseServiceToken {
		logger.Info("Using service credentials for agent calls")
		tokens = authClient
	}

	// Initialize session manager and HTTP server
	sessions := session.NewManager(store, agentClient, logger)
	srv := server.New(store, sessions, authClient, tokens, logger)

	logger.Info("Starting server", zap.String("addr", addr))
	if err := srv.Run(addr); err != nil {
		logger.Fatal("Server error", zap.Error(err))
	}
}

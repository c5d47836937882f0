// ABOUTME: Wires config, store, completion, tools, Matrix, and the operational server
// ABOUTME: Runs the sync loop and listeners until a shutdown signal

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"

	"github.com/YubinMoon/servant-bot/internal/bot"
	"github.com/YubinMoon/servant-bot/internal/completion"
	"github.com/YubinMoon/servant-bot/internal/config"
	"github.com/YubinMoon/servant-bot/internal/conversation"
	"github.com/YubinMoon/servant-bot/internal/delivery"
	"github.com/YubinMoon/servant-bot/internal/matrix"
	"github.com/YubinMoon/servant-bot/internal/server"
	"github.com/YubinMoon/servant-bot/internal/store"
	"github.com/YubinMoon/servant-bot/internal/telemetry"
	"github.com/YubinMoon/servant-bot/internal/tools"
)

func runServe(ctx context.Context) error {
	configPath := getConfigPath()
	dataPath := getDataPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	if err := os.MkdirAll(dataPath, 0o700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	logger := setupLogger(cfg.Logging.Level, os.Stderr)
	printStartup(configPath, cfg)

	tp, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     version,
		SampleRate:  cfg.Telemetry.SampleRate,
		Insecure:    cfg.Telemetry.Insecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("setting up telemetry: %w", err)
	}
	defer shutdownWithTimeout(logger, "telemetry", tp.Shutdown)

	kv, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	defer kv.Close()

	registry, err := tools.NewBuiltinRegistry(tools.Options{
		Enabled:  cfg.Tools.Enabled,
		Timezone: cfg.Tools.Timezone,
		Fetch: tools.FetchConfig{
			Timeout:  cfg.Tools.FetchTimeout,
			MaxBytes: cfg.Tools.FetchMaxBytes,
		},
	}, logger)
	if err != nil {
		return fmt.Errorf("creating tools: %w", err)
	}

	completer := completion.New(completion.Config{
		BaseURL:     cfg.Completion.BaseURL,
		APIKey:      cfg.Completion.APIKey,
		Model:       cfg.Completion.Model,
		Temperature: cfg.Completion.Temperature,
		Timeout:     cfg.Completion.Timeout,
	}, logger)

	service := conversation.New(
		conversation.NewLock(kv, cfg.Store.LockTTL, logger),
		conversation.NewHistory(kv, logger),
		completer,
		registry,
		conversation.Options{
			MaxRounds:   cfg.Completion.MaxRounds,
			Placeholder: cfg.Delivery.Placeholder,
		},
		logger,
	)

	client, err := matrix.NewClient(matrix.Config{
		Homeserver:  cfg.Matrix.Homeserver,
		UserID:      cfg.Matrix.UserID,
		AccessToken: cfg.Matrix.AccessToken,
		DeviceID:    cfg.Matrix.DeviceID,
	}, logger)
	if err != nil {
		return err
	}

	if cfg.Matrix.CryptoDB != "" {
		dbPath := cfg.Matrix.CryptoDB
		if !filepath.IsAbs(dbPath) {
			dbPath = filepath.Join(dataPath, dbPath)
		}
		crypto, err := client.EnableCrypto(ctx, matrix.CryptoConfig{
			DBPath:      dbPath,
			PickleKey:   cfg.Matrix.PickleKey,
			RecoveryKey: cfg.Matrix.RecoveryKey,
		})
		if err != nil {
			return fmt.Errorf("setting up encryption: %w", err)
		}
		defer crypto.Close()
	}

	b := bot.New(bot.Config{
		CommandPrefix: cfg.Bot.CommandPrefix,
		Scope:         cfg.Bot.HistoryScope,
		AllowedRooms:  cfg.Matrix.AllowedRooms,
		BusyNoticeTTL: cfg.Bot.BusyNoticeTTL,
		MaxFileBytes:  cfg.Bot.MaxFileBytes,
		Delivery: delivery.Config{
			Interval:  cfg.Delivery.Interval,
			MaxInline: cfg.Delivery.MaxInline,
		},
	}, client, service, logger)

	srv := server.New(server.Config{
		MetricsAddr: cfg.Server.MetricsAddr,
		HealthAddr:  cfg.Server.HealthAddr,
	}, logger)
	srv.AddCheck("store", kv.Ping)

	logger.Info("starting servant-bot",
		"config", configPath,
		"store", cfg.Store.Driver,
		"model", completer.Model(),
		"tools", registry.Names(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return client.Run(gctx, b.Handle, b.AllowRoom)
	})
	g.Go(func() error {
		return srv.Run(gctx)
	})

	err = g.Wait()
	logger.Info("waiting for in-flight answers")
	b.Wait()
	return err
}

func openStore(cfg config.StoreConfig) (store.KV, error) {
	dsn := cfg.Path
	if cfg.Driver == "redis" {
		dsn = cfg.URL
	}
	kv, err := store.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Driver, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := kv.Ping(ctx); err != nil {
		_ = kv.Close()
		return nil, fmt.Errorf("pinging %s store: %w", cfg.Driver, err)
	}
	return kv, nil
}

func printStartup(configPath string, cfg *config.Config) {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Homeserver: %s\n", cfg.Matrix.Homeserver)
	green.Print("    ▶ ")
	fmt.Printf("User:       %s\n", cfg.Matrix.UserID)
	green.Print("    ▶ ")
	fmt.Printf("Store:      %s\n", cfg.Store.Driver)
	green.Print("    ▶ ")
	fmt.Printf("Model:      %s\n", cfg.Completion.Model)
	if cfg.Matrix.CryptoDB != "" {
		green.Print("    ▶ ")
		fmt.Println("Encryption: enabled")
	}
	if len(cfg.Matrix.AllowedRooms) == 0 {
		yellow.Print("    ! ")
		fmt.Println("No allowed_rooms set: answering in every joined room")
	}
	fmt.Println()
}

func shutdownWithTimeout(logger *slog.Logger, name string, shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Warn("shutdown failed", "component", name, "error", err)
	}
}

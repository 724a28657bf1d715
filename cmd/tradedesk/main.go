package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"tradedesk/internal/catalog"
	"tradedesk/internal/channel"
	"tradedesk/internal/config"
	"tradedesk/internal/guard"
	"tradedesk/internal/history"
	"tradedesk/internal/httpapi"
	"tradedesk/internal/kvstore"
	"tradedesk/internal/mailer"
	"tradedesk/internal/orchestrator"
	"tradedesk/internal/orders"
	"tradedesk/internal/provider"
	"tradedesk/internal/rfq"
	"tradedesk/internal/sheets"
	"tradedesk/internal/tool"
	"tradedesk/internal/upload"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	// Local .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "tradedesk",
		Short: "tradedesk: AI assistant backend for a wholesale trading desk",
		Long:  "tradedesk fronts a model provider with chat, streaming, WhatsApp/Slack delivery, product catalog uploads, and RFQ quoting.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.tradedesk/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(followupsCmd())
	root.AddCommand(configCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(config.DefaultConfigDir(), 0o755); err != nil {
				return err
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long:  "Starts the chat API, webhooks, and operational endpoints. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger = newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer app.kv.Close()
	defer app.orders.Close()

	if cfg.Channels.Slack.Enabled {
		if err := app.slack.Connect(); err != nil {
			logger.Warn("slack auth failed at startup", "err", err)
		}
	}

	// Lazy TTL expiry on reads keeps the store correct; the purge loop just
	// keeps the file small.
	go purgeLoop(ctx, app.kv)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           app.api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server started", "addr", srv.Addr, "version", version)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown timed out, forcing exit")
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// app bundles everything runServe wires together.
type app struct {
	kv     *kvstore.SQLiteStore
	orders *orders.Store
	api    *httpapi.Server
	rfq    *rfq.Service
	slack  *channel.Slack
}

func buildApp(cfg *config.Config) (*app, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Store.DBPath), 0o755); err != nil {
		return nil, err
	}

	kv, err := kvstore.NewSQLiteStore(cfg.Store.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("kv store: %w", err)
	}

	ordersStore, err := orders.NewStore(cfg.Store.DBPath, logger)
	if err != nil {
		kv.Close()
		return nil, fmt.Errorf("orders store: %w", err)
	}

	catalogStore := catalog.NewStore(kv)
	uploads := upload.NewManager(kv)
	hist := history.NewStore(kv)

	sheetsClient := sheets.New(sheets.Config{
		WebhookURL: cfg.Sheets.WebhookURL,
		Token:      cfg.Sheets.Token,
		Logger:     logger,
	})
	mailClient := mailer.New(mailer.Config{
		APIKey:  cfg.Mailer.APIKey,
		APIBase: cfg.Mailer.APIBase,
		From:    cfg.Mailer.From,
		Logger:  logger,
	})

	rfqSvc := rfq.NewService(rfq.ServiceConfig{
		KV:      kv,
		Catalog: catalogStore,
		Mailer:  mailClient,
		Sheets:  sheetsClient,
		Logger:  logger,
	})

	gw := provider.NewGateway(provider.GatewayConfig{
		APIKey:  cfg.Gateway.APIKey,
		APIBase: cfg.Gateway.APIBase,
		Model:   cfg.Gateway.Model,
		Logger:  logger,
	})

	registry := tool.NewRegistry(logger)
	registry.Register(tool.NewWebSearchTool())
	registry.Register(tool.NewAnalyzeFileTool())
	registry.Register(tool.NewCatalogLookupTool(catalogStore, logger))
	registry.Register(tool.NewOrderLookupTool(ordersStore, logger))
	registry.Register(tool.NewProcessRfqTool(rfqSvc, logger))
	registry.Register(tool.NewSendRfqEmailTool(rfqSvc, logger))
	registry.Register(tool.NewUploadToSheetTool(uploads, sheetsClient, cfg.Upload.ConfirmationCode, logger))

	systemPrompt := orchestrator.DefaultSystemPrompt
	if cfg.General.SystemPromptExtra != "" {
		systemPrompt += "\n\n" + cfg.General.SystemPromptExtra
	}

	orch := orchestrator.New(orchestrator.Config{
		Provider:     gw,
		Tools:        registry,
		Preprocessor: orchestrator.NewPreprocessor(uploads, catalogStore, logger),
		SystemPrompt: systemPrompt,
		MaxSteps:     cfg.General.MaxSteps,
		Logger:       logger,
	})

	tz := cfg.Guard.Timezone
	if tz == "" {
		tz = cfg.General.Timezone
	}
	g, err := guard.New(guard.Config{
		APIKey:       cfg.Guard.APIKey,
		LimitedHosts: cfg.Guard.LimitedHosts,
		DailyLimit:   cfg.Guard.DailyLimit,
		Timezone:     tz,
	})
	if err != nil {
		kv.Close()
		ordersStore.Close()
		return nil, fmt.Errorf("guard: %w", err)
	}

	var wa *channel.WhatsApp
	if cfg.Channels.WhatsApp.Enabled {
		wa = channel.NewWhatsApp(cfg.Channels.WhatsApp, orch, hist, logger)
		logger.Info("whatsapp channel enabled", "webhook", cfg.Channels.WhatsApp.WebhookPath)
	}
	var sl *channel.Slack
	if cfg.Channels.Slack.Enabled {
		sl = channel.NewSlack(cfg.Channels.Slack, orch, hist, kv, logger)
		logger.Info("slack channel enabled", "webhook", cfg.Channels.Slack.WebhookPath)
	}

	api := httpapi.NewServer(httpapi.Deps{
		Config:   cfg,
		Orch:     orch,
		History:  hist,
		RFQ:      rfqSvc,
		Guard:    g,
		WhatsApp: wa,
		Slack:    sl,
		Logger:   logger,
	})

	return &app{kv: kv, orders: ordersStore, api: api, rfq: rfqSvc, slack: sl}, nil
}

func purgeLoop(ctx context.Context, kv *kvstore.SQLiteStore) {
	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := kv.PurgeExpired(ctx); err != nil {
				logger.Warn("kv purge failed", "err", err)
			} else if n > 0 {
				logger.Debug("kv purge", "removed", n)
			}
		}
	}
}

func followupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "followups",
		Short: "Run one follow-up reminder sweep and exit",
		Long:  "Sends due quote follow-up reminders. Intended for cron; safe to re-run within the same day.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger = newLogger(cfg)

			app, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer app.kv.Close()
			defer app.orders.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, err := app.rfq.SweepFollowups(ctx)
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(res, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. server.port)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. guard.dailyLimit 10)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.General.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	out := os.Stderr
	if cfg.General.LogFile != "" {
		f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			logger.Warn("cannot open log file, logging to stderr", "path", cfg.General.LogFile, "err", err)
		} else {
			out = f
		}
	}

	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"leadwire/internal/config"
	"leadwire/internal/provider"
	"leadwire/internal/store"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:     "leadwire",
		Short:   "leadwire: SMS delivery and conversation engine",
		Long:    "leadwire queues outbound SMS through carrier providers with failover, ingests delivery webhooks, and manages lead conversations.",
		Version: version,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.leadwire/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := configPath
			if cfgPath == "" {
				cfgPath = config.DefaultConfigPath()
			}
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			logger.Info("set carrier credentials via environment variables before starting", "example", "TWILIO_ACCOUNT_SID")
			return nil
		},
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check config, database and carrier health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false, "err", err)
				return err
			}
			logger.Info("config", "path", cfgPath, "loaded", true)

			st, err := store.NewSQLiteStore(cfg.General.DBPath, logger)
			if err != nil {
				logger.Error("database", "path", cfg.General.DBPath, "ok", false, "err", err)
				return err
			}
			defer st.Close()
			logger.Info("database", "path", cfg.General.DBPath, "ok", true)

			ctx := context.Background()
			for _, entry := range buildSelector(cfg, logger, nil).Entries() {
				err := entry.Provider.Healthy(ctx)
				logger.Info("carrier",
					"name", entry.Provider.Name(),
					"healthy", err == nil,
					"breaker", entry.Breaker.State(),
				)
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			masked := *cfg
			masked.Providers.Twilio.AuthToken = mask(cfg.Providers.Twilio.AuthToken)
			masked.Providers.Vonage.APISecret = mask(cfg.Providers.Vonage.APISecret)
			masked.Webhook.Secrets = map[string]string{}
			for k, v := range cfg.Webhook.Secrets {
				masked.Webhook.Secrets[k] = mask(v)
			}
			data, _ := json.MarshalIndent(masked, "", "  ")
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

func mask(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + "****" + s[len(s)-2:]
}

// buildSelector constructs the carrier adapters in the configured
// failover order, each behind its own breaker. onState, when non-nil,
// observes every breaker flip.
func buildSelector(cfg *config.Config, logger *slog.Logger, onState func(name string, from, to provider.BreakerState)) *provider.Selector {
	breakerCfg := provider.BreakerConfig{
		WindowSize:       cfg.Providers.Breaker.WindowSize,
		MinSamples:       cfg.Providers.Breaker.MinSamples,
		FailureThreshold: cfg.Providers.Breaker.FailureThreshold,
		ResetTimeout:     secondsToDuration(cfg.Providers.Breaker.ResetTimeoutSeconds),
		OnStateChange:    onState,
	}
	client := provider.SharedHTTPClient(secondsToDuration(cfg.Providers.TimeoutSeconds))

	var entries []provider.Entry
	for _, name := range cfg.Providers.Order {
		switch name {
		case "twilio":
			entries = append(entries, provider.Entry{
				Provider: provider.NewTwilio(provider.TwilioConfig{
					AccountSID: cfg.Providers.Twilio.AccountSID,
					AuthToken:  cfg.Providers.Twilio.AuthToken,
					From:       cfg.Providers.Twilio.From,
					APIBase:    cfg.Providers.Twilio.APIBase,
					Client:     client,
					Logger:     logger,
				}),
				Breaker: provider.NewBreaker("twilio", breakerCfg),
			})
		case "vonage":
			entries = append(entries, provider.Entry{
				Provider: provider.NewVonage(provider.VonageConfig{
					APIKey:    cfg.Providers.Vonage.APIKey,
					APISecret: cfg.Providers.Vonage.APISecret,
					From:      cfg.Providers.Vonage.From,
					APIBase:   cfg.Providers.Vonage.APIBase,
					Client:    client,
					Logger:    logger,
				}),
				Breaker: provider.NewBreaker("vonage", breakerCfg),
			})
		}
	}
	return provider.NewSelector(entries, logger)
}

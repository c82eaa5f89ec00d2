package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/BlackBearCC/crypto-agent/internal/analysts"
	"github.com/BlackBearCC/crypto-agent/internal/config"
	"github.com/BlackBearCC/crypto-agent/internal/controller"
	"github.com/BlackBearCC/crypto-agent/internal/llm"
	"github.com/BlackBearCC/crypto-agent/internal/logger"
	"github.com/BlackBearCC/crypto-agent/internal/market"
	"github.com/BlackBearCC/crypto-agent/internal/store"
	"github.com/BlackBearCC/crypto-agent/internal/telegram"
	"github.com/BlackBearCC/crypto-agent/internal/trading"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	// 1. Configuration and logging
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.Setup(cfg.Logging.File, cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups, cfg.Logging.Level)
	log.Info().
		Str("version", cfg.System.Version).
		Str("mode", cfg.System.Mode).
		Msg("crypto-agent starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Storage
	var st store.Store
	if cfg.Database.Enabled {
		pg, err := store.NewPostgres(ctx, store.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.Database,
			SSLMode:  cfg.Database.SSLMode,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres connect failed")
		}
		st = pg
	} else {
		st = store.NewMemory()
		log.Info().Msg("database disabled, using in-memory store")
	}
	defer st.Close()

	// 3. LLM providers and market/trading clients
	llmRegistry := buildLLMRegistry(cfg, log)
	collector := market.NewCollector(market.Config{
		FuturesBaseURL: cfg.Trading.BaseURL,
		KlinePeriod:    cfg.Kline.DefaultPeriod,
		KlineLimit:     cfg.Kline.FetchLimit,
	}, st, log)
	futures := trading.NewFuturesClient(
		os.Getenv(config.EnvBinanceKey),
		os.Getenv(config.EnvBinanceSecret),
		trading.Config{BaseURL: cfg.Trading.BaseURL, RecvWindow: cfg.Trading.RecvWindow},
		log,
	)

	// 4. Application core
	ctrl, err := controller.New(controller.Deps{
		Config:      cfg,
		Store:       st,
		Collector:   collector,
		Futures:     futures,
		Technical:   analysts.NewTechnical(llmRegistry.ForRole(analysts.RoleTechnical), cfg.Kline.DefaultPeriod),
		Sentiment:   analysts.NewMarket(llmRegistry.ForRole(analysts.RoleMarket)),
		Fundamental: analysts.NewFundamental(llmRegistry.ForRole(analysts.RoleFundamental)),
		Macro:       analysts.NewMacro(llmRegistry.ForRole(analysts.RoleMacro)),
		Chief:       analysts.NewChief(llmRegistry.ForRole(analysts.RoleChief)),
		Trader:      analysts.NewTrader(llmRegistry.ForRole(analysts.RoleTrader), futures, st),
		Brain:       llmRegistry.Default(),
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("controller init failed")
	}

	// 5. Telegram transport; the controller pushes through the bot, the bot
	// calls back into the controller.
	chatID, err := strconv.ParseInt(os.Getenv(config.EnvTelegramChat), 10, 64)
	if err != nil {
		log.Fatal().Err(err).Msg("TELEGRAM_CHAT_ID must be an integer chat id")
	}
	bot := telegram.NewBot(telegram.Config{
		Token:          os.Getenv(config.EnvTelegramToken),
		AuthChatID:     chatID,
		PollTimeoutSec: cfg.Telegram.PollTimeoutSec,
	}, ctrl, log)
	ctrl.SetNotifier(bot.Notify)

	// 6. Start: scheduler first, then the command listener.
	if err := ctrl.Start(); err != nil {
		log.Fatal().Err(err).Msg("controller start failed")
	}
	go bot.Run(ctx)
	if err := bot.Announce(ctx); err != nil {
		log.Warn().Err(err).Msg("startup announcement failed")
	}
	log.Info().Str("config", *configPath).Msg("crypto-agent running, waiting for commands")

	// 7. Graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutdown signal received")

	cancel()
	ctrl.Stop()
	log.Info().Msg("crypto-agent stopped")
}

// buildLLMRegistry constructs one HTTP client per configured provider whose
// API key is present in the environment, then binds analyst roles to
// providers. Providers without keys are skipped; role resolution falls back
// along registry rules.
func buildLLMRegistry(cfg *config.Config, log zerolog.Logger) *llm.Registry {
	clients := make(map[string]llm.Client, len(cfg.LLM.Providers))
	for name, p := range cfg.LLM.Providers {
		key := os.Getenv(p.APIKeyEnv)
		if key == "" {
			log.Warn().Str("provider", name).Str("env", p.APIKeyEnv).Msg("provider skipped, API key not set")
			continue
		}
		clients[name] = llm.NewHTTPClient(llm.ClientConfig{
			Kind:        p.Kind,
			BaseURL:     p.BaseURL,
			APIKey:      key,
			Model:       p.Model,
			MaxTokens:   p.MaxTokens,
			Temperature: p.Temperature,
			Timeout:     time.Duration(p.TimeoutSec) * time.Second,
		}, log)
		log.Info().Str("provider", name).Str("model", p.Model).Msg("LLM provider ready")
	}
	return llm.NewRegistry(clients, cfg.LLM.Analysts, cfg.LLM.DefaultProvider)
}

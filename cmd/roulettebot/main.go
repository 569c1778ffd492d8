package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/roulettebot/bot"
	"github.com/web3guy0/roulettebot/core"
	"github.com/web3guy0/roulettebot/internal/config"
	"github.com/web3guy0/roulettebot/risk"
	"github.com/web3guy0/roulettebot/session"
	"github.com/web3guy0/roulettebot/storage"
)

const version = "1.0.0"

func main() {
	// ═══════════════════════════════════════════════════════════════════════════════
	// BOOTSTRAP
	// ═══════════════════════════════════════════════════════════════════════════════

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found")
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().Msg("═══════════════════════════════════════════════════════════════")
	log.Info().Msgf("              ROULETTEBOT v%s", version)
	log.Info().Msg("═══════════════════════════════════════════════════════════════")

	stakes, err := cfg.StakeTable()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid stake table")
	}

	// ═══════════════════════════════════════════════════════════════════════════════
	// INITIALIZE COMPONENTS
	// ═══════════════════════════════════════════════════════════════════════════════

	var deps core.Deps

	// 1. Storage
	db, err := storage.New(cfg.DatabasePath)
	if err != nil {
		log.Warn().Err(err).Msg("Database unavailable, continuing without persistence")
	} else {
		deps.Store = db
		log.Info().Str("path", cfg.DatabasePath).Msg("✅ Storage layer initialized")
	}

	// 2. Credential authority
	deps.Authority = session.NewHTTPAuthority(cfg.AuthURL, cfg.AuthAPIKey, cfg.AuthRatePerSec)
	log.Info().Str("url", cfg.AuthURL).Msg("✅ Credential authority initialized")

	// 3. Telegram (optional)
	var tg *bot.TelegramBot
	if cfg.TelegramToken != "" {
		var history bot.History
		if db != nil {
			history = db
		}
		tg, err = bot.NewTelegramBot(cfg.TelegramToken, cfg.TelegramChatID, cfg.AccountID, stakes, history)
		if err != nil {
			log.Warn().Err(err).Msg("Telegram bot failed, continuing without notifications")
			tg = nil
		} else {
			deps.Notifier = tg
			log.Info().Msg("✅ Telegram notifier initialized")
		}
	}

	// 4. Engine registry
	base := core.Config{
		Mode:          cfg.Mode,
		GateStage:     cfg.GateStage - 1,
		GateThreshold: cfg.GateThreshold,
		MaxRejections: cfg.MaxRejections,
		Feed:          cfg.FeedConfig(),
		Session:       cfg.SessionConfig(),
	}
	registry := core.NewRegistry(base, deps, func(account string) (string, error) {
		if account != cfg.AccountID {
			return "", fmt.Errorf("%w: %s", core.ErrUnknownAccount, account)
		}
		return cfg.IdentityToken, nil
	})
	log.Info().Msg("✅ Engine registry initialized")

	if tg != nil {
		tg.SetController(registry)
	}

	// ═══════════════════════════════════════════════════════════════════════════════
	// PRINT CONFIG
	// ═══════════════════════════════════════════════════════════════════════════════

	log.Info().Msg("")
	log.Info().Msg("╔══════════════════════════════════════════════════════════════╗")
	log.Info().Msg("║              🎰 ROULETTEBOT - 7-WINDOW MARTINGALE            ║")
	log.Info().Msg("╠══════════════════════════════════════════════════════════════╣")
	log.Info().Msgf("║  Account: %-50s ║", cfg.AccountID)
	log.Info().Msgf("║  Table: %-52s ║", cfg.TableID)
	log.Info().Msgf("║  Mode: %-53s ║", modeLabel(cfg))
	log.Info().Msgf("║  Ladder total: $%-44s ║", stakes.Total().StringFixed(2))
	log.Info().Msgf("║  First stake: $%-45s ║", stakes[0].StringFixed(2))
	log.Info().Msgf("║  Credential TTL: %-43s ║", cfg.CredentialTTL)
	log.Info().Msgf("║  Heartbeat: %-48s ║", cfg.HeartbeatInterval)
	log.Info().Msg("╚══════════════════════════════════════════════════════════════╝")
	log.Info().Msg("")

	// ═══════════════════════════════════════════════════════════════════════════════
	// START
	// ═══════════════════════════════════════════════════════════════════════════════

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := registry.Start(ctx, cfg.AccountID, stakes); err != nil {
		log.Fatal().Err(err).Str("account", cfg.AccountID).Msg("Failed to start engine")
	}

	if tg != nil {
		tg.Start()
		tg.NotifyStartup(string(cfg.Mode))
	}

	log.Info().Msg("🚀 All systems running...")

	// ═══════════════════════════════════════════════════════════════════════════════
	// GRACEFUL SHUTDOWN
	// ═══════════════════════════════════════════════════════════════════════════════

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("🛑 Shutting down...")
	registry.StopAll()
	cancel()
	if tg != nil {
		tg.Stop()
	}
	if db != nil {
		if err := db.Close(); err != nil {
			log.Warn().Err(err).Msg("Database close failed")
		}
	}

	log.Info().Msg("👋 Goodbye!")
}

func modeLabel(cfg *config.Config) string {
	switch cfg.Mode {
	case risk.ModeGated:
		return fmt.Sprintf("GATED (stage %d, %d sim losses)", cfg.GateStage, cfg.GateThreshold)
	case risk.ModeShadow:
		return "SHADOW (simulated only)"
	default:
		return "LIVE"
	}
}

// Command clinvox is the voice receptionist server for a clinical trial
// site. It serves the health/metrics HTTP surface and can open a staff or
// patient voice session on launch.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/clinvox/clinvox/internal/app"
	"github.com/clinvox/clinvox/internal/config"
	"github.com/clinvox/clinvox/internal/reception"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── Environment ───────────────────────────────────────────────────────────
	// A local .env is a convenience for development; absence is fine.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "clinvox: load .env: %v\n", err)
	}

	// ── CLI flags ─────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	mode := flag.String("mode", "", "voice session to open on launch: staff or patient (default: none)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "clinvox: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "clinvox: %v\n", err)
		}
		return 1
	}

	startMode, err := parseMode(*mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "clinvox: %v\n", err)
		return 2
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so config hot-reloads can adjust it.
	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("clinvox starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	// Log level and receptionist persona apply live; other changes are
	// reported and take effect after a restart.
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level updated", "level", d.NewLogLevel)
		}
		if d.ReceptionistChanged {
			application.Machine().SetReceptionist(app.Persona(new.Receptionist))
			slog.Info("receptionist persona updated; applies to the next session")
		}
		for _, section := range d.RestartRequired {
			slog.Warn("config change requires a restart", "section", section)
		}
	})
	if err != nil {
		slog.Error("failed to watch config file", "err", err)
		return 1
	}
	defer watcher.Stop()

	// ── Launch voice session (optional) ───────────────────────────────────────
	if startMode != "" {
		if err := application.Machine().Start(ctx, startMode); err != nil {
			slog.Error("failed to start voice session", "mode", startMode, "err", err)
			return 1
		}
		slog.Info("voice session starting", "mode", startMode)
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// parseMode maps the -mode flag to a session mode. Empty means no session
// is opened on launch.
func parseMode(s string) (reception.Mode, error) {
	switch s {
	case "":
		return "", nil
	case "staff":
		return reception.ModeStaff, nil
	case "patient":
		return reception.ModePatient, nil
	default:
		return "", fmt.Errorf("invalid -mode %q: must be staff or patient", s)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         clinvox — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Clinic", cfg.Receptionist.ClinicName)
	printRow("Receptionist", cfg.Receptionist.BotName)
	printRow("Model", cfg.Gemini.Model)
	printRow("Staff voice", cfg.Gemini.StaffVoice)
	printRow("Patient voice", cfg.Gemini.PatientVoice)
	if cfg.Database.PostgresDSN != "" {
		printRow("Store", "postgres")
	} else {
		printRow("Store", "in-memory (demo)")
	}
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(kind, value string) {
	if value == "" {
		value = "(default)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-13s   : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Command nlx is the conversational action orchestration engine: it turns
// chat utterances into plans of typed actions and executes them against the
// local service mesh over the message bus.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/nlxhq/nlx/internal/bus"
	"github.com/nlxhq/nlx/internal/config"
	"github.com/nlxhq/nlx/internal/handler"
	"github.com/nlxhq/nlx/internal/health"
	"github.com/nlxhq/nlx/internal/observe"
	"github.com/nlxhq/nlx/internal/orchestrator"
	"github.com/nlxhq/nlx/internal/planner"
	"github.com/nlxhq/nlx/internal/resilience"
	"github.com/nlxhq/nlx/internal/session"
	"github.com/nlxhq/nlx/internal/websearch"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", defaultConfigPath(), "path to the YAML configuration file")
	suffix := flag.String("session", "", "session suffix for running parallel conversations")
	autoApprove := flag.Bool("auto-approve", false, "execute shell and system actions without asking")
	message := flag.String("m", "", "process a single message and exit instead of starting the shell")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nlx: %v\n", err)
		return 1
	}
	if *autoApprove {
		cfg.Session.AutoApprove = true
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	opts := &slog.HandlerOptions{Level: level}
	var logHandler slog.Handler = slog.NewJSONHandler(os.Stderr, opts)
	if fi, err := os.Stderr.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
		logHandler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(logHandler))

	slog.Info("nlx starting",
		"config", *configPath,
		"bus", cfg.Bus.URL,
		"redis", cfg.Redis.Addr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Metrics provider ──────────────────────────────────────────────────────
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "nlx"})
	if err != nil {
		slog.Error("metrics provider init failed", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			slog.Warn("metrics shutdown error", "err", err)
		}
	}()
	metrics := observe.Default()

	// ── Message bus ───────────────────────────────────────────────────────────
	conn, err := bus.Connect(bus.Config{
		URL:           cfg.Bus.URL,
		Name:          cfg.Bus.Name,
		ReconnectWait: cfg.Bus.ReconnectWait.Std(),
		MaxReconnects: cfg.Bus.MaxReconnects,
	})
	if err != nil {
		slog.Error("bus connect failed", "err", err)
		return 1
	}
	defer conn.Close()

	// ── Session store ─────────────────────────────────────────────────────────
	// A dead redis only costs continuity, so startup proceeds with a warning.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	pingCtx, cancelPing := context.WithTimeout(ctx, 3*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		slog.Warn("redis unreachable; sessions will not persist", "addr", cfg.Redis.Addr, "err", err)
	}
	cancelPing()

	store := session.NewStoreWithClient(redisClient, session.StoreConfig{
		TTL:         cfg.Redis.TTL.Std(),
		MaxArchives: cfg.Redis.MaxArchives,
	})

	// ── Orchestrator, planner, handler ────────────────────────────────────────
	searcher := websearch.NewDuckDuckGo("")
	guard := resilience.NewGuard(resilience.BreakerConfig{
		Threshold: cfg.Breaker.Threshold,
		CoolDown:  cfg.Breaker.CoolDown.Std(),
	})

	orch := orchestrator.New(conn, searcher,
		orchestrator.WithTimeouts(orchestrator.Timeouts{
			LLM:           cfg.Timeouts.LLM.Std(),
			Image:         cfg.Timeouts.Image.Std(),
			OCR:           cfg.Timeouts.OCR.Std(),
			DocumentQuery: cfg.Timeouts.DocumentQuery.Std(),
			Shell:         cfg.Timeouts.Shell.Std(),
			SystemCommand: cfg.Timeouts.SystemCommand.Std(),
		}),
		orchestrator.WithSearchLimit(cfg.Search.Limit),
		orchestrator.WithGuard(guard),
		orchestrator.WithMetrics(metrics),
	)

	pln := planner.New(orch, metrics)

	sessionID, userID := session.DeriveID(*suffix)
	h := handler.New(handler.Config{
		SessionID: sessionID,
		UserID:    userID,
		Store:     store,
		Planner:   pln,
		Orch:      orch,
		Bus:       conn,
		Metrics:   metrics,
		MusicWait: cfg.Session.MusicWait.Std(),
	})

	// ── Config watcher ────────────────────────────────────────────────────────
	if _, err := os.Stat(*configPath); err == nil {
		watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			d := config.Diff(old, new)
			if d.LogLevelChanged {
				level.Set(slogLevel(d.NewLogLevel))
				slog.Info("log level changed", "level", d.NewLogLevel)
			}
			if d.TimeoutsChanged || d.SearchChanged || d.MusicWaitChanged {
				slog.Info("config changed; timeout, search, and music wait updates apply on restart")
			}
		})
		if err != nil {
			slog.Warn("config watcher unavailable", "err", err)
		} else {
			defer watcher.Stop()
		}
	}

	// ── Diagnostics server ────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Server.ListenAddr != "" {
		mux := http.NewServeMux()
		health.New(health.Bus(conn), health.SessionStore(redisClient)).Register(mux)
		mux.Handle("/metrics", promhttp.Handler())

		srv := &http.Server{Addr: cfg.Server.ListenAddr, Handler: mux}
		g.Go(func() error {
			slog.Info("diagnostics listening", "addr", cfg.Server.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	// ── Conversation loop ─────────────────────────────────────────────────────
	settingsPath := cfg.Session.SettingsPath
	if settingsPath == "" {
		settingsPath = defaultSettingsPath()
	}
	sh := &shell{
		handler:      h,
		store:        store,
		userID:       userID,
		sessionID:    sessionID,
		autoApprove:  cfg.Session.AutoApprove,
		settingsPath: settingsPath,
		settings:     session.LoadSettings(settingsPath),
	}

	if *message != "" {
		sh.oneShot(gctx, *message)
		stop()
	} else {
		g.Go(func() error {
			defer stop()
			return sh.runInteractive(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// defaultConfigPath prefers the XDG config location with a working-directory
// fallback.
func defaultConfigPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "nlx", "config.yaml")
	}
	return "config.yaml"
}

func defaultSettingsPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "nlx", "settings.json")
	}
	return "settings.json"
}

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

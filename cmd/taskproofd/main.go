package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"taskproof/internal/alarm"
	"taskproof/internal/api"
	"taskproof/internal/config"
	"taskproof/internal/core"
	"taskproof/internal/logging"
	taskproofmcp "taskproof/internal/mcp"
	"taskproof/internal/notify"
	"taskproof/internal/oracle"
	"taskproof/internal/store"
	"taskproof/internal/workflow"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	if cfg.ConfigFile != "" {
		logger.Info("config file loaded", "path", cfg.ConfigFile)
	}

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		logger.Error("create state dir", "err", err)
		os.Exit(1)
	}
	lockPath := filepath.Join(cfg.StateDir, "taskproofd.lock")
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		logger.Error("acquire lock", "path", lockPath, "err", err)
		os.Exit(1)
	}
	if !locked {
		logger.Error("another taskproofd is already running", "lock", lockPath)
		os.Exit(1)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("failed to release daemon lock", "err", err)
		}
	}()

	baseCtx := context.Background()
	storeInst, err := store.Open(baseCtx, cfg.StateDir)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer storeInst.Close()

	location := cfg.Location()
	signaler := alarm.NewSignaler(buildSink(cfg, logger), logger, alarm.WithCadence(cfg.Alarm.Cadence.Duration))
	judge := buildOracle(baseCtx, cfg, logger)

	engine := workflow.NewEngine(storeInst, signaler, judge, logger,
		workflow.WithLocation(location),
		workflow.WithOracleTimeout(cfg.Oracle.Timeout.Duration),
		workflow.WithMaxImageBytes(cfg.Oracle.MaxImageBytes),
	)
	scheduler := core.NewScheduler(storeInst, engine, logger, location,
		core.WithScanInterval(cfg.Schedule.ScanInterval.Duration),
		core.WithWarning(signaler, cfg.Schedule.WarningLead.Duration),
	)

	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	scheduler.Start(ctx)
	if err := scheduler.Scan(ctx); err != nil {
		logger.Error("initial scan", "err", err)
	}

	mcpServer := taskproofmcp.NewMCPServer(engine, logger, location)

	switch cfg.Server.Mode {
	case config.ModeHTTP:
		runHTTPMode(cfg, engine, storeInst, mcpServer, logger, location)
	case config.ModeMCP:
		runMCPMode(mcpServer, logger, cancel)
	case config.ModeBoth:
		runBothMode(cfg, engine, storeInst, mcpServer, logger, location)
	}

	stopScheduler(scheduler, cfg.ShutdownGrace.Duration, logger)
	logger.Info("shutdown complete")
}

// buildSink assembles the alarm outputs. The signaler logs every notice itself.
func buildSink(cfg *config.Config, logger *slog.Logger) alarm.Sink {
	var sinks []alarm.Sink

	var notifiers []notify.Notifier
	if cfg.Notification.Bark.Enabled {
		bark, err := notify.NewBarkNotifier(cfg.Notification.Bark.URL)
		if err != nil {
			logger.Warn("bark notifications disabled", "err", err)
		} else {
			notifiers = append(notifiers, bark)
		}
	}
	if cfg.Notification.Ntfy.URL != "" {
		ntfy, err := notify.NewNtfyNotifier(cfg.Notification.Ntfy.URL, 10*time.Second)
		if err != nil {
			logger.Warn("ntfy notifications disabled", "err", err)
		} else {
			notifiers = append(notifiers, ntfy)
		}
	}
	if len(notifiers) > 0 {
		push := notify.NewMultiNotifier(notifiers...)
		sinks = append(sinks, alarm.NewPushSink(push))
		logger.Info("push notifications enabled", "notifiers", push.Len())
	}

	if cfg.Alarm.SoundCommand != "" {
		sound, err := alarm.NewSoundSink(cfg.Alarm.SoundCommand, cfg.Alarm.Cadence.Duration*5, logger)
		if err != nil {
			logger.Warn("alarm sound disabled", "err", err)
		} else {
			sinks = append(sinks, sound)
		}
	}

	if len(sinks) == 0 {
		return alarm.Nop()
	}
	return alarm.Multi(sinks...)
}

func buildOracle(ctx context.Context, cfg *config.Config, logger *slog.Logger) oracle.Oracle {
	if cfg.Oracle.APIKey == "" {
		logger.Warn("no oracle api key configured, using mock verification")
		return oracle.NewMock()
	}
	client := oracle.NewVisionClient(oracle.Config{
		APIKey:         cfg.Oracle.APIKey,
		BaseURL:        cfg.Oracle.BaseURL,
		Model:          cfg.Oracle.Model,
		TimeoutSeconds: int(cfg.Oracle.Timeout.Duration / time.Second),
	})
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.HealthCheck(checkCtx); err != nil {
		logger.Warn("oracle health check failed", "model", client.Model(), "err", err)
	} else {
		logger.Info("oracle ready", "model", client.Model())
	}
	return client
}

func newHTTPServer(cfg *config.Config, engine *workflow.Engine, st *store.Store, mcpServer *taskproofmcp.MCPServer, logger *slog.Logger, location *time.Location) *api.Server {
	return api.NewServer(cfg.Server.Addr, engine, st, logger,
		api.WithAuthToken(cfg.Server.AuthToken),
		api.WithLocation(location),
		api.WithMaxImageBytes(cfg.Oracle.MaxImageBytes),
		api.WithMCPHandler(mcpServer.HTTPHandler()),
	)
}

// runHTTPMode serves the HTTP API (with /mcp mounted) until a signal arrives.
func runHTTPMode(cfg *config.Config, engine *workflow.Engine, st *store.Store, mcpServer *taskproofmcp.MCPServer, logger *slog.Logger, location *time.Location) {
	server := newHTTPServer(cfg, engine, st, mcpServer, logger, location)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info("received signal", "signal", sig.String())
	case err := <-serverErr:
		logger.Error("server error", "err", err)
	}

	shutdownHTTP(server, cfg.ShutdownGrace.Duration, logger)
}

// runMCPMode serves MCP over stdio until stdin closes or a signal arrives.
func runMCPMode(mcpServer *taskproofmcp.MCPServer, logger *slog.Logger, cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	mcpErr := make(chan error, 1)
	go func() {
		mcpErr <- mcpServer.Run()
	}()

	select {
	case sig := <-sigs:
		logger.Info("received signal", "signal", sig.String())
	case err := <-mcpErr:
		if err != nil {
			logger.Error("mcp server error", "err", err)
		}
	}
	cancel()
}

// runBothMode serves stdio MCP next to the HTTP API.
func runBothMode(cfg *config.Config, engine *workflow.Engine, st *store.Store, mcpServer *taskproofmcp.MCPServer, logger *slog.Logger, location *time.Location) {
	mcpErr := make(chan error, 1)
	go func() {
		if err := mcpServer.Run(); err != nil {
			mcpErr <- err
		}
	}()

	server := newHTTPServer(cfg, engine, st, mcpServer, logger, location)
	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info("received signal", "signal", sig.String())
	case err := <-serverErr:
		logger.Error("server error", "err", err)
	case err := <-mcpErr:
		logger.Error("mcp server error", "err", err)
	}

	// The stdio server ends with the process.
	shutdownHTTP(server, cfg.ShutdownGrace.Duration, logger)
}

func shutdownHTTP(server *api.Server, grace time.Duration, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "err", err)
	}
}

// stopScheduler halts the scan loop and every alarm, bounded by grace.
func stopScheduler(scheduler *core.Scheduler, grace time.Duration, logger *slog.Logger) {
	stopCtx := scheduler.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(grace):
		logger.Warn("scheduler stop timed out", "grace", grace)
	}
}

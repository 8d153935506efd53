package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/i5heu/seedgate/apiServer"
	"github.com/i5heu/seedgate/internal/config"
	"github.com/i5heu/seedgate/internal/keyValStore"
	"github.com/i5heu/seedgate/pkg/commands"
	"github.com/i5heu/seedgate/pkg/handshake"
	"github.com/i5heu/seedgate/pkg/logging"
	"github.com/i5heu/seedgate/pkg/seedAccessor"
	"github.com/i5heu/seedgate/pkg/seeded"
	"github.com/i5heu/seedgate/pkg/transport"
	workerpool "github.com/i5heu/seedgate/pkg/workerPool"
)

const (
	logKeyListenAddr = "listenAddr"
	logKeyDataPath   = "dataPath"
	logKeyKeyFile    = "keyFile"
	logKeyConsent    = "consent"
	logKeySignal     = "signal"
	logKeyError      = "error"
	logKeyWorkers    = "workers"
)

const maintenanceInterval = 10 * time.Minute

func main() { // A
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := logging.New(logging.Options{Level: cfg.LogLevel})
	logger.InfoContext(context.Background(), "starting seedgate daemon",
		logKeyListenAddr, cfg.ListenAddr,
		logKeyDataPath, cfg.DataPath,
		logKeyKeyFile, cfg.KeyFile,
		logKeyConsent, cfg.Consent)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.InfoContext(ctx, "received shutdown signal", logKeySignal, sig.String())
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.ErrorContext(context.Background(), "daemon error", logKeyError, err)
		os.Exit(1)
	}
}

// parseFlags loads the config file and applies flag overrides on top.
func parseFlags(args []string) (config.Config, error) { // A
	fs := pflag.NewFlagSet("seedgate-daemon", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "seedgate.yaml", "path to the YAML config file")
	listen := fs.String("listen", "", "address to serve the API on")
	dataPath := fs.String("data", "", "session store directory (empty keeps sessions in memory)")
	keyFile := fs.String("key-file", "", "file holding the human-readable physical key")
	consent := fs.String("consent", "", "consent policy: prompt, allow or deny")
	logLevel := fs.String("log-level", "", "debug, info, warn or error")
	debug := fs.Bool("debug", false, "shorthand for --log-level=debug")
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return cfg, err
	}
	if fs.Changed("listen") {
		cfg.ListenAddr = *listen
	}
	if fs.Changed("data") {
		cfg.DataPath = *dataPath
	}
	if fs.Changed("key-file") {
		cfg.KeyFile = *keyFile
	}
	if fs.Changed("consent") {
		cfg.Consent = *consent
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	if cfg.KeyFile == "" {
		return cfg, errors.New("no key file configured; set keyFile or pass --key-file")
	}
	return cfg, cfg.Validate()
}

// run wires the daemon and serves until ctx is canceled.
func run(
	ctx context.Context,
	cfg config.Config,
	logger *slog.Logger,
) error { // A
	if cfg.DataPath != "" {
		if err := os.MkdirAll(cfg.DataPath, 0o700); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
	}
	sessionKey, err := loadOrCreateSessionKey(cfg.SessionKeyFile, logger)
	if err != nil {
		return err
	}

	badgerLog := logrus.New()
	badgerLog.SetLevel(logrus.WarnLevel)
	sessions, err := keyValStore.NewKeyValStore(keyValStore.StoreConfig{
		Path:             cfg.DataPath,
		MinimumFreeSpace: cfg.MinimumFreeSpaceGB,
		EncryptionKey:    sessionKey,
		TTL:              cfg.SessionTTL,
		Logger:           badgerLog,
	})
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer func() {
		if err := sessions.Close(); err != nil {
			logger.WarnContext(context.Background(), "error closing session store", logKeyError, err)
		}
	}()
	sessions.StartMaintenance(ctx, maintenanceInterval)
	tokens := handshake.New(sessions)

	pool := workerpool.NewWorkerPool(workerpool.Config{WorkerCount: cfg.Workers})
	defer pool.Close()
	deriver, err := workerpool.NewDeriver(pool, seeded.DeriveSecretBytes, workerpool.DeriverConfig{
		CacheEntries: cfg.DeriveCacheEntries,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("create deriver: %w", err)
	}
	defer deriver.Close()
	logger.DebugContext(ctx, "derivation pool ready", logKeyWorkers, cfg.Workers)

	accessor, err := seedAccessor.New(seedAccessor.Config{
		KeyLoader: fileKeyLoader(cfg.KeyFile),
		Consent:   consentRequester(cfg.Consent, os.Stdin, os.Stderr),
		Handshake: tokens,
		Hasher:    deriver,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("create seed accessor: %w", err)
	}

	handler := transport.NewHandler(transport.HandlerConfig{
		Accessor:     accessor,
		Executor:     commands.New(commands.Config{Hasher: deriver, Logger: logger}),
		Resolver:     tokens,
		IncludeStack: cfg.IncludeStack,
		Logger:       logger,
	})

	opts := []apiServer.Option{
		apiServer.WithLogger(logger),
		apiServer.WithRateLimit(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst),
	}
	if cfg.LocalOnly {
		opts = append(opts, apiServer.WithAuth(apiServer.LoopbackOnly))
	}
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           apiServer.New(handler, opts...),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	logger.InfoContext(ctx, "daemon started", logKeyListenAddr, cfg.ListenAddr)

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.InfoContext(context.Background(), "daemon shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

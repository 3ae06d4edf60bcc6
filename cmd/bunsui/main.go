// Copyright 2025 James Ross
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/bunsuihq/bunsui/internal/archive"
	"github.com/bunsuihq/bunsui/internal/config"
	"github.com/bunsuihq/bunsui/internal/obs"
	"github.com/bunsuihq/bunsui/internal/scheduler"
	"github.com/bunsuihq/bunsui/internal/session"
	"github.com/bunsuihq/bunsui/internal/store/object"
	"github.com/bunsuihq/bunsui/internal/store/tabular"
)

var version = "dev"

func main() {
	var role string
	var configPath string
	var sessionID string
	var archiveAfter time.Duration
	var showVersion bool

	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&role, "role", "server", "Role to run: server|sweeper|status")
	fs.StringVar(&configPath, "config", "config/config.yaml", "Path to YAML config")
	fs.StringVar(&sessionID, "session", "", "Session ID for -role=status")
	fs.DurationVar(&archiveAfter, "archive-after", 72*time.Hour, "Sweeper: archive terminal sessions older than this")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	_ = fs.Parse(os.Args[1:])

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := obs.NewLogger(cfg.Observability.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	tp, err := obs.MaybeInitTracing(cfg)
	if err != nil {
		logger.Warn("tracing init failed", obs.Err(err))
	}
	if tp != nil {
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	tabularStore, err := tabular.NewDynamoStore(cfg)
	if err != nil {
		logger.Fatal("failed to init tabular store", obs.Err(err))
	}
	objectStore, err := object.NewS3Store(cfg)
	if err != nil {
		logger.Fatal("failed to init object store", obs.Err(err))
	}
	sched, err := scheduler.NewStepFunctionsScheduler(cfg)
	if err != nil {
		logger.Fatal("failed to init scheduler", obs.Err(err))
	}

	mgr := session.NewManager(tabularStore, sched, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("signal received, shutting down", obs.String("signal", sig.String()))
		cancel()
		select {
		case sig2 := <-sigCh:
			logger.Warn("second signal received, exiting immediately", obs.String("signal", sig2.String()))
			os.Exit(1)
		case <-time.After(5 * time.Second):
		}
	}()

	switch role {
	case "server":
		metricsSrv := obs.StartMetricsServer(cfg)
		defer func() { _ = metricsSrv.Shutdown(context.Background()) }()
		<-ctx.Done()
	case "sweeper":
		runSweeper(ctx, tabularStore, objectStore, logger, archiveAfter)
	case "status":
		if sessionID == "" {
			logger.Fatal("status requires -session")
		}
		runStatus(ctx, mgr, sessionID)
	default:
		logger.Fatal("unknown role", obs.String("role", role))
	}
}

func runSweeper(ctx context.Context, store tabular.Store, objects object.Store, logger *zap.Logger, olderThan time.Duration) {
	sweeper := archive.NewSweeper(store, olderThan, logger, archive.NewS3Exporter(objects))
	n, err := sweeper.Sweep(ctx)
	if err != nil {
		logger.Fatal("sweep failed", obs.Err(err))
	}
	fmt.Printf("archived %d sessions\n", n)
}

func runStatus(ctx context.Context, mgr *session.Manager, sessionID string) {
	stats, err := mgr.GetSessionStatistics(ctx, sessionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load session: %v\n", err)
		os.Exit(1)
	}
	b, _ := json.MarshalIndent(stats, "", "  ")
	fmt.Println(string(b))
}

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/common-cold/onchain-orderbook/params"
	"github.com/common-cold/onchain-orderbook/pkg/api"
	"github.com/common-cold/onchain-orderbook/pkg/custody"
	"github.com/common-cold/onchain-orderbook/pkg/dispatch"
	"github.com/common-cold/onchain-orderbook/pkg/feed"
	"github.com/common-cold/onchain-orderbook/pkg/storage"
	"github.com/common-cold/onchain-orderbook/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.LogFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Storage ----
	store, err := storage.Open(cfg.Storage.DBPath)
	if err != nil {
		sugar.Fatalw("store_open_failed", "path", cfg.Storage.DBPath, "err", err)
	}
	defer store.Close()

	var journal *zap.Logger
	if cfg.Storage.JournalPath != "" {
		j, closeJournal, err := util.NewJournal(cfg.Storage.JournalPath)
		if err != nil {
			sugar.Fatalw("journal_open_failed", "path", cfg.Storage.JournalPath, "err", err)
		}
		defer closeJournal()
		journal = j
		sugar.Infow("journal_enabled", "path", cfg.Storage.JournalPath)
	}

	// ---- Event feed ----
	hub := api.NewHub(logger)
	go hub.Run(ctx)

	publishers := feed.Multi{hub}
	if len(cfg.Feed.KafkaBrokers) > 0 {
		kp := feed.NewKafkaPublisher(cfg.Feed.KafkaBrokers, cfg.Feed.KafkaTopic)
		defer kp.Close()
		publishers = append(publishers, kp)
		sugar.Infow("kafka_feed_enabled", "brokers", cfg.Feed.KafkaBrokers, "topic", cfg.Feed.KafkaTopic)
	}

	// ---- Dispatcher ----
	d, err := dispatch.New(dispatch.Config{
		Program:      cfg.Market.Program,
		BookCapacity: cfg.Market.BookCapacity,
		DrainLimit:   cfg.Market.DrainLimit,
		EnableFaucet: cfg.API.EnableFaucet,
	}, store, custody.NewBank(logger.Named("custody")), publishers, journal, logger.Named("dispatch"))
	if err != nil {
		sugar.Fatalw("dispatcher_init_failed", "err", err)
	}

	sugar.Infow("node_starting",
		"program", cfg.Market.Program.Hex(),
		"book_capacity", cfg.Market.BookCapacity,
		"drain_limit", cfg.Market.DrainLimit,
		"faucet", cfg.API.EnableFaucet,
		"require_signatures", cfg.API.RequireSignatures)

	// ---- API Server ----
	auth := api.NewAuthenticator(cfg.Market.Program, cfg.API.RequireSignatures, cfg.API.SignatureWindow)
	apiServer := api.NewServer(d, hub, auth, cfg.API.CORSOrigins, logger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- apiServer.Start(ctx, cfg.API.Addr, cfg.API.ShutdownTimeout)
	}()

	// Status logging loop
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case err := <-errCh:
			if err != nil {
				sugar.Errorw("api_server_failed", "err", err)
			}
			sugar.Info("node_stopped")
			return
		case <-ticker.C:
			sugar.Infow("node_status",
				"markets", len(d.Markets()),
				"ws_clients", hub.ClientCount())
		}
	}
}

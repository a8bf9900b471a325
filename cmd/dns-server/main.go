package main

import (
	"context"
	"flag"
	"fmt"
	"github.com/faanross/simulacra_lsb/internal/chunker"
	dnsserver "github.com/faanross/simulacra_lsb/internal/dns-server"
	"github.com/faanross/simulacra_lsb/internal/logging"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"os"
	"os/signal"
	"syscall"
)

func openStorage(cfg *dnsserver.Config, logger zerolog.Logger) (dnsserver.Storage, error) {
	if cfg.Storage.Driver == dnsserver.StorageBadger {
		return dnsserver.OpenBadgerStorage(cfg.Storage.Path, logger)
	}
	return dnsserver.NewMemoryStorage(), nil
}

func loadZone(path string, queue *dnsserver.QueueManager) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to read zone file: %w", err)
	}
	defer f.Close()

	records, err := chunker.ParseZoneFile(f)
	if err != nil {
		return "", err
	}
	return queue.PublishRecords(records)
}

func printStats(storage dnsserver.Storage) {
	stats := storage.GetStats()
	fmt.Printf("\n📊 Storage Statistics:\n")
	fmt.Printf("   Total messages: %d\n", stats.TotalMessages)
	fmt.Printf("   New (undelivered): %d\n", stats.NewMessages)
	fmt.Printf("   Delivered: %d\n", stats.Delivered)
	fmt.Printf("   Consumed: %d\n", stats.Consumed)
	fmt.Printf("   Total chunks: %d\n", stats.TotalChunks)

	messages, _ := storage.ListMessages()
	if len(messages) > 0 {
		fmt.Println("\n📬 Stored Messages:")
		for _, m := range messages {
			fmt.Printf("   %s: %d chunks, status=%s\n", m.ID, m.TotalChunks, m.State)
		}
	}
}

func main() {
	configFile := flag.String("config", "", "YAML config file (defaults and SIMULACRA_* env vars apply without one)")
	flag.Parse()

	cfg, err := dnsserver.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}

	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Logger setup failed: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("server stopped")
		closer.Close()
		os.Exit(1)
	}
}

func run(cfg *dnsserver.Config, logger zerolog.Logger) error {
	storage, err := openStorage(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := storage.Close(); err != nil {
			logger.Error().Err(err).Msg("storage close failed")
		}
	}()

	metrics := dnsserver.NewMetrics()
	queue := dnsserver.NewQueueManager(storage, metrics)
	server := dnsserver.NewServer(cfg.Domain, queue,
		dnsserver.WithLogger(logger),
		dnsserver.WithMetrics(metrics),
	)

	if cfg.Zone != "" {
		msgID, err := loadZone(cfg.Zone, queue)
		if err != nil {
			logger.Error().Err(err).Str("zone", cfg.Zone).Msg("zone file not loaded")
		} else {
			logger.Info().Str("msg_id", msgID).Str("zone", cfg.Zone).Msg("loaded message from zone file")
		}
	}

	printStats(storage)

	fmt.Printf("\n🌐 DNS server starting on %s/%s\n", cfg.DNS.Addr, cfg.DNS.Net)
	fmt.Printf("📍 Domain: %s\n", cfg.Domain)
	fmt.Printf("🔌 HTTP API: %s\n", cfg.HTTP.Addr)
	fmt.Printf("💾 Storage: %s\n", cfg.Storage.Driver)
	fmt.Printf("🧹 Expiry: %v (checked every %v)\n", cfg.Expiry.TTL, cfg.Expiry.Interval)
	fmt.Println("\n✅ Server ready!")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return server.ListenAndServeDNS(egCtx, cfg.DNS.Addr, cfg.DNS.Net)
	})
	eg.Go(func() error {
		return server.ListenAndServeHTTP(egCtx, cfg.HTTP.Addr)
	})
	eg.Go(func() error {
		server.RunExpiry(egCtx, cfg.Expiry.TTL, cfg.Expiry.Interval)
		return nil
	})

	err = eg.Wait()

	fmt.Println("\n🛑 Shutting down...")
	printStats(storage)
	return err
}

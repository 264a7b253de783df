package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/wnt/chainwatch/internal/api"
	"github.com/wnt/chainwatch/internal/chains"
	"github.com/wnt/chainwatch/internal/check"
	"github.com/wnt/chainwatch/internal/config"
	"github.com/wnt/chainwatch/internal/cursor"
	"github.com/wnt/chainwatch/internal/database"
	"github.com/wnt/chainwatch/internal/ledger"
	"github.com/wnt/chainwatch/internal/logger"
	"github.com/wnt/chainwatch/internal/models"
	"github.com/wnt/chainwatch/internal/notify"
	"github.com/wnt/chainwatch/internal/poller"
	"github.com/wnt/chainwatch/internal/registry"
)

func main() {
	envFile := flag.String("envFile", ".env", "Path to .env file")
	flag.Parse()

	envErr := godotenv.Load(*envFile)

	cfg, err := config.Load()
	log := logger.New(cfg.LogLevel)
	if envErr != nil {
		log.Info().Str("env_file", *envFile).Msg("No .env file found, using environment variables")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}

	set, err := chains.Open(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up chain readers")
	}

	reg := registry.New(db, registry.Limits{
		PerUser: cfg.MaxEntitiesPerUser,
		Total:   cfg.MaxEntitiesTotal,
	}, log)
	for chain, reader := range set.Signature {
		reg.SetSeeder(chain, reader)
	}

	dispatcher, err := notify.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up notification dispatcher")
	}
	defer dispatcher.Close()

	cursors := cursor.NewManager(db, log)
	alerts := ledger.New(db, log)
	alerter := poller.NewAlerter(alerts, dispatcher, cfg.PendingRedeliveryMax)

	var schedulers []*poller.Scheduler

	var blockCycles []poller.Cycle
	for _, chain := range models.AllChains() {
		if reader, ok := set.Block[chain]; ok {
			blockCycles = append(blockCycles, poller.NewBlockCycle(reader, reg, cursors, alerter))
		}
	}
	if len(blockCycles) > 0 {
		schedulers = append(schedulers, poller.NewScheduler(models.FamilyBlock, cfg.EVMPollInterval, cfg.BackoffMaxMultiplier, blockCycles, log))
	}

	var signatureCycles []poller.Cycle
	for _, reader := range set.Signature {
		signatureCycles = append(signatureCycles, poller.NewSignatureCycle(reader, reg, cursors, alerter, cfg.MaxFanout))
	}
	if len(signatureCycles) > 0 {
		schedulers = append(schedulers, poller.NewScheduler(models.FamilySignature, cfg.SOLPollInterval, cfg.BackoffMaxMultiplier, signatureCycles, log))
	}

	deps := api.Deps{
		Registry: reg,
		Ledger:   alerts,
		Checker:  check.New(set.ActivityReaders(), time.Minute, log),
	}
	for _, s := range schedulers {
		deps.Schedulers = append(deps.Schedulers, s)
	}
	for _, p := range set.Pools {
		deps.Pools = append(deps.Pools, p)
	}
	server := api.NewServer(cfg.APIPort, deps, log)

	for _, s := range schedulers {
		s.Start()
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	log.Info().Int("schedulers", len(schedulers)).Msg("chainwatch started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("API server failed")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to stop API server")
	}

	for _, s := range schedulers {
		s.Stop()
	}

	log.Info().Msg("chainwatch stopped")
}

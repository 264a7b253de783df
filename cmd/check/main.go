package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/wnt/chainwatch/internal/chains"
	"github.com/wnt/chainwatch/internal/check"
	"github.com/wnt/chainwatch/internal/config"
	"github.com/wnt/chainwatch/internal/logger"
	"github.com/wnt/chainwatch/internal/models"
)

func main() {
	var chainID, address, envFile string
	var asJSON bool
	flag.StringVar(&chainID, "chain", "", "Chain to query: eth, bsc, polygon or sol (required)")
	flag.StringVar(&address, "address", "", "Address to check (required)")
	flag.StringVar(&envFile, "envFile", ".env", "Path to .env file")
	flag.BoolVar(&asJSON, "json", false, "Print the raw JSON result")
	flag.Parse()

	if chainID == "" || address == "" {
		fmt.Println("Usage: check -chain <chain> -address <address> [-json]")
		fmt.Println("Example: check -chain sol -address 9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM")
		os.Exit(1)
	}

	_ = godotenv.Load(envFile)

	cfg, err := config.Load()
	log := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	chain, err := models.ParseChain(chainID)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid chain")
	}

	set, err := chains.Open(cfg, log, chain)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up chain reader")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	result, err := check.New(set.ActivityReaders(), 0, log).CheckAddress(ctx, chainID, address)
	if err != nil {
		log.Fatal().Err(err).Msg("Check failed")
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			log.Fatal().Err(err).Msg("Failed to encode result")
		}
		return
	}

	fmt.Printf("%s on %s\n", result.Address, result.Chain)
	fmt.Printf("Risk: %d (%s)\n", result.RiskScore, result.RiskLevel)
	for _, reason := range result.Reasons {
		fmt.Printf("  - %s\n", reason)
	}
	fmt.Printf("\nRecent activity (%d):\n", len(result.RecentActivity))
	for _, a := range result.RecentActivity {
		arrow := "↓"
		if a.Direction == models.DirectionOut {
			arrow = "↑"
		}
		fmt.Printf("  %s %s %s %s  %s\n", a.Timestamp.Format(time.RFC3339), arrow, a.Amount, a.Asset, a.Hash)
	}
}

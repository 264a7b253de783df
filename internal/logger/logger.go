package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New creates and configures a new zerolog logger
func New(logLevel string) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(logLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var logger zerolog.Logger
	// Human-readable output in development
	if os.Getenv("API_ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		logger = zerolog.New(os.Stdout)
	}

	return logger.
		Level(level).
		With().
		Timestamp().
		Str("service", "chainwatch").
		Logger()
}

// WithChain adds the chain identifier to logger context
func WithChain(logger zerolog.Logger, chain string) zerolog.Logger {
	return logger.With().Str("chain", chain).Logger()
}

// WithEntity adds monitored entity details to logger context
func WithEntity(logger zerolog.Logger, entityID uint, address string) zerolog.Logger {
	return logger.With().Uint("entity_id", entityID).Str("address", address).Logger()
}

// WithCycle adds the poll cycle id to logger context
func WithCycle(logger zerolog.Logger, cycleID string) zerolog.Logger {
	return logger.With().Str("cycle_id", cycleID).Logger()
}

// WithRPCEndpoint adds RPC endpoint to logger context
func WithRPCEndpoint(logger zerolog.Logger, endpoint string) zerolog.Logger {
	return logger.With().Str("rpc_endpoint", endpoint).Logger()
}

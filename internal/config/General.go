package config

import (
	"errors"
	"os"
	"strconv"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog/log"
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// PointsPerBlock is the global emission rate, in whole point units per block.
	PointsPerBlock sdkmath.Int
	// StartBlock is the first block eligible for accrual.
	StartBlock uint64
	// EndBlock is the farming cutoff; 0 means no end is scheduled yet.
	EndBlock uint64
	// WithdrawalDelay is the number of blocks after EndBlock during which
	// withdrawals are expected before a migration snapshot is taken.
	WithdrawalDelay uint64
	// BoosterMultiplier is the 1e18-scaled multiplier applied on boost conversions.
	BoosterMultiplier sdkmath.Int

	// InitialBlock seeds the manual block source at startup.
	InitialBlock uint64
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	PointsPerBlock, err = getEnvAsInt("FARM_POINTS_PER_BLOCK")
	if err != nil {
		return err
	}

	StartBlock, err = getEnvAsUint64("FARM_START_BLOCK")
	if err != nil {
		return err
	}

	EndBlock = getEnvAsUint64OrDefault("FARM_END_BLOCK", 0)
	WithdrawalDelay = getEnvAsUint64OrDefault("FARM_WITHDRAWAL_DELAY", 0)
	InitialBlock = getEnvAsUint64OrDefault("FARM_INITIAL_BLOCK", StartBlock)

	BoosterMultiplier, err = getEnvAsInt("FARM_BOOSTER_MULTIPLIER")
	if err != nil {
		return err
	}

	log.Debug().
		Str("PointsPerBlock", PointsPerBlock.String()).
		Uint64("StartBlock", StartBlock).
		Uint64("EndBlock", EndBlock).
		Str("BoosterMultiplier", BoosterMultiplier.String()).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvAsUint64 retrieves an environment variable as a uint64. Returns error if not set or invalid.
func getEnvAsUint64(key string) (uint64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint64, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsUint64OrDefault retrieves an optional uint64 environment variable.
func getEnvAsUint64OrDefault(key string, defaultValue uint64) uint64 {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		log.Warn().Str("key", key).Str("value", valueStr).Msg("Invalid uint64 environment variable, using default")
		return defaultValue
	}
	return value
}

// getEnvAsInt retrieves an environment variable as an sdkmath.Int from its
// base-10 string form. Returns error if not set or invalid.
func getEnvAsInt(key string) (sdkmath.Int, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	value, ok := sdkmath.NewIntFromString(valueStr)
	if !ok {
		return sdkmath.ZeroInt(), errors.New("environment variable " + key + " must be a valid integer, got: " + valueStr)
	}
	return value, nil
}

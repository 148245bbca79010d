// Package config loads the recognized configuration keys from
// environment variables, in the same getEnv-helper shape the teacher's
// cmd/*/main.go entry points use.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every recognized key from spec.md §6 plus the §6.1
// additions for optional external dependencies.
type Config struct {
	// Solver
	SolverPopulation    int
	SolverGenerations   int
	SolverMutationRate  float64
	SolverCrossoverRate float64
	SolverMode          string // "ensemble" (default) or "fast"
	SolverWorkerPool    int

	// Simulated annealing
	SAInitialTemp float64
	SACooling     float64
	SAMinTemp     float64

	// Constraints
	MinService     int
	MaxMaintenance int
	MaxShunting    int

	// Cycle controller
	CycleInterval time.Duration
	CycleTimeout  time.Duration

	// Ingestion
	IngestionBufferSize   int
	IngestionConflictWindow time.Duration

	// Stabling
	StablingMaxSimultaneousMoves int
	StablingBaselineMoves        int

	// Optional external wiring
	NATSURL           string
	RedisIngestionURL string
	RedisStablingURL  string
	EtcdEndpoints     []string
	InfluxURL         string
	InfluxOrg         string
	InfluxBucket      string
	InfluxToken       string
	PostgresDSN       string
	JWTSecret         string
}

// Default returns the configuration with every default named in §6.
func Default() *Config {
	return &Config{
		SolverPopulation:    100,
		SolverGenerations:   50,
		SolverMutationRate:  0.10,
		SolverCrossoverRate: 0.70,
		SolverMode:          "ensemble",
		SolverWorkerPool:    3,

		SAInitialTemp: 100,
		SACooling:     0.95,
		SAMinTemp:     0.01,

		MinService:     18,
		MaxMaintenance: 5,
		MaxShunting:    30,

		CycleInterval: 300 * time.Second,
		CycleTimeout:  120 * time.Second,

		IngestionBufferSize:     10000,
		IngestionConflictWindow: 5 * time.Second,

		StablingMaxSimultaneousMoves: 2,
		StablingBaselineMoves:        100,
	}
}

// FromEnv overlays environment variables onto the defaults, following
// the teacher's getEnv/getEnvInt pattern.
func FromEnv() *Config {
	cfg := Default()

	cfg.SolverPopulation = getEnvInt("SOLVER_POPULATION", cfg.SolverPopulation)
	cfg.SolverGenerations = getEnvInt("SOLVER_GENERATIONS", cfg.SolverGenerations)
	cfg.SolverMutationRate = getEnvFloat("SOLVER_MUTATION_RATE", cfg.SolverMutationRate)
	cfg.SolverCrossoverRate = getEnvFloat("SOLVER_CROSSOVER_RATE", cfg.SolverCrossoverRate)
	cfg.SolverMode = getEnv("SOLVER_MODE", cfg.SolverMode)
	cfg.SolverWorkerPool = getEnvInt("SOLVER_WORKER_POOL", cfg.SolverWorkerPool)

	cfg.SAInitialTemp = getEnvFloat("SA_INITIAL_T", cfg.SAInitialTemp)
	cfg.SACooling = getEnvFloat("SA_COOLING", cfg.SACooling)
	cfg.SAMinTemp = getEnvFloat("SA_MIN_T", cfg.SAMinTemp)

	cfg.MinService = getEnvInt("CONSTRAINTS_MIN_SERVICE", cfg.MinService)
	cfg.MaxMaintenance = getEnvInt("CONSTRAINTS_MAX_MAINTENANCE", cfg.MaxMaintenance)
	cfg.MaxShunting = getEnvInt("CONSTRAINTS_MAX_SHUNTING", cfg.MaxShunting)

	cfg.CycleInterval = getEnvDuration("CYCLE_INTERVAL", cfg.CycleInterval)
	cfg.CycleTimeout = getEnvDuration("CYCLE_TIMEOUT", cfg.CycleTimeout)

	cfg.IngestionBufferSize = getEnvInt("INGESTION_BUFFER_SIZE", cfg.IngestionBufferSize)
	cfg.IngestionConflictWindow = getEnvDuration("INGESTION_CONFLICT_WINDOW", cfg.IngestionConflictWindow)

	cfg.StablingMaxSimultaneousMoves = getEnvInt("STABLING_MAX_SIMULTANEOUS_MOVES", cfg.StablingMaxSimultaneousMoves)
	cfg.StablingBaselineMoves = getEnvInt("STABLING_BASELINE_MOVES", cfg.StablingBaselineMoves)

	cfg.NATSURL = getEnv("NATS_URL", "")
	cfg.RedisIngestionURL = getEnv("REDIS_INGESTION_URL", "")
	cfg.RedisStablingURL = getEnv("REDIS_STABLING_URL", "")
	cfg.InfluxURL = getEnv("INFLUX_URL", "")
	cfg.InfluxOrg = getEnv("INFLUX_ORG", "")
	cfg.InfluxBucket = getEnv("INFLUX_BUCKET", "")
	cfg.InfluxToken = getEnv("INFLUX_TOKEN", "")
	cfg.PostgresDSN = getEnv("POSTGRES_DSN", "")
	cfg.JWTSecret = getEnv("JWT_SECRET", "")

	if endpoints := getEnv("ETCD_ENDPOINTS", ""); endpoints != "" {
		cfg.EtcdEndpoints = splitCSV(endpoints)
	}

	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

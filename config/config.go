// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
)

// StoreKind selects the persistence backend.
type StoreKind string

const (
	StoreMemory   StoreKind = "memory"
	StoreDynamoDB StoreKind = "dynamodb"
)

// ModelProvider selects the reasoning backend.
type ModelProvider string

const (
	ProviderOpenAI    ModelProvider = "openai"
	ProviderAnthropic ModelProvider = "anthropic"
	// ProviderScripted is the offline echo model, useful for local smoke
	// tests without credentials.
	ProviderScripted ModelProvider = "scripted"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	// HTTP server
	Addr            string        `env:"ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// Persistence
	Store       StoreKind `env:"STORE" envDefault:"memory"`
	DynamoTable string    `env:"DYNAMO_TABLE" envDefault:"conversations"`

	// Reasoning
	ModelProvider ModelProvider `env:"MODEL_PROVIDER" envDefault:"scripted"`
	ModelName     string        `env:"MODEL_NAME"`
	Instructions  string        `env:"INSTRUCTIONS" envDefault:"You are a helpful customer support assistant. Use the available tools when they help answer the question."`

	// Dispatch tunables
	MaxIterations  int           `env:"MAX_ITERATIONS" envDefault:"5"`
	ModelRetries   int           `env:"MODEL_RETRIES" envDefault:"3"`
	InitialBackoff time.Duration `env:"INITIAL_BACKOFF" envDefault:"200ms"`
	ToolTimeout    time.Duration `env:"TOOL_TIMEOUT" envDefault:"15s"`
	TurnBudget     time.Duration `env:"TURN_BUDGET" envDefault:"2m"`
	MaxParallel    int           `env:"MAX_PARALLEL_TOOLS" envDefault:"0"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load parses the environment into a Config and validates the enum fields.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	switch cfg.Store {
	case StoreMemory, StoreDynamoDB:
	default:
		return Config{}, fmt.Errorf("unknown STORE %q", cfg.Store)
	}
	switch cfg.ModelProvider {
	case ProviderOpenAI, ProviderAnthropic, ProviderScripted:
	default:
		return Config{}, fmt.Errorf("unknown MODEL_PROVIDER %q", cfg.ModelProvider)
	}
	return cfg, nil
}

// Package server parses configuration for the passkey server command.
package server

import (
	"context"
	"flag"
	"strings"

	"github.com/louisbranch/keyless.space/internal/app"
)

// Config holds server command configuration.
type Config struct {
	Addr        string
	StoragePath string
}

// EnvLookup returns the value for a key when present.
type EnvLookup func(string) (string, bool)

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string, lookup EnvLookup) (Config, error) {
	cfg := Config{
		Addr:        envOrDefault(lookup, []string{"KEYLESS_SPACE_SERVER_ADDR"}, "localhost:8090"),
		StoragePath: envOrDefault(lookup, []string{"KEYLESS_SPACE_STORAGE_PATH"}, ""),
	}

	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The HTTP server address")
	fs.StringVar(&cfg.StoragePath, "storage-path", cfg.StoragePath, "Path to the sqlite database; empty keeps state in memory")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the passkey server.
func Run(ctx context.Context, cfg Config) error {
	return app.Run(ctx, cfg.Addr, cfg.StoragePath)
}

func envOrDefault(lookup EnvLookup, keys []string, fallback string) string {
	for _, key := range keys {
		if lookup == nil {
			break
		}
		value, ok := lookup(key)
		if ok {
			trimmed := strings.TrimSpace(value)
			if trimmed != "" {
				return trimmed
			}
		}
	}
	return fallback
}

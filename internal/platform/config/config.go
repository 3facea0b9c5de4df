package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "PECORA_"

type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	Log        LogConfig        `koanf:"log"`
	Auth       AuthConfig       `koanf:"auth"`
	Permission PermissionConfig `koanf:"permission"`
	Redis      RedisConfig      `koanf:"redis"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
	CORS       CORSConfig       `koanf:"cors"`
	Audit      AuditConfig      `koanf:"audit"`
}

type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdowntimeout"`
}

type DatabaseConfig struct {
	URL      string `koanf:"url"`
	MaxConns int    `koanf:"maxconns"`
	Migrate  bool   `koanf:"migrate"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type AuthConfig struct {
	DevMode     bool          `koanf:"devmode"`
	DevUserID   string        `koanf:"devuserid"`
	SigningKey  string        `koanf:"signingkey"`
	Issuer      string        `koanf:"issuer"`
	Audience    string        `koanf:"audience"`
	JWKSURL     string        `koanf:"jwksurl"`
	JWKSRefresh time.Duration `koanf:"jwksrefresh"`
	TokenExpiry time.Duration `koanf:"tokenexpiry"`
	Leeway      time.Duration `koanf:"leeway"`
}

// PermissionConfig tunes the effective-permission cache and resolver.
type PermissionConfig struct {
	CacheTTL     time.Duration `koanf:"cachettl"`
	FailureTTL   time.Duration `koanf:"failurettl"`
	MaxEntries   int           `koanf:"maxentries"`
	FetchTimeout time.Duration `koanf:"fetchtimeout"`
}

// RedisConfig enables cross-instance cache invalidation when URL is set.
type RedisConfig struct {
	URL     string `koanf:"url"`
	Channel string `koanf:"channel"`
}

type TelemetryConfig struct {
	ServiceName  string `koanf:"servicename"`
	OTLPEndpoint string `koanf:"otlpendpoint"`
	Insecure     bool   `koanf:"insecure"`
}

type CORSConfig struct {
	Origins []string `koanf:"origins"`
}

type AuditConfig struct {
	Enabled       bool          `koanf:"enabled"`
	BufferSize    int           `koanf:"buffersize"`
	BatchSize     int           `koanf:"batchsize"`
	FlushInterval time.Duration `koanf:"flushinterval"`
}

func Load(configPaths ...string) (*Config, error) {
	k := koanf.New(".")

	// Defaults
	_ = k.Load(confmap.Provider(map[string]any{
		"server.port":             8080,
		"server.host":             "0.0.0.0",
		"server.shutdowntimeout":  "15s",
		"database.maxconns":       25,
		"database.migrate":        true,
		"log.level":               "info",
		"log.format":              "json",
		"auth.devmode":            false,
		"auth.issuer":             "pecora",
		"auth.jwksrefresh":        "1h",
		"auth.tokenexpiry":        "1h",
		"auth.leeway":             "30s",
		"permission.cachettl":     "30s",
		"permission.failurettl":   "2s",
		"permission.maxentries":   10000,
		"permission.fetchtimeout": "3s",
		"redis.channel":           "pecora:permissions:invalidate",
		"telemetry.servicename":   "pecora",
		"audit.enabled":           true,
		"audit.buffersize":        1024,
		"audit.batchsize":         50,
		"audit.flushinterval":     "500ms",
	}, "."), nil)

	// YAML files are optional, but one that exists must parse.
	for _, path := range configPaths {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
	}

	// Environment variables override everything
	// PECORA_SERVER_PORT -> server.port
	// PECORA_CORS_ORIGINS is a comma separated list.
	_ = k.Load(env.ProviderWithValue(envPrefix, ".", func(key, value string) (string, any) {
		key = strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(key, envPrefix)),
			"_", ".",
		)
		if key == "cors.origins" {
			return key, splitList(value)
		}
		return key, value
	}), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate reports settings the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if !c.Auth.DevMode && c.Auth.SigningKey == "" && c.Auth.JWKSURL == "" {
		errs = append(errs, errors.New("auth.signingkey or auth.jwksurl is required outside dev mode"))
	}
	if c.Auth.DevMode && c.Auth.DevUserID == "" {
		errs = append(errs, errors.New("auth.devuserid is required in dev mode"))
	}
	if c.Permission.CacheTTL <= 0 {
		errs = append(errs, errors.New("permission.cachettl must be positive"))
	}
	if c.Permission.FailureTTL < 0 {
		errs = append(errs, errors.New("permission.failurettl must not be negative"))
	}
	if c.Permission.FetchTimeout <= 0 {
		errs = append(errs, errors.New("permission.fetchtimeout must be positive"))
	}
	return errors.Join(errs...)
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

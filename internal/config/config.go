package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// CreateKeyCmd issues a new scanner-station key and prints it once.
type CreateKeyCmd struct {
	Name string `arg:"positional,required" help:"station name"`
}

// ListKeysCmd prints the registered scanner-station keys.
type ListKeysCmd struct{}

// RevokeKeyCmd disables a scanner-station key by id.
type RevokeKeyCmd struct {
	ID int `arg:"positional,required" help:"station key id"`
}

// Args are the server's command-line flags. Every flag can also be set
// through its environment variable.
type Args struct {
	Config              string        `arg:"-c,--config,env:QRTRACE_CONFIG" help:"YAML config file"`
	Listen              string        `arg:"-l,--listen,env:QRTRACE_LISTEN" help:"listen address"`
	DB                  string        `arg:"--db,env:QRTRACE_DB" help:"SQLite database path"`
	LogLevel            string        `arg:"--log-level,env:QRTRACE_LOG_LEVEL"`
	LogFormat           string        `arg:"--log-format,env:QRTRACE_LOG_FORMAT" help:"json or text"`
	RedisAddr           string        `arg:"--redis-addr,env:QRTRACE_REDIS_ADDR" help:"enables the cross-replica document lock"`
	RequireStationKey   *bool         `arg:"--require-station-key,env:QRTRACE_REQUIRE_STATION_KEY"`
	DefaultDocumentType string        `arg:"--default-document-type,env:QRTRACE_DEFAULT_DOCUMENT_TYPE"`
	CreateKey           *CreateKeyCmd `arg:"subcommand:create-key" help:"create a scanner-station key"`
	ListKeys            *ListKeysCmd  `arg:"subcommand:list-keys" help:"list scanner-station keys"`
	RevokeKey           *RevokeKeyCmd `arg:"subcommand:revoke-key" help:"revoke a scanner-station key"`
}

// Config is the resolved server configuration.
type Config struct {
	Listen              string        `yaml:"listen"`
	DBPath              string        `yaml:"db_path"`
	LogLevel            string        `yaml:"log_level"`
	LogFormat           string        `yaml:"log_format"`
	RedisAddr           string        `yaml:"redis_addr"`
	LockTTL             time.Duration `yaml:"lock_ttl"`
	LockWait            time.Duration `yaml:"lock_wait"`
	RequireStationKey   bool          `yaml:"require_station_key"`
	DefaultDocumentType string        `yaml:"default_document_type"`
	ScanSessionTTL      time.Duration `yaml:"scan_session_ttl"`
}

func Default() Config {
	return Config{
		Listen:              ":9000",
		DBPath:              "qrtrace.db",
		LogLevel:            "info",
		LogFormat:           "text",
		LockTTL:             30 * time.Second,
		LockWait:            5 * time.Second,
		RequireStationKey:   true,
		DefaultDocumentType: "fulfillment",
		ScanSessionTTL:      8 * time.Hour,
	}
}

// Load resolves configuration: defaults, then the YAML file if one is named,
// then flags and environment.
func Load(args Args) (Config, error) {
	cfg := Default()
	if args.Config != "" {
		b, err := os.ReadFile(args.Config)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", args.Config, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", args.Config, err)
		}
	}

	if args.Listen != "" {
		cfg.Listen = args.Listen
	}
	if args.DB != "" {
		cfg.DBPath = args.DB
	}
	if args.LogLevel != "" {
		cfg.LogLevel = args.LogLevel
	}
	if args.LogFormat != "" {
		cfg.LogFormat = args.LogFormat
	}
	if args.RedisAddr != "" {
		cfg.RedisAddr = args.RedisAddr
	}
	if args.RequireStationKey != nil {
		cfg.RequireStationKey = *args.RequireStationKey
	}
	if args.DefaultDocumentType != "" {
		cfg.DefaultDocumentType = args.DefaultDocumentType
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var problems []string
	if c.Listen == "" {
		problems = append(problems, "listen address is required")
	}
	if c.DBPath == "" {
		problems = append(problems, "db_path is required")
	}
	if c.LockTTL <= 0 {
		problems = append(problems, "lock_ttl must be positive")
	}
	if c.LockWait < 0 {
		problems = append(problems, "lock_wait cannot be negative")
	}
	if f := strings.ToLower(c.LogFormat); f != "json" && f != "text" {
		problems = append(problems, "log_format must be json or text")
	}
	if len(problems) > 0 {
		return errors.New("invalid config: " + strings.Join(problems, "; "))
	}
	return nil
}

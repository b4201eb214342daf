package infra

import (
	"errors"
	"fmt"
	"os"

	"dutch_auction/internal/domain"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is used when LEDGER_CONFIG is unset.
const DefaultConfigPath = "configs/config.yaml"

// Config holds every runtime setting of the ledger service.
// LoadConfig reads the YAML file and then applies environment overrides.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Ledger struct {
		Owner string `yaml:"owner"` // platform account credited with fees
	} `yaml:"ledger"`

	Currency struct {
		Symbol   string `yaml:"symbol"`
		Decimals int32  `yaml:"decimals"`
	} `yaml:"currency"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Events struct {
		InboxSize int    `yaml:"inbox_size"`
		DumpFile  string `yaml:"dump_file"`
	} `yaml:"events"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// ResolveConfigPath returns path, else LEDGER_CONFIG, else DefaultConfigPath.
func ResolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv("LEDGER_CONFIG"); env != "" {
		return env
	}
	return DefaultConfigPath
}

// LoadConfig reads and validates the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(ResolveConfigPath(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %v", domain.ErrConfigNotFound, err)
		}
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.App.Name = "dutch-auction-ledger"
	cfg.Server.Addr = ":8080"
	cfg.Currency.Symbol = "ETH"
	cfg.Currency.Decimals = 18
	cfg.Storage.Path = "data/ledger.db"
	cfg.Events.InboxSize = 1024
	cfg.Events.DumpFile = "panic_dump.json"
	cfg.Logging.Level = "info"
	cfg.Logging.Dir = "logs"
	return cfg
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return &domain.ConfigError{Field: "server.addr", Err: errors.New("required")}
	}
	if c.Ledger.Owner == "" {
		return &domain.ConfigError{Field: "ledger.owner", Err: errors.New("required")}
	}
	if c.Currency.Decimals < 0 || c.Currency.Decimals > 30 {
		return &domain.ConfigError{Field: "currency.decimals", Err: fmt.Errorf("%d out of range 0..30", c.Currency.Decimals)}
	}
	if c.Storage.Path == "" {
		return &domain.ConfigError{Field: "storage.path", Err: errors.New("required")}
	}
	if c.Events.InboxSize <= 0 {
		return &domain.ConfigError{Field: "events.inbox_size", Err: errors.New("must be positive")}
	}
	return nil
}

// overrideWithEnv applies LEDGER_* environment variables over file values.
func overrideWithEnv(cfg *Config) {
	if addr := os.Getenv("LEDGER_SERVER_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if owner := os.Getenv("LEDGER_OWNER"); owner != "" {
		cfg.Ledger.Owner = owner
	}
	if path := os.Getenv("LEDGER_STORAGE_PATH"); path != "" {
		cfg.Storage.Path = path
	}
	if level := os.Getenv("LEDGER_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}

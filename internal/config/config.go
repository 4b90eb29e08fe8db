package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Data   DataConfig   `yaml:"data" mapstructure:"data"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// ServerConfig configures the HTTP server and its passcode gate.
type ServerConfig struct {
	Port           int           `yaml:"port" mapstructure:"port"`
	Passcode       string        `yaml:"passcode" mapstructure:"passcode"`
	SessionTTL     time.Duration `yaml:"session_ttl" mapstructure:"session_ttl"`
	LoginRatePerS  float64       `yaml:"login_rate_per_s" mapstructure:"login_rate_per_s"`
	LoginBurst     int           `yaml:"login_burst" mapstructure:"login_burst"`
	AllowedOrigins []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// DataConfig configures where and how the two source tables are retrieved.
type DataConfig struct {
	// Backend selects the object retrieval backend: local, http, or ftp.
	Backend string `yaml:"backend" mapstructure:"backend"`
	// Base is the directory (local) or URL prefix (http/ftp) keys resolve
	// against.
	Base string `yaml:"base" mapstructure:"base"`
	// GeoKey is the object key of the base geo table (.geojson or .shp).
	GeoKey string `yaml:"geo_key" mapstructure:"geo_key"`
	// VisitationKey is the object key of the visitation table (.csv or .xlsx).
	VisitationKey string `yaml:"visitation_key" mapstructure:"visitation_key"`
	// SourceSRID declares the CRS the geo table arrives in (4326 or 3857).
	SourceSRID int `yaml:"source_srid" mapstructure:"source_srid"`
	// CSVCharset names the visitation CSV text encoding; empty means UTF-8.
	CSVCharset string `yaml:"csv_charset" mapstructure:"csv_charset"`
	// CatalogPath overrides the embedded variable catalog when set.
	CatalogPath string `yaml:"catalog_path" mapstructure:"catalog_path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TRACTINDEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.session_ttl", "24h")
	v.SetDefault("server.login_rate_per_s", 1.0)
	v.SetDefault("server.login_burst", 5)
	v.SetDefault("data.backend", "local")
	v.SetDefault("data.base", "./data")
	v.SetDefault("data.geo_key", "data_residential.geojson")
	v.SetDefault("data.visitation_key", "full_data.csv")
	v.SetDefault("data.source_srid", 4326)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the fields a command mode depends on. serve needs the full
// HTTP surface configured; inspect only needs the data section.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Data.Backend {
	case "", "local", "http", "https", "ftp":
	default:
		problems = append(problems, "data.backend must be local, http, https, or ftp")
	}
	if c.Data.SourceSRID != 4326 && c.Data.SourceSRID != 3857 {
		problems = append(problems, "data.source_srid must be 4326 or 3857")
	}
	if c.Data.GeoKey == "" {
		problems = append(problems, "data.geo_key is required")
	}
	if c.Data.VisitationKey == "" {
		problems = append(problems, "data.visitation_key is required")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		if c.Server.Passcode == "" {
			problems = append(problems, "server.passcode is required")
		}
		if c.Server.SessionTTL <= 0 {
			problems = append(problems, "server.session_ttl must be > 0")
		}
	case "inspect":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mariukha/CoopManager/pkg/changefeed"
	"github.com/spf13/viper"
)

// Version is set at build time with -ldflags.
var Version = "dev"

// Config holds application-wide configuration
type Config struct {
	REST    RESTConfig        `mapstructure:"rest"`
	DB      DBConfig          `mapstructure:"db"`
	Auth    AuthConfig        `mapstructure:"auth"`
	Cache   CacheConfig       `mapstructure:"cache"`
	Metrics MetricsConfig     `mapstructure:"metrics"`
	Feed    changefeed.Config `mapstructure:"feed"`
}

type RESTConfig struct {
	ListenAddr   string        `mapstructure:"listenAddr"`
	BaseURL      string        `mapstructure:"baseURL"`
	CORSOrigins  []string      `mapstructure:"corsOrigins"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	// BasicAuth guards the operational surface (/system, /schema) when set.
	BasicAuth   map[string]string `mapstructure:"basicAuth"`
	TLSCertFile string            `mapstructure:"tlsCertFile"`
	TLSKeyFile  string            `mapstructure:"tlsKeyFile"`
}

type DBConfig struct {
	ConnString string `mapstructure:"connString"`
	// ReadConnString points reads (views, reports, resident portal) at a replica.
	ReadConnString string `mapstructure:"readConnString"`
	Schema         string `mapstructure:"schema"`
	MaxConns       int32  `mapstructure:"maxConns"`
}

type AuthConfig struct {
	JWTSecret  string        `mapstructure:"jwtSecret"`
	TokenTTL   time.Duration `mapstructure:"tokenTTL"`
	Required   bool          `mapstructure:"required"`
	LoginRate  float64       `mapstructure:"loginRate"`
	LoginBurst int           `mapstructure:"loginBurst"`
}

type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Default returns the configuration used when neither file nor env set a value.
func Default() Config {
	return Config{
		REST: RESTConfig{
			ListenAddr:   ":8000",
			CORSOrigins:  []string{"*"},
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		DB: DBConfig{
			Schema: "public",
		},
		Auth: AuthConfig{
			TokenTTL:   12 * time.Hour,
			LoginRate:  1,
			LoginBurst: 5,
		},
		Cache: CacheConfig{
			TTL: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Feed: changefeed.DefaultConfig(),
	}
}

// Load reads config from file or environment. Environment variables use the
// COOP prefix with dots replaced by underscores, e.g. COOP_DB_CONNSTRING.
func Load(cfgFile string) (*Config, error) {
	return LoadWith(viper.GetViper(), cfgFile)
}

// LoadWith is Load against a caller-supplied viper instance, which lets
// commands bind their flags before the config is decoded.
func LoadWith(v *viper.Viper, cfgFile string) (*Config, error) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("coop")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config"))
		}
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("COOP")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()
	bindEnv(v)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	if c.Auth.Required && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.required needs auth.jwtSecret")
	}
	if (c.REST.TLSCertFile == "") != (c.REST.TLSKeyFile == "") {
		return fmt.Errorf("rest.tlsCertFile and rest.tlsKeyFile must be set together")
	}
	if c.Auth.LoginRate < 0 {
		return fmt.Errorf("auth.loginRate must not be negative")
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Listen struct {
	BindIP   string `yaml:"bind_ip" env:"LISTEN_BIND_IP" env-default:"0.0.0.0"`
	Port     string `yaml:"port" env:"LISTEN_PORT" env-default:"5000"`
	TLS      bool   `yaml:"tls_enabled" env-default:"false"`
	CertFile string `yaml:"cert_file" env-default:""`
	KeyFile  string `yaml:"key_file" env-default:""`
}

type Api struct {
	BindIP   string `yaml:"bind_ip" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"API_PORT" env-default:"5100"`
	TLS      bool   `yaml:"tls_enabled" env-default:"false"`
	CertFile string `yaml:"cert_file" env-default:""`
	KeyFile  string `yaml:"key_file" env-default:""`
}

type Config struct {
	IsDebug          bool   `yaml:"is_debug" env:"DEBUG" env-default:"false"`
	TimeZone         string `yaml:"time_zone" env-default:"UTC"`
	AcceptUnknownTag bool   `yaml:"accept_unknown_tag" env-default:"false"`
	AcceptUnknownChp bool   `yaml:"accept_unknown_chp" env-default:"false"`
	Listen           Listen `yaml:"listen"`
	Api              Api    `yaml:"api"`
	Ledger           struct {
		IdleGap             time.Duration `yaml:"idle_gap" env-default:"5m"`
		ChargingThresholdWh int64         `yaml:"charging_threshold_wh" env-default:"0"`
		ResolveTimeout      time.Duration `yaml:"resolve_timeout" env-default:"5s"`
		FinalizedRetention  time.Duration `yaml:"finalized_retention" env-default:"24h"`
	} `yaml:"ledger"`
	Commands struct {
		Timeout time.Duration `yaml:"timeout" env-default:"10s"`
		// MeterTrigger is the period of MeterValues triggers for active sessions, 0 disables them
		MeterTrigger time.Duration `yaml:"meter_trigger" env-default:"0s"`
	} `yaml:"commands"`
	Mongo struct {
		Enabled  bool          `yaml:"enabled" env-default:"false"`
		Host     string        `yaml:"host" env:"MONGO_HOST" env-default:"127.0.0.1"`
		Port     string        `yaml:"port" env:"MONGO_PORT" env-default:"27017"`
		User     string        `yaml:"user" env:"MONGO_USER" env-default:""`
		Password string        `yaml:"password" env:"MONGO_PASSWORD" env-default:""`
		Database string        `yaml:"database" env-default:"evledger"`
		Timeout  time.Duration `yaml:"timeout" env-default:"5s"`
	} `yaml:"mongo"`
	Outbox struct {
		Path          string        `yaml:"path" env-default:""`
		FlushInterval time.Duration `yaml:"flush_interval" env-default:"5s"`
	} `yaml:"outbox"`
	Ocpi struct {
		Enabled     bool          `yaml:"enabled" env-default:"false"`
		Url         string        `yaml:"url" env-default:""`
		Token       string        `yaml:"token" env:"OCPI_TOKEN" env-default:""`
		CountryCode string        `yaml:"country_code" env-default:""`
		PartyId     string        `yaml:"party_id" env-default:""`
		Tenant      string        `yaml:"tenant" env-default:""`
		BaseUrl     string        `yaml:"base_url" env-default:""`
		PullPeriod  time.Duration `yaml:"pull_period" env-default:"1h"`
		PageLimit   int           `yaml:"page_limit" env-default:"50"`
	} `yaml:"ocpi"`
	Kafka struct {
		Enabled bool     `yaml:"enabled" env-default:"false"`
		Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:","`
		Topic   string   `yaml:"topic" env-default:"charging-sessions"`
	} `yaml:"kafka"`
	Telegram struct {
		Enabled bool   `yaml:"enabled" env-default:"false"`
		ApiKey  string `yaml:"api_key" env:"TELEGRAM_API_KEY" env-default:""`
	} `yaml:"telegram"`
	Pusher struct {
		Enabled bool   `yaml:"enabled" env-default:"false"`
		AppID   string `yaml:"app_id" env-default:""`
		Key     string `yaml:"key" env-default:""`
		Secret  string `yaml:"secret" env-default:""`
		Cluster string `yaml:"cluster" env-default:"eu"`
	} `yaml:"pusher"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" env-default:"false"`
		BindIP  string `yaml:"bind_ip" env-default:"127.0.0.1"`
		Port    string `yaml:"port" env-default:"9100"`
	} `yaml:"metrics"`
}

// Load reads the yaml file at path, overlays environment variables and validates the result
func Load(path string) (*Config, error) {
	conf := &Config{}
	if err := cleanenv.ReadConfig(path, conf); err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// Default returns a configuration with every default applied, without reading a file
func Default() (*Config, error) {
	conf := &Config{}
	if err := cleanenv.ReadEnv(conf); err != nil {
		return nil, fmt.Errorf("config: reading environment: %w", err)
	}
	return conf, nil
}

func (c *Config) Validate() error {
	if c.Listen.Port == "" {
		return errors.New("config: listen.port must be set")
	}
	if c.Listen.TLS && (c.Listen.CertFile == "" || c.Listen.KeyFile == "") {
		return errors.New("config: listen.cert_file and listen.key_file must be set when tls is enabled")
	}
	if c.Api.Port == "" {
		return errors.New("config: api.port must be set")
	}
	if c.Ledger.IdleGap <= 0 {
		return errors.New("config: ledger.idle_gap must be positive")
	}
	if c.Ledger.ChargingThresholdWh < 0 {
		return errors.New("config: ledger.charging_threshold_wh must not be negative")
	}
	if c.Ledger.ResolveTimeout <= 0 {
		return errors.New("config: ledger.resolve_timeout must be positive")
	}
	if c.Commands.Timeout <= 0 {
		return errors.New("config: commands.timeout must be positive")
	}
	if c.Commands.MeterTrigger < 0 {
		return errors.New("config: commands.meter_trigger must not be negative")
	}
	if c.Mongo.Enabled && c.Mongo.Database == "" {
		return errors.New("config: mongo.database must be set")
	}
	if c.Ocpi.Enabled {
		if c.Ocpi.Url == "" || c.Ocpi.Token == "" {
			return errors.New("config: ocpi.url and ocpi.token must be set")
		}
		if len(c.Ocpi.CountryCode) != 2 || len(c.Ocpi.PartyId) != 3 {
			return errors.New("config: ocpi.country_code must have 2 and ocpi.party_id 3 characters")
		}
		if c.Ocpi.Tenant == "" {
			return errors.New("config: ocpi.tenant must be set")
		}
		if c.Ocpi.PageLimit <= 0 {
			return errors.New("config: ocpi.page_limit must be positive")
		}
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("config: kafka.brokers must be set")
	}
	if c.Telegram.Enabled && c.Telegram.ApiKey == "" {
		return errors.New("config: telegram.api_key must be set")
	}
	return nil
}

package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"ordersync/internal/bootstrap/logging"
	"ordersync/internal/errs"
)

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Log        LogConfig        `mapstructure:"log"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Broker     BrokerConfig     `mapstructure:"broker"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	DeadLetter DeadLetterConfig `mapstructure:"dead_letter"`
	HTTP       HTTPConfig       `mapstructure:"http"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type BrokerConfig struct {
	Driver string      `mapstructure:"driver"`
	Kafka  KafkaConfig `mapstructure:"kafka"`
	NATS   NATSConfig  `mapstructure:"nats"`
}

type KafkaConfig struct {
	Brokers         string `mapstructure:"brokers"`
	Topic           string `mapstructure:"topic"`
	GroupID         string `mapstructure:"group_id"`
	DeadLetterTopic string `mapstructure:"dead_letter_topic"`
}

type NATSConfig struct {
	URL               string        `mapstructure:"url"`
	Stream            string        `mapstructure:"stream"`
	Subject           string        `mapstructure:"subject"`
	Durable           string        `mapstructure:"durable"`
	DeadLetterSubject string        `mapstructure:"dead_letter_subject"`
	FetchWait         time.Duration `mapstructure:"fetch_wait"`
}

type PipelineConfig struct {
	Workers      int           `mapstructure:"workers"`
	StoreTimeout time.Duration `mapstructure:"store_timeout"`
	Retry        RetryConfig   `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

type DeadLetterConfig struct {
	Sink string `mapstructure:"sink"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

const (
	BrokerKafka = "kafka"
	BrokerNATS  = "nats"

	SinkStore  = "store"
	SinkBroker = "broker"
)

func Load(ctx context.Context, configFile string) (Config, error) {
	if ctx == nil {
		return Config{}, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return Config{}, errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.config"))

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("OS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile == "" && errors.As(err, &notFound) {
			// Keep default and env-backed config when no file is provided.
			logging.Warn(logCtx, "config file not found, fallback to defaults and env")
		} else {
			return Config{}, errs.Wrap(err, "read config")
		}
	} else {
		logging.Info(logCtx, "using config file", slog.String("path", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errs.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	logging.Info(
		logCtx,
		"config loaded",
		slog.String("app", cfg.App.Name),
		slog.String("env", cfg.App.Env),
		slog.String("database_driver", cfg.Database.Driver),
		slog.String("broker_driver", cfg.Broker.Driver),
		slog.String("dead_letter_sink", cfg.DeadLetter.Sink),
	)

	return cfg, nil
}

func (c Config) Validate() error {
	var problems []error
	if strings.TrimSpace(c.Database.DSN) == "" {
		problems = append(problems, errors.New("database.dsn is required"))
	}
	switch strings.ToLower(c.Database.Driver) {
	case "sqlite", "sqlite3", "postgres":
	default:
		problems = append(problems, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}
	switch c.Broker.Driver {
	case BrokerKafka, BrokerNATS:
	default:
		problems = append(problems, fmt.Errorf("broker.driver %q is not supported", c.Broker.Driver))
	}
	switch c.DeadLetter.Sink {
	case SinkStore, SinkBroker:
	default:
		problems = append(problems, fmt.Errorf("dead_letter.sink %q is not supported", c.DeadLetter.Sink))
	}
	if c.Pipeline.Workers < 1 {
		problems = append(problems, errors.New("pipeline.workers must be at least 1"))
	}
	if c.Pipeline.StoreTimeout <= 0 {
		problems = append(problems, errors.New("pipeline.store_timeout must be positive"))
	}
	if c.Pipeline.Retry.MaxAttempts < 1 {
		problems = append(problems, errors.New("pipeline.retry.max_attempts must be at least 1"))
	}
	return errors.Join(problems...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "ordersync")
	v.SetDefault("app.env", "local")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", ".data/orders.sqlite")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("broker.driver", BrokerKafka)
	v.SetDefault("broker.kafka.brokers", "localhost:9092")
	v.SetDefault("broker.kafka.topic", "order-demo")
	v.SetDefault("broker.kafka.group_id", "ordersync")
	v.SetDefault("broker.kafka.dead_letter_topic", "order-demo-dlq")
	v.SetDefault("broker.nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("broker.nats.stream", "ORDERS")
	v.SetDefault("broker.nats.subject", "orders")
	v.SetDefault("broker.nats.durable", "ordersync")
	v.SetDefault("broker.nats.dead_letter_subject", "orders-dlq")
	v.SetDefault("broker.nats.fetch_wait", "1s")

	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.store_timeout", "5s")
	v.SetDefault("pipeline.retry.max_attempts", 5)
	v.SetDefault("pipeline.retry.initial_interval", "200ms")
	v.SetDefault("pipeline.retry.max_interval", "5s")

	v.SetDefault("dead_letter.sink", SinkStore)
	v.SetDefault("http.addr", ":8080")
}

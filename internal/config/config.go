package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "GPSCATCHER"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	TCP      TCPConfig      `mapstructure:"tcp"`
	Database DatabaseConfig `mapstructure:"database"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	Redis    RedisConfig    `mapstructure:"redis"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Geofence GeofenceConfig `mapstructure:"geofence"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TCPConfig holds the device listener ports. Zero disables a listener.
type TCPConfig struct {
	GL200Port      int `mapstructure:"gl200_port"`
	GPS306APort    int `mapstructure:"gps306a_port"`
	SmartBDGPSPort int `mapstructure:"smart_bdgps_port"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// MongoConfig configures the raw transmission archive. An empty URI keeps it in memory.
type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

// RedisConfig configures the geofence check lock. An empty URL uses a process-local lock.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// RabbitMQConfig configures the alert hand-off. An empty URL leaves alerts to the dispatch loop.
type RabbitMQConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
	Queue    string `mapstructure:"queue"`
}

// MQTTConfig configures gateway ingestion. An empty broker disables it.
type MQTTConfig struct {
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         byte   `mapstructure:"qos"`
}

type GeofenceConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	Concurrency   int           `mapstructure:"concurrency"`
	LockTTL       time.Duration `mapstructure:"lock_ttl"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
}

type DispatchConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	BatchSize   int           `mapstructure:"batch_size"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	ClaimLease  time.Duration `mapstructure:"claim_lease"`
}

type IngestConfig struct {
	Workers        int           `mapstructure:"workers"`
	QueueSize      int           `mapstructure:"queue_size"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	SweepBatch     int           `mapstructure:"sweep_batch"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	DedupCacheSize int           `mapstructure:"dedup_cache_size"`
	ClaimLease     time.Duration `mapstructure:"claim_lease"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")

	v.SetDefault("tcp.gl200_port", 0)
	v.SetDefault("tcp.gps306a_port", 0)
	v.SetDefault("tcp.smart_bdgps_port", 0)

	v.SetDefault("database.dsn", "postgres://localhost:5432/gps_catcher?sslmode=disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", "5m")

	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", "gps_catcher")

	v.SetDefault("redis.url", "")

	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("rabbitmq.exchange", "gps.events")
	v.SetDefault("rabbitmq.queue", "fence_alerts")

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "gps-catcher")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic_prefix", "gps")
	v.SetDefault("mqtt.qos", 1)

	v.SetDefault("geofence.batch_size", 500)
	v.SetDefault("geofence.concurrency", 4)
	v.SetDefault("geofence.lock_ttl", "5m")
	v.SetDefault("geofence.check_interval", "30s")

	v.SetDefault("dispatch.interval", "1m")
	v.SetDefault("dispatch.batch_size", 50)
	v.SetDefault("dispatch.http_timeout", "10s")
	v.SetDefault("dispatch.max_attempts", 5)
	v.SetDefault("dispatch.claim_lease", "10m")

	v.SetDefault("ingest.workers", 4)
	v.SetDefault("ingest.queue_size", 256)
	v.SetDefault("ingest.sweep_interval", "5m")
	v.SetDefault("ingest.sweep_batch", 100)
	v.SetDefault("ingest.max_attempts", 3)
	v.SetDefault("ingest.dedup_cache_size", 10000)
	v.SetDefault("ingest.claim_lease", "10m")

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads an optional YAML file and GPSCATCHER_* environment variables,
// for example GPSCATCHER_DATABASE_DSN. A missing file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

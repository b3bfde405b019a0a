package config

import (
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Env               string           `mapstructure:"env"`
	LogLevel          string           `mapstructure:"log_level"`
	LogType           string           `mapstructure:"log_type"`
	ServiceName       string           `mapstructure:"service_name"`
	Port              string           `mapstructure:"port"`
	Version           string           `mapstructure:"version"`
	HttpSettings      *HttpConfig      `mapstructure:"http"`
	AuthSettings      *AuthConfig      `mapstructure:"auth"`
	ExtractorSettings *ExtractorConfig `mapstructure:"extractor"`
	StorageSettings   *StorageConfig   `mapstructure:"storage"`
	DbSettings        *DatabaseConfig  `mapstructure:"database"`
	RedisSettings     *RedisConfig     `mapstructure:"redis"`
	CacheSettings     *CacheConfig     `mapstructure:"cache"`
	S3Settings        *S3Config        `mapstructure:"s3"`
	PhotoSettings     *PhotoConfig     `mapstructure:"photo"`
	KafkaSettings     *KafkaConfig     `mapstructure:"kafka"`
	WorkerSettings    *WorkerConfig    `mapstructure:"worker"`
}

type HttpConfig struct {
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigin   string        `mapstructure:"allowed_origin"`
}

type AuthConfig struct {
	SharedSecret  string        `mapstructure:"shared_secret"`
	MaxFailures   int           `mapstructure:"max_failures"`
	FailureWindow time.Duration `mapstructure:"failure_window"`
}

type ExtractorConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxBytes     int64         `mapstructure:"max_bytes"`
	MaxRedirects int           `mapstructure:"max_redirects"`
	UserAgent    string        `mapstructure:"user_agent"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"` // mysql or redis
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type CacheConfig struct {
	Servers       string        `mapstructure:"servers"`
	TtlForRecipes time.Duration `mapstructure:"ttl_for_recipes"`
}

type S3Config struct {
	AwsAccessKey    string `mapstructure:"aws_access_key"`
	AwsSecretKey    string `mapstructure:"aws_secret_key"`
	AwsBaseEndpoint string `mapstructure:"aws_base_endpoint"`
	Region          string `mapstructure:"region"`
	BucketName      string `mapstructure:"bucket_name"`
	KeyPrefix       string `mapstructure:"key_prefix"`
}

type PhotoConfig struct {
	MaxBytes  int64         `mapstructure:"max_bytes"`
	CacheTime time.Duration `mapstructure:"cache_time"`
}

type KafkaConfig struct {
	Producer *ProducerConfig `mapstructure:"producer"`
	Consumer *ConsumerConfig `mapstructure:"consumer"`
}

type ProducerConfig struct {
	Addr            string        `mapstructure:"addr"`
	EventsTopicName string        `mapstructure:"events_topic_name"`
	EnrichTopicName string        `mapstructure:"enrich_topic_name"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	BatchSize       int           `mapstructure:"batch_size"`
	BatchTimeout    time.Duration `mapstructure:"batch_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	RequiredAsks    int           `mapstructure:"required_acks"`
	Async           bool          `mapstructure:"async"`
}

type ConsumerConfig struct {
	ReadTopicName    string        `mapstructure:"read_topic_name"`
	Brokers          string        `mapstructure:"brokers"`
	GroupID          string        `mapstructure:"group_id"`
	MaxWait          time.Duration `mapstructure:"max_wait"`
	ReadBatchTimeout time.Duration `mapstructure:"read_batch_timeout"`
}

type WorkerConfig struct {
	MaxWorkers    int           `mapstructure:"max_workers"`
	EnrichTimeout time.Duration `mapstructure:"enrich_timeout"`
	QueueSize     int           `mapstructure:"queue_size"`
}

func MustLoad() *Config {
	// .env is optional; values there end up in the environment before viper reads it
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env file.", slog.String("err", err.Error()))
	}

	viper.AddConfigPath(path.Join("."))
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults()

	err := viper.ReadInConfig()
	if err != nil {
		slog.Error("can't initialize config file.", slog.String("err", err.Error()))
		os.Exit(1)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		slog.Error("error unmarshalling viper config.", slog.String("err", err.Error()))
		os.Exit(1)
	}

	return &cfg
}

func setDefaults() {
	viper.SetDefault("env", "local")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_type", "text")
	viper.SetDefault("service_name", "recipe-box")
	viper.SetDefault("port", "8080")
	viper.SetDefault("http.read_timeout", 15*time.Second)
	viper.SetDefault("http.write_timeout", 30*time.Second)
	viper.SetDefault("http.idle_timeout", 60*time.Second)
	viper.SetDefault("http.shutdown_timeout", 30*time.Second)
	viper.SetDefault("http.allowed_origin", "*")
	viper.SetDefault("auth.max_failures", 5)
	viper.SetDefault("auth.failure_window", 15*time.Minute)
	viper.SetDefault("extractor.timeout", 10*time.Second)
	viper.SetDefault("extractor.max_bytes", 1<<20)
	viper.SetDefault("extractor.max_redirects", 5)
	viper.SetDefault("storage.driver", "mysql")
	viper.SetDefault("redis.key_prefix", "recipe-box")
	viper.SetDefault("cache.ttl_for_recipes", 10*time.Minute)
	viper.SetDefault("photo.max_bytes", 8<<20)
	viper.SetDefault("photo.cache_time", 24*time.Hour)
	viper.SetDefault("worker.max_workers", 2)
	viper.SetDefault("worker.enrich_timeout", 30*time.Second)
	viper.SetDefault("worker.queue_size", 100)
}

// Package config предоставляет функциональность для управления конфигурацией сервиса телеметрии.
// Настройки собираются из значений по умолчанию, файла конфигурации, флагов командной строки
// и переменных окружения. Приоритет по возрастанию: умолчания, файл, флаги, окружение.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config содержит все параметры сервиса телеметрии.
// Тег mapstructure задаёт ключ в файле конфигурации, тег env - переменную окружения.
type Config struct {
	// Addr задает адрес и порт HTTP-сервера (например, "localhost:8080").
	Addr string `mapstructure:"address" env:"ADDRESS"`

	// ConfigFilePath указывает файл конфигурации (JSON или YAML).
	ConfigFilePath string `mapstructure:"-" env:"CONFIG"`

	// SizeTrigger - число ожидающих точек, при котором начинается сброс.
	SizeTrigger int `mapstructure:"size_trigger" env:"SIZE_TRIGGER"`

	// TimeTrigger - возраст самой старой ожидающей точки, при котором начинается сброс.
	TimeTrigger time.Duration `mapstructure:"time_trigger" env:"TIME_TRIGGER"`

	// BufferCapacity - жёсткая ёмкость буфера экспорта. При переполнении вытесняются старые точки.
	BufferCapacity int `mapstructure:"buffer_capacity" env:"BUFFER_CAPACITY"`

	// BatchSize ограничивает размер одного пакета экспорта.
	BatchSize int `mapstructure:"batch_size" env:"BATCH_SIZE"`

	FlushCheckInterval time.Duration `mapstructure:"flush_check_interval" env:"FLUSH_CHECK_INTERVAL"`

	// MaxRetries - общее число попыток экспорта одного пакета.
	MaxRetries     int           `mapstructure:"max_retries" env:"MAX_RETRIES"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay" env:"RETRY_BASE_DELAY"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay" env:"RETRY_MAX_DELAY"`
	ExportTimeout  time.Duration `mapstructure:"export_timeout" env:"EXPORT_TIMEOUT"`

	// ShutdownTimeout ограничивает финальный сброс при остановке.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`

	SamplePeriod time.Duration `mapstructure:"sample_period" env:"SAMPLE_PERIOD"`

	// SampleTimeout - дедлайн цикла сэмплера. 0 означает период сэмплера.
	SampleTimeout time.Duration `mapstructure:"sample_timeout" env:"SAMPLE_TIMEOUT"`

	// HostMetrics включает метрики хоста (память, CPU, загрузка) в снимки процесса.
	HostMetrics bool `mapstructure:"host_metrics" env:"HOST_METRICS"`

	BroadcastInterval time.Duration `mapstructure:"broadcast_interval" env:"BROADCAST_INTERVAL"`
	BroadcastQueue    int           `mapstructure:"broadcast_queue" env:"BROADCAST_QUEUE"`

	// SendTimeout ограничивает доставку одного сообщения одному подписчику.
	SendTimeout time.Duration `mapstructure:"send_timeout" env:"SEND_TIMEOUT"`

	PingInterval   time.Duration `mapstructure:"ping_interval" env:"WEBSOCKET_PING_INTERVAL"`
	PingTimeout    time.Duration `mapstructure:"ping_timeout" env:"WEBSOCKET_PING_TIMEOUT"`
	MaxConnections int           `mapstructure:"max_connections" env:"MAX_WEBSOCKET_CONNECTIONS"`

	// SinkURL включает экспорт по HTTP.
	SinkURL string `mapstructure:"sink_url" env:"SINK_URL"`

	// Key содержит секретный ключ для подписи пакетов HMAC SHA256.
	// Пустое значение отключает подпись.
	Key string `mapstructure:"key" env:"KEY"`

	SinkToken string `mapstructure:"sink_token" env:"SINK_TOKEN"`

	// DatabaseDSN включает экспорт в PostgreSQL.
	DatabaseDSN string `mapstructure:"database_dsn" env:"DATABASE_DSN"`

	ServiceName    string `mapstructure:"service_name" env:"SERVICE_NAME"`
	Environment    string `mapstructure:"environment" env:"ENVIRONMENT"`
	ServiceVersion string `mapstructure:"service_version" env:"SERVICE_VERSION"`

	LogLevel  string `mapstructure:"log_level" env:"LOG_LEVEL"`
	LogFormat string `mapstructure:"log_format" env:"LOG_FORMAT"`

	// DropAuditFile и DropAuditURL включают журнал потерянных пакетов.
	DropAuditFile string `mapstructure:"drop_audit_file" env:"DROP_AUDIT_FILE"`
	DropAuditURL  string `mapstructure:"drop_audit_url" env:"DROP_AUDIT_URL"`
}

// defaults - значения по умолчанию по ключам файла конфигурации.
var defaults = map[string]any{
	"address":              "localhost:8080",
	"size_trigger":         100,
	"time_trigger":         30 * time.Second,
	"buffer_capacity":      10000,
	"batch_size":           500,
	"flush_check_interval": time.Second,
	"max_retries":          3,
	"retry_base_delay":     time.Second,
	"retry_max_delay":      30 * time.Second,
	"export_timeout":       10 * time.Second,
	"shutdown_timeout":     10 * time.Second,
	"sample_period":        5 * time.Second,
	"sample_timeout":       time.Duration(0),
	"host_metrics":         true,
	"broadcast_interval":   time.Second,
	"broadcast_queue":      1000,
	"send_timeout":         5 * time.Second,
	"ping_interval":        30 * time.Second,
	"ping_timeout":         10 * time.Second,
	"max_connections":      100,
	"sink_url":             "",
	"key":                  "",
	"sink_token":           "",
	"database_dsn":         "",
	"service_name":         "property-management",
	"environment":          "development",
	"service_version":      "1.0.0",
	"log_level":            "info",
	"log_format":           "json",
	"drop_audit_file":      "",
	"drop_audit_url":       "",
}

// Load собирает конфигурацию из аргументов командной строки (без имени программы),
// файла конфигурации и переменных окружения процесса.
//
// Поддерживаемые флаги:
//
//	-a, --address:       адрес сервера (по умолчанию "localhost:8080")
//	-c, --config:        путь к файлу конфигурации
//	-d, --database-dsn:  строка подключения к PostgreSQL
//	-u, --sink-url:      URL внешнего хранилища метрик
//	-k, --key:           ключ для HMAC
//	--size-trigger, --time-trigger, --buffer-capacity, --batch-size,
//	--max-retries, --sample-period, --send-timeout
func Load(args []string) (Config, error) {
	return load(args, env.ToMap(os.Environ()))
}

func load(args []string, environ map[string]string) (Config, error) {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	fs := pflag.NewFlagSet("telemetry", pflag.ContinueOnError)
	configPathFlag := fs.StringP("config", "c", "", "path to config file (JSON or YAML)")
	fs.StringP("address", "a", "localhost:8080", "HTTP server address")
	fs.StringP("database-dsn", "d", "", "PostgreSQL DSN for the export sink")
	fs.StringP("sink-url", "u", "", "HTTP export sink URL")
	fs.StringP("key", "k", "", "HMAC SHA256 key for export payloads")
	fs.Int("size-trigger", 100, "pending points that trigger a flush")
	fs.Duration("time-trigger", 30*time.Second, "age of the oldest pending point that triggers a flush")
	fs.Int("buffer-capacity", 10000, "export buffer capacity")
	fs.Int("batch-size", 500, "maximum points per export batch")
	fs.Int("max-retries", 3, "export attempts per batch")
	fs.Duration("sample-period", 5*time.Second, "sampler period")
	fs.Duration("send-timeout", 5*time.Second, "per-connection send timeout")

	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("failed to parse flags: %w", err)
	}

	for key, flagName := range map[string]string{
		"address":         "address",
		"database_dsn":    "database-dsn",
		"sink_url":        "sink-url",
		"key":             "key",
		"size_trigger":    "size-trigger",
		"time_trigger":    "time-trigger",
		"buffer_capacity": "buffer-capacity",
		"batch_size":      "batch-size",
		"max_retries":     "max-retries",
		"sample_period":   "sample-period",
		"send_timeout":    "send-timeout",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flagName)); err != nil {
			return Config{}, fmt.Errorf("failed to bind flag %s: %w", flagName, err)
		}
	}

	configPath := getConfigPath(*configPathFlag, environ["CONFIG"])
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.ConfigFilePath = configPath

	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// getConfigPath возвращает путь из флага, если он задан, иначе из переменной окружения.
func getConfigPath(flagValue, envValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return envValue
}

// Validate проверяет, что размеры и интервалы положительны и согласованы.
func (c Config) Validate() error {
	var errs []error

	positive := []struct {
		name string
		val  int
	}{
		{"size_trigger", c.SizeTrigger},
		{"buffer_capacity", c.BufferCapacity},
		{"batch_size", c.BatchSize},
		{"max_retries", c.MaxRetries},
		{"broadcast_queue", c.BroadcastQueue},
	}
	for _, p := range positive {
		if p.val <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", p.name, p.val))
		}
	}

	durations := []struct {
		name string
		val  time.Duration
	}{
		{"time_trigger", c.TimeTrigger},
		{"flush_check_interval", c.FlushCheckInterval},
		{"retry_base_delay", c.RetryBaseDelay},
		{"retry_max_delay", c.RetryMaxDelay},
		{"export_timeout", c.ExportTimeout},
		{"shutdown_timeout", c.ShutdownTimeout},
		{"sample_period", c.SamplePeriod},
		{"broadcast_interval", c.BroadcastInterval},
		{"send_timeout", c.SendTimeout},
		{"ping_interval", c.PingInterval},
		{"ping_timeout", c.PingTimeout},
	}
	for _, d := range durations {
		if d.val <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", d.name, d.val))
		}
	}

	if c.SampleTimeout < 0 {
		errs = append(errs, fmt.Errorf("sample_timeout must not be negative, got %s", c.SampleTimeout))
	}
	if c.MaxConnections < 0 {
		errs = append(errs, fmt.Errorf("max_connections must not be negative, got %d", c.MaxConnections))
	}
	if c.SizeTrigger > c.BufferCapacity {
		errs = append(errs, fmt.Errorf("size_trigger (%d) exceeds buffer_capacity (%d)", c.SizeTrigger, c.BufferCapacity))
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		errs = append(errs, fmt.Errorf("retry_max_delay (%s) is less than retry_base_delay (%s)", c.RetryMaxDelay, c.RetryBaseDelay))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

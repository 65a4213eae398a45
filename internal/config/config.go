// config реализует конфигурацию apparel-admin: загрузка из YAML/ENV с предсказуемым приоритетом.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Драйверы хранилища scan-сессий.
const (
	SessionDriverMemory = "memory"
	SessionDriverBadger = "badger"
	SessionDriverRedis  = "redis"
)

// Config — корневая конфигурация сервиса.
// Приоритет источников:
//  1. явный путь, переданный в MustLoad/Load;
//  2. переменная окружения CONFIG_PATH;
//  3. файл ./local.yaml из рабочей директории;
//  4. переменные окружения.
type Config struct {
	Env       string          `yaml:"env" env:"ENV" env-default:"local"`
	HTTP      HTTPConfig      `yaml:"http"`
	DB        DBConfig        `yaml:"db"`
	S3        S3Config        `yaml:"s3"`
	Images    ImagesConfig    `yaml:"images"`
	Limits    LimitsConfig    `yaml:"limits"`
	Scan      ScanConfig      `yaml:"scan"`
	Export    ExportConfig    `yaml:"export"`
	Search    SearchConfig    `yaml:"search"`
	Identity  IdentityConfig  `yaml:"identity"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Timeouts  TimeoutConfig   `yaml:"timeouts"`
}

// HTTPConfig — публичный HTTP-сервер.
// PublicOrigin — origin, от которого строятся share-ссылки на подборки.
type HTTPConfig struct {
	Host           string   `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port           string   `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
	PublicOrigin   string   `yaml:"public_origin" env:"PUBLIC_ORIGIN" env-default:"http://localhost:8080"`
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" env-separator:","`
	// TrustProxyHeaders — сервис за reverse proxy: адрес клиента из X-Forwarded-For.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers" env:"TRUST_PROXY_HEADERS" env-default:"false"`
}

// Addr возвращает адрес в формате host:port.
func (h HTTPConfig) Addr() string {
	return net.JoinHostPort(h.Host, h.Port)
}

// DBConfig — настройки подключения к MongoDB.
type DBConfig struct {
	URL string `yaml:"url" env:"DATABASE_URL" env-required:"true"`
}

// S3Config — объектное хранилище (MinIO/S3).
type S3Config struct {
	Endpoint      string `yaml:"endpoint" env:"S3_ENDPOINT" env-required:"true"`
	RootUser      string `yaml:"root_user" env:"S3_ROOT_USER"`
	RootPassword  string `yaml:"root_password" env:"S3_ROOT_PASSWORD"`
	Bucket        string `yaml:"bucket" env:"S3_BUCKET" env-default:"apparel"`
	PublicBaseURL string `yaml:"public_base_url" env:"S3_PUBLIC_BASE_URL"`
}

// ImagesConfig — ограничения на загружаемые изображения.
type ImagesConfig struct {
	MaxSizeBytes        int64    `yaml:"max_size_bytes" env:"IMAGES_MAX_SIZE_BYTES" env-default:"10485760"`
	MaxDimension        int      `yaml:"max_dimension" env:"IMAGES_MAX_DIMENSION" env-default:"1600"`
	AllowedContentTypes []string `yaml:"allowed_content_types" env:"IMAGES_ALLOWED_CONTENT_TYPES" env-separator:"," env-default:"image/jpeg,image/png,image/webp"`
}

// LimitsConfig — лимиты постраничной выдачи.
// page_size=0 -> берём Default; верхняя граница — Max.
type LimitsConfig struct {
	Default int `yaml:"default" env:"DEFAULT_LIMIT" env-default:"20"`
	Max     int `yaml:"max" env:"MAX_LIMIT" env-default:"200"`
}

// ScanConfig — scan-сессии и опрос подборки.
type ScanConfig struct {
	PollInterval  time.Duration `yaml:"poll_interval" env:"SCAN_POLL_INTERVAL" env-default:"2s"`
	SessionDriver string        `yaml:"session_driver" env:"SCAN_SESSION_DRIVER" env-default:"memory"`
	SessionTTL    time.Duration `yaml:"session_ttl" env:"SCAN_SESSION_TTL" env-default:"12h"`
	RedisURL      string        `yaml:"redis_url" env:"SCAN_REDIS_URL"`
	BadgerPath    string        `yaml:"badger_path" env:"SCAN_BADGER_PATH" env-default:"./data/sessions"`
}

// ExportConfig — генерация PDF.
type ExportConfig struct {
	ImageTimeout time.Duration `yaml:"image_timeout" env:"EXPORT_IMAGE_TIMEOUT" env-default:"5s"`
	ItemsPerPage int           `yaml:"items_per_page" env:"EXPORT_ITEMS_PER_PAGE" env-default:"10"`
}

// SearchConfig — полнотекстовый индекс мастер-данных.
// Пустой DataPath — индекс в памяти (перестраивается на старте).
type SearchConfig struct {
	Enabled  bool   `yaml:"enabled" env:"SEARCH_ENABLED" env-default:"true"`
	DataPath string `yaml:"data_path" env:"SEARCH_DATA_PATH"`
}

// IdentityConfig — проверка токенов внешнего identity-провайдера (HS256).
// Пустой Secret отключает проверку (только для env=local).
type IdentityConfig struct {
	Secret string `yaml:"secret" env:"IDENTITY_SECRET"`
	Issuer string `yaml:"issuer" env:"IDENTITY_ISSUER"`
}

// RateLimitConfig — ограничение частоты scan-запросов.
// ScanRPS/ScanBurst — на устройство, ScanIPRPS/ScanIPBurst — на адрес
// (за одним адресом может быть несколько устройств стенда).
// MaxKeys — предел числа отслеживаемых ключей в каждом лимитере.
type RateLimitConfig struct {
	ScanRPS     float64 `yaml:"scan_rps" env:"SCAN_RPS" env-default:"5"`
	ScanBurst   int     `yaml:"scan_burst" env:"SCAN_BURST" env-default:"10"`
	ScanIPRPS   float64 `yaml:"scan_ip_rps" env:"SCAN_IP_RPS" env-default:"50"`
	ScanIPBurst int     `yaml:"scan_ip_burst" env:"SCAN_IP_BURST" env-default:"100"`
	MaxKeys     int     `yaml:"max_keys" env:"RATE_LIMIT_MAX_KEYS" env-default:"10000"`
}

// TimeoutConfig — сервисные таймауты (общий дедлайн обработки запроса).
type TimeoutConfig struct {
	Service time.Duration `yaml:"service" env:"SERVICE_TIMEOUT" env-default:"15s"`
}

// MustLoad — обёртка над Load с panic при ошибке.
func MustLoad(path string) *Config {
	cfg, err := Load(path)

	if err != nil {
		panic(err)
	}

	return cfg
}

// Load загружает конфигурацию по приоритету:
// 1) явный путь; 2) CONFIG_PATH; 3) ./local.yaml; 4) ENV.
// После чтения файла накладываем ENV-переменные поверх значений из YAML.
func Load(path string) (*Config, error) {
	var cfg Config

	readFile := func(p string) error {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("config file %q stat failed: %w", p, err)
		}

		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return fmt.Errorf("failed to overlay env: %w", err)
		}

		return nil
	}

	switch {
	case path != "":
		if err := readFile(path); err != nil {
			return nil, err
		}
	case os.Getenv("CONFIG_PATH") != "":
		if err := readFile(os.Getenv("CONFIG_PATH")); err != nil {
			return nil, err
		}
	default:
		if _, err := os.Stat("local.yaml"); err == nil {
			if err := readFile("local.yaml"); err != nil {
				return nil, err
			}
			break
		}

		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("config not found: provide --config, CONFIG_PATH, local.yaml or env vars: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate — базовая валидация значений.
func (c *Config) validate() error {
	if c.DB.URL == "" {
		return fmt.Errorf("db.url is required")
	}

	if c.S3.Endpoint == "" {
		return fmt.Errorf("s3.endpoint is required")
	}

	if c.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required")
	}

	if c.Limits.Default <= 0 {
		return fmt.Errorf("limits.default must be > 0")
	}

	if c.Limits.Max <= 0 {
		return fmt.Errorf("limits.max must be > 0")
	}

	if c.Limits.Default > c.Limits.Max {
		return fmt.Errorf("limits.default must be <= limits.max")
	}

	if c.Scan.PollInterval < 100*time.Millisecond {
		return fmt.Errorf("scan.poll_interval must be at least 100ms")
	}

	switch c.Scan.SessionDriver {
	case SessionDriverMemory, SessionDriverBadger:
	case SessionDriverRedis:
		if strings.TrimSpace(c.Scan.RedisURL) == "" {
			return fmt.Errorf("scan.redis_url is required for redis session driver")
		}
	default:
		return fmt.Errorf("scan.session_driver must be one of memory|badger|redis, got %q", c.Scan.SessionDriver)
	}

	if c.Export.ItemsPerPage <= 0 {
		return fmt.Errorf("export.items_per_page must be > 0")
	}

	if c.Export.ImageTimeout <= 0 {
		return fmt.Errorf("export.image_timeout must be > 0")
	}

	if c.Env != "local" && c.Identity.Secret == "" {
		return fmt.Errorf("identity.secret is required outside local env")
	}

	if c.RateLimit.ScanRPS <= 0 || c.RateLimit.ScanBurst <= 0 {
		return fmt.Errorf("rate_limit.scan_rps and rate_limit.scan_burst must be > 0")
	}

	if c.RateLimit.ScanIPRPS < c.RateLimit.ScanRPS || c.RateLimit.ScanIPBurst < c.RateLimit.ScanBurst {
		return fmt.Errorf("rate_limit.scan_ip_rps/scan_ip_burst must be >= per-device limits")
	}

	if c.RateLimit.MaxKeys <= 0 {
		return fmt.Errorf("rate_limit.max_keys must be > 0")
	}

	return nil
}

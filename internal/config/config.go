// Package config loads catalog-sync configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/Sternrassler/catalog-sync/pkg/logging"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all process configuration.
type Config struct {
	Marketplace MarketplaceConfig
	Redis       RedisConfig
	Database    DatabaseConfig
	Sync        SyncConfig
	Admin       AdminConfig
	Log         LogConfig
}

// MarketplaceConfig holds partner API settings.
type MarketplaceConfig struct {
	PartnerID  int64         `envconfig:"MARKETPLACE_PARTNER_ID" required:"true"`
	PartnerKey string        `envconfig:"MARKETPLACE_PARTNER_KEY" required:"true"`
	Host       string        `envconfig:"MARKETPLACE_HOST" required:"true"`
	ShopID     int64         `envconfig:"MARKETPLACE_SHOP_ID" required:"true"`
	Timeout    time.Duration `envconfig:"MARKETPLACE_TIMEOUT" default:"30s"`

	// RefreshToken seeds durable token storage on first start.
	RefreshToken string `envconfig:"MARKETPLACE_REFRESH_TOKEN" default:""`

	// Statuses are the item-status partitions walked per pass.
	Statuses   []string `envconfig:"MARKETPLACE_STATUSES" default:"NORMAL,BANNED,UNLIST,REVIEWING,SELLER_DELETE,SHOPEE_DELETE"`
	PageSize   int      `envconfig:"MARKETPLACE_PAGE_SIZE" default:"100"`
	GroupWidth int      `envconfig:"MARKETPLACE_GROUP_WIDTH" default:"10"`

	// RPS paces outgoing attempts; 0 disables pacing.
	RPS   float64 `envconfig:"MARKETPLACE_RPS" default:"10"`
	Burst int     `envconfig:"MARKETPLACE_BURST" default:"5"`

	// SharedCooldown publishes 429 backoff through Redis.
	SharedCooldown bool `envconfig:"MARKETPLACE_SHARED_COOLDOWN" default:"true"`
}

// RedisConfig holds the Redis connection used for tokens and cooldowns.
type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password string `envconfig:"REDIS_PASSWORD" default:""`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

// DatabaseConfig holds PostgreSQL settings. URL, when set, wins over the parts.
type DatabaseConfig struct {
	URL      string `envconfig:"DATABASE_URL" default:""`
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     int    `envconfig:"DB_PORT" default:"5432"`
	Name     string `envconfig:"DB_NAME" default:"catalog"`
	User     string `envconfig:"DB_USER" default:"catalog"`
	Password string `envconfig:"DB_PASSWORD" default:""`
	SSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`

	BatchSize int  `envconfig:"DB_BATCH_SIZE" default:"1000"`
	Migrate   bool `envconfig:"DB_MIGRATE" default:"true"`
}

// SyncConfig controls the sync loop.
type SyncConfig struct {
	Interval          time.Duration `envconfig:"SYNC_INTERVAL" default:"1h"`
	DetailConcurrency int           `envconfig:"SYNC_DETAIL_CONCURRENCY" default:"10"`
	// RunOnce performs a single pass and exits.
	RunOnce bool `envconfig:"SYNC_RUN_ONCE" default:"false"`
}

// AdminConfig holds the admin HTTP server settings.
type AdminConfig struct {
	Addr            string        `envconfig:"ADMIN_ADDR" default:":8080"`
	ReadTimeout     time.Duration `envconfig:"ADMIN_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"ADMIN_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"ADMIN_SHUTDOWN_TIMEOUT" default:"30s"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Pretty bool   `envconfig:"LOG_PRETTY" default:"false"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     d.Name,
		RawQuery: "sslmode=" + url.QueryEscape(d.SSLMode),
	}
	return u.String()
}

// Load reads an optional .env file and then the environment. Variables
// already set in the environment win over the file.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges envconfig cannot express.
func (c *Config) Validate() error {
	var errs []error

	m := c.Marketplace
	if m.PartnerID <= 0 {
		errs = append(errs, errors.New("MARKETPLACE_PARTNER_ID must be positive"))
	}
	if m.ShopID <= 0 {
		errs = append(errs, errors.New("MARKETPLACE_SHOP_ID must be positive"))
	}
	if u, err := url.Parse(m.Host); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("MARKETPLACE_HOST %q is not an absolute URL", m.Host))
	}
	if len(m.Statuses) == 0 {
		errs = append(errs, errors.New("MARKETPLACE_STATUSES must not be empty"))
	}
	for i, s := range m.Statuses {
		m.Statuses[i] = strings.TrimSpace(s)
	}
	if m.PageSize <= 0 || m.GroupWidth <= 0 {
		errs = append(errs, errors.New("MARKETPLACE_PAGE_SIZE and MARKETPLACE_GROUP_WIDTH must be positive"))
	}
	if m.RPS < 0 {
		errs = append(errs, errors.New("MARKETPLACE_RPS must not be negative"))
	}
	if c.Database.BatchSize <= 0 {
		errs = append(errs, errors.New("DB_BATCH_SIZE must be positive"))
	}
	if c.Sync.DetailConcurrency <= 0 {
		errs = append(errs, errors.New("SYNC_DETAIL_CONCURRENCY must be positive"))
	}
	if !c.Sync.RunOnce && c.Sync.Interval <= 0 {
		errs = append(errs, errors.New("SYNC_INTERVAL must be positive unless SYNC_RUN_ONCE is set"))
	}
	if err := logging.ValidateLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

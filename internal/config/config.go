package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	BaseURL                string `mapstructure:"base_url"`
	ProductsPerSubcategory int    `mapstructure:"products_per_subcategory"`
	WorkerCount            int    `mapstructure:"worker_count"`
	RequestDelayMs         int    `mapstructure:"request_delay_ms"`
	MaxRetries             int    `mapstructure:"max_retries"`

	Fetch     FetchConfig     `mapstructure:"fetch"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	State     StateConfig     `mapstructure:"state"`
	Images    ImagesConfig    `mapstructure:"images"`
	Report    ReportConfig    `mapstructure:"report"`
	Log       LogConfig       `mapstructure:"log"`
	Selectors SelectorsConfig `mapstructure:"selectors"`
}

// FetchConfig holds HTTP transport and retry settings
type FetchConfig struct {
	TimeoutSec       int      `mapstructure:"timeout_sec"`
	BackoffInitialMs int      `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int      `mapstructure:"backoff_max_ms"`
	UserAgent        string   `mapstructure:"user_agent"`
	Proxies          []string `mapstructure:"proxies"`
}

// CrawlConfig bounds the traversal and the run
type CrawlConfig struct {
	MaxTopLevel          int           `mapstructure:"max_top_level"`
	MaxDepth             int           `mapstructure:"max_depth"`
	MaxPages             int           `mapstructure:"max_pages"`
	MaxPersistenceErrors int           `mapstructure:"max_persistence_errors"`
	ShutdownGrace        time.Duration `mapstructure:"shutdown_grace"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite or postgres
	Path     string `mapstructure:"path"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

// DSN returns the PostgreSQL connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		d.Host, d.Port, d.User, d.Password, d.Name)
}

// RedisConfig holds Redis connection details for the failure ledger
type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	Database  int    `mapstructure:"database"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// StateConfig locates the skip ledger used when Redis is disabled
type StateConfig struct {
	LedgerPath string `mapstructure:"ledger_path"`
}

type ImagesConfig struct {
	Dir         string `mapstructure:"dir"`
	MaxFilename int    `mapstructure:"max_filename"`
}

type ReportConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// SelectorsConfig overrides the CSS selectors used on listing and product pages
type SelectorsConfig struct {
	Listing ListingSelectors  `mapstructure:"listing"`
	Product map[string]string `mapstructure:"product"` // field name -> selector, "selector@attr" for attributes
}

type ListingSelectors struct {
	TopLevel    string `mapstructure:"top_level"`
	Subcategory string `mapstructure:"subcategory"`
	Product     string `mapstructure:"product"`
	NextPage    string `mapstructure:"next_page"`
	PageParam   string `mapstructure:"page_param"`
}

func (c *Config) RequestDelay() time.Duration {
	return time.Duration(c.RequestDelayMs) * time.Millisecond
}

// Validate checks the values the crawler cannot run without
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base_url is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("base_url %q is not an absolute http(s) URL", c.BaseURL)
	}
	if c.ProductsPerSubcategory <= 0 {
		return fmt.Errorf("products_per_subcategory must be positive, got %d", c.ProductsPerSubcategory)
	}
	if c.WorkerCount <= 0 {
		return fmt.Errorf("worker_count must be positive, got %d", c.WorkerCount)
	}
	if c.RequestDelayMs < 0 {
		return fmt.Errorf("request_delay_ms must not be negative, got %d", c.RequestDelayMs)
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("max_retries must be positive, got %d", c.MaxRetries)
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	return nil
}

// Load loads configuration from the YAML file at path with environment variable overrides.
// An empty path looks for config.yaml in the current directory.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	v.SetEnvPrefix("crawler")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil, fmt.Errorf("config.yaml file not found in current directory")
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("products_per_subcategory", 20)
	v.SetDefault("worker_count", 4)
	v.SetDefault("request_delay_ms", 500)
	v.SetDefault("max_retries", 3)

	v.SetDefault("fetch.timeout_sec", 30)
	v.SetDefault("fetch.backoff_initial_ms", 500)
	v.SetDefault("fetch.backoff_max_ms", 10000)
	v.SetDefault("fetch.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	v.SetDefault("crawl.max_top_level", 3)
	v.SetDefault("crawl.max_depth", 3)
	v.SetDefault("crawl.max_pages", 50)
	v.SetDefault("crawl.max_persistence_errors", 5)
	v.SetDefault("crawl.shutdown_grace", "15s")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "products.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "crawler")
	v.SetDefault("database.user", "crawler")
	v.SetDefault("database.password", "crawler")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.database", 0)
	v.SetDefault("redis.key_prefix", "crawler:")

	v.SetDefault("state.ledger_path", "skips.json")

	v.SetDefault("images.dir", "assets")
	v.SetDefault("images.max_filename", 80)

	v.SetDefault("log.level", "info")

	v.SetDefault("selectors.listing.top_level", "nav a.top-category")
	v.SetDefault("selectors.listing.subcategory", "a.subcategory")
	v.SetDefault("selectors.listing.product", "article a.product-link")
	v.SetDefault("selectors.listing.next_page", "a[rel='next']")
	v.SetDefault("selectors.listing.page_param", "page")
}

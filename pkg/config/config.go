package config

import (
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env        string `yaml:"env" env:"APP_ENV" env-default:"local"`
	HTTPServer `yaml:"http_server"`
	Cache      `yaml:"cache"`
	Scraper    `yaml:"scraper"`
	EBay       `yaml:"ebay"`
	Amazon     `yaml:"amazon"`
	Remote     `yaml:"remote"`
	Postgres   `yaml:"postgres"`
	RateLimit  `yaml:"rate_limit"`
}

type HTTPServer struct {
	Address     string        `yaml:"address" env:"HTTP_ADDRESS" env-default:":8080"`
	Timeout     time.Duration `yaml:"timeout" env-default:"15s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"120s"`
}

type Cache struct {
	// Backend selects the store: memory, sqlite or redis.
	Backend     string        `yaml:"backend" env:"CACHE_BACKEND" env-default:"memory"`
	Path        string        `yaml:"path" env:"CACHE_DB_PATH" env-default:"./cache.db"`
	RedisAddr   string        `yaml:"redis_addr" env:"CACHE_REDIS_ADDR" env-default:"localhost:6379"`
	RedisDB     int           `yaml:"redis_db" env:"CACHE_REDIS_DB" env-default:"0"`
	SearchTTL   time.Duration `yaml:"search_ttl" env-default:"10m"`
	EstimateTTL time.Duration `yaml:"estimate_ttl" env-default:"15m"`
	HistoryTTL  time.Duration `yaml:"history_ttl" env-default:"30m"`
}

type Scraper struct {
	Timeout       time.Duration `yaml:"timeout" env-default:"10s"`
	RequestDelay  time.Duration `yaml:"request_delay" env-default:"2s"`
	MaxConcurrent int           `yaml:"max_concurrent" env-default:"3"`
	ResultLimit   int           `yaml:"result_limit" env-default:"25"`
	// CraigslistSite is the regional subdomain searched for classifieds.
	CraigslistSite string `yaml:"craigslist_site" env:"CRAIGSLIST_SITE" env-default:"sfbay"`
}

type EBay struct {
	// AppID keys the Finding API; leaving it empty degrades the adapter
	// to a "not configured" health status.
	AppID    string `yaml:"app_id" env:"EBAY_APP_ID"`
	GlobalID string `yaml:"global_id" env:"EBAY_GLOBAL_ID" env-default:"EBAY-US"`
}

type Amazon struct {
	AccessKeyID     string `yaml:"access_key_id" env:"AMAZON_ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"AMAZON_SECRET_ACCESS_KEY"`
	PartnerTag      string `yaml:"partner_tag" env:"AMAZON_PARTNER_TAG"`
	Region          string `yaml:"region" env:"AMAZON_REGION" env-default:"us-east-1"`
	Host            string `yaml:"host" env:"AMAZON_PAAPI_HOST" env-default:"webservices.amazon.com"`
}

type Remote struct {
	// URL points at the hosted pricing function tried before any local
	// source. Empty disables the remote path.
	URL     string        `yaml:"url" env:"PRICING_FUNCTION_URL"`
	Timeout time.Duration `yaml:"timeout" env-default:"30s"`
}

type Postgres struct {
	// DSN enables the estimate-history log. Empty disables it.
	DSN string `yaml:"dsn" env:"DATABASE_URL"`
}

type RateLimit struct {
	Requests int           `yaml:"requests" env-default:"10"`
	Window   time.Duration `yaml:"window" env-default:"15m"`
}

// MustLoad reads CONFIG_PATH (default ./config.yaml) plus the environment.
// A missing config file is fine; env vars alone are enough.
func MustLoad() *Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "./config.yaml"
	}

	var cfg Config

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			log.Fatalf("cannot read config %s: %v", path, err)
		}
		return &cfg
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		log.Fatalf("cannot read environment config: %v", err)
	}

	return &cfg
}

// Package config loads server settings: defaults, then an optional YAML
// file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// PathEnv names the variable holding the YAML config file path.
const PathEnv = "INKWELL_CONFIG"

type Config struct {
	Port       int    `yaml:"port" env:"PORT"`
	DBPath     string `yaml:"dbPath" env:"DB_PATH"`
	LogLevel   string `yaml:"logLevel" env:"LOG_LEVEL"`
	AdminEmail string `yaml:"adminEmail" env:"INKWELL_ADMIN_EMAIL"`

	Auth  AuthConfig  `yaml:"auth"`
	Feed  FeedConfig  `yaml:"feed"`
	Media MediaConfig `yaml:"media"`
}

// AuthConfig covers tokens, cookies and GitHub sign-in.
type AuthConfig struct {
	JWTSecret          string        `yaml:"jwtSecret" env:"JWT_SECRET"`
	TokenTTL           time.Duration `yaml:"tokenTTL" env:"TOKEN_TTL"`
	SecureCookie       bool          `yaml:"secureCookie" env:"SECURE_COOKIE"`
	GitHubClientID     string        `yaml:"githubClientId" env:"GITHUB_CLIENT_ID"`
	GitHubClientSecret string        `yaml:"githubClientSecret" env:"GITHUB_CLIENT_SECRET"`
	GitHubCallbackURL  string        `yaml:"githubCallbackUrl" env:"GITHUB_CALLBACK_URL"`
}

// FeedConfig selects the change feed transport. An empty RedisURL keeps
// events in process.
type FeedConfig struct {
	RedisURL      string `yaml:"redisUrl" env:"REDIS_URL"`
	ChannelPrefix string `yaml:"channelPrefix" env:"FEED_CHANNEL_PREFIX"`
}

// MediaConfig points at the bucket holding cover images. An empty Endpoint
// means covers are plain URLs and are not checked against storage.
type MediaConfig struct {
	Endpoint  string `yaml:"endpoint" env:"MINIO_ENDPOINT"`
	AccessKey string `yaml:"accessKey" env:"MINIO_ACCESS_KEY"`
	SecretKey string `yaml:"secretKey" env:"MINIO_SECRET_KEY"`
	Bucket    string `yaml:"bucket" env:"MINIO_BUCKET"`
	UseSSL    bool   `yaml:"useSSL" env:"MINIO_USE_SSL"`
	Region    string `yaml:"region" env:"MINIO_REGION"`
}

// Load builds the configuration. Values from the file named by
// INKWELL_CONFIG replace defaults, and set environment variables replace
// both.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv(PathEnv); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("config: parse env: %w", err)
	}

	if cfg.Auth.GitHubCallbackURL == "" {
		cfg.Auth.GitHubCallbackURL = fmt.Sprintf("http://localhost:%d/auth/github/callback", cfg.Port)
	}
	cfg.AdminEmail = strings.ToLower(strings.TrimSpace(cfg.AdminEmail))

	return cfg, cfg.Validate()
}

// Default is the configuration used when nothing is set.
func Default() Config {
	return Config{
		Port:     8080,
		DBPath:   "data/inkwell.db",
		LogLevel: "info",
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Feed: FeedConfig{
			ChannelPrefix: "inkwell:changes:",
		},
	}
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if strings.TrimSpace(c.DBPath) == "" {
		errs = append(errs, errors.New("db path is required"))
	}
	if len(c.Auth.JWTSecret) < 16 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 16 characters"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("token TTL must be positive"))
	}
	if (c.Auth.GitHubClientID == "") != (c.Auth.GitHubClientSecret == "") {
		errs = append(errs, errors.New("GitHub client id and secret must be set together"))
	}
	if c.Media.Endpoint != "" && c.Media.Bucket == "" {
		errs = append(errs, errors.New("MINIO_BUCKET is required when MINIO_ENDPOINT is set"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// MinioEnabled reports whether cover images are checked against a bucket.
func (c Config) MinioEnabled() bool { return c.Media.Endpoint != "" }

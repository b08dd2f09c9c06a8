// Package config loads server configuration.
//
// LOAD ORDER (later wins):
//  1. built-in defaults (Default)
//  2. .env in the working directory, if present (joho/godotenv)
//  3. YAML file from the -config flag or CLOUDTYPE_CONFIG
//  4. environment variable overrides (PORT, DB_PATH, JWT_SECRET, ...)
//
// Secrets belong in .env or the environment, not in the YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sakif/cloudtype/internal/storage"
)

// EnvConfigPath names the YAML file when no -config flag is given.
const EnvConfigPath = "CLOUDTYPE_CONFIG"

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Admin    AdminConfig    `yaml:"admin"`
	Storage  StorageConfig  `yaml:"storage"`
	Cache    CacheConfig    `yaml:"cache"`
	Posts    PostsConfig    `yaml:"posts"`
	GitHub   GitHubConfig   `yaml:"github"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	// TokenTTL bounds token lifetime. 0 issues non-expiring tokens.
	TokenTTL time.Duration `yaml:"token_ttl"`
	// RecheckAccount makes the guard consult stored ban and admin state on
	// every request instead of trusting the token alone.
	RecheckAccount bool          `yaml:"recheck_account"`
	StatusCacheTTL time.Duration `yaml:"status_cache_ttl"`
	BcryptCost     int           `yaml:"bcrypt_cost"`
}

// AdminConfig is the identity seeded at startup when its handle is free.
type AdminConfig struct {
	Handle      string `yaml:"handle"`
	Email       string `yaml:"email"`
	Password    string `yaml:"password"`
	DisplayName string `yaml:"display_name"`
}

type StorageConfig struct {
	Backend  string              `yaml:"backend"` // local | minio | s3
	LocalDir string              `yaml:"local_dir"`
	MinIO    storage.MinIOConfig `yaml:"minio"`
	S3       storage.S3Config    `yaml:"s3"`
}

type CacheConfig struct {
	Backend  string `yaml:"backend"` // memory | redis
	RedisURL string `yaml:"redis_url"`
}

type PostsConfig struct {
	// ValidateReferences rejects replies, reposts and likes that point at
	// posts that do not exist.
	ValidateReferences bool `yaml:"validate_references"`
}

type GitHubConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	CallbackURL  string `yaml:"callback_url"`
	FrontendURL  string `yaml:"frontend_url"`
}

// Enabled reports whether GitHub sign-in routes should be mounted.
func (g GitHubConfig) Enabled() bool {
	return g.ClientID != "" && g.ClientSecret != ""
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8001,
			CORSOrigins:     []string{"*"},
			MaxUploadBytes:  10 << 20,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{Path: "data/cloudtype.db"},
		Auth: AuthConfig{
			JWTSecret:      "cloudtype-secret-key",
			RecheckAccount: true,
			StatusCacheTTL: 30 * time.Second,
			BcryptCost:     10,
		},
		Admin: AdminConfig{
			Handle:      "admin",
			Email:       "admin@cloudtype.local",
			Password:    "adminsky",
			DisplayName: "Administrator",
		},
		Storage: StorageConfig{
			Backend:  "local",
			LocalDir: "data/uploads",
		},
		Cache: CacheConfig{Backend: "memory"},
		GitHub: GitHubConfig{
			FrontendURL: "http://localhost:8001",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration. path may be empty, in which case
// CLOUDTYPE_CONFIG is consulted; no file at all is fine.
func Load(path string) (*Config, error) {
	// A missing .env is normal in production.
	_ = godotenv.Load()

	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if cfg.GitHub.CallbackURL == "" {
		cfg.GitHub.CallbackURL = fmt.Sprintf("http://localhost:%d/auth/github/callback", cfg.Server.Port)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides individual fields from the environment.
func (c *Config) applyEnv() error {
	var errs []error

	envInt("PORT", &c.Server.Port, &errs)
	envString("DB_PATH", &c.Database.Path)
	envString("JWT_SECRET", &c.Auth.JWTSecret)
	envDuration("TOKEN_TTL", &c.Auth.TokenTTL, &errs)
	envBool("RECHECK_ACCOUNT", &c.Auth.RecheckAccount, &errs)
	envString("ADMIN_PASSWORD", &c.Admin.Password)
	envString("ADMIN_EMAIL", &c.Admin.Email)
	envString("STORAGE_BACKEND", &c.Storage.Backend)
	envString("UPLOAD_DIR", &c.Storage.LocalDir)
	envString("MINIO_ENDPOINT", &c.Storage.MinIO.Endpoint)
	envString("MINIO_ACCESS_KEY", &c.Storage.MinIO.AccessKey)
	envString("MINIO_SECRET_KEY", &c.Storage.MinIO.SecretKey)
	envString("MINIO_BUCKET", &c.Storage.MinIO.Bucket)
	envString("S3_BUCKET", &c.Storage.S3.Bucket)
	envString("S3_REGION", &c.Storage.S3.Region)
	envString("S3_ENDPOINT", &c.Storage.S3.Endpoint)
	envString("S3_ACCESS_KEY", &c.Storage.S3.AccessKey)
	envString("S3_SECRET_KEY", &c.Storage.S3.SecretKey)
	envString("CACHE_BACKEND", &c.Cache.Backend)
	envString("REDIS_URL", &c.Cache.RedisURL)
	envBool("VALIDATE_REFERENCES", &c.Posts.ValidateReferences, &errs)
	envString("GITHUB_CLIENT_ID", &c.GitHub.ClientID)
	envString("GITHUB_CLIENT_SECRET", &c.GitHub.ClientSecret)
	envString("GITHUB_CALLBACK_URL", &c.GitHub.CallbackURL)
	envString("FRONTEND_URL", &c.GitHub.FrontendURL)
	envString("LOG_LEVEL", &c.Log.Level)
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.Server.CORSOrigins = splitList(v)
	}

	// REDIS_URL alone is enough to switch the cache backend.
	if os.Getenv("REDIS_URL") != "" && os.Getenv("CACHE_BACKEND") == "" {
		c.Cache.Backend = "redis"
	}

	return errors.Join(errs...)
}

// Validate checks values that would otherwise fail later at startup.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if len(c.Auth.JWTSecret) < 16 {
		errs = append(errs, errors.New("auth.jwt_secret must be at least 16 characters"))
	}
	if c.Auth.TokenTTL < 0 {
		errs = append(errs, errors.New("auth.token_ttl must not be negative"))
	}
	if c.Admin.Handle == "" || c.Admin.Password == "" {
		errs = append(errs, errors.New("admin.handle and admin.password are required"))
	}

	switch c.Storage.Backend {
	case "local":
		if c.Storage.LocalDir == "" {
			errs = append(errs, errors.New("storage.local_dir is required for the local backend"))
		}
	case "minio":
		if c.Storage.MinIO.Endpoint == "" {
			errs = append(errs, errors.New("storage.minio.endpoint is required for the minio backend"))
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			errs = append(errs, errors.New("storage.s3.bucket is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not one of local, minio, s3", c.Storage.Backend))
	}

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisURL == "" {
			errs = append(errs, errors.New("cache.redis_url is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.backend %q is not one of memory, redis", c.Cache.Backend))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int, errs *[]error) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("config: %s=%q is not an integer", key, v))
		return
	}
	*dst = n
}

func envBool(key string, dst *bool, errs *[]error) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("config: %s=%q is not a boolean", key, v))
		return
	}
	*dst = b
}

func envDuration(key string, dst *time.Duration, errs *[]error) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("config: %s=%q is not a duration", key, v))
		return
	}
	*dst = d
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the attendance service configuration.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Extractor  ExtractorConfig  `yaml:"extractor"`
	Matcher    MatcherConfig    `yaml:"matcher"`
	Auth       AuthConfig       `yaml:"auth"`
	Attendance AttendanceConfig `yaml:"attendance"`
	CORS       CORSConfig       `yaml:"cors"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"` // postgres, mysql
	DSN             string        `yaml:"dsn"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	LogSQL          bool          `yaml:"log_sql"`
}

// RedisConfig holds embedding cache settings. An empty address disables the cache.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// ExtractorConfig holds the embedding extractor settings.
type ExtractorConfig struct {
	Addr            string        `yaml:"addr"`
	Timeout         time.Duration `yaml:"timeout"`
	Dimension       int           `yaml:"dimension"` // 0 lets the first stored face decide
	Model           string        `yaml:"model"`
	MultiFacePolicy string        `yaml:"multi_face_policy"` // reject, primary
	MaxImageSide    int           `yaml:"max_image_side"`
	MaxImagePixels  int           `yaml:"max_image_pixels"`
}

// MatcherConfig holds the matching settings.
type MatcherConfig struct {
	Threshold       float64       `yaml:"threshold"`
	Strategy        string        `yaml:"strategy"` // linear, hnsw
	Candidates      int           `yaml:"candidates"`
	HNSWM           int           `yaml:"hnsw_m"`
	HNSWEfSearch    int           `yaml:"hnsw_ef_search"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// AuthConfig holds token verification settings.
type AuthConfig struct {
	JWTSecret   string `yaml:"jwt_secret"`
	JWTAudience string `yaml:"jwt_audience"`
	TeacherRole string `yaml:"teacher_role"`
}

// AttendanceConfig holds attendance settings.
type AttendanceConfig struct {
	Timezone string `yaml:"timezone"`
}

// CORSConfig holds allowed browser origins.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Matching strategies.
const (
	StrategyLinear = "linear"
	StrategyHNSW   = "hnsw"
)

// LoadDotEnv loads variables from .env files into the process environment.
// Missing files are ignored so deployments can rely on real environment variables.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}

// Load reads configuration from config/<env>.yaml.
func Load(env string) (Config, error) {
	return LoadFile(filepath.Join("config", env+".yaml"))
}

// LoadFile reads the YAML file at path, expands ${VAR} and ${VAR:-default}
// references, applies defaults and validates the result.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config file %s not found: %w", path, err)
		}
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration data.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.ReadTimeout <= 0 {
		c.HTTP.ReadTimeout = 15 * time.Second
	}
	if c.HTTP.WriteTimeout <= 0 {
		c.HTTP.WriteTimeout = 30 * time.Second
	}
	if c.HTTP.RequestTimeout <= 0 {
		c.HTTP.RequestTimeout = 20 * time.Second
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		c.HTTP.ShutdownTimeout = 15 * time.Second
	}
	if c.HTTP.MaxUploadBytes <= 0 {
		c.HTTP.MaxUploadBytes = 5 << 20
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Database.MaxIdleConns <= 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.ConnMaxLifetime <= 0 {
		c.Database.ConnMaxLifetime = time.Hour
	}
	if c.Redis.CacheTTL <= 0 {
		c.Redis.CacheTTL = 10 * time.Minute
	}
	if c.Extractor.Timeout <= 0 {
		c.Extractor.Timeout = 10 * time.Second
	}
	if c.Extractor.MultiFacePolicy == "" {
		c.Extractor.MultiFacePolicy = "reject"
	}
	if c.Extractor.MaxImageSide <= 0 {
		c.Extractor.MaxImageSide = 1024
	}
	if c.Extractor.MaxImagePixels <= 0 {
		c.Extractor.MaxImagePixels = 40_000_000
	}
	if c.Matcher.Threshold == 0 {
		c.Matcher.Threshold = 0.40
	}
	if c.Matcher.Strategy == "" {
		c.Matcher.Strategy = StrategyLinear
	}
	if c.Matcher.Candidates <= 0 {
		c.Matcher.Candidates = 10
	}
	if c.Matcher.HNSWM <= 0 {
		c.Matcher.HNSWM = 16
	}
	if c.Matcher.HNSWEfSearch <= 0 {
		c.Matcher.HNSWEfSearch = 64
	}
	if c.Matcher.RefreshInterval <= 0 {
		c.Matcher.RefreshInterval = 5 * time.Minute
	}
	if c.Auth.TeacherRole == "" {
		c.Auth.TeacherRole = "teacher"
	}
	if c.Attendance.Timezone == "" {
		c.Attendance.Timezone = "UTC"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Database.Driver) {
	case "postgres", "mysql":
	default:
		return fmt.Errorf("database.driver must be \"postgres\" or \"mysql\", got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Extractor.Addr == "" {
		return fmt.Errorf("extractor.addr is required")
	}
	if c.Extractor.Dimension < 0 {
		return fmt.Errorf("extractor.dimension must not be negative, got %d", c.Extractor.Dimension)
	}
	switch c.Extractor.MultiFacePolicy {
	case "reject", "primary":
	default:
		return fmt.Errorf("extractor.multi_face_policy must be \"reject\" or \"primary\", got %q", c.Extractor.MultiFacePolicy)
	}
	if c.Matcher.Threshold <= 0 || c.Matcher.Threshold > 2 {
		return fmt.Errorf("matcher.threshold must be in (0, 2], got %v", c.Matcher.Threshold)
	}
	switch c.Matcher.Strategy {
	case StrategyLinear, StrategyHNSW:
	default:
		return fmt.Errorf("matcher.strategy must be %q or %q, got %q", StrategyLinear, StrategyHNSW, c.Matcher.Strategy)
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if _, err := time.LoadLocation(c.Attendance.Timezone); err != nil {
		return fmt.Errorf("attendance.timezone: %w", err)
	}
	return nil
}

// Location returns the attendance time zone. Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Attendance.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}

// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrUsage is returned for a malformed command line.
var ErrUsage = errors.New("invalid arguments")

// PasswordFromSecret is the password argument that requests resolution
// through the environment or AWS Secrets Manager.
const PasswordFromSecret = "-"

// Usage is printed for a malformed command line.
const Usage = "Usage: splist-mirror [flags] <siteUrl> <username> <password> <localFolderStore>"

// Config holds all configuration for a mirror run.
type Config struct {
	// Remote site
	SiteURL     string
	Username    string
	Password    string
	AccessToken string // Bearer token used instead of username/password

	// Password resolution when Password is "-"
	PasswordSecret       string // AWS Secrets Manager secret name
	PasswordSecretRegion string

	// Local mirror
	LocalRoot     string
	IncludeHeader bool

	// Paging & transport
	PageSize    int // Default: 100
	MaxPages    int // Default: 10000, 0 disables the limit
	HTTPTimeout int // Seconds, default: 300

	// Logging
	LogDir    string
	LogName   string
	LogStdout bool
	Debug     bool

	// Optional S3 archive
	S3Bucket  string
	S3Prefix  string
	AWSRegion string

	// Optional run ledger (MySQL/MariaDB)
	LedgerHost     string
	LedgerPort     int
	LedgerUser     string
	LedgerPassword string
	LedgerDatabase string

	// Optional Prometheus textfile output
	MetricsFile string
}

// LoadConfig builds the configuration from args (without the program name),
// environment variables and an optional YAML file.
// Priority: CLI flags > environment variables > YAML file > defaults
func LoadConfig(args []string) (*Config, error) {
	cfg := defaultConfig()

	fs := flag.NewFlagSet("splist-mirror", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	configFile := fs.String("config-file", "mirror-config.yaml", "Config file path (default: mirror-config.yaml)")
	accessToken := fs.String("access-token", "", "OAuth bearer token, replaces username/password")
	passwordSecret := fs.String("password-secret", "", "AWS Secrets Manager secret holding the site password")
	passwordSecretRegion := fs.String("password-secret-region", "", "AWS region of the password secret")
	pageSize := fs.Int("page-size", 100, "Items per page (default: 100)")
	maxPages := fs.Int("max-pages", 10000, "Maximum pages per list, 0 for unlimited (default: 10000)")
	httpTimeout := fs.Int("http-timeout", 300, "HTTP request timeout in seconds (default: 300)")
	noHeader := fs.Bool("no-header", false, "Omit the CSV header row")
	logDir := fs.String("log-dir", "", "Directory of the log file (default: /tmp)")
	logStdout := fs.Bool("log-stdout", false, "Log to stdout instead of a file")
	debug := fs.Bool("debug", false, "Enable debug logging")
	s3Bucket := fs.String("s3-bucket", "", "S3 bucket to archive CSVs and documents to")
	s3Prefix := fs.String("s3-prefix", "", "S3 key prefix")
	awsRegion := fs.String("aws-region", "", "AWS region")
	ledgerHost := fs.String("ledger-host", "", "MySQL/MariaDB host for the run ledger")
	ledgerPort := fs.Int("ledger-port", 3306, "Ledger port (default: 3306)")
	ledgerUser := fs.String("ledger-user", "", "Ledger username")
	ledgerPassword := fs.String("ledger-password", "", "Ledger password")
	ledgerDatabase := fs.String("ledger-database", "", "Ledger database (default: splist_mirror)")
	metricsFile := fs.String("metrics-file", "", "Write Prometheus metrics to this file on exit")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if fs.NArg() != 4 {
		return nil, fmt.Errorf("%w: expected 4 arguments, got %d", ErrUsage, fs.NArg())
	}

	// Load from YAML file if it exists
	if *configFile != "" {
		if err := loadFromYAML(cfg, *configFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Override with environment variables
	loadFromEnv(cfg)

	// Override with CLI flags that were given explicitly (highest priority)
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if set["access-token"] {
		cfg.AccessToken = *accessToken
	}
	if set["password-secret"] {
		cfg.PasswordSecret = *passwordSecret
	}
	if set["password-secret-region"] {
		cfg.PasswordSecretRegion = *passwordSecretRegion
	}
	if set["page-size"] {
		cfg.PageSize = *pageSize
	}
	if set["max-pages"] {
		cfg.MaxPages = *maxPages
	}
	if set["http-timeout"] {
		cfg.HTTPTimeout = *httpTimeout
	}
	if *noHeader {
		cfg.IncludeHeader = false
	}
	if set["log-dir"] {
		cfg.LogDir = *logDir
	}
	if *logStdout {
		cfg.LogStdout = true
	}
	if *debug {
		cfg.Debug = true
	}
	if set["s3-bucket"] {
		cfg.S3Bucket = *s3Bucket
	}
	if set["s3-prefix"] {
		cfg.S3Prefix = *s3Prefix
	}
	if set["aws-region"] {
		cfg.AWSRegion = *awsRegion
	}
	if set["ledger-host"] {
		cfg.LedgerHost = *ledgerHost
	}
	if set["ledger-port"] {
		cfg.LedgerPort = *ledgerPort
	}
	if set["ledger-user"] {
		cfg.LedgerUser = *ledgerUser
	}
	if set["ledger-password"] {
		cfg.LedgerPassword = *ledgerPassword
	}
	if set["ledger-database"] {
		cfg.LedgerDatabase = *ledgerDatabase
	}
	if set["metrics-file"] {
		cfg.MetricsFile = *metricsFile
	}

	// Positional arguments
	cfg.SiteURL = fs.Arg(0)
	cfg.Username = fs.Arg(1)
	cfg.Password = fs.Arg(2)
	cfg.LocalRoot = fs.Arg(3)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultConfig returns the configuration used when nothing else is set.
func defaultConfig() *Config {
	return &Config{
		IncludeHeader:  true,
		PageSize:       100,
		MaxPages:       10000,
		HTTPTimeout:    300,
		LogDir:         "/tmp",
		LogName:        "splist-mirror",
		LedgerPort:     3306,
		LedgerDatabase: "splist_mirror",
	}
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.SiteURL == "" {
		return fmt.Errorf("%w: site url is required", ErrUsage)
	}
	if c.LocalRoot == "" {
		return fmt.Errorf("%w: local folder is required", ErrUsage)
	}
	if c.HTTPTimeout < 0 {
		return fmt.Errorf("http-timeout must not be negative, got %d", c.HTTPTimeout)
	}
	if c.PageSize < 1 || c.PageSize > 5000 {
		return fmt.Errorf("page-size must be between 1 and 5000, got %d", c.PageSize)
	}
	if c.AccessToken == "" && c.Username == "" {
		return fmt.Errorf("%w: username is required without an access token", ErrUsage)
	}
	if c.S3Bucket != "" && c.AWSRegion == "" {
		return fmt.Errorf("aws-region is required when s3-bucket is set")
	}
	return nil
}

// PageLimit returns the page limit for the walker, 0 meaning unlimited.
func (c *Config) PageLimit() int {
	if c.MaxPages < 0 {
		return 0
	}
	return c.MaxPages
}

// Timeout returns the HTTP timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.HTTPTimeout) * time.Second
}

// NeedsPasswordResolution reports whether the password must be looked up.
func (c *Config) NeedsPasswordResolution() bool {
	return c.AccessToken == "" && c.Password == PasswordFromSecret
}

// loadFromYAML loads configuration from a YAML file.
func loadFromYAML(cfg *Config, filepath string) error {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return err
	}

	var yamlCfg struct {
		AccessToken          string `yaml:"access_token"`
		PasswordSecret       string `yaml:"password_secret"`
		PasswordSecretRegion string `yaml:"password_secret_region"`
		PageSize             int    `yaml:"page_size"`
		MaxPages             *int   `yaml:"max_pages"`
		HTTPTimeout          int    `yaml:"http_timeout"`
		LogDir               string `yaml:"log_dir"`
		LogName              string `yaml:"log_name"`
		S3Bucket             string `yaml:"s3_bucket"`
		S3Prefix             string `yaml:"s3_prefix"`
		AWSRegion            string `yaml:"aws_region"`
		LedgerHost           string `yaml:"ledger_host"`
		LedgerPort           int    `yaml:"ledger_port"`
		LedgerUser           string `yaml:"ledger_user"`
		LedgerPassword       string `yaml:"ledger_password"`
		LedgerDatabase       string `yaml:"ledger_database"`
		MetricsFile          string `yaml:"metrics_file"`
	}

	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return err
	}

	if yamlCfg.AccessToken != "" {
		cfg.AccessToken = yamlCfg.AccessToken
	}
	if yamlCfg.PasswordSecret != "" {
		cfg.PasswordSecret = yamlCfg.PasswordSecret
	}
	if yamlCfg.PasswordSecretRegion != "" {
		cfg.PasswordSecretRegion = yamlCfg.PasswordSecretRegion
	}
	if yamlCfg.PageSize > 0 {
		cfg.PageSize = yamlCfg.PageSize
	}
	if yamlCfg.MaxPages != nil {
		cfg.MaxPages = *yamlCfg.MaxPages
	}
	if yamlCfg.HTTPTimeout > 0 {
		cfg.HTTPTimeout = yamlCfg.HTTPTimeout
	}
	if yamlCfg.LogDir != "" {
		cfg.LogDir = yamlCfg.LogDir
	}
	if yamlCfg.LogName != "" {
		cfg.LogName = yamlCfg.LogName
	}
	if yamlCfg.S3Bucket != "" {
		cfg.S3Bucket = yamlCfg.S3Bucket
	}
	if yamlCfg.S3Prefix != "" {
		cfg.S3Prefix = yamlCfg.S3Prefix
	}
	if yamlCfg.AWSRegion != "" {
		cfg.AWSRegion = yamlCfg.AWSRegion
	}
	if yamlCfg.LedgerHost != "" {
		cfg.LedgerHost = yamlCfg.LedgerHost
	}
	if yamlCfg.LedgerPort > 0 {
		cfg.LedgerPort = yamlCfg.LedgerPort
	}
	if yamlCfg.LedgerUser != "" {
		cfg.LedgerUser = yamlCfg.LedgerUser
	}
	if yamlCfg.LedgerPassword != "" {
		cfg.LedgerPassword = yamlCfg.LedgerPassword
	}
	if yamlCfg.LedgerDatabase != "" {
		cfg.LedgerDatabase = yamlCfg.LedgerDatabase
	}
	if yamlCfg.MetricsFile != "" {
		cfg.MetricsFile = yamlCfg.MetricsFile
	}

	return nil
}

// loadFromEnv loads configuration from environment variables.
func loadFromEnv(cfg *Config) {
	if val := os.Getenv("SPMIRROR_ACCESS_TOKEN"); val != "" {
		cfg.AccessToken = val
	}
	if val := os.Getenv("SPMIRROR_PASSWORD_SECRET"); val != "" {
		cfg.PasswordSecret = val
	}
	if val := os.Getenv("SPMIRROR_PASSWORD_SECRET_REGION"); val != "" {
		cfg.PasswordSecretRegion = val
	}
	if val := os.Getenv("SPMIRROR_PAGE_SIZE"); val != "" {
		if size, err := strconv.Atoi(val); err == nil {
			cfg.PageSize = size
		}
	}
	if val := os.Getenv("SPMIRROR_MAX_PAGES"); val != "" {
		if max, err := strconv.Atoi(val); err == nil {
			cfg.MaxPages = max
		}
	}
	if val := os.Getenv("SPMIRROR_HTTP_TIMEOUT"); val != "" {
		if timeout, err := strconv.Atoi(val); err == nil {
			cfg.HTTPTimeout = timeout
		}
	}
	if val := os.Getenv("SPMIRROR_LOG_DIR"); val != "" {
		cfg.LogDir = val
	}
	if val := os.Getenv("SPMIRROR_S3_BUCKET"); val != "" {
		cfg.S3Bucket = val
	}
	if val := os.Getenv("SPMIRROR_S3_PREFIX"); val != "" {
		cfg.S3Prefix = val
	}
	if val := os.Getenv("SPMIRROR_AWS_REGION"); val != "" {
		cfg.AWSRegion = val
	}
	if val := os.Getenv("SPMIRROR_LEDGER_HOST"); val != "" {
		cfg.LedgerHost = val
	}
	if val := os.Getenv("SPMIRROR_LEDGER_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.LedgerPort = port
		}
	}
	if val := os.Getenv("SPMIRROR_LEDGER_USER"); val != "" {
		cfg.LedgerUser = val
	}
	if val := os.Getenv("SPMIRROR_LEDGER_PASSWORD"); val != "" {
		cfg.LedgerPassword = val
	}
	if val := os.Getenv("SPMIRROR_LEDGER_DATABASE"); val != "" {
		cfg.LedgerDatabase = val
	}
	if val := os.Getenv("SPMIRROR_METRICS_FILE"); val != "" {
		cfg.MetricsFile = val
	}
}

// GetLedgerHost returns the ledger host with a non-default port appended.
func (c *Config) GetLedgerHost() string {
	if c.LedgerPort > 0 && c.LedgerPort != 3306 {
		return fmt.Sprintf("%s:%d", c.LedgerHost, c.LedgerPort)
	}
	return c.LedgerHost
}

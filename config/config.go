/*
Package config provides configuration management for the site version job runner.

Values are read from the environment (optionally seeded from a .env file by the
caller) and may be overridden by command line flags before Validate is called.
*/
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Nexora-Open-Source/site-version-jobs/types"
)

// Config holds all application configuration
type Config struct {
	AdminURL      string
	AccessToken   string
	LogLevel      string
	LogFormat     string
	ServiceName   string
	TraceExporter string

	// Job settings
	Mode             types.Mode
	DeleteBeforeDays int
	CleanupWait      bool
	ReportFolder     string
	ReportFilePrefix string

	// Polling schedule
	PollInterval    time.Duration
	MaxPollDuration time.Duration
	PollRetries     int
	PollRetryDelay  time.Duration

	// Concurrency and throttling
	Workers           int
	RequestsPerSecond float64
	RequestBurst      int
	RequestTimeout    time.Duration

	// Tenant pre-flight
	TenantAction      types.TenantAction
	MajorVersionLimit int

	// Entity selection
	IncludePersonalSites bool
	SitesFile            string

	// Output
	OutputCSV             string
	StatusAddr            string
	FailureAlertThreshold float64
}

// NewConfig creates a new configuration instance from the environment
func NewConfig() *Config {
	return &Config{
		AdminURL:      getEnv("ADMIN_URL", ""),
		AccessToken:   getEnv("ACCESS_TOKEN", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "json"),
		ServiceName:   getEnv("SERVICE_NAME", "site-version-jobs"),
		TraceExporter: getEnv("TRACE_EXPORTER", "none"),

		Mode:             types.Mode(getEnv("JOB_MODE", string(types.ModeCleanup))),
		DeleteBeforeDays: getEnvInt("DELETE_BEFORE_DAYS", 180),
		CleanupWait:      getEnvBool("CLEANUP_WAIT", false),
		ReportFolder:     getEnv("REPORT_FOLDER", "Shared Documents"),
		ReportFilePrefix: getEnv("REPORT_FILE_PREFIX", "VersionReport"),

		PollInterval:    getEnvDuration("POLL_INTERVAL", 30*time.Second),
		MaxPollDuration: getEnvDuration("MAX_POLL_DURATION", 30*time.Minute),
		PollRetries:     getEnvInt("POLL_RETRIES", 0),
		PollRetryDelay:  getEnvDuration("POLL_RETRY_DELAY", 5*time.Second),

		Workers:           getEnvInt("WORKERS", 1),
		RequestsPerSecond: getEnvFloat("REQUESTS_PER_SECOND", 5),
		RequestBurst:      getEnvInt("REQUEST_BURST", 5),
		RequestTimeout:    getEnvDuration("REQUEST_TIMEOUT", 60*time.Second),

		TenantAction:      types.TenantAction(getEnv("TENANT_ACTION", string(types.TenantActionNone))),
		MajorVersionLimit: getEnvInt("MAJOR_VERSION_LIMIT", 100),

		IncludePersonalSites: getEnvBool("INCLUDE_PERSONAL_SITES", false),
		SitesFile:            getEnv("SITES_FILE", ""),

		OutputCSV:             getEnv("OUTPUT_CSV", ""),
		StatusAddr:            getEnv("STATUS_ADDR", ""),
		FailureAlertThreshold: getEnvFloat("FAILURE_ALERT_THRESHOLD", 0.5),
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.AdminURL == "" && c.SitesFile == "" {
		return fmt.Errorf("ADMIN_URL environment variable is required when no sites file is given")
	}
	if c.AdminURL != "" {
		u, err := url.Parse(c.AdminURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("ADMIN_URL must be an absolute URL, got %q", c.AdminURL)
		}
	}
	if !c.Mode.Valid() {
		return fmt.Errorf("JOB_MODE must be %q or %q, got %q", types.ModeCleanup, types.ModeReport, c.Mode)
	}
	if c.Mode == types.ModeCleanup && c.DeleteBeforeDays < 0 {
		return fmt.Errorf("DELETE_BEFORE_DAYS must not be negative")
	}
	if c.Mode == types.ModeReport && strings.TrimSpace(c.ReportFolder) == "" {
		return fmt.Errorf("REPORT_FOLDER is required in report mode")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if c.MaxPollDuration < c.PollInterval {
		return fmt.Errorf("MAX_POLL_DURATION (%s) must not be shorter than POLL_INTERVAL (%s)", c.MaxPollDuration, c.PollInterval)
	}
	if c.PollRetries < 0 {
		return fmt.Errorf("POLL_RETRIES must not be negative")
	}
	if c.Workers < 1 {
		return fmt.Errorf("WORKERS must be at least 1")
	}
	if c.RequestsPerSecond <= 0 || c.RequestBurst < 1 {
		return fmt.Errorf("REQUESTS_PER_SECOND and REQUEST_BURST must be positive")
	}
	switch c.TenantAction {
	case types.TenantActionNone, types.TenantActionEnableAutoExpiration:
	case types.TenantActionSetVersionLimit:
		if c.MajorVersionLimit < 1 {
			return fmt.Errorf("MAJOR_VERSION_LIMIT must be at least 1")
		}
	default:
		return fmt.Errorf("unsupported TENANT_ACTION %q", c.TenantAction)
	}
	if c.TenantAction != types.TenantActionNone && c.AdminURL == "" {
		return fmt.Errorf("ADMIN_URL is required for TENANT_ACTION %q", c.TenantAction)
	}
	switch strings.ToLower(c.TraceExporter) {
	case "", "none", "stdout":
	default:
		return fmt.Errorf("TRACE_EXPORTER must be none or stdout, got %q", c.TraceExporter)
	}
	if c.FailureAlertThreshold < 0 || c.FailureAlertThreshold > 1 {
		return fmt.Errorf("FAILURE_ALERT_THRESHOLD must be between 0 and 1")
	}
	return nil
}

// OutputPath returns the CSV path, defaulting to a timestamped file name
func (c *Config) OutputPath(now time.Time) string {
	if c.OutputCSV != "" {
		return c.OutputCSV
	}
	return fmt.Sprintf("version-jobs-%s.csv", now.Format("20060102-150405"))
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvFloat gets an environment variable as float64 with a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvInt gets an environment variable as int with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration gets an environment variable as time.Duration with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvBool gets an environment variable as bool with a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

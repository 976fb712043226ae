// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all pipeline configuration knobs loaded via Viper.
type Config struct {
	API     APIConfig     `mapstructure:"api"`
	DB      DBConfig      `mapstructure:"db"`
	Dirs    DirsConfig    `mapstructure:"dirs"`
	Report  ReportConfig  `mapstructure:"report"`
	Cloud   CloudConfig   `mapstructure:"cloud"`
	Form    FormConfig    `mapstructure:"form"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// APIConfig governs the product-catalog HTTP client.
type APIConfig struct {
	BaseURL          string `mapstructure:"base_url"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	RetryAttempts    int    `mapstructure:"retry_attempts"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
	UserAgent        string `mapstructure:"user_agent"`
}

// Timeout converts the configured seconds into a duration.
func (c APIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ProductsEndpoint returns the products collection URL.
func (c APIConfig) ProductsEndpoint() string {
	return strings.TrimRight(c.BaseURL, "/") + "/products"
}

// CategoriesEndpoint returns the categories sub-resource URL.
func (c APIConfig) CategoriesEndpoint() string {
	return c.ProductsEndpoint() + "/categories"
}

// DBConfig controls the sqlite store.
type DBConfig struct {
	Path string `mapstructure:"path"`
}

// DirsConfig sets the local output directories.
type DirsConfig struct {
	Data     string `mapstructure:"data"`
	Reports  string `mapstructure:"reports"`
	Logs     string `mapstructure:"logs"`
	Evidence string `mapstructure:"evidence"`
}

// RawDir is where timestamped JSON backups of the API payload land.
func (d DirsConfig) RawDir() string {
	return filepath.Join(d.Data, "raw")
}

// ReportConfig tunes spreadsheet generation.
type ReportConfig struct {
	IncludeChart bool `mapstructure:"include_chart"`
}

// CloudConfig holds cloud-storage credentials and target paths.
type CloudConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	ClientID         string `mapstructure:"client_id"`
	ClientSecret     string `mapstructure:"client_secret"`
	TenantID         string `mapstructure:"tenant_id"`
	TargetUser       string `mapstructure:"target_user"`
	AuthorityURL     string `mapstructure:"authority_url"`
	GraphURL         string `mapstructure:"graph_url"`
	JSONPath         string `mapstructure:"json_path"`
	ReportsPath      string `mapstructure:"reports_path"`
	EvidencePath     string `mapstructure:"evidence_path"`
	ChunkSizeBytes   int64  `mapstructure:"chunk_size_bytes"`
	MaxFileBytes     int64  `mapstructure:"max_file_bytes"`
	ConflictBehavior string `mapstructure:"conflict_behavior"`
}

// IsConfigured reports whether the client-credential flow can be attempted.
func (c CloudConfig) IsConfigured() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.TenantID != ""
}

// FormConfig drives the browser form submitter.
type FormConfig struct {
	Enabled                bool   `mapstructure:"enabled"`
	URL                    string `mapstructure:"url"`
	Headless               bool   `mapstructure:"headless"`
	TimeoutSeconds         int    `mapstructure:"timeout_seconds"`
	AutoSubmit             bool   `mapstructure:"auto_submit"`
	ManualLoginWaitSeconds int    `mapstructure:"manual_login_wait_seconds"`
	ManualReviewSeconds    int    `mapstructure:"manual_review_seconds"`
	RequireFileUpload      bool   `mapstructure:"require_file_upload"`
	AttachSource           string `mapstructure:"attach_source"`
	CollaboratorName       string `mapstructure:"collaborator_name"`
	Comments               string `mapstructure:"comments"`
}

// IsConfigured reports whether the submitter has a target form.
func (c FormConfig) IsConfigured() bool {
	return c.Enabled && c.URL != ""
}

// Timeout converts the configured seconds into a duration.
func (c FormConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// LoggingConfig toggles zap behavior.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RPA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "https://fakestoreapi.com")
	v.SetDefault("api.timeout_seconds", 30)
	v.SetDefault("api.retry_attempts", 3)
	v.SetDefault("api.backoff_initial_ms", 500)
	v.SetDefault("api.backoff_max_ms", 10000)
	v.SetDefault("api.user_agent", "RPA-Productos/1.0")
	v.SetDefault("db.path", "data/database/productos.db")
	v.SetDefault("dirs.data", "data")
	v.SetDefault("dirs.reports", "reports")
	v.SetDefault("dirs.logs", "logs")
	v.SetDefault("dirs.evidence", "evidencias")
	v.SetDefault("report.include_chart", true)
	v.SetDefault("cloud.enabled", false)
	v.SetDefault("cloud.authority_url", "https://login.microsoftonline.com")
	v.SetDefault("cloud.graph_url", "https://graph.microsoft.com/v1.0")
	v.SetDefault("cloud.json_path", "RPA/Logs")
	v.SetDefault("cloud.reports_path", "RPA/Reportes")
	v.SetDefault("cloud.evidence_path", "RPA/Evidencias")
	v.SetDefault("cloud.chunk_size_bytes", 4*1024*1024)
	v.SetDefault("cloud.max_file_bytes", 250*1024*1024)
	v.SetDefault("cloud.conflict_behavior", "replace")
	v.SetDefault("form.enabled", false)
	v.SetDefault("form.headless", true)
	v.SetDefault("form.timeout_seconds", 30)
	v.SetDefault("form.auto_submit", true)
	v.SetDefault("form.manual_login_wait_seconds", 0)
	v.SetDefault("form.manual_review_seconds", 0)
	v.SetDefault("form.require_file_upload", false)
	v.SetDefault("form.attach_source", "report")
	v.SetDefault("form.collaborator_name", "Robot RPA Automatizado")
	v.SetDefault("form.comments", "Reporte generado automaticamente por proceso RPA")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url must be set")
	}
	if c.API.TimeoutSeconds <= 0 {
		return fmt.Errorf("api.timeout_seconds must be > 0")
	}
	if c.API.RetryAttempts <= 0 {
		return fmt.Errorf("api.retry_attempts must be > 0")
	}
	if c.DB.Path == "" {
		return fmt.Errorf("db.path must be set")
	}
	if c.Cloud.ChunkSizeBytes <= 0 {
		return fmt.Errorf("cloud.chunk_size_bytes must be > 0")
	}
	if c.Cloud.MaxFileBytes < c.Cloud.ChunkSizeBytes {
		return fmt.Errorf("cloud.max_file_bytes must be >= cloud.chunk_size_bytes")
	}
	if c.Form.AttachSource != "report" && c.Form.AttachSource != "screenshot" {
		return fmt.Errorf("form.attach_source must be 'report' or 'screenshot'")
	}
	if c.Form.Enabled && c.Form.URL == "" {
		return fmt.Errorf("form.url must be set when form.enabled is true")
	}
	return nil
}

// EnsureDirs creates every directory the pipeline writes into.
func (c Config) EnsureDirs() error {
	dirs := []string{
		c.Dirs.Data,
		c.Dirs.RawDir(),
		filepath.Dir(c.DB.Path),
		c.Dirs.Reports,
		c.Dirs.Logs,
		c.Dirs.Evidence,
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
	}
	return nil
}

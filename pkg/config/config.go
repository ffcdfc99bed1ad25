package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix shared by every environment override
const EnvPrefix = "CRXHARVEST_"

// Config holds all configuration options for the harvesting pipeline
type Config struct {
	// Catalog listing endpoint and collection policy
	Catalog CatalogConfig `yaml:"catalog" json:"catalog"`

	// Archive download settings
	Download DownloadConfig `yaml:"download" json:"download"`

	// Manifest classification settings
	Classify ClassifyConfig `yaml:"classify" json:"classify"`

	// On-disk layout
	Paths PathsConfig `yaml:"paths" json:"paths"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// CatalogConfig describes the paginated catalog source
type CatalogConfig struct {
	Endpoint     string `yaml:"endpoint" json:"endpoint" validate:"required,url"`
	Locale       string `yaml:"locale" json:"locale" validate:"required"`
	StoreVersion string `yaml:"store_version" json:"store_version" validate:"required"`
	// FeatureFlags is sent verbatim as the mce query parameter
	FeatureFlags string `yaml:"feature_flags" json:"feature_flags"`
	Category     string `yaml:"category" json:"category" validate:"required"`
	PageSize     int    `yaml:"page_size" json:"page_size" validate:"min=1,max=1000"`
	// EndSentinel is the cursor value meaning "no further pages"
	EndSentinel       string        `yaml:"end_sentinel" json:"end_sentinel" validate:"required"`
	UserAgent         string        `yaml:"user_agent" json:"user_agent" validate:"required"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout" validate:"gt=0"`
	MinUserCount      int           `yaml:"min_user_count" json:"min_user_count" validate:"min=0"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute" validate:"min=0"`
	// IDPattern, when set, must match every collected id (the store uses ^[a-p]{32}$)
	IDPattern string `yaml:"id_pattern" json:"id_pattern"`
}

// IDRegexp compiles IDPattern. It returns nil when no pattern is configured.
func (c CatalogConfig) IDRegexp() (*regexp.Regexp, error) {
	if c.IDPattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(c.IDPattern)
	if err != nil {
		return nil, fmt.Errorf("catalog id_pattern: %w", err)
	}
	return re, nil
}

// DownloadConfig holds archive download configuration
type DownloadConfig struct {
	Endpoint       string        `yaml:"endpoint" json:"endpoint" validate:"required,url"`
	ProductVersion string        `yaml:"product_version" json:"product_version" validate:"required"`
	NaClArch       string        `yaml:"nacl_arch" json:"nacl_arch" validate:"required"`
	AcceptFormat   string        `yaml:"accept_format" json:"accept_format" validate:"required"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout" validate:"gt=0"`
	DelayMin       time.Duration `yaml:"delay_min" json:"delay_min" validate:"gte=0"`
	DelayMax       time.Duration `yaml:"delay_max" json:"delay_max" validate:"gte=0"`
	Workers        int           `yaml:"workers" json:"workers" validate:"min=1,max=32"`
	MaxAttempts    int           `yaml:"max_attempts" json:"max_attempts" validate:"min=1,max=10"`
	// MinFreeBytes aborts the batch up front when the download volume is nearly full. 0 disables the check.
	MinFreeBytes uint64 `yaml:"min_free_bytes" json:"min_free_bytes"`
}

// ClassifyConfig holds classification configuration
type ClassifyConfig struct {
	// Workers is the per-phase parallelism; 0 means one per physical core
	Workers        int    `yaml:"workers" json:"workers" validate:"min=0,max=64"`
	DescriptorName string `yaml:"descriptor_name" json:"descriptor_name" validate:"required"`
	RecordReport   bool   `yaml:"record_report" json:"record_report"`
}

// PathsConfig holds the on-disk layout. Empty entries are derived from DataDir/TmpDir.
type PathsConfig struct {
	DataDir     string `yaml:"data_dir" json:"data_dir" validate:"required"`
	TmpDir      string `yaml:"tmp_dir" json:"tmp_dir" validate:"required"`
	RecordLog   string `yaml:"record_log" json:"record_log"`
	Checkpoint  string `yaml:"checkpoint" json:"checkpoint"`
	DownloadDir string `yaml:"download_dir" json:"download_dir"`
	SourceDir   string `yaml:"source_dir" json:"source_dir"`
	ReportDB    string `yaml:"report_db" json:"report_db"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level" validate:"oneof=debug info warn warning error disabled"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with the reference defaults
func DefaultConfig() *Config {
	return &Config{
		Catalog: CatalogConfig{
			Endpoint:     "https://chrome.google.com/webstore/ajax/item",
			Locale:       "en",
			StoreVersion: "20210820",
			FeatureFlags: "atf,pii,rtr,rlb,gtc,hcn,svp,wtd,hap,nma,dpb,utb,hbh,ebo,hqb,ifm," +
				"ndd,ntd,oiw,uga,c3d,ncr,hns,ctm,ac,hot,hfi,dtp,mac,bga,pon,fcf,rai,hbs,rma," +
				"ibg,pot,evt,hib",
			Category:          "extensions",
			PageSize:          200,
			EndSentinel:       "#@",
			UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
			Timeout:           10 * time.Second,
			MinUserCount:      1,
			RequestsPerMinute: 0,
		},
		Download: DownloadConfig{
			Endpoint:       "https://clients2.google.com/service/update2/crx",
			ProductVersion: "121.0.6167",
			NaClArch:       "x86-64",
			AcceptFormat:   "crx2,crx3",
			Timeout:        30 * time.Second,
			DelayMin:       0,
			DelayMax:       3 * time.Second,
			Workers:        1,
			MaxAttempts:    1,
			MinFreeBytes:   0,
		},
		Classify: ClassifyConfig{
			Workers:        0,
			DescriptorName: "manifest.json",
			RecordReport:   true,
		},
		Paths: PathsConfig{
			DataDir: "./data",
			TmpDir:  "./tmp",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// RecordLogPath returns the record log location
func (p PathsConfig) RecordLogPath() string {
	return orJoin(p.RecordLog, p.DataDir, "extensions.txt")
}

// CheckpointPath returns the checkpoint file location
func (p PathsConfig) CheckpointPath() string {
	return orJoin(p.Checkpoint, p.TmpDir, "checkpoint.json")
}

// DownloadPath returns the archive directory
func (p PathsConfig) DownloadPath() string {
	return orJoin(p.DownloadDir, p.DataDir, "extension")
}

// SourcePath returns the extraction root
func (p PathsConfig) SourcePath() string {
	return orJoin(p.SourceDir, p.DataDir, "source")
}

// ReportPath returns the classification report database location
func (p PathsConfig) ReportPath() string {
	return orJoin(p.ReportDB, p.DataDir, "report.db")
}

func orJoin(explicit, dir, name string) string {
	if explicit != "" {
		return explicit
	}
	return filepath.Join(dir, name)
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	if v := os.Getenv(EnvPrefix + "DATA_DIR"); v != "" {
		c.Paths.DataDir = v
	}
	if v := os.Getenv(EnvPrefix + "TMP_DIR"); v != "" {
		c.Paths.TmpDir = v
	}
	if v := os.Getenv(EnvPrefix + "USER_AGENT"); v != "" {
		c.Catalog.UserAgent = v
	}
	if v := os.Getenv(EnvPrefix + "ID_PATTERN"); v != "" {
		c.Catalog.IDPattern = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_FILE"); v != "" {
		c.Logging.File = v
	}

	ints := map[string]*int{
		"MIN_USER_COUNT":      &c.Catalog.MinUserCount,
		"PAGE_SIZE":           &c.Catalog.PageSize,
		"REQUESTS_PER_MINUTE": &c.Catalog.RequestsPerMinute,
		"DOWNLOAD_WORKERS":    &c.Download.Workers,
		"DOWNLOAD_ATTEMPTS":   &c.Download.MaxAttempts,
		"CLASSIFY_WORKERS":    &c.Classify.Workers,
	}
	for name, dst := range ints {
		raw := os.Getenv(EnvPrefix + name)
		if raw == "" {
			continue
		}
		val, err := strconv.Atoi(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			continue
		}
		*dst = val
	}

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		"crxharvest.yaml",
		"crxharvest.yml",
		".crxharvest.yaml",
		filepath.Join(home, ".config", "crxharvest", "config.yaml"),
		filepath.Join(home, ".crxharvest.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
		} else {
			errs = append(errs, err)
		}
	}

	if _, err := c.Catalog.IDRegexp(); err != nil {
		errs = append(errs, err)
	}

	if c.Download.DelayMax < c.Download.DelayMin {
		errs = append(errs, errors.New("download delay_max must not be below delay_min"))
	}

	return errors.Join(errs...)
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration.
// Keys mirror the cobra flag names.
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["data-dir"].(string); ok && v != "" {
		c.Paths.DataDir = v
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := flags["log-file"].(string); ok && v != "" {
		c.Logging.File = v
	}
	if v, ok := flags["min-users"].(int); ok && v >= 0 {
		c.Catalog.MinUserCount = v
	}
	if v, ok := flags["download-workers"].(int); ok && v > 0 {
		c.Download.Workers = v
	}
	if v, ok := flags["classify-workers"].(int); ok && v >= 0 {
		c.Classify.Workers = v
	}
	if v, ok := flags["max-attempts"].(int); ok && v > 0 {
		c.Download.MaxAttempts = v
	}
	if v, ok := flags["no-report"].(bool); ok && v {
		c.Classify.RecordReport = false
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// .env files are optional
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".crxharvest.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)
	config.Logging.Level = strings.ToLower(config.Logging.Level)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

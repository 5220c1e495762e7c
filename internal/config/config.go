// Package config provides configuration loading and validation for the CLI.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/jonathan/customs-lookup/internal/portal"
	"github.com/jonathan/customs-lookup/internal/types"
)

// Environment variables that override file values.
const (
	EnvBusinessID  = "CUSTOMS_BUSINESS_ID"
	EnvPersonalID  = "CUSTOMS_PERSONAL_ID"
	EnvDatabaseURL = "DATABASE_URL"
	EnvCredentials = "GOOGLE_APPLICATION_CREDENTIALS"
	EnvSheetURL    = "CUSTOMS_SHEET_URL"
)

// Portal holds the lookup page coordinates, form identities and timing.
type Portal struct {
	URL            string           `yaml:"url" validate:"required,url"`
	BusinessID     string           `yaml:"business_id" validate:"required,numeric"`
	PersonalID     string           `yaml:"personal_id" validate:"required,numeric"`
	MaxAttempts    int              `yaml:"max_attempts" validate:"min=1,max=20"`
	ElementTimeout time.Duration    `yaml:"element_timeout" validate:"gt=0"`
	ResultWait     time.Duration    `yaml:"result_wait" validate:"gt=0"`
	AttemptPause   time.Duration    `yaml:"attempt_pause" validate:"gte=0"`
	ReloadPause    time.Duration    `yaml:"reload_pause" validate:"gte=0"`
	Headless       *bool            `yaml:"headless"`
	Selectors      portal.Selectors `yaml:"selectors"`
}

// Paths locates the archive, corpus and model directories.
type Paths struct {
	FailureDir string `yaml:"failure_dir" validate:"required"`
	CorpusDir  string `yaml:"corpus_dir" validate:"required"`
	ModelDir   string `yaml:"model_dir" validate:"required"`
}

// Review controls consensus voting and the review server.
type Review struct {
	Samples    int           `yaml:"samples" validate:"min=1"`
	Threshold  int           `yaml:"threshold" validate:"min=1,ltefield=Samples"`
	VotePause  time.Duration `yaml:"vote_pause" validate:"gte=0"`
	ListenAddr string        `yaml:"listen_addr" validate:"required,hostname_port"`
}

// Sheets locates the spreadsheet the tasks come from and the results go to. Optional.
type Sheets struct {
	URL             string `yaml:"url" validate:"omitempty,url"`
	SheetName       string `yaml:"sheet_name" validate:"required_with=URL"`
	ReadColumn      string `yaml:"read_column" validate:"omitempty,alpha,uppercase"`
	WriteColumn     string `yaml:"write_column" validate:"omitempty,alpha,uppercase"`
	ResultField     string `yaml:"result_field"`
	CredentialsFile string `yaml:"credentials_file"`
}

// Config is the full configuration, loaded from YAML.
type Config struct {
	Portal      Portal `yaml:"portal"`
	Paths       Paths  `yaml:"paths"`
	Review      Review `yaml:"review"`
	Sheets      Sheets `yaml:"sheets"`
	DatabaseURL string `yaml:"database_url"`
	Verbose     bool   `yaml:"verbose"`
}

// Defaults returns the configuration used when no file is given.
func Defaults() Config {
	headless := true
	return Config{
		Portal: Portal{
			URL:            portal.DefaultURL,
			BusinessID:     "3700482964",
			PersonalID:     "079172041842",
			MaxAttempts:    5,
			ElementTimeout: 15 * time.Second,
			ResultWait:     10 * time.Second,
			AttemptPause:   time.Second,
			ReloadPause:    2 * time.Second,
			Headless:       &headless,
			Selectors:      portal.DefaultSelectors(),
		},
		Paths: Paths{
			FailureDir: "failed_captchas",
			CorpusDir:  "captcha_result",
			ModelDir:   ".",
		},
		Review: Review{
			Samples:    5,
			Threshold:  4,
			VotePause:  200 * time.Millisecond,
			ListenAddr: "127.0.0.1:5001",
		},
		Sheets: Sheets{
			ReadColumn:      "A",
			WriteColumn:     "F",
			ResultField:     "Tên luồng",
			CredentialsFile: "credentials.json",
		},
	}
}

// LoadConfig loads configuration from a YAML file. Unknown keys are rejected.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return &cfg, nil
}

// Load reads path (or nothing when path is empty), applies defaults and environment overrides, and validates.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		loaded, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	merged := cfg.MergeWithDefaults(Defaults())
	merged.ApplyEnv(os.Getenv)
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return &merged, nil
}

// ApplyEnv overrides secrets and connection strings from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Portal.BusinessID, EnvBusinessID)
	set(&c.Portal.PersonalID, EnvPersonalID)
	set(&c.DatabaseURL, EnvDatabaseURL)
	set(&c.Sheets.CredentialsFile, EnvCredentials)
	set(&c.Sheets.URL, EnvSheetURL)
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if c.Sheets.URL != "" && c.Sheets.ResultField != "" && !types.IsResultField(c.Sheets.ResultField) {
		return fmt.Errorf("config error: 'sheets.result_field' %q is not a portal result field", c.Sheets.ResultField)
	}
	if c.Sheets.URL != "" && c.Sheets.ReadColumn == c.Sheets.WriteColumn {
		return fmt.Errorf("config error: 'sheets.read_column' and 'sheets.write_column' must differ")
	}
	return nil
}

// MergeWithDefaults returns a new Config with zero fields filled from defaults.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	str := func(dst *string, def string) {
		if *dst == "" {
			*dst = def
		}
	}
	dur := func(dst *time.Duration, def time.Duration) {
		if *dst == 0 {
			*dst = def
		}
	}
	num := func(dst *int, def int) {
		if *dst == 0 {
			*dst = def
		}
	}

	p, d := &result.Portal, defaults.Portal
	str(&p.URL, d.URL)
	str(&p.BusinessID, d.BusinessID)
	str(&p.PersonalID, d.PersonalID)
	num(&p.MaxAttempts, d.MaxAttempts)
	dur(&p.ElementTimeout, d.ElementTimeout)
	dur(&p.ResultWait, d.ResultWait)
	dur(&p.AttemptPause, d.AttemptPause)
	dur(&p.ReloadPause, d.ReloadPause)
	if p.Headless == nil {
		p.Headless = d.Headless
	}
	p.Selectors.MergeWithDefaults()

	str(&result.Paths.FailureDir, defaults.Paths.FailureDir)
	str(&result.Paths.CorpusDir, defaults.Paths.CorpusDir)
	str(&result.Paths.ModelDir, defaults.Paths.ModelDir)

	r, dr := &result.Review, defaults.Review
	num(&r.Samples, dr.Samples)
	num(&r.Threshold, dr.Threshold)
	dur(&r.VotePause, dr.VotePause)
	str(&r.ListenAddr, dr.ListenAddr)

	s, ds := &result.Sheets, defaults.Sheets
	str(&s.ReadColumn, ds.ReadColumn)
	str(&s.WriteColumn, ds.WriteColumn)
	str(&s.ResultField, ds.ResultField)
	str(&s.CredentialsFile, ds.CredentialsFile)

	str(&result.DatabaseURL, defaults.DatabaseURL)
	return result
}

// IsHeadless reports whether the browser should run without a window.
func (p Portal) IsHeadless() bool {
	return p.Headless == nil || *p.Headless
}

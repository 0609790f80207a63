package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JVLegend/iausp-prontuario/internal/formats"
)

// PathsConfig holds filesystem locations. Relative paths are resolved
// against Root.
type PathsConfig struct {
	Root       string `yaml:"root"`
	Data       string `yaml:"data"`
	Output     string `yaml:"output"`
	Errors     string `yaml:"errors"`
	Checkpoint string `yaml:"checkpoint"`
}

// PEPConfig describes the EMR portal and the operator credentials.
type PEPConfig struct {
	LoginURL            string `yaml:"loginURL"`
	SearchURL           string `yaml:"searchURL"`
	PatientPathTemplate string `yaml:"patientPathTemplate"`
	Username            string `yaml:"username"`
	Password            string `yaml:"password"`
	Company             string `yaml:"company"`
}

type BrowserConfig struct {
	Bin        string   `yaml:"bin"`
	ControlURL string   `yaml:"controlURL"`
	Headless   bool     `yaml:"headless"`
	TimeoutMs  int      `yaml:"timeoutMs"`
	StableMs   int      `yaml:"stableMs"`
	Flags      []string `yaml:"flags"`
}

// BatchConfig tunes pacing and run size. Delays left unset default to
// 5 and 15 seconds; explicit zeros disable pacing.
type BatchConfig struct {
	DelayMinSeconds         *int `yaml:"delayMinSeconds"`
	DelayMaxSeconds         *int `yaml:"delayMaxSeconds"`
	TestLimit               int  `yaml:"testLimit"`
	EstimatedSecondsPerItem int  `yaml:"estimatedSecondsPerItem"`
}

// Default pacing bounds between patients, in seconds.
const (
	DefaultDelayMinSeconds = 5
	DefaultDelayMaxSeconds = 15
)

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

// Delays returns the pacing bounds in seconds with defaults applied.
func (b BatchConfig) Delays() (min, max int) {
	return intOr(b.DelayMinSeconds, DefaultDelayMinSeconds), intOr(b.DelayMaxSeconds, DefaultDelayMaxSeconds)
}

// DiagnosticsConfig selects which snapshots are written when a capture
// is incomplete.
type DiagnosticsConfig struct {
	Formats []string `yaml:"formats"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// RetentionConfig controls deletion of old diagnostic snapshots.
type RetentionConfig struct {
	Enabled         bool `yaml:"enabled"`
	DiagnosticsDays int  `yaml:"diagnosticsDays"`
}

type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	Paths       PathsConfig       `yaml:"paths"`
	PEP         PEPConfig         `yaml:"pep"`
	Browser     BrowserConfig     `yaml:"browser"`
	Batch       BatchConfig       `yaml:"batch"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Database    DatabaseConfig    `yaml:"database"`
	Retention   RetentionConfig   `yaml:"retention"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Log         LogConfig         `yaml:"log"`
}

// Defaults for the PEP portal. Credentials have no default password.
const (
	DefaultLoginURL            = "http://hishc.phcnet.usp.br"
	DefaultSearchURL           = "http://bal-pep.phcnet.usp.br/mvpep/5/pt-BR/#/d/141"
	DefaultPatientPathTemplate = "/#/d/3622/MVPEP_LISTA_TODOS_PACIENTES_HTML5/2512/LISTA_TODOS_PACIENTES/h/{atendimento}"
	DefaultCompany             = "ICHC"
)

// Environment variables that override file values.
const (
	EnvUsername = "PEP_USUARIO"
	EnvPassword = "PEP_SENHA"
	EnvCompany  = "PEP_EMPRESA"
	EnvURL      = "PEP_URL"
	EnvLoginURL = "PEP_LOGIN_URL"
	EnvDSN      = "PEP_DATABASE_DSN"
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads the YAML file at path, applies environment overrides and
// defaults, and resolves relative paths. A missing file is not an
// error: defaults plus environment are used.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		f, err := os.Open(path)
		switch {
		case err == nil:
			defer f.Close()
			if err := yaml.NewDecoder(f).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("decode config %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("open config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	override := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	override(&c.PEP.Username, EnvUsername)
	override(&c.PEP.Password, EnvPassword)
	override(&c.PEP.Company, EnvCompany)
	override(&c.PEP.SearchURL, EnvURL)
	override(&c.PEP.LoginURL, EnvLoginURL)
	override(&c.Database.DSN, EnvDSN)
}

func (c *Config) applyDefaults() {
	if c.Paths.Root == "" {
		c.Paths.Root = "."
	}
	if c.Paths.Data == "" {
		c.Paths.Data = "data"
	}
	if c.Paths.Output == "" {
		c.Paths.Output = "dados_pacientes"
	}
	if c.Paths.Errors == "" {
		c.Paths.Errors = "errors"
	}
	if c.Paths.Checkpoint == "" {
		c.Paths.Checkpoint = "checkpoint.json"
	}

	if c.PEP.LoginURL == "" {
		c.PEP.LoginURL = DefaultLoginURL
	}
	if c.PEP.SearchURL == "" {
		c.PEP.SearchURL = DefaultSearchURL
	}
	if c.PEP.PatientPathTemplate == "" {
		c.PEP.PatientPathTemplate = DefaultPatientPathTemplate
	}
	if c.PEP.Company == "" {
		c.PEP.Company = DefaultCompany
	}

	if c.Browser.TimeoutMs <= 0 {
		c.Browser.TimeoutMs = 10000
	}
	if c.Browser.StableMs <= 0 {
		c.Browser.StableMs = 1500
	}

	min, max := c.Batch.Delays()
	c.Batch.DelayMinSeconds, c.Batch.DelayMaxSeconds = &min, &max
	if c.Batch.TestLimit <= 0 {
		c.Batch.TestLimit = 5
	}
	if c.Batch.EstimatedSecondsPerItem <= 0 {
		c.Batch.EstimatedSecondsPerItem = 20
	}

	if c.Diagnostics.Formats == nil {
		c.Diagnostics.Formats = []string{string(formats.HTML), string(formats.Markdown), string(formats.Screenshot)}
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c *Config) resolvePaths() error {
	root, err := filepath.Abs(c.Paths.Root)
	if err != nil {
		return fmt.Errorf("resolve root %s: %w", c.Paths.Root, err)
	}
	c.Paths.Root = root

	resolve := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(root, *p)
		}
	}
	resolve(&c.Paths.Data)
	resolve(&c.Paths.Output)
	resolve(&c.Paths.Errors)
	resolve(&c.Paths.Checkpoint)
	resolve(&c.Metrics.Textfile)
	return nil
}

// Validate checks values that would otherwise fail late in a run.
func (c *Config) Validate() error {
	min, max := c.Batch.Delays()
	if min < 0 || max < 0 {
		return fmt.Errorf("batch delays must not be negative")
	}
	if min > max {
		return fmt.Errorf("batch.delayMinSeconds (%d) is greater than batch.delayMaxSeconds (%d)", min, max)
	}
	if !strings.Contains(c.PEP.PatientPathTemplate, "{atendimento}") {
		return fmt.Errorf("pep.patientPathTemplate must contain {atendimento}")
	}
	return formats.Validate(c.Diagnostics.Formats)
}

// Timeout returns the browser element/navigation timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Browser.TimeoutMs) * time.Millisecond
}

// StableWindow returns how long a page must stay unchanged to be ready.
func (c *Config) StableWindow() time.Duration {
	return time.Duration(c.Browser.StableMs) * time.Millisecond
}

// DelayRange returns the pacing bounds between patients.
func (c *Config) DelayRange() (time.Duration, time.Duration) {
	min, max := c.Batch.Delays()
	return time.Duration(min) * time.Second, time.Duration(max) * time.Second
}

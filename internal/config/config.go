package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for schedadmin.
type Config struct {
	Listen      ListenConfig      `yaml:"listen"`
	Backend     BackendConfig     `yaml:"backend"`
	HealthCheck HealthCheckConfig `yaml:"health_check"`
	Session     SessionConfig     `yaml:"session"`
	Server      ServerConfig      `yaml:"server"`
	Sheets      SheetsConfig      `yaml:"sheets"`
}

// ListenConfig defines where the web UI listens.
type ListenConfig struct {
	Port    int    `yaml:"port"`
	Bind    string `yaml:"bind"`
	TLSCert string `yaml:"tls_cert"`
	TLSKey  string `yaml:"tls_key"`
}

// BackendConfig points at the remote schedules API.
type BackendConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	HealthPath string        `yaml:"health_path"`
}

// HealthCheckConfig controls the periodic backend probe.
type HealthCheckConfig struct {
	Interval          time.Duration `yaml:"interval"`
	FailureThreshold  int           `yaml:"failure_threshold"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// SessionConfig controls browser sessions and their optional persistence.
type SessionConfig struct {
	CookieName   string        `yaml:"cookie_name"`
	SecureCookie bool          `yaml:"secure_cookie"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	StorePath    string        `yaml:"store_path"`
	Secret       string        `yaml:"secret"`
}

// ServerConfig holds request handling limits and switches.
type ServerConfig struct {
	MaxUploadSize   int64 `yaml:"max_upload_size"`
	AllowWrite      *bool `yaml:"allow_write,omitempty"`
	ImportPreflight *bool `yaml:"import_preflight,omitempty"`
}

// SheetsConfig describes the selectable tables and their columns.
type SheetsConfig struct {
	Types        []string                   `yaml:"types"`
	Years        []string                   `yaml:"years"`
	DefaultType  string                     `yaml:"default_type"`
	DefaultMonth string                     `yaml:"default_month"`
	DefaultYear  string                     `yaml:"default_year"`
	Headers      []string                   `yaml:"headers"`
	DateColumns  []string                   `yaml:"date_columns"`
	Overrides    map[string]SheetTypeConfig `yaml:"overrides"`
}

// SheetTypeConfig overrides headers or date columns for a single sheet type.
type SheetTypeConfig struct {
	Headers     []string `yaml:"headers,omitempty"`
	DateColumns []string `yaml:"date_columns,omitempty"`
}

// WritesAllowed reports whether row mutations and imports are enabled.
func (sc ServerConfig) WritesAllowed() bool {
	return sc.AllowWrite == nil || *sc.AllowWrite
}

// PreflightEnabled reports whether uploads are header-checked before being sent.
func (sc ServerConfig) PreflightEnabled() bool {
	return sc.ImportPreflight == nil || *sc.ImportPreflight
}

// TLSEnabled returns true if both TLS cert and key paths are configured.
func (lc ListenConfig) TLSEnabled() bool {
	return lc.TLSCert != "" && lc.TLSKey != ""
}

// PersistenceEnabled returns true if sessions are written to disk.
func (sc SessionConfig) PersistenceEnabled() bool {
	return sc.StorePath != "" && sc.Secret != ""
}

// Redacted returns a copy of the SessionConfig with the secret masked.
func (sc SessionConfig) Redacted() SessionConfig {
	c := sc
	if c.Secret != "" {
		c.Secret = "***REDACTED***"
	}
	return c
}

// DefaultSheetTypes are the sheet types offered by the selector.
var DefaultSheetTypes = []string{"us_llc", "urgent", "regular", "doubtful", "domestic", "wabtec", "shutdown"}

// DefaultYears are the two-digit years offered by the selector.
var DefaultYears = []string{"25", "26", "27", "28", "29", "30"}

// DefaultHeaders is the column layout of every schedule sheet.
var DefaultHeaders = []string{
	"OA", "EPICOR NO", "CUSTOMER NAME", "INSP", "AGENTS", "CODE", "FAN MODEL",
	"QTY", "AMOUNT", "EDD", "REVISED EDD", "PROJECT STATUS",
	"FACTORY STATUS", "PAYMENT TERMS", "CASE", "HUB", "SHAFT",
	"IMP", "FCP", "ASS", "TEST", "FP", "PACK", "DESPATCH DATE", "REMARKS",
}

// DefaultDateColumns are the headers holding one-way calendar dates.
var DefaultDateColumns = []string{
	"EDD", "REVISED EDD", "CASE", "HUB", "SHAFT", "IMP", "FCP", "ASS", "TEST", "FP", "PACK", "DESPATCH DATE",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR_NAME} patterns with environment variable values.
func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(varName)); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file with env var substitution.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(substituteEnvVars(data))
}

// Parse decodes, validates and defaults an already-substituted YAML document.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Listen.Port == 0 {
		cfg.Listen.Port = 8080
	}
	if cfg.Listen.Bind == "" {
		cfg.Listen.Bind = "127.0.0.1"
	}
	if cfg.Backend.BaseURL == "" {
		cfg.Backend.BaseURL = "http://127.0.0.1:8000"
	}
	if cfg.Backend.Timeout == 0 {
		cfg.Backend.Timeout = 30 * time.Second
	}
	if cfg.Backend.HealthPath == "" {
		cfg.Backend.HealthPath = "/openapi.json"
	}
	if cfg.HealthCheck.Interval == 0 {
		cfg.HealthCheck.Interval = 30 * time.Second
	}
	if cfg.HealthCheck.FailureThreshold == 0 {
		cfg.HealthCheck.FailureThreshold = 3
	}
	if cfg.HealthCheck.ConnectionTimeout == 0 {
		cfg.HealthCheck.ConnectionTimeout = 5 * time.Second
	}
	if cfg.Session.CookieName == "" {
		cfg.Session.CookieName = "schedadmin_session"
	}
	if cfg.Session.IdleTimeout == 0 {
		cfg.Session.IdleTimeout = 12 * time.Hour
	}
	if cfg.Server.MaxUploadSize == 0 {
		cfg.Server.MaxUploadSize = 5 << 20
	}
	if len(cfg.Sheets.Types) == 0 {
		cfg.Sheets.Types = append([]string(nil), DefaultSheetTypes...)
	}
	if len(cfg.Sheets.Years) == 0 {
		cfg.Sheets.Years = append([]string(nil), DefaultYears...)
	}
	if cfg.Sheets.DefaultType == "" {
		cfg.Sheets.DefaultType = "urgent"
	}
	if cfg.Sheets.DefaultMonth == "" {
		cfg.Sheets.DefaultMonth = "01"
	}
	if cfg.Sheets.DefaultYear == "" {
		cfg.Sheets.DefaultYear = cfg.Sheets.Years[0]
	}
	if len(cfg.Sheets.Headers) == 0 {
		cfg.Sheets.Headers = append([]string(nil), DefaultHeaders...)
	}
	if len(cfg.Sheets.DateColumns) == 0 {
		cfg.Sheets.DateColumns = append([]string(nil), DefaultDateColumns...)
	}
}

func validate(cfg *Config) error {
	u, err := url.Parse(cfg.Backend.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("backend.base_url %q must be an absolute http(s) URL", cfg.Backend.BaseURL)
	}
	if cfg.Listen.Port < 0 || cfg.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range", cfg.Listen.Port)
	}
	if (cfg.Listen.TLSCert == "") != (cfg.Listen.TLSKey == "") {
		return fmt.Errorf("listen.tls_cert and listen.tls_key must be set together")
	}
	if cfg.Session.StorePath != "" && cfg.Session.Secret == "" {
		return fmt.Errorf("session.store_path requires session.secret")
	}
	if cfg.Server.MaxUploadSize < 0 {
		return fmt.Errorf("server.max_upload_size must be positive")
	}

	known := make(map[string]bool, len(cfg.Sheets.Types))
	for _, t := range cfg.Sheets.Types {
		if t == "" {
			return fmt.Errorf("sheets.types: empty sheet type")
		}
		if known[t] {
			return fmt.Errorf("sheets.types: duplicate sheet type %q", t)
		}
		known[t] = true
	}
	if !known[cfg.Sheets.DefaultType] {
		return fmt.Errorf("sheets.default_type %q is not one of sheets.types", cfg.Sheets.DefaultType)
	}
	for t := range cfg.Sheets.Overrides {
		if !known[t] {
			return fmt.Errorf("sheets.overrides: unknown sheet type %q", t)
		}
	}
	for _, y := range cfg.Sheets.Years {
		if len(y) != 2 || y[0] < '0' || y[0] > '9' || y[1] < '0' || y[1] > '9' {
			return fmt.Errorf("sheets.years: %q is not a two-digit year", y)
		}
	}
	if !contains(cfg.Sheets.Years, cfg.Sheets.DefaultYear) {
		return fmt.Errorf("sheets.default_year %q is not one of sheets.years", cfg.Sheets.DefaultYear)
	}
	m := cfg.Sheets.DefaultMonth
	if len(m) != 2 || m < "01" || m > "12" {
		return fmt.Errorf("sheets.default_month %q must be 01..12", m)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Watcher watches a config file for changes and calls the callback with the new config.
type Watcher struct {
	path     string
	callback func(*Config)
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a new config file watcher.
func NewWatcher(path string, callback func(*Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching config file: %w", err)
	}

	cw := &Watcher{
		path:     path,
		callback: callback,
		watcher:  w,
		stopCh:   make(chan struct{}),
	}

	go cw.run()
	return cw, nil
}

func (cw *Watcher) run() {
	// Debounce editors that write in several steps
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					cw.reload()
				})
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[config] watcher error: %v", err)
		case <-cw.stopCh:
			if debounce != nil {
				debounce.Stop()
			}
			return
		}
	}
}

func (cw *Watcher) reload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cfg, err := Load(cw.path)
	if err != nil {
		log.Printf("[config] hot-reload failed: %v", err)
		return
	}

	log.Printf("[config] configuration reloaded from %s", cw.path)
	cw.callback(cfg)
}

// Stop stops the config watcher. Safe to call multiple times.
func (cw *Watcher) Stop() error {
	var err error
	cw.stopOnce.Do(func() {
		close(cw.stopCh)
		err = cw.watcher.Close()
	})
	return err
}

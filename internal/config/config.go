package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for schedadmin.
type Config struct {
	Listen     ListenConfig               `yaml:"listen"`
	Logging    LoggingConfig              `yaml:"logging"`
	Panel      PanelDefaults              `yaml:"panel"`
	Health     HealthConfig               `yaml:"health"`
	Audit      AuditConfig                `yaml:"audit"`
	Schedulers map[string]SchedulerTarget `yaml:"schedulers"`
}

// ListenConfig defines the admin server bind address and credentials.
type ListenConfig struct {
	APIPort           int    `yaml:"api_port"`
	APIBind           string `yaml:"api_bind"`
	APIKey            string `yaml:"api_key"`
	AdminUser         string `yaml:"admin_user"`
	AdminPasswordHash string `yaml:"admin_password_hash"`
	TLSCert           string `yaml:"tls_cert"`
	TLSKey            string `yaml:"tls_key"`
}

// LoggingConfig selects the slog level and handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// PanelDefaults defines panel behaviour applied when a target doesn't override it.
type PanelDefaults struct {
	BannerDuration            time.Duration `yaml:"banner_duration"`
	DisableDestroyWhenStopped *bool         `yaml:"disable_destroy_when_stopped,omitempty"`
	EnableStartNewGroup       *bool         `yaml:"enable_start_new_group,omitempty"`
}

// HealthConfig configures the status poller.
type HealthConfig struct {
	Interval         time.Duration `yaml:"interval"`
	FailureThreshold int           `yaml:"failure_threshold"`
}

// AuditConfig selects the audit trail backend.
type AuditConfig struct {
	Driver string        `yaml:"driver"`
	Path   string        `yaml:"path"`
	Retain time.Duration `yaml:"retain"`
}

// SchedulerTarget is one remote scheduler REST resource managed by the panel.
type SchedulerTarget struct {
	BaseURL        string        `yaml:"base_url"`
	ContextPath    string        `yaml:"context_path"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RatePerSec     int           `yaml:"rate_per_sec"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	Token          string        `yaml:"token"`

	BannerDuration            *time.Duration `yaml:"banner_duration,omitempty"`
	DisableDestroyWhenStopped *bool          `yaml:"disable_destroy_when_stopped,omitempty"`
	EnableStartNewGroup       *bool          `yaml:"enable_start_new_group,omitempty"`
}

// EffectiveBannerDuration returns the target's banner duration or the default.
func (t SchedulerTarget) EffectiveBannerDuration(defaults PanelDefaults) time.Duration {
	if t.BannerDuration != nil {
		return *t.BannerDuration
	}
	return defaults.BannerDuration
}

// EffectiveDisableDestroyWhenStopped returns the target's setting or the default.
func (t SchedulerTarget) EffectiveDisableDestroyWhenStopped(defaults PanelDefaults) bool {
	if t.DisableDestroyWhenStopped != nil {
		return *t.DisableDestroyWhenStopped
	}
	return defaults.DisableDestroyWhenStopped == nil || *defaults.DisableDestroyWhenStopped
}

// EffectiveEnableStartNewGroup returns the target's setting or the default.
func (t SchedulerTarget) EffectiveEnableStartNewGroup(defaults PanelDefaults) bool {
	if t.EnableStartNewGroup != nil {
		return *t.EnableStartNewGroup
	}
	return defaults.EnableStartNewGroup == nil || *defaults.EnableStartNewGroup
}

// Redacted returns a copy of the SchedulerTarget with credentials masked.
func (t SchedulerTarget) Redacted() SchedulerTarget {
	c := t
	if c.Password != "" {
		c.Password = "***REDACTED***"
	}
	if c.Token != "" {
		c.Token = "***REDACTED***"
	}
	return c
}

// TLSEnabled returns true if both TLS cert and key paths are configured.
func (lc ListenConfig) TLSEnabled() bool {
	return lc.TLSCert != "" && lc.TLSKey != ""
}

// BasicAuthEnabled returns true if an admin user and password hash are configured.
func (lc ListenConfig) BasicAuthEnabled() bool {
	return lc.AdminUser != "" && lc.AdminPasswordHash != ""
}

// SchedulerIDs returns the configured target ids in sorted order.
func (c *Config) SchedulerIDs() []string {
	ids := make([]string, 0, len(c.Schedulers))
	for id := range c.Schedulers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
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

	data = substituteEnvVars(data)

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Listen.APIPort == 0 {
		cfg.Listen.APIPort = 8090
	}
	if cfg.Listen.APIBind == "" {
		cfg.Listen.APIBind = "127.0.0.1"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Panel.BannerDuration == 0 {
		cfg.Panel.BannerDuration = 5 * time.Second
	}
	if cfg.Health.Interval == 0 {
		cfg.Health.Interval = 15 * time.Second
	}
	if cfg.Health.FailureThreshold == 0 {
		cfg.Health.FailureThreshold = 3
	}
	if cfg.Audit.Driver == "" {
		cfg.Audit.Driver = "memory"
	}
	if cfg.Audit.Retain == 0 {
		cfg.Audit.Retain = 30 * 24 * time.Hour
	}
	for id, t := range cfg.Schedulers {
		if t.RequestTimeout == 0 {
			t.RequestTimeout = 10 * time.Second
		}
		t.BaseURL = strings.TrimRight(t.BaseURL, "/")
		t.ContextPath = strings.TrimRight(t.ContextPath, "/")
		cfg.Schedulers[id] = t
	}
}

func validate(cfg *Config) error {
	if len(cfg.Schedulers) == 0 {
		return fmt.Errorf("at least one scheduler target is required")
	}
	for id, t := range cfg.Schedulers {
		if t.BaseURL == "" {
			return fmt.Errorf("scheduler %q: base_url is required", id)
		}
		u, err := url.Parse(t.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("scheduler %q: base_url must be an http or https URL", id)
		}
		if t.ContextPath != "" && !strings.HasPrefix(t.ContextPath, "/") {
			return fmt.Errorf("scheduler %q: context_path must start with /", id)
		}
		if t.RatePerSec < 0 {
			return fmt.Errorf("scheduler %q: rate_per_sec must not be negative", id)
		}
		if t.Token != "" && t.Username != "" {
			return fmt.Errorf("scheduler %q: token and username are mutually exclusive", id)
		}
	}
	switch strings.ToLower(cfg.Audit.Driver) {
	case "", "none", "memory", "sqlite":
	default:
		return fmt.Errorf("unsupported audit driver %q (must be none, memory or sqlite)", cfg.Audit.Driver)
	}
	if strings.EqualFold(cfg.Audit.Driver, "sqlite") && cfg.Audit.Path == "" {
		return fmt.Errorf("audit.path is required for the sqlite driver")
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unsupported logging level %q", cfg.Logging.Level)
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unsupported logging format %q (must be text or json)", cfg.Logging.Format)
	}
	if (cfg.Listen.AdminUser == "") != (cfg.Listen.AdminPasswordHash == "") {
		return fmt.Errorf("listen.admin_user and listen.admin_password_hash must be set together")
	}
	return nil
}

// Watcher watches a config file for changes and calls the callback with the new config.
type Watcher struct {
	path     string
	callback func(*Config)
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	stopCh   chan struct{}
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
	// Editors often write in several steps; coalesce them.
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

// Stop stops the config watcher.
func (cw *Watcher) Stop() error {
	close(cw.stopCh)
	return cw.watcher.Close()
}

package server

import (
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/duskhaven-mud/duskhaven/pkg/session"
)

// Config holds server configuration, loaded from YAML.
type Config struct {
	// --- Identity ---
	MudName     string `yaml:"mud_name"`
	WelcomeText string `yaml:"welcome_text"`

	// --- Listeners ---
	TelnetPort    int    `yaml:"telnet_port"`
	TelnetTLS     bool   `yaml:"telnet_tls"`
	TelnetTLSPort int    `yaml:"telnet_tls_port"`
	SSHEnabled    bool   `yaml:"ssh_enabled"`
	SSHPort       int    `yaml:"ssh_port"`
	SSHHostKey    string `yaml:"ssh_host_key"`
	WebEnabled    bool   `yaml:"web_enabled"`
	WebPort       int    `yaml:"web_port"`
	WebHost       string `yaml:"web_host"`

	// --- TLS ---
	TLSDomain string `yaml:"tls_domain"`
	TLSCert   string `yaml:"tls_cert"`
	TLSKey    string `yaml:"tls_key"`
	CertDir   string `yaml:"cert_dir"`

	// --- Sessions ---
	// MultisessionMode: 0 one session per account, 1 many sessions
	// sharing puppets, 2 many sessions with independent puppets,
	// 3 many sessions with both.
	MultisessionMode  int      `yaml:"multisession_mode"`
	DefaultEncoding   string   `yaml:"default_encoding"`
	EncodingFallbacks []string `yaml:"encoding_fallbacks"`
	IdleTimeout       int      `yaml:"idle_timeout"`
	MaxLoginRetries   int      `yaml:"max_login_retries"`
	NegotiateTimeout  int      `yaml:"negotiate_timeout_ms"`

	// --- Auth ---
	JWTSecret string `yaml:"jwt_secret"`
	JWTExpiry int    `yaml:"jwt_expiry"`

	// --- Storage ---
	StorePath      string `yaml:"store_path"`
	AuditDatabase  string `yaml:"audit_database"`
	AuditRetention int    `yaml:"audit_retention_hours"`

	// --- Backups ---
	BackupDir      string `yaml:"backup_dir"`
	BackupInterval int    `yaml:"backup_interval_hours"`
	BackupKeep     int    `yaml:"backup_keep"`

	// --- Observability ---
	MetricsEnabled bool `yaml:"metrics_enabled"`
	MetricsPort    int  `yaml:"metrics_port"`

	// --- MSSP crawler data ---
	MSSP map[string]string `yaml:"mssp"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MudName:           "Duskhaven",
		WelcomeText:       WelcomeText,
		TelnetPort:        4000,
		TelnetTLSPort:     4001,
		SSHPort:           4022,
		SSHHostKey:        "duskhaven_host_key",
		WebPort:           8443,
		CertDir:           "certs",
		MultisessionMode:  1,
		DefaultEncoding:   "utf-8",
		EncodingFallbacks: []string{"latin-1"},
		IdleTimeout:       3600,
		MaxLoginRetries:   3,
		NegotiateTimeout:  300,
		JWTExpiry:         86400,
		StorePath:         "duskhaven.db",
		AuditDatabase:     "audit.db",
		AuditRetention:    24 * 30,
		BackupInterval:    24,
		BackupKeep:        14,
		MetricsPort:       9100,
	}
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if !session.Mode(cfg.MultisessionMode).Valid() {
		return nil, fmt.Errorf("config: invalid multisession_mode %d", cfg.MultisessionMode)
	}
	return cfg, nil
}

// LiveConfig wraps a Config with a lock so a subset of keys can be
// hot-reloaded while the server runs. Listener and storage keys only
// take effect at startup.
type LiveConfig struct {
	mu   sync.RWMutex
	cfg  *Config
	path string
}

// NewLiveConfig wraps cfg; path may be empty when there is no file to
// watch.
func NewLiveConfig(cfg *Config, path string) *LiveConfig {
	return &LiveConfig{cfg: cfg, path: path}
}

// Path returns the config file path, empty when running on defaults.
func (l *LiveConfig) Path() string { return l.path }

// Get returns the current config snapshot.
func (l *LiveConfig) Get() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// Mode returns the current multisession mode.
func (l *LiveConfig) Mode() session.Mode {
	return session.Mode(l.Get().MultisessionMode)
}

// Reload re-reads the config file and applies the reload-safe keys.
func (l *LiveConfig) Reload() error {
	if l.path == "" {
		return nil
	}
	fresh, err := LoadConfig(l.path)
	if err != nil {
		return err
	}
	l.mu.Lock()
	cur := *l.cfg
	cur.MultisessionMode = fresh.MultisessionMode
	cur.DefaultEncoding = fresh.DefaultEncoding
	cur.EncodingFallbacks = fresh.EncodingFallbacks
	cur.WelcomeText = fresh.WelcomeText
	cur.MaxLoginRetries = fresh.MaxLoginRetries
	cur.IdleTimeout = fresh.IdleTimeout
	cur.MSSP = fresh.MSSP
	l.cfg = &cur
	l.mu.Unlock()
	log.Printf("config: reloaded %s (mode=%d encoding=%s)", l.path, cur.MultisessionMode, cur.DefaultEncoding)
	return nil
}

// Watch reloads the config whenever the file changes, until stop is
// closed. Editors that write via rename are handled by re-adding the
// watch on Remove/Rename events.
func (l *LiveConfig) Watch(stop <-chan struct{}) error {
	if l.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: watcher: %w", err)
	}
	if err := watcher.Add(l.path); err != nil {
		watcher.Close()
		return fmt.Errorf("config: watch %s: %w", l.path, err)
	}
	go func() {
		defer watcher.Close()
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					if err := l.Reload(); err != nil {
						log.Printf("config: reload failed: %v", err)
					}
				}
				if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					watcher.Add(l.path)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("config: watch error: %v", err)
			case <-stop:
				return
			}
		}
	}()
	return nil
}

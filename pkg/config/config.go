// Package config loads the sync client's settings from TOML files, .env
// files and SIDECHAIN_* environment variables.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SIDECHAIN_API_BASE_URL
const EnvPrefix = "SIDECHAIN"

var configDir string
var configFilePath string
var credentialsPath string

// getConfigDir returns platform-specific config directory
func getConfigDir() (string, error) {
	if runtime.GOOS == "windows" {
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = os.Getenv("APPDATA")
		}
		if appData == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			appData = home
		}
		return filepath.Join(appData, "sidechain", "sync"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "sidechain", "sync"), nil
}

// getSystemConfigPaths returns platform-specific system config paths
func getSystemConfigPaths() []string {
	if runtime.GOOS == "windows" {
		return []string{filepath.Join(os.Getenv("ProgramFiles"), "Sidechain", "sync", "config.toml")}
	}
	return []string{
		"/etc/sidechain/sync/config.toml",
		"/usr/local/etc/sidechain/sync/config.toml",
	}
}

// Init initializes the configuration. configPath overrides the user config
// file; empty means the platform default.
func Init(configPath string) error {
	var err error
	if configPath != "" {
		configDir = filepath.Dir(configPath)
		configFilePath = configPath
	} else {
		configDir, err = getConfigDir()
		if err != nil {
			return err
		}
		configFilePath = filepath.Join(configDir, "config.toml")
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return err
	}
	credentialsPath = filepath.Join(configDir, "credentials")

	// .env files only fill variables that are not already set.
	_ = godotenv.Load(envFiles()...)

	viper.Reset()
	viper.SetConfigType("toml")
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	// System config first; the user config overrides it.
	for _, sysConfigPath := range getSystemConfigPaths() {
		if _, err := os.Stat(sysConfigPath); err == nil {
			viper.SetConfigFile(sysConfigPath)
			_ = viper.ReadInConfig()
			break
		}
	}

	viper.SetConfigFile(configFilePath)
	if _, err := os.Stat(configFilePath); err == nil {
		if err := viper.MergeInConfig(); err != nil {
			return err
		}
	}
	return nil
}

func envFiles() []string {
	var files []string
	for _, f := range []string{".env", filepath.Join(configDir, ".env")} {
		if _, err := os.Stat(f); err == nil {
			files = append(files, f)
		}
	}
	if len(files) == 0 {
		return []string{".env"}
	}
	return files
}

func setDefaults() {
	viper.SetDefault("api.base_url", "http://localhost:54321")
	viper.SetDefault("api.anon_key", "")
	viper.SetDefault("api.timeout", 30)

	viper.SetDefault("realtime.url", "ws://localhost:54321/realtime/v1/websocket")
	viper.SetDefault("realtime.heartbeat_ms", 30000)

	viper.SetDefault("cache.max_age", "24h")
	viper.SetDefault("cache.capacity", 1000)

	viper.SetDefault("sync.poll_interval", "30s")
	viper.SetDefault("sync.debounce_ms", 300)

	viper.SetDefault("output.format", "text")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.file", filepath.Join(configDir, "sidechain-sync.log"))

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.endpoint", "localhost:4318")
	viper.SetDefault("telemetry.sampling_rate", 1.0)

	viper.SetDefault("metrics.addr", "")
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// GetString returns a string configuration value
func GetString(key string) string {
	value := viper.GetString(key)
	if key == "log.file" {
		return expandPath(value)
	}
	return value
}

// GetInt returns an int configuration value
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool configuration value
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetDuration returns a duration configuration value
func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}

// SetString sets a string configuration value and writes the user config
func SetString(key string, value string) error {
	viper.Set(key, value)
	return viper.WriteConfigAs(configFilePath)
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() string {
	return configDir
}

// GetCredentialsPath returns the path to the credentials file
func GetCredentialsPath() string {
	return credentialsPath
}

// Settings is the typed view of the configuration a session needs
type Settings struct {
	BaseURL           string
	AnonKey           string
	Timeout           time.Duration
	RealtimeURL       string
	HeartbeatInterval time.Duration
	CacheMaxAge       time.Duration
	CacheCapacity     int
	PollInterval      time.Duration
	DebounceQuiet     time.Duration
	LogLevel          string
	LogFile           string
	TelemetryEnabled  bool
	TelemetryEndpoint string
	SamplingRate      float64
	MetricsAddr       string
}

// Load reads the current values into Settings
func Load() Settings {
	return Settings{
		BaseURL:           GetString("api.base_url"),
		AnonKey:           GetString("api.anon_key"),
		Timeout:           time.Duration(GetInt("api.timeout")) * time.Second,
		RealtimeURL:       GetString("realtime.url"),
		HeartbeatInterval: time.Duration(GetInt("realtime.heartbeat_ms")) * time.Millisecond,
		CacheMaxAge:       GetDuration("cache.max_age"),
		CacheCapacity:     GetInt("cache.capacity"),
		PollInterval:      GetDuration("sync.poll_interval"),
		DebounceQuiet:     time.Duration(GetInt("sync.debounce_ms")) * time.Millisecond,
		LogLevel:          GetString("log.level"),
		LogFile:           GetString("log.file"),
		TelemetryEnabled:  GetBool("telemetry.enabled"),
		TelemetryEndpoint: GetString("telemetry.endpoint"),
		SamplingRate:      viper.GetFloat64("telemetry.sampling_rate"),
		MetricsAddr:       GetString("metrics.addr"),
	}
}

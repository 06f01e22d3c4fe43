package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"sync"
	"time"

	"kptv-player/work/logger"
)

// DefaultConfigPath is where LoadConfig looks when no explicit path is supplied.
const DefaultConfigPath = "/settings/config.json"

// Config holds all application configuration values for the playback engine.
// It covers the catalog endpoints, outbound request behaviour, persistence and the
// control API listener.
type Config struct {
	AuthURL           string        `json:"authURL"`           // Authorization endpoint returning the token and playlist locator
	DeviceDBPath      string        `json:"deviceDBPath"`      // SQLite file holding the device identifier and catalog snapshot
	ListenAddr        string        `json:"listenAddr"`        // Address of the control API
	LogLevel          string        `json:"logLevel"`          // DEBUG, INFO, WARN or ERROR
	Debug             bool          `json:"debug"`             // Enable debug logging
	ObfuscateUrls     bool          `json:"obfuscateUrls"`     // Obfuscate URLs in logs for security
	RequestTimeout    time.Duration `json:"requestTimeout"`    // Timeout for authorization, playlist and manifest requests
	ManifestCacheTTL  time.Duration `json:"manifestCacheTTL"`  // How long a fetched master manifest may be reused
	WorkerThreads     int           `json:"workerThreads"`     // Size of the pool delivering ABR client callbacks
	RequestsPerSecond int           `json:"requestsPerSecond"` // Outbound request pacing, shared by all requests
	UserAgent         string        `json:"userAgent"`         // HTTP User-Agent header for outbound requests
	ReqOrigin         string        `json:"reqOrigin"`         // HTTP Origin header for outbound requests
	ReqReferrer       string        `json:"reqReferrer"`       // HTTP Referer header for outbound requests
	DeviceUserAgent   string        `json:"deviceUserAgent"`   // User agent of the hosting device, drives mobile classification
}

// ConfigFile represents the JSON file structure for marshaling/unmarshaling configuration.
// String duration fields (e.g., "30s") are parsed into time.Duration values.
type ConfigFile struct {
	AuthURL           string `json:"authURL"`
	DeviceDBPath      string `json:"deviceDBPath"`
	ListenAddr        string `json:"listenAddr"`
	LogLevel          string `json:"logLevel"`
	Debug             bool   `json:"debug"`
	ObfuscateUrls     bool   `json:"obfuscateUrls"`
	RequestTimeout    string `json:"requestTimeout"`   // Duration as string (e.g., "15s")
	ManifestCacheTTL  string `json:"manifestCacheTTL"` // Duration as string (e.g., "10s")
	WorkerThreads     int    `json:"workerThreads"`
	RequestsPerSecond int    `json:"requestsPerSecond"`
	UserAgent         string `json:"userAgent"`
	ReqOrigin         string `json:"reqOrigin"`
	ReqReferrer       string `json:"reqReferrer"`
	DeviceUserAgent   string `json:"deviceUserAgent"`
}

var (
	configCache *Config      // Cached configuration instance
	configMutex sync.RWMutex // Mutex for safe concurrent access to configCache
)

// LoadConfig loads the configuration from path or returns the cached instance.
//
// Process:
//   - Uses double-checked locking to avoid redundant reloads.
//   - Falls back to the default config if the file is missing or invalid.
//   - Runs validation to ensure safe defaults.
func LoadConfig(path string) *Config {
	configMutex.RLock()
	if configCache != nil {
		defer configMutex.RUnlock()
		return configCache
	}
	configMutex.RUnlock()

	configMutex.Lock()
	defer configMutex.Unlock()

	// Double-check under write lock
	if configCache != nil {
		return configCache
	}

	if path == "" {
		path = DefaultConfigPath
	}

	config, err := LoadFromFile(path)
	if err != nil {
		logger.Warn("Failed to load config from %s: %v", path, err)
		logger.Warn("Falling back to default configuration...")
		config = getDefaultConfig()
	}

	configCache = config

	if config.Debug {
		logger.Debug("Configuration loaded:")
		logger.Debug("  Auth URL: %s", obfuscateURL(config.AuthURL))
		logger.Debug("  Device DB: %s", config.DeviceDBPath)
		logger.Debug("  Request timeout: %s", config.RequestTimeout)
		logger.Debug("  Manifest cache TTL: %s", config.ManifestCacheTTL)
		logger.Debug("  Obfuscate URLs: %v", config.ObfuscateUrls)
	}

	return config
}

// LoadFromFile reads, parses and validates the configuration in a JSON file.
func LoadFromFile(path string) (*Config, error) {

	// read from the file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// unmarshal the config file
	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	config, err := convertFromFile(&configFile)
	if err != nil {
		return nil, err
	}
	validateAndSetDefaults(config)
	return config, nil
}

// convertFromFile converts a ConfigFile to Config,
// parsing duration strings into time.Duration.
func convertFromFile(cf *ConfigFile) (*Config, error) {
	config := &Config{
		AuthURL:           cf.AuthURL,
		DeviceDBPath:      cf.DeviceDBPath,
		ListenAddr:        cf.ListenAddr,
		LogLevel:          cf.LogLevel,
		Debug:             cf.Debug,
		ObfuscateUrls:     cf.ObfuscateUrls,
		WorkerThreads:     cf.WorkerThreads,
		RequestsPerSecond: cf.RequestsPerSecond,
		UserAgent:         cf.UserAgent,
		ReqOrigin:         cf.ReqOrigin,
		ReqReferrer:       cf.ReqReferrer,
		DeviceUserAgent:   cf.DeviceUserAgent,
	}

	// Parse duration fields, empty strings keep the zero value and get defaulted later
	var err error
	if cf.RequestTimeout != "" {
		if config.RequestTimeout, err = time.ParseDuration(cf.RequestTimeout); err != nil {
			return nil, fmt.Errorf("invalid requestTimeout: %w", err)
		}
	}
	if cf.ManifestCacheTTL != "" {
		if config.ManifestCacheTTL, err = time.ParseDuration(cf.ManifestCacheTTL); err != nil {
			return nil, fmt.Errorf("invalid manifestCacheTTL: %w", err)
		}
	}

	return config, nil
}

// getDefaultConfig returns a baseline configuration
// with sensible defaults when no file is present.
func getDefaultConfig() *Config {
	config := &Config{}
	validateAndSetDefaults(config)
	return config
}

// validateAndSetDefaults ensures all config values are valid,
// filling in defaults for missing/invalid ones.
func validateAndSetDefaults(config *Config) {
	if config.DeviceDBPath == "" {
		config.DeviceDBPath = "/settings/player.db"
	}
	if config.ListenAddr == "" {
		config.ListenAddr = ":8080"
	}
	if config.LogLevel == "" {
		config.LogLevel = "INFO"
		if config.Debug {
			config.LogLevel = "DEBUG"
		}
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 15 * time.Second
	}
	if config.ManifestCacheTTL <= 0 {
		config.ManifestCacheTTL = 10 * time.Second
	}
	if config.WorkerThreads <= 0 {
		config.WorkerThreads = 4
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 20
	}
	if config.UserAgent == "" {
		config.UserAgent = "VLC/3.0.18 LibVLC/3.0.18"
	}
	// ReqOrigin, ReqReferrer and DeviceUserAgent may remain empty
}

// CreateExampleConfig creates an example config file on disk.
func CreateExampleConfig(path string) error {
	example := ConfigFile{
		AuthURL:           "https://portal.example.com/api/player/authorize",
		DeviceDBPath:      "/settings/player.db",
		ListenAddr:        ":8080",
		LogLevel:          "INFO",
		Debug:             false,
		ObfuscateUrls:     true,
		RequestTimeout:    "15s",
		ManifestCacheTTL:  "10s",
		WorkerThreads:     4,
		RequestsPerSecond: 20,
		UserAgent:         "VLC/3.0.18 LibVLC/3.0.18",
		ReqOrigin:         "",
		ReqReferrer:       "",
		DeviceUserAgent:   "Mozilla/5.0 (Linux; Android 13; Pixel 7) Mobile",
	}

	// setup the data properly
	data, err := json.MarshalIndent(example, "", "  ")
	if err != nil {
		return err
	}

	// write the config file
	return os.WriteFile(path, data, 0644)
}

// ClearConfigCache resets the configCache to nil.
// Forces a reload on the next LoadConfig() call.
func ClearConfigCache() {
	configMutex.Lock()
	defer configMutex.Unlock()
	configCache = nil
}

// obfuscateURL masks sensitive parts of a URL for logging.
//
// Example:
//
//	Input:  "http://example.com/secret/authorize?token=abc"
//	Output: "http://example.com/***?***"
func obfuscateURL(urlStr string) string {
	if urlStr == "" {
		return ""
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return "***OBFUSCATED***"
	}
	result := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		result += "/***"
	}
	if u.RawQuery != "" {
		result += "?***"
	}
	return result
}

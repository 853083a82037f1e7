// Package config loads the bridge's environment-variable configuration
// (spec §6.4). Invalid MAX_TURNS or PERMISSION_MODE values fail startup with
// a precise diagnostic, per spec.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/kandev/acp-bridge/internal/acp"
	"github.com/kandev/acp-bridge/internal/backend"
)

// CacheStrategy is the eviction policy for the optional caches (spec §6.4;
// not exercised by the core pipeline, carried for adapters that opt in).
type CacheStrategy string

const (
	CacheLRU  CacheStrategy = "lru"
	CacheLFU  CacheStrategy = "lfu"
	CacheFIFO CacheStrategy = "fifo"
)

// Config is the fully validated, typed configuration for one bridge process.
type Config struct {
	PermissionMode acp.PermissionMode
	MaxTurns       int
	Debug          bool
	LogFile        string

	BackendMode Mode

	BackendPath string

	BackendAPIKey      string
	BackendModel       string
	BackendTemperature float64
	BackendMaxTokens   int

	CacheMaxSize int
	CacheTTLMs   int
	CacheStrategy CacheStrategy
}

// Mode is an alias of backend.Mode, so a loaded BackendMode can be handed
// to backend.Select unchanged.
type Mode = backend.Mode

const (
	BackendModeSubprocess Mode = backend.ModeSubprocess
	BackendModeHTTP       Mode = backend.ModeHTTP
)

// Load reads and validates the recognized environment variables (spec §6.4).
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()

	v.SetDefault("PERMISSION_MODE", string(acp.PermissionDefault))
	v.SetDefault("MAX_TURNS", 0)
	v.SetDefault("DEBUG", false)
	v.SetDefault("BACKEND_MODE", string(backend.ModeSubprocess))
	v.SetDefault("BACKEND_TEMPERATURE", 0.7)
	v.SetDefault("BACKEND_MAX_TOKENS", 4096)
	v.SetDefault("CACHE_MAX_SIZE", 0)
	v.SetDefault("CACHE_TTL_MS", 0)
	v.SetDefault("CACHE_STRATEGY", string(CacheLRU))

	cfg := &Config{
		Debug:              v.GetBool("DEBUG"),
		LogFile:            v.GetString("LOG_FILE"),
		BackendPath:        v.GetString("BACKEND_PATH"),
		BackendAPIKey:      v.GetString("BACKEND_API_KEY"),
		BackendModel:       v.GetString("BACKEND_MODEL"),
		BackendTemperature: v.GetFloat64("BACKEND_TEMPERATURE"),
		BackendMaxTokens:   v.GetInt("BACKEND_MAX_TOKENS"),
		CacheMaxSize:       v.GetInt("CACHE_MAX_SIZE"),
		CacheTTLMs:         v.GetInt("CACHE_TTL_MS"),
	}

	mode, err := parsePermissionMode(v.GetString("PERMISSION_MODE"))
	if err != nil {
		return nil, err
	}
	cfg.PermissionMode = mode

	maxTurns, err := parseMaxTurns(v.GetString("MAX_TURNS"))
	if err != nil {
		return nil, err
	}
	cfg.MaxTurns = maxTurns

	backendMode, err := parseBackendMode(v.GetString("BACKEND_MODE"))
	if err != nil {
		return nil, err
	}
	cfg.BackendMode = backendMode

	strategy, err := parseCacheStrategy(v.GetString("CACHE_STRATEGY"))
	if err != nil {
		return nil, err
	}
	cfg.CacheStrategy = strategy

	return cfg, nil
}

func parsePermissionMode(raw string) (acp.PermissionMode, error) {
	switch acp.PermissionMode(raw) {
	case acp.PermissionDefault, acp.PermissionAcceptEdits, acp.PermissionBypassPermissions, acp.PermissionPlan:
		return acp.PermissionMode(raw), nil
	default:
		return "", fmt.Errorf("config: invalid PERMISSION_MODE %q, expected one of default|accept_edits|bypass_permissions|plan", raw)
	}
}

func parseMaxTurns(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("config: invalid MAX_TURNS %q, expected a non-negative integer (0 = unlimited)", raw)
	}
	return n, nil
}

func parseBackendMode(raw string) (Mode, error) {
	switch strings.ToLower(raw) {
	case string(backend.ModeSubprocess):
		return backend.ModeSubprocess, nil
	case string(backend.ModeHTTP):
		return backend.ModeHTTP, nil
	default:
		return "", fmt.Errorf("config: invalid BACKEND_MODE %q, expected subprocess|http", raw)
	}
}

func parseCacheStrategy(raw string) (CacheStrategy, error) {
	switch CacheStrategy(strings.ToLower(raw)) {
	case CacheLRU, CacheLFU, CacheFIFO:
		return CacheStrategy(strings.ToLower(raw)), nil
	default:
		return "", fmt.Errorf("config: invalid CACHE_STRATEGY %q, expected lru|lfu|fifo", raw)
	}
}

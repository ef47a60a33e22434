// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for megpt.
//
// Settings live in a TOML file, with built-in defaults, environment variable
// overrides, and validation.
//
// Configuration sources (in order of precedence):
//   - Environment variables (MEGPT_*)
//   - The file named by --config or MEGPT_CONFIG
//   - ~/.megpt/config.toml
//   - Built-in defaults
package config

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/GioPalusa/MeGPT/internal/lmstudio"
	"github.com/GioPalusa/MeGPT/internal/util"
)

// Environment variables read by ApplyEnvOverrides and Path.
const (
	EnvConfig   = "MEGPT_CONFIG"
	EnvBaseURL  = "MEGPT_BASE_URL"
	EnvDB       = "MEGPT_DB"
	EnvLogLevel = "MEGPT_LOG_LEVEL"
	EnvStream   = "MEGPT_STREAM"
)

// Limits enforced by Validate.
const (
	MaxTokensLimit    = 32768
	MaxRequestTimeout = 3600
	logitBiasLimit    = 100
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete megpt configuration.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Generation GenerationConfig `toml:"generation"`
	Storage    StorageConfig    `toml:"storage"`
	Log        LogConfig        `toml:"log"`
}

// ServerConfig describes how to reach the inference server.
type ServerConfig struct {
	// BaseURL is the server root, without the /v1 suffix.
	BaseURL string `toml:"base_url"`
	// RequestTimeout bounds non-streaming requests, in seconds.
	RequestTimeout int `toml:"request_timeout"`
}

// GenerationConfig holds the generation parameters sent with each request.
// Nil fields are omitted so the server applies its own defaults.
type GenerationConfig struct {
	Temperature      *float64           `toml:"temperature,omitempty"`
	TopP             *float64           `toml:"top_p,omitempty"`
	MaxTokens        *int               `toml:"max_tokens,omitempty"`
	PresencePenalty  *float64           `toml:"presence_penalty,omitempty"`
	FrequencyPenalty *float64           `toml:"frequency_penalty,omitempty"`
	RepeatPenalty    *float64           `toml:"repeat_penalty,omitempty"`
	Seed             *string            `toml:"seed,omitempty"`
	Stop             []string           `toml:"stop,omitempty"`
	LogitBias        map[string]float64 `toml:"logit_bias,omitempty"`
	Stream           bool               `toml:"stream"`
}

// StorageConfig locates the conversation database.
type StorageConfig struct {
	Path string `toml:"path"`
}

// LogConfig controls the logger. An empty file logs to stderr.
type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file,omitempty"`
}

// Default returns a Config with built-in defaults.
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{
			BaseURL:        lmstudio.DefaultBaseURL,
			RequestTimeout: 60,
		},
		Generation: GenerationConfig{
			Stream: true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
	if dir, err := ConfigDir(); err == nil {
		cfg.Storage.Path = filepath.Join(dir, "megpt.db")
	}
	return cfg
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the megpt configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".megpt"), nil
}

// Path returns the config file to use: MEGPT_CONFIG if set, otherwise
// ~/.megpt/config.toml.
func Path() (string, error) {
	if p := os.Getenv(EnvConfig); p != "" {
		return p, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the default location. A missing file is not
// an error: defaults plus environment overrides are returned.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadOrDefault(path)
}

// LoadOrDefault is LoadFromPath that treats a missing file as empty.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		cfg.ApplyEnvOverrides()
		cfg.SetDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return cfg, nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific TOML file with full
// validation. Keys absent from the file keep their defaults.
func LoadFromPath(path string) (*Config, error) {
	cfg, err := ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ReadFile decodes path over the defaults without applying environment
// overrides or validating. Used when editing the file in place.
func ReadFile(path string) (*Config, error) {
	cfg := Default()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// SetDefaults fills zero-value fields that must not be empty.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Server.BaseURL == "" {
		c.Server.BaseURL = defaults.Server.BaseURL
	}
	c.Server.BaseURL = strings.TrimRight(c.Server.BaseURL, "/")
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = defaults.Server.RequestTimeout
	}
	if c.Storage.Path == "" {
		c.Storage.Path = defaults.Storage.Path
	}
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes the configuration to path as TOML.
// SECURITY: Written with 0600 permissions, owner read/write only.
func Save(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# megpt configuration file\n")
	buf.WriteString("# Generation keys left out use the server's defaults.\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	// RELIABILITY: Atomic write with fsync prevents data loss on crash
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors as
// ValidateErrors.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Server
	if u, err := url.Parse(c.Server.BaseURL); err != nil {
		add("server.base_url", "invalid URL: %v", err)
	} else if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("server.base_url", "must be an http or https URL, got '%s'", c.Server.BaseURL)
	}
	if c.Server.RequestTimeout < 1 || c.Server.RequestTimeout > MaxRequestTimeout {
		add("server.request_timeout", "must be between 1 and %d seconds, got %d", MaxRequestTimeout, c.Server.RequestTimeout)
	}

	// Generation
	g := c.Generation
	checkRange := func(field string, v *float64, lo, hi float64) {
		if v != nil && (*v < lo || *v > hi) {
			add(field, "must be between %g and %g, got %g", lo, hi, *v)
		}
	}
	checkRange("generation.temperature", g.Temperature, 0, 2)
	checkRange("generation.top_p", g.TopP, 0, 1)
	checkRange("generation.presence_penalty", g.PresencePenalty, -2, 2)
	checkRange("generation.frequency_penalty", g.FrequencyPenalty, -2, 2)
	checkRange("generation.repeat_penalty", g.RepeatPenalty, 0, 2)
	if g.MaxTokens != nil && (*g.MaxTokens < 1 || *g.MaxTokens > MaxTokensLimit) {
		add("generation.max_tokens", "must be between 1 and %d, got %d", MaxTokensLimit, *g.MaxTokens)
	}
	if g.Seed != nil && strings.TrimSpace(*g.Seed) == "" {
		add("generation.seed", "cannot be blank; remove the key to let the server choose")
	}
	for i, s := range g.Stop {
		if s == "" {
			add("generation.stop", "entry %d is empty", i)
		}
	}
	for _, token := range slices.Sorted(maps.Keys(g.LogitBias)) {
		if bias := g.LogitBias[token]; bias < -logitBiasLimit || bias > logitBiasLimit {
			add("generation.logit_bias", "bias for token %s must be between -%d and %d, got %g", token, logitBiasLimit, logitBiasLimit, bias)
		}
	}

	// Storage
	if strings.TrimSpace(c.Storage.Path) == "" {
		add("storage.path", "cannot be empty")
	}

	// Log
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		add("log.level", "invalid level '%s', must be one of: debug, info, warn, error", c.Log.Level)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ApplyEnvOverrides applies environment variable overrides:
//   - MEGPT_BASE_URL: overrides server.base_url
//   - MEGPT_DB: overrides storage.path
//   - MEGPT_LOG_LEVEL: overrides log.level
//   - MEGPT_STREAM: overrides generation.stream (1/true/yes or 0/false/no)
func (c *Config) ApplyEnvOverrides() {
	if baseURL := os.Getenv(EnvBaseURL); baseURL != "" {
		c.Server.BaseURL = baseURL
	}

	if db := os.Getenv(EnvDB); db != "" {
		c.Storage.Path = db
	}

	if level := os.Getenv(EnvLogLevel); level != "" {
		c.Log.Level = level
	}

	if stream := os.Getenv(EnvStream); stream != "" {
		if v, ok := parseBool(stream); ok {
			c.Generation.Stream = v
		}
	}
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	return false, false
}

// =============================================================================
// REQUEST SETTINGS
// =============================================================================

// Params returns the generation parameters for one send. The result shares
// nothing with c, so later config reloads do not affect a request in flight.
func (c *Config) Params() lmstudio.Params {
	g := c.Generation
	return lmstudio.Params{
		Temperature:      g.Temperature,
		TopP:             g.TopP,
		MaxTokens:        g.MaxTokens,
		PresencePenalty:  g.PresencePenalty,
		FrequencyPenalty: g.FrequencyPenalty,
		RepeatPenalty:    g.RepeatPenalty,
		Seed:             g.Seed,
		Stop:             g.Stop,
		LogitBias:        g.LogitBias,
		Stream:           g.Stream,
	}.Clone()
}

// ClientConfig returns the transport settings.
func (c *Config) ClientConfig() *lmstudio.ClientConfig {
	return &lmstudio.ClientConfig{
		BaseURL: c.Server.BaseURL,
		Timeout: time.Duration(c.Server.RequestTimeout) * time.Second,
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g.
// "generation.temperature"). Unset optional values are returned as nil.
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	if field.Kind() == reflect.Pointer {
		if field.IsNil() {
			return nil, nil
		}
		return field.Elem().Interface(), nil
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation. String values are
// converted to the field's type; an empty string clears an optional field.
// The caller is expected to Validate afterwards.
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	if err := setFieldValue(field, value); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

// lookup resolves a dotted key against the toml tags of Config.
func (c *Config) lookup(key string) (reflect.Value, error) {
	parts := strings.Split(strings.TrimSpace(key), ".")
	if key == "" || len(parts) == 0 {
		return reflect.Value{}, errors.New("empty key")
	}

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		field, ok := fieldByTag(v, part)
		if !ok {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			if field.Kind() == reflect.Struct {
				return reflect.Value{}, fmt.Errorf("'%s' is a section, not a value", key)
			}
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a section", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag, _, _ := strings.Cut(t.Field(i).Tag.Get("toml"), ",")
		if tag == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	strVal, isString := value.(string)

	if field.Kind() == reflect.Pointer {
		if isString && strVal == "" {
			field.Set(reflect.Zero(field.Type()))
			return nil
		}
		elem := reflect.New(field.Type().Elem())
		if err := setFieldValue(elem.Elem(), value); err != nil {
			return err
		}
		field.Set(elem)
		return nil
	}

	if isString {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strings.TrimSpace(strVal), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strings.TrimSpace(strVal), 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			boolVal, ok := parseBool(strVal)
			if !ok {
				return fmt.Errorf("invalid boolean value: %q", strVal)
			}
			field.SetBool(boolVal)
			return nil
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.String {
				field.Set(reflect.ValueOf(SplitList(strVal)))
				return nil
			}
		}
	}

	// Direct assignment for matching types
	val := reflect.ValueOf(value)
	if !val.IsValid() {
		field.Set(reflect.Zero(field.Type()))
		return nil
	}
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) && val.Kind() != reflect.String {
		field.Set(val.Convert(field.Type()))
		return nil
	}

	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// SplitList splits a comma-separated list, dropping blank entries. Used for
// stop sequences given on the command line.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// GetAllKeys returns all scalar configuration keys in dot notation.
func GetAllKeys() []string {
	return []string{
		"server.base_url",
		"server.request_timeout",
		"generation.temperature",
		"generation.top_p",
		"generation.max_tokens",
		"generation.presence_penalty",
		"generation.frequency_penalty",
		"generation.repeat_penalty",
		"generation.seed",
		"generation.stop",
		"generation.stream",
		"storage.path",
		"log.level",
		"log.file",
	}
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	g := c.Params()
	clone.Generation.Temperature = g.Temperature
	clone.Generation.TopP = g.TopP
	clone.Generation.MaxTokens = g.MaxTokens
	clone.Generation.PresencePenalty = g.PresencePenalty
	clone.Generation.FrequencyPenalty = g.FrequencyPenalty
	clone.Generation.RepeatPenalty = g.RepeatPenalty
	clone.Generation.Seed = g.Seed
	clone.Generation.Stop = g.Stop
	clone.Generation.LogitBias = g.LogitBias
	return &clone
}

// String renders the config as TOML for debugging.
func (c *Config) String() string {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return buf.String()
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig   *Config
	globalConfigMu sync.RWMutex
)

// Global returns the current configuration snapshot, loading it on first use.
// Callers must treat the result as read-only; SetGlobal replaces it wholesale.
func Global() *Config {
	globalConfigMu.RLock()
	cfg := globalConfig
	globalConfigMu.RUnlock()
	if cfg != nil {
		return cfg
	}

	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	if globalConfig == nil {
		loaded, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			loaded = Default()
		}
		globalConfig = loaded
	}
	return globalConfig
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ReloadGlobal reloads the global configuration from path. On error the
// previous snapshot stays in place.
func ReloadGlobal(path string) error {
	cfg, err := LoadOrDefault(path)
	if err != nil {
		return err
	}
	SetGlobal(cfg)
	return nil
}

// ResetGlobalForTesting resets the global config state for testing.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
}

// Package config loads the startup configuration for kcchat.
//
// Configuration is a flat key/value map read once from a JSON file at
// startup and immutable afterwards. Secrets can be kept out of the file:
// any key may be overridden through a KCCHAT_<KEY> environment variable,
// and a .env file next to the binary is honoured when present.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// DefaultPath is where the server looks for its configuration when no
// explicit path is given on the command line.
const DefaultPath = "config.json"

// EnvPrefix is the prefix for environment overrides, e.g. KCCHAT_DB_PASS
// overrides the "db_pass" key.
const EnvPrefix = "KCCHAT_"

// Config is the immutable startup configuration.
type Config struct {
	values map[string]any
}

// Load reads the JSON file at path and applies environment overrides.
// A .env file in the working directory is loaded first, best effort.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("Failed to load .env file")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	values := make(map[string]any)
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	cfg := &Config{values: values}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// New builds a Config from an existing map. Used by tests and tooling.
func New(values map[string]any) *Config {
	copied := make(map[string]any, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return &Config{values: copied}
}

func (c *Config) applyEnvOverrides() {
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, EnvPrefix) {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
		if key == "" {
			continue
		}
		c.values[key] = value
	}
}

// Has reports whether key is present.
func (c *Config) Has(key string) bool {
	_, ok := c.values[key]
	return ok
}

// String returns the value for key coerced to a string. Missing keys
// return "".
func (c *Config) String(key string) string {
	switch v := c.values[key].(type) {
	case string:
		return v
	case float64:
		// JSON numbers decode as float64; render integers without a
		// fractional part.
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Int returns the value for key coerced to an int. Strings holding
// numbers parse; anything else returns 0.
func (c *Config) Int(key string) int {
	return int(c.Int64(key))
}

// Int64 returns the value for key coerced to an int64.
func (c *Config) Int64(key string) int64 {
	switch v := c.values[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0
		}
		return n
	case bool:
		if v {
			return 1
		}
		return 0
	default:
		return 0
	}
}

// Bool returns the value for key coerced to a bool. Strings accept the
// usual strconv spellings ("1", "t", "true", ...).
func (c *Config) Bool(key string) bool {
	switch v := c.values[key].(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false
		}
		return b
	default:
		return false
	}
}

// requiredKeys must be present and non-empty for the server to start.
var requiredKeys = []string{
	"db_host",
	"db_name",
	"db_user",
	"bot_name",
}

// Validate checks the keys the server cannot run without.
func (c *Config) Validate() error {
	var missing []string
	for _, key := range requiredKeys {
		if c.String(key) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config keys: %s", strings.Join(missing, ", "))
	}
	if c.Int("max_chat_length") <= 0 {
		return fmt.Errorf("max_chat_length must be a positive integer")
	}
	return nil
}

// Keys returns the configured key names, for diagnostics.
func (c *Config) Keys() []string {
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	return keys
}

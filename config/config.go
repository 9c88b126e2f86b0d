package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// EnvPrefix starts every environment variable that overrides a setting.
const EnvPrefix = "BTSPIDER_"

// Config is a flat table of settings addressed by dotted keys such as
// "worker.worker_num". It is safe for concurrent use.
type Config struct {
	mu    sync.RWMutex
	items map[string]interface{}
}

// New creates a configuration holding the defaults.
func New() *Config {
	return &Config{items: Defaults()}
}

// Load creates a configuration from the defaults, the given .env files and
// the process environment, in that order of increasing precedence.
// Missing .env files are skipped.
func Load(envFiles ...string) (*Config, error) {
	for _, path := range envFiles {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			logrus.WithFields(logrus.Fields{
				"function": "Load",
				"path":     path,
			}).Debug("Env file not found, skipping")
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", path, err)
		}
	}

	c := New()
	c.applyEnvironmentOverrides(os.LookupEnv)
	c.logConfigurationInfo()
	return c, nil
}

// EnvName returns the environment variable that overrides key.
func EnvName(key string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// applyEnvironmentOverrides replaces a default whenever its variable holds a
// valid value of the default's type. Invalid values are logged and ignored.
func (c *Config) applyEnvironmentOverrides(lookup func(string) (string, bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, current := range c.items {
		env := EnvName(key)
		raw, ok := lookup(env)
		if !ok || raw == "" {
			continue
		}
		value, err := parseAs(key, current, raw)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":    "applyEnvironmentOverrides",
				"env_var":     env,
				"value":       raw,
				"error":       err.Error(),
				"using_value": current,
			}).Warn("Invalid environment override, using default")
			continue
		}
		c.items[key] = value
	}
}

// parseAs converts raw into the type of current and checks its bounds.
func parseAs(key string, current interface{}, raw string) (interface{}, error) {
	switch current.(type) {
	case int:
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, err
		}
		if b, ok := intBounds[key]; ok && (v < b[0] || v > b[1]) {
			return nil, fmt.Errorf("value %d out of bounds [%d, %d]", v, b[0], b[1])
		}
		return v, nil
	case time.Duration:
		v, err := parseDuration(raw)
		if err != nil {
			return nil, err
		}
		if lo, ok := durationMin[key]; ok && v < lo {
			return nil, fmt.Errorf("value %s below minimum %s", v, lo)
		}
		return v, nil
	case bool:
		return strconv.ParseBool(raw)
	case []string:
		return splitList(raw), nil
	case string:
		return raw, nil
	default:
		return nil, fmt.Errorf("unsupported setting type %T", current)
	}
}

// parseDuration accepts a Go duration string or a bare number of milliseconds.
func parseDuration(raw string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(raw)
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) logConfigurationInfo() {
	c.mu.RLock()
	defer c.mu.RUnlock()

	fields := logrus.Fields{"function": "Load"}
	for _, key := range []string{"worker.worker_num", "worker.running_max", "worker.task_queue_max", "server.port", "find_node_interval"} {
		fields[key] = c.items[key]
	}
	logrus.WithFields(fields).Info("Loaded configuration")
}

// Has reports whether key is set.
func (c *Config) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.items[key]
	return ok
}

// Get returns the value for key, or def when key is not set.
func (c *Config) Get(key string, def interface{}) interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.items[key]; ok {
		return v
	}
	return def
}

// Set stores value under key.
func (c *Config) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = value
}

// Keys returns the set keys in sorted order.
func (c *Config) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.items))
	for k := range c.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String returns key as a string, or def if it is missing or not a string.
func (c *Config) String(key, def string) string {
	if v, ok := c.Get(key, nil).(string); ok {
		return v
	}
	return def
}

// Int returns key as an int, or def if it is missing or not an int.
func (c *Config) Int(key string, def int) int {
	if v, ok := c.Get(key, nil).(int); ok {
		return v
	}
	return def
}

// Duration returns key as a duration, or def if it is missing or not a duration.
func (c *Config) Duration(key string, def time.Duration) time.Duration {
	if v, ok := c.Get(key, nil).(time.Duration); ok {
		return v
	}
	return def
}

// Bool returns key as a bool, or def if it is missing or not a bool.
func (c *Config) Bool(key string, def bool) bool {
	if v, ok := c.Get(key, nil).(bool); ok {
		return v
	}
	return def
}

// Strings returns a copy of key as a string list, or def if it is missing or
// not a list.
func (c *Config) Strings(key string, def []string) []string {
	if v, ok := c.Get(key, nil).([]string); ok {
		return append([]string(nil), v...)
	}
	return def
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c := New()

	assert.Equal(t, 4, c.Int("worker.worker_num", 0))
	assert.Equal(t, 300, c.Int("worker.running_max", 0))
	assert.Equal(t, 10000, c.Int("worker.task_queue_max", 0))
	assert.Equal(t, time.Millisecond, c.Duration("worker.free_wait_time", 0))
	assert.Equal(t, 10*time.Second, c.Duration("find_node_interval", 0))
	assert.Equal(t, "0.0.0.0", c.String("server.host", ""))
	assert.Equal(t, 6882, c.Int("server.port", 0))
	assert.Empty(t, c.Strings("server.ports", nil))
	assert.Equal(t, DefaultBootstrapNodes, c.Strings("bootstrap_nodes", nil))
	assert.False(t, c.Bool("dht.deferred_replies", true))
}

func TestAccessorsFallBack(t *testing.T) {
	c := New()

	assert.Equal(t, "x", c.String("missing", "x"))
	assert.Equal(t, 7, c.Int("server.host", 7), "wrong type falls back")
	assert.Equal(t, time.Second, c.Duration("missing", time.Second))
	assert.True(t, c.Bool("missing", true))
	assert.Equal(t, []string{"a"}, c.Strings("missing", []string{"a"}))
	assert.Nil(t, c.Get("missing", nil))
	assert.False(t, c.Has("missing"))
}

func TestStringsReturnsCopy(t *testing.T) {
	c := New()
	nodes := c.Strings("bootstrap_nodes", nil)
	nodes[0] = "changed"
	assert.Equal(t, DefaultBootstrapNodes[0], c.Strings("bootstrap_nodes", nil)[0])
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "BTSPIDER_WORKER_WORKER_NUM", EnvName("worker.worker_num"))
	assert.Equal(t, "BTSPIDER_DATA_FILE", EnvName("data_file"))
}

func TestEnvironmentOverrides(t *testing.T) {
	env := map[string]string{
		"BTSPIDER_WORKER_WORKER_NUM":    "8",
		"BTSPIDER_SERVER_PORTS":         "6883, 6884,",
		"BTSPIDER_FIND_NODE_INTERVAL":   "2500",
		"BTSPIDER_METADATA_TIMEOUT":     "2s",
		"BTSPIDER_DHT_DEFERRED_REPLIES": "true",
		"BTSPIDER_LOG_LEVEL":            "debug",
	}
	c := New()
	c.applyEnvironmentOverrides(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})

	assert.Equal(t, 8, c.Int("worker.worker_num", 0))
	assert.Equal(t, []string{"6883", "6884"}, c.Strings("server.ports", nil))
	assert.Equal(t, 2500*time.Millisecond, c.Duration("find_node_interval", 0))
	assert.Equal(t, 2*time.Second, c.Duration("metadata.timeout", 0))
	assert.True(t, c.Bool("dht.deferred_replies", false))
	assert.Equal(t, "debug", c.String("log_level", ""))
}

func TestInvalidOverridesKeepDefaults(t *testing.T) {
	tests := []struct {
		name string
		env  string
		val  string
		key  string
		want interface{}
	}{
		{"not a number", "BTSPIDER_WORKER_WORKER_NUM", "many", "worker.worker_num", 4},
		{"below bound", "BTSPIDER_WORKER_WORKER_NUM", "0", "worker.worker_num", 4},
		{"above bound", "BTSPIDER_SERVER_PORT", "70000", "server.port", 6882},
		{"bad duration", "BTSPIDER_FIND_NODE_INTERVAL", "soon", "find_node_interval", 10 * time.Second},
		{"duration too small", "BTSPIDER_FIND_NODE_INTERVAL", "1ms", "find_node_interval", 10 * time.Second},
		{"bad bool", "BTSPIDER_DHT_DEFERRED_REPLIES", "maybe", "dht.deferred_replies", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New()
			c.applyEnvironmentOverrides(func(k string) (string, bool) {
				if k == tt.env {
					return tt.val, true
				}
				return "", false
			})
			assert.Equal(t, tt.want, c.Get(tt.key, nil))
		})
	}
}

func TestLoadReadsEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("BTSPIDER_WORKER_RUNNING_MAX=42\n"), 0o600))
	t.Setenv("BTSPIDER_WORKER_RUNNING_MAX", "")
	require.NoError(t, os.Unsetenv("BTSPIDER_WORKER_RUNNING_MAX"))

	c, err := Load(path, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, 42, c.Int("worker.running_max", 0))
}

func TestLoadEnvironmentWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("BTSPIDER_SERVER_PORT=7000\n"), 0o600))
	t.Setenv("BTSPIDER_SERVER_PORT", "7001")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7001, c.Int("server.port", 0))
}

func TestSetAndKeys(t *testing.T) {
	c := New()
	c.Set("server.port", 9000)
	assert.Equal(t, 9000, c.Int("server.port", 0))

	keys := c.Keys()
	assert.Contains(t, keys, "server.port")
	assert.IsIncreasing(t, keys)
}

package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/btspider/config"
)

func TestParseCLIFlagsRecordsExplicitFlags(t *testing.T) {
	cli, err := parseCLIFlags([]string{"-port", "7000", "-workers", "8"}, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, 7000, cli.port)
	assert.True(t, cli.set["port"])
	assert.True(t, cli.set["workers"])
	assert.False(t, cli.set["host"])
	assert.Equal(t, ".env", cli.envFile)
}

func TestParseCLIFlagsRejectsUnknown(t *testing.T) {
	var out bytes.Buffer
	_, err := parseCLIFlags([]string{"-nope"}, &out)
	assert.Error(t, err)
	assert.Contains(t, out.String(), "nope")
}

func TestApplyFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
		check   func(t *testing.T, c *config.Config)
	}{
		{
			name: "defaults untouched",
			args: nil,
			check: func(t *testing.T, c *config.Config) {
				assert.Equal(t, 6882, c.Int("server.port", 0))
				assert.Equal(t, 4, c.Int("worker.worker_num", 0))
			},
		},
		{
			name: "ports and workers",
			args: []string{"-port", "7000", "-ports", "7001, 7002", "-workers", "2"},
			check: func(t *testing.T, c *config.Config) {
				assert.Equal(t, 7000, c.Int("server.port", 0))
				assert.Equal(t, []string{"7001", "7002"}, c.Strings("server.ports", nil))
				assert.Equal(t, 2, c.Int("worker.worker_num", 0))
			},
		},
		{
			name: "files and proxy",
			args: []string{"-data-file", "d.txt", "-stats-file", "s.log", "-proxy", "socks5://127.0.0.1:1080"},
			check: func(t *testing.T, c *config.Config) {
				assert.Equal(t, "d.txt", c.String("data_file", ""))
				assert.Equal(t, "s.log", c.String("stats_file", ""))
				assert.Equal(t, "socks5://127.0.0.1:1080", c.String("metadata.proxy", ""))
			},
		},
		{name: "port zero", args: []string{"-port", "0"}, wantErr: true},
		{name: "bad extra port", args: []string{"-ports", "6883,x"}, wantErr: true},
		{name: "zero workers", args: []string{"-workers", "0"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cli, err := parseCLIFlags(tt.args, io.Discard)
			require.NoError(t, err)

			c := config.New()
			err = applyFlags(cli, c)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, c)
		})
	}
}

func TestSetupLogging(t *testing.T) {
	defer logrus.SetOutput(os.Stderr)
	defer logrus.SetLevel(logrus.InfoLevel)

	_, err := setupLogging("loud", "")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "btspider.log")
	closer, err := setupLogging("debug", path)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
	assert.NoError(t, closer.Close())
}

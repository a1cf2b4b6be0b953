package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(nil, map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "localhost:8080", cfg.Addr)
	assert.Equal(t, 100, cfg.SizeTrigger)
	assert.Equal(t, 30*time.Second, cfg.TimeTrigger)
	assert.Equal(t, 10000, cfg.BufferCapacity)
	assert.Equal(t, 500, cfg.BatchSize)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.RetryBaseDelay)
	assert.Equal(t, 30*time.Second, cfg.RetryMaxDelay)
	assert.Equal(t, 5*time.Second, cfg.SamplePeriod)
	assert.Equal(t, time.Duration(0), cfg.SampleTimeout)
	assert.Equal(t, 100, cfg.MaxConnections)
	assert.True(t, cfg.HostMetrics)
	assert.Equal(t, "property-management", cfg.ServiceName)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Empty(t, cfg.DatabaseDSN)
}

func TestLoadPrecedence(t *testing.T) {
	path := writeFile(t, "telemetry.json", `{
		"address": "file:1",
		"size_trigger": 10,
		"time_trigger": "2s",
		"batch_size": 20,
		"service_name": "billing"
	}`)

	tests := []struct {
		name    string
		args    []string
		environ map[string]string
		check   func(t *testing.T, cfg Config)
	}{
		{
			name: "file over defaults",
			args: []string{"-c", path},
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, "file:1", cfg.Addr)
				assert.Equal(t, 10, cfg.SizeTrigger)
				assert.Equal(t, 2*time.Second, cfg.TimeTrigger)
				assert.Equal(t, "billing", cfg.ServiceName)
				assert.Equal(t, path, cfg.ConfigFilePath)
			},
		},
		{
			name: "flags over file",
			args: []string{"--config", path, "-a", "flag:2", "--size-trigger", "50"},
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, "flag:2", cfg.Addr)
				assert.Equal(t, 50, cfg.SizeTrigger)
				assert.Equal(t, 20, cfg.BatchSize)
			},
		},
		{
			name:    "env over flags",
			args:    []string{"-a", "flag:2", "--time-trigger", "5s"},
			environ: map[string]string{"CONFIG": path, "ADDRESS": "env:3", "TIME_TRIGGER": "7s"},
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, "env:3", cfg.Addr)
				assert.Equal(t, 7*time.Second, cfg.TimeTrigger)
				assert.Equal(t, 10, cfg.SizeTrigger)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			environ := tt.environ
			if environ == nil {
				environ = map[string]string{}
			}
			cfg, err := load(tt.args, environ)
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "telemetry.yaml", "sink_url: http://collector:9000/v1/metrics\nmax_connections: 5\nhost_metrics: false\n")

	cfg, err := load([]string{"-c", path}, map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, "http://collector:9000/v1/metrics", cfg.SinkURL)
	assert.Equal(t, 5, cfg.MaxConnections)
	assert.False(t, cfg.HostMetrics)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		environ map[string]string
		wantErr string
	}{
		{
			name:    "unknown flag",
			args:    []string{"--nope"},
			wantErr: "failed to parse flags",
		},
		{
			name:    "missing config file",
			args:    []string{"-c", filepath.Join(t.TempDir(), "absent.json")},
			wantErr: "failed to read config file",
		},
		{
			name:    "bad env duration",
			environ: map[string]string{"SEND_TIMEOUT": "soon"},
			wantErr: "failed to parse environment",
		},
		{
			name:    "size trigger over capacity",
			environ: map[string]string{"SIZE_TRIGGER": "200", "BUFFER_CAPACITY": "100"},
			wantErr: "exceeds buffer_capacity",
		},
		{
			name:    "zero batch",
			args:    []string{"--batch-size", "0"},
			wantErr: "batch_size must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			environ := tt.environ
			if environ == nil {
				environ = map[string]string{}
			}
			_, err := load(tt.args, environ)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateReportsInFieldOrder(t *testing.T) {
	want := []string{
		"invalid config: size_trigger must be positive, got 0",
		"buffer_capacity must be positive, got 0",
		"batch_size must be positive, got 0",
		"max_retries must be positive, got 0",
		"broadcast_queue must be positive, got 0",
		"time_trigger must be positive, got 0s",
		"flush_check_interval must be positive, got 0s",
		"retry_base_delay must be positive, got 0s",
		"retry_max_delay must be positive, got 0s",
		"export_timeout must be positive, got 0s",
		"shutdown_timeout must be positive, got 0s",
		"sample_period must be positive, got 0s",
		"broadcast_interval must be positive, got 0s",
		"send_timeout must be positive, got 0s",
		"ping_interval must be positive, got 0s",
		"ping_timeout must be positive, got 0s",
	}

	for range 20 {
		err := Config{}.Validate()
		require.Error(t, err)
		assert.Equal(t, want, strings.Split(err.Error(), "\n"))
	}
}

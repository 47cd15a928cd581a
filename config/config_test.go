package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/teiid/goxa"
	"github.com/teiid/goxa/log"
)

const testConfig = `
coordinator:
  timeout: 30s
  monitor_tick: 2s
  log_workers: 4
  recovery_grace: 10m
log:
  level: debug
  file_name: /tmp/goxa-test.log
  console: true
mysql:
  dsn: "user:pass@tcp(127.0.0.1:3306)/goxa?parseTime=true"
  retention: 168h
redis:
  address: 127.0.0.1:6379
  cluster: test
`

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "goxa.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func Test_Load(t *testing.T) {
	cfg, err := Load(writeConfig(t, testConfig))
	assert.Nil(t, err)
	assert.Equal(t, 30*time.Second, cfg.Coordinator.Timeout)
	assert.Equal(t, 2*time.Second, cfg.Coordinator.MonitorTick)
	assert.Equal(t, 1024, cfg.Coordinator.LogQueueSize)
	assert.Equal(t, 4, cfg.Coordinator.LogWorkers)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "goxa", cfg.Log.Name)
	assert.True(t, cfg.Log.Console)
	assert.Equal(t, 168*time.Hour, cfg.MySQL.Retention)
	assert.Equal(t, "tcp", cfg.Redis.Network)
	assert.Equal(t, "test", cfg.Redis.Cluster)
}

func Test_Load_defaults_and_env(t *testing.T) {
	t.Setenv("GOXA_COORDINATOR_TIMEOUT", "1m")
	t.Setenv("GOXA_REDIS_CLUSTER", "from-env")

	cfg, err := Load("")
	assert.Nil(t, err)
	assert.Equal(t, time.Minute, cfg.Coordinator.Timeout)
	assert.Equal(t, 10*time.Second, cfg.Coordinator.MonitorTick)
	assert.Equal(t, "from-env", cfg.Redis.Cluster)
	assert.Equal(t, "", cfg.MySQL.DSN)
}

func Test_Load_invalid(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		content string
	}{
		{
			name: "missingFile",
			path: filepath.Join(t.TempDir(), "missing.yaml"),
		},
		{
			name:    "negativeTimeout",
			content: "coordinator:\n  timeout: -1s\n",
		},
		{
			name:    "redisWithoutNetwork",
			content: "redis:\n  network: \"\"\n  address: 127.0.0.1:6379\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := tt.path
			if path == "" {
				path = writeConfig(t, tt.content)
			}
			_, err := Load(path)
			assert.NotNil(t, err)
		})
	}
}

func Test_Options(t *testing.T) {
	cfg, err := Load(writeConfig(t, testConfig))
	assert.Nil(t, err)

	opts := goxa.Options{}
	for _, opt := range cfg.CoordinatorOptions() {
		opt(&opts)
	}
	assert.Equal(t, 30*time.Second, opts.Timeout)
	assert.Equal(t, 2*time.Second, opts.MonitorTick)
	assert.Equal(t, 1024, opts.LogQueueSize)
	assert.Equal(t, 4, opts.LogWorkers)
	assert.Equal(t, 10*time.Minute, opts.RecoveryGrace)

	logOptions := log.NewOptions(cfg.LogOptions()...)
	assert.Equal(t, "debug", logOptions.LogLevel)
	assert.Equal(t, "/tmp/goxa-test.log", logOptions.FileName)
	assert.Equal(t, 100, logOptions.MaxSize)
	assert.True(t, logOptions.Console)
}

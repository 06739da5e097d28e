package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/petrijr/bgwork/internal/config"
	"github.com/petrijr/bgwork/pkg/api"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bgwork.yaml")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConfigCommand_PrintsEffectiveConfig(t *testing.T) {
	path := writeConfig(t, `
channel:
  name: jobs
  retryAttempts: 7
`)
	t.Setenv("BGWORK_LOG_FORMAT", "json")

	out, err := execute(t, "", "config", "--config", path, "--log-level", "debug")
	require.NoError(t, err)

	var cfg config.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &cfg))
	require.Equal(t, "jobs", cfg.Channel.Name)
	require.Equal(t, 7, cfg.Channel.RetryAttempts)
	require.Equal(t, "json", cfg.Log.Format)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, config.Default().Cron, cfg.Cron)
}

func TestConfigCommand_ReportsValidationAfterOutput(t *testing.T) {
	out, err := execute(t, "", "config", "--config", "", "--log-level", "verbose")
	require.True(t, api.IsConfigError(err), "got %v", err)
	require.Contains(t, out, "level: verbose")
}

func TestRunCommand_RejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, "broker:\n  kind: kafka\n")
	_, err := execute(t, "", "run", "--config", path)
	require.True(t, api.IsConfigError(err), "got %v", err)
}

func TestPublishCommand_RejectsNonJSONBody(t *testing.T) {
	_, err := execute(t, "", "publish", "--config", "", "--broker", "redis", "--url", "redis://127.0.0.1:1", "--to", "orders", "not json")
	require.ErrorContains(t, err, "not valid JSON")
}

func TestPublishCommand_NeedsURLAndTarget(t *testing.T) {
	_, err := execute(t, `{"id":1}`, "publish", "--config", "", "--broker", "redis")
	require.ErrorContains(t, err, "no broker URL")

	_, err = execute(t, `{"id":1}`, "publish", "--config", "", "--broker", "redis", "--url", "redis://127.0.0.1:1")
	require.ErrorContains(t, err, "no target")

	_, err = execute(t, `{"id":1}`, "publish", "--config", "", "--broker", "kafka", "--url", "x", "--to", "y")
	require.ErrorContains(t, err, "unknown broker")
}

func TestPublishOptions_FillFromBrokerConfig(t *testing.T) {
	var o publishOptions
	o.fill(config.BrokerConfig{Kind: config.BrokerRedisLog, URL: "redis://r", Stream: "orders", Queue: "unused"})
	require.Equal(t, publishOptions{broker: "redis", url: "redis://r", target: "orders"}, o)

	o = publishOptions{url: "amqp://override"}
	o.fill(config.BrokerConfig{Kind: config.BrokerRabbitMQ, URL: "amqp://cfg", Queue: "jobs"})
	require.Equal(t, "rabbitmq", o.broker)
	require.Equal(t, "amqp://override", o.url)
	require.Equal(t, "jobs", o.target)
}

func TestReadBody(t *testing.T) {
	body, err := readBody(strings.NewReader("ignored"), []string{`{"a":1}`})
	require.NoError(t, err)
	require.Equal(t, `{"a":1}`, string(body))

	body, err = readBody(strings.NewReader(`{"b":2}`), []string{"-"})
	require.NoError(t, err)
	require.Equal(t, `{"b":2}`, string(body))

	body, err = readBody(strings.NewReader(`[]`), nil)
	require.NoError(t, err)
	require.Equal(t, `[]`, string(body))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, config.LogConfig{Level: "warn", Format: "json"})
	logger.Info("hidden")
	logger.Warn("shown", slog.String("k", "v"))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "shown", rec["msg"])
	require.Equal(t, "v", rec["k"])
}

func serviceNames(a *app) []string {
	var names []string
	for _, svc := range a.host.Services() {
		names = append(names, svc.Name())
	}
	return names
}

func TestBuild_WiresConfiguredServices(t *testing.T) {
	cfg := config.Default()
	cfg.Cron.Enabled = true
	cfg.Monitor.Enabled = true
	cfg.Monitor.Addr = "127.0.0.1:0"
	require.NoError(t, cfg.Validate())

	a, err := build(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.close()) })

	require.Equal(t, []string{"monitor", "channel", "heartbeat"}, serviceNames(a))
	require.NotNil(t, a.monitor)
}

func TestBuild_OpensCheckpointStores(t *testing.T) {
	cases := []struct {
		name string
		cp   config.CheckpointConfig
	}{
		{"memory", config.CheckpointConfig{Kind: config.CheckpointMemory}},
		{"sqlite", config.CheckpointConfig{Kind: config.CheckpointSQLite, DSN: "file:" + filepath.Join(t.TempDir(), "cp.db")}},
		{"pebble", config.CheckpointConfig{Kind: config.CheckpointPebble, Path: filepath.Join(t.TempDir(), "cp")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Broker.Kind = config.BrokerRedisLog
			// Connections are lazy, nothing listens here.
			cfg.Broker.URL = "redis://127.0.0.1:1/0"
			cfg.Broker.Stream = "orders"
			cfg.Broker.Group = "audit"
			cfg.Broker.Checkpoint = tc.cp
			require.NoError(t, cfg.Validate())

			a, err := build(context.Background(), cfg, discardLogger())
			require.NoError(t, err)
			require.Equal(t, []string{"channel", "broker"}, serviceNames(a))
			require.NoError(t, a.close())
		})
	}
}

func TestBuild_FailsOnBadCheckpointTable(t *testing.T) {
	cfg := config.Default()
	cfg.Broker.Kind = config.BrokerRedisLog
	cfg.Broker.URL = "redis://127.0.0.1:1/0"
	cfg.Broker.Stream = "orders"
	cfg.Broker.Group = "audit"
	cfg.Broker.Checkpoint = config.CheckpointConfig{
		Kind:  config.CheckpointSQLite,
		DSN:   "file:" + filepath.Join(t.TempDir(), "cp.db"),
		Table: "drop table",
	}

	_, err := build(context.Background(), cfg, discardLogger())
	require.ErrorContains(t, err, "invalid table name")
}

func TestRun_CronFeedsChannel(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for a cron tick")
	}

	cfg := config.Default()
	cfg.Cron.Enabled = true
	cfg.Cron.Expression = "* * * * * *"
	cfg.Cron.IncludingSeconds = true
	cfg.ShutdownTimeout = config.Duration(5 * time.Second)
	require.NoError(t, cfg.Validate())

	a, err := build(context.Background(), cfg, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.host.Run(ctx) }()

	// One completion for the tick, one for the job it enqueued.
	require.Eventually(t, func() bool {
		return a.metrics.Snapshot().ItemsCompleted >= 2
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, a.close())
}

package config

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettingsDefaults(t *testing.T) {
	s, c, err := LoadSettings("", nil)
	require.NoError(t, err)
	require.NotNil(t, c)

	assert.Equal(t, 5000, s.Server.Port)
	assert.Equal(t, ":5000", s.Server.Addr())
	assert.Equal(t, "*", s.Frontend)
	assert.Equal(t, "info", s.Log.Level)
	assert.Equal(t, 30*time.Second, s.WS.SweepInterval)
	assert.Equal(t, time.Hour, s.WS.RoomTTL)
	assert.Equal(t, 256, s.WS.SendBuffer)
	assert.Equal(t, "memory", s.Directory.Driver)
	assert.Equal(t, "noop", s.Tracing.Exporter)
}

func TestLoadSettingsLegacyEnv(t *testing.T) {
	t.Setenv("PORT", "8088")
	t.Setenv("FRONTEND", "https://meet.example.com")
	t.Setenv("RELAY_WS_ROOM_TTL", "10m")
	t.Setenv("RELAY_DIRECTORY_DRIVER", "redis")

	s, _, err := LoadSettings("", nil)
	require.NoError(t, err)

	assert.Equal(t, 8088, s.Server.Port)
	assert.Equal(t, "https://meet.example.com", s.Frontend)
	assert.Equal(t, 10*time.Minute, s.WS.RoomTTL)
	assert.Equal(t, "redis", s.Directory.Driver)
}

func TestLoadSettingsFile(t *testing.T) {
	path := writeTestConfig(t, t.TempDir(), "relay.yaml", `
server:
  port: 6001
frontend: http://localhost:3000
ws:
  sweep_interval: 15s
tracing:
  enabled: true
  exporter: stdout
`)

	s, _, err := LoadSettings(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 6001, s.Server.Port)
	assert.Equal(t, "http://localhost:3000", s.Frontend)
	assert.Equal(t, 15*time.Second, s.WS.SweepInterval)
	assert.True(t, s.Tracing.Enabled)
	assert.Equal(t, "stdout", s.Tracing.Exporter)
	assert.Equal(t, time.Hour, s.WS.RoomTTL)
}

func TestLoadSettingsMissingFileIsOptional(t *testing.T) {
	s, _, err := LoadSettings(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.NoError(t, err)
	assert.Equal(t, 5000, s.Server.Port)
}

func TestLoadSettingsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"port out of range", map[string]string{"PORT": "70000"}},
		{"unknown directory driver", map[string]string{"RELAY_DIRECTORY_DRIVER": "etcd"}},
		{"unknown exporter", map[string]string{"RELAY_TRACING_EXPORTER": "zipkin"}},
		{"zero send buffer", map[string]string{"RELAY_WS_SEND_BUFFER": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, _, err := LoadSettings("", nil)
			require.Error(t, err)
			assert.True(t, stderrors.Is(err, ErrInvalidSettings))
		})
	}
}

func TestLoadSettingsReload(t *testing.T) {
	path := writeTestConfig(t, t.TempDir(), "relay.yaml", "log:\n  level: info\n")

	reloaded := make(chan *Settings, 4)
	_, c, err := LoadSettings(path, func(s *Settings) {
		select {
		case reloaded <- s:
		default:
		}
	})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0644))

	deadline := time.After(3 * time.Second)
	for {
		select {
		case s := <-reloaded:
			if s.Log.Level == "debug" {
				return
			}
		case <-deadline:
			t.Fatal("reload callback did not observe the new log level")
		}
	}
}

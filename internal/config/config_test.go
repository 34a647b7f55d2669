package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	swi "github.com/TheAlpha16/swi-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "swid.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "/dev/swi", cfg.Socket.Path)
	assert.Equal(t, FileMode(0o660), cfg.Socket.Mode)
	assert.Equal(t, "reject", cfg.Socket.BusyPolicy)
	assert.Equal(t, 115200, cfg.Serial.Baud)
	assert.Empty(t, cfg.Serial.Uinput)
}

func TestDefaultMatchesLibraryDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, swi.DefaultSocketPath, cfg.Socket.Path)
	assert.Equal(t, swi.DefaultSocketMode, os.FileMode(cfg.Socket.Mode))
	assert.Equal(t, swi.DefaultBaud, cfg.Serial.Baud)
	assert.Equal(t, swi.DefaultStateChannel, cfg.Valkey.Channel)

	policy, err := swi.ParseBusyPolicy(cfg.Socket.BusyPolicy)
	require.NoError(t, err)
	assert.Equal(t, swi.BusyReject, policy)
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
socket:
  path: /run/swi.sock
  mode: 0600
  busy_policy: replace
  read_timeout: 30s
state:
  running: true
  value: 12
serial:
  device: /dev/ttyAMA3
  uinput: /dev/uinput
valkey:
  address: localhost:6379
status:
  listen_addr: 127.0.0.1:8081
log:
  level: debug
  development: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/run/swi.sock", cfg.Socket.Path)
	assert.Equal(t, FileMode(0o600), cfg.Socket.Mode)
	assert.Equal(t, "replace", cfg.Socket.BusyPolicy)
	assert.Equal(t, 30*time.Second, cfg.Socket.ReadTimeout.Duration())
	assert.Equal(t, StateConfig{Running: true, Value: 12}, cfg.State)
	assert.Equal(t, "/dev/ttyAMA3", cfg.Serial.Device)
	assert.Equal(t, "/dev/uinput", cfg.Serial.Uinput)

	// Unset keys keep their defaults
	assert.Equal(t, 115200, cfg.Serial.Baud)
	assert.Equal(t, "swi.state", cfg.Valkey.Channel)

	assert.Equal(t, "localhost:6379", cfg.Valkey.Address)
	assert.Equal(t, "127.0.0.1:8081", cfg.Status.ListenAddr)
	assert.Equal(t, LogConfig{Level: "debug", Development: true}, cfg.Log)
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "unknown key", content: "socket:\n  pth: /dev/swi\n"},
		{name: "bad policy", content: "socket:\n  busy_policy: drop\n"},
		{name: "bad duration", content: "socket:\n  read_timeout: soon\n"},
		{name: "negative duration", content: "socket:\n  read_timeout: -1s\n"},
		{name: "bad mode", content: "socket:\n  mode: 0999\n"},
		{name: "mode out of range", content: "socket:\n  mode: 01777\n"},
		{name: "value out of range", content: "state:\n  value: 300\n"},
		{name: "empty path", content: "socket:\n  path: \"\"\n"},
		{name: "bad baud", content: "serial:\n  device: /dev/ttyS0\n  baud: 0\n"},
		{name: "no channel", content: "valkey:\n  address: localhost:6379\n  channel: \"\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("0660")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o660), mode)

	mode, err = ParseMode("777")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o777), mode)

	_, err = ParseMode("rw-rw----")
	assert.Error(t, err)
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Socket.ReadTimeout = Duration(90 * time.Second)

	data, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(data), "0660")
	assert.Contains(t, string(data), "read_timeout: 1m30s")

	path := writeConfig(t, string(data))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

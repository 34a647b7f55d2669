// Package config loads the swid daemon configuration.
//
// Configuration comes from a single YAML file named by the --config flag or
// the SWID_CONFIG environment variable. Command-line flags override values
// from the file. There is no automatic discovery.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	swi "github.com/TheAlpha16/swi-go"
	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable holding the config file path.
const EnvVar = "SWID_CONFIG"

// Config is the daemon configuration.
type Config struct {
	Socket SocketConfig `yaml:"socket"`
	State  StateConfig  `yaml:"state"`
	Serial SerialConfig `yaml:"serial"`
	Valkey ValkeyConfig `yaml:"valkey"`
	Status StatusConfig `yaml:"status"`
	Log    LogConfig    `yaml:"log"`
}

// SocketConfig configures the control channel.
type SocketConfig struct {
	// Path of the Unix socket. Default: /dev/swi
	Path string `yaml:"path"`

	// Mode applied to the socket file, in octal. Default: 0660
	Mode FileMode `yaml:"mode"`

	// BusyPolicy is one of reject, queue, replace. Default: reject
	BusyPolicy string `yaml:"busy_policy"`

	// ReadTimeout closes a connection idle for this long. Zero disables it.
	ReadTimeout Duration `yaml:"read_timeout"`
}

// StateConfig is the initial runtime state.
type StateConfig struct {
	Running bool  `yaml:"running"`
	Value   uint8 `yaml:"value"`
}

// SerialConfig configures the serial link to the microcontroller. The link
// is disabled when Device is empty.
type SerialConfig struct {
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`

	// Uinput is the uinput device that key lines read back from the link
	// are injected through. Key lines are only logged when it is empty.
	Uinput string `yaml:"uinput"`
}

// ValkeyConfig configures state publishing. Disabled when Address is empty.
type ValkeyConfig struct {
	Address string `yaml:"address"`
	Channel string `yaml:"channel"`
}

// StatusConfig configures the HTTP status server. Disabled when ListenAddr
// is empty.
type StatusConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Socket: SocketConfig{
			Path:       swi.DefaultSocketPath,
			Mode:       FileMode(swi.DefaultSocketMode),
			BusyPolicy: swi.BusyReject.String(),
		},
		Serial: SerialConfig{
			Baud: swi.DefaultBaud,
		},
		Valkey: ValkeyConfig{
			Channel: swi.DefaultStateChannel,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the config file at path on top of Default. Unknown keys are
// rejected.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values that the YAML types alone cannot.
func (c Config) Validate() error {
	if c.Socket.Path == "" {
		return errors.New("socket.path is required")
	}
	switch c.Socket.BusyPolicy {
	case "reject", "queue", "replace":
	default:
		return fmt.Errorf("socket.busy_policy: unsupported value %q", c.Socket.BusyPolicy)
	}
	if c.Socket.ReadTimeout < 0 {
		return errors.New("socket.read_timeout must not be negative")
	}
	if c.Serial.Device != "" && c.Serial.Baud <= 0 {
		return errors.New("serial.baud must be positive")
	}
	if c.Valkey.Address != "" && c.Valkey.Channel == "" {
		return errors.New("valkey.channel is required when valkey.address is set")
	}
	return nil
}

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// FileMode is an os.FileMode written in octal ("0660").
type FileMode os.FileMode

func (m *FileMode) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: file mode must be a scalar", value.Line)
	}
	// The raw text is used so that 0660 is read as octal whatever YAML
	// version the document follows.
	parsed, err := ParseMode(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*m = FileMode(parsed)
	return nil
}

func (m FileMode) MarshalYAML() (interface{}, error) {
	return fmt.Sprintf("%04o", uint32(m)), nil
}

// ParseMode parses an octal permission string such as "0660" or "777".
func ParseMode(s string) (os.FileMode, error) {
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid file mode %q", s)
	}
	if v > 0o777 {
		return 0, fmt.Errorf("file mode %q out of range", s)
	}
	return os.FileMode(v), nil
}

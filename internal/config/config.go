// Package config loads the transmitter configuration.
//
// Values are layered, later layers winning: built-in defaults, the YAML
// deployment file named by --config, the .env file and the process
// environment, and finally command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pion/logging"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/Xosrov/webrtc-vtx/internal/telemetry"
)

// environment variables
const (
	EnvEndpoint   = "SIGNALING_ENDPOINT"
	EnvCAFile     = "SERVER_CERTIFICATE_AUTHORITY"
	EnvAuthSecret = "SIGNALING_AUTH_SECRET"
	EnvLogLevel   = "VTX_LOG_LEVEL"
	EnvStatusAddr = "VTX_STATUS_ADDR"
	EnvDeviceName = "VTX_DEVICE_NAME"
)

// channel table presets
const (
	ChannelsDefault   = "default"
	ChannelsSynthetic = "synthetic"
)

var ErrHelp = pflag.ErrHelp

type Config struct {
	Signaling SignalingConfig `yaml:"signaling"`
	Media     MediaConfig     `yaml:"media"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// LogLevel is one of disabled, error, warn, info, debug, trace.
	LogLevel string `yaml:"log_level"`

	// StatusAddr is the listen address of the local status endpoint.
	// Empty disables it.
	StatusAddr string `yaml:"status_addr"`
}

type SignalingConfig struct {
	Endpoint   string `yaml:"endpoint"`
	CAFile     string `yaml:"ca_file"`
	AuthSecret string `yaml:"auth_secret"`
	DeviceName string `yaml:"device_name"`
	// DialTimeout bounds the initial connection attempt.
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

type MediaConfig struct {
	ICEServers          []string      `yaml:"ice_servers"`
	VideoRTPAddr        string        `yaml:"video_rtp_addr"`
	AudioRTPAddr        string        `yaml:"audio_rtp_addr"`
	NegotiationDebounce time.Duration `yaml:"negotiation_debounce"`
}

type TelemetryConfig struct {
	// Preset selects a built-in channel table when Channels is empty.
	Preset           string          `yaml:"preset"`
	UnavailableLimit int             `yaml:"unavailable_limit"`
	Channels         []ChannelConfig `yaml:"channels"`
}

// ChannelConfig is the deployment file form of a telemetry channel.
type ChannelConfig struct {
	Label          string  `yaml:"label"`
	Ordered        bool    `yaml:"ordered"`
	MaxLifetimeMs  *uint16 `yaml:"max_lifetime_ms,omitempty"`
	MaxRetransmits *uint16 `yaml:"max_retransmits,omitempty"`
	CadenceHz      float64 `yaml:"cadence_hz"`
	// Payload is binary or json.
	Payload  string `yaml:"payload"`
	Source   string `yaml:"source"`
	Optional bool   `yaml:"optional"`
}

func Default() *Config {
	return &Config{
		Signaling: SignalingConfig{
			Endpoint:    "wss://fpv/signaling",
			CAFile:      "server-ca-cert.pem",
			DeviceName:  "vtx",
			DialTimeout: 10 * time.Second,
		},
		Media: MediaConfig{
			ICEServers:          []string{"stun:stun.l.google.com:19302"},
			VideoRTPAddr:        "127.0.0.1:5004",
			AudioRTPAddr:        "127.0.0.1:5005",
			NegotiationDebounce: 50 * time.Millisecond,
		},
		Telemetry: TelemetryConfig{
			Preset:           ChannelsDefault,
			UnavailableLimit: 3,
		},
		LogLevel:   "info",
		StatusAddr: "127.0.0.1:8080",
	}
}

// LookupFunc reads one environment variable.
type LookupFunc func(key string) (string, bool)

// Load builds the configuration from args (without the program name).
// lookup reads the process environment; nil means os.LookupEnv.
func Load(args []string, lookup LookupFunc) (*Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	cfg := Default()

	var configPath, envFile string
	var endpoint, caFile, logLevel, statusAddr, deviceName, preset string
	var iceServers []string

	fs := pflag.NewFlagSet("vtx", pflag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "YAML deployment file")
	fs.StringVar(&envFile, "env-file", ".env", "dotenv file read before the environment")
	fs.StringVar(&endpoint, "endpoint", "", "signaling server websocket URL")
	fs.StringVar(&caFile, "ca", "", "PEM file with the signaling server CA")
	fs.StringVar(&logLevel, "log-level", "", "disabled, error, warn, info, debug or trace")
	fs.StringVar(&statusAddr, "status-addr", "", "listen address of the status endpoint, \"off\" disables it")
	fs.StringVar(&deviceName, "device-name", "", "name presented to the signaling server")
	fs.StringVar(&preset, "channels", "", "telemetry channel preset: default or synthetic")
	fs.StringSliceVar(&iceServers, "ice-server", nil, "ICE server URL, repeatable")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if configPath != "" {
		if err := cfg.loadFile(configPath); err != nil {
			return nil, err
		}
	}

	dotenv, err := godotenv.Read(envFile)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: read %s: %w", envFile, err)
	}
	cfg.applyEnv(func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	})

	if fs.Changed("endpoint") {
		cfg.Signaling.Endpoint = endpoint
	}
	if fs.Changed("ca") {
		cfg.Signaling.CAFile = caFile
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if fs.Changed("status-addr") {
		cfg.StatusAddr = statusAddr
	}
	if fs.Changed("device-name") {
		cfg.Signaling.DeviceName = deviceName
	}
	if fs.Changed("channels") {
		cfg.Telemetry.Preset = preset
		cfg.Telemetry.Channels = nil
	}
	if fs.Changed("ice-server") {
		cfg.Media.ICEServers = iceServers
	}
	if cfg.StatusAddr == "off" {
		cfg.StatusAddr = ""
	}
	return cfg, cfg.Validate()
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup LookupFunc) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(EnvEndpoint, &c.Signaling.Endpoint)
	set(EnvCAFile, &c.Signaling.CAFile)
	set(EnvAuthSecret, &c.Signaling.AuthSecret)
	set(EnvLogLevel, &c.LogLevel)
	set(EnvStatusAddr, &c.StatusAddr)
	set(EnvDeviceName, &c.Signaling.DeviceName)
}

func (c *Config) Validate() error {
	if c.Signaling.Endpoint == "" {
		return errors.New("config: signaling endpoint is empty")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := c.ChannelSpecs(); err != nil {
		return err
	}
	return nil
}

var levels = map[string]logging.LogLevel{
	"disabled": logging.LogLevelDisabled,
	"error":    logging.LogLevelError,
	"warn":     logging.LogLevelWarn,
	"info":     logging.LogLevelInfo,
	"debug":    logging.LogLevelDebug,
	"trace":    logging.LogLevelTrace,
}

func ParseLevel(s string) (logging.LogLevel, error) {
	if level, ok := levels[strings.ToLower(s)]; ok {
		return level, nil
	}
	return logging.LogLevelDisabled, fmt.Errorf("config: unknown log level %q", s)
}

// LoggerFactory returns a pion logger factory at the configured level.
// PION_LOG_* scope variables still apply on top.
func (c *Config) LoggerFactory() logging.LoggerFactory {
	f := logging.NewDefaultLoggerFactory()
	if level, err := ParseLevel(c.LogLevel); err == nil {
		f.DefaultLogLevel = level
	}
	return f
}

// ChannelSpecs resolves the telemetry channel table.
func (c *Config) ChannelSpecs() ([]telemetry.ChannelSpec, error) {
	if len(c.Telemetry.Channels) == 0 {
		switch c.Telemetry.Preset {
		case "", ChannelsDefault:
			return telemetry.DefaultChannels(), nil
		case ChannelsSynthetic:
			control := telemetry.ChannelSpec{Label: telemetry.ControlLabel, Ordered: true, Source: telemetry.SourceControl}
			return append([]telemetry.ChannelSpec{control}, telemetry.SyntheticChannels()...), nil
		}
		return nil, fmt.Errorf("config: unknown channel preset %q", c.Telemetry.Preset)
	}
	specs := make([]telemetry.ChannelSpec, 0, len(c.Telemetry.Channels))
	seen := make(map[string]bool)
	for _, ch := range c.Telemetry.Channels {
		spec, err := ch.Spec()
		if err != nil {
			return nil, err
		}
		if seen[spec.Label] {
			return nil, fmt.Errorf("config: duplicate channel %s", spec.Label)
		}
		seen[spec.Label] = true
		specs = append(specs, spec)
	}
	return specs, nil
}

func (ch ChannelConfig) Spec() (telemetry.ChannelSpec, error) {
	spec := telemetry.ChannelSpec{
		Label:     ch.Label,
		Ordered:   ch.Ordered,
		CadenceHz: ch.CadenceHz,
		Source:    ch.Source,
		Optional:  ch.Optional,
	}
	switch {
	case ch.MaxLifetimeMs != nil && ch.MaxRetransmits != nil:
		return spec, fmt.Errorf("config: channel %s sets both max_lifetime_ms and max_retransmits", ch.Label)
	case ch.MaxLifetimeMs != nil:
		spec.Reliability = telemetry.MaxLifetimeMs(*ch.MaxLifetimeMs)
	case ch.MaxRetransmits != nil:
		spec.Reliability = telemetry.MaxRetransmits(*ch.MaxRetransmits)
	}
	switch strings.ToLower(ch.Payload) {
	case "", "binary":
		spec.Payload = telemetry.Binary
	case "json":
		spec.Payload = telemetry.JSONString
	default:
		return spec, fmt.Errorf("config: channel %s has unknown payload %q", ch.Label, ch.Payload)
	}
	if err := spec.Validate(); err != nil {
		return spec, err
	}
	return spec, nil
}

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pion/logging"

	"github.com/Xosrov/webrtc-vtx/internal/telemetry"
)

func env(vars map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load([]string{"--env-file", filepath.Join(dir, "missing.env")}, env(nil))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Signaling.Endpoint != "wss://fpv/signaling" || cfg.Signaling.CAFile != "server-ca-cert.pem" {
		t.Fatalf("signaling = %+v", cfg.Signaling)
	}
	if cfg.StatusAddr != "127.0.0.1:8080" || cfg.LogLevel != "info" {
		t.Fatalf("status=%q level=%q", cfg.StatusAddr, cfg.LogLevel)
	}
	specs, err := cfg.ChannelSpecs()
	if err != nil || len(specs) != len(telemetry.DefaultChannels()) {
		t.Fatalf("specs=%d err=%v", len(specs), err)
	}
}

func TestLayering(t *testing.T) {
	dir := t.TempDir()
	file := write(t, dir, "vtx.yaml", `
log_level: debug
status_addr: 0.0.0.0:9000
signaling:
  endpoint: wss://from-file/signaling
  device_name: file-drone
  dial_timeout: 3s
media:
  ice_servers: [stun:file.example:3478]
  negotiation_debounce: 20ms
`)
	dotenv := write(t, dir, "test.env", "SIGNALING_ENDPOINT=wss://from-dotenv/signaling\nVTX_DEVICE_NAME=dotenv-drone\nSIGNALING_AUTH_SECRET=s3cret\n")

	cfg, err := Load(
		[]string{"--config", file, "--env-file", dotenv, "--log-level", "warn"},
		env(map[string]string{EnvEndpoint: "wss://from-env/signaling"}),
	)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Signaling.Endpoint != "wss://from-env/signaling" {
		t.Fatalf("endpoint = %q", cfg.Signaling.Endpoint)
	}
	if cfg.Signaling.DeviceName != "dotenv-drone" || cfg.Signaling.AuthSecret != "s3cret" {
		t.Fatalf("signaling = %+v", cfg.Signaling)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("log level = %q", cfg.LogLevel)
	}
	if cfg.StatusAddr != "0.0.0.0:9000" || cfg.Signaling.DialTimeout != 3*time.Second {
		t.Fatalf("status=%q timeout=%s", cfg.StatusAddr, cfg.Signaling.DialTimeout)
	}
	if cfg.Media.NegotiationDebounce != 20*time.Millisecond || len(cfg.Media.ICEServers) != 1 {
		t.Fatalf("media = %+v", cfg.Media)
	}
	if cfg.Media.VideoRTPAddr != "127.0.0.1:5004" {
		t.Fatal("defaults lost under a partial file")
	}
}

func TestStatusOff(t *testing.T) {
	cfg, err := Load([]string{"--status-addr", "off", "--env-file", filepath.Join(t.TempDir(), "none")}, env(nil))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.StatusAddr != "" {
		t.Fatalf("status addr = %q", cfg.StatusAddr)
	}
}

func TestChannelTableFromFile(t *testing.T) {
	dir := t.TempDir()
	file := write(t, dir, "vtx.yaml", `
telemetry:
  unavailable_limit: 5
  channels:
    - label: CMD
      ordered: true
      source: control
    - label: ATT
      max_lifetime_ms: 100
      cadence_hz: 30
      source: msp:108
    - label: WIFI
      ordered: true
      max_retransmits: 5
      cadence_hz: 1
      payload: json
      source: wpa
      optional: true
`)
	cfg, err := Load([]string{"--config", file, "--env-file", filepath.Join(dir, "none")}, env(nil))
	if err != nil {
		t.Fatal(err)
	}
	specs, err := cfg.ChannelSpecs()
	if err != nil {
		t.Fatal(err)
	}
	if len(specs) != 3 || cfg.Telemetry.UnavailableLimit != 5 {
		t.Fatalf("specs = %+v", specs)
	}
	if !specs[0].Control() {
		t.Fatal("first channel is not the control channel")
	}
	att := specs[1]
	if att.Reliability != telemetry.MaxLifetimeMs(100) || att.Payload != telemetry.Binary || att.Interval() != time.Second/30 {
		t.Fatalf("ATT = %+v", att)
	}
	wifi := specs[2]
	if wifi.Reliability != telemetry.MaxRetransmits(5) || wifi.Payload != telemetry.JSONString || !wifi.Optional {
		t.Fatalf("WIFI = %+v", wifi)
	}
}

func TestSyntheticPreset(t *testing.T) {
	cfg, err := Load([]string{"--channels", ChannelsSynthetic, "--env-file", filepath.Join(t.TempDir(), "none")}, env(nil))
	if err != nil {
		t.Fatal(err)
	}
	specs, _ := cfg.ChannelSpecs()
	if len(specs) != len(telemetry.SyntheticChannels())+1 || !specs[0].Control() {
		t.Fatalf("specs = %+v", specs)
	}
}

func TestInvalid(t *testing.T) {
	dir := t.TempDir()
	none := filepath.Join(dir, "none")
	cases := map[string][]string{
		"log level": {"--log-level", "loud"},
		"preset":    {"--channels", "everything"},
		"endpoint":  {"--endpoint", ""},
		"yaml":      {"--config", write(t, dir, "bad.yaml", "signaling: [")},
		"both": {"--config", write(t, dir, "both.yaml", `
telemetry:
  channels:
    - {label: X, cadence_hz: 1, source: "msp:1", max_lifetime_ms: 1, max_retransmits: 1}
`)},
		"duplicate": {"--config", write(t, dir, "dup.yaml", `
telemetry:
  channels:
    - {label: X, cadence_hz: 1, source: "msp:1"}
    - {label: X, cadence_hz: 2, source: "msp:2"}
`)},
		"cadence": {"--config", write(t, dir, "cadence.yaml", `
telemetry:
  channels:
    - {label: X, source: "msp:1"}
`)},
		"missing file": {"--config", filepath.Join(dir, "nope.yaml")},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(append(args, "--env-file", none), env(nil)); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestHelp(t *testing.T) {
	_, err := Load([]string{"--help"}, env(nil))
	if !errors.Is(err, ErrHelp) {
		t.Fatalf("err = %v", err)
	}
}

func TestLoggerFactoryLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "error"
	f, ok := cfg.LoggerFactory().(*logging.DefaultLoggerFactory)
	if !ok || f.DefaultLogLevel != logging.LogLevelError {
		t.Fatalf("factory = %+v", f)
	}
}

package wpa

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/Xosrov/webrtc-vtx/internal/telemetry"
)

// fakeSupplicant answers commands from a table. Unknown commands get
// no reply.
func fakeSupplicant(t *testing.T, replies map[string][]string) (ctrl, dir string) {
	t.Helper()
	dir, err := os.MkdirTemp("", "wpa")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	ctrl = filepath.Join(dir, "wlan0")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: ctrl, Net: "unixgram"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	go func() {
		buf := make([]byte, 256)
		for {
			n, from, err := conn.ReadFromUnix(buf)
			if err != nil {
				return
			}
			for _, r := range replies[string(buf[:n])] {
				conn.WriteToUnix([]byte(r), from)
			}
		}
	}()
	return ctrl, dir
}

func TestParseKeyValues(t *testing.T) {
	got := ParseKeyValues("bssid=aa:bb\nssid=field=net\n\nnoequals\n=orphan\nwpa_state=COMPLETED")
	want := map[string]string{"bssid": "aa:bb", "ssid": "field=net", "wpa_state": "COMPLETED"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v", got)
	}
}

func TestPollReport(t *testing.T) {
	ctrl, dir := fakeSupplicant(t, map[string][]string{
		"STATUS":      {"<3>CTRL-EVENT-SCAN-STARTED", "wpa_state=COMPLETED\nssid=drone\n"},
		"SIGNAL_POLL": {"RSSI=-52\nLINKSPEED=65\n"},
	})
	c, err := Dial(ctrl, dir)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	data, err := c.Source().Sample(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		t.Fatal(err)
	}
	if r.Status["ssid"] != "drone" || r.Status["wpa_state"] != "COMPLETED" {
		t.Fatalf("status = %v", r.Status)
	}
	if r.SignalPoll["RSSI"] != "-52" {
		t.Fatalf("signal_poll = %v", r.SignalPoll)
	}
}

func TestSourceUnavailableAfterClose(t *testing.T) {
	ctrl, dir := fakeSupplicant(t, nil)
	c, err := Dial(ctrl, dir)
	if err != nil {
		t.Fatal(err)
	}
	local := c.local
	c.Close()
	if _, err := os.Stat(local); !os.IsNotExist(err) {
		t.Fatalf("local socket left behind: %v", err)
	}
	if _, err := c.Source().Sample(context.Background()); !errors.Is(err, telemetry.ErrUnavailable) {
		t.Fatalf("err = %v", err)
	}
}

func TestDialMissingSocket(t *testing.T) {
	dir, _ := os.MkdirTemp("", "wpa")
	defer os.RemoveAll(dir)
	if _, err := Dial(filepath.Join(dir, "absent"), dir); err == nil {
		t.Fatal("dial to a missing socket succeeded")
	}
}

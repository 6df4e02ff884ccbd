// Package inspect gathers the capability report sent to viewers.
package inspect

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/pion/logging"

	"github.com/Xosrov/webrtc-vtx/internal/msp"
	"github.com/Xosrov/webrtc-vtx/internal/rtc"
)

const sourceName = "pion"

// Capabilities is the payload of the capability response.
type Capabilities struct {
	Source            string                 `json:"source"`
	Platform          string                 `json:"platform"`
	Devices           []Device               `json:"devices"`
	Codecs            map[string][]string    `json:"codecs"`
	Network           []Interface            `json:"network"`
	FlightControllers []msp.FlightController `json:"flight_controllers"`
}

type Device struct {
	Path string `json:"path"`
	Name string `json:"name,omitempty"`
}

type Interface struct {
	Name      string   `json:"name"`
	MAC       string   `json:"mac,omitempty"`
	MTU       int      `json:"mtu"`
	Up        bool     `json:"up"`
	Wireless  bool     `json:"wireless"`
	Addresses []string `json:"addresses"`
}

// Inspector reads the host. Zero values select the real system paths.
type Inspector struct {
	DevDir        string // /dev
	SysDir        string // /sys
	ModelPath     string // /proc/device-tree/model
	Detector      msp.Detector
	Ports         *msp.Ports
	Interfaces    func() ([]net.Interface, error)
	LoggerFactory logging.LoggerFactory

	log logging.LeveledLogger
}

func (i *Inspector) logger() logging.LeveledLogger {
	if i.log == nil {
		f := i.LoggerFactory
		if f == nil {
			f = logging.NewDefaultLoggerFactory()
		}
		i.log = f.NewLogger("inspect")
	}
	return i.log
}

// Inspect builds the report. It blocks on device probing and must not
// run on the event loop.
func (i *Inspector) Inspect(ctx context.Context) Capabilities {
	c := Capabilities{
		Source:            sourceName,
		Platform:          i.Platform(),
		Devices:           i.Devices(),
		Codecs:            rtc.SupportedCodecs(),
		Network:           i.Network(),
		FlightControllers: i.FlightControllers(ctx),
	}
	i.logger().Infof("inspected %d devices, %d interfaces, %d flight controllers",
		len(c.Devices), len(c.Network), len(c.FlightControllers))
	return c
}

// Platform names the board from its device tree model, falling back to
// the build target.
func (i *Inspector) Platform() string {
	path := i.ModelPath
	if path == "" {
		path = "/proc/device-tree/model"
	}
	if b, err := os.ReadFile(path); err == nil {
		if p := platformFromModel(string(b)); p != "" {
			return p
		}
	}
	switch {
	case runtime.GOOS == "darwin":
		return "INTEL_MAC"
	case runtime.GOOS == "linux" && runtime.GOARCH == "amd64":
		return "LINUX_X86"
	}
	return "UNKNOWN"
}

func platformFromModel(model string) string {
	switch {
	case strings.Contains(model, "Raspberry Pi 5"):
		return "RPI5_LIBCAM"
	case strings.Contains(model, "Raspberry Pi 4"):
		return "RPI4_V4L2"
	case strings.Contains(model, "ROCK 5"):
		return "RADXA_ROCK_5B"
	case strings.Contains(model, "Jetson Orin"):
		return "JETSON_ORIN_NANO_SUPER"
	case strings.Contains(model, "Jetson Nano"):
		return "JETSON_NANO_2GB"
	}
	return ""
}

// Devices lists V4L2 nodes.
func (i *Inspector) Devices() []Device {
	devDir, sysDir := i.dirs()
	matches, _ := filepath.Glob(filepath.Join(devDir, "video*"))
	sort.Strings(matches)
	devices := make([]Device, 0, len(matches))
	for _, m := range matches {
		d := Device{Path: m}
		if b, err := os.ReadFile(filepath.Join(sysDir, "class", "video4linux", filepath.Base(m), "name")); err == nil {
			d.Name = strings.TrimSpace(string(b))
		}
		devices = append(devices, d)
	}
	return devices
}

func (i *Inspector) Network() []Interface {
	list := i.Interfaces
	if list == nil {
		list = net.Interfaces
	}
	ifaces, err := list()
	if err != nil {
		i.logger().Warnf("list interfaces: %v", err)
		return []Interface{}
	}
	_, sysDir := i.dirs()
	out := make([]Interface, 0, len(ifaces))
	for _, ifc := range ifaces {
		entry := Interface{
			Name:      ifc.Name,
			MAC:       ifc.HardwareAddr.String(),
			MTU:       ifc.MTU,
			Up:        ifc.Flags&net.FlagUp != 0,
			Addresses: []string{},
		}
		if _, err := os.Stat(filepath.Join(sysDir, "class", "net", ifc.Name, "wireless")); err == nil {
			entry.Wireless = true
		}
		if addrs, err := ifc.Addrs(); err == nil {
			for _, a := range addrs {
				entry.Addresses = append(entry.Addresses, a.String())
			}
		}
		out = append(out, entry)
	}
	return out
}

// FlightControllers probes every detected port. A port that is already
// open for streaming is queried through its existing transport.
func (i *Inspector) FlightControllers(ctx context.Context) []msp.FlightController {
	out := []msp.FlightController{}
	if i.Ports == nil {
		return out
	}
	for _, path := range i.Detector.Detect() {
		t, err := i.Ports.Open(path)
		if err != nil {
			i.logger().Warnf("open %s: %v", path, err)
			out = append(out, msp.FlightController{Port: path})
			continue
		}
		out = append(out, msp.Describe(ctx, t))
	}
	return out
}

func (i *Inspector) dirs() (dev, sys string) {
	dev, sys = i.DevDir, i.SysDir
	if dev == "" {
		dev = "/dev"
	}
	if sys == "" {
		sys = "/sys"
	}
	return dev, sys
}

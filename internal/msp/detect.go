package msp

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	portPrefixes = []string{"ttyACM", "ttyUSB", "ttyAMA", "ttyS"}
	// STMicroelectronics, pid.codes, Arduino
	flightControllerVendors = map[string]bool{"0483": true, "1209": true, "2341": true}
)

// Detector finds serial ports whose USB vendor is a known flight
// controller vendor.
type Detector struct {
	DevDir string // default /dev
	SysDir string // default /sys/class/tty
}

// Detect returns the matching device paths in name order.
func (d Detector) Detect() []string {
	devDir, sysDir := d.DevDir, d.SysDir
	if devDir == "" {
		devDir = "/dev"
	}
	if sysDir == "" {
		sysDir = "/sys/class/tty"
	}
	entries, err := os.ReadDir(devDir)
	if err != nil {
		return nil
	}
	var ports []string
	for _, e := range entries {
		name := e.Name()
		if !hasPortPrefix(name) {
			continue
		}
		path := filepath.Join(devDir, name)
		if !openable(path) {
			continue
		}
		if vid, _ := usbIDs(sysDir, name); flightControllerVendors[vid] {
			ports = append(ports, path)
		}
	}
	sort.Strings(ports)
	return ports
}

func hasPortPrefix(name string) bool {
	for _, p := range portPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func openable(path string) bool {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

// usbIDs reads idVendor and idProduct of the USB device above the tty.
func usbIDs(sysDir, name string) (vid, pid string) {
	dev, err := filepath.EvalSymlinks(filepath.Join(sysDir, name, "device"))
	if err != nil {
		return "", ""
	}
	usb := filepath.Dir(dev)
	return readID(filepath.Join(usb, "idVendor")), readID(filepath.Join(usb, "idProduct"))
}

func readID(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

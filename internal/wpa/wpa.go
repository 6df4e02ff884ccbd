// Package wpa queries wpa_supplicant over its control socket.
package wpa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/Xosrov/webrtc-vtx/internal/telemetry"
)

const (
	DefaultCtrlDir = "/var/run/wpa_supplicant"
	replyTimeout   = time.Second
	maxReply       = 4096
)

var ErrClosed = errors.New("wpa: client closed")

var counter uint32

// Client is one control connection. Requests are serialised.
type Client struct {
	mu     sync.Mutex
	conn   *net.UnixConn
	local  string
	closed bool
}

// Dial connects to the control socket at ctrlPath, binding the reply
// socket under localDir (default os.TempDir()).
func Dial(ctrlPath, localDir string) (*Client, error) {
	if localDir == "" {
		localDir = os.TempDir()
	}
	local := filepath.Join(localDir, fmt.Sprintf("wpa_ctrl_%d-%d", os.Getpid(), atomic.AddUint32(&counter, 1)))
	laddr := &net.UnixAddr{Name: local, Net: "unixgram"}
	raddr := &net.UnixAddr{Name: ctrlPath, Net: "unixgram"}

	conn, err := net.DialUnix("unixgram", laddr, raddr)
	if err != nil && errors.Is(err, syscall.EADDRINUSE) {
		os.Remove(local)
		conn, err = net.DialUnix("unixgram", laddr, raddr)
	}
	if err != nil {
		os.Remove(local)
		return nil, fmt.Errorf("wpa: dial %s: %w", ctrlPath, err)
	}
	return &Client{conn: conn, local: local}, nil
}

// DialInterface connects to the supplicant controlling iface.
func DialInterface(iface string) (*Client, error) {
	return Dial(filepath.Join(DefaultCtrlDir, iface), "")
}

// Request sends cmd and returns the reply text. Unsolicited event
// messages are skipped.
func (c *Client) Request(ctx context.Context, cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", ErrClosed
	}
	deadline := time.Now().Add(replyTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return "", err
	}
	if _, err := c.conn.Write([]byte(cmd)); err != nil {
		return "", fmt.Errorf("wpa: send %s: %w", cmd, err)
	}
	buf := make([]byte, maxReply)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			return "", fmt.Errorf("wpa: %s reply: %w", cmd, err)
		}
		if n > 0 && buf[0] == '<' {
			continue
		}
		return string(buf[:n]), nil
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	err := c.conn.Close()
	os.Remove(c.local)
	return err
}

// ParseKeyValues reads "key=value" lines. Lines without '=' or with an
// empty key are ignored.
func ParseKeyValues(reply string) map[string]string {
	kv := make(map[string]string)
	for _, line := range strings.Split(reply, "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok || key == "" {
			continue
		}
		kv[key] = value
	}
	return kv
}

// Report is the WPA_SUPPLICANT channel payload.
type Report struct {
	Status     map[string]string `json:"status"`
	SignalPoll map[string]string `json:"signal_poll"`
}

// Poll runs STATUS and SIGNAL_POLL. A failed SIGNAL_POLL leaves that
// half empty.
func (c *Client) Poll(ctx context.Context) (Report, error) {
	status, err := c.Request(ctx, "STATUS")
	if err != nil {
		return Report{}, err
	}
	r := Report{Status: ParseKeyValues(status), SignalPoll: map[string]string{}}
	if signal, err := c.Request(ctx, "SIGNAL_POLL"); err == nil {
		r.SignalPoll = ParseKeyValues(signal)
	}
	return r, nil
}

// Source reports each poll as JSON.
func (c *Client) Source() telemetry.Source {
	return telemetry.SourceFunc(func(ctx context.Context) ([]byte, error) {
		r, err := c.Poll(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", telemetry.ErrUnavailable, err)
		}
		return json.Marshal(r)
	})
}

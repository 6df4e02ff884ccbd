package msp

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Xosrov/webrtc-vtx/internal/telemetry"
)

// Transport serialises request/reply exchanges on one port.
type Transport struct {
	mu      sync.Mutex
	port    io.ReadWriteCloser
	path    string
	timeout time.Duration
	closed  bool
}

func NewTransport(port io.ReadWriteCloser, path string) *Transport {
	return &Transport{port: port, path: path, timeout: defaultReplyWindow}
}

func (t *Transport) Path() string { return t.path }

// Request sends code with an empty payload and returns the reply
// payload. ctx bounds the wait together with the transport timeout.
func (t *Transport) Request(ctx context.Context, code uint8) ([]byte, error) {
	req, err := EncodeRequest(code, nil)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := t.port.Write(req); err != nil {
		return nil, fmt.Errorf("msp: write %s: %w", t.path, err)
	}
	deadline := time.Now().Add(t.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return readReply(t.port, code, deadline)
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.port.Close()
}

// Source adapts one request code to a telemetry source. Every failure
// is reported as unavailable.
func (t *Transport) Source(code uint8) telemetry.Source {
	return telemetry.SourceFunc(func(ctx context.Context) ([]byte, error) {
		payload, err := t.Request(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", telemetry.ErrUnavailable, err)
		}
		return payload, nil
	})
}

// Ports keeps one Transport per device path so that inspection and
// streaming share the same open port.
type Ports struct {
	mu     sync.Mutex
	open   func(path string) (io.ReadWriteCloser, error)
	ports  map[string]*Transport
	claims map[*Transport]int
}

// NewPorts opens real serial devices.
func NewPorts() *Ports {
	return NewPortsWith(func(path string) (io.ReadWriteCloser, error) {
		port, err := openSerial(path)
		if err != nil {
			return nil, err
		}
		return port, nil
	})
}

func NewPortsWith(open func(path string) (io.ReadWriteCloser, error)) *Ports {
	return &Ports{open: open, ports: make(map[string]*Transport), claims: make(map[*Transport]int)}
}

// Open returns the transport of path, opening the device on first use.
func (p *Ports) Open(path string) (*Transport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.ports[path]; ok {
		return t, nil
	}
	rwc, err := p.open(path)
	if err != nil {
		return nil, err
	}
	t := NewTransport(rwc, path)
	p.ports[path] = t
	return t, nil
}

// Opened returns the transport of path if it is already open.
func (p *Ports) Opened(path string) (*Transport, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.ports[path]
	return t, ok
}

// Drop closes and forgets path.
func (p *Ports) Drop(path string) {
	p.mu.Lock()
	t, ok := p.ports[path]
	delete(p.ports, path)
	p.mu.Unlock()
	if ok {
		t.Close()
	}
}

func (p *Ports) Close() {
	p.mu.Lock()
	ports := p.ports
	p.ports = make(map[string]*Transport)
	p.mu.Unlock()
	for _, t := range ports {
		t.Close()
	}
}

// Claim is a transport held for one stream. The port is closed and
// removed from the registry when its last claim is closed.
type Claim struct {
	*Transport
	ports *Ports
	once  sync.Once
}

func (p *Ports) Claim(path string) (*Claim, error) {
	t, err := p.Open(path)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.claims[t]++
	p.mu.Unlock()
	return &Claim{Transport: t, ports: p}, nil
}

func (c *Claim) Close() error {
	var err error
	c.once.Do(func() {
		p := c.ports
		p.mu.Lock()
		p.claims[c.Transport]--
		last := p.claims[c.Transport] <= 0
		if last {
			delete(p.claims, c.Transport)
			if p.ports[c.Path()] == c.Transport {
				delete(p.ports, c.Path())
			}
		}
		p.mu.Unlock()
		if last {
			err = c.Transport.Close()
		}
	})
	return err
}

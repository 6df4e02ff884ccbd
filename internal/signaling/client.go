// websocket client for the signaling server
package signaling

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/pion/logging"
)

const (
	// subprotocol the server expects from transmitters
	Subprotocol = "sender"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	sendBuffer = 64
)

var ErrClosed = errors.New("signaling: connection closed")

type DialConfig struct {
	Endpoint   string
	CAFile     string // PEM bundle, system pool when empty or missing
	AuthSecret string // HS256 bearer token when set
	DeviceName string
}

// Client is one persistent connection to the signaling server. Writes
// go through a single queue so messages leave in the order they were
// sent.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	log  logging.LeveledLogger

	// pings go out every pingInterval; the read side gives up after
	// pongWait without any frame from the server
	pongWait     time.Duration
	pingInterval time.Duration
	closeWait    time.Duration

	closing     chan struct{}
	closingOnce sync.Once
	done        chan struct{}
	closeOnce   sync.Once
	mu          sync.Mutex
	err         error
}

func Dial(ctx context.Context, cfg DialConfig, log logging.LeveledLogger) (*Client, error) {
	tlsConfig, err := loadTLSConfig(cfg.CAFile, log)
	if err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
		TLSClientConfig:  tlsConfig,
		Subprotocols:     []string{Subprotocol},
	}
	header := http.Header{}
	if cfg.AuthSecret != "" {
		token, err := signToken(cfg.AuthSecret, cfg.DeviceName)
		if err != nil {
			return nil, err
		}
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := dialer.DialContext(ctx, cfg.Endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("signaling: dial %s: %w (status %d)", cfg.Endpoint, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("signaling: dial %s: %w", cfg.Endpoint, err)
	}
	log.Infof("connected to signaling server %s", cfg.Endpoint)
	return &Client{
		conn:         conn,
		send:         make(chan []byte, sendBuffer),
		log:          log,
		pongWait:     pongWait,
		pingInterval: (pongWait * 9) / 10,
		closeWait:    2 * writeWait,
		closing:      make(chan struct{}),
		done:         make(chan struct{}),
	}, nil
}

func loadTLSConfig(caFile string, log logging.LeveledLogger) (*tls.Config, error) {
	if caFile == "" {
		return &tls.Config{MinVersion: tls.VersionTLS12}, nil
	}
	pem, err := os.ReadFile(caFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Infof("no certificate authority at %s, using system trust store", caFile)
			return &tls.Config{MinVersion: tls.VersionTLS12}, nil
		}
		return nil, fmt.Errorf("signaling: read CA: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("signaling: no certificates in %s", caFile)
	}
	return &tls.Config{MinVersion: tls.VersionTLS12, RootCAs: pool}, nil
}

func signToken(secret, subject string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signaling: sign token: %w", err)
	}
	return token, nil
}

// Run starts the read and write pumps. onMessage is called from the read
// goroutine for every text frame; callers post it to their loop.
func (c *Client) Run(onMessage func([]byte)) {
	go c.readPump(onMessage)
	go c.writePump()
}

func (c *Client) readPump(onMessage func([]byte)) {
	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})
	for {
		kind, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.shutdown(ErrClosed)
			} else {
				c.shutdown(err)
			}
			return
		}
		if kind != websocket.TextMessage {
			c.log.Debugf("ignoring non-text frame (%d bytes)", len(message))
			continue
		}
		c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
		onMessage(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-c.closing:
			c.flush()
			c.shutdown(ErrClosed)
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.shutdown(fmt.Errorf("signaling: write: %w", err))
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown(fmt.Errorf("signaling: ping: %w", err))
				return
			}
		}
	}
}

// Send queues a text frame.
func (c *Client) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	case <-c.closing:
		return ErrClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return fmt.Errorf("signaling: send buffer full, dropping %d bytes", len(data))
	}
}

// Done is closed once the connection is gone, whichever side ended it.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close asks the write pump to flush queued frames and send a close
// frame. It does not wait; Done is closed once the socket is released,
// at the latest after closeWait. Safe to call more than once.
func (c *Client) Close() error {
	c.closingOnce.Do(func() {
		close(c.closing)
		go func() {
			timer := time.NewTimer(c.closeWait)
			defer timer.Stop()
			select {
			case <-c.done:
			case <-timer.C:
				c.shutdown(ErrClosed)
			}
		}()
	})
	return nil
}

func (c *Client) flush() {
	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
		c.conn.Close()
		if errors.Is(err, ErrClosed) {
			c.log.Info("signaling connection closed")
		} else {
			c.log.Errorf("signaling connection failed: %v", err)
		}
	})
}

// Package status serves a small local HTTP endpoint for inspecting and
// poking the running transmitter.
package status

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pion/logging"

	"github.com/Xosrov/webrtc-vtx/internal/controller"
	"github.com/Xosrov/webrtc-vtx/internal/eventloop"
)

var errLoopStopped = errors.New("event loop stopped")

// Controller is the part of the controller the endpoint uses. Its
// methods are only called on the event loop.
type Controller interface {
	Snapshot() controller.Snapshot
	ResumeReady(reason string)
}

type Server struct {
	ctl    Controller
	loop   eventloop.Poster
	log    logging.LeveledLogger
	router *gin.Engine
	srv    *http.Server
}

func New(ctl Controller, loop eventloop.Poster, log logging.LeveledLogger) *Server {
	s := &Server{ctl: ctl, loop: loop, log: log}
	router := gin.New()
	router.Use(gin.Recovery(), s.logRequests)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/status", s.getStatus)
	router.POST("/hangup", s.hangUp)
	s.router = router
	s.srv = &http.Server{Handler: router, ReadHeaderTimeout: 5 * time.Second}
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.log.Debugf("%s %s %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
}

// onLoop runs fn on the event loop and waits for it to finish.
func (s *Server) onLoop(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !s.loop.Post(func() {
		fn()
		close(done)
	}) {
		return errLoopStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) getStatus(c *gin.Context) {
	var snap controller.Snapshot
	if err := s.onLoop(c.Request.Context(), func() { snap = s.ctl.Snapshot() }); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) hangUp(c *gin.Context) {
	err := s.onLoop(c.Request.Context(), func() {
		s.ctl.ResumeReady("Hang up requested on status endpoint")
	})
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Infof("status endpoint on http://%s", ln.Addr())
	err := s.srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

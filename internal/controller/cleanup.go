package controller

import "github.com/Xosrov/webrtc-vtx/internal/session"

// release tears down the current stream: pending setup, telemetry
// timers and channels, collaborators and the pipeline. It reports
// whether anything was released.
func (c *Controller) release() bool {
	released := false
	if c.prep != nil {
		c.prep.cancel()
		c.prep = nil
		released = true
	}
	if timers, channels := c.mux.Teardown(); timers+channels > 0 {
		released = true
	}
	p := c.peer
	if p == nil {
		return released
	}
	c.peer = nil
	for _, dc := range p.incoming {
		dc.Close()
	}
	if p.wifi != nil {
		if err := p.wifi.Close(); err != nil {
			c.log.Debugf("close wifi provider: %v", err)
		}
	}
	if p.fc != nil {
		if err := p.fc.Close(); err != nil {
			c.log.Debugf("close flight controller: %v", err)
		}
	}
	if err := p.pipeline.Stop(); err != nil {
		c.log.Warnf("stop pipeline: %v", err)
	}
	c.log.Infof("released context %s", p.id)
	return true
}

// ResumeReady releases the stream and returns to Registered so the next
// viewer can connect. Calling it with nothing to release does nothing.
func (c *Controller) ResumeReady(reason string) {
	if c.terminated {
		return
	}
	released := c.release()
	hadViewer := c.session.HasViewer()
	c.session.ClearViewer()
	if c.session.State().Streaming() {
		c.session.Transition(session.Registered)
	}
	if released || hadViewer {
		c.log.Infof("connection cleaned up: %s", reason)
	}
}

// terminate releases everything, closes the signaling transport and
// stops the loop.
func (c *Controller) terminate(reason string) {
	if c.terminated {
		return
	}
	c.terminated = true
	c.log.Infof("terminating: %s", reason)
	c.release()
	c.session.ClearViewer()
	c.session.Transition(session.Closed)
	c.cancel()
	if c.opts.Transport != nil {
		if err := c.opts.Transport.Close(); err != nil {
			c.log.Debugf("close signaling transport: %v", err)
		}
	}
	if c.opts.Stop != nil {
		c.opts.Stop()
	}
}

func (c *Controller) Terminated() bool { return c.terminated }

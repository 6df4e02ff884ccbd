// vtx is the field transmitter: it registers with the signaling server,
// streams RTP from the local encoder to one viewer at a time and pushes
// flight controller telemetry over data channels.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/logging"

	"github.com/Xosrov/webrtc-vtx/internal/config"
	"github.com/Xosrov/webrtc-vtx/internal/controller"
	"github.com/Xosrov/webrtc-vtx/internal/eventloop"
	"github.com/Xosrov/webrtc-vtx/internal/inspect"
	"github.com/Xosrov/webrtc-vtx/internal/msp"
	"github.com/Xosrov/webrtc-vtx/internal/rtc"
	"github.com/Xosrov/webrtc-vtx/internal/signaling"
	"github.com/Xosrov/webrtc-vtx/internal/status"
	"github.com/Xosrov/webrtc-vtx/internal/wpa"
)

const (
	loopQueue   = 256
	workerQueue = 64
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Load(args, nil)
	if errors.Is(err, config.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	channels, err := cfg.ChannelSpecs()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	factory := cfg.LoggerFactory()
	log := factory.NewLogger("vtx")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loop := eventloop.New(loopQueue)
	worker := eventloop.NewWorker(workerQueue)
	ports := msp.NewPorts()
	transport := &signalingTransport{}

	ctl := controller.New(controller.Options{
		Transport: transport,
		Loop:      loop,
		Worker:    worker,
		Builder: rtc.NewPionBuilder(rtc.PionConfig{
			ICEServers:          cfg.Media.ICEServers,
			VideoRTPAddr:        cfg.Media.VideoRTPAddr,
			AudioRTPAddr:        cfg.Media.AudioRTPAddr,
			NegotiationDebounce: cfg.Media.NegotiationDebounce,
			LoggerFactory:       factory,
		}),
		Inspector:        &inspect.Inspector{Ports: ports, LoggerFactory: factory},
		Channels:         channels,
		UnavailableLimit: cfg.Telemetry.UnavailableLimit,
		OpenFlightController: func(path string) (controller.FlightController, error) {
			claim, err := ports.Claim(path)
			if err != nil {
				return nil, err
			}
			return claim, nil
		},
		OpenWiFi: func(iface string) (controller.WiFiProvider, error) {
			client, err := wpa.DialInterface(iface)
			if err != nil {
				return nil, err
			}
			return client, nil
		},
		Stop:          loop.Stop,
		LoggerFactory: factory,
	})

	var srv *status.Server
	if cfg.StatusAddr != "" {
		ln, err := net.Listen("tcp", cfg.StatusAddr)
		if err != nil {
			log.Warnf("status endpoint disabled: %v", err)
		} else {
			srv = status.New(ctl, loop, factory.NewLogger("status"))
			go func() {
				if err := srv.Serve(ln); err != nil {
					log.Warnf("status endpoint: %v", err)
				}
			}()
		}
	}

	// failed is only touched on the loop, and read after it returned
	failed := false
	loop.Post(ctl.Connecting)
	go connect(ctx, cfg, factory, loop, ctl, transport, &failed)
	go func() {
		<-ctx.Done()
		loop.Post(ctl.Shutdown)
	}()

	log.Infof("vtx started, signaling server %s", cfg.Signaling.Endpoint)
	loop.Run(context.Background())

	// terminate only asked the client to close; let it flush and release
	// the socket before exiting
	if client := transport.client; client != nil {
		client.Close()
		<-client.Done()
	}
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		srv.Shutdown(shutdownCtx)
		cancel()
	}
	worker.Close()
	ports.Close()

	if failed {
		log.Errorf("exiting after signaling failure")
		return 1
	}
	log.Infof("stopped")
	return 0
}

// connect dials the signaling server and hands the connection to the
// controller on the loop.
func connect(ctx context.Context, cfg *config.Config, factory logging.LoggerFactory, loop *eventloop.Loop, ctl *controller.Controller, transport *signalingTransport, failed *bool) {
	dialCtx, cancel := context.WithTimeout(ctx, cfg.Signaling.DialTimeout)
	client, err := signaling.Dial(dialCtx, signaling.DialConfig{
		Endpoint:   cfg.Signaling.Endpoint,
		CAFile:     cfg.Signaling.CAFile,
		AuthSecret: cfg.Signaling.AuthSecret,
		DeviceName: cfg.Signaling.DeviceName,
	}, factory.NewLogger("signaling"))
	cancel()
	if err != nil {
		loop.Post(func() {
			if ctl.Terminated() {
				return
			}
			*failed = true
			ctl.ConnectFailed(err)
		})
		return
	}

	opened := loop.Post(func() {
		if ctl.Terminated() {
			client.Close()
			return
		}
		transport.client = client
		ctl.TransportOpened()
		client.Run(func(data []byte) {
			loop.Post(func() { ctl.HandleText(data) })
		})
	})
	if !opened {
		client.Close()
		return
	}

	<-client.Done()
	loop.Post(func() {
		if ctl.Terminated() {
			return
		}
		*failed = true
		ctl.TransportClosed(client.Err())
	})
}

// signalingTransport forwards to the client once it is dialed. Only
// used on the loop.
type signalingTransport struct {
	client *signaling.Client
}

func (t *signalingTransport) Send(data []byte) error {
	if t.client == nil {
		return signaling.ErrClosed
	}
	return t.client.Send(data)
}

func (t *signalingTransport) Close() error {
	if t.client == nil {
		return nil
	}
	return t.client.Close()
}

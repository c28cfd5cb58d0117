// Command webrtcsink-whip is a demo WHIP sender: it negotiates a pion
// PeerConnection through the signaller against a WHIP endpoint.
//
// The media pipeline is intentionally absent; the binary exists to exercise
// the signalling path end to end against a real ingestion server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"github.com/x186k/webrtcsink/internal/config"
	"github.com/x186k/webrtcsink/internal/metrics"
	"github.com/x186k/webrtcsink/internal/signaller"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting webrtcsink-whip",
		"whip_endpoint", cfg.WHIPEndpoint,
		"signalling_address", cfg.SignallingAddress,
		"gather_timeout", cfg.GatherTimeout,
		"mailbox_capacity", cfg.MailboxCapacity,
	)

	m := metrics.New()

	sink, err := newDemoSink(logger)
	if err != nil {
		logger.Error("failed to configure webrtc", "err", err)
		os.Exit(2)
	}

	sig := signaller.New(signaller.Config{
		Sink:              sink,
		Logger:            logger,
		Metrics:           m,
		WHIPEndpoint:      cfg.WHIPEndpoint,
		SignallingAddress: cfg.SignallingAddress,
		CAFile:            cfg.CAFile,
		GatherTimeout:     cfg.GatherTimeout,
		ExchangeTimeout:   cfg.ExchangeTimeout,
		MailboxCapacity:   cfg.MailboxCapacity,
	})
	sink.signaller = sig

	var metricsSrv *http.Server
	if cfg.MetricsListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", metrics.PrometheusHandler(m))
		metricsSrv = &http.Server{
			Addr:              cfg.MetricsListenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "err", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sig.Start()

	<-ctx.Done()
	logger.Info("shutting down")

	sig.Stop()
	sink.Close()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(context.Background())
	}

	for name, v := range m.Snapshot() {
		logger.Info("counter", "event", name, "value", v)
	}
}

// demoSink owns the sending PeerConnections and implements signaller.Sink.
type demoSink struct {
	logger *slog.Logger
	api    *webrtc.API

	// Set after construction, before Start.
	signaller *signaller.Signaller

	mu    sync.Mutex
	peers map[string]*webrtc.PeerConnection
}

func newDemoSink(logger *slog.Logger) (*demoSink, error) {
	se := webrtc.SettingEngine{
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	}
	return &demoSink{
		logger: logger,
		api:    webrtc.NewAPI(webrtc.WithSettingEngine(se)),
		peers:  make(map[string]*webrtc.PeerConnection),
	}, nil
}

// AddConsumer creates the sending PeerConnection for the peer and kicks off
// negotiation: local offer plus trickled candidates flow into the
// signaller, which answers through HandleSDP.
func (d *demoSink) AddConsumer(peerID string) error {
	pc, err := d.api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return fmt.Errorf("new peer connection: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", "webrtcsink",
	)
	if err != nil {
		_ = pc.Close()
		return fmt.Errorf("new track: %w", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		_ = pc.Close()
		return fmt.Errorf("add track: %w", err)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			// Gathering finished.
			idx := uint16(0)
			d.signaller.HandleICE(peerID, "", &idx)
			return
		}
		init := c.ToJSON()
		idx := init.SDPMLineIndex
		if idx == nil {
			zero := uint16(0)
			idx = &zero
		}
		d.signaller.HandleICE(peerID, init.Candidate, idx)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		d.logger.Info("peer connection state changed", "peer", peerID, "state", state.String())
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = pc.Close()
		return fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		_ = pc.Close()
		return fmt.Errorf("set local description: %w", err)
	}

	d.mu.Lock()
	d.peers[peerID] = pc
	d.mu.Unlock()

	d.signaller.HandleSDP(peerID, offer)
	return nil
}

// HandleSDP applies the negotiated answer to the peer's connection.
func (d *demoSink) HandleSDP(peerID string, answer webrtc.SessionDescription) error {
	d.mu.Lock()
	pc := d.peers[peerID]
	d.mu.Unlock()
	if pc == nil {
		return fmt.Errorf("no peer connection for %s", peerID)
	}
	return pc.SetRemoteDescription(answer)
}

func (d *demoSink) HandleSignallingError(peerID string, err error) {
	d.logger.Error("signalling failed", "peer", peerID, "err", err)

	if peerID == "" {
		return
	}
	d.mu.Lock()
	pc := d.peers[peerID]
	delete(d.peers, peerID)
	d.mu.Unlock()
	if pc != nil {
		_ = pc.Close()
		d.signaller.ConsumerRemoved(peerID)
	}
}

func (d *demoSink) Close() {
	d.mu.Lock()
	peers := d.peers
	d.peers = make(map[string]*webrtc.PeerConnection)
	d.mu.Unlock()

	for id, pc := range peers {
		if err := pc.Close(); err != nil {
			d.logger.Warn("error closing peer connection", "peer", id, "err", err)
		}
	}
}

package signaller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/x186k/webrtcsink/internal/metrics"
)

// Sink is the callback surface of the media sink that owns the signaller.
//
// The signaller holds the sink as a plain, non-owning reference: it never
// controls the sink's lifetime, and a nil sink simply skips callbacks.
// Answer delivery and exchange errors arrive from the signaller's
// background tasks; delivery errors are reported from the enqueueing call.
type Sink interface {
	// AddConsumer signals that a new session is beginning. It is called
	// once connection setup completes.
	AddConsumer(peerID string) error
	// HandleSDP delivers the negotiated SDP answer for the peer.
	HandleSDP(peerID string, answer webrtc.SessionDescription) error
	// HandleSignallingError reports a failed session. peerID is empty when
	// the failure is not tied to one peer.
	HandleSignallingError(peerID string, err error)
}

// Config wires the runtime dependencies of a Signaller. Zero values fall
// back to the documented defaults.
type Config struct {
	// Sink receives answers and errors. May be nil, in which case
	// callbacks are skipped.
	Sink Sink

	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// WHIPEndpoint is the http(s) URL the composed offer is POSTed to.
	WHIPEndpoint string

	// SignallingAddress is an optional ws(s) URL for the inbound
	// signalling channel (e.g. ws://127.0.0.1:8443). Empty disables it.
	// It is independent of WHIPEndpoint.
	SignallingAddress string

	// CAFile optionally points at a PEM bundle that becomes the TLS trust
	// root for both the WHIP client and the websocket dialer.
	CAFile string

	// GatherTimeout is the fallback delay after the offer arrives before
	// candidate gathering is declared done. Default 500ms.
	GatherTimeout time.Duration

	// ExchangeTimeout bounds one WHIP HTTP exchange. Default 10s.
	ExchangeTimeout time.Duration

	// MailboxCapacity bounds the message queue. Default 1000.
	MailboxCapacity int
}

const (
	DefaultGatherTimeout   = 500 * time.Millisecond
	DefaultExchangeTimeout = 10 * time.Second
	DefaultMailboxCapacity = 1000
)

// settings is the property surface snapshot taken at connect time. Setter
// mutations after Start do not affect an in-flight connection.
type settings struct {
	whipEndpoint      string
	signallingAddress string
	caFile            string
	gatherTimeout     time.Duration
	exchangeTimeout   time.Duration
	mailboxCapacity   int
}

func (st settings) withDefaults() settings {
	if st.gatherTimeout <= 0 {
		st.gatherTimeout = DefaultGatherTimeout
	}
	if st.exchangeTimeout <= 0 {
		st.exchangeTimeout = DefaultExchangeTimeout
	}
	if st.mailboxCapacity <= 0 {
		st.mailboxCapacity = DefaultMailboxCapacity
	}
	return st
}

// Signaller is the WHIP signalling controller for one media sink instance.
//
// All exported methods are safe for concurrent use. Start never blocks;
// Stop blocks until every background task has completed.
type Signaller struct {
	sink    Sink
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	settings settings
	started  bool

	// Present only while connected; owned exclusively by the signaller.
	mbox     *mailbox
	done     chan struct{}
	sendDone chan error
	recvDone chan struct{}

	// tasks tracks gather timers and in-flight WHIP exchanges. Only the
	// sender loop adds to it, so Stop can Wait without racing Add.
	tasks sync.WaitGroup
}

func New(cfg Config) *Signaller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}
	return &Signaller{
		sink:    cfg.Sink,
		logger:  logger,
		metrics: m,
		settings: settings{
			whipEndpoint:      cfg.WHIPEndpoint,
			signallingAddress: cfg.SignallingAddress,
			caFile:            cfg.CAFile,
			gatherTimeout:     cfg.GatherTimeout,
			exchangeTimeout:   cfg.ExchangeTimeout,
			mailboxCapacity:   cfg.MailboxCapacity,
		},
	}
}

// SetWHIPEndpoint updates the WHIP endpoint used by the next connection.
func (s *Signaller) SetWHIPEndpoint(url string) {
	s.mu.Lock()
	s.settings.whipEndpoint = url
	s.mu.Unlock()
	s.logger.Info("whip endpoint set", "url", url)
}

// SetSignallingAddress updates the inbound channel address used by the
// next connection.
func (s *Signaller) SetSignallingAddress(addr string) {
	s.mu.Lock()
	s.settings.signallingAddress = addr
	s.mu.Unlock()
	s.logger.Info("signalling address set", "address", addr)
}

// SetCAFile updates the TLS trust root used by the next connection.
func (s *Signaller) SetCAFile(path string) {
	s.mu.Lock()
	s.settings.caFile = path
	s.mu.Unlock()
}

// Start brings the signaller up asynchronously. It never blocks; failures
// during connection are reported through the sink's error callback. Calling
// Start on a running signaller is a no-op.
func (s *Signaller) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		s.logger.Debug("start called on running signaller")
		return
	}
	s.started = true
	s.mu.Unlock()

	go func() {
		if err := s.connect(); err != nil {
			s.reportError("", err)
		}
	}()
}

func (s *Signaller) connect() error {
	s.mu.Lock()
	set := s.settings.withDefaults()
	s.mu.Unlock()

	s.logger.Info("connecting", "whip_endpoint", set.whipEndpoint, "signalling_address", set.signallingAddress)

	client, err := newWHIPClient(set.whipEndpoint, set.caFile, set.exchangeTimeout, s.logger)
	if err != nil {
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		return fmt.Errorf("connect: %w", err)
	}

	mbox := newMailbox(set.mailboxCapacity)
	done := make(chan struct{})
	sendDone := make(chan error, 1)
	recvDone := make(chan struct{})

	agg := newAggregator(s.logger, s.metrics,
		func(peerID, offer string) {
			s.dispatchExchange(client, peerID, offer)
		},
		func(peerID string) {
			s.armGatherTimer(mbox, done, set.gatherTimeout, peerID)
		},
	)

	s.mu.Lock()
	if !s.started {
		// Stopped while connecting. Do not install anything.
		s.mu.Unlock()
		return nil
	}
	s.mbox = mbox
	s.done = done
	s.sendDone = sendDone
	s.recvDone = recvDone
	s.mu.Unlock()

	go s.sendLoop(mbox, agg, sendDone)
	go s.receiveLoop(set.signallingAddress, set.caFile, done, recvDone)

	s.mu.Lock()
	stillStarted := s.started
	s.mu.Unlock()
	if !stillStarted {
		return nil
	}

	// Start everything rolling: announce one consumer per connection.
	if err := s.addConsumer(uuid.NewString()); err != nil {
		return fmt.Errorf("add consumer: %w", err)
	}
	return nil
}

// sendLoop drains the mailbox and folds every message into the aggregator.
// It exits once the mailbox is closed and empty.
func (s *Signaller) sendLoop(mbox *mailbox, agg *aggregator, done chan<- error) {
	for {
		msg, ok := mbox.Dequeue()
		if !ok {
			break
		}
		s.logger.Debug("processing signal message", "kind", msg.kind.String(), "peer", msg.peerID)
		agg.handle(msg)
	}
	s.logger.Info("done sending")
	done <- nil
}

// dispatchExchange runs one WHIP exchange on its own task so a slow
// endpoint cannot stall delivery of other peers' messages.
func (s *Signaller) dispatchExchange(client *whipClient, peerID, offer string) {
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()

		res, err := client.Exchange(context.Background(), peerID, offer)
		if err != nil {
			s.metrics.Inc(metrics.ExchangesFailed)
			s.reportError(peerID, err)
			return
		}
		s.metrics.Inc(metrics.ExchangesSucceeded)

		answer := webrtc.SessionDescription{
			Type: webrtc.SDPTypeAnswer,
			SDP:  res.answer,
		}
		if err := s.deliverAnswer(peerID, answer); err != nil {
			s.reportError(peerID, fmt.Errorf("deliver answer: %w", err))
		}
	}()
}

// armGatherTimer delivers a synthetic gather-timeout message for the peer
// after the fallback delay, unless the signaller stops first.
func (s *Signaller) armGatherTimer(mbox *mailbox, done <-chan struct{}, delay time.Duration, peerID string) {
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
			if err := mbox.Enqueue(message{kind: msgGatherTimeout, peerID: peerID}); err != nil {
				// The session this timeout was armed for can no longer
				// exist; nothing to fail.
				s.logger.Debug("gather timeout not delivered", "peer", peerID, "err", err)
			}
		case <-done:
		}
	}()
}

// HandleSDP enqueues the local offer for the peer. The description is
// emitted once per session by the sink's negotiation.
func (s *Signaller) HandleSDP(peerID string, desc webrtc.SessionDescription) {
	s.enqueue(message{kind: msgSDPOffer, peerID: peerID, sdp: desc.SDP})
}

// HandleICE enqueues one trickled candidate. An empty candidate marks the
// end of gathering. sdpMLineIndex must be present; a nil index is a caller
// contract violation, not a recoverable signalling error.
func (s *Signaller) HandleICE(peerID string, candidate string, sdpMLineIndex *uint16) {
	if sdpMLineIndex == nil {
		panic("signaller: HandleICE requires an sdp media line index")
	}
	s.enqueue(message{kind: msgICECandidate, peerID: peerID, candidate: candidate, mlineIndex: *sdpMLineIndex})
}

// ConsumerRemoved enqueues a teardown notice for the peer's session.
func (s *Signaller) ConsumerRemoved(peerID string) {
	s.logger.Debug("signalling consumer removed", "peer", peerID)
	s.enqueue(message{kind: msgConsumerRemoved, peerID: peerID})
}

func (s *Signaller) enqueue(msg message) {
	s.mu.Lock()
	mbox := s.mbox
	s.mu.Unlock()

	if mbox == nil {
		s.metrics.Inc(metrics.DeliveryFailures)
		s.reportError(msg.peerID, fmt.Errorf("enqueue %s: %w", msg.kind, ErrMailboxClosed))
		return
	}
	if err := mbox.Enqueue(msg); err != nil {
		s.metrics.Inc(metrics.DeliveryFailures)
		s.reportError(msg.peerID, fmt.Errorf("enqueue %s: %w", msg.kind, err))
		return
	}
	s.metrics.Inc(metrics.MessagesEnqueued)
}

// Stop shuts the signaller down and blocks until the sender loop, the
// receiver loop, outstanding gather timers and in-flight exchanges have all
// completed. Queued messages are processed before shutdown. Join failures
// are logged, never propagated; shutdown is unconditional.
func (s *Signaller) Stop() {
	s.mu.Lock()
	mbox := s.mbox
	done := s.done
	sendDone := s.sendDone
	recvDone := s.recvDone
	s.mbox = nil
	s.done = nil
	s.sendDone = nil
	s.recvDone = nil
	s.started = false
	s.mu.Unlock()

	if mbox == nil {
		return
	}
	s.logger.Info("stopping now")

	mbox.Close()
	if err := <-sendDone; err != nil {
		s.logger.Warn("error while joining send task", "err", err)
	}

	close(done)
	<-recvDone

	s.tasks.Wait()
	s.logger.Info("stopped")
}

func (s *Signaller) addConsumer(peerID string) error {
	if s.sink == nil {
		return nil
	}
	return s.sink.AddConsumer(peerID)
}

func (s *Signaller) deliverAnswer(peerID string, answer webrtc.SessionDescription) error {
	if s.sink == nil {
		return nil
	}
	s.logger.Debug("giving answer to sink", "peer", peerID)
	return s.sink.HandleSDP(peerID, answer)
}

func (s *Signaller) reportError(peerID string, err error) {
	s.logger.Error("signalling error", "peer", peerID, "err", err)
	if s.sink == nil {
		return
	}
	s.sink.HandleSignallingError(peerID, err)
}

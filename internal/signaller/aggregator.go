package signaller

import (
	"log/slog"
	"strings"

	"github.com/x186k/webrtcsink/internal/metrics"
)

// session is the aggregation state for one peer's negotiation attempt.
//
// The composed offer is append-only in arrival order: the offer body and
// candidate attribute lines land in the buffer as they come off the mailbox.
// Once sent, the session is kept as a tombstone so duplicate or late
// fragments can be recognized and dropped instead of triggering a second
// exchange.
type session struct {
	buf           strings.Builder
	offerReceived bool
	sent          bool
}

// aggregator folds mailbox messages into per-peer composed offers and
// decides the gather-completion instant.
//
// It is owned exclusively by the sender loop and therefore needs no locking.
type aggregator struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	// exchange dispatches the finalized offer. It must not block; the
	// signaller runs the HTTP exchange on its own task.
	exchange func(peerID, offer string)
	// armTimer schedules a gather-timeout message for the peer.
	armTimer func(peerID string)

	sessions map[string]*session
}

func newAggregator(logger *slog.Logger, m *metrics.Metrics, exchange func(peerID, offer string), armTimer func(peerID string)) *aggregator {
	return &aggregator{
		logger:   logger,
		metrics:  m,
		exchange: exchange,
		armTimer: armTimer,
		sessions: make(map[string]*session),
	}
}

func (a *aggregator) handle(msg message) {
	switch msg.kind {
	case msgICECandidate:
		a.handleCandidate(msg.peerID, msg.candidate)
	case msgSDPOffer:
		a.handleOffer(msg.peerID, msg.sdp)
	case msgConsumerRemoved:
		a.handleConsumerRemoved(msg.peerID)
	case msgGatherTimeout:
		a.handleGatherTimeout(msg.peerID)
	}
}

func (a *aggregator) handleCandidate(peerID, candidate string) {
	if candidate == "" {
		// Explicit end-of-candidates from the ICE agent.
		sess, ok := a.sessions[peerID]
		if !ok {
			a.logger.Debug("end of candidates for unknown peer", "peer", peerID)
			return
		}
		if sess.sent {
			a.dropLateFragment(peerID, "end-of-candidates")
			return
		}
		a.finalize(peerID, sess, "end of candidates")
		return
	}

	sess := a.sessions[peerID]
	if sess == nil {
		sess = &session{}
		a.sessions[peerID] = sess
	}
	if sess.sent {
		a.dropLateFragment(peerID, "candidate")
		return
	}

	sess.buf.WriteString("a=")
	sess.buf.WriteString(candidate)
	sess.buf.WriteString("\n")
}

func (a *aggregator) handleOffer(peerID, sdp string) {
	sess := a.sessions[peerID]
	if sess == nil {
		sess = &session{}
		a.sessions[peerID] = sess
	}
	if sess.sent {
		a.dropLateFragment(peerID, "offer")
		return
	}
	if sess.offerReceived {
		a.logger.Warn("duplicate offer for live session, dropping", "peer", peerID)
		a.metrics.Inc(metrics.DuplicateOffers)
		return
	}

	sess.offerReceived = true
	sess.buf.WriteString(sdp)

	// Gathering has no reliable explicit end in every deployment; the timer
	// bounds end-to-end latency when the end-of-candidates signal never
	// arrives.
	a.armTimer(peerID)
}

func (a *aggregator) handleConsumerRemoved(peerID string) {
	if _, ok := a.sessions[peerID]; !ok {
		return
	}
	a.logger.Debug("destroying session state", "peer", peerID)
	a.metrics.Inc(metrics.ConsumersRemoved)
	delete(a.sessions, peerID)
}

func (a *aggregator) handleGatherTimeout(peerID string) {
	sess, ok := a.sessions[peerID]
	if !ok || sess.sent {
		// Gathering already completed through the explicit signal, or the
		// consumer is gone. The timer is inert.
		return
	}
	a.metrics.Inc(metrics.GatherTimeouts)
	a.finalize(peerID, sess, "gather timeout")
}

func (a *aggregator) dropLateFragment(peerID, what string) {
	a.logger.Warn("dropping late fragment for already sent session", "peer", peerID, "fragment", what)
	a.metrics.Inc(metrics.LateFragments)
}

// finalize appends the end-of-candidates marker and hands the composed
// offer to the exchange exactly once.
func (a *aggregator) finalize(peerID string, sess *session, reason string) {
	sess.buf.WriteString("a=end-of-candidates\n")
	offer := sess.buf.String()

	sess.sent = true
	sess.buf.Reset()

	a.logger.Info("offer composed, starting whip exchange", "peer", peerID, "reason", reason, "offer_bytes", len(offer))
	a.metrics.Inc(metrics.ExchangesStarted)
	a.exchange(peerID, offer)
}

package signaller

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/x186k/webrtcsink/internal/metrics"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// aggHarness drives an aggregator directly, recording exchange dispatches
// and timer arms instead of running real tasks.
type aggHarness struct {
	agg       *aggregator
	metrics   *metrics.Metrics
	exchanges []struct {
		peerID string
		offer  string
	}
	armed []string
}

func newAggHarness(t *testing.T) *aggHarness {
	t.Helper()
	h := &aggHarness{metrics: metrics.New()}
	h.agg = newAggregator(discardLogger(), h.metrics,
		func(peerID, offer string) {
			h.exchanges = append(h.exchanges, struct {
				peerID string
				offer  string
			}{peerID, offer})
		},
		func(peerID string) {
			h.armed = append(h.armed, peerID)
		},
	)
	return h
}

func (h *aggHarness) offer(peerID, sdp string) {
	h.agg.handle(message{kind: msgSDPOffer, peerID: peerID, sdp: sdp})
}

func (h *aggHarness) candidate(peerID, candidate string) {
	h.agg.handle(message{kind: msgICECandidate, peerID: peerID, candidate: candidate})
}

func (h *aggHarness) removed(peerID string) {
	h.agg.handle(message{kind: msgConsumerRemoved, peerID: peerID})
}

func (h *aggHarness) timeout(peerID string) {
	h.agg.handle(message{kind: msgGatherTimeout, peerID: peerID})
}

const offerSDP = "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\nm=video 9 UDP/TLS/RTP/SAVPF 96\r\n"

func TestAggregator_ComposeAndSentinel(t *testing.T) {
	h := newAggHarness(t)

	h.offer("p1", offerSDP)
	h.candidate("p1", "candidate:18 1 udp 2113937151 192.168.1.7 51366 typ host")
	h.candidate("p1", "")

	if len(h.exchanges) != 1 {
		t.Fatalf("exchanges=%d, want 1", len(h.exchanges))
	}
	ex := h.exchanges[0]
	if ex.peerID != "p1" {
		t.Fatalf("exchange peer=%s, want p1", ex.peerID)
	}
	if !strings.Contains(ex.offer, offerSDP) {
		t.Fatalf("composed offer missing sdp body:\n%s", ex.offer)
	}
	if !strings.Contains(ex.offer, "a=candidate:18 1 udp 2113937151 192.168.1.7 51366 typ host\n") {
		t.Fatalf("composed offer missing candidate line:\n%s", ex.offer)
	}
	if !strings.HasSuffix(ex.offer, "a=end-of-candidates\n") {
		t.Fatalf("composed offer does not end with end-of-candidates:\n%s", ex.offer)
	}
	if len(h.armed) != 1 || h.armed[0] != "p1" {
		t.Fatalf("armed=%v, want [p1]", h.armed)
	}
}

func TestAggregator_TimeoutFallback(t *testing.T) {
	h := newAggHarness(t)

	h.offer("p2", offerSDP)
	if len(h.exchanges) != 0 {
		t.Fatalf("exchange fired before gather completion")
	}

	h.timeout("p2")
	if len(h.exchanges) != 1 {
		t.Fatalf("exchanges=%d, want 1 after gather timeout", len(h.exchanges))
	}
	if got := h.metrics.Get(metrics.GatherTimeouts); got != 1 {
		t.Fatalf("gather_timeouts=%d, want 1", got)
	}
}

func TestAggregator_TimeoutAfterSentinelIsNoop(t *testing.T) {
	h := newAggHarness(t)

	h.offer("p1", offerSDP)
	h.candidate("p1", "")
	h.timeout("p1")

	if len(h.exchanges) != 1 {
		t.Fatalf("exchanges=%d, want exactly 1", len(h.exchanges))
	}
	if got := h.metrics.Get(metrics.GatherTimeouts); got != 0 {
		t.Fatalf("gather_timeouts=%d, want 0 for inert timer", got)
	}
}

func TestAggregator_LateFragmentsDropped(t *testing.T) {
	h := newAggHarness(t)

	h.offer("p1", offerSDP)
	h.candidate("p1", "")

	h.candidate("p1", "candidate:99 1 udp 1 10.0.0.1 1000 typ host")
	h.candidate("p1", "")
	h.offer("p1", offerSDP)

	if len(h.exchanges) != 1 {
		t.Fatalf("exchanges=%d, want 1 despite late fragments", len(h.exchanges))
	}
	if got := h.metrics.Get(metrics.LateFragments); got != 3 {
		t.Fatalf("late_fragments=%d, want 3", got)
	}
}

func TestAggregator_DuplicateOfferDropped(t *testing.T) {
	h := newAggHarness(t)

	h.offer("p1", offerSDP)
	h.offer("p1", "v=0\r\nshould-not-appear\r\n")
	h.candidate("p1", "")

	if len(h.exchanges) != 1 {
		t.Fatalf("exchanges=%d, want 1", len(h.exchanges))
	}
	if strings.Contains(h.exchanges[0].offer, "should-not-appear") {
		t.Fatalf("duplicate offer leaked into composed text:\n%s", h.exchanges[0].offer)
	}
	if got := h.metrics.Get(metrics.DuplicateOffers); got != 1 {
		t.Fatalf("duplicate_offers=%d, want 1", got)
	}
	if len(h.armed) != 1 {
		t.Fatalf("armed=%v, duplicate offer must not re-arm the timer", h.armed)
	}
}

func TestAggregator_ConsumerRemovedBeforeFragments(t *testing.T) {
	h := newAggHarness(t)

	h.removed("p3")
	h.timeout("p3")
	h.candidate("p3", "")

	if len(h.exchanges) != 0 {
		t.Fatalf("exchanges=%d, want 0 for removed consumer", len(h.exchanges))
	}
}

func TestAggregator_ConsumerRemovedWhileAccumulating(t *testing.T) {
	h := newAggHarness(t)

	h.offer("p1", offerSDP)
	h.candidate("p1", "candidate:1 1 udp 1 10.0.0.1 1000 typ host")
	h.removed("p1")
	h.candidate("p1", "")
	h.timeout("p1")

	if len(h.exchanges) != 0 {
		t.Fatalf("exchanges=%d, want 0 after teardown", len(h.exchanges))
	}
	if got := h.metrics.Get(metrics.ConsumersRemoved); got != 1 {
		t.Fatalf("consumers_removed=%d, want 1", got)
	}
}

func TestAggregator_ArrivalOrderPreserved(t *testing.T) {
	h := newAggHarness(t)

	// Fragments may interleave; the composed text is arrival order, never
	// sorted after the fact.
	h.candidate("p1", "candidate:1 1 udp 1 10.0.0.1 1000 typ host")
	h.offer("p1", offerSDP)
	h.candidate("p1", "candidate:2 1 udp 1 10.0.0.2 1000 typ host")
	h.candidate("p1", "")

	ex := h.exchanges[0]
	first := strings.Index(ex.offer, "a=candidate:1 ")
	body := strings.Index(ex.offer, "v=0")
	second := strings.Index(ex.offer, "a=candidate:2 ")
	if first == -1 || body == -1 || second == -1 {
		t.Fatalf("composed offer missing fragments:\n%s", ex.offer)
	}
	if !(first < body && body < second) {
		t.Fatalf("fragments not in arrival order (%d, %d, %d):\n%s", first, body, second, ex.offer)
	}
}

func TestAggregator_SessionsAreIsolated(t *testing.T) {
	h := newAggHarness(t)

	h.offer("p1", "v=0\r\npeer-one\r\n")
	h.offer("p2", "v=0\r\npeer-two\r\n")
	h.candidate("p1", "")
	h.candidate("p2", "")

	if len(h.exchanges) != 2 {
		t.Fatalf("exchanges=%d, want 2", len(h.exchanges))
	}
	for _, ex := range h.exchanges {
		switch ex.peerID {
		case "p1":
			if strings.Contains(ex.offer, "peer-two") {
				t.Fatalf("p1 offer contains p2 fragments:\n%s", ex.offer)
			}
		case "p2":
			if strings.Contains(ex.offer, "peer-one") {
				t.Fatalf("p2 offer contains p1 fragments:\n%s", ex.offer)
			}
		default:
			t.Fatalf("unexpected exchange peer %s", ex.peerID)
		}
	}
}

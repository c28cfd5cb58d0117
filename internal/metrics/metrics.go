package metrics

import "sync"

// Event counter names used by the signaller core.
const (
	MessagesEnqueued   = "messages_enqueued"
	DeliveryFailures   = "delivery_failures"
	DuplicateOffers    = "duplicate_offers"
	LateFragments      = "late_fragments"
	GatherTimeouts     = "gather_timeouts"
	ExchangesStarted   = "exchanges_started"
	ExchangesSucceeded = "exchanges_succeeded"
	ExchangesFailed    = "exchanges_failed"
	ConsumersRemoved   = "consumers_removed"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// A deployment that wants a real metrics backend can scrape these through
// PrometheusHandler; the type mainly exists to keep the signalling logic
// observable and testable. The zero value is ready to use.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Add(name string, delta uint64) {
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		snap[k] = v
	}
	return snap
}

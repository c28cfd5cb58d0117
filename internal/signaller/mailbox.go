package signaller

import (
	"sync"
)

// mailbox is a count-bounded FIFO of signalling messages.
//
// The bound keeps memory in check under bursty candidate trickling; below
// the bound no message is ever dropped. Closing the mailbox rejects further
// enqueues but keeps already queued messages, so the consumer drains the
// backlog before observing closure.
type mailbox struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	closed   bool

	capacity int
	msgs     []message
}

func newMailbox(capacity int) *mailbox {
	m := &mailbox{capacity: capacity}
	m.notEmpty = sync.NewCond(&m.mu)
	return m
}

// Enqueue appends msg if the mailbox is open and below its bound.
// It never blocks.
func (m *mailbox) Enqueue(msg message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrMailboxClosed
	}
	if len(m.msgs) >= m.capacity {
		return ErrMailboxFull
	}

	m.msgs = append(m.msgs, msg)
	m.notEmpty.Signal()
	return nil
}

// Dequeue blocks until a message is available or the mailbox is closed and
// drained. The second return value is false only once both hold.
func (m *mailbox) Dequeue() (message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.msgs) == 0 && !m.closed {
		m.notEmpty.Wait()
	}
	if len(m.msgs) == 0 {
		return message{}, false
	}
	msg := m.msgs[0]
	copy(m.msgs, m.msgs[1:])
	m.msgs[len(m.msgs)-1] = message{}
	m.msgs = m.msgs[:len(m.msgs)-1]
	return msg, true
}

// Close rejects further enqueues. Queued messages remain dequeueable.
func (m *mailbox) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.notEmpty.Broadcast()
}

func (m *mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.msgs)
}

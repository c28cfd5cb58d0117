package signaller

// messageKind discriminates the signalling events carried through the
// mailbox.
type messageKind int

const (
	msgICECandidate messageKind = iota
	msgSDPOffer
	msgConsumerRemoved
	msgGatherTimeout
)

func (k messageKind) String() string {
	switch k {
	case msgICECandidate:
		return "ice-candidate"
	case msgSDPOffer:
		return "sdp-offer"
	case msgConsumerRemoved:
		return "consumer-removed"
	case msgGatherTimeout:
		return "gather-timeout"
	default:
		return "unknown"
	}
}

// message is one signalling event for a single peer. Only the fields
// relevant to the kind are populated.
type message struct {
	kind   messageKind
	peerID string

	// msgICECandidate. An empty candidate is the end-of-candidates signal
	// from the ICE agent.
	candidate  string
	mlineIndex uint16

	// msgSDPOffer
	sdp string
}

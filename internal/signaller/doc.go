// Package signaller implements WHIP signalling for a WebRTC media sink.
//
// The signaller aggregates the sink's locally generated SDP offer and
// trickled ICE candidates into a single composed offer per peer, decides
// when candidate gathering is done enough to send, and performs one
// HTTP POST per peer against the configured WHIP endpoint. The resulting
// SDP answer (or a signalling error) is delivered back to the owning sink
// through the Sink callback interface.
package signaller

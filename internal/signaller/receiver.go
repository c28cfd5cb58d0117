package signaller

import (
	"crypto/tls"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

const wsHandshakeTimeout = 5 * time.Second

// inboundMessage is the wire shape of messages on the inbound signalling
// channel. The channel is reserved: messages are parsed and logged but not
// yet acted upon, so unknown fields are tolerated.
type inboundMessage struct {
	Type    string `json:"type"`
	PeerID  string `json:"peerId,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// receiveLoop is the inbound half of the signalling transport, symmetric to
// the sender loop.
//
// With no signalling address configured it is a terminate-on-close wait.
// With one, it dials the websocket and reads inbound messages until the
// connection or the signaller goes away. Dial failures disable the inbound
// channel for this connection; the WHIP exchange does not depend on it.
func (s *Signaller) receiveLoop(addr, caFile string, done <-chan struct{}, recvDone chan<- struct{}) {
	defer close(recvDone)
	defer s.logger.Info("stopped signalling receive")

	if addr == "" {
		<-done
		return
	}

	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	if caFile != "" {
		pool, err := loadCertPool(caFile)
		if err != nil {
			s.logger.Warn("inbound channel disabled", "address", addr, "err", err)
			<-done
			return
		}
		dialer.TLSClientConfig = &tls.Config{RootCAs: pool}
	}

	conn, resp, err := dialer.Dial(addr, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		s.logger.Warn("signalling server unreachable, inbound channel disabled", "address", addr, "err", err)
		<-done
		return
	}
	s.logger.Info("connected to signalling server", "address", addr)

	go func() {
		<-done
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
			default:
				s.logger.Warn("signalling receive ended", "err", err)
			}
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("discarding unparseable inbound signalling message", "err", err)
			continue
		}
		s.logger.Debug("ignoring inbound signalling message", "type", msg.Type, "peer", msg.PeerID)
	}
}

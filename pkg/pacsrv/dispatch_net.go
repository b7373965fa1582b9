package pacsrv

import (
	"errors"
	"net/netip"

	"github.com/r2northstar/pacvpnd/pkg/pacpkt"
)

var errRekeyRequested = errors.New("pacsrv: peer requested rekey")

// dispatchUDPDatagram handles one inbound datagram: decode, reconcile the
// sender against the connection table (handling peer mobility), and hand
// the payload to the state machine. Malformed datagrams are dropped
// silently, since the network is untrusted.
func (s *Server) dispatchUDPDatagram(datagram []byte, from netip.AddrPort) {
	pkt, err := pacpkt.Decode(datagram, from)
	if err != nil {
		if errors.Is(err, pacpkt.ErrRekeyNeeded) {
			s.metrics.rekeysTotal.Inc()
			s.handleRekeyRequest(from, pkt.SessionID)
			return
		}
		// ErrMalformed, or any other decode failure: silent drop.
		s.metrics.packetsDroppedTotal.Inc()
		return
	}

	s.metrics.rxTotalInc(pkt.Kind)
	c, created := s.table.reconcile(from, pkt.SessionID)
	if created {
		s.metrics.connectionsActive.Set(float64(s.table.count))
	}
	s.handlePacket(c, pkt.Kind, pkt.Payload)
}

// handleRekeyRequest answers a bare rekey-needed marker from a peer whose
// session id we may or may not still track; either way the right response
// is to restart the handshake.
func (s *Server) handleRekeyRequest(from netip.AddrPort, sessionID uint16) {
	c, created := s.table.reconcile(from, sessionID)
	if created {
		s.metrics.connectionsActive.Set(float64(s.table.count))
	}
	s.handleRekeyNeeded(c, errRekeyRequested)
}

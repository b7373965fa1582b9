package pacsrv

import "github.com/r2northstar/pacvpnd/pkg/pacpkt"

// dispatchTapFrame handles one outbound Ethernet frame read from the tap
// device: a broadcast destination fans out to every Established
// connection, anything else goes to the single connection (if any) that
// owns that MAC.
func (s *Server) dispatchTapFrame(frame []byte) {
	if len(frame) < 14 {
		// Too short to even hold an Ethernet header; drop silently.
		return
	}
	dst := macFromBytes(frame[0:6])

	if dst.IsBroadcast() {
		s.metrics.broadcastFramesTotal.Inc()
		s.table.allEther(func(c *Connection) {
			if c.state != StateEstablished {
				s.logger.Trace().Str("peer", c.peerText).Msg("broadcast: skipping handshaking connection")
				return
			}
			s.sendData(c, frame)
		})
		return
	}

	c := s.table.findByMAC(dst)
	if c == nil {
		// No connection has announced this MAC yet: drop rather than
		// guess.
		return
	}
	s.sendData(c, frame)
}

// sendData wraps frame under c's security context and sends it as a DATA
// packet, driving the shared rekey path on failure.
func (s *Server) sendData(c *Connection, frame []byte) {
	if !c.established() {
		return
	}
	ciphertext, err := s.auth.Wrap(c.ctx, frame)
	if err != nil {
		s.handleRekeyNeeded(c, err)
		return
	}
	s.sendPacket(c, pacpkt.KindData, ciphertext)
}

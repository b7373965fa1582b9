package pacsrv

import (
	"github.com/r2northstar/pacvpnd/pkg/pacgss"
	"github.com/r2northstar/pacvpnd/pkg/pacpkt"
)

// handlePacket dispatches one decoded, already-reconciled packet to the
// connection's per-state transition logic.
func (s *Server) handlePacket(c *Connection, kind pacpkt.Kind, payload []byte) {
	switch kind {
	case pacpkt.KindGSSInit:
		s.handleGSSInit(c, payload)
	case pacpkt.KindData:
		s.handleData(c, payload)
	case pacpkt.KindNetInit:
		s.handleNetInit(c, payload)
	case pacpkt.KindEcho:
		s.handleEcho(c)
	case pacpkt.KindShutdown:
		s.handleShutdown(c)
	default:
		// Unknown kinds are dropped; NETSTART is server->client only
		// and is never expected inbound.
	}
}

// handleGSSInit covers both the Fresh->Handshaking and
// Handshaking->Established transitions, which look identical except for
// what happens once the context completes.
func (s *Server) handleGSSInit(c *Connection, token []byte) {
	if c.ctx == nil {
		c.ctx = &pacgss.Context{}
	}

	res, err := s.auth.Accept(c.ctx, token)
	if err != nil {
		s.logger.Warn().Err(err).Str("peer", c.peerText).Msg("gssinit: accept failed")
		return
	}

	if len(res.OutToken) > 0 {
		s.sendPacket(c, pacpkt.KindGSSInit, res.OutToken)
	}

	switch res.Outcome {
	case pacgss.OutcomeContinue:
		c.state = StateHandshaking
	case pacgss.OutcomeComplete:
		c.state = StateEstablished
		c.principalName = res.PeerName
		s.logger.Info().Str("peer", c.peerText).Str("principal", c.principalName).Msg("gssinit: context established")
		s.armTimer(c, res.Remaining)
		if c.mac.IsZero() {
			s.sendPacket(c, pacpkt.KindNetStart, nil)
		}
	default:
		s.logger.Warn().Str("peer", c.peerText).Msg("gssinit: accept returned no outcome")
	}
}

// handleData covers the DATA row and its two silent-drop edge cases: not
// Established, and MAC not yet learned.
func (s *Server) handleData(c *Connection, ciphertext []byte) {
	if !c.established() {
		s.sendPacket(c, pacpkt.KindGSSInit, nil)
		return
	}
	if c.mac.IsZero() {
		return
	}

	plaintext, err := s.auth.Unwrap(c.ctx, ciphertext)
	if err != nil {
		s.handleRekeyNeeded(c, err)
		return
	}

	if _, err := s.tap.Write(plaintext); err != nil {
		s.logger.Warn().Err(err).Msg("data: write to tap failed")
	}
}

func (s *Server) handleNetInit(c *Connection, payload []byte) {
	if !c.established() {
		s.sendPacket(c, pacpkt.KindGSSInit, nil)
		return
	}
	s.startNetinit(c, payload, s.netinitResults)
}

func (s *Server) handleEcho(c *Connection) {
	if !c.established() {
		s.sendPacket(c, pacpkt.KindGSSInit, nil)
		return
	}
	s.sendPacket(c, pacpkt.KindEcho, nil)
}

func (s *Server) handleShutdown(c *Connection) {
	s.destroy(c)
}

// handleRekeyNeeded implements the "any -> wrap/unwrap rekey_needed ->
// Fresh" row shared by both the tap and network dispatchers.
func (s *Server) handleRekeyNeeded(c *Connection, err error) {
	s.logger.Info().Str("peer", c.peerText).Err(err).Msg("rekey needed")
	s.metrics.rekeysTotal.Inc()
	s.auth.Delete(c.ctx)
	c.ctx = nil
	c.state = StateFresh
	c.principalName = ""
	s.stopTimer(c)
	s.sendPacket(c, pacpkt.KindGSSInit, nil)
}

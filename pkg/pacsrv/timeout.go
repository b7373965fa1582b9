package pacsrv

import (
	"time"

	"github.com/r2northstar/pacvpnd/pkg/pacgss"
	"github.com/r2northstar/pacvpnd/pkg/pacpkt"
)

// timerFireEvent is what a connection's per-context timer posts to the
// event loop when it fires; gen lets the loop recognize a timer that was
// stopped/rearmed after the event was already queued.
type timerFireEvent struct {
	conn *Connection
	gen  uint64
}

// armTimer sets a per-connection timer aligned with the context's
// reported remaining lifetime. An indefinite lifetime arms no timer at
// all.
func (s *Server) armTimer(c *Connection, lt pacgss.Lifetime) {
	s.stopTimer(c)
	if lt.Indefinite {
		return
	}

	d := time.Duration(lt.Seconds) * time.Second
	if lt.Expired || lt.CredentialsExpired || d <= 0 {
		d = 0
	}

	c.timerGen++
	gen := c.timerGen
	c.timer = time.AfterFunc(d, func() {
		select {
		case s.timerFired <- timerFireEvent{conn: c, gen: gen}:
		default:
			// The loop is behind; drop rather than block a timer
			// goroutine. A missed fire leaves the connection with no
			// running timer until the next armTimer; an expired
			// context then surfaces as ErrRekeyNeeded from Wrap or
			// Unwrap on the next DATA packet or tap frame.
		}
	})
}

// stopTimer cancels c's timer, if any, and bumps its generation so an
// in-flight fire that already raced past Stop is recognized as stale.
func (s *Server) stopTimer(c *Connection) {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerGen++
}

// handleTimerFired re-arms on a context that still has time left, and
// branches on KillOnTimeout once it has genuinely expired.
func (s *Server) handleTimerFired(ev timerFireEvent) {
	c := ev.conn
	if c.state == StateDead || c.timer == nil || ev.gen != c.timerGen {
		return
	}
	if c.ctx == nil {
		return
	}

	lt, err := s.auth.TimeRemaining(c.ctx)
	if err != nil {
		s.logger.Warn().Err(err).Str("peer", c.peerText).Msg("time_remaining failed")
		return
	}

	if !lt.Expired && !lt.CredentialsExpired {
		s.armTimer(c, lt)
		return
	}

	if s.KillOnTimeout {
		s.logger.Info().Str("peer", c.peerText).Str("principal", c.principalName).Msg("context expired, killing connection")
		s.sendPacket(c, pacpkt.KindShutdown, nil)
		s.destroy(c)
		return
	}

	s.logger.Info().Str("peer", c.peerText).Str("principal", c.principalName).Msg("context expired, nudging re-handshake")
	s.auth.Delete(c.ctx)
	c.ctx = nil
	c.state = StateFresh
	c.principalName = ""
	s.sendPacket(c, pacpkt.KindGSSInit, nil)
}

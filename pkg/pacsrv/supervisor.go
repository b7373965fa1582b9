package pacsrv

import "github.com/r2northstar/pacvpnd/pkg/pacpkt"

// shutdown walks every connection, sends it SHUTDOWN, and destroys it,
// then closes the tap and network descriptors. Run calls this once ctx is
// done (SIGTERM/SIGQUIT, translated to context cancellation by the caller
// via signal.NotifyContext) and then returns, breaking the event loop.
func (s *Server) shutdown() {
	s.logger.Info().Msg("supervisor: shutting down")

	s.table.all(func(c *Connection) {
		s.sendPacket(c, pacpkt.KindShutdown, nil)
		s.destroy(c)
	})

	if err := s.tap.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("supervisor: close tap failed")
	}
	if err := s.conn.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("supervisor: close udp socket failed")
	}
}

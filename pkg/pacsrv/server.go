// Package pacsrv implements the PAC protocol server event core: the UDP
// packet demultiplexer and connection table, the per-client security
// context state machine, the tap-to-client frame dispatcher, the netinit
// pipeline, the timeout/rekey loop, and the shutdown lifecycle.
package pacsrv

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"github.com/rs/zerolog"

	"github.com/r2northstar/pacvpnd/pkg/pacgss"
	"github.com/r2northstar/pacvpnd/pkg/pacpkt"
	"github.com/r2northstar/pacvpnd/pkg/pactap"
)

// Tap is the subset of pactap.Device the core depends on; satisfied by
// *pactap.Device in production and by a fake in tests.
type Tap interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Flags carries the server-wide boolean options.
type Flags struct {
	Verbose       bool
	KillOnTimeout bool
	Daemonize     bool
}

// Server is the process-wide state: acquired credentials, the tap and UDP
// descriptors, the connection table, and the configuration flags. It is
// owned by the single event-loop goroutine; nothing here is safe for
// concurrent access from another goroutine.
type Server struct {
	logger zerolog.Logger
	auth   *pacgss.Adapter

	tap  Tap
	conn *net.UDPConn

	table *connTable

	Flags
	NetinitHelper string

	metrics *serverMetrics

	netinitResults chan netinitResult
	timerFired     chan timerFireEvent

	sendBuf []byte
}

// Config bundles what NewServer needs to bring a Server up: already-open
// descriptors and collaborators, plus the runtime flags and adapter.
type Config struct {
	Tap    Tap
	Conn   *net.UDPConn
	Auth   *pacgss.Adapter
	Logger zerolog.Logger
	Flags  Flags

	// NetinitHelper is the optional path to the admission helper. Empty
	// means no helper is configured.
	NetinitHelper string
}

// NewServer constructs a Server ready for Run. When Run's ctx is
// cancelled, Run closes cfg.Tap and cfg.Conn itself before returning.
func NewServer(cfg Config) *Server {
	s := &Server{
		logger:         cfg.Logger,
		auth:           cfg.Auth,
		tap:            cfg.Tap,
		conn:           cfg.Conn,
		table:          newConnTable(),
		Flags:          cfg.Flags,
		NetinitHelper:  cfg.NetinitHelper,
		metrics:        newServerMetrics(),
		netinitResults: make(chan netinitResult, 16),
		timerFired:     make(chan timerFireEvent, 16),
		sendBuf:        make([]byte, 0, pacpkt.MaxPacketLen),
	}
	return s
}

// Metrics exposes the server's VictoriaMetrics set, e.g. for a debug
// /metrics HTTP handler wired up by cmd/pacvpnd.
func (s *Server) Metrics() *serverMetrics { return s.metrics }

// sendPacket frames (kind, payload) under c's session id and best-effort
// writes it to c's current peer address: datagram loss is never treated
// as an error here.
func (s *Server) sendPacket(c *Connection, kind pacpkt.Kind, payload []byte) {
	s.sendBuf = pacpkt.Encode(s.sendBuf[:0], kind, c.sessionID, payload)
	if _, err := s.conn.WriteToUDPAddrPort(s.sendBuf, c.peer); err != nil {
		s.logger.Debug().Err(err).Str("peer", c.peerText).Stringer("kind", kind).Msg("send failed")
		return
	}
	s.metrics.txTotal(kind)
}

// sendTo is like sendPacket but for replies that must be addressed before
// any Connection exists (e.g. a rekey-request from an address the table
// has no record of).
func (s *Server) sendTo(addr netip.AddrPort, sessionID uint16, kind pacpkt.Kind, payload []byte) {
	s.sendBuf = pacpkt.Encode(s.sendBuf[:0], kind, sessionID, payload)
	if _, err := s.conn.WriteToUDPAddrPort(s.sendBuf, addr); err != nil {
		s.logger.Debug().Err(err).Msg("send failed")
	}
}

// destroy unlinks c from both indexes, cancels all pending
// watchers/timers, deletes the context, frees any netinit buffer, and
// marks the connection dead so stray late events (a racing timer fire, a
// racing netinit result) recognize it as gone.
func (s *Server) destroy(c *Connection) {
	if c.state == StateDead {
		return
	}
	s.stopTimer(c)
	if c.netinit != nil {
		// The helper keeps running; its result is discarded by
		// finishNetinit's generation check once it arrives.
		c.netinit = nil
	}
	if c.ctx != nil {
		s.auth.Delete(c.ctx)
		c.ctx = nil
	}
	c.principalName = ""
	c.state = StateDead
	s.table.unlink(c, unlinkAll)
	s.metrics.connectionsActive.Set(float64(s.table.count))
}

// Run is the single-threaded cooperative event loop: it watches the UDP
// socket, the tap device, per-connection netinit results, per-connection
// timers, and ctx for termination. Reads of the UDP socket and tap device
// happen on dedicated feeder goroutines (the idiomatic Go equivalent of
// registering non-blocking descriptors with a poller) that only ever hand
// data to the loop over channels; all connection-table mutation happens
// here, on one goroutine.
func (s *Server) Run(ctx context.Context) error {
	udpCh := make(chan udpRead, 64)
	tapCh := make(chan tapRead, 64)

	feederCtx, cancelFeeders := context.WithCancel(ctx)
	defer cancelFeeders()

	go s.udpFeeder(feederCtx, udpCh)
	go s.tapFeeder(feederCtx, tapCh)

	s.logger.Info().Msg("event loop started")
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil

		case r, ok := <-udpCh:
			if !ok {
				return fmt.Errorf("pacsrv: udp socket closed")
			}
			s.dispatchUDPDatagram(r.data, r.from)

		case r, ok := <-tapCh:
			if !ok {
				return fmt.Errorf("pacsrv: tap device closed")
			}
			s.dispatchTapFrame(r.data)

		case res := <-s.netinitResults:
			s.finishNetinit(res)

		case ev := <-s.timerFired:
			s.handleTimerFired(ev)
		}
	}
}

type udpRead struct {
	data []byte
	from netip.AddrPort
}

type tapRead struct {
	data []byte
}

// udpFeeder performs blocking reads that behave as non-blocking
// descriptors in practice: Go's net package already integrates
// ReadFromUDPAddrPort with the runtime's netpoller, so this goroutine
// never actually blocks the process. It parks on the poller exactly as a
// hand-rolled epoll-driven read would, and only ever forwards completed
// reads to the loop.
func (s *Server) udpFeeder(ctx context.Context, out chan<- udpRead) {
	buf := make([]byte, pacpkt.MaxPacketLen)
	for {
		n, from, err := s.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn().Err(err).Msg("udp read failed")
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case out <- udpRead{data: data, from: from.Unmap()}:
		case <-ctx.Done():
			return
		}
	}
}

// tapFeeder is udpFeeder's tap-device counterpart, reading up to one
// Ethernet frame (a 1550-byte bound) at a time.
func (s *Server) tapFeeder(ctx context.Context, out chan<- tapRead) {
	buf := make([]byte, 1550)
	for {
		n, err := s.tap.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn().Err(err).Msg("tap read failed")
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case out <- tapRead{data: data}:
		case <-ctx.Done():
			return
		}
	}
}

// NewServerFromDevices is a convenience constructor wiring pactap.Device
// and a bound net.UDPConn together, used by cmd/pacvpnd.
func NewServerFromDevices(tap *pactap.Device, conn *net.UDPConn, auth *pacgss.Adapter, logger zerolog.Logger, flags Flags, helper string) *Server {
	return NewServer(Config{
		Tap:           tap,
		Conn:          conn,
		Auth:          auth,
		Logger:        logger,
		Flags:         flags,
		NetinitHelper: helper,
	})
}

package pacsrv

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r2northstar/pacvpnd/pkg/pacpkt"
)

// TestRunDispatchesUDPAndShutsDownOnCancel drives the real Run loop (feeder
// goroutines included) over a loopback socket, rather than calling
// dispatchUDPDatagram directly, to exercise the channel wiring between the
// feeders and the event loop.
func TestRunDispatchesUDPAndShutsDownOnCancel(t *testing.T) {
	s, _, clientConn := newTestServer(t)
	peer := serverPeerAddr(t, clientConn)

	ctx, cancel := context.WithCancel(context.Background())
	runErrCh := make(chan error, 1)
	go func() { runErrCh <- s.Run(ctx) }()

	datagram := pacpkt.Encode(nil, pacpkt.KindGSSInit, 0xABCD, []byte("tok0"))
	_, err := clientConn.WriteToUDPAddrPort(datagram, serverLocalAddr(t, s))
	require.NoError(t, err)

	pkt := recvPacket(t, clientConn)
	assert.Equal(t, pacpkt.KindGSSInit, pkt.Kind)

	c := s.table.lookupExact(peer, 0xABCD)
	require.NotNil(t, c)
	assert.Equal(t, StateHandshaking, c.state)

	cancel()
	select {
	case err := <-runErrCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func serverLocalAddr(t *testing.T, s *Server) netip.AddrPort {
	t.Helper()
	ap, err := netip.ParseAddrPort(s.conn.LocalAddr().String())
	require.NoError(t, err)
	return ap
}

package pacsrv

import (
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/nettest"

	"github.com/r2northstar/pacvpnd/pkg/pacgss"
	"github.com/r2northstar/pacvpnd/pkg/pacpkt"
)

// fakeTap is an in-memory stand-in for pactap.Device: writes queue up for
// a test to inspect, and Read blocks forever, so tests drive
// dispatchTapFrame directly without a real kernel tap interface.
type fakeTap struct {
	mu      sync.Mutex
	written [][]byte
	closed  bool
}

func (t *fakeTap) Read(p []byte) (int, error) {
	<-make(chan struct{}) // never returns; tests call dispatchTapFrame directly
	return 0, nil
}

func (t *fakeTap) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := make([]byte, len(p))
	copy(cp, p)
	t.written = append(t.written, cp)
	return len(p), nil
}

func (t *fakeTap) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTap) lastWrite() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.written) == 0 {
		return nil
	}
	return t.written[len(t.written)-1]
}

// newTestServer wires a Server to a real loopback UDP socket (so
// sendPacket's writes are observable from a second, client-side socket)
// and a fakeTap, with a pacgss.Adapter backed by the fake GSS-API double.
func newTestServer(t *testing.T) (*Server, *fakeTap, *net.UDPConn) {
	t.Helper()

	pc, err := nettest.NewLocalPacketListener("udp")
	require.NoError(t, err)
	conn := pc.(*net.UDPConn)
	t.Cleanup(func() { conn.Close() })

	clientPC, err := nettest.NewLocalPacketListener("udp")
	require.NoError(t, err)
	clientConn := clientPC.(*net.UDPConn)
	t.Cleanup(func() { clientConn.Close() })

	auth := pacgss.NewAdapter(fakeProvider{})
	require.NoError(t, auth.AcquireServerCredentials("pac"))

	tap := &fakeTap{}
	s := NewServer(Config{
		Tap:    tap,
		Conn:   conn,
		Auth:   auth,
		Logger: zerolog.Nop(),
	})
	return s, tap, clientConn
}

// recvPacket reads one datagram from conn with a short deadline, failing the
// test on timeout, and decodes it.
func recvPacket(t *testing.T, conn *net.UDPConn) pacpkt.Packet {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, pacpkt.MaxPacketLen)
	n, from, err := conn.ReadFromUDPAddrPort(buf)
	require.NoError(t, err)
	pkt, err := pacpkt.Decode(buf[:n], from)
	require.NoError(t, err)
	return pkt
}

func serverPeerAddr(t *testing.T, clientConn *net.UDPConn) netip.AddrPort {
	t.Helper()
	ap, ok := netip.AddrFromSlice(clientConn.LocalAddr().(*net.UDPAddr).IP)
	require.True(t, ok)
	return netip.AddrPortFrom(ap.Unmap(), uint16(clientConn.LocalAddr().(*net.UDPAddr).Port))
}

func netipAddrPortWithPort(t *testing.T, ap netip.AddrPort, port uint16) netip.AddrPort {
	t.Helper()
	return netip.AddrPortFrom(ap.Addr(), port)
}

func assertNoPayload(t *testing.T, got []byte) {
	t.Helper()
	if len(got) != 0 {
		t.Fatalf("expected empty payload, got %q", got)
	}
}

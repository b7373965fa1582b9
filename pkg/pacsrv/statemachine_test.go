package pacsrv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r2northstar/pacvpnd/pkg/pacpkt"
)

// TestColdHandshakeAndEcho covers a two-round GSSINIT handshake that
// completes, the server nudging NETSTART since the MAC is still
// unlearned, and ECHO getting an empty ECHO reply.
func TestColdHandshakeAndEcho(t *testing.T) {
	s, _, clientConn := newTestServer(t)
	peer := serverPeerAddr(t, clientConn)
	c, created := s.table.getOrCreate(peer, 0x1234)
	require.True(t, created)

	s.handleGSSInit(c, []byte("tok0"))
	assert.Equal(t, StateHandshaking, c.state)
	pkt := recvPacket(t, clientConn)
	assert.Equal(t, pacpkt.KindGSSInit, pkt.Kind)

	s.handleGSSInit(c, []byte("tok1"))
	assert.Equal(t, StateEstablished, c.state)
	assert.Equal(t, "client@EXAMPLE", c.principalName)
	assert.NotNil(t, c.timer)

	netstart := recvPacket(t, clientConn)
	assert.Equal(t, pacpkt.KindNetStart, netstart.Kind)

	s.handleEcho(c)
	echo := recvPacket(t, clientConn)
	assert.Equal(t, pacpkt.KindEcho, echo.Kind)
	assertNoPayload(t, echo.Payload)
}

func TestFreshStateNudgesGSSInitOnNonGSSInit(t *testing.T) {
	// handleData on a Fresh connection must nudge GSSINIT: the DATA,
	// NETINIT and ECHO handlers check established() first and fall back
	// to a GSSINIT nudge.
	s, _, clientConn := newTestServer(t)
	peer := serverPeerAddr(t, clientConn)
	c, _ := s.table.getOrCreate(peer, 1)

	s.handleData(c, []byte("ciphertext"))
	pkt := recvPacket(t, clientConn)
	assert.Equal(t, pacpkt.KindGSSInit, pkt.Kind)
	assertNoPayload(t, pkt.Payload)
}

func TestDataDroppedWithoutMACLearned(t *testing.T) {
	s, tap, clientConn := newTestServer(t)
	peer := serverPeerAddr(t, clientConn)
	c, _ := s.table.getOrCreate(peer, 1)

	s.handleGSSInit(c, []byte("tok0"))
	recvPacket(t, clientConn) // continue token
	s.handleGSSInit(c, []byte("tok1"))
	recvPacket(t, clientConn) // NETSTART
	require.Equal(t, StateEstablished, c.state)
	require.True(t, c.mac.IsZero())

	ciphertext, _ := s.auth.Wrap(c.ctx, []byte("frame"))
	s.handleData(c, ciphertext)

	assert.Nil(t, tap.lastWrite(), "DATA before MAC learned must be dropped without reply")
}

func TestDataDeliveredOnceEstablishedAndMACLearned(t *testing.T) {
	s, tap, clientConn := newTestServer(t)
	peer := serverPeerAddr(t, clientConn)
	c, _ := s.table.getOrCreate(peer, 1)

	s.handleGSSInit(c, []byte("tok0"))
	recvPacket(t, clientConn)
	s.handleGSSInit(c, []byte("tok1"))
	recvPacket(t, clientConn)

	s.table.relearnMAC(c, MAC{0x52, 0x54, 0x00, 0x12, 0x34, 0x56})

	plaintext := []byte("ethernet frame")
	ciphertext, err := s.auth.Wrap(c.ctx, plaintext)
	require.NoError(t, err)

	s.handleData(c, ciphertext)
	assert.Equal(t, plaintext, tap.lastWrite())
}

func TestShutdownDestroysConnection(t *testing.T) {
	s, _, clientConn := newTestServer(t)
	peer := serverPeerAddr(t, clientConn)
	c, _ := s.table.getOrCreate(peer, 1)

	s.handleShutdown(c)
	assert.Equal(t, StateDead, c.state)
	assert.Nil(t, s.table.lookupExact(peer, 1))
}

func TestRekeyNeededResetsToFreshAndNudges(t *testing.T) {
	s, _, clientConn := newTestServer(t)
	peer := serverPeerAddr(t, clientConn)
	c, _ := s.table.getOrCreate(peer, 1)

	s.handleGSSInit(c, []byte("tok0"))
	recvPacket(t, clientConn)
	s.handleGSSInit(c, []byte("tok1"))
	recvPacket(t, clientConn)
	require.NotNil(t, c.ctx)

	s.handleRekeyNeeded(c, assert.AnError)

	assert.Nil(t, c.ctx)
	assert.Equal(t, StateFresh, c.state)
	pkt := recvPacket(t, clientConn)
	assert.Equal(t, pacpkt.KindGSSInit, pkt.Kind)
	assertNoPayload(t, pkt.Payload)
}

// Package pacpkt implements the wire framing for PAC protocol datagrams:
// a packet kind byte, a 16-bit session id, and an optional payload. It is
// deliberately dumb about payload contents: confidentiality and integrity
// of PAC_DATA and PAC_GSSINIT payloads are the job of the caller's security
// context (see pkg/pacgss), not this package.
//
// The buffer layout favors an allocation-free discipline: fixed header,
// in-place slicing, no defensive copies on the hot path.
package pacpkt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
)

// Kind identifies the purpose of a PAC datagram.
type Kind uint8

const (
	KindData Kind = iota + 1
	KindGSSInit
	KindNetInit
	KindNetStart
	KindShutdown
	KindEcho
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "DATA"
	case KindGSSInit:
		return "GSSINIT"
	case KindNetInit:
		return "NETINIT"
	case KindNetStart:
		return "NETSTART"
	case KindShutdown:
		return "SHUTDOWN"
	case KindEcho:
		return "ECHO"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// header layout: kind(1) | session_id(2, little-endian) | payload...
const headerLen = 3

// MaxPacketLen bounds a single PAC datagram, matching the largest payload
// the core ever frames (a 4096-byte netinit blob; a tap frame is at most
// 1550 bytes).
const MaxPacketLen = 4096 + headerLen

// ErrRekeyNeeded is returned by Decode when the datagram is a well-formed
// rekey-request marker rather than an ordinary packet. It is distinct from
// ErrMalformed because it drives the state machine's rekey path instead of
// a silent drop.
var ErrRekeyNeeded = errors.New("pacpkt: rekey needed")

// ErrMalformed is returned for any datagram too short or otherwise
// structurally invalid to decode. Callers must drop these silently: the
// wire is untrusted.
var ErrMalformed = errors.New("pacpkt: malformed packet")

// rekeyMarker is a reserved kind byte value signaling "rekey needed" at the
// framing layer, used when a context could not unwrap/verify a datagram
// closely enough to even recover its real kind.
const rekeyMarker Kind = 0xFF

// Encode appends the framed form of (kind, sessionID, payload) to dst and
// returns the result. payload may be nil.
func Encode(dst []byte, kind Kind, sessionID uint16, payload []byte) []byte {
	dst = append(dst, byte(kind))
	dst = binary.LittleEndian.AppendUint16(dst, sessionID)
	if len(payload) > 0 {
		dst = append(dst, payload...)
	}
	return dst
}

// EncodeRekeyNeeded frames the rekey-request marker for sessionID.
func EncodeRekeyNeeded(dst []byte, sessionID uint16) []byte {
	dst = append(dst, byte(rekeyMarker))
	dst = binary.LittleEndian.AppendUint16(dst, sessionID)
	return dst
}

// Packet is a decoded PAC datagram. Payload aliases the input buffer passed
// to Decode and is only valid until that buffer is reused.
type Packet struct {
	Kind      Kind
	SessionID uint16
	Payload   []byte
}

// Decode parses datagram, which was received from addr. On success it
// returns a Packet whose Payload aliases datagram. ErrRekeyNeeded and
// ErrMalformed are sentinel errors the caller distinguishes from each
// other; all other errors should be treated the same as ErrMalformed.
func Decode(datagram []byte, addr netip.AddrPort) (Packet, error) {
	if len(datagram) < headerLen {
		return Packet{}, ErrMalformed
	}
	kind := Kind(datagram[0])
	sessionID := binary.LittleEndian.Uint16(datagram[1:3])
	if kind == rekeyMarker {
		return Packet{SessionID: sessionID}, ErrRekeyNeeded
	}
	switch kind {
	case KindData, KindGSSInit, KindNetInit, KindNetStart, KindShutdown, KindEcho:
	default:
		return Packet{}, ErrMalformed
	}
	return Packet{
		Kind:      kind,
		SessionID: sessionID,
		Payload:   datagram[headerLen:],
	}, nil
}

package pacsrv

import (
	"encoding/binary"
	"hash/fnv"
	"net/netip"
)

// numBuckets sizes two arrays of 255 singly-linked buckets.
const numBuckets = 255

// hashIPKey mixes a peer address and session id into a bucket index in
// [0, numBuckets). Bucket 0 is a valid, frequently-hit bucket, not a
// reserved sentinel.
func hashIPKey(peer netip.AddrPort, sessionID uint16) uint8 {
	h := fnv.New32a()
	if a := peer.Addr(); a.Is4() {
		b := a.As4()
		h.Write(b[:])
	} else {
		b := peer.Addr().As16()
		h.Write(b[:])
	}
	var portSess [4]byte
	binary.LittleEndian.PutUint16(portSess[0:2], peer.Port())
	binary.LittleEndian.PutUint16(portSess[2:4], sessionID)
	h.Write(portSess[:])
	return uint8(h.Sum32() % numBuckets)
}

// hashMAC mixes a MAC address into a bucket index in [0, numBuckets).
func hashMAC(mac MAC) uint8 {
	h := fnv.New32a()
	h.Write(mac[:])
	return uint8(h.Sum32() % numBuckets)
}

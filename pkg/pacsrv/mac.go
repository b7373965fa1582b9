package pacsrv

import "fmt"

// MAC is a 6-byte Ethernet hardware address.
type MAC [6]byte

// BroadcastMAC is the all-ones Ethernet destination address. Comparisons
// against it are always precise 6-byte comparisons: no uint64
// reinterpretation that could read past the MAC.
var BroadcastMAC = MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// zeroMAC is the "not yet learned" sentinel.
var zeroMAC MAC

// IsZero reports whether m is the unlearned sentinel value.
func (m MAC) IsZero() bool {
	return m == zeroMAC
}

// IsBroadcast reports whether m is the Ethernet broadcast address.
func (m MAC) IsBroadcast() bool {
	return m == BroadcastMAC
}

func (m MAC) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}

// macFromBytes copies the first 6 bytes of b into a MAC. The caller must
// ensure len(b) >= 6.
func macFromBytes(b []byte) MAC {
	var m MAC
	copy(m[:], b[:6])
	return m
}

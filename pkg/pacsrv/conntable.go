package pacsrv

import "net/netip"

// connTable is a two-hash-table connection index: one keyed by (peer,
// sessionID), the other by learned MAC. It is only ever touched from the
// single event-loop goroutine, so it needs no locking.
type connTable struct {
	ipIndex    [numBuckets]*Connection
	etherIndex [numBuckets]*Connection
	count      int
}

func newConnTable() *connTable {
	return &connTable{}
}

// getOrCreate looks up the connection for the exact (peer, sessionID) pair,
// creating and inserting a fresh one if none exists. It does not perform
// session-only mobility reconciliation; callers that need that should use
// reconcile instead.
func (t *connTable) getOrCreate(peer netip.AddrPort, sessionID uint16) (*Connection, bool) {
	if c := t.lookupExact(peer, sessionID); c != nil {
		return c, false
	}
	return t.insert(peer, sessionID), true
}

func (t *connTable) lookupExact(peer netip.AddrPort, sessionID uint16) *Connection {
	b := hashIPKey(peer, sessionID)
	for c := t.ipIndex[b]; c != nil; c = c.ipNext {
		if c.peer == peer && c.sessionID == sessionID {
			return c
		}
	}
	return nil
}

func (t *connTable) insert(peer netip.AddrPort, sessionID uint16) *Connection {
	c := &Connection{
		peer:      peer,
		peerText:  peer.Addr().String(),
		sessionID: sessionID,
		state:     StateFresh,
	}
	b := hashIPKey(peer, sessionID)
	c.ipNext = t.ipIndex[b]
	t.ipIndex[b] = c
	t.count++
	return c
}

// findBySessionID scans every bucket for a connection with the given
// session id, regardless of its stored peer. It is O(n) in the connection
// count and is only used by reconcile's mobility fallback, which is itself
// only reached on an exact-match miss.
func (t *connTable) findBySessionID(sessionID uint16) *Connection {
	for b := range t.ipIndex {
		for c := t.ipIndex[b]; c != nil; c = c.ipNext {
			if c.sessionID == sessionID {
				return c
			}
		}
	}
	return nil
}

// reconcile implements the mobility/NAT-rebinding rule: if a packet for
// sessionID arrives from a new peer address, the existing
// connection's stored address is updated (and the IP index bucket it
// lives in is recomputed, since the bucket key includes peer) rather than
// a duplicate connection being created. If no connection with sessionID
// exists at all, a fresh one is created exactly as getOrCreate would.
func (t *connTable) reconcile(peer netip.AddrPort, sessionID uint16) (c *Connection, created bool) {
	if c := t.lookupExact(peer, sessionID); c != nil {
		return c, false
	}
	if c := t.findBySessionID(sessionID); c != nil {
		t.unlinkIP(c)
		c.peer = peer
		c.peerText = peer.Addr().String()
		b := hashIPKey(peer, sessionID)
		c.ipNext = t.ipIndex[b]
		t.ipIndex[b] = c
		t.count++
		return c, false
	}
	return t.insert(peer, sessionID), true
}

// findByMAC looks up the connection currently reachable under mac, if any.
func (t *connTable) findByMAC(mac MAC) *Connection {
	if mac.IsZero() || mac.IsBroadcast() {
		return nil
	}
	b := hashMAC(mac)
	for c := t.etherIndex[b]; c != nil; c = c.etherNext {
		if c.mac == mac {
			return c
		}
	}
	return nil
}

// relearnMAC relinks c under newMac in the Ethernet index, unlinking it
// from its old bucket first if it was already linked. The broadcast MAC is
// never stored.
func (t *connTable) relearnMAC(c *Connection, newMac MAC) {
	if newMac == c.mac && c.etherLinked {
		return
	}
	if c.etherLinked {
		t.unlinkEther(c)
	}
	c.mac = newMac
	if newMac.IsZero() || newMac.IsBroadcast() {
		return
	}
	b := hashMAC(newMac)
	c.etherNext = t.etherIndex[b]
	t.etherIndex[b] = c
	c.etherLinked = true
}

// unlinkWhich selects which index unlink operates on.
type unlinkWhich int

const (
	unlinkIP unlinkWhich = 1 << iota
	unlinkEther
	unlinkAll = unlinkIP | unlinkEther
)

// unlink removes c from the requested indexes. It is idempotent.
func (t *connTable) unlink(c *Connection, which unlinkWhich) {
	if which&unlinkIP != 0 {
		t.unlinkIP(c)
	}
	if which&unlinkEther != 0 {
		t.unlinkEther(c)
	}
}

func (t *connTable) unlinkIP(c *Connection) {
	b := hashIPKey(c.peer, c.sessionID)
	pp := &t.ipIndex[b]
	for cur := *pp; cur != nil; cur = *pp {
		if cur == c {
			*pp = cur.ipNext
			cur.ipNext = nil
			t.count--
			return
		}
		pp = &cur.ipNext
	}
}

func (t *connTable) unlinkEther(c *Connection) {
	if !c.etherLinked {
		return
	}
	b := hashMAC(c.mac)
	pp := &t.etherIndex[b]
	for cur := *pp; cur != nil; cur = *pp {
		if cur == c {
			*pp = cur.etherNext
			cur.etherNext = nil
			c.etherLinked = false
			return
		}
		pp = &cur.etherNext
	}
	c.etherLinked = false
}

// all calls fn for every connection in the IP index. fn may destroy the
// current connection; all captures c.ipNext before invoking fn so that is
// safe.
func (t *connTable) all(fn func(*Connection)) {
	for b := range t.ipIndex {
		c := t.ipIndex[b]
		for c != nil {
			next := c.ipNext
			fn(c)
			c = next
		}
	}
}

// allEther calls fn for every connection in the Ethernet index (used for
// broadcast fan-out). Unlike all, fn must not unlink the connection it was
// called with from the Ethernet index, or the traversal below would skip
// its successor; dispatch_tap.go only deletes contexts, never unlinks,
// while iterating.
func (t *connTable) allEther(fn func(*Connection)) {
	for b := range t.etherIndex {
		for c := t.etherIndex[b]; c != nil; c = c.etherNext {
			fn(c)
		}
	}
}

package pacsrv

import (
	"net/netip"
	"os/exec"
	"time"

	"github.com/r2northstar/pacvpnd/pkg/pacgss"
)

// State is one of a connection's security-context states.
type State int

const (
	StateFresh State = iota
	StateHandshaking
	StateEstablished
	StateDead
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateHandshaking:
		return "handshaking"
	case StateEstablished:
		return "established"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// netinitRun tracks the single in-flight helper invocation for a
// connection: at most one child watcher and one pipe reader at a time.
// The actual pipe-read and child-wait work happens in a dedicated
// goroutine (netinit.go); this struct only holds what's needed to
// recognize "a helper is already running" and to reach the child if the
// connection is destroyed mid-run.
type netinitRun struct {
	cmd *exec.Cmd
}

// Connection is one remote client, keyed into the connection table by
// (peer, sessionID) and, once its MAC is learned, by mac as well.
type Connection struct {
	peer     netip.AddrPort
	peerText string

	sessionID uint16
	mac       MAC

	ctx   *pacgss.Context
	state State

	principalName string

	netinit    *netinitRun
	netinitGen uint64

	timer *time.Timer
	// timerGen is bumped every time timer is stopped/restarted so a
	// fire event racing a reset can recognize it is stale.
	timerGen uint64

	// ipNext/etherNext chain connections within a conntable bucket.
	ipNext    *Connection
	etherNext *Connection

	// etherLinked reports whether this connection is currently reachable
	// from the Ethernet index, since mac alone can't distinguish "never
	// learned" from "unlinked pending relearn".
	etherLinked bool
}

// Peer returns the connection's current peer address.
func (c *Connection) Peer() netip.AddrPort { return c.peer }

// SessionID returns the client-chosen session identifier.
func (c *Connection) SessionID() uint16 { return c.sessionID }

// MAC returns the connection's learned Ethernet address, or the zero MAC
// if none has been learned yet.
func (c *Connection) MAC() MAC { return c.mac }

// State returns the connection's current state-machine state.
func (c *Connection) State() State { return c.state }

// PrincipalName returns the authenticated peer identity, valid once State
// is StateEstablished.
func (c *Connection) PrincipalName() string { return c.principalName }

// established reports whether c is fully authenticated for data traffic:
// the state is Established and the context is present and usable.
func (c *Connection) established() bool {
	return c.state == StateEstablished && c.ctx != nil
}

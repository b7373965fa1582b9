package pacsrv

import (
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/r2northstar/pacvpnd/pkg/pacpkt"
)

// netinitBufLen bounds the stdout blob retained from the helper.
const netinitBufLen = 4096

// netinitResult is delivered to the event loop once a helper invocation
// finishes (or fails to start).
type netinitResult struct {
	conn     *Connection
	gen      uint64
	buf      []byte
	exitErr  error
	startErr error
}

// startNetinit relearns the MAC from the payload, then either answers
// immediately (no helper configured) or spawns one, wiring its stdout
// back to resultCh for the event loop to consume.
//
// Go's exec.Cmd does not inherit the parent's other open files unless they
// are explicitly listed in ExtraFiles/Stdin/Stdout/Stderr, because every
// descriptor the os and net packages open is created with FD_CLOEXEC, so
// there is no separate close-everything-then-exec step to write here.
func (s *Server) startNetinit(c *Connection, payload []byte, resultCh chan<- netinitResult) {
	if len(payload) < 6 {
		return
	}
	s.table.relearnMAC(c, macFromBytes(payload))

	if c.netinit != nil {
		// A helper is already running for this connection; a second
		// NETINIT is ignored.
		return
	}

	if s.NetinitHelper == "" {
		s.metrics.netinitAccepted.Inc()
		s.sendPacket(c, pacpkt.KindNetInit, nil)
		return
	}

	// Mark a run as in-flight (and bump the generation) before the first
	// possible failure point: finishNetinit's generation guard requires
	// c.netinit to be set for *any* result, including a start failure,
	// or the result is treated as stale and silently dropped, leaving an
	// unadmitted connection stuck in its current state.
	c.netinitGen++
	gen := c.netinitGen
	c.netinit = &netinitRun{}

	pr, pw, err := os.Pipe()
	if err != nil {
		resultCh <- netinitResult{conn: c, gen: gen, startErr: err}
		return
	}

	cmd := exec.Command(s.NetinitHelper, c.principalName, c.peer.Addr().String(), strconv.Itoa(int(c.peer.Port())))
	cmd.Args[0] = filepath.Base(s.NetinitHelper)
	cmd.Stdout = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		resultCh <- netinitResult{conn: c, gen: gen, startErr: err}
		return
	}
	pw.Close()
	c.netinit.cmd = cmd

	go func() {
		buf := make([]byte, 0, netinitBufLen)
		chunk := make([]byte, netinitBufLen)
		for len(buf) < netinitBufLen {
			n, err := pr.Read(chunk)
			if n > 0 {
				room := netinitBufLen - len(buf)
				if n > room {
					n = room
				}
				buf = append(buf, chunk[:n]...)
			}
			if err != nil {
				if err != io.EOF {
					// treat any other read error as end of stream too;
					// the exit status below is authoritative.
				}
				break
			}
		}
		pr.Close()
		waitErr := cmd.Wait()
		resultCh <- netinitResult{conn: c, gen: gen, buf: buf, exitErr: waitErr}
	}()
}

// finishNetinit applies the outcome of a helper run on the event-loop
// goroutine.
func (s *Server) finishNetinit(res netinitResult) {
	c := res.conn
	if c.state == StateDead || c.netinit == nil || res.gen != c.netinitGen {
		// Stale result for an already-destroyed or superseded run.
		return
	}
	c.netinit = nil

	if res.startErr != nil {
		s.logger.Error().Err(res.startErr).Str("peer", c.peerText).Msg("netinit: failed to start helper")
		s.sendPacket(c, pacpkt.KindShutdown, nil)
		s.destroy(c)
		return
	}

	if res.exitErr != nil {
		s.logger.Info().Str("peer", c.peerText).Str("principal", c.principalName).Err(res.exitErr).Msg("netinit: helper rejected client")
		s.metrics.netinitRejected.Inc()
		s.sendPacket(c, pacpkt.KindShutdown, nil)
		s.destroy(c)
		return
	}

	s.metrics.netinitAccepted.Inc()
	s.logger.Info().Str("peer", c.peerText).Str("principal", c.principalName).Msg("netinit: client admitted")
	if len(res.buf) == 0 {
		s.sendPacket(c, pacpkt.KindNetInit, nil)
	} else {
		s.sendPacket(c, pacpkt.KindNetInit, res.buf)
	}
}

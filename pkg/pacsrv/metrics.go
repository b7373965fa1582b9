package pacsrv

import (
	"fmt"
	"io"

	"github.com/VictoriaMetrics/metrics"

	"github.com/r2northstar/pacvpnd/pkg/pacpkt"
)

// serverMetrics is one *metrics.Set per server, with counters/gauges
// created once up front and referenced directly rather than looked up by
// name on every call.
type serverMetrics struct {
	set *metrics.Set

	rxTotal  map[pacpkt.Kind]*metrics.Counter
	txTotalC map[pacpkt.Kind]*metrics.Counter

	packetsDroppedTotal  *metrics.Counter
	rekeysTotal          *metrics.Counter
	netinitAccepted      *metrics.Counter
	netinitRejected      *metrics.Counter
	connectionsActive    *metrics.Gauge
	broadcastFramesTotal *metrics.Counter
}

func newServerMetrics() *serverMetrics {
	m := &serverMetrics{
		set:      metrics.NewSet(),
		rxTotal:  make(map[pacpkt.Kind]*metrics.Counter),
		txTotalC: make(map[pacpkt.Kind]*metrics.Counter),
	}
	for _, k := range []pacpkt.Kind{pacpkt.KindData, pacpkt.KindGSSInit, pacpkt.KindNetInit, pacpkt.KindNetStart, pacpkt.KindShutdown, pacpkt.KindEcho} {
		m.rxTotal[k] = m.set.NewCounter(fmt.Sprintf(`pacvpnd_packets_received_total{kind=%q}`, k))
		m.txTotalC[k] = m.set.NewCounter(fmt.Sprintf(`pacvpnd_packets_sent_total{kind=%q}`, k))
	}
	m.packetsDroppedTotal = m.set.NewCounter(`pacvpnd_packets_dropped_total`)
	m.rekeysTotal = m.set.NewCounter(`pacvpnd_rekeys_total`)
	m.netinitAccepted = m.set.NewCounter(`pacvpnd_netinit_outcomes_total{result="accepted"}`)
	m.netinitRejected = m.set.NewCounter(`pacvpnd_netinit_outcomes_total{result="rejected"}`)
	m.connectionsActive = m.set.NewGauge(`pacvpnd_connections_active`, nil)
	m.broadcastFramesTotal = m.set.NewCounter(`pacvpnd_broadcast_frames_total`)
	return m
}

func (m *serverMetrics) txTotal(k pacpkt.Kind) {
	if c, ok := m.txTotalC[k]; ok {
		c.Inc()
	}
}

func (m *serverMetrics) rxTotalInc(k pacpkt.Kind) {
	if c, ok := m.rxTotal[k]; ok {
		c.Inc()
	}
}

// WritePrometheus writes every counter/gauge in Prometheus text format.
func (m *serverMetrics) WritePrometheus(w io.Writer) {
	m.set.WritePrometheus(w)
}

// Package clocksync estimates the server clock from the client side.
//
// The estimate is a single additive offset: serverNow = localNow + delta.
// Without a ping it assumes a fixed round trip and takes half of it as the
// one-way latency, so the offset can be off by a few tens of milliseconds.
// The server's grace margin absorbs that error; nothing here is
// authoritative.
package clocksync

import (
	"sync/atomic"
	"time"
)

const DefaultAssumedRTT = 100 * time.Millisecond

type Estimator struct {
	assumedRTT time.Duration
	delta      atomic.Int64 // ms
}

func New() *Estimator {
	return NewWithRTT(DefaultAssumedRTT)
}

func NewWithRTT(rtt time.Duration) *Estimator {
	if rtt < 0 {
		rtt = 0
	}
	return &Estimator{assumedRTT: rtt}
}

// Observe replaces the offset from one server-stamped sample received at
// localReceiptMs.
func (e *Estimator) Observe(serverMs, localReceiptMs int64) {
	oneWay := e.assumedRTT.Milliseconds() / 2
	e.delta.Store(serverMs + oneWay - localReceiptMs)
}

// ObservePing replaces the offset from a measured clock:ping round trip.
// Samples whose receive time precedes the send are ignored.
func (e *Estimator) ObservePing(localSendMs, serverMs, localRecvMs int64) {
	rtt := localRecvMs - localSendMs
	if rtt < 0 {
		return
	}
	e.delta.Store(serverMs + rtt/2 - localRecvMs)
}

// Offset is the current delta in ms; 0 before any sample.
func (e *Estimator) Offset() int64 { return e.delta.Load() }

func (e *Estimator) ServerNow(localMs int64) int64 {
	return localMs + e.delta.Load()
}

// FireDelay is how long to wait locally before serverStartMs, never
// negative.
func (e *Estimator) FireDelay(serverStartMs, localNowMs int64) time.Duration {
	d := serverStartMs - e.ServerNow(localNowMs)
	if d < 0 {
		return 0
	}
	return time.Duration(d) * time.Millisecond
}

package stomp

import (
	"sync/atomic"
	"time"
)

// heartbeatTimers owns the two independent per-direction timers spec.md
// §4.4 describes. Each direction is scheduled with time.AfterFunc and
// recomputes its own remaining time on every firing, rather than a fixed
// ticker, so that a direction that just sent or received data pushes its
// next check out rather than firing early. stopped is touched from both
// the timer goroutines and whichever goroutine calls stop(), hence the
// atomic rather than a plain bool.
type heartbeatTimers struct {
	client  *time.Timer
	server  *time.Timer
	stopped atomic.Bool
}

// startHeartBeats arms both direction timers from the negotiated periods,
// or does nothing for a direction whose negotiated period is 0.
func (c *Client) startHeartBeats() {
	clientMS, serverMS := c.session.HeartBeatPeriods()
	h := &heartbeatTimers{}
	if clientMS > 0 {
		h.client = time.AfterFunc(0, func() { c.onClientHeartBeatTick(clientMS) })
	}
	if serverMS > 0 {
		h.server = time.AfterFunc(0, func() { c.onServerHeartBeatTick(serverMS) })
	}
	c.heartbeats = h
}

func (h *heartbeatTimers) stop() {
	if h == nil {
		return
	}
	h.stopped.Store(true)
	if h.client != nil {
		h.client.Stop()
	}
	if h.server != nil {
		h.server.Stop()
	}
}

// remaining computes max(0, threshold*periodMS/1000 - elapsed-since-lastStamp).
func remaining(threshold float64, periodMS int, lastStamp time.Time) time.Duration {
	budget := time.Duration(threshold * float64(periodMS) * float64(time.Millisecond))
	elapsed := time.Since(lastStamp)
	if elapsed >= budget {
		return 0
	}
	return budget - elapsed
}

// onClientHeartBeatTick is the client-direction timer callback: when its
// budget is exhausted it sends a bare heart-beat byte and reschedules;
// otherwise it just reschedules for the remaining time.
func (c *Client) onClientHeartBeatTick(periodMS int) {
	if c.heartbeats == nil || c.heartbeats.stopped.Load() {
		return
	}
	threshold := c.config.HeartBeatThresholds.Client
	r := remaining(threshold, periodMS, c.session.LastSent())
	if r > 0 {
		c.heartbeats.client.Reset(r)
		return
	}
	c.call(func() {
		beat := c.session.Beat()
		if _, err := c.transport.Write(beat); err != nil {
			c.initiateDisconnect(newConnectionError("failed to send heart-beat", err))
			return
		}
		c.session.Sent()
		c.metrics.heartBeatSent()
	})
	r = remaining(threshold, periodMS, c.session.LastSent())
	if r <= 0 {
		r = time.Duration(float64(periodMS)) * time.Millisecond
	}
	c.heartbeats.client.Reset(r)
}

// onServerHeartBeatTick is the server-direction timer callback: when its
// budget is exhausted the server is presumed dead and the client
// initiates disconnect; otherwise it reschedules for the remaining time.
func (c *Client) onServerHeartBeatTick(periodMS int) {
	if c.heartbeats == nil || c.heartbeats.stopped.Load() {
		return
	}
	threshold := c.config.HeartBeatThresholds.Server
	r := remaining(threshold, periodMS, c.session.LastReceived())
	if r > 0 {
		c.heartbeats.server.Reset(r)
		return
	}
	c.metrics.heartBeatMissed()
	c.initiateDisconnect(newConnectionError("server heart-beat timeout", nil))
}

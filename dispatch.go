package stomp

import (
	"strings"
	"time"
)

// unexpectedAckErrorSubstring is the pre-5.2-broker idiosyncrasy carried
// over from the source implementation's documented workaround: some
// brokers emit an ERROR for a client-individual ACK they already
// processed. Swallowing it avoids tearing down an otherwise-healthy
// connection over a broker-side quirk.
const unexpectedAckErrorSubstring = "Unexpected ACK received for message-id"

// SwallowUnexpectedAckErrors gates the pre-5.2 ERROR-swallowing
// workaround. Defaults to true; set false in tests that want to observe
// every ERROR frame as a disconnect trigger.
var SwallowUnexpectedAckErrors = true

// dispatch routes one inbound frame by command, per spec's frame-dispatch
// table.
func (c *Client) dispatch(frame *Frame) {
	switch frame.Command {
	case CmdConnected:
		c.onConnected(frame)
	case CmdReceipt:
		c.onReceipt(frame)
	case CmdError:
		c.onError(frame)
	case CmdMessage:
		c.onMessage(frame)
	default:
		c.initiateDisconnect(newInvalidFrame("unexpected inbound command %q", frame.Command))
	}
}

func (c *Client) onConnected(frame *Frame) {
	info, err := c.session.Connected(frame)
	if c.negotiation != nil {
		if err != nil {
			c.negotiation.complete(nil, err)
		} else {
			c.negotiation.complete(frame, nil)
		}
		c.negotiation = nil
	}
	_ = info
}

func (c *Client) onReceipt(frame *Frame) {
	id, err := c.session.Receipt(frame)
	if err != nil {
		c.logger.Warn("RECEIPT for unknown id", "error", err)
		return
	}
	if w, ok := c.receipts[id]; ok {
		w.complete(frame, nil)
		delete(c.receipts, id)
		c.metrics.setReceiptsPending(len(c.receipts))
	}
}

func (c *Client) onError(frame *Frame) {
	if c.negotiation != nil {
		c.negotiation.complete(nil, newProtocolError("broker sent ERROR during negotiation: %s", errorMessage(frame)))
		c.negotiation = nil
		return
	}
	if SwallowUnexpectedAckErrors && strings.Contains(errorMessage(frame), unexpectedAckErrorSubstring) {
		c.logger.Debug("swallowing unexpected-ACK ERROR", "message", errorMessage(frame))
		return
	}
	c.initiateDisconnect(newProtocolError("broker sent ERROR: %s", errorMessage(frame)))
}

func errorMessage(frame *Frame) string {
	return frame.Headers.GetDefault(HeaderMessage, "")
}

// onMessage implements spec's message-handling sequence: drop during
// disconnect, look up the subscription, track an in-flight marker so
// Disconnect can wait for drain, run the handler, and ack exactly once
// afterward — a deliberate departure from the source's finally-branch
// double-ack bug (spec.md §9).
func (c *Client) onMessage(frame *Frame) {
	if c.isDisconnecting() {
		if nackFrame, err := c.session.Nack(frame, ""); err == nil {
			c.writeFrame(nackFrame)
		}
		return
	}

	token, err := c.session.MessageToken(frame)
	if err != nil {
		c.logger.Warn("dropping MESSAGE with no resolvable subscription", "error", err)
		return
	}
	cs, ok := c.subscriptions[token]
	if !ok {
		c.logger.Warn("dropping MESSAGE for unknown subscription", "token", token)
		return
	}

	messageID := frame.Headers.GetDefault(HeaderMessageID, "")
	marker := make(chan struct{})
	c.inFlight[messageID] = marker
	c.metrics.setMessagesInFlight(len(c.inFlight))

	c.pool.Submit(func() {
		defer func() {
			if !c.call(func() {
				delete(c.inFlight, messageID)
				c.metrics.setMessagesInFlight(len(c.inFlight))
				close(marker)
			}) {
				// Event loop already exited (connection lost): nothing left
				// to delete from, but the marker still must close so a
				// concurrent drainHandlers wait doesn't hang.
				close(marker)
			}
		}()

		err := cs.handler(c, frame)
		c.call(func() { c.ackMessage(cs, frame, err) })
	})
}

// ackMessage runs on the event loop: it acks exactly once, either because
// the handler succeeded and auto-ack is on, or because the failure hook
// ran. A failure hook that itself errors triggers a client-initiated
// disconnect, unless one is already underway.
func (c *Client) ackMessage(cs *clientSubscription, frame *Frame, handlerErr error) {
	if handlerErr == nil {
		if cs.autoAck {
			if ack, err := c.session.Ack(frame, ""); err == nil {
				c.writeFrame(ack)
			}
		}
		return
	}

	hook := cs.onFailed
	if hook == nil {
		hook = c.defaultFailureHook(cs.errorDestination)
	}
	if err := hook(c, frame, handlerErr); err != nil && !c.isDisconnecting() {
		c.initiateDisconnect(err)
	}
}

// defaultFailureHook forwards a copy of the failed frame to destination
// with a message-failed header set to the cause, then acks the original.
func (c *Client) defaultFailureHook(destination string) FailureHook {
	return func(client *Client, message *Frame, cause error) error {
		if destination != "" {
			forwarded := NewFrame(CmdSend)
			for _, h := range message.Headers.Pairs() {
				forwarded.Headers.Set(h.Name, h.Value)
			}
			forwarded.Headers.Set(HeaderDestination, destination)
			forwarded.Headers.Set("message-failed", cause.Error())
			forwarded.SetBody(message.Body)
			if err := client.writeFrame(forwarded); err != nil {
				return err
			}
		}
		if ack, err := client.session.Ack(message, ""); err == nil {
			return client.writeFrame(ack)
		}
		return nil
	}
}

// initiateDisconnect starts a client-driven disconnect with failure as the
// recorded cause, unless one is already in progress.
func (c *Client) initiateDisconnect(failure error) {
	c.mu.Lock()
	if c.disconnecting {
		c.mu.Unlock()
		return
	}
	c.disconnecting = true
	c.disconnectFailure = failure
	c.mu.Unlock()

	go c.runDisconnect(failure)
}

// Disconnect performs an orderly shutdown: wait for in-flight handlers to
// drain, send DISCONNECT (awaiting its receipt if requested), then close
// the transport. At most one disconnect may run at a time.
func (c *Client) Disconnect(timeout time.Duration, receipt string) error {
	c.mu.Lock()
	if c.disconnecting {
		c.mu.Unlock()
		return newAlreadyRunning("disconnect")
	}
	c.disconnecting = true
	c.mu.Unlock()

	return c.runDisconnectWithReceipt(timeout, receipt, nil)
}

func (c *Client) runDisconnect(failure error) {
	c.runDisconnectWithReceipt(c.config.ReceiptTimeout, "", failure)
}

// runDisconnectWithReceipt implements spec's Disconnect sequence. Every
// touch of session/transport/receipts state runs inside a c.call so it is
// serialised against the event loop; only the transport Close and the
// final wait for the loop to finish tearing down happen off-loop.
func (c *Client) runDisconnectWithReceipt(timeout time.Duration, receipt string, failure error) error {
	c.drainHandlers(timeout)

	var w waiter
	c.call(func() {
		if c.session.State() != StateConnected && c.session.State() != StateDisconnecting {
			return
		}
		frame, err := c.session.Disconnect(receipt)
		if err != nil {
			return
		}
		if receipt != "" {
			w = newWaiter()
			c.receipts[receipt] = w
		}
		if writeErr := c.writeFrame(frame); writeErr != nil && failure == nil {
			failure = writeErr
		}
	})

	if w != nil && failure == nil {
		select {
		case res := <-w:
			if res.err != nil {
				failure = res.err
			}
		case <-time.After(c.config.ReceiptTimeout):
			failure = newCancelled("receipt %q", receipt)
		}
	}

	c.call(func() { c.disconnectFailure = failure })
	c.transport.Close()
	<-c.disconnected
	return failure
}

// drainHandlers waits up to timeout for every registered in-flight
// message marker to close.
func (c *Client) drainHandlers(timeout time.Duration) {
	var markers []chan struct{}
	c.call(func() {
		for _, m := range c.inFlight {
			markers = append(markers, m)
		}
	})
	if len(markers) == 0 {
		return
	}
	deadline := time.After(timeout)
	for _, m := range markers {
		select {
		case <-m:
		case <-deadline:
			return
		}
	}
}

// onConnectionLoss is the connection-loss callback spec's §4.4 Disconnect
// step 5 describes: it finalises the failure cause, closes the session,
// cancels every outstanding waiter, and resolves the disconnected
// completion exactly once. It does not clear c.transport. Only
// run() calls this, from its readErr case, so it always executes on the
// event loop — readErr's raw transport error is informational only; the
// authoritative cause is whatever runDisconnectWithReceipt recorded in
// c.disconnectFailure for a client-initiated disconnect, since a
// self-triggered transport.Close() always produces some incidental read
// error that must not be mistaken for an unclean loss.
func (c *Client) onConnectionLoss(readErr error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		failure := c.disconnectFailure
		if !c.disconnecting && failure == nil {
			failure = readErr
			if failure == nil {
				failure = newConnectionError("connection lost", nil)
			}
		}
		c.disconnectedErr = failure
		wasClean := failure == nil
		c.mu.Unlock()

		if c.heartbeats != nil {
			c.heartbeats.stop()
		}
		c.pool.Stop()

		c.session.Close(wasClean)

		if c.negotiation != nil {
			c.negotiation.complete(nil, newCancelled("connection lost"))
			c.negotiation = nil
		}
		for id, w := range c.receipts {
			w.complete(nil, newCancelled("connection lost"))
			delete(c.receipts, id)
		}

		close(c.disconnected)
	})
}

// Done returns a channel closed once the client has fully disconnected.
func (c *Client) Done() <-chan struct{} { return c.disconnected }

// Err returns the cause the disconnected completion resolved with, or nil
// for a clean disconnect. Only meaningful after Done() is closed.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnectedErr
}

package stomp

import "time"

// SendFrame writes an already-built frame directly to the transport, the
// raw escape hatch spec.md §4.4 names alongside the typed operations. If
// frame carries a receipt header, SendFrame waits up to receiptTimeout for
// the matching RECEIPT.
func (c *Client) SendFrame(frame *Frame) error {
	receipt, hasReceipt := frame.Headers.Get(HeaderReceipt)
	var w waiter
	if hasReceipt {
		w = newWaiter()
	}
	var buildErr error
	if !c.call(func() {
		if hasReceipt {
			c.session.mu.Lock()
			c.session.markReceipt(frame)
			c.session.mu.Unlock()
			c.receipts[receipt] = w
			c.metrics.setReceiptsPending(len(c.receipts))
		}
		buildErr = c.writeFrame(frame)
	}) {
		return newConnectionError("client is not connected", nil)
	}
	if buildErr != nil {
		return buildErr
	}
	if !hasReceipt {
		return nil
	}
	return c.awaitReceipt(w, receipt)
}

func (c *Client) awaitReceipt(w waiter, receipt string) error {
	select {
	case res := <-w:
		return res.err
	case <-time.After(c.config.ReceiptTimeout):
		c.call(func() {
			delete(c.receipts, receipt)
			c.metrics.setReceiptsPending(len(c.receipts))
		})
		return newCancelled("receipt %q", receipt)
	case <-c.disconnected:
		return newCancelled("connection lost while awaiting receipt %q", receipt)
	}
}

// sendBuilt runs build on the event loop (where Session's state checks and
// writeFrame's accounting belong), then — if the resulting frame carries a
// receipt — awaits it off-loop so the event loop is never blocked.
func (c *Client) sendBuilt(build func() (*Frame, error), receipt string) error {
	var w waiter
	if receipt != "" {
		w = newWaiter()
	}
	var frame *Frame
	var err error
	if !c.call(func() {
		frame, err = build()
		if err != nil {
			return
		}
		if receipt != "" {
			c.receipts[receipt] = w
			c.metrics.setReceiptsPending(len(c.receipts))
		}
		err = c.writeFrame(frame)
	}) {
		return newConnectionError("client is not connected", nil)
	}
	if err != nil {
		return err
	}
	if receipt == "" {
		return nil
	}
	return c.awaitReceipt(w, receipt)
}

// Send publishes a message to destination.
func (c *Client) Send(opts SendOptions) error {
	return c.sendBuilt(func() (*Frame, error) { return c.session.Send(opts) }, opts.Receipt)
}

// SubscribeOpts is the client-facing subscribe request: wire options plus
// the handler and failure behavior spec.md §6 attaches to a subscription.
type SubscribeOpts struct {
	SubscribeOptions
	Handler          MessageHandler
	AutoAck          bool
	ErrorDestination string
	OnMessageFailed  FailureHook
}

// Subscribe registers a MESSAGE handler for a destination and emits
// SUBSCRIBE. The returned token identifies the subscription for
// Unsubscribe and for Session.Replay after a reconnect.
func (c *Client) Subscribe(opts SubscribeOpts) (string, error) {
	var token string
	var frame *Frame
	var err error
	var w waiter
	if opts.Receipt != "" {
		w = newWaiter()
	}
	if !c.call(func() {
		frame, token, err = c.session.Subscribe(opts.SubscribeOptions)
		if err != nil {
			return
		}
		c.subscriptions[token] = &clientSubscription{
			autoAck:          opts.AutoAck,
			handler:          opts.Handler,
			errorDestination: opts.ErrorDestination,
			onFailed:         opts.OnMessageFailed,
		}
		c.metrics.setSubscriptionsActive(len(c.subscriptions))
		if opts.Receipt != "" {
			c.receipts[opts.Receipt] = w
			c.metrics.setReceiptsPending(len(c.receipts))
		}
		err = c.writeFrame(frame)
	}) {
		return "", newConnectionError("client is not connected", nil)
	}
	if err != nil {
		return "", err
	}
	if opts.Receipt == "" {
		return token, nil
	}
	return token, c.awaitReceipt(w, opts.Receipt)
}

// Unsubscribe stops delivery for token and emits UNSUBSCRIBE.
func (c *Client) Unsubscribe(token string, receipt string) error {
	err := c.sendBuilt(func() (*Frame, error) {
		frame, err := c.session.Unsubscribe(token, receipt)
		if err != nil {
			return nil, err
		}
		delete(c.subscriptions, token)
		c.metrics.setSubscriptionsActive(len(c.subscriptions))
		return frame, nil
	}, receipt)
	return err
}

// Ack acknowledges message explicitly (subscriptions created without
// AutoAck must call this from their handler, or afterward for
// client/client-individual ack modes).
func (c *Client) Ack(message *Frame, receipt string) error {
	return c.sendBuilt(func() (*Frame, error) { return c.session.Ack(message, receipt) }, receipt)
}

// Nack negatively acknowledges message. Not available under STOMP 1.0.
func (c *Client) Nack(message *Frame, receipt string) error {
	return c.sendBuilt(func() (*Frame, error) { return c.session.Nack(message, receipt) }, receipt)
}

// Begin starts transaction tx.
func (c *Client) Begin(tx string, receipt string) error {
	return c.sendBuilt(func() (*Frame, error) { return c.session.Begin(tx, receipt) }, receipt)
}

// Commit ends tx successfully.
func (c *Client) Commit(tx string, receipt string) error {
	return c.sendBuilt(func() (*Frame, error) { return c.session.Commit(tx, receipt) }, receipt)
}

// Abort rolls tx back.
func (c *Client) Abort(tx string, receipt string) error {
	return c.sendBuilt(func() (*Frame, error) { return c.session.Abort(tx, receipt) }, receipt)
}

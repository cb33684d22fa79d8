package obsws

import (
	"encoding/json"
	"errors"
	"fmt"
)

func (c *Client) readLoop() {
	var cause error
	defer func() { c.shutdown(cause) }()

	for {
		frame, err := c.conn.ReadMessage()
		if err != nil {
			cause = err
			return
		}
		if err := c.dispatch(frame); err != nil {
			cause = err
			return
		}
	}
}

// dispatch routes one frame. A non-nil error ends the session.
func (c *Client) dispatch(frame []byte) error {
	env, err := DecodeEnvelope(frame)
	if err != nil {
		return c.violation(err)
	}

	switch env.Op {
	case OpRequestResponse, OpRequestBatchResponse:
		var ref struct {
			ID string `json:"requestId"`
		}
		if err := json.Unmarshal(env.D, &ref); err != nil || ref.ID == "" {
			return c.violation(violation(env.Op, "response without requestId"))
		}
		c.mu.Lock()
		call, ok := c.pending[ref.ID]
		if ok {
			delete(c.pending, ref.ID)
		}
		c.mu.Unlock()
		if !ok {
			return c.violation(&ProtocolError{
				Op:     env.Op,
				Reason: fmt.Sprintf("requestId %q", ref.ID),
				Err:    ErrUnmatchedResponse,
			})
		}
		call.ch <- env

	case OpEvent:
		var ev Event
		if err := env.Decode(&ev); err != nil {
			return c.violation(err)
		}
		if err := c.events.Publish(ev); err != nil {
			c.log.Warn().Err(err).Str("event_type", ev.Type).Msg("event dropped for some subscribers")
		}

	case OpIdentified:
		c.mu.Lock()
		ch := c.reident
		c.reident = nil
		c.mu.Unlock()
		if ch == nil {
			return c.violation(violation(env.Op, "not reidentifying"))
		}
		var identified Identified
		if err := env.Decode(&identified); err != nil {
			close(ch)
			return c.violation(err)
		}
		ch <- identified

	default:
		return c.violation(violation(env.Op, "unexpected after handshake"))
	}
	return nil
}

// violation reports err and decides whether the session survives it.
func (c *Client) violation(err error) error {
	n := c.violations.Add(1)
	c.log.Warn().Err(err).Int64("violations", n).Msg("protocol violation")
	if c.opts.OnViolation != nil {
		c.inCallback.Store(true)
		c.opts.OnViolation(err)
		c.inCallback.Store(false)
	}
	if c.opts.MaxViolations > 0 && n >= int64(c.opts.MaxViolations) {
		return fmt.Errorf("%w: %d violations, last: %w", ErrProtocolViolation, n, err)
	}
	return nil
}

// shutdown runs once, on the read loop, when the session ends. Done is
// closed before OnDisconnected runs so the hook may call Close.
func (c *Client) shutdown(cause error) {
	err := c.closeReason(cause)

	c.mu.Lock()
	c.err = err
	for id, call := range c.pending {
		close(call.ch)
		delete(c.pending, id)
	}
	if c.reident != nil {
		close(c.reident)
		c.reident = nil
	}
	c.mu.Unlock()

	c.events.CloseWithError(err)
	_ = c.conn.Close()

	if c.closing.Load() {
		c.log.Debug().Msg("session closed")
	} else {
		c.log.Warn().Err(cause).Msg("disconnected")
	}
	close(c.done)
	if c.opts.OnDisconnected != nil {
		c.opts.OnDisconnected(err)
	}
}

func (c *Client) closeReason(cause error) error {
	switch {
	case c.closing.Load():
		return ErrConnectionClosed
	case errors.Is(cause, ErrProtocolViolation):
		return fmt.Errorf("%w: %w", ErrConnectionClosed, cause)
	}
	return fmt.Errorf("%w: %w", ErrConnectionClosed, &TransportError{Op: "read", Err: cause})
}

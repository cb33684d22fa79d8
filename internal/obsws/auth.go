package obsws

import (
	"context"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
)

// AuthState is the position of an Authenticator in the Hello/Identify exchange.
type AuthState int

const (
	AuthAwaitingHello AuthState = iota
	AuthAwaitingIdentified
	AuthAuthenticated
	AuthFailed
)

func (s AuthState) String() string {
	switch s {
	case AuthAwaitingHello:
		return "awaiting-hello"
	case AuthAwaitingIdentified:
		return "awaiting-identified"
	case AuthAuthenticated:
		return "authenticated"
	case AuthFailed:
		return "failed"
	}
	return fmt.Sprintf("AuthState(%d)", int(s))
}

// Authenticator drives the client side of the handshake. It does no I/O:
// frames go in through Feed and replies come back out. Failed is absorbing.
type Authenticator struct {
	password      string
	subscriptions *EventSubscription

	state      AuthState
	err        error
	hello      Hello
	negotiated int
}

// NewAuthenticator creates an Authenticator. subscriptions may be nil to
// leave the server default in place.
func NewAuthenticator(password string, subscriptions *EventSubscription) *Authenticator {
	return &Authenticator{password: password, subscriptions: subscriptions}
}

func (a *Authenticator) State() AuthState { return a.state }

// Err returns the reason the handshake failed, or nil.
func (a *Authenticator) Err() error { return a.err }

// Hello returns the server greeting once it has been accepted.
func (a *Authenticator) Hello() Hello { return a.hello }

// NegotiatedRPCVersion is valid once the state is AuthAuthenticated.
func (a *Authenticator) NegotiatedRPCVersion() int { return a.negotiated }

// Fail moves the authenticator to AuthFailed and returns err. Only the first
// failure is kept.
func (a *Authenticator) Fail(err error) error {
	if a.state != AuthFailed {
		a.state = AuthFailed
		a.err = err
	}
	return a.err
}

// Feed consumes one inbound frame. It returns the frame to send back, if any.
func (a *Authenticator) Feed(frame []byte) ([]byte, error) {
	switch a.state {
	case AuthFailed:
		return nil, a.err
	case AuthAuthenticated:
		return nil, violation(opUnknown, "handshake already complete")
	}

	env, err := DecodeEnvelope(frame)
	if err != nil {
		return nil, a.Fail(err)
	}

	if a.state == AuthAwaitingHello {
		if env.Op != OpHello {
			return nil, a.Fail(violation(env.Op, "expected Hello"))
		}
		var hello Hello
		if err := env.Decode(&hello); err != nil {
			return nil, a.Fail(err)
		}
		identify := Identify{RPCVersion: RPCVersion, EventSubscriptions: a.subscriptions}
		if auth := hello.Authentication; auth != nil {
			if auth.Challenge == "" || auth.Salt == "" {
				return nil, a.Fail(&ProtocolError{
					Op:     OpHello,
					Reason: "authentication requested without challenge or salt",
					Err:    ErrAuthenticationFailed,
				})
			}
			identify.Authentication = AuthString(a.password, auth.Salt, auth.Challenge)
		}
		reply, err := Encode(OpIdentify, identify)
		if err != nil {
			return nil, a.Fail(err)
		}
		a.hello = hello
		a.state = AuthAwaitingIdentified
		return reply, nil
	}

	if env.Op != OpIdentified {
		return nil, a.Fail(violation(env.Op, "expected Identified"))
	}
	var identified Identified
	if err := env.Decode(&identified); err != nil {
		return nil, a.Fail(err)
	}
	a.negotiated = identified.NegotiatedRPCVersion
	a.state = AuthAuthenticated
	return nil, nil
}

// Handshake runs an Authenticator over conn until the server sends
// Identified. Cancelling ctx closes conn.
func Handshake(ctx context.Context, conn Conn, password string, subscriptions *EventSubscription) (*Authenticator, error) {
	a := NewAuthenticator(password, subscriptions)
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	for a.State() != AuthAuthenticated {
		frame, err := conn.ReadMessage()
		if err != nil {
			stop()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, a.Fail(ctxErr)
			}
			return nil, a.Fail(handshakeReadError(err))
		}
		reply, err := a.Feed(frame)
		if err != nil {
			stop()
			return nil, err
		}
		if reply == nil {
			continue
		}
		if err := conn.WriteMessage(reply); err != nil {
			stop()
			return nil, a.Fail(fmt.Errorf("%w: %w", ErrConnectionClosed, &TransportError{Op: "write identify", Err: err}))
		}
	}

	if !stop() {
		// ctx ended and conn is already being closed
		return nil, a.Fail(ctx.Err())
	}
	return a, nil
}

func handshakeReadError(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) && ce.Code == CloseAuthenticationFailed {
		return fmt.Errorf("%w: %w", ErrAuthenticationFailed, &TransportError{Op: "read", Err: err})
	}
	return fmt.Errorf("%w: %w", ErrConnectionClosed, &TransportError{Op: "read", Err: err})
}

// Package obsws implements a client for the OBS Studio websocket protocol,
// version 5 (rpcVersion 1, JSON framing).
//
// The package is split along the life of a session:
//
//   - DigestBase64 and AuthString compute the salted challenge response.
//   - Envelope, Encode and DecodeEnvelope handle the {"op","d"} framing, and
//     the message structs (Hello, Identify, Request, Event, ...) map the
//     payloads. Request and event data stay opaque json.RawMessage.
//   - Authenticator is a pure state machine for the Hello/Identify/Identified
//     exchange; Handshake drives it over a Conn.
//   - Client correlates requests with responses by requestId and fans events
//     out to any number of Subscriptions.
//
// Transport is abstracted behind Conn. Dial returns a gorilla/websocket
// backed Conn with the obswebsocket.json subprotocol, serialised writes,
// write deadlines and optional ping keep-alive.
//
// Failure model:
//   - Every error from a session can be tested with errors.Is against
//     ErrConnectionClosed, ErrProtocolViolation, ErrAuthenticationFailed,
//     ErrRequestRejected, ErrTimeout and ErrDuplicateRequestID.
//   - When the read loop stops, every pending request fails with
//     ErrConnectionClosed and subscribers get ErrConnectionClosed after
//     draining what was already queued.
//   - A response whose requestId is unknown, a malformed frame and any other
//     unexpected message are reported through Options.OnViolation and logged;
//     the session keeps running unless Options.MaxViolations is reached.
//
// Example:
//
//	conn, err := obsws.Dial(ctx, "ws://localhost:4455", obsws.DialOptions{})
//	if err != nil { return err }
//	client, err := obsws.Connect(ctx, conn, obsws.Options{Password: pw})
//	if err != nil { return err }
//	defer client.Close()
//
//	sub := client.Subscribe()
//	defer sub.Close()
//
//	scene, err := client.GetCurrentProgramScene(ctx)
//
//	for {
//	    ev, err := sub.Next(ctx)
//	    if err != nil { break }
//	    fmt.Println(ev.Type, string(ev.Data))
//	}
package obsws

package obsws

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errPipeClosed = errors.New("pipe closed")

// pipeConn is an in-memory Conn. The test plays the server through
// fakeServer, pushing frames into in and reading the client's frames from out.
type pipeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}

	mu      sync.Mutex
	once    sync.Once
	readErr error
	closes  int
}

func newPipeConn() *pipeConn {
	return &pipeConn{
		in:     make(chan []byte, 256),
		out:    make(chan []byte, 256),
		closed: make(chan struct{}),
	}
}

func (p *pipeConn) ReadMessage() ([]byte, error) {
	// queued frames win over closure so tests can script "send then drop"
	select {
	case f := <-p.in:
		return f, nil
	default:
	}
	select {
	case f := <-p.in:
		return f, nil
	case <-p.closed:
		p.mu.Lock()
		defer p.mu.Unlock()
		return nil, p.readErr
	}
}

func (p *pipeConn) WriteMessage(frame []byte) error {
	select {
	case <-p.closed:
		return errPipeClosed
	default:
	}
	select {
	case p.out <- append([]byte(nil), frame...):
		return nil
	case <-p.closed:
		return errPipeClosed
	}
}

func (p *pipeConn) Close() error {
	p.closeWith(errPipeClosed)
	return nil
}

// closeWith drops the connection; pending and future reads fail with err
// once in has been drained.
func (p *pipeConn) closeWith(err error) {
	p.mu.Lock()
	p.closes++
	p.mu.Unlock()
	p.once.Do(func() {
		p.mu.Lock()
		p.readErr = err
		p.mu.Unlock()
		close(p.closed)
	})
}

func (p *pipeConn) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

type fakeServer struct {
	t    *testing.T
	conn *pipeConn
}

func newFakeServer(t *testing.T) *fakeServer {
	return &fakeServer{t: t, conn: newPipeConn()}
}

func (s *fakeServer) send(op OpCode, body any) {
	s.t.Helper()
	frame, err := Encode(op, body)
	require.NoError(s.t, err)
	s.conn.in <- frame
}

func (s *fakeServer) sendRaw(frame string) {
	s.conn.in <- []byte(frame)
}

func (s *fakeServer) recv() Envelope {
	s.t.Helper()
	select {
	case frame := <-s.conn.out:
		env, err := DecodeEnvelope(frame)
		require.NoError(s.t, err)
		return env
	case <-time.After(2 * time.Second):
		s.t.Fatal("client sent nothing")
		return Envelope{}
	}
}

func (s *fakeServer) recvRequest() Request {
	s.t.Helper()
	env := s.recv()
	require.Equal(s.t, OpRequest, env.Op)
	var req Request
	require.NoError(s.t, env.Decode(&req))
	return req
}

func (s *fakeServer) respond(req Request, ok bool, data string) {
	s.t.Helper()
	resp := RequestResponse{
		Type:   req.Type,
		ID:     req.ID,
		Status: RequestStatus{Result: ok, Code: 100},
	}
	if !ok {
		resp.Status.Code = 600
		resp.Status.Comment = "no such thing"
	}
	if data != "" {
		resp.Data = json.RawMessage(data)
	}
	s.send(OpRequestResponse, resp)
}

func (s *fakeServer) event(eventType string, data string) {
	s.t.Helper()
	ev := Event{Type: eventType, Intent: uint32(SubScenes)}
	if data != "" {
		ev.Data = json.RawMessage(data)
	}
	s.send(OpEvent, ev)
}

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyradotpink/influencer/internal/obsws"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"OBS_WS_HOST", "OBS_WS_PORT", "OBSCTL_LOG_LEVEL"} {
		t.Setenv(k, "")
	}
	// OBS_WS_PASSWORD counts when set at all, even empty
	if v, ok := os.LookupEnv("OBS_WS_PASSWORD"); ok {
		require.NoError(t, os.Unsetenv("OBS_WS_PASSWORD"))
		t.Cleanup(func() { _ = os.Setenv("OBS_WS_PASSWORD", v) })
	}
}

func newTestCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	addSessionFlags(cmd.Flags())
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := loadConfig(newTestCmd(t))
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:4455", cfg.URL())
	assert.False(t, cfg.Compact)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout())
}

func TestLoadConfigPrecedence(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "obsctl.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"host":"file-host","port":1111,"password":"file-pw"}`), 0o600))
	t.Setenv("OBS_WS_PORT", "2222")

	cfg, err := loadConfig(newTestCmd(t, "--config", path, "-s", "flag-pw", "-c", "--timeout", "5s", "--retry", "2"))
	require.NoError(t, err)
	assert.Equal(t, "file-host", cfg.Host)
	assert.Equal(t, 2222, cfg.Port)
	assert.Equal(t, "flag-pw", cfg.Password)
	assert.True(t, cfg.Compact)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout())
	assert.Equal(t, 2, cfg.Retries)

	cfg, err = loadConfig(newTestCmd(t, "--config", path, "--port", "3333"))
	require.NoError(t, err)
	assert.Equal(t, 3333, cfg.Port)
	assert.Equal(t, "file-pw", cfg.Password)
}

func TestParseData(t *testing.T) {
	data, err := parseData("")
	require.NoError(t, err)
	assert.Nil(t, data)

	data, err = parseData(`{"sceneName":"Main"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"sceneName":"Main"}`, string(data))

	_, err = parseData(`{sceneName}`)
	assert.Error(t, err)
}

func TestParseBatch(t *testing.T) {
	reqs, err := parseBatch(`[{"requestType":"GetVersion"},{"requestType":"Sleep","requestData":{"sleepMillis":100}}]`)
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, "Sleep", reqs[1].Type)
	assert.JSONEq(t, `{"sleepMillis":100}`, string(reqs[1].Data))

	_, err = parseBatch(`{"requestType":"GetVersion"}`)
	assert.Error(t, err)
	_, err = parseBatch(`[{"requestData":{}}]`)
	assert.Error(t, err)
}

func TestParseMask(t *testing.T) {
	mask, err := parseMask(nil)
	require.NoError(t, err)
	assert.Nil(t, mask)

	mask, err = parseMask([]string{"0x7FF"})
	require.NoError(t, err)
	assert.Equal(t, obsws.SubAll, *mask)

	mask, err = parseMask([]string{"4"})
	require.NoError(t, err)
	assert.Equal(t, obsws.SubScenes, *mask)

	_, err = parseMask([]string{"-1"})
	assert.Error(t, err)
}

func TestWriteJSON(t *testing.T) {
	v := map[string]any{"a": 1, "b": "<x>"}

	var compact bytes.Buffer
	require.NoError(t, writeJSON(&compact, v, true))
	assert.Equal(t, "{\"a\":1,\"b\":\"<x>\"}\n", compact.String())

	var pretty bytes.Buffer
	require.NoError(t, writeJSON(&pretty, v, false))
	assert.Equal(t, "{\n  \"a\": 1,\n  \"b\": \"<x>\"\n}\n", pretty.String())
}

func TestPrintError(t *testing.T) {
	var buf bytes.Buffer
	PrintError(&buf, &obsws.RequestError{Type: "GetInputSettings", Code: 600, Comment: "No source was found"})
	assert.Contains(t, buf.String(), "600")
	assert.Contains(t, buf.String(), "No source was found")

	buf.Reset()
	PrintError(&buf, errors.New("boom"))
	assert.Contains(t, buf.String(), "boom")
}

type listSource struct {
	events []obsws.Event
}

func (l *listSource) Next(ctx context.Context) (obsws.Event, error) {
	if len(l.events) == 0 {
		return obsws.Event{}, obsws.ErrConnectionClosed
	}
	ev := l.events[0]
	l.events = l.events[1:]
	return ev, nil
}

func TestPrintEventsCount(t *testing.T) {
	src := &listSource{events: []obsws.Event{{Type: "A"}, {Type: "B"}, {Type: "C"}}}
	var buf bytes.Buffer
	require.NoError(t, printEvents(context.Background(), &buf, src, true, 2))

	dec := json.NewDecoder(&buf)
	var got []string
	for dec.More() {
		var ev obsws.Event
		require.NoError(t, dec.Decode(&ev))
		got = append(got, ev.Type)
	}
	assert.Equal(t, []string{"A", "B"}, got)
}

func TestPrintEventsSessionEnd(t *testing.T) {
	var buf bytes.Buffer
	err := printEvents(context.Background(), &buf, &listSource{}, true, 0)
	assert.ErrorIs(t, err, obsws.ErrConnectionClosed)
}

// stubOBS accepts any client without authentication, records its Identify,
// emits a Tick event every few milliseconds and answers every request;
// GetSceneList is rejected so both outcomes can be checked.
func stubOBS(t *testing.T) (host, port string, identifies <-chan obsws.Identify) {
	t.Helper()
	idents := make(chan obsws.Identify, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{Subprotocols: []string{obsws.Subprotocol}}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var wmu sync.Mutex
		write := func(op obsws.OpCode, body any) error {
			frame, err := obsws.Encode(op, body)
			if err != nil {
				return err
			}
			wmu.Lock()
			defer wmu.Unlock()
			return conn.WriteMessage(websocket.TextMessage, frame)
		}
		if write(obsws.OpHello, obsws.Hello{ObsWebSocketVersion: "5.5.0", RPCVersion: 1}) != nil {
			return
		}
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if env, err := obsws.DecodeEnvelope(frame); err == nil {
			var ident obsws.Identify
			if env.Decode(&ident) == nil {
				select {
				case idents <- ident:
				default:
				}
			}
		}
		if write(obsws.OpIdentified, obsws.Identified{NegotiatedRPCVersion: 1}) != nil {
			return
		}

		stop := make(chan struct{})
		defer close(stop)
		go func() {
			tick := time.NewTicker(5 * time.Millisecond)
			defer tick.Stop()
			for {
				select {
				case <-tick.C:
					if write(obsws.OpEvent, obsws.Event{Type: "Tick", Intent: uint32(obsws.SubGeneral)}) != nil {
						return
					}
				case <-stop:
					return
				}
			}
		}()
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			env, err := obsws.DecodeEnvelope(frame)
			if err != nil {
				return
			}
			switch env.Op {
			case obsws.OpRequest:
				var req obsws.Request
				_ = env.Decode(&req)
				status := obsws.RequestStatus{Result: true, Code: 100}
				if req.Type == "GetSceneList" {
					status = obsws.RequestStatus{Code: 600, Comment: "nope"}
				}
				_ = write(obsws.OpRequestResponse, obsws.RequestResponse{Type: req.Type, ID: req.ID, Status: status, Data: req.Data})
			case obsws.OpRequestBatch:
				var b obsws.RequestBatch
				_ = env.Decode(&b)
				results := make([]obsws.RequestResponse, len(b.Requests))
				for i, r := range b.Requests {
					results[i] = obsws.RequestResponse{Type: r.Type, Status: obsws.RequestStatus{Result: true, Code: 100}}
				}
				_ = write(obsws.OpRequestBatchResponse, obsws.RequestBatchResponse{ID: b.ID, Results: results})
			}
		}
	}))
	t.Cleanup(srv.Close)

	host, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	return host, port, idents
}

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := Execute(ctx)
	return out.String(), err
}

func TestRequestCommand(t *testing.T) {
	clearEnv(t)
	host, port, _ := stubOBS(t)

	out, err := runRoot(t, "-H", host, "-p", port, "-c", "request", "SetCurrentProgramScene", `{"sceneName":"Main"}`)
	require.NoError(t, err)
	var resp obsws.RequestResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "SetCurrentProgramScene", resp.Type)
	assert.True(t, resp.Status.Result)
	assert.JSONEq(t, `{"sceneName":"Main"}`, string(resp.Data))
}

func TestRequestCommandRejected(t *testing.T) {
	clearEnv(t)
	host, port, _ := stubOBS(t)

	out, err := runRoot(t, "-H", host, "-p", port, "-c", "request", "GetSceneList")
	assert.ErrorIs(t, err, obsws.ErrRequestRejected)
	assert.Contains(t, out, `"code":600`)
}

func TestBatchCommand(t *testing.T) {
	clearEnv(t)
	host, port, _ := stubOBS(t)

	out, err := runRoot(t, "-H", host, "-p", port, "-c", "batch", "--halt-on-failure",
		`[{"requestType":"GetVersion"},{"requestType":"GetStats"}]`)
	require.NoError(t, err)
	var resp obsws.RequestBatchResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "GetStats", resp.Results[1].Type)
}

func TestConnectRefusedWithoutRetry(t *testing.T) {
	clearEnv(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())

	_, err = runRoot(t, "-H", "127.0.0.1", "-p", fmt.Sprint(addr.Port), "--retry", "0", "request", "GetVersion")
	var te *obsws.TransportError
	assert.ErrorAs(t, err, &te)
}

func TestEventsUsesConfiguredSubscriptions(t *testing.T) {
	clearEnv(t)
	host, port, identifies := stubOBS(t)
	path := filepath.Join(t.TempDir(), "obsctl.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"event_subscriptions": 68}`), 0o600))

	out, err := runRoot(t, "-H", host, "-p", port, "-c", "--config", path, "events", "--count", "1")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "\n"))
	assert.Contains(t, out, `"eventType":"Tick"`)

	ident := <-identifies
	require.NotNil(t, ident.EventSubscriptions)
	assert.Equal(t, obsws.SubScenes|obsws.SubOutputs, *ident.EventSubscriptions)
}

func TestEventsBitmaskOverridesConfig(t *testing.T) {
	clearEnv(t)
	host, port, identifies := stubOBS(t)
	path := filepath.Join(t.TempDir(), "obsctl.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"event_subscriptions": 68}`), 0o600))

	_, err := runRoot(t, "-H", host, "-p", port, "-c", "--config", path, "events", "--count", "1", "1")
	require.NoError(t, err)

	ident := <-identifies
	require.NotNil(t, ident.EventSubscriptions)
	assert.Equal(t, obsws.SubGeneral, *ident.EventSubscriptions)
}

func TestSubSecondTimeoutIsKept(t *testing.T) {
	clearEnv(t)
	cfg, err := loadConfig(newTestCmd(t, "--timeout", "400ms"))
	require.NoError(t, err)
	assert.Equal(t, 400*time.Millisecond, cfg.RequestTimeout())

	_, err = loadConfig(newTestCmd(t, "--timeout", "500us"))
	assert.Error(t, err)
}

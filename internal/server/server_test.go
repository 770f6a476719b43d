package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/quadsim/internal/core/events/bus"
	"github.com/zeusync/quadsim/internal/core/flight"
	"github.com/zeusync/quadsim/internal/core/systems/physics"
	"github.com/zeusync/quadsim/internal/core/telemetry"
)

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	hello := readEnvelope(t, conn)
	require.Equal(t, TypeHello, hello.Type)
	return conn
}

type rawEnvelope struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

func readEnvelope(t *testing.T, conn *websocket.Conn) rawEnvelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env rawEnvelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func newTestServer(t *testing.T, config Config) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(config, nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand([]byte(`{"action":"move_to","position":{"x":1,"y":2,"z":3}}`))
	require.NoError(t, err)
	assert.Equal(t, flight.MoveTo{Position: physics.Vec3{X: 1, Y: 2, Z: 3}}, cmd)

	cmd, err = ParseCommand([]byte(`{"action":"takeoff","height":4}`))
	require.NoError(t, err)
	assert.Equal(t, flight.Takeoff{Height: 4}, cmd)

	_, err = ParseCommand([]byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidMessage)

	_, err = ParseCommand([]byte(`{"action":"land","speed":3}`))
	assert.ErrorIs(t, err, ErrInvalidMessage)

	_, err = ParseCommand([]byte(`{"action":"barrel_roll"}`))
	assert.ErrorIs(t, err, flight.ErrInvalidCommand)

	_, err = ParseCommand([]byte(`{"action":"move_to"}`))
	assert.ErrorIs(t, err, flight.ErrInvalidCommand)
}

func TestSnapshotsAreBroadcast(t *testing.T) {
	s, ts := newTestServer(t, DefaultConfig())
	a := dial(t, ts.URL)
	b := dial(t, ts.URL)
	require.Eventually(t, func() bool { return s.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	rec := s.Recorder()
	require.NoError(t, rec.Record(telemetry.Snapshot{Tick: 7, Phase: "HOVER", Position: physics.Vec3{Z: 5}}))
	require.NoError(t, rec.Close())

	for _, conn := range []*websocket.Conn{a, b} {
		env := readEnvelope(t, conn)
		require.Equal(t, TypeSnapshot, env.Type)
		var snap telemetry.Snapshot
		require.NoError(t, json.Unmarshal(env.Data, &snap))
		assert.Equal(t, uint64(7), snap.Tick)
		assert.Equal(t, "HOVER", snap.Phase)
		assert.Equal(t, 5.0, snap.Position.Z)
	}
}

func TestPublishEveryThinsSnapshots(t *testing.T) {
	config := DefaultConfig()
	config.PublishEvery = 3
	s, ts := newTestServer(t, config)
	conn := dial(t, ts.URL)
	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	for tick := uint64(1); tick <= 7; tick++ {
		s.Publish(telemetry.Snapshot{Tick: tick})
	}

	var ticks []uint64
	for range 3 {
		env := readEnvelope(t, conn)
		var snap telemetry.Snapshot
		require.NoError(t, json.Unmarshal(env.Data, &snap))
		ticks = append(ticks, snap.Tick)
	}
	assert.Equal(t, []uint64{1, 4, 7}, ticks)
}

func TestEventsAreForwarded(t *testing.T) {
	s, ts := newTestServer(t, DefaultConfig())
	conn := dial(t, ts.URL)
	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	b := bus.New()
	_, err := b.SubscribeTopic(bus.TopicFlight, bus.Wildcard, s.PublishEvent)
	require.NoError(t, err)
	require.NoError(t, b.PublishToTopic(bus.TopicFlight,
		bus.NewEvent(bus.TypeTouchdown, "sim", map[string]float64{"time": 12.5}, nil)))

	env := readEnvelope(t, conn)
	require.Equal(t, TypeEvent, env.Type)
	var payload struct {
		Type   string             `json:"type"`
		Source string             `json:"source"`
		Data   map[string]float64 `json:"data"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, bus.TypeTouchdown, payload.Type)
	assert.Equal(t, "sim", payload.Source)
	assert.Equal(t, 12.5, payload.Data["time"])

	assert.ErrorIs(t, s.PublishEvent(nil), ErrInvalidMessage)
}

func TestClientCommandsAreQueued(t *testing.T) {
	s, ts := newTestServer(t, DefaultConfig())
	conn := dial(t, ts.URL)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"takeoff","height":3}`)))
	ack := readEnvelope(t, conn)
	assert.Equal(t, TypeAck, ack.Type)
	assert.JSONEq(t, `{"command":"takeoff"}`, string(ack.Data))

	select {
	case cmd := <-s.Commands():
		assert.Equal(t, flight.Takeoff{Height: 3}, cmd)
	case <-time.After(time.Second):
		t.Fatal("command was not queued")
	}

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"flip"}`)))
	nack := readEnvelope(t, conn)
	assert.Equal(t, TypeError, nack.Type)
	assert.Contains(t, nack.Error, "flip")
}

func TestFullCommandQueueIsReported(t *testing.T) {
	config := DefaultConfig()
	config.CommandBuffer = 1
	_, ts := newTestServer(t, config)
	conn := dial(t, ts.URL)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"hover"}`)))
	assert.Equal(t, TypeAck, readEnvelope(t, conn).Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"land"}`)))
	env := readEnvelope(t, conn)
	assert.Equal(t, TypeError, env.Type)
	assert.Equal(t, ErrCommandQueueFull.Error(), env.Error)
}

func TestDisconnectedClientsAreRemoved(t *testing.T) {
	s, ts := newTestServer(t, DefaultConfig())
	conn := dial(t, ts.URL)
	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return s.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t, DefaultConfig())
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, 0.0, body["clients"])
}

func TestStartStop(t *testing.T) {
	s := NewServer(DefaultConfig(), nil)
	ctx := context.Background()

	assert.ErrorIs(t, s.Stop(ctx), ErrServerNotRunning)
	assert.Empty(t, s.Addr())

	require.NoError(t, s.Start(ctx, "127.0.0.1:0"))
	assert.ErrorIs(t, s.Start(ctx, "127.0.0.1:0"), ErrServerAlreadyRunning)
	require.NotEmpty(t, s.Addr())

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+s.Addr()+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Equal(t, TypeHello, readEnvelope(t, conn).Type)
	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(stopCtx))
	assert.Zero(t, s.ClientCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}

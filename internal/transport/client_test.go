package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

// -- Fake controller --

type controller struct {
	t      *testing.T
	srv    *httptest.Server
	wg     sync.WaitGroup
	frames chan []byte

	mu         sync.Mutex
	identities []string
	conns      []*websocket.Conn
}

func newController(t *testing.T) *controller {
	t.Helper()
	c := &controller{t: t, frames: make(chan []byte, 1024)}
	upgrader := websocket.Upgrader{}
	c.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c.wg.Add(1)
		defer c.wg.Done()
		c.mu.Lock()
		c.identities = append(c.identities, r.Header.Get(IdentityHeader))
		c.conns = append(c.conns, conn)
		c.mu.Unlock()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				conn.Close()
				return
			}
			c.frames <- data
		}
	}))
	t.Cleanup(c.close)
	return c
}

func (c *controller) url() string {
	return "ws" + strings.TrimPrefix(c.srv.URL, "http") + "/agent"
}

func (c *controller) connections() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conns)
}

func (c *controller) latest() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conns[len(c.conns)-1]
}

func (c *controller) push(frame string) {
	require.NoError(c.t, c.latest().WriteMessage(websocket.TextMessage, []byte(frame)))
}

func (c *controller) dropLatest() {
	_ = c.latest().Close()
}

func (c *controller) close() {
	c.mu.Lock()
	for _, conn := range c.conns {
		_ = conn.Close()
	}
	c.mu.Unlock()
	c.srv.Close()
	c.wg.Wait()
}

func (c *controller) next(t *testing.T) []byte {
	t.Helper()
	select {
	case f := <-c.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("controller received nothing")
		return nil
	}
}

// -- Helpers --

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ReconnectMinInterval = 10 * time.Millisecond
	cfg.WriteTimeout = time.Second
	return cfg
}

func startClient(t *testing.T, address string) *Client {
	t.Helper()
	client, err := Connect("agent_test", address, zaptest.NewLogger(t), testConfig())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- client.Run(context.Background()) }()
	t.Cleanup(func() {
		require.NoError(t, client.Close())
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("Run did not return after Close")
		}
	})
	return client
}

// -- Tests --

func TestParseAddress(t *testing.T) {
	valid := map[string]string{
		"ws://127.0.0.1:5555/agent": "ws://127.0.0.1:5555/agent",
		"WSS://controller.example":  "wss://controller.example",
		"tcp://10.0.0.2:5555":       "ws://10.0.0.2:5555/agent",
		"tcp://10.0.0.2:5555/":      "ws://10.0.0.2:5555/agent",
		" ws://host:80/custom ":     "ws://host:80/custom",
	}
	for in, want := range valid {
		u, err := ParseAddress(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, u.String(), in)
	}

	for _, bad := range []string{"", "   ", "http://host", "host:5555", "tcp://:5555", "ws://host:99999", "ws://host:0", "ws://%zz"} {
		_, err := ParseAddress(bad)
		var connectErr *ConnectError
		assert.True(t, errors.As(err, &connectErr), "expected ConnectError for %q, got %v", bad, err)
	}
}

func TestConnect_Errors(t *testing.T) {
	logger := zaptest.NewLogger(t)

	_, err := Connect("agent_x", "udp://nowhere", logger, DefaultConfig())
	var connectErr *ConnectError
	require.ErrorAs(t, err, &connectErr)
	assert.Equal(t, "udp://nowhere", connectErr.Address)

	_, err = Connect("", "ws://host/agent", logger, DefaultConfig())
	assert.ErrorAs(t, err, &connectErr)
}

func TestConnect_UnreachableIsNotAnError(t *testing.T) {
	// Nothing listens here; the client must still be created and keep retrying.
	client, err := Connect("agent_x", "ws://127.0.0.1:1/agent", zaptest.NewLogger(t), testConfig())
	require.NoError(t, err)
	assert.False(t, client.Connected())
}

func TestClient_RoundTrip(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	ctrl := newController(t)
	client := startClient(t, ctrl.url())

	require.Eventually(t, client.Connected, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return ctrl.connections() == 1 }, 2*time.Second, 5*time.Millisecond)
	ctrl.mu.Lock()
	assert.Equal(t, "agent_test", ctrl.identities[0])
	ctrl.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, client.Send(ctx, []byte(`{"uuid":"1","type":"operation","message":"start fin"}`)))
	assert.JSONEq(t, `{"uuid":"1","type":"operation","message":"start fin"}`, string(ctrl.next(t)))

	ctrl.push(`{"uuid":"2","type":"operation","message":{"operation":"apps"}}`)
	frame, err := client.Recv(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(frame), `"apps"`)
}

func TestClient_ConcurrentSendsAreSerialized(t *testing.T) {
	ctrl := newController(t)
	client := startClient(t, ctrl.url())
	require.Eventually(t, client.Connected, 2*time.Second, 5*time.Millisecond)

	const senders, perSender = 16, 20
	var wg sync.WaitGroup
	errs := make(chan error, senders*perSender)
	for s := 0; s < senders; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				errs <- client.Send(ctx, []byte(fmt.Sprintf(`{"sender":%d,"seq":%d}`, s, i)))
				cancel()
			}
		}(s)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	seen := make(map[string]bool)
	for i := 0; i < senders*perSender; i++ {
		frame := string(ctrl.next(t))
		require.True(t, strings.HasPrefix(frame, `{"sender":`) && strings.HasSuffix(frame, "}"), "torn frame %q", frame)
		seen[frame] = true
	}
	assert.Len(t, seen, senders*perSender)
}

func TestClient_Reconnects(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	ctrl := newController(t)
	client := startClient(t, ctrl.url())
	require.Eventually(t, func() bool { return ctrl.connections() == 1 }, 2*time.Second, 5*time.Millisecond)

	ctrl.dropLatest()
	require.Eventually(t, func() bool { return ctrl.connections() == 2 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, client.Connected, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.Send(ctx, []byte(`{"after":"reconnect"}`)))
	assert.Equal(t, `{"after":"reconnect"}`, string(ctrl.next(t)))

	ctrl.mu.Lock()
	assert.Equal(t, []string{"agent_test", "agent_test"}, ctrl.identities)
	ctrl.mu.Unlock()
}

func TestClient_CloseInterruptsRecv(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	ctrl := newController(t)
	client, err := Connect("agent_test", ctrl.url(), zaptest.NewLogger(t), testConfig())
	require.NoError(t, err)

	runDone := make(chan error, 1)
	go func() { runDone <- client.Run(context.Background()) }()
	require.Eventually(t, client.Connected, 2*time.Second, 5*time.Millisecond)

	recvDone := make(chan error, 1)
	go func() {
		_, err := client.Recv(context.Background())
		recvDone <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, client.Close())
	require.NoError(t, client.Close(), "Close must be idempotent")

	select {
	case err := <-recvDone:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Recv was not interrupted by Close")
	}
	select {
	case err := <-runDone:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after Close")
	}

	assert.ErrorIs(t, client.Send(context.Background(), []byte("late")), ErrClosed)
}

func TestClient_SendWhileDisconnectedTimesOut(t *testing.T) {
	client := startClient(t, "ws://127.0.0.1:1/agent")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := client.Send(ctx, []byte(`{"type":"hearbeat"}`))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, client.Connected())
}

func TestClient_RunStopsWithContext(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	ctrl := newController(t)
	client, err := Connect("agent_test", ctrl.url(), zaptest.NewLogger(t), testConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()
	require.Eventually(t, client.Connected, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run ignored context cancellation")
	}
	assert.False(t, client.Connected())
}

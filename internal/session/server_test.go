package session

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapvault/internal/ledger"
)

func startServer(t *testing.T, svc Service, opts Options) (*Server, string) {
	t.Helper()
	opts.Logger = slog.New(slog.DiscardHandler)
	if opts.Memory == nil {
		opts.Memory = func() string { return "1 MB / 2 MB" }
	}
	srv := NewServer(newTestHandler(svc), opts)
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return srv, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

// readReply returns the next frame that is not telemetry.
func readReply(t *testing.T, ws *websocket.Conn) string {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := ws.ReadMessage()
		require.NoError(t, err)
		if !strings.HasPrefix(string(data), PrefixMemory) {
			return string(data)
		}
	}
}

func TestServer_PushesMemoryTelemetry(t *testing.T) {
	_, url := startServer(t, &fakeService{}, Options{TelemetryInterval: 10 * time.Millisecond})
	ws := dial(t, url)

	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	for i := 0; i < 3; i++ {
		_, data, err := ws.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, "MEMORY:1 MB / 2 MB", string(data))
	}
}

func TestServer_RepliesToCommands(t *testing.T) {
	svc := &fakeService{entries: []ledger.DirectoryEntry{{Date: "2024-05-01 10:00:00", ID: "1"}}}
	_, url := startServer(t, svc, Options{TelemetryInterval: 5 * time.Millisecond})
	ws := dial(t, url)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("GET LIST")))
	assert.Equal(t, `STRING_LIST:[{"date":"2024-05-01 10:00:00","id":"1"}]`, readReply(t, ws))

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("START_SCAN:2")))
	assert.Equal(t, "SCAN_STARTED", readReply(t, ws))
	assert.Equal(t, "TOAST:Scanning started with interval 2 seconds", readReply(t, ws))

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("bogus")))
	assert.Equal(t, "TOAST:Unknown command", readReply(t, ws))
}

func TestServer_TracksConnectedClients(t *testing.T) {
	srv, url := startServer(t, &fakeService{}, Options{})

	first := dial(t, url)
	second := dial(t, url)
	require.Eventually(t, func() bool {
		return len(srv.ConnectedClients()) == 2
	}, 5*time.Second, 5*time.Millisecond)

	addr := first.LocalAddr().String()
	assert.Contains(t, srv.ConnectedClients(), addr)

	first.Close()
	require.Eventually(t, func() bool {
		return len(srv.ConnectedClients()) == 1
	}, 5*time.Second, 5*time.Millisecond)
	assert.Contains(t, srv.ConnectedClients(), second.LocalAddr().String())
}

func TestServer_KeepsAnsweringPeerAlive(t *testing.T) {
	_, url := startServer(t, &fakeService{}, Options{
		TelemetryInterval: 5 * time.Millisecond,
		PingPeriod:        20 * time.Millisecond,
	})
	ws := dial(t, url)

	// Reading runs the default ping handler, which answers with pongs.
	deadline := time.Now().Add(150 * time.Millisecond)
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	for time.Now().Before(deadline) {
		_, _, err := ws.ReadMessage()
		require.NoError(t, err)
	}

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("STOP_SCAN")))
	assert.Equal(t, "SCAN_STOPPED", readReply(t, ws))
}

func TestServer_CloseDropsSessions(t *testing.T) {
	srv, url := startServer(t, &fakeService{}, Options{})
	ws := dial(t, url)
	require.Eventually(t, func() bool {
		return len(srv.ConnectedClients()) == 1
	}, 5*time.Second, 5*time.Millisecond)

	srv.Close()

	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, _, err := ws.ReadMessage()
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
			break
		}
	}
}

func TestSend_CollectsReplies(t *testing.T) {
	svc := &fakeService{lastErr: ledger.ErrNotFound}
	_, url := startServer(t, svc, Options{TelemetryInterval: 5 * time.Millisecond})
	ctx := context.Background()

	replies, err := Send(ctx, url, "START_SCAN:5", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"SCAN_STARTED", "TOAST:Scanning started with interval 5 seconds"}, replies)

	replies, err = Send(ctx, url, "GET_LAST_SCAN", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"TOAST:No scans available"}, replies)
}

// slowRestore holds every Restore until release is closed.
type slowRestore struct {
	*fakeService
	release chan struct{}
}

func (s *slowRestore) Restore(context.Context, uint64) bool {
	<-s.release
	return true
}

func TestSend_TelemetryDoesNotExtendIdle(t *testing.T) {
	svc := &slowRestore{fakeService: &fakeService{}, release: make(chan struct{})}
	_, url := startServer(t, svc, Options{TelemetryInterval: 5 * time.Millisecond})
	t.Cleanup(func() { close(svc.release) })

	replies, err := Send(context.Background(), url, "OVERWRITE:1", 100*time.Millisecond)
	assert.Error(t, err)
	assert.Empty(t, replies)
}

func TestSend_DialFailure(t *testing.T) {
	_, err := Send(context.Background(), "ws://127.0.0.1:1/scan", "GET LIST", time.Second)
	assert.Error(t, err)
}

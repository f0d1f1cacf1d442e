package wsbridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wagate/internal/protocol"
)

var upgrader = websocket.Upgrader{}

// bridgeStub runs a minimal bridge: it records the open frame, emits a
// scripted event sequence and answers requests.
type bridgeStub struct {
	t         *testing.T
	openFrame chan request
	handle    func(conn *websocket.Conn, req request)
	events    []frame
}

func (b *bridgeStub) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	require.NoError(b.t, err)
	defer conn.Close()

	var open request
	require.NoError(b.t, conn.ReadJSON(&open))
	b.openFrame <- open

	for _, ev := range b.events {
		require.NoError(b.t, conn.WriteJSON(ev))
	}

	for {
		var req request
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if b.handle != nil {
			b.handle(conn, req)
		}
	}
}

func startBridge(t *testing.T, stub *bridgeStub) (*Dialer, string) {
	t.Helper()
	stub.t = t
	stub.openFrame = make(chan request, 1)
	srv := httptest.NewServer(http.HandlerFunc(stub.serve))
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	return &Dialer{URL: url, Opts: Options{CallTimeout: 2 * time.Second}}, url
}

func TestOpenSendsStoredCredentials(t *testing.T) {
	stub := &bridgeStub{}
	dialer, _ := startBridge(t, stub)

	credDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(credDir, credentialFile), []byte(`{"k":1}`), 0o600))

	client, err := dialer.Dial(context.Background(), "alpha", credDir)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Open(context.Background())
	require.NoError(t, err)

	open := <-stub.openFrame
	assert.Equal(t, "open", open.Type)
	assert.Equal(t, "alpha", open.Session)
	assert.JSONEq(t, `{"k":1}`, string(open.Credentials))
}

func TestLifecycleEventsAreTranslated(t *testing.T) {
	stub := &bridgeStub{events: []frame{
		{Type: "event", Event: "qr", Code: "challenge-1"},
		{Type: "event", Event: "connected"},
		{Type: "event", Event: "closed", Reason: "stream-error"},
	}}
	dialer, _ := startBridge(t, stub)

	client, err := dialer.Dial(context.Background(), "alpha", t.TempDir())
	require.NoError(t, err)
	defer client.Close()

	events, err := client.Open(context.Background())
	require.NoError(t, err)

	ev := <-events
	assert.Equal(t, protocol.EventPairingCode, ev.Kind)
	assert.Equal(t, "challenge-1", ev.PairingCode)

	ev = <-events
	assert.Equal(t, protocol.EventConnected, ev.Kind)

	ev = <-events
	assert.Equal(t, protocol.EventClosed, ev.Kind)
	assert.Equal(t, protocol.ReasonConnectionLost, ev.Reason, "unknown close reasons map to connection-lost")
}

func TestCredentialUpdateIsPersisted(t *testing.T) {
	stub := &bridgeStub{events: []frame{
		{Type: "event", Event: "credentials", Credentials: []byte(`{"token":"fresh"}`)},
	}}
	dialer, _ := startBridge(t, stub)

	credDir := t.TempDir()
	client, err := dialer.Dial(context.Background(), "alpha", credDir)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Open(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(credDir, credentialFile))
		return err == nil && string(data) == `{"token":"fresh"}`
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCalls(t *testing.T) {
	stub := &bridgeStub{}
	stub.handle = func(conn *websocket.Conn, req request) {
		switch req.Method {
		case "exists":
			result, _ := json.Marshal(map[string]bool{"exists": req.To == "known@c.us"})
			conn.WriteJSON(frame{Type: "response", ID: req.ID, OK: true, Result: result})
		case "sendText":
			result, _ := json.Marshal(map[string]any{"messageId": "m-1", "timestamp": 1717243200})
			conn.WriteJSON(frame{Type: "response", ID: req.ID, OK: true, Result: result})
		default:
			conn.WriteJSON(frame{Type: "response", ID: req.ID, OK: false, Error: "unsupported"})
		}
	}
	dialer, _ := startBridge(t, stub)

	client, err := dialer.Dial(context.Background(), "alpha", t.TempDir())
	require.NoError(t, err)
	defer client.Close()
	_, err = client.Open(context.Background())
	require.NoError(t, err)

	exists, err := client.QueryExists(context.Background(), "known@c.us")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = client.QueryExists(context.Background(), "unknown@c.us")
	require.NoError(t, err)
	assert.False(t, exists)

	ack, err := client.SendText(context.Background(), "known@c.us", "hi")
	require.NoError(t, err)
	assert.Equal(t, "m-1", ack.MessageID)
	assert.Equal(t, int64(1717243200), ack.Timestamp.Unix())

	err = client.Logout(context.Background())
	assert.ErrorContains(t, err, "unsupported")
}

func TestCloseEndsEventStream(t *testing.T) {
	stub := &bridgeStub{}
	dialer, _ := startBridge(t, stub)

	client, err := dialer.Dial(context.Background(), "alpha", t.TempDir())
	require.NoError(t, err)
	events, err := client.Open(context.Background())
	require.NoError(t, err)

	require.NoError(t, client.Close())
	require.NoError(t, client.Close(), "close is idempotent")

	select {
	case _, ok := <-events:
		assert.False(t, ok, "event stream must end after close")
	case <-time.After(2 * time.Second):
		t.Fatal("event stream did not end")
	}
}

package api_test

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
	"go.uber.org/goleak"

	"github.com/rwastockholm/custody-engine/internal/api"
	"github.com/rwastockholm/custody-engine/internal/dispatch"
	"github.com/rwastockholm/custody-engine/internal/model"
)

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestWSHub_BroadcastsCommittedTransactions(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	hub := api.NewWSHub()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn := dialHub(t, srv)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	hub.Broadcast(dispatch.Result{
		TxID:       "tx-1",
		Action:     "buy_nft",
		Sender:     buyer,
		Attributes: []model.Attribute{model.Attr("token_id", "1")},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg api.WSMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "transaction_committed", msg.Type)
	assert.Equal(t, "tx-1", msg.TxID)
	assert.Equal(t, "buy_nft", msg.Action)

	cancel()
	require.NoError(t, <-stopped)
	assert.Equal(t, 0, hub.Clients())

	// The hub closed the connection on shutdown.
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}

func TestWSHub_ClientDisconnect(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	hub := api.NewWSHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn := dialHub(t, srv)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, 10*time.Millisecond)
}

func TestWSHub_BroadcastNeverBlocks(t *testing.T) {
	hub := api.NewWSHub()

	// No Run loop drains the queue; Broadcast must still return.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.Broadcast(dispatch.Result{TxID: "tx"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked with a full queue")
	}
}

package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/liveone/liveone/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsServer upgrades each connection and hands it to emit.
func wsServer(t *testing.T, emit func(em *ConnEmitter)) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		em := NewConnEmitter(conn)
		defer em.Close()
		emit(em)
	}))
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestWatchFullSession(t *testing.T) {
	end := int64(5000)
	srv := wsServer(t, func(em *ConnEmitter) {
		require.NoError(t, em.Emit(startEvent("home")))
		require.NoError(t, em.Emit(stageEvent("home", types.StageLogin, types.StageInProgress, 2000, nil)))
		loginEnd := int64(2100)
		require.NoError(t, em.Emit(stageEvent("home", types.StageLogin, types.StageCompleted, 2000, &loginEnd)))
		require.NoError(t, em.Emit(types.ProgressEvent{
			Type:         types.EventComplete,
			SessionID:    "sess-1",
			SessionEndMS: &end,
			Summary:      &types.PollSummary{Total: 1, Successful: 1},
			Results:      []types.PollingResult{{SystemID: "home", Action: types.ActionPolled}},
		}))
	})
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	session, err := NewWatcher(0).Watch(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", session.SessionID)
	assert.Equal(t, types.PollSummary{Total: 1, Successful: 1}, session.Summary)
	require.Len(t, session.Results, 1)
}

func TestWatchIdleTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	srv := wsServer(t, func(em *ConnEmitter) {
		require.NoError(t, em.Emit(startEvent("home")))
		// then go silent
		<-block
	})
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	w := NewWatcher(100 * time.Millisecond)
	session, err := w.Watch(context.Background(), conn)
	require.NoError(t, err)

	require.Len(t, session.Results, 1)
	assert.Equal(t, types.ActionError, session.Results[0].Action)
	assert.Equal(t, "TIMEOUT", session.Results[0].ErrorCode)
	require.NotNil(t, session.SessionEndMS)
}

func TestWatchCancellationClosesTransport(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	srv := wsServer(t, func(em *ConnEmitter) {
		require.NoError(t, em.Emit(startEvent("home")))
		<-block
	})
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := NewWatcher(time.Minute).Watch(ctx, conn)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEmitterRejectsInvalidEvents(t *testing.T) {
	received := make(chan struct{})
	srv := wsServer(t, func(em *ConnEmitter) {
		err := em.Emit(types.ProgressEvent{Type: types.EventStart})
		assert.Error(t, err)
		close(received)
	})
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()
	<-received
}

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/liveone/liveone/pkg/types"
	"github.com/liveone/liveone/pkg/vendors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestHandlePollOneShot(t *testing.T) {
	db := newTestDB()
	srv := newTestServer(db, nil, mockSystem("home"), mockSystem("cabin"))
	handler := srv.setupHandler()

	req := httptest.NewRequest("POST", "/api/poll", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var session types.PollAllSession
	require.NoError(t, json.NewDecoder(w.Body).Decode(&session))
	assert.NotEmpty(t, session.SessionID)
	assert.Equal(t, types.PollSummary{Total: 2, Successful: 2}, session.Summary)
	require.Len(t, session.Results, 2)
	require.NotNil(t, session.SessionEndMS)

	db.AssertCalled(t, "InsertPollSession", mock.Anything, mock.Anything)
	db.AssertNumberOfCalls(t, "AppendReading", 2)
}

func TestHandlePollForce(t *testing.T) {
	disabled := mockSystem("off")
	disabled.PollingActive = false

	db := newTestDB()
	srv := newTestServer(db, nil, disabled)
	handler := srv.setupHandler()

	t.Run("Skipped Without Force", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/poll", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var session types.PollAllSession
		require.NoError(t, json.NewDecoder(w.Body).Decode(&session))
		assert.Equal(t, 1, session.Summary.Skipped)
	})

	t.Run("Polled With Force", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/poll?force=true", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var session types.PollAllSession
		require.NoError(t, json.NewDecoder(w.Body).Decode(&session))
		assert.Equal(t, 1, session.Summary.Successful)
	})
}

func TestHandlePollRejectsGet(t *testing.T) {
	srv := newTestServer(newTestDB(), nil)
	req := httptest.NewRequest("GET", "/api/poll", nil)
	w := httptest.NewRecorder()
	srv.setupHandler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandlePollWebsocket(t *testing.T) {
	failing := vendors.NewMock()
	failing.FetchDataFunc = func(ctx context.Context) (types.Telemetry, error) {
		return types.Telemetry{}, &vendors.Error{Code: vendors.CodeHTTP, Status: 503, Message: "bad gateway"}
	}

	db := newTestDB()
	factory := &stubFactory{adapters: map[string]vendors.Adapter{"bad": failing}}
	srv := newTestServer(db, factory, mockSystem("good"), mockSystem("bad"))

	ts := httptest.NewServer(srv.setupHandler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/poll?realTime=true"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var events []types.ProgressEvent
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		e, err := types.DecodeEvent(data)
		require.NoError(t, err)
		events = append(events, e)
		if e.Terminal() {
			break
		}
	}

	require.NotEmpty(t, events)
	start := events[0]
	assert.Equal(t, types.EventStart, start.Type)
	assert.Equal(t, 2, start.TotalSystems)

	last := events[len(events)-1]
	require.Equal(t, types.EventComplete, last.Type)
	assert.Equal(t, types.PollSummary{Total: 2, Successful: 1, Failed: 1}, *last.Summary)

	// every middle frame is a stage update
	for _, e := range events[1 : len(events)-1] {
		assert.Equal(t, types.EventStageUpdate, e.Type)
	}

	db.AssertCalled(t, "InsertPollSession", mock.Anything, mock.Anything)
}

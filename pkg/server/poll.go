package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/liveone/liveone/pkg/log"
	"github.com/liveone/liveone/pkg/poller"
	"github.com/liveone/liveone/pkg/stream"
)

// handlePoll triggers a bulk poll over every registered system.
//
// ?force=true bypasses each system's disabled flag (never the single-flight
// check). ?realTime=true upgrades to a websocket and streams the progress
// event protocol; otherwise the session runs to completion and the final
// PollAllSession is returned as one JSON response. The websocket handshake is
// a GET; the one-shot trigger is a POST.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	force := q.Get("force") == "true"
	realTime := q.Get("realTime") == "true"

	// the session must finish and persist even if the client goes away
	// mid-poll, so it never runs on the request context
	ctx := context.WithoutCancel(r.Context())

	if realTime && websocket.IsWebSocketUpgrade(r) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "websocket upgrade failed", slog.Any("error", err))
			return
		}
		em := stream.NewConnEmitter(conn)
		defer em.Close()

		if _, err := s.coord.PollAll(ctx, force, em); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "streamed bulk poll failed", slog.Any("error", err))
		}
		return
	}

	if r.Method != http.MethodPost {
		writeJSONError(w, "poll trigger must be POST (or a websocket GET with realTime=true)", http.StatusMethodNotAllowed)
		return
	}

	session, err := s.coord.PollAll(ctx, force, poller.Discard)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "bulk poll failed", slog.Any("error", err))
		writeJSONError(w, "bulk poll failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

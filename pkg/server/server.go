package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gorilla/websocket"
	"github.com/levenlabs/go-lflag"
	"github.com/liveone/liveone/pkg/log"
	"github.com/liveone/liveone/pkg/poller"
	"github.com/liveone/liveone/pkg/storage"
)

// tokenVerifier validates a raw bearer ID token and returns the email claim.
type tokenVerifier func(ctx context.Context, rawIDToken string) (string, error)

// Server exposes the polling engine over HTTP: the bulk poll trigger (one
// shot or websocket streamed), the system registry and poll status.
type Server struct {
	orch  *poller.Orchestrator
	coord *poller.Coordinator
	db    storage.Database

	listenAddr string
	serverName string
	httpServer *http.Server
	upgrader   websocket.Upgrader

	adminEmails []string
	verifier    tokenVerifier
	bypassAuth  bool
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(orch *poller.Orchestrator, db storage.Database) *Server {
	srv := &Server{
		orch:       orch,
		coord:      poller.NewCoordinator(orch),
		db:         db,
		serverName: "liveone",
	}
	revision := os.Getenv("K_REVISION")
	if revision != "" {
		srv.serverName = revision
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	adminEmails := lflag.String("admin-emails", "", "comma-delimited list of email addresses allowed to trigger polls")
	oidcAudience := lflag.String("oidc-audience", "", "audience/client ID to validate for bearer id tokens")
	bypassAuth := lflag.Bool("bypass-auth", false, "disable API authentication (local development only)")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		if *adminEmails != "" {
			srv.adminEmails = strings.Split(*adminEmails, ",")
			for i, email := range srv.adminEmails {
				srv.adminEmails[i] = strings.TrimSpace(email)
			}
		}
		if *oidcAudience != "" {
			provider, err := oidc.NewProvider(context.Background(), "https://accounts.google.com")
			if err != nil {
				log.Ctx(context.Background()).Error("failed to initialize Google OIDC provider", slog.Any("error", err))
				os.Exit(1)
			}
			verifier := provider.Verifier(&oidc.Config{ClientID: *oidcAudience})
			srv.verifier = func(ctx context.Context, rawIDToken string) (string, error) {
				token, err := verifier.Verify(ctx, rawIDToken)
				if err != nil {
					return "", err
				}
				var claims struct {
					Email string `json:"email"`
				}
				if err := token.Claims(&claims); err != nil {
					return "", err
				}
				return claims.Email, nil
			}
		}
		srv.bypassAuth = *bypassAuth
		if srv.verifier == nil && len(srv.adminEmails) == 0 && !srv.bypassAuth {
			log.Ctx(context.Background()).Warn("no oidc-audience or admin-emails configured, API requires bypass-auth")
		}
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/systems", s.handleListSystems)
	apiMux.HandleFunc("POST /api/systems", s.handleCreateSystem)
	apiMux.HandleFunc("PUT /api/systems/{id}", s.handleUpdateSystem)
	apiMux.HandleFunc("DELETE /api/systems/{id}", s.handleDeleteSystem)
	apiMux.HandleFunc("GET /api/systems/{id}/status", s.handleSystemStatus)
	apiMux.HandleFunc("GET /api/systems/{id}/readings", s.handleGetReadings)
	apiMux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)

	mux := http.NewServeMux()
	// the poll trigger sits outside gzip, websocket upgrades need the raw
	// connection
	mux.Handle("/api/poll", s.authMiddleware(http.HandlerFunc(s.handlePoll)))
	mux.Handle("/api/", gziphandler.GzipHandler(s.authMiddleware(apiMux)))
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s.serverHeaderMiddleware(mux)
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capture server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, struct {
		Error string `json:"error"`
	}{Error: msg})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) serverHeaderMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}

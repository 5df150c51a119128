package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/liveone/liveone/pkg/log"
	"github.com/liveone/liveone/pkg/poller"
	"github.com/liveone/liveone/pkg/storage"
	"github.com/liveone/liveone/pkg/types"
)

// systemView is the registry record as returned by the API. Credentials are
// write-only and never leave the server.
type systemView struct {
	Key           string            `json:"key"`
	DisplayName   string            `json:"displayName"`
	VendorType    types.VendorType  `json:"vendorType"`
	PollingActive bool              `json:"pollingActive"`
	Info          *types.SystemInfo `json:"info,omitempty"`
}

func (s *Server) viewOf(cfg types.SystemConfig) systemView {
	return systemView{
		Key:           cfg.Key,
		DisplayName:   cfg.DisplayName,
		VendorType:    cfg.Vendor,
		PollingActive: cfg.PollingActive,
		Info:          s.orch.SystemInfo(cfg.Key),
	}
}

func (s *Server) handleListSystems(w http.ResponseWriter, r *http.Request) {
	systems := s.orch.Systems()
	views := make([]systemView, 0, len(systems))
	for _, cfg := range systems {
		views = append(views, s.viewOf(cfg))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleCreateSystem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var cfg types.SystemConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if cfg.Key == "" || cfg.DisplayName == "" || cfg.Vendor == "" {
		writeJSONError(w, "key, displayName and vendorType are required", http.StatusBadRequest)
		return
	}
	if _, ok := s.orch.System(cfg.Key); ok {
		writeJSONError(w, "system already exists", http.StatusConflict)
		return
	}

	if err := s.db.CreateSystem(ctx, cfg); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to create system", slog.String("key", cfg.Key), slog.Any("error", err))
		writeJSONError(w, "failed to create system", http.StatusInternalServerError)
		return
	}
	if err := s.orch.AddSystem(ctx, cfg); err != nil {
		if errors.Is(err, poller.ErrSystemExists) {
			// the registry write won but another request registered the same
			// key with the orchestrator first
			writeJSONError(w, "system already exists", http.StatusConflict)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to register system", slog.String("key", cfg.Key), slog.Any("error", err))
		// the factory rejected the config; roll back the registry write so
		// the key stays usable
		if derr := s.db.DeleteSystem(ctx, cfg.Key); derr != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to roll back system create", slog.String("key", cfg.Key), slog.Any("error", derr))
		}
		writeJSONError(w, "invalid system config", http.StatusBadRequest)
		return
	}

	log.Ctx(ctx).InfoContext(ctx, "system registered", slog.String("key", cfg.Key), slog.String("vendor", string(cfg.Vendor)))
	writeJSON(w, http.StatusCreated, s.viewOf(cfg))
}

func (s *Server) handleUpdateSystem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := r.PathValue("id")

	existing, ok := s.orch.System(key)
	if !ok {
		writeJSONError(w, "system not found", http.StatusNotFound)
		return
	}

	var cfg types.SystemConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	cfg.Key = key
	if cfg.DisplayName == "" {
		cfg.DisplayName = existing.DisplayName
	}
	if cfg.Vendor == "" {
		cfg.Vendor = existing.Vendor
	}
	// credentials are write-only; an update without them keeps the old ones
	if cfg.Credentials == (types.VendorCredentials{}) {
		cfg.Credentials = existing.Credentials
	}

	if err := s.db.UpdateSystem(ctx, cfg); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to update system", slog.String("key", key), slog.Any("error", err))
		writeJSONError(w, "failed to update system", http.StatusInternalServerError)
		return
	}

	// restart the instance so the new config and credentials take effect
	s.orch.RemoveSystem(key)
	if err := s.orch.AddSystem(ctx, cfg); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to re-register system", slog.String("key", key), slog.Any("error", err))
		writeJSONError(w, "failed to re-register system", http.StatusInternalServerError)
		return
	}

	log.Ctx(ctx).InfoContext(ctx, "system updated", slog.String("key", key))
	writeJSON(w, http.StatusOK, s.viewOf(cfg))
}

func (s *Server) handleDeleteSystem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := r.PathValue("id")

	if !s.orch.RemoveSystem(key) {
		writeJSONError(w, "system not found", http.StatusNotFound)
		return
	}
	if err := s.db.DeleteSystem(ctx, key); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to delete system", slog.String("key", key), slog.Any("error", err))
		writeJSONError(w, "failed to delete system", http.StatusInternalServerError)
		return
	}

	log.Ctx(ctx).InfoContext(ctx, "system removed", slog.String("key", key))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := r.PathValue("id")

	if _, ok := s.orch.System(key); !ok {
		writeJSONError(w, "system not found", http.StatusNotFound)
		return
	}
	status, err := s.orch.Status(ctx, key)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to fetch polling status", slog.String("key", key), slog.Any("error", err))
		writeJSONError(w, "failed to fetch polling status", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleGetReadings returns stored readings in [start, end), both RFC3339.
// Defaults to the last 24 hours.
func (s *Server) handleGetReadings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := r.PathValue("id")

	if _, ok := s.orch.System(key); !ok {
		writeJSONError(w, "system not found", http.StatusNotFound)
		return
	}

	end := time.Now()
	start := end.Add(-24 * time.Hour)
	if v := r.URL.Query().Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSONError(w, "invalid start, want RFC3339", http.StatusBadRequest)
			return
		}
		start = t
	}
	if v := r.URL.Query().Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSONError(w, "invalid end, want RFC3339", http.StatusBadRequest)
			return
		}
		end = t
	}
	if !start.Before(end) {
		writeJSONError(w, "start must be before end", http.StatusBadRequest)
		return
	}

	readings, err := s.db.GetReadings(ctx, key, start, end)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to fetch readings", slog.String("key", key), slog.Any("error", err))
		writeJSONError(w, "failed to fetch readings", http.StatusInternalServerError)
		return
	}
	if readings == nil {
		readings = []types.Telemetry{}
	}
	writeJSON(w, http.StatusOK, readings)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	session, err := s.db.GetPollSession(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			writeJSONError(w, "session not found", http.StatusNotFound)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to fetch poll session", slog.String("sessionID", id), slog.Any("error", err))
		writeJSONError(w, "failed to fetch poll session", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

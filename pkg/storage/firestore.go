package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"github.com/liveone/liveone/pkg/log"
	"github.com/liveone/liveone/pkg/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreProvider implements Database using Google Cloud Firestore. Each
// system is a document in the "systems" collection with "readings" and
// "polling" sub-collections; bulk poll sessions live in their own top-level
// collection.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// Project ID may be empty and inferred from the environment.
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) getCollection(systemKey, name string) (*firestore.CollectionRef, error) {
	if systemKey == "" {
		return nil, fmt.Errorf("systemKey cannot be empty")
	}
	return f.client.Collection("systems").Doc(systemKey).Collection(name), nil
}

// AppendReading stores one reading as a JSON blob. The document ID is the
// reading's RFC3339 timestamp, so re-inserting the same reading is a no-op
// overwrite and range queries stay cheap.
func (f *FirestoreProvider) AppendReading(ctx context.Context, systemKey string, reading types.Telemetry) error {
	if reading.Timestamp.IsZero() {
		return fmt.Errorf("reading missing timestamp")
	}
	jsonBytes, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}

	coll, err := f.getCollection(systemKey, "readings")
	if err != nil {
		return err
	}
	docID := reading.Timestamp.UTC().Format(time.RFC3339)
	_, err = coll.Doc(docID).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": reading.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to append reading: %w", err)
	}
	return nil
}

// GetReadings retrieves readings within the specified time range.
// Uses document ID range queries so only the matching window is read.
func (f *FirestoreProvider) GetReadings(ctx context.Context, systemKey string, start, end time.Time) ([]types.Telemetry, error) {
	startDocID := start.UTC().Format(time.RFC3339)
	endDocID := end.UTC().Format(time.RFC3339)

	coll, err := f.getCollection(systemKey, "readings")
	if err != nil {
		return nil, err
	}
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(startDocID)).
		Where(firestore.DocumentID, "<", coll.Doc(endDocID)).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var readings []types.Telemetry
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating readings: %w", err)
		}

		val, err := doc.DataAt("json")
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "reading doc missing json", slog.String("docID", doc.Ref.ID), slog.String("systemKey", systemKey), slog.Any("err", err))
			return nil, fmt.Errorf("reading document %s missing 'json' field: %w", doc.Ref.ID, err)
		}

		jsonStr, ok := val.(string)
		if !ok {
			log.Ctx(ctx).WarnContext(ctx, "reading doc json not string", slog.String("docID", doc.Ref.ID), slog.String("systemKey", systemKey))
			return nil, fmt.Errorf("reading document %s 'json' field is not string", doc.Ref.ID)
		}

		var r types.Telemetry
		if err := json.Unmarshal([]byte(jsonStr), &r); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal reading", slog.String("docID", doc.Ref.ID), slog.String("systemKey", systemKey), slog.Any("err", err))
			return nil, fmt.Errorf("failed to unmarshal reading (id=%s): %w", doc.Ref.ID, err)
		}
		readings = append(readings, r)
	}
	return readings, nil
}

// GetLatestReadingTime retrieves the timestamp of the last stored reading.
func (f *FirestoreProvider) GetLatestReadingTime(ctx context.Context, systemKey string) (time.Time, error) {
	coll, err := f.getCollection(systemKey, "readings")
	if err != nil {
		return time.Time{}, err
	}
	iter := coll.
		OrderBy("timestamp", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get latest reading doc: %w", err)
	}

	ts, err := time.Parse(time.RFC3339, doc.Ref.ID)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid reading doc id %s: %w", doc.Ref.ID, err)
	}
	return ts, nil
}

// UpsertPollingStatus saves the per-system poll bookkeeping record to the
// "polling/status" document.
func (f *FirestoreProvider) UpsertPollingStatus(ctx context.Context, systemKey string, ps types.PollingStatus) error {
	jsonBytes, err := json.Marshal(ps)
	if err != nil {
		return fmt.Errorf("failed to marshal polling status: %w", err)
	}

	coll, err := f.getCollection(systemKey, "polling")
	if err != nil {
		return err
	}
	_, err = coll.Doc("status").Set(ctx, map[string]interface{}{
		"json": string(jsonBytes),
	})
	if err != nil {
		return fmt.Errorf("failed to upsert polling status: %w", err)
	}
	return nil
}

// GetPollingStatus retrieves the per-system poll bookkeeping record. A system
// that was never polled returns a zero status.
func (f *FirestoreProvider) GetPollingStatus(ctx context.Context, systemKey string) (types.PollingStatus, error) {
	coll, err := f.getCollection(systemKey, "polling")
	if err != nil {
		return types.PollingStatus{}, err
	}
	doc, err := coll.Doc("status").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.PollingStatus{SystemID: systemKey}, nil
		}
		return types.PollingStatus{}, fmt.Errorf("failed to fetch polling status doc: %w", err)
	}

	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "polling status doc missing json", slog.String("systemKey", systemKey))
		return types.PollingStatus{}, fmt.Errorf("polling status document missing 'json' field: %w", err)
	}

	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "polling status doc json not string", slog.String("systemKey", systemKey))
		return types.PollingStatus{}, fmt.Errorf("polling status 'json' field is not a string")
	}

	var ps types.PollingStatus
	if err := json.Unmarshal([]byte(jsonStr), &ps); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal polling status", slog.String("systemKey", systemKey), slog.Any("err", err))
		return types.PollingStatus{}, fmt.Errorf("failed to unmarshal polling status json: %w", err)
	}
	return ps, nil
}

// InsertPollSession stores one finished bulk poll session in the
// "poll_sessions" collection keyed by session ID.
func (f *FirestoreProvider) InsertPollSession(ctx context.Context, session types.PollAllSession) error {
	if session.SessionID == "" {
		return fmt.Errorf("session missing sessionId")
	}
	jsonBytes, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal poll session: %w", err)
	}

	_, err = f.client.Collection("poll_sessions").Doc(session.SessionID).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": time.UnixMilli(session.SessionStartMS),
	})
	if err != nil {
		return fmt.Errorf("failed to insert poll session: %w", err)
	}
	return nil
}

// GetPollSession retrieves a stored bulk poll session by ID.
func (f *FirestoreProvider) GetPollSession(ctx context.Context, sessionID string) (types.PollAllSession, error) {
	doc, err := f.client.Collection("poll_sessions").Doc(sessionID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.PollAllSession{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return types.PollAllSession{}, fmt.Errorf("failed to get poll session %s: %w", sessionID, err)
	}

	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "poll session doc missing json", slog.String("sessionID", sessionID), slog.Any("err", err))
		return types.PollAllSession{}, fmt.Errorf("poll session %s missing json: %w", sessionID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "poll session doc json not string", slog.String("sessionID", sessionID))
		return types.PollAllSession{}, fmt.Errorf("poll session %s json not string", sessionID)
	}

	var session types.PollAllSession
	if err := json.Unmarshal([]byte(jsonStr), &session); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal poll session", slog.String("sessionID", sessionID), slog.Any("err", err))
		return types.PollAllSession{}, fmt.Errorf("failed to unmarshal poll session %s: %w", sessionID, err)
	}
	return session, nil
}

// GetSystem retrieves a system from the "systems" collection.
func (f *FirestoreProvider) GetSystem(ctx context.Context, systemKey string) (types.SystemConfig, error) {
	doc, err := f.client.Collection("systems").Doc(systemKey).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.SystemConfig{}, fmt.Errorf("%w: %s", ErrSystemNotFound, systemKey)
		}
		return types.SystemConfig{}, fmt.Errorf("failed to get system %s: %w", systemKey, err)
	}

	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "system doc missing json", slog.String("systemKey", systemKey), slog.Any("err", err))
		return types.SystemConfig{}, fmt.Errorf("system %s missing json: %w", systemKey, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "system doc json not string", slog.String("systemKey", systemKey))
		return types.SystemConfig{}, fmt.Errorf("system %s json not string", systemKey)
	}

	var cfg types.SystemConfig
	if err := json.Unmarshal([]byte(jsonStr), &cfg); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal system", slog.String("systemKey", systemKey), slog.Any("err", err))
		return types.SystemConfig{}, fmt.Errorf("failed to unmarshal system %s: %w", systemKey, err)
	}
	return cfg, nil
}

// ListSystems retrieves all systems from the "systems" collection.
func (f *FirestoreProvider) ListSystems(ctx context.Context) ([]types.SystemConfig, error) {
	iter := f.client.Collection("systems").Documents(ctx)
	defer iter.Stop()

	var systems []types.SystemConfig
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating systems: %w", err)
		}

		val, err := doc.DataAt("json")
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "system doc missing json", slog.String("systemKey", doc.Ref.ID))
			// Skip malformed documents
			continue
		}
		jsonStr, ok := val.(string)
		if !ok {
			log.Ctx(ctx).WarnContext(ctx, "system doc json not string", slog.String("systemKey", doc.Ref.ID))
			continue
		}

		var cfg types.SystemConfig
		if err := json.Unmarshal([]byte(jsonStr), &cfg); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal system", slog.String("systemKey", doc.Ref.ID), slog.Any("err", err))
			// Skip malformed JSON
			continue
		}
		systems = append(systems, cfg)
	}
	return systems, nil
}

// CreateSystem creates a new system document. It fails if the key exists.
func (f *FirestoreProvider) CreateSystem(ctx context.Context, cfg types.SystemConfig) error {
	jsonBytes, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal system %s: %w", cfg.Key, err)
	}
	_, err = f.client.Collection("systems").Doc(cfg.Key).Create(ctx, map[string]interface{}{
		"json": string(jsonBytes),
	})
	if err != nil {
		return fmt.Errorf("failed to create system %s: %w", cfg.Key, err)
	}
	return nil
}

// UpdateSystem updates an existing system document.
func (f *FirestoreProvider) UpdateSystem(ctx context.Context, cfg types.SystemConfig) error {
	jsonBytes, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal system %s: %w", cfg.Key, err)
	}
	_, err = f.client.Collection("systems").Doc(cfg.Key).Set(ctx, map[string]interface{}{
		"json": string(jsonBytes),
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("failed to update system %s: %w", cfg.Key, err)
	}
	return nil
}

// DeleteSystem removes a system document. Sub-collections (readings, polling)
// are left in place so history survives re-registration under the same key.
func (f *FirestoreProvider) DeleteSystem(ctx context.Context, systemKey string) error {
	_, err := f.client.Collection("systems").Doc(systemKey).Delete(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete system %s: %w", systemKey, err)
	}
	return nil
}

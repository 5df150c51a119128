package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/liveone/liveone/pkg/types"
)

var (
	ErrSystemNotFound  = errors.New("system not found")
	ErrSessionNotFound = errors.New("poll session not found")
)

// Database defines the interface for persisting readings, poll bookkeeping
// and the system registry.
type Database interface {
	// Readings
	// AppendReading stores one telemetry reading. Writes are idempotent per
	// (system, timestamp) so a retried poll never duplicates a reading.
	AppendReading(ctx context.Context, systemKey string, reading types.Telemetry) error
	GetReadings(ctx context.Context, systemKey string, start, end time.Time) ([]types.Telemetry, error)
	GetLatestReadingTime(ctx context.Context, systemKey string) (time.Time, error)

	// Poll bookkeeping
	UpsertPollingStatus(ctx context.Context, systemKey string, ps types.PollingStatus) error
	GetPollingStatus(ctx context.Context, systemKey string) (types.PollingStatus, error)
	InsertPollSession(ctx context.Context, session types.PollAllSession) error
	GetPollSession(ctx context.Context, sessionID string) (types.PollAllSession, error)

	// System registry
	GetSystem(ctx context.Context, systemKey string) (types.SystemConfig, error)
	ListSystems(ctx context.Context) ([]types.SystemConfig, error)
	CreateSystem(ctx context.Context, cfg types.SystemConfig) error
	UpdateSystem(ctx context.Context, cfg types.SystemConfig) error
	DeleteSystem(ctx context.Context, systemKey string) error

	// Lifecycle
	Close() error
}

// Configured sets up the storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "firestore", "Storage provider to use (available: firestore)")

	var p struct{ Database }

	fs := configuredFirestore()

	lflag.Do(func() {
		switch *provider {
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}

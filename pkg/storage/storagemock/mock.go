package storagemock

import (
	"context"
	"time"

	"github.com/liveone/liveone/pkg/storage"
	"github.com/liveone/liveone/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) AppendReading(ctx context.Context, systemKey string, reading types.Telemetry) error {
	args := m.Called(ctx, systemKey, reading)
	return args.Error(0)
}

func (m *MockDatabase) GetReadings(ctx context.Context, systemKey string, start, end time.Time) ([]types.Telemetry, error) {
	args := m.Called(ctx, systemKey, start, end)
	if len(args) > 0 {
		return args.Get(0).([]types.Telemetry), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) GetLatestReadingTime(ctx context.Context, systemKey string) (time.Time, error) {
	args := m.Called(ctx, systemKey)
	if len(args) > 0 {
		return args.Get(0).(time.Time), args.Error(1)
	}
	return time.Time{}, nil
}

func (m *MockDatabase) UpsertPollingStatus(ctx context.Context, systemKey string, ps types.PollingStatus) error {
	args := m.Called(ctx, systemKey, ps)
	return args.Error(0)
}

func (m *MockDatabase) GetPollingStatus(ctx context.Context, systemKey string) (types.PollingStatus, error) {
	args := m.Called(ctx, systemKey)
	if len(args) > 0 {
		return args.Get(0).(types.PollingStatus), args.Error(1)
	}
	return types.PollingStatus{}, nil
}

func (m *MockDatabase) InsertPollSession(ctx context.Context, session types.PollAllSession) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockDatabase) GetPollSession(ctx context.Context, sessionID string) (types.PollAllSession, error) {
	args := m.Called(ctx, sessionID)
	if len(args) > 0 {
		return args.Get(0).(types.PollAllSession), args.Error(1)
	}
	return types.PollAllSession{}, nil
}

func (m *MockDatabase) GetSystem(ctx context.Context, systemKey string) (types.SystemConfig, error) {
	args := m.Called(ctx, systemKey)
	if len(args) > 0 {
		return args.Get(0).(types.SystemConfig), args.Error(1)
	}
	return types.SystemConfig{}, nil
}

func (m *MockDatabase) ListSystems(ctx context.Context) ([]types.SystemConfig, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		return args.Get(0).([]types.SystemConfig), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) CreateSystem(ctx context.Context, cfg types.SystemConfig) error {
	args := m.Called(ctx, cfg)
	return args.Error(0)
}

func (m *MockDatabase) UpdateSystem(ctx context.Context, cfg types.SystemConfig) error {
	args := m.Called(ctx, cfg)
	return args.Error(0)
}

func (m *MockDatabase) DeleteSystem(ctx context.Context, systemKey string) error {
	args := m.Called(ctx, systemKey)
	return args.Error(0)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}

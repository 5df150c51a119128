package server

import (
	"context"
	"fmt"

	"github.com/liveone/liveone/pkg/poller"
	"github.com/liveone/liveone/pkg/storage/storagemock"
	"github.com/liveone/liveone/pkg/types"
	"github.com/liveone/liveone/pkg/vendors"
	"github.com/stretchr/testify/mock"
)

// stubFactory returns a scripted adapter per system key, falling back to the
// default mock simulation.
type stubFactory struct {
	adapters map[string]vendors.Adapter
}

func (f *stubFactory) New(cfg types.SystemConfig) (vendors.Adapter, error) {
	if a, ok := f.adapters[cfg.Key]; ok {
		return a, nil
	}
	return vendors.NewMock(), nil
}

// rejectFactory refuses every config, standing in for a factory handed an
// unknown vendor type.
type rejectFactory struct{}

func (rejectFactory) New(cfg types.SystemConfig) (vendors.Adapter, error) {
	return nil, fmt.Errorf("unsupported vendor: %s", cfg.Vendor)
}

func mockSystem(key string) types.SystemConfig {
	return types.SystemConfig{
		Key:         key,
		DisplayName: key,
		Vendor:      types.VendorMock,
		Credentials: types.VendorCredentials{
			Email:    "test@example.com",
			Password: "hunter2",
			SystemID: "1234",
		},
		PollingActive: true,
	}
}

func newTestDB() *storagemock.MockDatabase {
	db := &storagemock.MockDatabase{}
	db.On("AppendReading", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	db.On("GetPollingStatus", mock.Anything, mock.Anything).Return(types.PollingStatus{}, nil)
	db.On("UpsertPollingStatus", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	db.On("InsertPollSession", mock.Anything, mock.Anything).Return(nil)
	return db
}

// newTestServer builds a Server over a schedule-less orchestrator with auth
// bypassed. Systems are registered up front.
func newTestServer(db *storagemock.MockDatabase, factory poller.AdapterFactory, systems ...types.SystemConfig) *Server {
	if factory == nil {
		factory = &stubFactory{}
	}
	orch := poller.New(db, factory, 0)
	for _, cfg := range systems {
		orch.AddSystem(context.Background(), cfg)
	}
	return &Server{
		orch:       orch,
		coord:      poller.NewCoordinator(orch),
		db:         db,
		listenAddr: ":8080",
		bypassAuth: true,
	}
}

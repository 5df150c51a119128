package vendors

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/liveone/liveone/pkg/types"
)

// Mock implements Adapter without any network. By default it simulates a
// plausible day: a solar bell curve peaking at 13:00, a gentle sinusoidal
// house load and monotonically increasing lifetime counters. Tests override
// the function fields to script specific outcomes.
type Mock struct {
	AuthenticateFunc    func(ctx context.Context) bool
	FetchDataFunc       func(ctx context.Context) (types.Telemetry, error)
	FetchSystemInfoFunc func(ctx context.Context) (*types.SystemInfo, error)

	mu            sync.Mutex
	authenticated bool
	startedAt     time.Time

	now func() time.Time
}

// NewMock returns a mock adapter running the default simulation.
func NewMock() *Mock {
	return &Mock{now: time.Now}
}

// Vendor implements Adapter.
func (m *Mock) Vendor() types.VendorType {
	return types.VendorMock
}

// Authenticate implements Adapter.
func (m *Mock) Authenticate(ctx context.Context) bool {
	if m.AuthenticateFunc != nil {
		return m.AuthenticateFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authenticated = true
	if m.startedAt.IsZero() {
		m.startedAt = m.clock()
	}
	return true
}

// ClearSession implements Adapter.
func (m *Mock) ClearSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authenticated = false
}

func (m *Mock) clock() time.Time {
	if m.now == nil {
		return time.Now()
	}
	return m.now()
}

// FetchData implements Adapter.
func (m *Mock) FetchData(ctx context.Context) (types.Telemetry, error) {
	if m.FetchDataFunc != nil {
		return m.FetchDataFunc(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.authenticated {
		m.authenticated = true
		if m.startedAt.IsZero() {
			m.startedAt = m.clock()
		}
	}

	now := m.clock()
	hour := float64(now.Hour()) + float64(now.Minute())/60

	solarKW := 0.0
	if hour >= 6 && hour <= 19 {
		solarKW = 4.0 * math.Sin((hour-6)/13*math.Pi)
	}
	loadKW := 1.5 + 0.5*math.Sin(hour*math.Pi/2)

	net := solarKW - loadKW
	batteryKW := -net // charge on excess, discharge on deficit
	gridKW := 0.0

	// counters grow with time since the mock started so deltas look real
	elapsedHours := now.Sub(m.startedAt).Hours()
	return types.Telemetry{
		Timestamp:  now,
		SolarKW:    solarKW,
		LoadKW:     loadKW,
		BatteryKW:  batteryKW,
		GridKW:     gridKW,
		BatterySOC: 50 + 25*math.Sin(hour*math.Pi/12),
		Totals: types.EnergyTotals{
			SolarKWH:      elapsedHours * 2.0,
			LoadKWH:       elapsedHours * 1.8,
			BatteryInKWH:  elapsedHours * 0.6,
			BatteryOutKWH: elapsedHours * 0.5,
			GridInKWH:     elapsedHours * 0.3,
			GridOutKWH:    elapsedHours * 0.4,
		},
	}, nil
}

// FetchSystemInfo implements Adapter.
func (m *Mock) FetchSystemInfo(ctx context.Context) (*types.SystemInfo, error) {
	if m.FetchSystemInfoFunc != nil {
		return m.FetchSystemInfoFunc(ctx)
	}
	return &types.SystemInfo{
		Model:         "Mock 5000",
		Serial:        "MOCK-0001",
		RatingKW:      5,
		SolarSizeKW:   4,
		BatterySizeKW: 10,
	}, nil
}

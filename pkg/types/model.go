package types

import (
	"time"
)

// VendorType identifies a vendor adapter family.
type VendorType string

const (
	// VendorSelectronic is the select.live-style inverter/battery portal.
	VendorSelectronic VendorType = "selectronic"
	// VendorEnphase is the Enphase Enlighten-style inverter API.
	VendorEnphase VendorType = "enphase"
	// VendorAmber is the electricity-pricing API.
	VendorAmber VendorType = "amber"
	// VendorMock is the in-memory adapter used in tests and local runs.
	VendorMock VendorType = "mock"
)

// VendorCredentials identify one monitored system with one vendor. They are
// immutable for the lifetime of an adapter instance.
type VendorCredentials struct {
	Email    string `json:"email"`
	Password string `json:"password,omitempty"`
	// APIToken is used instead of email/password by token-based vendors.
	APIToken string `json:"apiToken,omitempty"`
	// SystemID is the vendor-side identifier of the system.
	SystemID string `json:"systemId"`
}

// SystemConfig is the registry record for one monitored system.
type SystemConfig struct {
	// Key uniquely identifies the system within LiveOne. There is at most one
	// poll instance per key at any time.
	Key           string            `json:"key"`
	DisplayName   string            `json:"displayName"`
	Vendor        VendorType        `json:"vendorType"`
	Credentials   VendorCredentials `json:"credentials"`
	PollingActive bool              `json:"pollingActive"`
}

// SystemInfo is best-effort metadata scraped from the vendor at registration.
type SystemInfo struct {
	Model         string  `json:"model,omitempty"`
	Serial        string  `json:"serial,omitempty"`
	RatingKW      float64 `json:"ratingKW,omitempty"`
	SolarSizeKW   float64 `json:"solarSizeKW,omitempty"`
	BatterySizeKW float64 `json:"batterySizeKWH,omitempty"`
}

// EnergyTotals are the vendor's lifetime cumulative energy counters. Deltas
// between consecutive polls produce interval energy observations.
type EnergyTotals struct {
	SolarKWH      float64 `json:"solarKWH"`
	LoadKWH       float64 `json:"loadKWH"`
	BatteryInKWH  float64 `json:"batteryInKWH"`
	BatteryOutKWH float64 `json:"batteryOutKWH"`
	GridInKWH     float64 `json:"gridInKWH"`
	GridOutKWH    float64 `json:"gridOutKWH"`
}

// IsZero reports whether no counter has ever been recorded.
func (e EnergyTotals) IsZero() bool {
	return e == EnergyTotals{}
}

// Sub returns the per-counter difference e - prev, clamping each counter at
// zero. Vendors occasionally reset or re-baseline their lifetime counters and
// a negative energy delta is never meaningful.
func (e EnergyTotals) Sub(prev EnergyTotals) EnergyTotals {
	clamp := func(v float64) float64 {
		if v < 0 {
			return 0
		}
		return v
	}
	return EnergyTotals{
		SolarKWH:      clamp(e.SolarKWH - prev.SolarKWH),
		LoadKWH:       clamp(e.LoadKWH - prev.LoadKWH),
		BatteryInKWH:  clamp(e.BatteryInKWH - prev.BatteryInKWH),
		BatteryOutKWH: clamp(e.BatteryOutKWH - prev.BatteryOutKWH),
		GridInKWH:     clamp(e.GridInKWH - prev.GridInKWH),
		GridOutKWH:    clamp(e.GridOutKWH - prev.GridOutKWH),
	}
}

// Telemetry is one instantaneous reading from a vendor.
type Telemetry struct {
	Timestamp time.Time `json:"timestamp"`

	SolarKW    float64 `json:"solarKW"`
	LoadKW     float64 `json:"loadKW"`
	BatteryKW  float64 `json:"batteryKW"`
	GridKW     float64 `json:"gridKW"`
	BatterySOC float64 `json:"batterySOC,omitempty"`

	// Totals carry the vendor's lifetime counters when the vendor reports them.
	Totals EnergyTotals `json:"totals"`

	// DollarsPerKWH is set by the pricing vendor only.
	DollarsPerKWH *float64 `json:"dollarsPerKWH,omitempty"`
}

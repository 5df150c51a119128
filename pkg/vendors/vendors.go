package vendors

import (
	"fmt"
	"net/url"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/liveone/liveone/pkg/types"
)

// Factory builds adapters for registered systems. Base URLs are flags so
// tests and local runs can point adapters at fake vendor servers.
type Factory struct {
	selectronicURL string
	enphaseURL     string
	amberURL       string
	timeout        time.Duration
}

// Configured sets up flags for the vendor factory and returns the instance.
func Configured() *Factory {
	f := &Factory{}
	selURL := lflag.String("selectronic-url", "https://select.live", "base URL for the selectronic portal")
	enpURL := lflag.String("enphase-url", "https://enlighten.enphaseenergy.com/api", "base URL for the enphase API")
	ambURL := lflag.String("amber-url", "https://api.amber.com.au/v1", "base URL for the amber API")
	timeout := lflag.Duration("vendor-timeout", 30*time.Second, "per-request timeout for vendor HTTP calls")

	lflag.Do(func() {
		f.selectronicURL = *selURL
		f.enphaseURL = *enpURL
		f.amberURL = *ambURL
		f.timeout = *timeout
	})

	return f
}

// Validate ensures the configuration is valid.
func (f *Factory) Validate() error {
	for name, u := range map[string]string{
		"selectronic-url": f.selectronicURL,
		"enphase-url":     f.enphaseURL,
		"amber-url":       f.amberURL,
	} {
		if u == "" {
			return fmt.Errorf("%s is required", name)
		}
		if _, err := url.Parse(u); err != nil {
			return fmt.Errorf("failed to parse %s (%s): %w", name, u, err)
		}
	}
	if f.timeout <= 0 {
		return fmt.Errorf("vendor-timeout must be positive")
	}
	return nil
}

// New returns an adapter for the system's vendor.
func (f *Factory) New(cfg types.SystemConfig) (Adapter, error) {
	switch cfg.Vendor {
	case types.VendorSelectronic:
		return newSelectronic(f.selectronicURL, cfg.Credentials, f.timeout), nil
	case types.VendorEnphase:
		return newEnphase(f.enphaseURL, cfg.Credentials, f.timeout), nil
	case types.VendorAmber:
		return newAmber(f.amberURL, cfg.Credentials, f.timeout), nil
	case types.VendorMock:
		return NewMock(), nil
	}
	return nil, fmt.Errorf("unknown vendor type: %q", cfg.Vendor)
}

package vendors

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/liveone/liveone/pkg/common"
	"github.com/liveone/liveone/pkg/log"
	"github.com/liveone/liveone/pkg/types"
)

// Amber implements Adapter for the Amber electricity-pricing API. There is no
// login exchange; the static API token is sent on every request, so
// Authenticate just probes that the token is accepted. Current-price results
// are cached for the remainder of the 5 minute block they were fetched in.
type Amber struct {
	client  *http.Client
	baseURL string
	creds   types.VendorCredentials

	mu            sync.Mutex
	tokenValid    bool
	lastFetchTime time.Time
	cachedPrice   float64

	now func() time.Time
}

func newAmber(baseURL string, creds types.VendorCredentials, timeout time.Duration) *Amber {
	return &Amber{
		client:  common.HTTPClient(timeout),
		baseURL: baseURL,
		creds:   creds,
		now:     time.Now,
	}
}

// Vendor implements Adapter.
func (a *Amber) Vendor() types.VendorType {
	return types.VendorAmber
}

// Authenticate implements Adapter. It verifies the token against the sites
// endpoint since Amber has no session to establish.
func (a *Amber) Authenticate(ctx context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.authenticate(ctx)
}

// authenticate must be called with a.mu held.
func (a *Amber) authenticate(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, "GET", a.baseURL+"/sites", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+a.creds.APIToken)

	resp, err := a.client.Do(req)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "amber token check failed", slog.Any("error", err))
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Ctx(ctx).WarnContext(ctx, "amber token rejected", slog.Int("status", resp.StatusCode))
		return false
	}

	a.tokenValid = true
	log.Ctx(ctx).DebugContext(ctx, "amber token verified")
	return true
}

// ClearSession implements Adapter. The token itself is static so this only
// forces the next call to re-verify it.
func (a *Amber) ClearSession() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokenValid = false
}

// amberPriceEntry mirrors one interval of the Amber current-prices payload.
type amberPriceEntry struct {
	Type        string  `json:"type"`
	PerKWH      float64 `json:"perKwh"` // cents
	StartTime   string  `json:"startTime"`
	EndTime     string  `json:"endTime"`
	ChannelType string  `json:"channelType"`
}

// FetchData implements Adapter. The reading carries only a price; power and
// energy fields stay zero.
func (a *Amber) FetchData(ctx context.Context) (types.Telemetry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.tokenValid {
		if !a.authenticate(ctx) {
			return types.Telemetry{}, Errorf(CodeAuthFailed, "amber token verification failed")
		}
	}

	now := a.now()

	// prices only change on 5 minute boundaries
	if !a.lastFetchTime.IsZero() && !now.Truncate(5*time.Minute).After(a.lastFetchTime) {
		price := a.cachedPrice
		return types.Telemetry{Timestamp: now, DollarsPerKWH: &price}, nil
	}

	u := fmt.Sprintf("%s/sites/%s/prices/current", a.baseURL, a.creds.SystemID)
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return types.Telemetry{}, Errorf(CodeHTTP, "failed to build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.creds.APIToken)

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return types.Telemetry{}, Errorf(CodeTimeout, "amber request timed out: %v", err)
		}
		return types.Telemetry{}, Errorf(CodeHTTP, "amber request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			a.tokenValid = false
			return types.Telemetry{}, StatusError(CodeAuthFailed, resp.StatusCode, "amber token rejected")
		}
		return types.Telemetry{}, StatusError(CodeHTTP, resp.StatusCode, "amber returned status %d", resp.StatusCode)
	}

	var entries []amberPriceEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return types.Telemetry{}, Errorf(CodeParse, "failed to decode amber prices: %v", err)
	}

	var price float64
	var found bool
	for _, entry := range entries {
		// the general channel is the import price
		if entry.ChannelType == "general" {
			price = entry.PerKWH / 100
			found = true
			break
		}
	}
	if !found {
		return types.Telemetry{}, Errorf(CodeParse, "amber returned no general channel price in %d entries", len(entries))
	}

	a.cachedPrice = price
	a.lastFetchTime = now

	log.Ctx(ctx).DebugContext(ctx, "amber price fetched", slog.Float64("dollarsPerKWH", price))
	return types.Telemetry{Timestamp: now, DollarsPerKWH: &price}, nil
}

// FetchSystemInfo implements Adapter. A pricing site has no hardware metadata.
func (a *Amber) FetchSystemInfo(ctx context.Context) (*types.SystemInfo, error) {
	return nil, nil
}

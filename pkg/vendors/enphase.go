package vendors

import (
	"bytes"
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

// Enphase implements Adapter for the Enlighten-style API. Sessions are
// token-based: login exchanges credentials for a bearer token which is sent
// on every data request.
type Enphase struct {
	client  *http.Client
	baseURL string
	creds   types.VendorCredentials

	mu              sync.Mutex
	token           string
	authenticatedAt time.Time

	now func() time.Time
}

func newEnphase(baseURL string, creds types.VendorCredentials, timeout time.Duration) *Enphase {
	return &Enphase{
		client:  common.HTTPClient(timeout),
		baseURL: baseURL,
		creds:   creds,
		now:     time.Now,
	}
}

// Vendor implements Adapter.
func (e *Enphase) Vendor() types.VendorType {
	return types.VendorEnphase
}

type enphaseLoginResponse struct {
	Token   string `json:"token"`
	Message string `json:"message"`
}

// Authenticate implements Adapter.
func (e *Enphase) Authenticate(ctx context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.authenticate(ctx)
}

// authenticate must be called with e.mu held.
func (e *Enphase) authenticate(ctx context.Context) bool {
	body, err := json.Marshal(map[string]string{
		"email":    e.creds.Email,
		"password": e.creds.Password,
	})
	if err != nil {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, "POST", e.baseURL+"/login", bytes.NewReader(body))
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to build enphase login request", slog.Any("error", err))
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "enphase login request failed", slog.Any("error", err))
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Ctx(ctx).WarnContext(ctx, "enphase login rejected",
			slog.Int("status", resp.StatusCode),
			slog.String("email", e.creds.Email),
		)
		return false
	}

	var lr enphaseLoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode enphase login response", slog.Any("error", err))
		return false
	}
	if lr.Token == "" {
		log.Ctx(ctx).WarnContext(ctx, "enphase login returned no token", slog.String("message", lr.Message))
		return false
	}

	e.token = lr.Token
	e.authenticatedAt = e.now()
	log.Ctx(ctx).DebugContext(ctx, "enphase login success", slog.String("email", e.creds.Email))
	return true
}

// ClearSession implements Adapter.
func (e *Enphase) ClearSession() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.token = ""
}

// enphaseData mirrors the Enlighten live status payload.
type enphaseData struct {
	ProductionW  float64 `json:"production_w"`
	ConsumptionW float64 `json:"consumption_w"`
	StorageW     float64 `json:"storage_w"`
	GridW        float64 `json:"grid_w"`
	StorageSOC   float64 `json:"storage_soc"`

	ProductionWHLifetime  float64 `json:"production_wh_lifetime"`
	ConsumptionWHLifetime float64 `json:"consumption_wh_lifetime"`
	ChargeWHLifetime      float64 `json:"charge_wh_lifetime"`
	DischargeWHLifetime   float64 `json:"discharge_wh_lifetime"`
	ImportWHLifetime      float64 `json:"import_wh_lifetime"`
	ExportWHLifetime      float64 `json:"export_wh_lifetime"`

	LastReportSecs int64 `json:"last_report_at"`
}

// FetchData implements Adapter.
func (e *Enphase) FetchData(ctx context.Context) (types.Telemetry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.token == "" {
		if !e.authenticate(ctx) {
			return types.Telemetry{}, Errorf(CodeAuthFailed, "enphase login failed for %s", e.creds.Email)
		}
	}

	u := fmt.Sprintf("%s/systems/%s/live_status", e.baseURL, e.creds.SystemID)
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return types.Telemetry{}, Errorf(CodeHTTP, "failed to build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.token)

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return types.Telemetry{}, Errorf(CodeTimeout, "enphase request timed out: %v", err)
		}
		return types.Telemetry{}, Errorf(CodeHTTP, "enphase request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusUnauthorized {
			e.token = ""
			log.Ctx(ctx).DebugContext(ctx, "enphase token expired")
			return types.Telemetry{}, StatusError(CodeAuthFailed, resp.StatusCode, "enphase token rejected")
		}
		return types.Telemetry{}, StatusError(CodeHTTP, resp.StatusCode, "enphase returned status %d", resp.StatusCode)
	}

	var data enphaseData
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return types.Telemetry{}, Errorf(CodeParse, "failed to decode enphase data: %v", err)
	}

	ts := time.Unix(data.LastReportSecs, 0)
	if data.LastReportSecs == 0 {
		ts = e.now()
	}

	return types.Telemetry{
		Timestamp:  ts,
		SolarKW:    data.ProductionW / 1000,
		LoadKW:     data.ConsumptionW / 1000,
		BatteryKW:  data.StorageW / 1000,
		GridKW:     data.GridW / 1000,
		BatterySOC: data.StorageSOC,
		Totals: types.EnergyTotals{
			SolarKWH:      data.ProductionWHLifetime / 1000,
			LoadKWH:       data.ConsumptionWHLifetime / 1000,
			BatteryInKWH:  data.ChargeWHLifetime / 1000,
			BatteryOutKWH: data.DischargeWHLifetime / 1000,
			GridInKWH:     data.ImportWHLifetime / 1000,
			GridOutKWH:    data.ExportWHLifetime / 1000,
		},
	}, nil
}

type enphaseSystemInfo struct {
	Model       string  `json:"model"`
	Serial      string  `json:"serial_number"`
	SizeW       float64 `json:"size_w"`
	StorageKWH  float64 `json:"storage_kwh"`
	SolarArrayW float64 `json:"solar_array_w"`
}

// FetchSystemInfo implements Adapter.
func (e *Enphase) FetchSystemInfo(ctx context.Context) (*types.SystemInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.token == "" {
		if !e.authenticate(ctx) {
			return nil, nil
		}
	}

	u := fmt.Sprintf("%s/systems/%s", e.baseURL, e.creds.SystemID)
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, nil
	}
	req.Header.Set("Authorization", "Bearer "+e.token)

	resp, err := e.client.Do(req)
	if err != nil {
		log.Ctx(ctx).DebugContext(ctx, "enphase system info fetch failed", slog.Any("error", err))
		return nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Ctx(ctx).DebugContext(ctx, "enphase system info status", slog.Int("status", resp.StatusCode))
		return nil, nil
	}

	var info enphaseSystemInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, nil
	}

	return &types.SystemInfo{
		Model:         info.Model,
		Serial:        info.Serial,
		RatingKW:      info.SizeW / 1000,
		SolarSizeKW:   info.SolarArrayW / 1000,
		BatterySizeKW: info.StorageKWH,
	}, nil
}

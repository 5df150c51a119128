package vendors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/liveone/liveone/pkg/common"
	"github.com/liveone/liveone/pkg/log"
	"github.com/liveone/liveone/pkg/types"
)

const (
	selectronicLoginPath = "/login"

	// The portal answers a bad login with a 200 page containing this phrase.
	selectronicFailurePhrase = "Incorrect email address or password"

	// magicWindowStart/End bound the per-hour window (minutes, inclusive)
	// where the vendor is known to return 5xx. Errors inside the window are
	// tagged transient so they don't page anyone.
	magicWindowStart = 48
	magicWindowEnd   = 52
)

// Selectronic implements Adapter for the select.live-style inverter portal.
// Sessions are cookie-based: a successful login sets a session cookie in the
// client's jar and subsequent data requests ride on it.
type Selectronic struct {
	client  *http.Client
	baseURL string
	creds   types.VendorCredentials

	mu              sync.Mutex
	sessionValid    bool
	authenticatedAt time.Time

	now func() time.Time
}

func newSelectronic(baseURL string, creds types.VendorCredentials, timeout time.Duration) *Selectronic {
	client := common.CookieClient(timeout)
	// login success is signalled by a redirect to the dashboard, so the
	// client must surface redirects instead of following them
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &Selectronic{
		client:  client,
		baseURL: baseURL,
		creds:   creds,
		now:     time.Now,
	}
}

// Vendor implements Adapter.
func (s *Selectronic) Vendor() types.VendorType {
	return types.VendorSelectronic
}

// Authenticate logs into the portal. Success is a redirect to a
// dashboard-like location, or a 200 without the known failure phrase when a
// session cookie was issued. A 200 containing the failure phrase is a
// failure. Authenticate never returns an error; it reports success.
func (s *Selectronic) Authenticate(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticate(ctx)
}

// authenticate must be called with s.mu held.
func (s *Selectronic) authenticate(ctx context.Context) bool {
	data := url.Values{}
	data.Set("email", s.creds.Email)
	data.Set("pwd", s.creds.Password)

	req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+selectronicLoginPath, strings.NewReader(data.Encode()))
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to build selectronic login request", slog.Any("error", err))
		return false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "selectronic login request failed", slog.Any("error", err))
		return false
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		// a redirect to a dashboard-like location means success
		loc := resp.Header.Get("Location")
		if !strings.Contains(loc, "dashboard") {
			log.Ctx(ctx).WarnContext(ctx, "selectronic login redirected away from dashboard", slog.String("location", loc))
			return false
		}
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to read selectronic login response", slog.Any("error", err))
			return false
		}
		if strings.Contains(string(body), selectronicFailurePhrase) {
			log.Ctx(ctx).WarnContext(ctx, "selectronic login rejected", slog.String("email", s.creds.Email))
			return false
		}
		// a 200 without the failure phrase only counts if a session cookie
		// was actually issued
		if !s.hasSessionCookie() {
			log.Ctx(ctx).WarnContext(ctx, "selectronic login returned 200 but no session cookie")
			return false
		}
	default:
		log.Ctx(ctx).WarnContext(ctx, "selectronic login unexpected status", slog.Int("status", resp.StatusCode))
		return false
	}

	s.sessionValid = true
	s.authenticatedAt = s.now()
	log.Ctx(ctx).DebugContext(ctx, "selectronic login success", slog.String("email", s.creds.Email))
	return true
}

func (s *Selectronic) hasSessionCookie() bool {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return false
	}
	return len(s.client.Jar.Cookies(u)) > 0
}

// ClearSession implements Adapter.
func (s *Selectronic) ClearSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionValid = false
}

// selectronicData mirrors the portal's live data payload.
type selectronicData struct {
	Items struct {
		SolarW     float64 `json:"solarinverter_w"`
		LoadW      float64 `json:"load_w"`
		BatteryW   float64 `json:"battery_w"`
		GridW      float64 `json:"grid_w"`
		BatterySOC float64 `json:"battery_soc"`

		SolarKWHTotal      float64 `json:"solar_kwh_total"`
		LoadKWHTotal       float64 `json:"load_kwh_total"`
		BatteryInKWHTotal  float64 `json:"battery_in_kwh_total"`
		BatteryOutKWHTotal float64 `json:"battery_out_kwh_total"`
		GridInKWHTotal     float64 `json:"grid_in_kwh_total"`
		GridOutKWHTotal    float64 `json:"grid_out_kwh_total"`
	} `json:"items"`
	TimestampSecs int64 `json:"timestamp"`
}

// FetchData implements Adapter. If no session exists it authenticates first.
func (s *Selectronic) FetchData(ctx context.Context) (types.Telemetry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.sessionValid {
		if !s.authenticate(ctx) {
			return types.Telemetry{}, Errorf(CodeAuthFailed, "selectronic login failed for %s", s.creds.Email)
		}
	}

	u := fmt.Sprintf("%s/systems/%s/items.json", s.baseURL, s.creds.SystemID)
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return types.Telemetry{}, Errorf(CodeHTTP, "failed to build request: %v", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return types.Telemetry{}, Errorf(CodeTimeout, "selectronic request timed out: %v", err)
		}
		return types.Telemetry{}, Errorf(CodeHTTP, "selectronic request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusUnauthorized {
			// the session expired; the caller decides whether to retry
			s.sessionValid = false
			log.Ctx(ctx).DebugContext(ctx, "selectronic session expired")
			return types.Telemetry{}, StatusError(CodeAuthFailed, resp.StatusCode, "selectronic session rejected")
		}
		if resp.StatusCode >= 500 && s.inMagicWindow() {
			log.Ctx(ctx).InfoContext(ctx, "selectronic 5xx inside magic window",
				slog.Int("status", resp.StatusCode),
				slog.Int("minute", s.now().Minute()),
			)
			return types.Telemetry{}, StatusError(CodeTransient, resp.StatusCode, "selectronic unavailable during magic window")
		}
		return types.Telemetry{}, StatusError(CodeHTTP, resp.StatusCode, "selectronic returned status %d", resp.StatusCode)
	}

	var data selectronicData
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return types.Telemetry{}, Errorf(CodeParse, "failed to decode selectronic data: %v", err)
	}

	ts := time.Unix(data.TimestampSecs, 0)
	if data.TimestampSecs == 0 {
		ts = s.now()
	}

	log.Ctx(ctx).DebugContext(ctx, "selectronic data fetched",
		slog.Float64("solarKW", data.Items.SolarW/1000),
		slog.Float64("loadKW", data.Items.LoadW/1000),
		slog.Float64("soc", data.Items.BatterySOC),
	)

	return types.Telemetry{
		Timestamp:  ts,
		SolarKW:    data.Items.SolarW / 1000,
		LoadKW:     data.Items.LoadW / 1000,
		BatteryKW:  data.Items.BatteryW / 1000,
		GridKW:     data.Items.GridW / 1000,
		BatterySOC: data.Items.BatterySOC,
		Totals: types.EnergyTotals{
			SolarKWH:      data.Items.SolarKWHTotal,
			LoadKWH:       data.Items.LoadKWHTotal,
			BatteryInKWH:  data.Items.BatteryInKWHTotal,
			BatteryOutKWH: data.Items.BatteryOutKWHTotal,
			GridInKWH:     data.Items.GridInKWHTotal,
			GridOutKWH:    data.Items.GridOutKWHTotal,
		},
	}, nil
}

// inMagicWindow must be called with s.mu held.
func (s *Selectronic) inMagicWindow() bool {
	min := s.now().Minute()
	return min >= magicWindowStart && min <= magicWindowEnd
}

var (
	selectronicModelRE  = regexp.MustCompile(`(?i)<td[^>]*>\s*Model\s*</td>\s*<td[^>]*>([^<]+)</td>`)
	selectronicSerialRE = regexp.MustCompile(`(?i)<td[^>]*>\s*Serial\s*</td>\s*<td[^>]*>([^<]+)</td>`)
)

// FetchSystemInfo implements Adapter. It scrapes the system page for model
// and serial metadata; any failure returns (nil, nil).
func (s *Selectronic) FetchSystemInfo(ctx context.Context) (*types.SystemInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.sessionValid {
		if !s.authenticate(ctx) {
			return nil, nil
		}
	}

	u := fmt.Sprintf("%s/systems/%s", s.baseURL, s.creds.SystemID)
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, nil
	}

	resp, err := s.client.Do(req)
	if err != nil {
		log.Ctx(ctx).DebugContext(ctx, "selectronic system info fetch failed", slog.Any("error", err))
		return nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Ctx(ctx).DebugContext(ctx, "selectronic system info status", slog.Int("status", resp.StatusCode))
		return nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil
	}

	var info types.SystemInfo
	if m := selectronicModelRE.FindSubmatch(body); m != nil {
		info.Model = strings.TrimSpace(string(m[1]))
	}
	if m := selectronicSerialRE.FindSubmatch(body); m != nil {
		info.Serial = strings.TrimSpace(string(m[1]))
	}
	if info == (types.SystemInfo{}) {
		return nil, nil
	}
	return &info, nil
}

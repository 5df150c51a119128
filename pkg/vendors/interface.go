package vendors

import (
	"context"

	"github.com/liveone/liveone/pkg/types"
)

// Adapter is the integration client for one monitored system at one vendor.
// Implementations own credential-based authentication and raw data retrieval;
// they hold a cached session (cookie jar or token) between calls.
type Adapter interface {
	// Vendor returns the adapter's vendor family.
	Vendor() types.VendorType

	// Authenticate performs the credential exchange. On success the adapter
	// caches its session and authenticated-at timestamp and returns true; on
	// failure it returns false without an error.
	Authenticate(ctx context.Context) bool

	// FetchData retrieves one telemetry reading. If no session exists it
	// authenticates first. Failures are returned as *Error with a Code; a 401
	// clears the cached session but the adapter itself never retries — the
	// caller owns the single re-authenticate-and-retry policy.
	FetchData(ctx context.Context) (types.Telemetry, error)

	// FetchSystemInfo is a best-effort metadata scrape. It returns (nil, nil)
	// on any failure and never returns an error the caller must handle.
	FetchSystemInfo(ctx context.Context) (*types.SystemInfo, error)

	// ClearSession drops the cached session so the next call logs in fresh.
	ClearSession()
}

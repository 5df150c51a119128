package vendors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/liveone/liveone/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFactory() *Factory {
	return &Factory{
		selectronicURL: "https://select.example",
		enphaseURL:     "https://enphase.example",
		amberURL:       "https://amber.example",
		timeout:        10 * time.Second,
	}
}

func TestFactoryNew(t *testing.T) {
	f := testFactory()
	for _, vendor := range []types.VendorType{
		types.VendorSelectronic,
		types.VendorEnphase,
		types.VendorAmber,
		types.VendorMock,
	} {
		a, err := f.New(types.SystemConfig{Key: "sys", Vendor: vendor})
		require.NoError(t, err, vendor)
		assert.Equal(t, vendor, a.Vendor())
	}

	_, err := f.New(types.SystemConfig{Key: "sys", Vendor: "tesla"})
	assert.Error(t, err)
}

func TestFactoryValidate(t *testing.T) {
	f := testFactory()
	assert.NoError(t, f.Validate())

	f.selectronicURL = ""
	assert.Error(t, f.Validate())

	f = testFactory()
	f.timeout = 0
	assert.Error(t, f.Validate())
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeAuthFailed, CodeOf(Errorf(CodeAuthFailed, "nope")))
	assert.Equal(t, CodeTransient, CodeOf(StatusError(CodeTransient, 502, "busted")))
	assert.Equal(t, CodeTimeout, CodeOf(context.DeadlineExceeded))
	assert.Equal(t, CodeHTTP, CodeOf(errors.New("connection refused")))
	assert.Equal(t, Code(""), CodeOf(nil))
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "HTTP_ERROR (status 503): down", StatusError(CodeHTTP, 503, "down").Error())
	assert.Equal(t, "PARSE_ERROR: bad json", Errorf(CodeParse, "bad json").Error())
}

func TestMockScripting(t *testing.T) {
	m := NewMock()
	m.FetchDataFunc = func(ctx context.Context) (types.Telemetry, error) {
		return types.Telemetry{}, Errorf(CodeTimeout, "scripted")
	}
	_, err := m.FetchData(context.Background())
	assert.Equal(t, CodeTimeout, CodeOf(err))
}

func TestMockDefaults(t *testing.T) {
	m := NewMock()
	require.True(t, m.Authenticate(context.Background()))

	tel, err := m.FetchData(context.Background())
	require.NoError(t, err)
	assert.False(t, tel.Timestamp.IsZero())
	assert.GreaterOrEqual(t, tel.BatterySOC, 0.0)
	assert.LessOrEqual(t, tel.BatterySOC, 100.0)

	info, err := m.FetchSystemInfo(context.Background())
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.NotEmpty(t, info.Serial)
}

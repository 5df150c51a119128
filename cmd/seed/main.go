package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/liveone/liveone/pkg/log"
	"github.com/liveone/liveone/pkg/storage"
	"github.com/liveone/liveone/pkg/types"
)

// seed registers a pair of demo systems against the Firestore emulator and
// backfills a day of five-minute readings so dashboards have data to show.
func main() {
	os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")
	s := storage.Configured()
	lflag.Configure()

	ctx := context.Background()

	log.Ctx(ctx).InfoContext(ctx, "seeding mock data")

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	systems := []types.SystemConfig{
		{
			Key:         "demo-home",
			DisplayName: "Demo Home",
			Vendor:      types.VendorMock,
			Credentials: types.VendorCredentials{
				Email:    "demo@example.com",
				Password: "demo",
				SystemID: "1",
			},
			PollingActive: true,
		},
		{
			Key:         "demo-cabin",
			DisplayName: "Demo Cabin",
			Vendor:      types.VendorMock,
			Credentials: types.VendorCredentials{
				Email:    "demo@example.com",
				Password: "demo",
				SystemID: "2",
			},
			PollingActive: false,
		},
	}
	for _, cfg := range systems {
		if err := s.CreateSystem(ctx, cfg); err != nil {
			// already exists on a re-run
			log.Ctx(ctx).WarnContext(ctx, "failed to create system", "system", cfg.Key, "error", err)
		}
	}

	const (
		solarPeakKW   = 6.0
		homeAvgKW     = 1.2
		batterySizeKW = 13.5
	)

	now := time.Now().Truncate(5 * time.Minute)
	start := now.Add(-24 * time.Hour)

	for _, cfg := range systems {
		var totals types.EnergyTotals
		soc := 40.0

		for t := start; t.Before(now); t = t.Add(5 * time.Minute) {
			hour := float64(t.Hour()) + float64(t.Minute())/60

			// solar bell curve peaking at 13:00
			solarKW := 0.0
			if hour > 6 && hour < 19 {
				dist := hour - 13.0
				solarKW = solarPeakKW * math.Exp(-(dist*dist)/12.0)
			}

			loadKW := homeAvgKW + rng.Float64()*0.8
			if hour >= 7 && hour < 9 {
				loadKW += 1.5 // breakfast
			} else if hour >= 18 && hour < 22 {
				loadKW += 2.5 // evening
			}

			// battery absorbs surplus and covers deficit within its rating
			net := solarKW - loadKW
			batteryKW := math.Max(-5, math.Min(5, -net))
			gridKW := loadKW - solarKW + batteryKW

			intervalH := 5.0 / 60.0
			soc += (-batteryKW / batterySizeKW) * 100 * intervalH
			soc = math.Max(10, math.Min(100, soc))

			totals.SolarKWH += solarKW * intervalH
			totals.LoadKWH += loadKW * intervalH
			if batteryKW < 0 {
				totals.BatteryInKWH += -batteryKW * intervalH
			} else {
				totals.BatteryOutKWH += batteryKW * intervalH
			}
			if gridKW > 0 {
				totals.GridInKWH += gridKW * intervalH
			} else {
				totals.GridOutKWH += -gridKW * intervalH
			}

			reading := types.Telemetry{
				Timestamp:  t,
				SolarKW:    solarKW,
				LoadKW:     loadKW,
				BatteryKW:  batteryKW,
				GridKW:     gridKW,
				BatterySOC: soc,
				Totals:     totals,
			}
			if err := s.AppendReading(ctx, cfg.Key, reading); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to seed reading", "system", cfg.Key, "error", err)
				os.Exit(1)
			}
		}

		status := types.PollingStatus{
			SystemID:        cfg.Key,
			LastPollTime:    now,
			LastSuccessTime: now,
			TotalPolls:      288,
			SuccessfulPolls: 288,
		}
		if err := s.UpsertPollingStatus(ctx, cfg.Key, status); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to seed polling status", "system", cfg.Key, "error", err)
			os.Exit(1)
		}

		fmt.Printf("Seeded %s: 24h of readings (solar %.1f kWh, load %.1f kWh, SOC %.0f%%)\n",
			cfg.Key, totals.SolarKWH, totals.LoadKWH, soc)
	}

	log.Ctx(ctx).InfoContext(ctx, "seeded mock data successfully")
}

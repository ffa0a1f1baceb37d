package geigerdb

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/NotCoffee418/gmc_radiation_logger/pkg/gmcutils"
	"github.com/NotCoffee418/gmc_radiation_logger/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "gmc-readings.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleReading(ts time.Time, cpm uint16) *types.Reading {
	return &types.Reading{
		Timestamp:     ts,
		CPM:           cpm,
		DoseRateUSvH:  gmcutils.CpmToUSvH(cpm),
		BatteryVolts:  4.1,
		GpsCoords:     "53.4096, -2.5737",
		DeviceSerial:  "0123456789AB",
		DeviceVersion: "GMC-300Re 4.81",
	}
}

func TestInsertAndLatestReading(t *testing.T) {
	is := is.New(t)
	store := openTestStore(t)

	older := time.Date(2024, 6, 7, 14, 5, 9, 0, time.UTC)
	newer := older.Add(4 * time.Second)
	is.NoErr(store.InsertReading(sampleReading(older, 27)))
	is.NoErr(store.InsertReading(sampleReading(newer, 1306)))

	latest, err := store.LatestReading()
	is.NoErr(err)
	is.True(latest != nil)
	is.Equal(latest.Timestamp, newer.Unix())
	is.Equal(latest.CPM, uint16(1306))
	is.True(math.Abs(latest.USvH-8.489) < 1e-9)
	is.Equal(latest.BatteryVolts, 4.1)
	is.Equal(latest.Gps, "53.4096, -2.5737")
	is.Equal(latest.DeviceSerial, "0123456789AB")
	is.Equal(latest.DeviceVersion, "GMC-300Re 4.81")
}

func TestLatestReadingOnEmptyStore(t *testing.T) {
	is := is.New(t)
	store := openTestStore(t)

	latest, err := store.LatestReading()
	is.NoErr(err)
	is.True(latest == nil)
}

func TestReadingsBetween(t *testing.T) {
	is := is.New(t)
	store := openTestStore(t)

	base := time.Date(2024, 6, 7, 14, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		is.NoErr(store.InsertReading(sampleReading(base.Add(time.Duration(i)*time.Minute), uint16(20+i))))
	}

	readings, err := store.ReadingsBetween(base.Add(time.Minute).Unix(), base.Add(3*time.Minute).Unix())
	is.NoErr(err)
	is.Equal(len(readings), 3)
	is.Equal(readings[0].CPM, uint16(21))
	is.Equal(readings[2].CPM, uint16(23))
}

func TestAggregateHourly(t *testing.T) {
	is := is.New(t)
	store := openTestStore(t)

	hour := time.Date(2024, 6, 7, 13, 0, 0, 0, time.UTC)
	is.NoErr(store.InsertReading(sampleReading(hour.Add(5*time.Minute), 20)))
	is.NoErr(store.InsertReading(sampleReading(hour.Add(25*time.Minute), 30)))
	is.NoErr(store.InsertReading(sampleReading(hour.Add(45*time.Minute), 40)))

	// A reading in the next hour must not leak in
	is.NoErr(store.InsertReading(sampleReading(hour.Add(61*time.Minute), 9999)))

	is.NoErr(store.AggregateHourly(hour.Unix()))

	agg, err := store.HourlyAggregate(hour.Unix())
	is.NoErr(err)
	is.True(agg != nil)
	is.Equal(agg.PeriodStart, hour.Unix())
	is.True(math.Abs(agg.AvgCPM-30.0) < 1e-9)
	is.Equal(agg.MaxCPM, uint16(40))
	is.Equal(agg.SampleCount, uint32(3))
}

func TestAggregateHourlyIsRepeatable(t *testing.T) {
	is := is.New(t)
	store := openTestStore(t)

	hour := time.Date(2024, 6, 7, 13, 0, 0, 0, time.UTC)
	is.NoErr(store.InsertReading(sampleReading(hour.Add(5*time.Minute), 20)))
	is.NoErr(store.AggregateHourly(hour.Unix()))

	// More data lands, the hour gets re-aggregated
	is.NoErr(store.InsertReading(sampleReading(hour.Add(30*time.Minute), 40)))
	is.NoErr(store.AggregateHourly(hour.Unix()))

	agg, err := store.HourlyAggregate(hour.Unix())
	is.NoErr(err)
	is.True(agg != nil)
	is.True(math.Abs(agg.AvgCPM-30.0) < 1e-9)
	is.Equal(agg.SampleCount, uint32(2))
}

func TestAggregateEmptyHourWritesNothing(t *testing.T) {
	is := is.New(t)
	store := openTestStore(t)

	hour := time.Date(2024, 6, 7, 13, 0, 0, 0, time.UTC)
	is.NoErr(store.AggregateHourly(hour.Unix()))

	agg, err := store.HourlyAggregate(hour.Unix())
	is.NoErr(err)
	is.True(agg == nil)
}

func TestAggregateDaily(t *testing.T) {
	is := is.New(t)
	store := openTestStore(t)

	day := time.Date(2024, 6, 7, 0, 0, 0, 0, time.UTC)
	is.NoErr(store.InsertReading(sampleReading(day.Add(2*time.Hour), 10)))
	is.NoErr(store.InsertReading(sampleReading(day.Add(14*time.Hour), 50)))

	is.NoErr(store.AggregateDaily(day.Unix()))

	agg, err := store.DailyAggregate(day.Unix())
	is.NoErr(err)
	is.True(agg != nil)
	is.True(math.Abs(agg.AvgCPM-30.0) < 1e-9)
	is.Equal(agg.MaxCPM, uint16(50))
	is.Equal(agg.SampleCount, uint32(2))
}

func TestCleanupKeepsDataUntilAggregationCatchesUp(t *testing.T) {
	is := is.New(t)
	store := openTestStore(t)

	// Old raw data, but no aggregates at all: nothing may be deleted
	old := time.Now().UTC().AddDate(0, -4, 0)
	is.NoErr(store.InsertReading(sampleReading(old, 27)))

	is.NoErr(store.AggregateAndCleanup())

	latest, err := store.LatestReading()
	is.NoErr(err)
	is.True(latest != nil)
	is.Equal(latest.CPM, uint16(27))
}

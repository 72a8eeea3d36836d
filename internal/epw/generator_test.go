package epw

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bowen577/KNMI-EPW-Generator/internal/config"
	"github.com/Bowen577/KNMI-EPW-Generator/internal/domain"
	"github.com/Bowen577/KNMI-EPW-Generator/internal/station"
)

var deBilt = station.Station{ID: "260", Name: "De_Bilt", Abbreviation: "BILT", Latitude: 52.1, Longitude: 5.18}

func TestOutputPath(t *testing.T) {
	g := NewGenerator(&config.Config{OutputDir: filepath.Join("data", "epw"), LocalTimeShift: 1.0}, slog.Default())

	got := g.OutputPath(deBilt, 2023)
	assert.Equal(t, filepath.Join("data", "epw", "De_Bilt", "NLD_BILT_EPW_YR2023.epw"), got)
}

func TestGenerate(t *testing.T) {
	g := newTestGenerator(t)

	path, err := g.Generate(context.Background(), fullYear(2023, nil), deBilt, 2023, "")
	require.NoError(t, err)
	assert.Equal(t, g.OutputPath(deBilt, 2023), path)

	lines := readLines(t, path)
	require.Len(t, lines, HeaderLines+HoursPerYear)

	assert.Equal(t, "LOCATION,De_Bilt,-,NLD,KNMI,260,52.10,5.18,1.0,0.0", lines[0])
	assert.Equal(t, "DATA PERIODS,1,1,Data,Sunday, 1/ 1,12/31", lines[HeaderLines-1])

	first := rowFields(t, lines, 1, 1, 1)
	assert.Equal(t, "2023", first[0])
	assert.Equal(t, "1", first[1])
	assert.Equal(t, "1", first[2])
	assert.Equal(t, "1", first[3])
	assert.Equal(t, "0", first[4])
	assert.Equal(t, "15.0", first[6])
	assert.Equal(t, "10.0", first[7])
	assert.Equal(t, "80", first[8])
	assert.Equal(t, "101300", first[9])
	assert.Equal(t, "200", first[13], "irradiance columns are written as integers")
	assert.Equal(t, "0", first[14])
	assert.Equal(t, "200", first[15])
	assert.Equal(t, "230", first[20])
	assert.Equal(t, "5.0", first[21])
	assert.Equal(t, "6", first[23])
	assert.Equal(t, "7.5", first[24])
	assert.Equal(t, "9", first[26])
	assert.Equal(t, "1.2", first[33])
	assert.Equal(t, "0.5", first[34])

	// Columns KNMI never fills keep their missing markers.
	assert.Equal(t, "9999", first[10])
	assert.Equal(t, "99", first[22])
	assert.Equal(t, "0.999", first[29])

	last := rowFields(t, lines, 12, 31, 24)
	assert.Equal(t, "2023", last[0])
	assert.Equal(t, "12", last[1])
	assert.Equal(t, "31", last[2])
	assert.Equal(t, "24", last[3])

	t.Run("leap year rows skip february 29", func(t *testing.T) {
		path, err := g.Generate(context.Background(), fullYear(2024, nil), deBilt, 2024, "")
		require.NoError(t, err)

		lines := readLines(t, path)
		require.Len(t, lines, HeaderLines+HoursPerYear)

		feb := rowFields(t, lines, 2, 28, 24)
		assert.Equal(t, []string{"2024", "2", "28", "24"}, feb[:4])
		march := rowFields(t, lines, 3, 1, 1)
		assert.Equal(t, []string{"2024", "3", "1", "1"}, march[:4])
	})

	t.Run("explicit output path wins", func(t *testing.T) {
		want := filepath.Join(t.TempDir(), "custom", "bilt.epw")
		path, err := g.Generate(context.Background(), fullYear(2023, nil), deBilt, 2023, want)
		require.NoError(t, err)
		assert.Equal(t, want, path)
		assert.FileExists(t, path)
	})

	t.Run("no records", func(t *testing.T) {
		_, err := g.Generate(context.Background(), nil, deBilt, 2023, "")
		require.Error(t, err)
		assert.Equal(t, domain.KindGeneration, domain.KindOf(err))
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := g.Generate(ctx, fullYear(2023, nil), deBilt, 2023, "")
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestGenerateFillsGapsFromNearestRecord(t *testing.T) {
	g := newTestGenerator(t)

	// One day of records for a whole-year file: uncovered hours must borrow
	// the closest record instead of producing short or empty rows.
	recs := make([]domain.HourlyRecord, 0, 24)
	for i := 0; i < 24; i++ {
		rec := baseRecord(time.Date(2023, time.January, 1, i+1, 0, 0, 0, time.UTC))
		rec.Temp = 1.0 + 0.5*float64(i)
		recs = append(recs, rec)
	}

	path, err := g.Generate(context.Background(), recs, deBilt, 2023, "")
	require.NoError(t, err)

	lines := readLines(t, path)
	require.Len(t, lines, HeaderLines+HoursPerYear)

	assert.Equal(t, "2.0", rowFields(t, lines, 1, 1, 3)[6], "covered hours use their own record")
	assert.Equal(t, "12.5", rowFields(t, lines, 7, 15, 12)[6], "uncovered hours borrow the nearest record")
	assert.Equal(t, "12.5", rowFields(t, lines, 12, 31, 24)[6])
}

// --- helpers ---

func newTestGenerator(t *testing.T) *Generator {
	t.Helper()
	cfg := &config.Config{OutputDir: t.TempDir(), LocalTimeShift: 1.0}
	return NewGenerator(cfg, slog.Default())
}

// fullYear builds 8760 chronological records starting January 1 hour 1,
// skipping February 29 stamps the way the processing stage does.
func fullYear(year int, mutate func(i int, rec *domain.HourlyRecord)) []domain.HourlyRecord {
	recs := make([]domain.HourlyRecord, 0, HoursPerYear)
	ts := time.Date(year, time.January, 1, 1, 0, 0, 0, time.UTC)
	for len(recs) < HoursPerYear {
		if ts.Month() != time.February || ts.Day() != 29 {
			rec := baseRecord(ts)
			if mutate != nil {
				mutate(len(recs), &rec)
			}
			recs = append(recs, rec)
		}
		ts = ts.Add(time.Hour)
	}
	return recs
}

func baseRecord(ts time.Time) domain.HourlyRecord {
	return domain.HourlyRecord{
		Time:           ts,
		WindDir:        230,
		WindSpeed:      5.0,
		Temp:           15.0,
		DewPoint:       10.0,
		PrecipDuration: 0.5,
		Precipitation:  1.2,
		Pressure:       101300,
		Visibility:     7.5,
		CloudCover:     6,
		Humidity:       80,
		RainFlag:       9,
		GHI:            200.5,
		DNI:            0,
		DHI:            200.5,
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(b), "\n"), "\n")
}

func rowFields(t *testing.T, lines []string, month, day, hour int) []string {
	t.Helper()
	fields := strings.Split(lines[HeaderLines+rowIndex(month, day, hour)], ",")
	require.Len(t, fields, ColumnsPerRow)
	return fields
}

func rowIndex(month, day, hour int) int {
	idx := 0
	for m := 1; m < month; m++ {
		idx += daysInMonth[m-1] * 24
	}
	return idx + (day-1)*24 + (hour - 1)
}

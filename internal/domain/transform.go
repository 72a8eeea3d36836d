package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Raw column names as they appear in the uurgeg header line.
const (
	colDate           = "YYYYMMDD"
	colHour           = "HH"
	colWindDir        = "DD"
	colWindSpeed      = "FH"
	colTemp           = "T"
	colDewPoint       = "TD"
	colPrecipDuration = "DR"
	colPrecipitation  = "RH"
	colPressure       = "P"
	colVisibility     = "VV"
	colCloudCover     = "N"
	colHumidity       = "U"
	colRainFlag       = "R"
	colRadiation      = "Q"
)

// wattPerJCM2 converts hourly global radiation from J/cm² to W/m²:
// 1 J/cm² over one hour is 10000 J/m² spread across 3600 s.
const wattPerJCM2 = 10000.0 / 3600.0

// ParseColumns maps uurgeg column names to their field positions. The header
// line may carry a leading "#" marker on the first column.
func ParseColumns(header string) map[string]int {
	parts := strings.Split(header, ",")
	cols := make(map[string]int, len(parts))
	for i, p := range parts {
		name := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(p), "#"))
		name = strings.TrimSpace(name)
		if name != "" {
			cols[name] = i
		}
	}
	return cols
}

// ParseRecord converts one raw uurgeg row into an HourlyRecord. The date and
// hour columns are required; every other field degrades to NaN when absent or
// unparsable. Unit conversions follow the table in the package documentation.
func ParseRecord(fields []string, cols map[string]int) (HourlyRecord, error) {
	ts, err := parseTimestamp(fieldAt(fields, cols, colDate), fieldAt(fields, cols, colHour))
	if err != nil {
		return HourlyRecord{}, err
	}

	rec := HourlyRecord{
		Time:           ts,
		WindDir:        parseScaled(fieldAt(fields, cols, colWindDir), 1),
		WindSpeed:      parseScaled(fieldAt(fields, cols, colWindSpeed), 0.1),
		Temp:           parseScaled(fieldAt(fields, cols, colTemp), 0.1),
		DewPoint:       parseScaled(fieldAt(fields, cols, colDewPoint), 0.1),
		PrecipDuration: parseScaled(fieldAt(fields, cols, colPrecipDuration), 0.1),
		Precipitation:  parseScaled(fieldAt(fields, cols, colPrecipitation), 0.1),
		Pressure:       parseScaled(fieldAt(fields, cols, colPressure), 10),
		Visibility:     parseScaled(fieldAt(fields, cols, colVisibility), 0.1),
		CloudCover:     parseScaled(fieldAt(fields, cols, colCloudCover), 10.0/9.0),
		Humidity:       parseScaled(fieldAt(fields, cols, colHumidity), 1),
		RainFlag:       parseScaled(fieldAt(fields, cols, colRainFlag), 1),
		GHI:            parseScaled(fieldAt(fields, cols, colRadiation), wattPerJCM2),
		DNI:            math.NaN(),
		DHI:            math.NaN(),
	}
	return rec, nil
}

// ApplyQualityFixes normalizes converted values for EPW output: cloud cover
// is rounded to a whole tenth, wind direction 360 wraps to 0, and the rain
// indicator is inverted to the EPW present-weather observation convention
// (0 no rain → 9, 1 rain → 0). NaN fields pass through untouched.
func ApplyQualityFixes(rec HourlyRecord) HourlyRecord {
	if !math.IsNaN(rec.CloudCover) {
		rec.CloudCover = math.Round(rec.CloudCover)
	}
	if rec.WindDir == 360 {
		rec.WindDir = 0
	}
	switch rec.RainFlag {
	case 0:
		rec.RainFlag = 9
	case 1:
		rec.RainFlag = 0
	}
	return rec
}

// parseTimestamp decodes a YYYYMMDD date and an HH hour slot. KNMI hours run
// 1..24 with 24 meaning midnight of the following day; time.Date normalizes
// the overflow, carrying month and year boundaries.
func parseTimestamp(date, hour string) (time.Time, error) {
	date = strings.TrimSpace(date)
	if len(date) != 8 {
		return time.Time{}, fmt.Errorf("malformed date %q", date)
	}
	year, err := strconv.Atoi(date[:4])
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed date %q: %w", date, err)
	}
	month, err := strconv.Atoi(date[4:6])
	if err != nil || month < 1 || month > 12 {
		return time.Time{}, fmt.Errorf("malformed month in %q", date)
	}
	day, err := strconv.Atoi(date[6:8])
	if err != nil || day < 1 || day > 31 {
		return time.Time{}, fmt.Errorf("malformed day in %q", date)
	}

	h, err := strconv.Atoi(strings.TrimSpace(hour))
	if err != nil || h < 1 || h > 24 {
		return time.Time{}, fmt.Errorf("hour %q outside 1..24", hour)
	}

	return time.Date(year, time.Month(month), day, h, 0, 0, 0, time.UTC), nil
}

// parseScaled parses a raw numeric field and applies its unit scale. Empty
// and malformed fields become NaN so FillMissing can substitute the EPW
// marker later.
func parseScaled(s string, scale float64) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v * scale
}

func fieldAt(fields []string, cols map[string]int, name string) string {
	idx, ok := cols[name]
	if !ok || idx < 0 || idx >= len(fields) {
		return ""
	}
	return fields[idx]
}

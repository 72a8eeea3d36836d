// Package epw writes EnergyPlus Weather files from hourly record tables.
//
// An EPW file is 8 metadata lines followed by 8760 comma-separated data rows
// of 35 columns, one row per hour of a leap-day-free year. Hours are encoded
// 1..24; the row for hour h holds the observation timestamped at the end of
// that interval, so the year's final row (Dec 31 hour 24) carries the record
// stamped midnight January 1 of the following year. Columns this converter
// cannot source from KNMI observations carry the standard EPW missing
// markers.
package epw

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Bowen577/KNMI-EPW-Generator/internal/config"
	"github.com/Bowen577/KNMI-EPW-Generator/internal/domain"
	"github.com/Bowen577/KNMI-EPW-Generator/internal/station"
)

const (
	// HeaderLines is the number of metadata lines before the data block.
	HeaderLines = 8
	// ColumnsPerRow is the width of one EPW data row.
	ColumnsPerRow = 35
	// HoursPerYear is the EPW data row count, leap day excluded.
	HoursPerYear = 8760
)

// uncertaintyFlags fills the data-source column; this converter does not
// track per-field provenance.
const uncertaintyFlags = "?9?9?9?9E0?9?9?9?9?9?9?9?9?9?9?9?9?9*9*9?9?9?9"

// daysInMonth is for a common year; EPW years never contain Feb 29.
var daysInMonth = [12]int{31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

// rowDefaults holds the marker strings for columns KNMI data never fills.
// Time columns 0..4 and mapped measurement columns are overwritten per row.
var rowDefaults = [ColumnsPerRow]string{
	5:  uncertaintyFlags,
	10: "9999",      // extraterrestrial horizontal radiation
	11: "9999",      // extraterrestrial direct normal radiation
	12: "9999",      // horizontal infrared radiation
	16: "999999",    // global horizontal illuminance
	17: "999999",    // direct normal illuminance
	18: "999999",    // diffuse horizontal illuminance
	19: "9999",      // zenith luminance
	22: "99",        // total sky cover
	25: "99999",     // ceiling height
	27: "999999999", // present weather codes
	28: "999",       // precipitable water
	29: "0.999",     // aerosol optical depth
	30: "999",       // snow depth
	31: "99",        // days since last snowfall
	32: "999",       // albedo
}

// Generator writes EPW artifacts under a fixed output directory layout.
type Generator struct {
	outputDir string
	timeZone  float64
	logger    *slog.Logger
}

func NewGenerator(cfg *config.Config, logger *slog.Logger) *Generator {
	return &Generator{
		outputDir: cfg.OutputDir,
		timeZone:  cfg.LocalTimeShift,
		logger:    logger,
	}
}

// OutputPath returns the conventional artifact location for a station-year:
// {outputDir}/{station name}/NLD_{abbreviation}_EPW_YR{year}.epw.
func (g *Generator) OutputPath(st station.Station, year int) string {
	name := fmt.Sprintf("NLD_%s_EPW_YR%d.epw", st.Abbreviation, year)
	return filepath.Join(g.outputDir, st.Name, name)
}

// Generate writes the EPW file for one station-year and returns its path.
// records must be sorted by time with missing values already substituted;
// hours the records do not cover are filled from the nearest record in time.
// An empty outputPath selects the conventional OutputPath.
func (g *Generator) Generate(ctx context.Context, records []domain.HourlyRecord, st station.Station, year int, outputPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	key := fmt.Sprintf("%s/%d", st.ID, year)
	if len(records) == 0 {
		return "", domain.Errorf(domain.KindGeneration, "generate epw", key, "no records to write")
	}
	if outputPath == "" {
		outputPath = g.OutputPath(st, year)
	}

	rows, filled := buildRows(records, year)
	if filled > 0 {
		g.logger.Info("filled uncovered hours from nearest records",
			"station", st.ID, "year", year, "hours", filled)
	}
	g.checkTemperatures(records, st, year)

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return "", domain.E(domain.KindGeneration, "create output dir", key, err)
	}
	if err := g.writeFile(outputPath, st, year, rows); err != nil {
		return "", domain.E(domain.KindGeneration, "write epw file", key, err)
	}

	g.logger.Info("generated epw file", "station", st.ID, "year", year, "path", outputPath, "rows", len(rows))
	return outputPath, nil
}

// headerLines synthesizes the 8 EPW metadata lines for a station.
func (g *Generator) headerLines(st station.Station, year int) []string {
	lat := strconv.FormatFloat(st.Latitude, 'f', 2, 64)
	lon := strconv.FormatFloat(st.Longitude, 'f', 2, 64)
	tz := strconv.FormatFloat(g.timeZone, 'f', 1, 64)
	return []string{
		fmt.Sprintf("LOCATION,%s,-,NLD,KNMI,%s,%s,%s,%s,0.0", st.Name, st.ID, lat, lon, tz),
		"DESIGN CONDITIONS,0",
		"TYPICAL/EXTREME PERIODS,0",
		"GROUND TEMPERATURES,0",
		"HOLIDAYS/DAYLIGHT SAVINGS,No,0,0,0",
		fmt.Sprintf("COMMENTS 1,Converted from KNMI hourly observations for station %s (%s)", st.ID, st.Name),
		fmt.Sprintf("COMMENTS 2,Source year %d", year),
		"DATA PERIODS,1,1,Data,Sunday, 1/ 1,12/31",
	}
}

func (g *Generator) writeFile(path string, st station.Station, year int, rows [][ColumnsPerRow]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(f)
	for _, line := range g.headerLines(st, year) {
		fmt.Fprintln(w, line)
	}
	for i := range rows {
		fmt.Fprintln(w, strings.Join(rows[i][:], ","))
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// checkTemperatures logs when the dry bulb column will contain values outside
// the plausible range, missing markers included.
func (g *Generator) checkTemperatures(records []domain.HourlyRecord, st station.Station, year int) {
	for _, rec := range records {
		if rec.Temp < -50 || rec.Temp > 60 {
			g.logger.Warn("temperature values outside plausible range", "station", st.ID, "year", year)
			return
		}
	}
}

// buildRows produces the 8760 data rows in calendar order. records must be
// time-sorted; each row takes the record nearest its end-of-interval
// timestamp, so gaps borrow the closest neighbor. Returns the rows and the
// number of hours without an exact record.
func buildRows(records []domain.HourlyRecord, year int) ([][ColumnsPerRow]string, int) {
	rows := make([][ColumnsPerRow]string, 0, HoursPerYear)
	filled := 0

	j := 0
	for month := 1; month <= 12; month++ {
		for day := 1; day <= daysInMonth[month-1]; day++ {
			for hour := 1; hour <= 24; hour++ {
				// hour 24 normalizes to 00:00 of the next day, matching the
				// KNMI end-of-interval encoding.
				target := time.Date(year, time.Month(month), day, hour, 0, 0, 0, time.UTC)
				for j+1 < len(records) && absDelta(records[j+1].Time, target) < absDelta(records[j].Time, target) {
					j++
				}
				rec := records[j]
				if !rec.Time.Equal(target) {
					filled++
				}
				rows = append(rows, buildRow(rec, year, month, day, hour))
			}
		}
	}
	return rows, filled
}

func buildRow(rec domain.HourlyRecord, year, month, day, hour int) [ColumnsPerRow]string {
	row := rowDefaults
	row[0] = strconv.Itoa(year)
	row[1] = strconv.Itoa(month)
	row[2] = strconv.Itoa(day)
	row[3] = strconv.Itoa(hour)
	row[4] = "0"

	row[6] = fmtFloat(rec.Temp)
	row[7] = fmtFloat(rec.DewPoint)
	row[8] = fmtInt(rec.Humidity)
	row[9] = fmtInt(rec.Pressure)
	row[13] = fmtInt(rec.GHI)
	row[14] = fmtInt(rec.DNI)
	row[15] = fmtInt(rec.DHI)
	row[20] = fmtInt(rec.WindDir)
	row[21] = fmtFloat(rec.WindSpeed)
	row[23] = fmtInt(rec.CloudCover)
	row[24] = fmtFloat(rec.Visibility)
	row[26] = fmtInt(rec.RainFlag)
	row[33] = fmtFloat(rec.Precipitation)
	row[34] = fmtFloat(rec.PrecipDuration)
	return row
}

func absDelta(a, b time.Time) time.Duration {
	d := a.Sub(b)
	if d < 0 {
		return -d
	}
	return d
}

func fmtInt(v float64) string {
	return strconv.Itoa(int(v))
}

func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}

// Command genmock generates synthetic KNMI fixtures for offline development
// and tests: the transposed station metadata CSV, extracted uurgeg raw files
// and the zip archives a fake portal can serve. Values follow plausible Dutch
// weather curves and carry the real preamble and column layout, so the
// fixtures parse through the actual transform code.
//
// Usage:
//
//	go run ./cmd/genmock -out-dir data
//	go run ./cmd/genmock -out-dir data -stations 240,260 -from-year 2023 -to-year 2024
package main

import (
	"archive/zip"
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const rawHeader = "# STN,YYYYMMDD,   HH,   DD,   FH,   FF,    T, T10N,   TD,   SQ,    Q,   DR,   RH,    P,   VV,    N,    U,   WW,   IX,    M,    R,    S,    O,    Y"

type mockStation struct {
	id     string
	name   string
	abbrev string
	lat    float64
	lon    float64
}

// stations mirrors a handful of real KNMI sites so generated coordinates and
// EPW filenames look right.
var stations = []mockStation{
	{id: "240", name: "Schiphol", abbrev: "AMS", lat: 52.318, lon: 4.790},
	{id: "260", name: "De_Bilt", abbrev: "BILT", lat: 52.100, lon: 5.180},
	{id: "270", name: "Leeuwarden", abbrev: "LWD", lat: 53.224, lon: 5.752},
	{id: "280", name: "Eelde", abbrev: "GRQ", lat: 53.125, lon: 6.585},
	{id: "310", name: "Vlissingen", abbrev: "VLIS", lat: 51.442, lon: 3.596},
	{id: "344", name: "Rotterdam", abbrev: "RTM", lat: 51.962, lon: 4.447},
	{id: "380", name: "Maastricht", abbrev: "MST", lat: 50.906, lon: 5.762},
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	outDir := flag.String("out-dir", "data", "base directory for generated fixtures")
	stationList := flag.String("stations", "", "comma-separated station IDs (default: all built-in stations)")
	fromYear := flag.Int("from-year", 2023, "first year of generated data")
	toYear := flag.Int("to-year", 2023, "last year of generated data")
	seed := flag.Int64("seed", 1, "random seed, fixed so fixtures and test assertions stay stable")
	flag.Parse()

	if *fromYear > *toYear {
		return fmt.Errorf("-from-year %d is after -to-year %d", *fromYear, *toYear)
	}
	selected, err := selectStations(*stationList)
	if err != nil {
		return err
	}

	if err := writeStationCSV(filepath.Join(*outDir, "stations", "knmi_STN_infor.csv"), selected); err != nil {
		return fmt.Errorf("writing station CSV: %w", err)
	}
	log.Printf("wrote station CSV: %d stations", len(selected))

	var stats fixtureStats
	for _, st := range selected {
		// Seed per station so regenerating a subset reproduces the same bytes
		// as a full run.
		idNum, _ := strconv.ParseInt(st.id, 10, 64)
		rng := rand.New(rand.NewSource(*seed + idNum))

		content, count := buildRawFile(rng, st, *fromYear, *toYear, &stats)
		name := fmt.Sprintf("uurgeg_%s_%d-%d", st.id, *fromYear, *toYear)

		txtPath := filepath.Join(*outDir, "knmi", name+".txt")
		if err := writeFile(txtPath, content); err != nil {
			return fmt.Errorf("writing %s: %w", txtPath, err)
		}
		zipPath := filepath.Join(*outDir, "knmi_zip", name+".zip")
		if err := writeZip(zipPath, name+".txt", content); err != nil {
			return fmt.Errorf("writing %s: %w", zipPath, err)
		}
		log.Printf("station %s (%s): %d rows", st.id, st.name, count)
	}

	printStats(stats)
	return nil
}

func selectStations(list string) ([]mockStation, error) {
	if list == "" {
		return stations, nil
	}
	byID := make(map[string]mockStation, len(stations))
	for _, st := range stations {
		byID[st.id] = st
	}

	var selected []mockStation
	for _, id := range strings.Split(list, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		st, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("unknown station %s (built-in: %s)", id, builtinIDs())
		}
		selected = append(selected, st)
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("no stations selected")
	}
	return selected, nil
}

func builtinIDs() string {
	ids := make([]string, len(stations))
	for i, st := range stations {
		ids[i] = st.id
	}
	return strings.Join(ids, ", ")
}

// writeStationCSV writes the registry in its transposed layout: station IDs
// in the header row, then one row each for name, abbreviation, latitude and
// longitude.
func writeStationCSV(path string, selected []mockStation) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	rows := make([][]string, 5)
	for _, st := range selected {
		rows[0] = append(rows[0], st.id)
		rows[1] = append(rows[1], st.name)
		rows[2] = append(rows[2], st.abbrev)
		rows[3] = append(rows[3], strconv.FormatFloat(st.lat, 'f', 3, 64))
		rows[4] = append(rows[4], strconv.FormatFloat(st.lon, 'f', 3, 64))
	}

	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// buildRawFile assembles one uurgeg file: the KNMI source line, a 30-line
// preamble, the column header, a blank separator and hourly rows covering the
// year span. Leap days are included like in real archives; the pipeline drops
// them later.
func buildRawFile(rng *rand.Rand, st mockStation, fromYear, toYear int, stats *fixtureStats) ([]byte, int) {
	var b strings.Builder
	b.WriteString("BRON: KONINKLIJK NEDERLANDS METEOROLOGISCH INSTITUUT\n")
	for _, line := range preambleLines(st) {
		b.WriteString(line + "\n")
	}
	b.WriteString(rawHeader + "\n\n")

	count := 0
	for day := time.Date(fromYear, time.January, 1, 0, 0, 0, 0, time.UTC); day.Year() <= toYear; day = day.AddDate(0, 0, 1) {
		date := day.Format("20060102")
		for hour := 1; hour <= 24; hour++ {
			b.WriteString(synthRow(rng, st.id, date, day.YearDay(), hour, stats) + "\n")
			count++
		}
	}
	return []byte(b.String()), count
}

// preambleLines returns the 30 comment lines between the source line and the
// column header.
func preambleLines(st mockStation) []string {
	lines := []string{
		"# Synthetic hourly data for development and testing, generated by genmock.",
		"# STN         LON(east)   LAT(north)  ALT(m)      NAME",
		fmt.Sprintf("# %s         %.3f       %.3f      1.0         %s",
			st.id, st.lon, st.lat, strings.ToUpper(strings.ReplaceAll(st.name, "_", " "))),
		"#",
	}
	lines = append(lines, columnLegend...)
	return append(lines, "#", "#")
}

var columnLegend = []string{
	"# STN: Station number",
	"# YYYYMMDD: Date (YYYY=year, MM=month, DD=day)",
	"# HH: Time in hours, the hourly division 05 runs from 04.00 UT to 5.00 UT",
	"# DD: Mean wind direction in degrees (360=north, 90=east, 180=south, 270=west, 0=calm, 990=variable)",
	"# FH: Hourly mean wind speed (in 0.1 m/s)",
	"# FF: Mean wind speed (in 0.1 m/s) during the 10-minute period preceding the time of observation",
	"# T: Temperature (in 0.1 degrees Celsius) at 1.50 m",
	"# T10N: Minimum temperature (in 0.1 degrees Celsius) at 0.1 m in the preceding 6-hour period",
	"# TD: Dew point temperature (in 0.1 degrees Celsius) at 1.50 m",
	"# SQ: Sunshine duration (in 0.1 hour) during the hourly division; -1 for <0.05 hour",
	"# Q: Global radiation (in J/cm2) during the hourly division",
	"# DR: Precipitation duration (in 0.1 hour) during the hourly division",
	"# RH: Hourly precipitation amount (in 0.1 mm); -1 for <0.05 mm",
	"# P: Air pressure (in 0.1 hPa) reduced to mean sea level",
	"# VV: Horizontal visibility code",
	"# N: Cloud cover in octants (9=sky invisible)",
	"# U: Relative atmospheric humidity (in percents) at 1.50 m",
	"# WW: Present weather code (00-99)",
	"# IX: Indicator present weather code",
	"# M: Fog 0=no occurrence, 1=occurred during the preceding hour",
	"# R: Rainfall 0=no occurrence, 1=occurred during the preceding hour",
	"# S: Snow 0=no occurrence, 1=occurred during the preceding hour",
	"# O: Thunder 0=no occurrence, 1=occurred during the preceding hour",
	"# Y: Ice formation 0=no occurrence, 1=occurred during the preceding hour",
}

// synthRow produces one hourly observation in KNMI raw units: a seasonal and
// daily temperature sinusoid, a daylight radiation curve and occasional wet
// hours that depress radiation and visibility.
func synthRow(rng *rand.Rand, stationID, date string, dayOfYear, hour int, stats *fixtureStats) string {
	seasonal := math.Sin(2 * math.Pi * float64(dayOfYear-105) / 365.0)
	daily := math.Sin(2 * math.Pi * float64(hour-9) / 24.0)

	tempC := 10.5 + 7.5*seasonal + 4*daily + rng.NormFloat64()*1.5
	tempT := int(math.Round(tempC * 10))
	dewT := tempT - (20 + rng.Intn(60))
	humidity := clampInt(102-int(float64(tempT-dewT)*0.45)+rng.Intn(5), 30, 100)

	wet := rng.Float64() < 0.15

	// Q is hourly global radiation in J/cm2: zero at night, a sine arc over
	// the day scaled down in winter and under rain.
	var radiation int
	if hour >= 6 && hour <= 21 {
		arc := math.Sin(math.Pi * float64(hour-5) / 16.0)
		radiation = int(math.Max(0, 230*arc*(0.55+0.45*seasonal)+rng.NormFloat64()*15))
		if wet {
			radiation /= 3
		}
	}
	sunshine := 0
	if radiation > 30 {
		sunshine = rng.Intn(4)
		if !wet {
			sunshine = 6 + rng.Intn(5)
		}
	}

	windDir := (rng.Intn(36) + 1) * 10
	windHourly := 15 + rng.Intn(110)
	wind10min := maxInt(0, windHourly+rng.Intn(21)-10)

	duration, amount, rain := 0, 0, 0
	visibility := 60 + rng.Intn(23)
	cloud := rng.Intn(9)
	weather, indicator := "", "5"
	if wet {
		duration = 2 + rng.Intn(9)
		amount = 1 + rng.Intn(60)
		if rng.Float64() < 0.05 {
			amount = -1 // trace, below 0.05 mm
		}
		rain = 1
		visibility = 25 + rng.Intn(30)
		cloud = 6 + rng.Intn(3)
		weather, indicator = "63", "7"
	}

	pressure := 10120 + int(math.Round(rng.NormFloat64()*55))

	t10n := ""
	if hour%6 == 0 {
		t10n = strconv.Itoa(tempT - rng.Intn(15))
	}
	fog := 0
	if !wet && humidity > 97 && hour < 10 && rng.Float64() < 0.3 {
		fog = 1
	}
	snow := 0
	if wet && tempC < 1 {
		snow = 1
	}
	thunder := 0
	if wet && seasonal > 0.5 && rng.Float64() < 0.05 {
		thunder = 1
	}

	stats.observe(tempT, radiation, wet)

	fields := []string{
		stationID, date, strconv.Itoa(hour),
		strconv.Itoa(windDir), strconv.Itoa(windHourly), strconv.Itoa(wind10min),
		strconv.Itoa(tempT), t10n, strconv.Itoa(dewT),
		strconv.Itoa(sunshine), strconv.Itoa(radiation),
		strconv.Itoa(duration), strconv.Itoa(amount),
		strconv.Itoa(pressure), strconv.Itoa(visibility), strconv.Itoa(cloud),
		strconv.Itoa(humidity), weather, indicator,
		strconv.Itoa(fog), strconv.Itoa(rain), strconv.Itoa(snow),
		strconv.Itoa(thunder), "0",
	}
	return strings.Join(fields, ",")
}

func writeFile(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, content, 0o644)
}

func writeZip(path, member string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	zw := zip.NewWriter(f)
	w, err := zw.Create(member)
	if err == nil {
		_, err = w.Write(content)
	}
	if cerr := zw.Close(); err == nil {
		err = cerr
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// fixtureStats aggregates generated values for the closing report.
type fixtureStats struct {
	rows     int
	minT     int
	maxT     int
	sumT     int64
	wetHours int
	maxQ     int
}

func (s *fixtureStats) observe(tempT, radiation int, wet bool) {
	if s.rows == 0 || tempT < s.minT {
		s.minT = tempT
	}
	if s.rows == 0 || tempT > s.maxT {
		s.maxT = tempT
	}
	s.rows++
	s.sumT += int64(tempT)
	if wet {
		s.wetHours++
	}
	if radiation > s.maxQ {
		s.maxQ = radiation
	}
}

func printStats(s fixtureStats) {
	if s.rows == 0 {
		return
	}
	fmt.Println("\n=== Fixture stats ===")
	fmt.Printf("Rows: %d\n", s.rows)
	fmt.Printf("Temperature: min %.1f, mean %.1f, max %.1f C\n",
		float64(s.minT)/10, float64(s.sumT)/float64(s.rows)/10, float64(s.maxT)/10)
	fmt.Printf("Wet hours: %d (%.1f%%)\n", s.wetHours, float64(s.wetHours)/float64(s.rows)*100)
	fmt.Printf("Max global radiation: %d J/cm2 (%.0f W/m2)\n", s.maxQ, float64(s.maxQ)*10000/3600)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

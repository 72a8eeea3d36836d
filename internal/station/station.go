// Package station loads and queries KNMI weather station metadata.
//
// Station metadata ships as a transposed CSV: the header row carries the
// station IDs and the four data rows carry name, abbreviation, latitude and
// longitude. Column i of every row describes the same station.
package station

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Bowen577/KNMI-EPW-Generator/internal/domain"
)

// Station is one KNMI measuring site.
type Station struct {
	ID           string  `json:"station_id" yaml:"station_id"`
	Name         string  `json:"name" yaml:"name"`
	Abbreviation string  `json:"abbreviation" yaml:"abbreviation"`
	Latitude     float64 `json:"latitude" yaml:"latitude"`
	Longitude    float64 `json:"longitude" yaml:"longitude"`
}

func (s Station) String() string {
	return fmt.Sprintf("Station %s: %s (%s)", s.ID, s.Name, s.Abbreviation)
}

// Neighbor pairs a station with its distance from a query point.
type Neighbor struct {
	Station  Station
	Distance float64
}

// Manager holds the station registry loaded from the metadata CSV.
type Manager struct {
	stations map[string]Station
	logger   *slog.Logger
}

// NewManager loads station metadata from path. Individual malformed columns
// are skipped with a warning; an unreadable or structurally broken file is an
// error.
func NewManager(path string, logger *slog.Logger) (*Manager, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, domain.E(domain.KindStation, "open station file", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, domain.E(domain.KindStation, "read station file", path, err)
	}
	if len(rows) < 5 {
		return nil, domain.Errorf(domain.KindStation, "read station file", path,
			"expected header plus 4 attribute rows, got %d rows", len(rows))
	}

	ids, names, abbrevs, lats, lons := rows[0], rows[1], rows[2], rows[3], rows[4]

	m := &Manager{stations: make(map[string]Station, len(ids)), logger: logger}
	for i, id := range ids {
		id = strings.TrimSpace(id)
		st, err := buildStation(id, i, names, abbrevs, lats, lons)
		if err != nil {
			logger.Warn("skipping station with malformed metadata", "station", id, "error", err)
			continue
		}
		m.stations[id] = st
	}

	logger.Info("loaded weather stations", "count", len(m.stations), "file", path)
	return m, nil
}

func buildStation(id string, i int, names, abbrevs, lats, lons []string) (Station, error) {
	if i >= len(names) || i >= len(abbrevs) || i >= len(lats) || i >= len(lons) {
		return Station{}, fmt.Errorf("attribute rows shorter than header")
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(lats[i]), 64)
	if err != nil {
		return Station{}, fmt.Errorf("latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lons[i]), 64)
	if err != nil {
		return Station{}, fmt.Errorf("longitude: %w", err)
	}
	return Station{
		ID:           id,
		Name:         strings.TrimSpace(names[i]),
		Abbreviation: strings.TrimSpace(abbrevs[i]),
		Latitude:     lat,
		Longitude:    lon,
	}, nil
}

// Get returns the station with the given ID.
func (m *Manager) Get(id string) (Station, bool) {
	st, ok := m.stations[strings.TrimSpace(id)]
	return st, ok
}

// Has reports whether id is a known station.
func (m *Manager) Has(id string) bool {
	_, ok := m.Get(id)
	return ok
}

// IDs returns all station IDs in ascending order.
func (m *Manager) IDs() []string {
	ids := make([]string, 0, len(m.stations))
	for id := range m.stations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// All returns every station ordered by ID.
func (m *Manager) All() []Station {
	out := make([]Station, 0, len(m.stations))
	for _, id := range m.IDs() {
		out = append(out, m.stations[id])
	}
	return out
}

// SearchByName returns stations whose name contains pattern, case-insensitive,
// ordered by ID.
func (m *Manager) SearchByName(pattern string) []Station {
	pattern = strings.ToLower(pattern)
	var out []Station
	for _, st := range m.All() {
		if strings.Contains(strings.ToLower(st.Name), pattern) {
			out = append(out, st)
		}
	}
	return out
}

// Nearest returns the count stations closest to the given coordinates.
// Distance is Euclidean on raw degrees, a plane approximation that holds at
// Dutch latitudes over Dutch distances.
func (m *Manager) Nearest(lat, lon float64, count int) []Neighbor {
	neighbors := make([]Neighbor, 0, len(m.stations))
	for _, st := range m.All() {
		dLat := st.Latitude - lat
		dLon := st.Longitude - lon
		neighbors = append(neighbors, Neighbor{
			Station:  st,
			Distance: math.Sqrt(dLat*dLat + dLon*dLon),
		})
	}
	sort.SliceStable(neighbors, func(i, j int) bool { return neighbors[i].Distance < neighbors[j].Distance })
	if count < len(neighbors) {
		neighbors = neighbors[:count]
	}
	return neighbors
}

// Export writes the registry to path in the given format: csv, json or yaml.
func (m *Manager) Export(path, format string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return domain.E(domain.KindStation, "export stations", path, err)
	}

	stations := m.All()

	var err error
	switch strings.ToLower(format) {
	case "csv":
		err = exportCSV(path, stations)
	case "json":
		err = exportJSON(path, stations)
	case "yaml":
		err = exportYAML(path, stations)
	default:
		return domain.Errorf(domain.KindStation, "export stations", path,
			"unsupported format %q", format)
	}
	if err != nil {
		return domain.E(domain.KindStation, "export stations", path, err)
	}

	m.logger.Info("exported stations", "count", len(stations), "file", path, "format", format)
	return nil
}

func exportCSV(path string, stations []Station) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"station_id", "name", "abbreviation", "latitude", "longitude"}); err != nil {
		return err
	}
	for _, st := range stations {
		row := []string{
			st.ID, st.Name, st.Abbreviation,
			strconv.FormatFloat(st.Latitude, 'f', -1, 64),
			strconv.FormatFloat(st.Longitude, 'f', -1, 64),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func exportJSON(path string, stations []Station) error {
	data, err := json.MarshalIndent(stations, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func exportYAML(path string, stations []Station) error {
	data, err := yaml.Marshal(stations)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

package station_test

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Bowen577/KNMI-EPW-Generator/internal/station"
)

const stationCSV = `209,215,225,240,260
IJmond,Voorschoten,IJmuiden,Schiphol,De Bilt
IJMD,VOOR,IJMU,SCHI,DEBI
52.465,52.141,52.463,52.318,52.100
4.518,4.437,4.555,4.790,5.180
`

// writeStationFile drops a metadata CSV into a temp dir and returns its path.
func writeStationFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stations.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func makeManager(t *testing.T) *station.Manager {
	t.Helper()
	m, err := station.NewManager(writeStationFile(t, stationCSV), slog.Default())
	require.NoError(t, err)
	return m
}

func TestNewManager(t *testing.T) {
	t.Run("loads all stations", func(t *testing.T) {
		m := makeManager(t)
		assert.Equal(t, []string{"209", "215", "225", "240", "260"}, m.IDs())

		st, ok := m.Get("260")
		require.True(t, ok)
		assert.Equal(t, "De Bilt", st.Name)
		assert.Equal(t, "DEBI", st.Abbreviation)
		assert.Equal(t, 52.100, st.Latitude)
		assert.Equal(t, 5.180, st.Longitude)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := station.NewManager(filepath.Join(t.TempDir(), "nope.csv"), slog.Default())
		require.Error(t, err)
	})

	t.Run("too few rows", func(t *testing.T) {
		path := writeStationFile(t, "209,215\nIJmond,Voorschoten\n")
		_, err := station.NewManager(path, slog.Default())
		require.Error(t, err)
	})

	t.Run("skips stations with malformed coordinates", func(t *testing.T) {
		csv := "209,215\nIJmond,Voorschoten\nIJMD,VOOR\n52.465,not-a-number\n4.518,4.437\n"
		m, err := station.NewManager(writeStationFile(t, csv), slog.Default())
		require.NoError(t, err)
		assert.Equal(t, []string{"209"}, m.IDs())
	})
}

func TestManagerQueries(t *testing.T) {
	m := makeManager(t)

	t.Run("Get trims whitespace", func(t *testing.T) {
		_, ok := m.Get(" 240 ")
		assert.True(t, ok)
	})

	t.Run("Has", func(t *testing.T) {
		assert.True(t, m.Has("209"))
		assert.False(t, m.Has("999"))
	})

	t.Run("SearchByName is case-insensitive substring", func(t *testing.T) {
		got := m.SearchByName("ijm")
		require.Len(t, got, 2)
		assert.Equal(t, "IJmond", got[0].Name)
		assert.Equal(t, "IJmuiden", got[1].Name)

		assert.Empty(t, m.SearchByName("rotterdam"))
	})

	t.Run("Nearest orders by distance", func(t *testing.T) {
		// Query point sits on De Bilt exactly.
		got := m.Nearest(52.100, 5.180, 3)
		require.Len(t, got, 3)
		assert.Equal(t, "260", got[0].Station.ID)
		assert.Equal(t, 0.0, got[0].Distance)
		assert.Equal(t, "240", got[1].Station.ID)
		assert.Less(t, got[1].Distance, got[2].Distance)
	})

	t.Run("Nearest caps at registry size", func(t *testing.T) {
		got := m.Nearest(52.0, 5.0, 50)
		assert.Len(t, got, 5)
	})
}

func TestExport(t *testing.T) {
	m := makeManager(t)

	t.Run("csv", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "out", "stations.csv")
		require.NoError(t, m.Export(path, "csv"))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		require.Len(t, lines, 6)
		assert.Equal(t, "station_id,name,abbreviation,latitude,longitude", lines[0])
		assert.Equal(t, "209,IJmond,IJMD,52.465,4.518", lines[1])
	})

	t.Run("json", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "stations.json")
		require.NoError(t, m.Export(path, "json"))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		var got []station.Station
		require.NoError(t, json.Unmarshal(data, &got))
		require.Len(t, got, 5)
		assert.Equal(t, "IJmond", got[0].Name)
	})

	t.Run("yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "stations.yaml")
		require.NoError(t, m.Export(path, "yaml"))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		var got []station.Station
		require.NoError(t, yaml.Unmarshal(data, &got))
		require.Len(t, got, 5)
		assert.Equal(t, "SCHI", got[3].Abbreviation)
	})

	t.Run("unsupported format", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "stations.xml")
		require.Error(t, m.Export(path, "xml"))
	})
}

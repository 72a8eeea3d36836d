// Package process turns raw uurgeg files into clean hourly record tables.
//
// The streaming path reads the file in bounded chunks so a decade-sized
// archive never sits in memory whole. A chunk that fails to transform is
// logged and skipped; processing fails only when no chunk survives. Either
// path finishes the same way: solar decomposition, quality fixes, missing
// value substitution, leap day removal and a chronological sort.
package process

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/Bowen577/KNMI-EPW-Generator/internal/config"
	"github.com/Bowen577/KNMI-EPW-Generator/internal/domain"
	"github.com/Bowen577/KNMI-EPW-Generator/internal/observability"
	"github.com/Bowen577/KNMI-EPW-Generator/internal/station"
)

// reclaimEvery is the chunk interval between memory governor passes.
const reclaimEvery = 5

// hoursPerYear is the expected record count for one station-year.
const hoursPerYear = 8760

// chunkFunc transforms one chunk of raw rows. index is zero-based.
type chunkFunc func(index int, rows [][]string) ([]domain.HourlyRecord, error)

// Processor converts raw KNMI data into validated hourly records.
type Processor struct {
	chunkSize int
	skipRows  int
	solar     SolarModel
	governor  *MemoryGovernor
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewProcessor builds a Processor from configuration. model may be nil to
// use the default flat solar split.
func NewProcessor(cfg *config.Config, model SolarModel, governor *MemoryGovernor, logger *slog.Logger, metrics *observability.Metrics) *Processor {
	if model == nil {
		model = DefaultSolarModel()
	}
	return &Processor{
		chunkSize: cfg.ChunkSize,
		skipRows:  cfg.SkipRows,
		solar:     model,
		governor:  governor,
		logger:    logger,
		metrics:   metrics,
	}
}

// Transform reads the whole raw file at once and converts it. Suited to
// single-year files; TransformStreaming handles anything bigger.
func (p *Processor) Transform(ctx context.Context, rawPath string, st station.Station, year int) ([]domain.HourlyRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, cols, err := p.readRows(rawPath)
	if err != nil {
		return nil, err
	}

	recs, err := p.transformChunk(rows, cols)
	if err != nil {
		return nil, domain.E(domain.KindProcessing, "transform", itemKey(st.ID, year), err)
	}
	return p.finalize(recs, st, year), nil
}

// TransformStreaming converts the raw file in chunks of the configured size.
// Failing chunks are skipped with a warning; the transform fails only when
// every chunk failed.
func (p *Processor) TransformStreaming(ctx context.Context, rawPath string, st station.Station, year int) ([]domain.HourlyRecord, error) {
	f, err := os.Open(rawPath)
	if err != nil {
		return nil, domain.E(domain.KindProcessing, "open raw file", rawPath, err)
	}
	defer f.Close()

	scanner := newRowScanner(f)
	cols, err := p.skipToHeader(scanner)
	if err != nil {
		return nil, domain.E(domain.KindProcessing, "read header", rawPath, err)
	}

	recs, err := p.streamChunks(ctx, scanner, p.chunkSize, itemKey(st.ID, year), func(_ int, rows [][]string) ([]domain.HourlyRecord, error) {
		return p.transformChunk(rows, cols)
	})
	if err != nil {
		return nil, err
	}

	if p.governor != nil {
		p.logger.Info("streaming transform complete",
			"station", st.ID, "year", year, "records", len(recs), "peak_memory_mb", int64(p.governor.PeakMB()))
	}
	return p.finalize(recs, st, year), nil
}

// Validate checks a finished record table. Only an empty table or a field
// that was never actually observed fails validation; range oddities and an
// incomplete year are logged as warnings.
func (p *Processor) Validate(recs []domain.HourlyRecord) bool {
	if len(recs) == 0 {
		p.logger.Error("validation failed: no records to validate")
		return false
	}

	required := []struct {
		name    string
		get     func(domain.HourlyRecord) float64
		missing float64
	}{
		{"temperature", func(r domain.HourlyRecord) float64 { return r.Temp }, domain.MissingTemp},
		{"humidity", func(r domain.HourlyRecord) float64 { return r.Humidity }, domain.MissingHumidity},
		{"pressure", func(r domain.HourlyRecord) float64 { return r.Pressure }, domain.MissingPressure},
	}
	for _, req := range required {
		observed := false
		for _, rec := range recs {
			if req.get(rec) != req.missing {
				observed = true
				break
			}
		}
		if !observed {
			p.logger.Error("validation failed: required field never observed", "field", req.name)
			return false
		}
	}

	ranges := []struct {
		name     string
		get      func(domain.HourlyRecord) float64
		min, max float64
	}{
		{"temperature", func(r domain.HourlyRecord) float64 { return r.Temp }, -50, 60},
		{"humidity", func(r domain.HourlyRecord) float64 { return r.Humidity }, 0, 100},
		{"pressure", func(r domain.HourlyRecord) float64 { return r.Pressure }, 80000, 110000},
		{"global radiation", func(r domain.HourlyRecord) float64 { return r.GHI }, 0, 1500},
		{"wind speed", func(r domain.HourlyRecord) float64 { return r.WindSpeed }, 0, 100},
	}
	for _, rng := range ranges {
		outliers := 0
		for _, rec := range recs {
			if v := rng.get(rec); v < rng.min || v > rng.max {
				outliers++
			}
		}
		if outliers*10 > len(recs) {
			p.logger.Warn("field has many out-of-range values",
				"field", rng.name, "outliers", outliers, "records", len(recs))
		}
	}

	if len(recs) < hoursPerYear {
		p.logger.Warn("incomplete year of data", "records", len(recs), "expected", hoursPerYear)
	}
	return true
}

// streamChunks groups scanner rows into chunks of chunkSize and runs fn on
// each. A chunk whose fn fails is skipped with a warning. Every reclaimEvery
// chunks the memory governor gets a pass. Returns an error only when chunks
// existed and none succeeded.
func (p *Processor) streamChunks(ctx context.Context, scanner *bufio.Scanner, chunkSize int, key string, fn chunkFunc) ([]domain.HourlyRecord, error) {
	var (
		out       []domain.HourlyRecord
		chunk     [][]string
		index     int
		succeeded int
	)

	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		recs, err := fn(index, chunk)
		if err != nil {
			p.logger.Warn("chunk transform failed, skipping", "chunk", index, "rows", len(chunk), "error", err)
			p.metrics.ChunkFailures.Inc()
		} else {
			out = append(out, recs...)
			succeeded++
			p.metrics.ChunksProcessed.Inc()
		}

		index++
		chunk = chunk[:0]

		if p.governor != nil && index%reclaimEvery == 0 {
			p.governor.Reclaim()
			p.governor.CheckPressure()
		}
		return nil
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		chunk = append(chunk, strings.Split(line, ","))
		if len(chunk) == chunkSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if err := scanner.Err(); err != nil {
		return nil, domain.E(domain.KindProcessing, "read raw data", key, err)
	}

	if index > 0 && succeeded == 0 {
		return nil, domain.Errorf(domain.KindValidation, "stream transform", key, "no data chunks were successfully processed")
	}
	return out, nil
}

// transformChunk parses every row of a chunk. Individual unparsable rows are
// dropped; the chunk fails when nothing in it parses.
func (p *Processor) transformChunk(rows [][]string, cols map[string]int) ([]domain.HourlyRecord, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	recs := make([]domain.HourlyRecord, 0, len(rows))
	bad := 0
	for _, fields := range rows {
		rec, err := domain.ParseRecord(fields, cols)
		if err != nil {
			bad++
			continue
		}
		recs = append(recs, rec)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("all %d rows unparsable", len(rows))
	}
	if bad > 0 {
		p.logger.Debug("dropped unparsable rows", "count", bad, "chunk_rows", len(rows))
	}
	return recs, nil
}

// finalize runs the post-parse stages shared by both transform paths.
func (p *Processor) finalize(recs []domain.HourlyRecord, st station.Station, year int) []domain.HourlyRecord {
	recs = domain.DropLeapDay(recs)
	for i, rec := range recs {
		rec.DNI, rec.DHI = p.solar.Decompose(rec.Time, rec.GHI, st.Latitude, st.Longitude)
		rec = domain.ApplyQualityFixes(rec)
		recs[i] = domain.FillMissing(rec)
	}
	domain.SortByTime(recs)

	p.metrics.RecordsProcessed.Add(float64(len(recs)))
	p.logger.Debug("records finalized", "station", st.ID, "year", year, "count", len(recs))
	return recs
}

// readRows loads every data row of a raw file into memory.
func (p *Processor) readRows(rawPath string) ([][]string, map[string]int, error) {
	f, err := os.Open(rawPath)
	if err != nil {
		return nil, nil, domain.E(domain.KindProcessing, "open raw file", rawPath, err)
	}
	defer f.Close()

	scanner := newRowScanner(f)
	cols, err := p.skipToHeader(scanner)
	if err != nil {
		return nil, nil, domain.E(domain.KindProcessing, "read header", rawPath, err)
	}

	var rows [][]string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		rows = append(rows, strings.Split(line, ","))
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, domain.E(domain.KindProcessing, "read raw file", rawPath, err)
	}
	return rows, cols, nil
}

// skipToHeader advances past the comment preamble and parses the column
// header line that follows it.
func (p *Processor) skipToHeader(scanner *bufio.Scanner) (map[string]int, error) {
	for i := 0; i < p.skipRows; i++ {
		if !scanner.Scan() {
			return nil, fmt.Errorf("file ends inside the %d-line preamble", p.skipRows)
		}
	}
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cols := domain.ParseColumns(line)
		if _, ok := cols["YYYYMMDD"]; !ok {
			return nil, fmt.Errorf("header line lacks a YYYYMMDD column: %q", line)
		}
		return cols, nil
	}
	return nil, fmt.Errorf("no header line after the preamble")
}

func newRowScanner(f *os.File) *bufio.Scanner {
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return scanner
}

func itemKey(stationID string, year int) string {
	return fmt.Sprintf("%s/%d", stationID, year)
}

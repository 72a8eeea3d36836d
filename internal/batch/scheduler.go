// Package batch runs station-year conversions either strictly in order or
// through a bounded worker pool, consulting the outcome cache before invoking
// the conversion pipeline. Item failures are recorded per item and never
// abort a run.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Bowen577/KNMI-EPW-Generator/internal/cache"
	"github.com/Bowen577/KNMI-EPW-Generator/internal/domain"
	"github.com/Bowen577/KNMI-EPW-Generator/internal/observability"
	"github.com/Bowen577/KNMI-EPW-Generator/internal/station"
)

const defaultMaxWorkers = 4

// Pipeline is the conversion collaborator driven for items that miss the
// outcome cache.
type Pipeline interface {
	Fetch(ctx context.Context, st station.Station, year int, force bool) (string, error)
	Transform(ctx context.Context, rawPath string, st station.Station, year int) ([]domain.HourlyRecord, error)
	TransformStreaming(ctx context.Context, rawPath string, st station.Station, year int) ([]domain.HourlyRecord, error)
	Validate(records []domain.HourlyRecord) bool
	Write(ctx context.Context, records []domain.HourlyRecord, st station.Station, year int, outputPath string) (string, error)
}

// Item is one unit of work keyed by station and year. The scheduler does not
// deduplicate identical keys within a submitted list.
type Item struct {
	Station station.Station
	Year    int
	// OutputPath overrides the generator's conventional location when set.
	OutputPath string
}

func (it Item) key() string {
	return fmt.Sprintf("%s/%d", it.Station.ID, it.Year)
}

// Result records the outcome of one item.
type Result struct {
	StationID    string        `json:"station_id"`
	Year         int           `json:"year"`
	Success      bool          `json:"success"`
	OutputPath   string        `json:"output_path,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	RecordCount  int           `json:"record_count"`
	Duration     time.Duration `json:"duration"`
	CompletedAt  time.Time     `json:"completed_at"`
	FromCache    bool          `json:"-"`
}

// Stats aggregates a completed run. TotalTime is the wall-clock duration of
// the whole run, not the sum of per-item durations.
type Stats struct {
	Total          int
	Successful     int
	Failed         int
	TotalRecords   int
	TotalTime      time.Duration
	AveragePerItem time.Duration
	CacheHits      int
	CacheMisses    int
}

// Options control one Run call.
type Options struct {
	Parallel   bool
	MaxWorkers int
	// ForceRefresh bypasses the outcome cache read; successful results are
	// still written back.
	ForceRefresh bool
	// Streaming routes the transform through the chunked path.
	Streaming bool
	// OnProgress is invoked once per item, in completion order.
	OnProgress func(completed, total int, res Result)
}

// Scheduler executes conversion items and aggregates run statistics. Hit and
// miss counters reset at the start of every Run.
//
// Identical keys submitted or processed concurrently are not deduplicated:
// both workers run the full pipeline and the last outcome write wins.
type Scheduler struct {
	pipeline Pipeline
	outcomes *cache.Store // nil disables outcome caching
	logger   *slog.Logger
	metrics  *observability.Metrics

	hits   atomic.Int64
	misses atomic.Int64
}

func NewScheduler(p Pipeline, outcomes *cache.Store, logger *slog.Logger, metrics *observability.Metrics) *Scheduler {
	return &Scheduler{
		pipeline: p,
		outcomes: outcomes,
		logger:   logger,
		metrics:  metrics,
	}
}

// Run processes every item and returns per-item results plus aggregate
// statistics. Sequential mode preserves input order for results and progress
// callbacks; parallel mode reports both in completion order.
func (s *Scheduler) Run(ctx context.Context, items []Item, opts Options) ([]Result, Stats) {
	s.hits.Store(0)
	s.misses.Store(0)
	s.metrics.BatchRunning.Set(1)
	defer s.metrics.BatchRunning.Set(0)

	start := clock.Now()
	s.logger.Info("batch run started",
		"items", len(items), "parallel", opts.Parallel, "streaming", opts.Streaming, "force_refresh", opts.ForceRefresh)

	var results []Result
	if opts.Parallel && len(items) > 1 {
		results = s.runParallel(ctx, items, opts)
	} else {
		results = s.runSequential(ctx, items, opts)
	}

	stats := s.buildStats(results, clock.Since(start))
	s.metrics.BatchDuration.Observe(stats.TotalTime.Seconds())
	s.logger.Info("batch run finished",
		"total", stats.Total, "successful", stats.Successful, "failed", stats.Failed,
		"records", stats.TotalRecords, "cache_hits", stats.CacheHits, "cache_misses", stats.CacheMisses,
		"duration", stats.TotalTime)
	return results, stats
}

func (s *Scheduler) runSequential(ctx context.Context, items []Item, opts Options) []Result {
	results := make([]Result, 0, len(items))
	for i, it := range items {
		res := s.processItem(ctx, it, opts)
		results = append(results, res)
		if opts.OnProgress != nil {
			opts.OnProgress(i+1, len(items), res)
		}
	}
	return results
}

// runParallel fans items out to a bounded worker pool and collects results as
// they complete. The collection mutex also serializes OnProgress so the
// completed count it reports is consistent with its result.
func (s *Scheduler) runParallel(ctx context.Context, items []Item, opts Options) []Result {
	workers := opts.MaxWorkers
	if workers <= 0 {
		workers = defaultMaxWorkers
	}
	if workers > len(items) {
		workers = len(items)
	}

	var mu sync.Mutex
	results := make([]Result, 0, len(items))

	workCh := make(chan Item)
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for it := range workCh {
				res := s.processItem(ctx, it, opts)
				mu.Lock()
				results = append(results, res)
				completed := len(results)
				if opts.OnProgress != nil {
					opts.OnProgress(completed, len(items), res)
				}
				mu.Unlock()
			}
			return nil
		})
	}

	for _, it := range items {
		workCh <- it
	}
	close(workCh)
	_ = g.Wait()

	return results
}

// processItem runs the cache check and, on a miss, the full pipeline. All
// pipeline failures come back as a failed Result, never as a panic or an
// aborted run.
func (s *Scheduler) processItem(ctx context.Context, it Item, opts Options) Result {
	start := clock.Now()

	if !opts.ForceRefresh {
		if res, ok := s.cachedSuccess(it); ok {
			s.hits.Add(1)
			s.metrics.ItemsProcessed.WithLabelValues("cache_hit").Inc()
			s.logger.Debug("item served from outcome cache", "station", it.Station.ID, "year", it.Year)
			return res
		}
	}
	s.misses.Add(1)

	rawPath, err := s.pipeline.Fetch(ctx, it.Station, it.Year, opts.ForceRefresh)
	if err != nil {
		return s.failed(it, start, err)
	}

	var records []domain.HourlyRecord
	if opts.Streaming {
		records, err = s.pipeline.TransformStreaming(ctx, rawPath, it.Station, it.Year)
	} else {
		records, err = s.pipeline.Transform(ctx, rawPath, it.Station, it.Year)
	}
	if err != nil {
		return s.failed(it, start, err)
	}

	if !s.pipeline.Validate(records) {
		return s.failed(it, start, domain.Errorf(domain.KindValidation, "validate records", it.key(), "records failed validation"))
	}

	outputPath, err := s.pipeline.Write(ctx, records, it.Station, it.Year, it.OutputPath)
	if err != nil {
		return s.failed(it, start, err)
	}

	res := Result{
		StationID:   it.Station.ID,
		Year:        it.Year,
		Success:     true,
		OutputPath:  outputPath,
		RecordCount: len(records),
		Duration:    clock.Since(start),
		CompletedAt: clock.Now(),
	}
	s.storeOutcome(it, res)
	s.metrics.ItemsProcessed.WithLabelValues("success").Inc()
	s.metrics.ItemDuration.Observe(res.Duration.Seconds())
	return res
}

// cachedSuccess returns a previously cached successful outcome. Failed
// outcomes are never cached, so a hit is always a completed conversion.
func (s *Scheduler) cachedSuccess(it Item) (Result, bool) {
	if s.outcomes == nil {
		return Result{}, false
	}
	var res Result
	if !s.outcomes.GetJSON(outcomeKey(it), &res) || !res.Success {
		return Result{}, false
	}
	res.FromCache = true
	return res, true
}

// storeOutcome writes a successful result back to the outcome cache. Cache
// write failures degrade to "not cached" and never fail the item.
func (s *Scheduler) storeOutcome(it Item, res Result) {
	if s.outcomes == nil {
		return
	}
	s.outcomes.SetJSON(outcomeKey(it), res, 0)
}

func (s *Scheduler) failed(it Item, start time.Time, err error) Result {
	s.logger.Warn("item failed", "station", it.Station.ID, "year", it.Year, "error", err)
	s.metrics.ItemsProcessed.WithLabelValues("failure").Inc()
	res := Result{
		StationID:    it.Station.ID,
		Year:         it.Year,
		ErrorMessage: err.Error(),
		Duration:     clock.Since(start),
		CompletedAt:  clock.Now(),
	}
	s.metrics.ItemDuration.Observe(res.Duration.Seconds())
	return res
}

func (s *Scheduler) buildStats(results []Result, elapsed time.Duration) Stats {
	stats := Stats{
		Total:       len(results),
		TotalTime:   elapsed,
		CacheHits:   int(s.hits.Load()),
		CacheMisses: int(s.misses.Load()),
	}
	for _, res := range results {
		if res.Success {
			stats.Successful++
			stats.TotalRecords += res.RecordCount
		} else {
			stats.Failed++
		}
	}
	if stats.Total > 0 {
		stats.AveragePerItem = elapsed / time.Duration(stats.Total)
	}
	return stats
}

func outcomeKey(it Item) string {
	return fmt.Sprintf("batch_result_%s_%d", it.Station.ID, it.Year)
}

// Command knmiepw converts KNMI hourly weather archives into EPW files for
// building energy simulation. One run covers a single year across one or more
// stations; archives are downloaded on demand and completed conversions are
// cached so repeat runs skip straight to the result.
//
// Usage:
//
//	go run ./cmd/knmiepw -year 2023
//	go run ./cmd/knmiepw -year 2023 -stations 240,260,280 -show-stats
//	go run ./cmd/knmiepw -list-stations
//	go run ./cmd/knmiepw -nearest "52.37,4.89"
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Bowen577/KNMI-EPW-Generator/internal/adapter/httpadapter"
	kafkaadapter "github.com/Bowen577/KNMI-EPW-Generator/internal/adapter/kafka"
	"github.com/Bowen577/KNMI-EPW-Generator/internal/batch"
	"github.com/Bowen577/KNMI-EPW-Generator/internal/cache"
	"github.com/Bowen577/KNMI-EPW-Generator/internal/config"
	"github.com/Bowen577/KNMI-EPW-Generator/internal/convert"
	"github.com/Bowen577/KNMI-EPW-Generator/internal/domain"
	"github.com/Bowen577/KNMI-EPW-Generator/internal/download"
	"github.com/Bowen577/KNMI-EPW-Generator/internal/epw"
	"github.com/Bowen577/KNMI-EPW-Generator/internal/observability"
	"github.com/Bowen577/KNMI-EPW-Generator/internal/process"
	"github.com/Bowen577/KNMI-EPW-Generator/internal/station"
)

var (
	yearFlag     = flag.Int("year", 0, "year to convert (required unless a station query flag is used)")
	stationsFlag = flag.String("stations", "", "comma-separated station IDs (default: every known station)")
	outputDir    = flag.String("output-dir", "", "override the EPW output directory")
	forceRefresh = flag.Bool("force-refresh", false, "re-download archives and ignore cached outcomes")
	sequential   = flag.Bool("sequential", false, "process stations one at a time instead of in parallel")
	noStreaming  = flag.Bool("no-streaming", false, "load raw files in a single pass instead of chunked streaming")
	maxWorkers   = flag.Int("max-workers", 0, "parallel worker count (default: configured value)")
	disableCache = flag.Bool("disable-cache", false, "turn the cache off for this run")
	showStats    = flag.Bool("show-stats", false, "print per-station progress and performance statistics")
	cleanupDays  = flag.Int("cleanup-days", 0, "after the run, delete raw files older than this many days")
	configFile   = flag.String("config", "", "path to a YAML config file")

	listStations = flag.Bool("list-stations", false, "print the station registry and exit")
	stationInfo  = flag.String("station-info", "", "print details for one station ID and exit")
	nearestFlag  = flag.String("nearest", "", `print the 5 stations closest to "lat,lon" and exit`)
	searchFlag   = flag.String("search", "", "print stations whose name matches and exit")
	exportFlag   = flag.String("export-stations", "", "write the registry to this path (format from extension) and exit")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	if *configFile != "" {
		os.Setenv("KNMI_CONFIG_FILE", *configFile)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}
	if *outputDir != "" {
		cfg.OutputDir = *outputDir
	}
	if *maxWorkers > 0 {
		cfg.MaxWorkers = *maxWorkers
	}
	if *disableCache {
		cfg.CacheEnabled = false
	}

	logger := observability.NewLogger(cfg)

	manager, err := station.NewManager(cfg.StationFile, logger)
	if err != nil {
		logger.Error("failed to load station registry", "error", err)
		return 1
	}

	if *listStations || *stationInfo != "" || *nearestFlag != "" || *searchFlag != "" || *exportFlag != "" {
		return runStationQuery(manager)
	}

	if *yearFlag == 0 {
		fmt.Fprintln(os.Stderr, "missing required -year flag")
		return 2
	}
	if err := domain.ValidateYear(*yearFlag); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	return runConvert(cfg, manager, logger)
}

func runConvert(cfg *config.Config, manager *station.Manager, logger *slog.Logger) int {
	metrics := observability.NewMetrics()

	if err := cfg.EnsureDirs(); err != nil {
		logger.Error("failed to create data directories", "error", err)
		return 1
	}

	var store *cache.Store
	if cfg.CacheEnabled {
		var err error
		store, err = cache.NewStore(cfg.CacheDir, cfg.CacheMaxSizeMB, cfg.CacheTTL, logger, metrics)
		if err != nil {
			logger.Error("failed to open cache", "error", err)
			return 1
		}
	}

	downloader, err := download.NewDownloader(cfg, store, logger, metrics)
	if err != nil {
		logger.Error("failed to build downloader", "error", err)
		return 1
	}
	governor := process.NewMemoryGovernor(cfg.MemoryLimitMB, logger, metrics)
	processor := process.NewProcessor(cfg, nil, governor, logger, metrics)
	generator := epw.NewGenerator(cfg, logger)
	scheduler := batch.NewScheduler(convert.NewPipeline(downloader, processor, generator), store, logger, metrics)

	items, err := buildItems(manager, *stationsFlag, *yearFlag)
	if err != nil {
		logger.Error("invalid station selection", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Health and metrics endpoints are only worth a port during long runs, so
	// the server stays off unless an address is configured.
	var srv *httpadapter.Server
	if cfg.HTTPAddr != "" {
		var stats httpadapter.StatsSource
		if store != nil {
			stats = store
		}
		srv = httpadapter.NewServer(cfg.HTTPAddr, downloader, stats, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
	}

	opts := batch.Options{
		Parallel:     !*sequential,
		MaxWorkers:   cfg.MaxWorkers,
		ForceRefresh: *forceRefresh,
		Streaming:    !*noStreaming,
	}
	if *showStats {
		opts.OnProgress = func(completed, total int, res batch.Result) {
			if res.Success {
				logger.Info("station converted",
					"progress", fmt.Sprintf("%d/%d", completed, total),
					"station", res.StationID, "records", res.RecordCount, "duration", res.Duration)
			}
		}
	}

	results, stats := scheduler.Run(ctx, items, opts)

	if cfg.KafkaEnabled {
		writer := kafkaadapter.NewWriter(cfg, logger)
		if err := writer.PublishResults(ctx, results); err != nil {
			logger.Error("failed to publish conversion results", "error", err)
		}
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	if *cleanupDays > 0 {
		removed := downloader.CleanupOldFiles(*cleanupDays)
		logger.Info("removed old raw files", "count", removed, "keep_days", *cleanupDays)
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
	}

	printSummary(cfg, results, stats)
	if *showStats {
		printPerformance(cfg, opts, results)
	}
	if stats.Successful == 0 {
		return 1
	}
	return 0
}

// buildItems resolves the -stations selection against the registry. Unknown
// IDs fail the whole run up front rather than surfacing one by one mid-batch.
func buildItems(manager *station.Manager, selection string, year int) ([]batch.Item, error) {
	var stations []station.Station
	if selection == "" {
		stations = manager.All()
	} else {
		var unknown []string
		for _, id := range strings.Split(selection, ",") {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			st, ok := manager.Get(id)
			if !ok {
				unknown = append(unknown, id)
				continue
			}
			stations = append(stations, st)
		}
		if len(unknown) > 0 {
			return nil, fmt.Errorf("unknown station IDs: %s", strings.Join(unknown, ", "))
		}
	}
	if len(stations) == 0 {
		return nil, errors.New("no stations selected")
	}

	items := make([]batch.Item, 0, len(stations))
	for _, st := range stations {
		items = append(items, batch.Item{Station: st, Year: year})
	}
	return items, nil
}

func printSummary(cfg *config.Config, results []batch.Result, stats batch.Stats) {
	fmt.Printf("\nConversion finished: %d/%d stations succeeded", stats.Successful, stats.Total)
	if stats.Failed > 0 {
		fmt.Printf(", %d failed", stats.Failed)
	}
	fmt.Println()
	fmt.Printf("  records written:  %d\n", stats.TotalRecords)
	fmt.Printf("  total time:       %s\n", stats.TotalTime.Round(time.Millisecond))
	fmt.Printf("  average per item: %s\n", stats.AveragePerItem.Round(time.Millisecond))
	if cfg.CacheEnabled {
		lookups := stats.CacheHits + stats.CacheMisses
		rate := 0.0
		if lookups > 0 {
			rate = float64(stats.CacheHits) / float64(lookups) * 100
		}
		fmt.Printf("  cache:            %d hits, %d misses (%.1f%% hit rate)\n",
			stats.CacheHits, stats.CacheMisses, rate)
	}

	var failed []batch.Result
	for _, res := range results {
		if !res.Success {
			failed = append(failed, res)
		}
	}
	if len(failed) > 0 {
		fmt.Println("\nFailed stations:")
		for _, res := range failed {
			fmt.Printf("  %s/%d: %s\n", res.StationID, res.Year, res.ErrorMessage)
		}
	}
}

func printPerformance(cfg *config.Config, opts batch.Options, results []batch.Result) {
	mode := "parallel"
	if !opts.Parallel {
		mode = "sequential"
	}
	memory := "streaming"
	if !opts.Streaming {
		memory = "single pass"
	}
	fmt.Println("\nPerformance:")
	fmt.Printf("  mode:    %s (%d workers)\n", mode, opts.MaxWorkers)
	fmt.Printf("  memory:  %s\n", memory)
	fmt.Printf("  caching: %v\n", cfg.CacheEnabled)

	var durations []time.Duration
	for _, res := range results {
		if res.Success {
			durations = append(durations, res.Duration)
		}
	}
	if len(durations) == 0 {
		return
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	fmt.Printf("  fastest: %s\n", durations[0].Round(time.Millisecond))
	fmt.Printf("  slowest: %s\n", durations[len(durations)-1].Round(time.Millisecond))
	fmt.Printf("  median:  %s\n", durations[len(durations)/2].Round(time.Millisecond))
}

func runStationQuery(manager *station.Manager) int {
	switch {
	case *listStations:
		all := manager.All()
		fmt.Printf("Known weather stations (%d):\n", len(all))
		for _, st := range all {
			fmt.Printf("  %3s  %-24s %-4s  %8.4f  %8.4f\n",
				st.ID, st.Name, st.Abbreviation, st.Latitude, st.Longitude)
		}

	case *stationInfo != "":
		st, ok := manager.Get(*stationInfo)
		if !ok {
			fmt.Fprintf(os.Stderr, "station %s not found\n", *stationInfo)
			return 1
		}
		fmt.Printf("Station %s\n", st.ID)
		fmt.Printf("  name:         %s\n", st.Name)
		fmt.Printf("  abbreviation: %s\n", st.Abbreviation)
		fmt.Printf("  latitude:     %.4f\n", st.Latitude)
		fmt.Printf("  longitude:    %.4f\n", st.Longitude)

	case *nearestFlag != "":
		lat, lon, err := parseCoords(*nearestFlag)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		fmt.Printf("Stations nearest to (%.4f, %.4f):\n", lat, lon)
		for _, nb := range manager.Nearest(lat, lon, 5) {
			fmt.Printf("  %3s  %-24s distance %.4f\n", nb.Station.ID, nb.Station.Name, nb.Distance)
		}

	case *searchFlag != "":
		matches := manager.SearchByName(*searchFlag)
		if len(matches) == 0 {
			fmt.Printf("no stations match %q\n", *searchFlag)
			return 1
		}
		fmt.Printf("Stations matching %q:\n", *searchFlag)
		for _, st := range matches {
			fmt.Printf("  %3s  %s (%s)\n", st.ID, st.Name, st.Abbreviation)
		}

	case *exportFlag != "":
		format := strings.TrimPrefix(strings.ToLower(filepath.Ext(*exportFlag)), ".")
		if err := manager.Export(*exportFlag, format); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Printf("station registry exported to %s\n", *exportFlag)
	}
	return 0
}

func parseCoords(s string) (lat, lon float64, err error) {
	latStr, lonStr, ok := strings.Cut(s, ",")
	if !ok {
		return 0, 0, fmt.Errorf("invalid coordinates %q: expected \"lat,lon\"", s)
	}
	lat, err = strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid latitude in %q: %w", s, err)
	}
	lon, err = strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid longitude in %q: %w", s, err)
	}
	return lat, lon, nil
}

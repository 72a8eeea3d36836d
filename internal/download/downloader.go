// Package download discovers and fetches KNMI hourly-observation archives.
//
// The KNMI portal publishes one zip per station per decade, named
// uurgeg_<station>_<from>-<to>.zip. Discovery scrapes the index page once,
// expands each archive's year span into a station/year lookup table, and
// caches that table so repeated runs skip the scrape. Fetch resolves a
// (station, year) pair to its covering archive, downloads and extracts it,
// and hands back the extracted text file after a sanity check.
package download

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/Bowen577/KNMI-EPW-Generator/internal/cache"
	"github.com/Bowen577/KNMI-EPW-Generator/internal/config"
	"github.com/Bowen577/KNMI-EPW-Generator/internal/domain"
	"github.com/Bowen577/KNMI-EPW-Generator/internal/observability"
	"github.com/Bowen577/KNMI-EPW-Generator/internal/retry"
)

// rawFileMarker opens every authentic KNMI hourly data file.
const rawFileMarker = "BRON: KONINKLIJK NEDERLANDS METEOROLOGISCH INSTITUUT"

// minRawSize is the smallest plausible raw file. Anything under this is a
// truncated download.
const minRawSize = 1024

// urlTableTTL bounds how long a scraped archive index is trusted.
const urlTableTTL = 24 * time.Hour

// ErrNotAvailable reports that the KNMI index lists no archive covering the
// requested station and year.
var ErrNotAvailable = errors.New("no archive available")

// Downloader resolves station/year pairs to KNMI archives and keeps the
// extracted raw files on disk.
type Downloader struct {
	baseURL     string
	linkPattern *regexp.Regexp
	rawDir      string
	zipDir      string
	rawTTL      time.Duration

	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	policy  retry.Policy

	urls    *cache.Store // nil disables URL table caching
	logger  *slog.Logger
	metrics *observability.Metrics

	mu        sync.Mutex
	available map[string]map[int]string // station -> year -> archive URL
}

// NewDownloader builds a Downloader from configuration. urls may be nil to
// disable caching of the discovered URL table.
func NewDownloader(cfg *config.Config, urls *cache.Store, logger *slog.Logger, metrics *observability.Metrics) (*Downloader, error) {
	pattern, err := regexp.Compile(cfg.LinkPattern)
	if err != nil {
		return nil, domain.E(domain.KindConfiguration, "compile link pattern", cfg.LinkPattern, err)
	}
	return &Downloader{
		baseURL:     cfg.BaseURL,
		linkPattern: pattern,
		rawDir:      cfg.RawDir,
		zipDir:      cfg.ZipDir,
		rawTTL:      cfg.RawTTL,
		client:      &http.Client{Timeout: cfg.HTTPTimeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "knmi-portal",
			MaxRequests: 5,
			Interval:    time.Minute,
			Timeout:     2 * time.Minute,
		}),
		policy: retry.Policy{
			MaxAttempts:    cfg.MaxRetries,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
		},
		urls:    urls,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Discover loads the station/year to archive URL table, from cache when a
// fresh copy exists, otherwise by scraping the KNMI index page.
func (d *Downloader) Discover(ctx context.Context) error {
	cacheKey := "knmi_urls_" + d.baseURL

	if d.urls != nil {
		var table map[string]map[int]string
		if d.urls.GetJSON(cacheKey, &table) && len(table) > 0 {
			d.setAvailable(table)
			d.logger.Info("loaded archive index from cache", "stations", len(table))
			return nil
		}
	}

	d.logger.Info("discovering available archives", "url", d.baseURL)
	body, err := d.get(ctx, d.baseURL)
	if err != nil {
		return domain.E(domain.KindDownload, "discover archives", d.baseURL, err)
	}

	table := d.parseIndex(string(body))
	if len(table) == 0 {
		return domain.Errorf(domain.KindDownload, "discover archives", d.baseURL, "index page lists no archives")
	}
	d.setAvailable(table)

	if d.urls != nil {
		d.urls.SetJSON(cacheKey, table, urlTableTTL)
	}
	d.logger.Info("discovered archives", "stations", len(table))
	return nil
}

// Fetch returns the path of the validated raw file for a station and year,
// downloading and extracting the covering archive when needed. An existing
// valid file short-circuits the download unless force is set.
func (d *Downloader) Fetch(ctx context.Context, stationID string, year int, force bool) (string, error) {
	if err := d.ensureDiscovered(ctx); err != nil {
		return "", err
	}

	key := fmt.Sprintf("%s/%d", stationID, year)
	archive, ok := d.archiveURL(stationID, year)
	if !ok {
		if years, yerr := d.AvailableYears(ctx, stationID); yerr == nil && len(years) > 0 {
			d.logger.Warn("no archive covers requested year",
				"station", stationID, "year", year,
				"first_available", years[0], "last_available", years[len(years)-1])
		}
		return "", domain.E(domain.KindDownload, "locate archive", key, ErrNotAvailable)
	}

	name := strings.ToLower(path.Base(archive))
	rawPath := filepath.Join(d.rawDir, strings.TrimSuffix(name, ".zip")+".txt")

	if !force {
		err := ValidateRawFile(rawPath)
		switch {
		case err == nil && !d.stale(rawPath):
			d.metrics.Downloads.WithLabelValues("reused").Inc()
			d.logger.Debug("reusing existing raw file", "path", rawPath)
			return rawPath, nil
		case err == nil:
			d.logger.Info("existing raw file older than raw TTL, re-downloading", "path", rawPath)
		case !errors.Is(err, os.ErrNotExist):
			d.logger.Warn("existing raw file is invalid, re-downloading", "path", rawPath, "error", err)
		}
	}

	d.logger.Info("downloading archive", "station", stationID, "year", year, "archive", name)
	zipPath := filepath.Join(d.zipDir, name)
	if err := d.downloadArchive(ctx, archive, zipPath); err != nil {
		d.metrics.Downloads.WithLabelValues("error").Inc()
		return "", domain.E(domain.KindDownload, "download archive", key, err)
	}
	if err := extractArchive(zipPath, d.rawDir); err != nil {
		d.metrics.Downloads.WithLabelValues("error").Inc()
		return "", domain.E(domain.KindDownload, "extract archive", key, err)
	}
	if err := ValidateRawFile(rawPath); err != nil {
		d.metrics.Downloads.WithLabelValues("error").Inc()
		return "", domain.E(domain.KindDownload, "validate raw file", rawPath, err)
	}

	d.metrics.Downloads.WithLabelValues("success").Inc()
	d.logger.Info("downloaded and extracted archive", "station", stationID, "year", year, "path", rawPath)
	return rawPath, nil
}

// AvailableYears lists the years the KNMI index offers for a station, sorted
// ascending.
func (d *Downloader) AvailableYears(ctx context.Context, stationID string) ([]int, error) {
	if err := d.ensureDiscovered(ctx); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	years := make([]int, 0, len(d.available[stationID]))
	for y := range d.available[stationID] {
		years = append(years, y)
	}
	sort.Ints(years)
	return years, nil
}

// CheckReadiness reports whether the archive table has been discovered, so
// the converter's readiness endpoint can reflect portal connectivity.
func (d *Downloader) CheckReadiness(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.available == nil {
		return errors.New("archive discovery has not completed yet")
	}
	return nil
}

// CleanupOldFiles removes zip and raw files whose modification time is more
// than keepDays days old. Returns the number of files removed.
func (d *Downloader) CleanupOldFiles(keepDays int) int {
	cutoff := clock.Now().Add(-time.Duration(keepDays) * 24 * time.Hour)

	removed := 0
	for _, dir := range []string{d.zipDir, d.rawDir} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if info.ModTime().Before(cutoff) {
				p := filepath.Join(dir, entry.Name())
				if err := os.Remove(p); err != nil {
					d.logger.Warn("failed to remove old file", "path", p, "error", err)
					continue
				}
				removed++
				d.logger.Debug("removed old file", "path", p)
			}
		}
	}
	return removed
}

// ParseArchiveName splits an archive file name like uurgeg_260_2021-2030.zip
// into its station ID and year span.
func ParseArchiveName(name string) (stationID string, from, to int, err error) {
	name = strings.ToLower(name)
	if !strings.HasPrefix(name, "uurgeg_") || !strings.HasSuffix(name, ".zip") {
		return "", 0, 0, fmt.Errorf("not an hourly archive name: %q", name)
	}
	if strings.HasSuffix(name, "-.zip") {
		return "", 0, 0, fmt.Errorf("open-ended year span: %q", name)
	}

	parts := strings.Split(strings.TrimSuffix(name, ".zip"), "_")
	if len(parts) != 3 {
		return "", 0, 0, fmt.Errorf("malformed archive name: %q", name)
	}
	stationID = parts[1]
	if err := domain.ValidateStationID(stationID); err != nil {
		return "", 0, 0, err
	}

	span := strings.Split(parts[2], "-")
	if len(span) != 2 {
		return "", 0, 0, fmt.Errorf("malformed year span in %q", name)
	}
	if from, err = strconv.Atoi(span[0]); err != nil {
		return "", 0, 0, fmt.Errorf("malformed year span in %q: %w", name, err)
	}
	if to, err = strconv.Atoi(span[1]); err != nil {
		return "", 0, 0, fmt.Errorf("malformed year span in %q: %w", name, err)
	}
	if to < from {
		return "", 0, 0, fmt.Errorf("inverted year span in %q", name)
	}
	return stationID, from, to, nil
}

// ValidateRawFile checks that a raw file on disk is a plausible KNMI hourly
// data file: present, bigger than a truncated stub, and opening with the
// KNMI source line.
func ValidateRawFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() < minRawSize {
		return fmt.Errorf("file too small: %d bytes", info.Size())
	}

	first := make([]byte, len(rawFileMarker))
	if _, err := io.ReadFull(f, first); err != nil {
		return err
	}
	if string(first) != rawFileMarker {
		return fmt.Errorf("missing KNMI source line")
	}
	return nil
}

// parseIndex expands every archive link on the index page into per-year
// entries. Links that do not parse as hourly archives are skipped.
func (d *Downloader) parseIndex(doc string) map[string]map[int]string {
	table := make(map[string]map[int]string)
	for _, m := range d.linkPattern.FindAllStringSubmatch(doc, -1) {
		if len(m) < 2 {
			continue
		}
		href := strings.TrimSpace(m[1])
		stationID, from, to, err := ParseArchiveName(path.Base(href))
		if err != nil {
			continue
		}
		if table[stationID] == nil {
			table[stationID] = make(map[int]string)
		}
		for y := from; y <= to; y++ {
			table[stationID][y] = href
		}
	}
	return table
}

func (d *Downloader) ensureDiscovered(ctx context.Context) error {
	d.mu.Lock()
	done := d.available != nil
	d.mu.Unlock()
	if done {
		return nil
	}
	return d.Discover(ctx)
}

func (d *Downloader) setAvailable(table map[string]map[int]string) {
	d.mu.Lock()
	d.available = table
	d.mu.Unlock()
}

func (d *Downloader) archiveURL(stationID string, year int) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	url, ok := d.available[stationID][year]
	return url, ok
}

// stale reports whether the raw file at path has outlived the configured raw
// TTL. A zero TTL keeps files indefinitely; they then only leave through
// CleanupOldFiles.
func (d *Downloader) stale(path string) bool {
	if d.rawTTL <= 0 {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return true
	}
	return clock.Since(info.ModTime()) > d.rawTTL
}

// downloadArchive fetches url into dest, retrying transient failures. The
// circuit breaker sits inside the retry loop so a failing portal stops
// seeing traffic before the attempt budget runs out.
func (d *Downloader) downloadArchive(ctx context.Context, url, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	attempts := 0
	return retry.Do(ctx, d.policy, func() error {
		attempts++
		if attempts > 1 {
			d.metrics.DownloadRetries.Inc()
		}

		body, err := d.fetch(ctx, url)
		if err != nil {
			return err
		}
		defer body.Close()

		f, err := os.Create(dest)
		if err != nil {
			return retry.Permanent(err)
		}
		if _, err := io.Copy(f, body); err != nil {
			f.Close()
			os.Remove(dest)
			return err
		}
		return f.Close()
	})
}

// get fetches url and returns the whole response body.
func (d *Downloader) get(ctx context.Context, url string) ([]byte, error) {
	body, err := d.fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}

// fetch performs one GET through the circuit breaker. Transport errors and
// 5xx responses are retryable and count against the breaker; other non-200
// statuses and an open breaker are permanent.
func (d *Downloader) fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	fullURL := rawURL
	if strings.HasPrefix(fullURL, "//") {
		fullURL = "https:" + fullURL
	}

	result, err := d.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return nil, retry.Permanent(err)
		}
		resp, err := d.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			return nil, fmt.Errorf("portal error: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, retry.Permanent(fmt.Errorf("unexpected status %d", resp.StatusCode))
		}
		return resp.Body, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}
	body, ok := result.(io.ReadCloser)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from circuit breaker")
	}
	return body, nil
}

// extractArchive unpacks every member of the zip into destDir. Member names
// are flattened to their lowercased base name so archive paths cannot escape
// destDir.
func extractArchive(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}
	for _, member := range r.File {
		if member.FileInfo().IsDir() {
			continue
		}
		dest := filepath.Join(destDir, strings.ToLower(filepath.Base(member.Name)))
		if err := extractMember(member, dest); err != nil {
			return fmt.Errorf("extract %s: %w", member.Name, err)
		}
	}
	return nil
}

func extractMember(member *zip.File, dest string) error {
	src, err := member.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

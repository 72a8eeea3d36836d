// Command validate checks generated EPW files and downloaded KNMI raw files
// offline: header layout, the 8760-row hour calendar, per-row column counts,
// measurement plausibility and LOCATION metadata. It needs no network access
// and no configuration, only the artifacts themselves.
//
// Usage:
//
//	go run ./cmd/validate -epw-dir output/epw
//	go run ./cmd/validate \
//	  -epw output/epw/De_Bilt/NLD_BILT_EPW_YR2023.epw \
//	  -raw-dir data/knmi
package main

import (
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Bowen577/KNMI-EPW-Generator/internal/download"
	"github.com/Bowen577/KNMI-EPW-Generator/internal/epw"
)

// headerKeywords are the prefixes of the 8 metadata lines, in file order.
var headerKeywords = []string{
	"LOCATION",
	"DESIGN CONDITIONS",
	"TYPICAL/EXTREME PERIODS",
	"GROUND TEMPERATURES",
	"HOLIDAYS/DAYLIGHT SAVINGS",
	"COMMENTS 1",
	"COMMENTS 2",
	"DATA PERIODS",
}

// daysPerMonth is recomputed here rather than shared with the generator so a
// calendar bug cannot hide by being identical on both sides.
var daysPerMonth = [12]int{31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

var yearSuffix = regexp.MustCompile(`YR(\d{4})\.epw$`)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	epwDir := flag.String("epw-dir", "", "directory scanned recursively for .epw files")
	epwFile := flag.String("epw", "", "single .epw file to check")
	rawDir := flag.String("raw-dir", "", "directory scanned recursively for raw KNMI .txt files")
	flag.Parse()

	if *epwDir == "" && *epwFile == "" && *rawDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*epwDir, *epwFile, *rawDir); code != 0 {
		os.Exit(code)
	}
}

func run(epwDir, epwFile, rawDir string) int {
	fmt.Println("=== EPW Artifact Validation ===")
	fmt.Println()

	files, err := loadEPWFiles(epwDir, epwFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load EPW files: %v\n", err)
		return 1
	}

	var rawPaths []string
	if rawDir != "" {
		if rawPaths, err = findFiles(rawDir, ".txt"); err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: scan raw dir: %v\n", err)
			return 1
		}
	}

	if len(files) == 0 && len(rawPaths) == 0 {
		fmt.Fprintln(os.Stderr, "FATAL: nothing to validate")
		return 1
	}

	// ── Run validation phases ──
	var phases []*phase
	if len(files) > 0 {
		phases = append(phases,
			validateStructure(files),
			validateCalendar(files),
			validateValues(files),
			validateLocations(files),
		)
	}
	if rawDir != "" {
		phases = append(phases, validateRawArchives(rawPaths))
	}

	// ── Report results ──
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-40s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Checked: %d EPW files (%d data rows), %d raw archives\n",
		len(files), countRows(files), len(rawPaths))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Data loading ──

// epwData is one parsed EPW file: the metadata lines followed by data rows
// split on commas. Structural deviations are kept as-is for the phases to
// report.
type epwData struct {
	path    string
	headers []string
	rows    [][]string
}

func loadEPWFiles(dir, single string) ([]epwData, error) {
	var paths []string
	if dir != "" {
		found, err := findFiles(dir, ".epw")
		if err != nil {
			return nil, err
		}
		paths = found
	}
	if single != "" {
		paths = append(paths, single)
	}

	files := make([]epwData, 0, len(paths))
	for _, path := range paths {
		f, err := loadEPW(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		files = append(files, f)
	}
	return files, nil
}

func loadEPW(path string) (epwData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return epwData{}, err
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) < epw.HeaderLines {
		return epwData{}, fmt.Errorf("only %d lines, shorter than the metadata block", len(lines))
	}

	f := epwData{path: path, headers: lines[:epw.HeaderLines]}
	for _, line := range lines[epw.HeaderLines:] {
		f.rows = append(f.rows, strings.Split(line, ","))
	}
	return f, nil
}

func findFiles(dir, ext string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ext) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

func countRows(files []epwData) int {
	n := 0
	for i := range files {
		n += len(files[i].rows)
	}
	return n
}

// lineNum converts a data row index to its 1-based line number in the file.
func lineNum(row int) int {
	return epw.HeaderLines + row + 1
}

// ── Phase 1: File Structure ──
// The 8 metadata lines in order, 8760 data rows, 35 columns each.

func validateStructure(files []epwData) *phase {
	p := &phase{name: "Phase 1: File Structure"}

	for _, f := range files {
		for i, keyword := range headerKeywords {
			if !strings.HasPrefix(f.headers[i], keyword) {
				p.errorf("%s line %d: expected %q header, got %q", f.path, i+1, keyword, firstField(f.headers[i]))
			}
		}

		if len(f.rows) != epw.HoursPerYear {
			p.errorf("%s: %d data rows, want %d", f.path, len(f.rows), epw.HoursPerYear)
		}

		badCols := newViolations()
		for i, row := range f.rows {
			if len(row) != epw.ColumnsPerRow {
				badCols.record(fmt.Sprintf("rows with %d columns instead of %d", len(row), epw.ColumnsPerRow), lineNum(i))
			}
		}
		badCols.flush(p, f.path)
	}
	return p
}

// ── Phase 2: Calendar ──
// Rows must walk Jan 1 hour 1 through Dec 31 hour 24 with no Feb 29 and a
// constant year column. The first deviation per file is reported and the rest
// of that file skipped, since one slipped row shifts everything after it.

func validateCalendar(files []epwData) *phase {
	p := &phase{name: "Phase 2: Calendar"}

	for _, f := range files {
		checkCalendar(p, f)
	}
	return p
}

func checkCalendar(p *phase, f epwData) {
	wantYear := ""
	i := 0
	for month := 1; month <= 12; month++ {
		for day := 1; day <= daysPerMonth[month-1]; day++ {
			for hour := 1; hour <= 24; hour++ {
				if i >= len(f.rows) {
					return
				}
				row := f.rows[i]
				if len(row) < 4 {
					return
				}
				if wantYear == "" {
					wantYear = row[0]
				}
				if row[0] != wantYear || row[1] != strconv.Itoa(month) || row[2] != strconv.Itoa(day) || row[3] != strconv.Itoa(hour) {
					p.errorf("%s line %d: got %s-%s-%s hour %s, want %s-%d-%d hour %d",
						f.path, lineNum(i), row[0], row[1], row[2], row[3], wantYear, month, day, hour)
					return
				}
				i++
			}
		}
	}
}

// ── Phase 3: Value Plausibility ──
// Mapped measurement columns must parse and sit inside physically plausible
// ranges. Violations are aggregated per rule so one bad sensor does not drown
// the report in thousands of lines.

type columnRule struct {
	col  int
	rule string
	ok   func(v float64) bool
}

var columnRules = []columnRule{
	{6, "dry bulb temperatures outside -60..60", func(v float64) bool { return v >= -60 && v <= 60 }},
	{7, "dew point temperatures outside -60..60", func(v float64) bool { return v >= -60 && v <= 60 }},
	{8, "relative humidity outside 0..110", func(v float64) bool { return v >= 0 && v <= 110 }},
	{9, "station pressure outside 30000..120000 Pa", func(v float64) bool { return v >= 30000 && v <= 120000 }},
	{13, "negative global horizontal irradiance", func(v float64) bool { return v >= 0 }},
	{14, "negative direct normal irradiance", func(v float64) bool { return v >= 0 }},
	{15, "negative diffuse horizontal irradiance", func(v float64) bool { return v >= 0 }},
	{20, "wind directions outside 0..360", func(v float64) bool { return v >= 0 && v <= 360 }},
	{21, "wind speeds outside 0..60 m/s", func(v float64) bool { return v >= 0 && v <= 60 }},
}

func validateValues(files []epwData) *phase {
	p := &phase{name: "Phase 3: Value Plausibility"}

	for _, f := range files {
		found := newViolations()
		for i, row := range f.rows {
			if len(row) != epw.ColumnsPerRow {
				continue
			}
			for _, r := range columnRules {
				v, err := strconv.ParseFloat(row[r.col], 64)
				if err != nil {
					found.record("unparseable measurement values", lineNum(i))
					continue
				}
				if !r.ok(v) {
					found.record(r.rule, lineNum(i))
				}
			}
		}
		found.flush(p, f.path)
	}
	return p
}

// ── Phase 4: Location Headers ──
// LOCATION must carry the NLD/KNMI provenance fields, coordinates inside the
// Netherlands and a parseable time zone, and the filename year must match the
// year column.

func validateLocations(files []epwData) *phase {
	p := &phase{name: "Phase 4: Location Headers"}

	for _, f := range files {
		checkLocation(p, f)
	}
	return p
}

func checkLocation(p *phase, f epwData) {
	fields := strings.Split(f.headers[0], ",")
	if len(fields) < 10 {
		p.errorf("%s: LOCATION has %d fields, want 10", f.path, len(fields))
		return
	}

	if fields[1] == "" {
		p.errorf("%s: LOCATION station name is empty", f.path)
	}
	if fields[3] != "NLD" {
		p.errorf("%s: LOCATION country is %q, want NLD", f.path, fields[3])
	}
	if fields[4] != "KNMI" {
		p.errorf("%s: LOCATION source is %q, want KNMI", f.path, fields[4])
	}

	if lat, err := strconv.ParseFloat(fields[6], 64); err != nil {
		p.errorf("%s: LOCATION latitude %q does not parse", f.path, fields[6])
	} else if lat < 50 || lat > 54 {
		p.errorf("%s: LOCATION latitude %.2f outside the Netherlands", f.path, lat)
	}
	if lon, err := strconv.ParseFloat(fields[7], 64); err != nil {
		p.errorf("%s: LOCATION longitude %q does not parse", f.path, fields[7])
	} else if lon < 3 || lon > 8 {
		p.errorf("%s: LOCATION longitude %.2f outside the Netherlands", f.path, lon)
	}
	if _, err := strconv.ParseFloat(fields[8], 64); err != nil {
		p.errorf("%s: LOCATION time zone %q does not parse", f.path, fields[8])
	}

	m := yearSuffix.FindStringSubmatch(filepath.Base(f.path))
	if m == nil {
		p.errorf("%s: filename does not end in YR<year>.epw", f.path)
		return
	}
	if len(f.rows) > 0 && len(f.rows[0]) > 0 && f.rows[0][0] != m[1] {
		p.errorf("%s: filename year %s but data rows carry year %s", f.path, m[1], f.rows[0][0])
	}
}

// ── Phase 5: Raw Archives ──
// Every extracted KNMI file must still look like one: present, non-truncated
// and opening with the KNMI source line.

func validateRawArchives(paths []string) *phase {
	p := &phase{name: "Phase 5: Raw Archives"}

	for _, path := range paths {
		if err := download.ValidateRawFile(path); err != nil {
			p.errorf("%s: %v", path, err)
		}
	}
	return p
}

// ── Helpers ──

// violations aggregates repeated failures per rule: total count plus the
// first offending line.
type violations struct {
	counts map[string]int
	first  map[string]int
}

func newViolations() *violations {
	return &violations{counts: make(map[string]int), first: make(map[string]int)}
}

func (v *violations) record(rule string, line int) {
	if v.counts[rule] == 0 {
		v.first[rule] = line
	}
	v.counts[rule]++
}

func (v *violations) flush(p *phase, path string) {
	rules := make([]string, 0, len(v.counts))
	for rule := range v.counts {
		rules = append(rules, rule)
	}
	sort.Strings(rules)
	for _, rule := range rules {
		p.errorf("%s: %d %s (first at line %d)", path, v.counts[rule], rule, v.first[rule])
	}
}

func firstField(line string) string {
	if i := strings.IndexByte(line, ','); i >= 0 {
		return line[:i]
	}
	return line
}

// Package downloads implements the download-statistics extraction job.
// It fetches the transfer logs and the native-package hit reports
// published by the download service, classifies each download by OS,
// architecture, and version, and summarizes counts over the reporting
// window.
package downloads

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/chtc/weekly-report/internal/errors"
	"github.com/chtc/weekly-report/internal/extract"
)

const (
	outputFile = "download_data.txt"
	nativeFile = "native-packages.mbox"
)

// Operating system and architecture labels
const (
	osWindows = "Windows"
	osLinux   = "Linux"
	osMacOS   = "MacOS"
	osOther   = "Other"
	osAll     = "All"

	archX86    = "x86"
	archX86_64 = "x86-64"
	archOther  = "Other"
	archAll    = "All"

	labelUnknown = "Unknown"
)

// pattern maps a filename regexp to a classification label. Order
// matters: the first match wins.
type pattern struct {
	re    *regexp.Regexp
	label string
}

func compile(pairs [][2]string) []pattern {
	patterns := make([]pattern, 0, len(pairs))
	for _, p := range pairs {
		patterns = append(patterns, pattern{
			re:    regexp.MustCompile("(?i)" + p[0]),
			label: p[1],
		})
	}
	return patterns
}

var osPatterns = compile([][2]string{
	{"winnt", osWindows},
	{"windows", osWindows},
	{"winn50", osWindows},
	{`\.deb$`, osLinux},
	{"_deb_", osLinux},
	{`\.rpm$`, osLinux},
	{"linux", osLinux},
	{"rhel", osLinux},
	{"rhap", osLinux},
	{"rhas", osLinux},
	{"fedora", osLinux},
	{"redhat", osLinux},
	{"centos", osLinux},
	{"ubuntu", osLinux},
	{"debian", osLinux},
	{`mac ?os ?x?`, osMacOS},
	{"irix", osOther},
	{"dux", osOther},
	{"solaris", osOther},
	{"sun4u_sol_", osOther},
	{"aix", osOther},
	{"hpux", osOther},
	{"bsd", osOther},
	{"vax-openvms", osOther},
	{"ydl3", osLinux},
	{"yd5", osLinux},
	{"all", osAll},
	{"_sl_", osLinux},
	{"sles", osLinux},
	{"_sol_", osLinux},
	{`\.orig\.tar\.[gx]z`, osLinux},
	{`-src\.tar\.[gbx]z2?`, osAll},
})

var archPatterns = compile([][2]string{
	{`linux-x86-g?libc`, archX86},
	{`linux-x86\.tar`, archX86},
	{"linux-x86-redhat", archX86},
	{"linux-x86-rhel", archX86},
	{"linux-x86-debian", archX86},
	{`winnt-x86-5\.0`, archX86},
	{"amd64", archX86_64},
	{"x86_64", archX86_64},
	{"i386", archX86},
	{"i686", archX86},
	{"x64", archX86_64},
	{"ia64", archOther},
	{"ppc64", archOther},
	{"sun4u", archOther},
	{"sparc", archOther},
	{"alpha", archOther},
	{"-ppc-", archOther},
	{"ppc_aix", archOther},
	{"hppar", archOther},
	{"sgi", archOther},
	{"powerpc", archOther},
	{"vax-openvms", archOther},
	{`aix.*aix`, archOther},
	{"x86-dynamic", archX86},
	{`x86\.exe`, archX86},
	{`x86\.zip`, archX86},
	{`x86\.msi`, archX86},
	{`x86\.tar`, archX86},
	{"-all-all", archAll},
	{"-x86_rhap", archX86},
	{"-x86_rhas", archX86},
	{"-x86_redhat", archX86},
	{"-x86_deb", archX86},
	{"-x86_sl", archX86},
	{"-x86_freebsd", archX86},
	{"-x86_macos", archX86},
	{"-x86_centos", archX86},
	{`\.src\.`, archAll},
	{`^all$`, archAll},
	{`\.(orig|debian)\.tar\.[gx]z`, archAll},
	{`-src\.tar\.[gbx]z2?`, archAll},
})

// Transfer log filename and artifact patterns
var (
	logNameRe   = regexp.MustCompile(`^sendfile-v\d+\.\d+`)
	reBinary    = regexp.MustCompile(`^h?t?condor-([\d.]+\d)(?:_preview)?[-.](.*)`)
	reSource    = regexp.MustCompile(`^h?t?condor_src-([\d.]+\d)(?:_preview)?[-.](.*)`)
	reBinaryDeb = regexp.MustCompile(`^h?t?condor_([\d.]+\d)-(.*\.deb)`)
	reSourceDeb = regexp.MustCompile(`^h?t?condor_([\d.]+\d)\..*(orig|debian)\.tar\.[xg]z`)
)

// Native-package report line patterns, e.g.
//
//	/condor/repo/10.0/el8/x86_64/release/condor-10.0.3-1.el8.x86_64.rpm (42 hits)
var (
	reRPM        = regexp.MustCompile(`^/.*/h?t?condor-([\d.]+\d)-.*\.(x86_64|i386|i686|ia64)\.rpm \((\d+) hits?\)`)
	reSrcRPM     = regexp.MustCompile(`^/.*/h?t?condor-([\d.]+\d)-(.*)\.src\.rpm \((\d+) hits?\)`)
	reDeb        = regexp.MustCompile(`^/.*/h?t?condor[_-]([\d.]+\d)-.*_(amd64|i386|all)\.deb \((\d+) hits?\)`)
	reSrcDeb     = regexp.MustCompile(`^/.*/h?t?condor[_-]([\d.]+\d)-.*\.(orig|debian)\.tar\.[xg]z \((\d+) hits?\)`)
	reTarball    = regexp.MustCompile(`^/.*/tarball/.*/(h?t?condor[-_][\d.]+\d[-.][^/ ]+) \((\d+) hits?\)`)
	reSrcTarball = regexp.MustCompile(`^/.*/tarball/.*/(h?t?condor_src[-_][\d.]+\d[-.][^/ ]+) \((\d+) hits?\)`)
)

// osOrder fixes the per-OS listing order of the text summary
var osOrder = []string{osWindows, osLinux, osMacOS, osAll, osOther, labelUnknown}

// classify returns the first matching label, or Unknown
func classify(patterns []pattern, filename string) string {
	for _, p := range patterns {
		if p.re.MatchString(filename) {
			return p.label
		}
	}
	return labelUnknown
}

// stats accumulates per-day download counts along four dimensions:
// exact version, major version, OS, and OS/arch.
type stats struct {
	byDay map[time.Time]*dayCounts
}

type dayCounts struct {
	version      map[string]int
	versionMajor map[string]int
	os           map[string]int
	osArch       map[string]int
}

func newStats() *stats {
	return &stats{byDay: make(map[time.Time]*dayCounts)}
}

func (s *stats) add(day time.Time, version, major, osName, arch string, hits int) {
	d := s.byDay[day]
	if d == nil {
		d = &dayCounts{
			version:      make(map[string]int),
			versionMajor: make(map[string]int),
			os:           make(map[string]int),
			osArch:       make(map[string]int),
		}
		s.byDay[day] = d
	}
	d.version[version] += hits
	d.versionMajor[major] += hits
	d.os[osName] += hits
	d.osArch[osName+"/"+arch] += hits
}

// total is the number of downloads recorded across all days
func (s *stats) total() int {
	total := 0
	for _, d := range s.byDay {
		for _, n := range d.os {
			total += n
		}
	}
	return total
}

func (s *stats) osTotals() map[string]int {
	totals := make(map[string]int)
	for _, d := range s.byDay {
		for osName, n := range d.os {
			totals[osName] += n
		}
	}
	return totals
}

func (s *stats) majorTotals() map[string]int {
	totals := make(map[string]int)
	for _, d := range s.byDay {
		for major, n := range d.versionMajor {
			totals[major] += n
		}
	}
	return totals
}

// dimension is one CSV breakdown of the daily counts. Each dimension
// is written twice: per-day counts and a cumulative running total.
type dimension struct {
	file    string
	cumFile string
	numeric bool
	counts  func(*dayCounts) map[string]int
}

var dimensions = []dimension{
	{"downloads_by_version_major.csv", "cumulative_downloads_by_version_major.csv", true,
		func(d *dayCounts) map[string]int { return d.versionMajor }},
	{"downloads_by_version.csv", "cumulative_downloads_by_version.csv", true,
		func(d *dayCounts) map[string]int { return d.version }},
	{"downloads_by_os.csv", "cumulative_downloads_by_os.csv", false,
		func(d *dayCounts) map[string]int { return d.os }},
	{"downloads_by_arch.csv", "cumulative_downloads_by_arch.csv", false,
		func(d *dayCounts) map[string]int { return d.osArch }},
}

// Job extracts download statistics from the transfer logs and the
// native-package hit reports.
type Job struct {
	http *http.Client
}

// New creates the downloads job
func New() *Job {
	return &Job{http: &http.Client{}}
}

// Name identifies the job
func (j *Job) Name() string { return "downloads" }

// OutputFile is the report file the job writes
func (j *Job) OutputFile() string { return outputFile }

// Run fetches and summarizes both download sources for the window
func (j *Job) Run(ctx context.Context, opts extract.Options) error {
	logger := opts.Log()
	data := newStats()

	mbox, found, err := j.fetchNative(ctx, opts.DownloadURI)
	if err != nil {
		return err
	}
	if found {
		stored := j.readNative(mbox, data, opts, logger.With(zap.String("log", nativeFile)))
		logger.Info("read native package report", zap.Int("stored", stored))
	} else {
		logger.Warn("native package report absent", zap.String("log", nativeFile))
	}

	names, err := j.fetchLogNames(ctx, opts.DownloadURI)
	if err != nil {
		return err
	}
	logger.Info("found transfer logs", zap.Int("count", len(names)))

	for _, name := range names {
		body, err := j.fetchLog(ctx, opts.DownloadURI, name)
		if err != nil {
			return err
		}
		stored := j.readLog(body, data, opts, logger.With(zap.String("log", name)))
		logger.Info("read transfer log", zap.String("log", name), zap.Int("stored", stored))
	}

	for _, dim := range dimensions {
		if err := extract.WriteOutput(opts, dim.file, renderCSV(data, dim, false)); err != nil {
			return fmt.Errorf("failed to write %s: %w", dim.file, err)
		}
		if err := extract.WriteOutput(opts, dim.cumFile, renderCSV(data, dim, true)); err != nil {
			return fmt.Errorf("failed to write %s: %w", dim.cumFile, err)
		}
	}
	if err := extract.WriteOutput(opts, outputFile, renderText(data, opts)); err != nil {
		return fmt.Errorf("failed to write %s: %w", outputFile, err)
	}
	return nil
}

// fetchLogNames lists the transfer logs published at the stats endpoint
func (j *Job) fetchLogNames(ctx context.Context, baseURI string) ([]string, error) {
	body, err := j.fetch(ctx, strings.TrimRight(baseURI, "/")+"/")
	if err != nil {
		return nil, err
	}

	var names []string
	for _, line := range strings.Split(body, "\n") {
		name := strings.TrimSpace(line)
		if logNameRe.MatchString(name) {
			names = append(names, name)
		}
	}
	return names, nil
}

// fetchLog retrieves one transfer log
func (j *Job) fetchLog(ctx context.Context, baseURI, name string) (string, error) {
	return j.fetch(ctx, strings.TrimRight(baseURI, "/")+"/"+name)
}

// fetchNative retrieves the native-package hit report. The report is
// absent on services that only host tarballs; that is not an error.
func (j *Job) fetchNative(ctx context.Context, baseURI string) (string, bool, error) {
	uri := strings.TrimRight(baseURI, "/") + "/" + nativeFile

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return "", false, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := j.http.Do(req)
	if err != nil {
		return "", false, apperrors.NewAPIError(fmt.Sprintf("download stats request %s failed", uri), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", false, nil
	}
	if resp.StatusCode >= 400 {
		return "", false, apperrors.NewAPIError(fmt.Sprintf("download stats request %s returned %s", uri, resp.Status), nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", false, fmt.Errorf("failed to read response: %w", err)
	}
	return string(body), true, nil
}

func (j *Job) fetch(ctx context.Context, uri string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := j.http.Do(req)
	if err != nil {
		return "", apperrors.NewAPIError(fmt.Sprintf("download stats request %s failed", uri), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", apperrors.NewAPIError(fmt.Sprintf("download stats request %s returned %s", uri, resp.Status), nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	return string(body), nil
}

// readLog parses one transfer log into the accumulated stats and
// returns the number of lines stored. Log lines look like:
//
//	1551455077	END	condor-8.9.0-462330-Windows-x64.zip	...
func (j *Job) readLog(body string, data *stats, opts extract.Options, logger *zap.Logger) int {
	stored := 0
	for n, line := range strings.Split(body, "\n") {
		cols := strings.Fields(line)
		if len(cols) < 3 {
			continue
		}
		ts, status, filename := cols[0], cols[1], cols[2]

		epoch, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			logger.Error("unparseable timestamp", zap.Int("line", n+1), zap.String("value", ts))
			continue
		}
		when := time.Unix(epoch, 0)
		if !opts.Window.Contains(when) {
			continue
		}
		if status != "END" {
			continue
		}
		if strings.Contains(filename, "sha256sum") ||
			strings.HasPrefix(filename, "condordebugsyms") ||
			strings.HasPrefix(filename, "condor-drone-") {
			continue
		}

		var match []string
		switch {
		case strings.HasPrefix(filename, "condor-") || strings.HasPrefix(filename, "htcondor-"):
			match = reBinary.FindStringSubmatch(filename)
		case strings.HasPrefix(filename, "condor_src-") || strings.HasPrefix(filename, "htcondor_src-"):
			match = reSource.FindStringSubmatch(filename)
		default:
			match = reBinaryDeb.FindStringSubmatch(filename)
		}
		if match == nil {
			logger.Error("unparseable filename", zap.Int("line", n+1), zap.String("filename", filename))
			continue
		}

		version := match[1]
		parts := strings.Split(version, ".")
		if len(parts) < 2 {
			logger.Error("weird version", zap.Int("line", n+1), zap.String("version", version))
			continue
		}
		major := strings.Join(parts[:2], ".")

		osName := classify(osPatterns, filename)
		if osName == labelUnknown {
			logger.Warn("dubious OS", zap.Int("line", n+1), zap.String("filename", filename))
		}
		arch := classify(archPatterns, filename)
		if arch == labelUnknown {
			logger.Warn("dubious arch", zap.Int("line", n+1), zap.String("filename", filename))
		}

		day := time.Date(when.Year(), when.Month(), when.Day(), 0, 0, 0, 0, when.Location())
		data.add(day, version, major, osName, arch, 1)
		stored++
	}
	return stored
}

// readNative parses the native-package hit report, an mbox of periodic
// emails listing repository paths with hit counts. Each email's Date
// header dates every path it reports:
//
//	Date: Sat, 06 Mar 2021 02:30:32 -0600 (CST)
//
//	/condor/repo/10.0/el8/x86_64/release/condor-10.0.3-1.el8.x86_64.rpm (42 hits)
func (j *Job) readNative(body string, data *stats, opts extract.Options, logger *zap.Logger) int {
	stored := 0
	var day time.Time
	haveDay := false
	inHeader := true
	for n, raw := range strings.Split(body, "\n") {
		line := strings.TrimRight(raw, "\r")
		switch {
		case strings.HasPrefix(line, "From "):
			day, haveDay = time.Time{}, false
			inHeader = true
			continue
		case strings.Contains(line, "From "):
			// a mid-line separator is a sign of interleaved reports
			logger.Error("possible corruption", zap.Int("line", n+1))
			continue
		case strings.HasPrefix(line, "Date:"):
			if haveDay || !inHeader {
				logger.Warn("unexpected Date header", zap.Int("line", n+1))
			}
			value := strings.TrimSpace(strings.Split(line, ":")[1])
			when, err := time.ParseInLocation("Mon, 2 Jan 2006 15", value, time.Local)
			if err != nil {
				logger.Error("unparseable date", zap.Int("line", n+1), zap.String("text", line))
				continue
			}
			day = time.Date(when.Year(), when.Month(), when.Day(), 0, 0, 0, 0, time.Local)
			haveDay = true
			continue
		case inHeader && strings.TrimSpace(line) == "":
			if !haveDay {
				logger.Warn("no date in header", zap.Int("line", n+1))
			}
			inHeader = false
			continue
		case inHeader:
			continue
		case !haveDay || !opts.Window.Contains(day):
			continue
		}

		parts := strings.Split(line, "/")
		if !strings.HasPrefix(line, "/") || len(parts) < 2 ||
			(parts[1] != "s" && parts[1] != "condor" && parts[1] != "htcondor") {
			continue
		}
		trimmed := strings.TrimRight(line, " \t")

		var version, osName, arch string
		hits := 0
		if m := firstMatch(trimmed, reRPM, reDeb); m != nil {
			version = m[1]
			osName = osLinux
			arch = classify(archPatterns, m[2])
			if arch == labelUnknown {
				logger.Warn("dubious arch", zap.Int("line", n+1), zap.String("text", trimmed))
			}
			hits, _ = strconv.Atoi(m[3])
		} else if m := firstMatch(trimmed, reSrcRPM, reSrcDeb); m != nil {
			version = m[1]
			osName = osLinux
			arch = archAll
			hits, _ = strconv.Atoi(m[3])
		} else if m := firstMatch(trimmed, reTarball, reSrcTarball); m != nil {
			filename := m[1]
			hits, _ = strconv.Atoi(m[2])
			if strings.Contains(filename, "sha256sum") {
				continue
			}
			v, ok := tarballVersion(filename)
			if !ok {
				logger.Error("unparseable filename", zap.Int("line", n+1), zap.String("text", trimmed))
				continue
			}
			version = v
			osName = classify(osPatterns, filename)
			if osName == labelUnknown {
				logger.Warn("dubious OS", zap.Int("line", n+1), zap.String("filename", filename))
			}
			arch = classify(archPatterns, filename)
			if arch == labelUnknown {
				logger.Warn("dubious arch", zap.Int("line", n+1), zap.String("filename", filename))
			}
		} else {
			continue
		}

		data.add(day, version, majorOf(version), osName, arch, hits)
		stored++
	}
	return stored
}

// firstMatch returns the submatches of the first pattern matching line
func firstMatch(line string, patterns ...*regexp.Regexp) []string {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(line); m != nil {
			return m
		}
	}
	return nil
}

// tarballVersion parses the release version out of a tarball filename
func tarballVersion(filename string) (string, bool) {
	var m []string
	switch {
	case strings.HasPrefix(filename, "condor-") || strings.HasPrefix(filename, "htcondor-"):
		m = reBinary.FindStringSubmatch(filename)
	case strings.HasPrefix(filename, "condor_src-") || strings.HasPrefix(filename, "htcondor_src-"):
		m = reSource.FindStringSubmatch(filename)
	default:
		m = reBinaryDeb.FindStringSubmatch(filename)
		if m == nil {
			m = reSourceDeb.FindStringSubmatch(filename)
		}
	}
	if m == nil {
		return "", false
	}
	return m[1], true
}

// majorOf truncates a version to its first two components
func majorOf(version string) string {
	parts := strings.Split(version, ".")
	if len(parts) <= 2 {
		return version
	}
	return strings.Join(parts[:2], ".")
}

// renderCSV formats one dimension's per-day counts, one column per
// observed key plus a Total column. Cumulative CSVs carry running sums.
func renderCSV(data *stats, dim dimension, cumulative bool) []byte {
	days := make([]time.Time, 0, len(data.byDay))
	for day := range data.byDay {
		days = append(days, day)
	}
	sort.Slice(days, func(i, k int) bool { return days[i].Before(days[k]) })

	keys := columnKeys(data, dim)

	var b strings.Builder
	b.WriteString("Date," + strings.Join(keys, ",") + ",Total\n")

	running := make(map[string]int)
	for _, day := range days {
		counts := dim.counts(data.byDay[day])
		b.WriteString(day.Format("2006-01-02"))
		total := 0
		for _, key := range keys {
			n := counts[key]
			if cumulative {
				running[key] += n
				n = running[key]
			}
			total += n
			b.WriteString("," + strconv.Itoa(n))
		}
		b.WriteString("," + strconv.Itoa(total) + "\n")
	}
	return []byte(b.String())
}

// columnKeys is the sorted union of a dimension's keys across all days
func columnKeys(data *stats, dim dimension) []string {
	set := make(map[string]bool)
	for _, d := range data.byDay {
		for key := range dim.counts(d) {
			set[key] = true
		}
	}

	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	if dim.numeric {
		sort.Slice(keys, func(i, k int) bool { return versionLess(keys[i], keys[k]) })
	} else {
		sort.Strings(keys)
	}
	return keys
}

// versionLess orders dotted version strings component-wise
func versionLess(a, b string) bool {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		na, errA := strconv.Atoi(as[i])
		nb, errB := strconv.Atoi(bs[i])
		if errA != nil || errB != nil {
			if as[i] != bs[i] {
				return as[i] < bs[i]
			}
			continue
		}
		if na != nb {
			return na < nb
		}
	}
	return len(as) < len(bs)
}

// renderText formats the human-readable summary
func renderText(data *stats, opts extract.Options) []byte {
	var b strings.Builder
	b.WriteString(opts.Window.Header() + "\n")
	b.WriteString("HTCondor packages, compiled tarballs, and source code tarballs\n")
	fmt.Fprintf(&b, "were downloaded %d times.\n", data.total())

	byOS := data.osTotals()
	b.WriteString("By operating system:\n")
	for _, osName := range osOrder {
		if count, ok := byOS[osName]; ok {
			fmt.Fprintf(&b, "\t%s: %d\n", osName, count)
		}
	}

	majors := data.majorTotals()
	names := make([]string, 0, len(majors))
	for major := range majors {
		names = append(names, major)
	}
	sort.Slice(names, func(i, k int) bool {
		if majors[names[i]] != majors[names[k]] {
			return majors[names[i]] > majors[names[k]]
		}
		return names[i] < names[k]
	})
	b.WriteString("By major version:\n")
	for _, major := range names {
		fmt.Fprintf(&b, "\t%s: %d\n", major, majors[major])
	}

	return []byte(b.String())
}

// Package versions implements the version-history extraction job. It
// parses the release-series documents in the repository mirror and
// counts documented enhancements and bug fixes per release.
package versions

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/chtc/weekly-report/internal/errors"
	"github.com/chtc/weekly-report/internal/extract"
)

const (
	outputFile = "version_history_data.txt"
	csvFile    = "documented_changes_by_version.csv"
)

// sectionNames maps the document headings to counter keys
var sectionNames = map[string]string{
	"release notes:": "notes",
	"new features:":  "features",
	"bugs fixed:":    "bugfixes",
}

// release is a parsed version number, e.g. {10, 0, 3}
type release []int

func (r release) String() string {
	parts := make([]string, len(r))
	for i, n := range r {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ".")
}

// less orders releases component-wise
func (r release) less(other release) bool {
	for i := 0; i < len(r) && i < len(other); i++ {
		if r[i] != other[i] {
			return r[i] < other[i]
		}
	}
	return len(r) < len(other)
}

func (r release) equal(other release) bool {
	return len(r) == len(other) && !r.less(other) && !other.less(r)
}

// parseRelease parses "10.0.3" into a release
func parseRelease(s string) (release, error) {
	parts := strings.Split(s, ".")
	r := make(release, len(parts))
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid version %q: %w", s, err)
		}
		r[i] = n
	}
	return r, nil
}

// counts is the per-section entry tally of one release
type counts map[string]int

// Job extracts documented changes from the version-history docs
type Job struct{}

// New creates the versions job
func New() *Job { return &Job{} }

// Name identifies the job
func (j *Job) Name() string { return "versions" }

// OutputFile is the report file the job writes
func (j *Job) OutputFile() string { return outputFile }

// Run parses the release-series documents and writes the summary.
// The reporting window does not apply here: the job always reports the
// current state of the documentation.
func (j *Job) Run(ctx context.Context, opts extract.Options) error {
	logger := opts.Log()
	docDir := filepath.Join(opts.RepoDir, "docs", "version-history")

	var files []string
	var err error
	if len(opts.Versions) == 0 {
		files, err = latestSeriesFiles(docDir)
	} else {
		files, err = seriesFilesFor(docDir, opts.Versions, logger)
	}
	if err != nil {
		return err
	}

	var keep []release
	for _, v := range opts.Versions {
		r, err := parseRelease(v)
		if err != nil {
			return err
		}
		keep = append(keep, r)
	}

	data := make(map[string]counts)
	order := make(map[string]release)
	for _, file := range files {
		if err := readDoc(file, keep, data, order, logger); err != nil {
			return err
		}
	}

	releases := make([]release, 0, len(order))
	for _, r := range order {
		releases = append(releases, r)
	}
	// newest first
	sort.Slice(releases, func(i, k int) bool { return releases[k].less(releases[i]) })

	if err := extract.WriteOutput(opts, csvFile, renderCSV(releases, data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", csvFile, err)
	}
	return extract.WriteOutput(opts, outputFile, renderText(releases, data, time.Now()))
}

// latestSeriesFiles picks the highest-numbered development and stable
// release-series documents.
func latestSeriesFiles(docDir string) ([]string, error) {
	var files []string
	for _, series := range []string{"development", "stable"} {
		matches, err := filepath.Glob(filepath.Join(docDir, series+"-release-series-*.rst"))
		if err != nil {
			return nil, fmt.Errorf("failed to glob %s series: %w", series, err)
		}
		if len(matches) == 0 {
			continue
		}
		// bigger series numbers are newer
		sort.Slice(matches, func(i, k int) bool {
			return seriesNumber(matches[i]) > seriesNumber(matches[k])
		})
		files = append(files, matches[0])
	}
	if len(files) == 0 {
		return nil, apperrors.NewNotFoundError("version history files in " + docDir)
	}
	return files, nil
}

// seriesFilesFor finds the release-series document for each requested
// version, skipping versions with no or ambiguous matches.
func seriesFilesFor(docDir string, versions []string, logger *zap.Logger) ([]string, error) {
	var files []string
	for _, version := range versions {
		parts := strings.SplitN(version, ".", 3)
		if len(parts) < 2 {
			logger.Error("skipping malformed version", zap.String("version", version))
			continue
		}
		glob := filepath.Join(docDir, "*-release-series-"+parts[0]+parts[1]+".rst")
		matches, err := filepath.Glob(glob)
		if err != nil {
			return nil, fmt.Errorf("failed to glob for %s: %w", version, err)
		}
		if len(matches) != 1 {
			logger.Error("skipping version without a unique history file",
				zap.String("version", version), zap.Int("matches", len(matches)))
			continue
		}
		files = append(files, matches[0])
	}
	if len(files) == 0 {
		return nil, apperrors.NewNotFoundError("version history files in " + docDir)
	}
	return files, nil
}

// seriesNumber extracts the numeric series suffix of a document name
func seriesNumber(path string) int {
	stem := strings.TrimSuffix(filepath.Base(path), ".rst")
	fields := strings.Split(stem, "-")
	n, err := strconv.Atoi(fields[len(fields)-1])
	if err != nil {
		return -1
	}
	return n
}

// readDoc counts the documented entries of each version section in one
// release-series document. When keep is non-empty, versions outside it
// are skipped.
func readDoc(path string, keep []release, data map[string]counts, order map[string]release, logger *zap.Logger) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	var current release
	section := ""
	skip := false
	for _, line := range strings.Split(string(body), "\n") {
		trimmed := strings.TrimRight(line, " \t\r")
		if trimmed == "" {
			continue
		}

		if strings.HasPrefix(trimmed, "Version ") {
			fields := strings.Fields(trimmed)
			if len(fields) < 2 {
				continue
			}
			current, err = parseRelease(fields[1])
			if err != nil {
				logger.Error("skipping unparseable version heading", zap.String("heading", trimmed))
				current = nil
				continue
			}
			section = ""
			skip = len(keep) > 0 && !contains(keep, current)
			continue
		}
		if current == nil || skip {
			continue
		}

		if name, ok := sectionNames[strings.ToLower(trimmed)]; ok {
			section = name
			continue
		}
		if section == "" {
			continue
		}

		if strings.HasPrefix(trimmed, "- ") && trimmed != "- None." {
			key := current.String()
			if data[key] == nil {
				data[key] = make(counts)
				order[key] = current
			}
			data[key][section]++
		}
	}

	logger.Info("read version history file", zap.String("file", filepath.Base(path)))
	return nil
}

func contains(releases []release, r release) bool {
	for _, have := range releases {
		if have.equal(r) {
			return true
		}
	}
	return false
}

// renderCSV formats per-release counts, newest release first
func renderCSV(releases []release, data map[string]counts) []byte {
	var b strings.Builder
	b.WriteString("version,bugfixes,features\n")
	for _, r := range releases {
		fmt.Fprintf(&b, "%s,%d,%d\n", r, data[r.String()]["bugfixes"], data[r.String()]["features"])
	}
	return []byte(b.String())
}

// renderText formats the human-readable version summary
func renderText(releases []release, data map[string]counts, now time.Time) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "As of %s:\n", now.Format("2006-01-02 15:04:05"))
	for _, r := range releases {
		fmt.Fprintf(&b, "Version %s had\n", r)
		fmt.Fprintf(&b, "\t%d documented enhancements and\n", data[r.String()]["features"])
		fmt.Fprintf(&b, "\t%d documented bug fixes.\n", data[r.String()]["bugfixes"])
	}
	return []byte(b.String())
}

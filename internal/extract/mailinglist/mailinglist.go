// Package mailinglist implements the mailing-list activity extraction
// job. It fetches the list's monthly mbox archives, counts messages in
// the reporting window, and classifies senders by origin.
package mailinglist

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/chtc/weekly-report/internal/errors"
	"github.com/chtc/weekly-report/internal/extract"
)

const (
	outputFile = "mailinglist_data.txt"
	csvFile    = "emails_by_origin.csv"
)

// csvColumns are the sender origin columns of the daily CSV
var csvColumns = []string{"edu", "ac", "staff", "total"}

// staffAddrs are known staff senders outside the staff domain
var staffAddrs = map[string]bool{
	"dan@help.wisc.edu":  true,
	"jcpatton@wisc.edu":  true,
	"lmichael@wisc.edu":  true,
	"ckoch5@wisc.edu":    true,
	"karpel@wisc.edu":    true,
	"egrasmick@wisc.edu": true,
	"moate@gmail.com":    true,
}

// eduAddrs are known academic senders without a .edu address
var eduAddrs = map[string]bool{
	"moate@gmail.com": true,
}

// isStaff reports whether the sender is project staff.
// Crudely assume anyone from cs.wisc.edu is staff.
func isStaff(addr string) bool {
	addr = strings.ToLower(addr)
	return strings.HasSuffix(addr, "@cs.wisc.edu") || staffAddrs[addr]
}

// isEdu reports whether the sender is from a US academic institution
func isEdu(addr string) bool {
	addr = strings.ToLower(addr)
	return strings.HasSuffix(addr, ".edu") || eduAddrs[addr]
}

// isAc reports whether the sender is from a non-US academic domain
func isAc(addr string) bool {
	addr = strings.ToLower(addr)
	domain := addr
	if at := strings.LastIndex(addr, "@"); at >= 0 {
		domain = addr[at+1:]
	}
	return strings.Contains(domain, ".ac.")
}

// origins maps origin names to their classifier
var origins = map[string]func(string) bool{
	"total": func(string) bool { return true },
	"staff": isStaff,
	"edu":   isEdu,
	"ac":    isAc,
}

// Job extracts mailing-list activity from the archive
type Job struct {
	http *http.Client
}

// New creates the mailinglist job
func New() *Job {
	return &Job{http: &http.Client{}}
}

// Name identifies the job
func (j *Job) Name() string { return "mailinglist" }

// OutputFile is the report file the job writes
func (j *Job) OutputFile() string { return outputFile }

// Run fetches the archive months covering the window and writes the summary
func (j *Job) Run(ctx context.Context, opts extract.Options) error {
	logger := opts.Log()

	data := make(map[time.Time]map[string]int)
	files := 0
	counted := 0
	for _, month := range archiveMonths(opts) {
		name := month.Format("2006-January") + ".txt"
		body, found, err := j.fetchArchive(ctx, opts, name)
		if err != nil {
			return err
		}
		if !found {
			logger.Info("skipping absent archive month", zap.String("archive", name))
			continue
		}
		files++
		counted += readArchive(body, data, opts, logger.With(zap.String("archive", name)))
	}
	logger.Info("read archives", zap.Int("files", files), zap.Int("emails", counted))

	if err := extract.WriteOutput(opts, csvFile, renderCSV(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", csvFile, err)
	}
	return extract.WriteOutput(opts, outputFile, renderText(data, opts))
}

// archiveMonths lists the month starts overlapping the window
func archiveMonths(opts extract.Options) []time.Time {
	start := opts.Window.Start
	end := opts.Window.End

	month := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, start.Location())
	last := time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, end.Location())

	var months []time.Time
	for !month.After(last) {
		months = append(months, month)
		month = month.AddDate(0, 1, 0)
	}
	return months
}

// fetchArchive retrieves one monthly archive. A missing month is not
// an error: quiet months simply have no file.
func (j *Job) fetchArchive(ctx context.Context, opts extract.Options, name string) (string, bool, error) {
	uri := strings.TrimRight(opts.ArchiveURI, "/") + "/" + opts.ListName + "/" + name

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return "", false, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := j.http.Do(req)
	if err != nil {
		return "", false, apperrors.NewAPIError(fmt.Sprintf("archive request %s failed", uri), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", false, nil
	}
	if resp.StatusCode >= 400 {
		return "", false, apperrors.NewAPIError(fmt.Sprintf("archive request %s returned %s", uri, resp.Status), nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", false, fmt.Errorf("failed to read response: %w", err)
	}
	return string(body), true, nil
}

// readArchive counts the mbox separator lines falling inside the
// window and returns how many messages were counted. Separators look
// like:
//
//	From user@foo.edu  Mon Dec 31 23:59:59 1999
func readArchive(body string, data map[time.Time]map[string]int, opts extract.Options, logger *zap.Logger) int {
	counted := 0
	for n, line := range strings.Split(body, "\n") {
		if len(line) < 33 || !strings.HasPrefix(line, "From ") {
			continue
		}
		tokens := strings.Fields(line)

		// auto-responders
		if len(tokens) > 1 && tokens[1] == "MAILER-DAEMON" {
			continue
		}

		// text starting with "From " should be escaped in the mbox,
		// but check the shape just in case
		if len(tokens) != 7 || !strings.Contains(tokens[1], "@") {
			logger.Warn("skipped potential From line",
				zap.Int("line", n+1), zap.String("text", strings.TrimSpace(line)))
			continue
		}

		addr := tokens[1]
		// skip the day of week
		dateStr := strings.Join(tokens[3:], " ")
		when, err := time.ParseInLocation("Jan 2 15:04:05 2006", dateStr, opts.Window.Start.Location())
		if err != nil {
			logger.Warn("unparseable date",
				zap.Int("line", n+1), zap.String("date", dateStr))
			continue
		}
		if !opts.Window.Contains(when) {
			continue
		}

		counted++
		day := time.Date(when.Year(), when.Month(), when.Day(), 0, 0, 0, 0, when.Location())
		if data[day] == nil {
			data[day] = make(map[string]int)
		}
		for origin, test := range origins {
			if test(addr) {
				data[day][origin]++
			}
		}
	}
	return counted
}

// renderCSV formats the per-day counts by sender origin
func renderCSV(data map[time.Time]map[string]int) []byte {
	var b strings.Builder
	b.WriteString("date," + strings.Join(csvColumns, ",") + "\n")

	days := make([]time.Time, 0, len(data))
	for day := range data {
		days = append(days, day)
	}
	sort.Slice(days, func(i, k int) bool { return days[i].Before(days[k]) })

	for _, day := range days {
		b.WriteString(day.Format("2006-01-02"))
		for _, col := range csvColumns {
			b.WriteString("," + strconv.Itoa(data[day][col]))
		}
		b.WriteString("\n")
	}
	return []byte(b.String())
}

// renderText formats the weekly mailing-list summary
func renderText(data map[time.Time]map[string]int, opts extract.Options) []byte {
	total := 0
	staff := 0
	for _, day := range data {
		total += day["total"]
		staff += day["staff"]
	}

	var b strings.Builder
	b.WriteString(opts.Window.Header() + "\n")
	fmt.Fprintf(&b, "Our community-support email list %s saw %d messages,\n", opts.ListName, total)
	fmt.Fprintf(&b, "of which staff sent %d emails responding to user questions.\n", staff)
	return []byte(b.String())
}

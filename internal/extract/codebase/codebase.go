// Package codebase implements the commit-statistics extraction job.
// It inspects the local repository mirror with git log and totals the
// week's commits, contributors, and line changes.
package codebase

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/chtc/weekly-report/internal/extract"
	"github.com/chtc/weekly-report/internal/loc"
)

const outputFile = "git_data.txt"

// countedDirs are the top-level source directories included in commit
// and LOC totals. Everything else (docs, tests, packaging) is ignored.
var countedDirs = map[string]bool{
	"src":      true,
	"bindings": true,
}

// stats summarizes one window of git history
type stats struct {
	commits      int
	authors      map[string]bool
	files        int
	uniqueFiles  map[string]bool
	linesAdded   int
	linesRemoved int
}

// Job extracts commit statistics from the repository mirror
type Job struct{}

// New creates the codebase job
func New() *Job { return &Job{} }

// Name identifies the job
func (j *Job) Name() string { return "codebase" }

// OutputFile is the report file the job writes
func (j *Job) OutputFile() string { return outputFile }

// Run inspects the mirror's history over the window and writes the summary
func (j *Job) Run(ctx context.Context, opts extract.Options) error {
	logger := opts.Log()

	logs, err := gitLog(ctx, opts)
	if err != nil {
		return err
	}

	data := parseLog(logs)
	logger.Info("parsed git log",
		zap.Int("commits", data.commits),
		zap.Int("authors", len(data.authors)))

	total, err := totalLOC(opts.RepoDir)
	if err != nil {
		return err
	}

	return extract.WriteOutput(opts, outputFile, renderText(data, total, opts))
}

// gitLog runs git log over the window against the mirror. The mirror
// must already be fetched and on the right branch; the job never
// updates it.
func gitLog(ctx context.Context, opts extract.Options) (string, error) {
	after := opts.Window.Start.Format("January.02.2006")
	before := opts.Window.End.Format("January.02.2006")

	cmd := exec.CommandContext(ctx, "git",
		"--git-dir", filepath.Join(opts.RepoDir, ".git"),
		"log", "--all", "--numstat", "--pretty=%ae",
		"--after", "{"+after+"}",
		"--before", "{"+before+"}")

	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to run git log on %s: %w", opts.RepoDir, err)
	}
	return string(out), nil
}

// parseLog walks the alternating author and numstat lines of the log.
// Author lines are single fields (the %ae email); numstat lines are
// "added<TAB>removed<TAB>path". Only paths under the counted source
// directories contribute to file and line totals.
func parseLog(logs string) *stats {
	data := &stats{
		authors:     make(map[string]bool),
		uniqueFiles: make(map[string]bool),
	}

	newCommit := true
	for _, line := range strings.Split(logs, "\n") {
		cols := strings.Fields(line)
		switch {
		case len(cols) == 0:
			// blank separator
		case len(cols) == 1:
			if newCommit {
				data.commits++
				newCommit = false
			}
			// skip automated forge accounts
			if !strings.Contains(cols[0], "github") {
				data.authors[cols[0]] = true
			}
		case len(cols) >= 3:
			newCommit = true
			path := cols[2]
			if !countedDirs[strings.SplitN(path, "/", 2)[0]] {
				continue
			}
			added, errA := strconv.Atoi(cols[0])
			removed, errR := strconv.Atoi(cols[1])
			if errA != nil || errR != nil {
				// binary files report "-" counts
				continue
			}
			data.linesAdded += added
			data.linesRemoved += removed
			data.uniqueFiles[path] = true
			data.files++
		default:
			newCommit = true
		}
	}
	return data
}

// totalLOC sums the mirror's line counts over the counted source directories
func totalLOC(repoDir string) (int64, error) {
	entries, err := loc.Count(repoDir)
	if err != nil {
		return 0, fmt.Errorf("failed to count lines in %s: %w", repoDir, err)
	}

	var total int64
	for _, entry := range entries {
		if countedDirs[entry.Name] {
			total += entry.Lines
		}
	}
	return total, nil
}

// renderText formats the weekly commit summary
func renderText(data *stats, totalLOC int64, opts extract.Options) []byte {
	var b strings.Builder
	b.WriteString(opts.Window.Header() + "\n")
	fmt.Fprintf(&b, "%d contributors\n", len(data.authors))
	fmt.Fprintf(&b, "made %d source code commits,\n", data.commits)
	fmt.Fprintf(&b, "consisting of %d (%d unique) file modifications\n", data.files, len(data.uniqueFiles))
	fmt.Fprintf(&b, "adding %d lines of code (LOC)\n", data.linesAdded)
	fmt.Fprintf(&b, "and removing %d LOC.\n", data.linesRemoved)
	fmt.Fprintf(&b, "Total LOC stands at %d.\n", totalLOC)
	return []byte(b.String())
}

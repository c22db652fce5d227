// Package extract defines the uniform contract shared by the five
// weekly report extraction jobs.
package extract

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/chtc/weekly-report/internal/window"
)

// Options carries the inputs an extraction job may need. Every job
// receives the same options; each reads only the fields it recognizes.
type Options struct {
	// Outdir is the run's output directory. It must exist.
	Outdir string

	// Window is the reporting time range shared by all jobs
	Window window.Window

	// RepoDir points at the pre-fetched local repository mirror
	// (codebase and versions jobs)
	RepoDir string

	// Versions restricts the versions job to specific releases.
	// Empty means the latest stable and development series.
	Versions []string

	// Ticket queue settings (tickets job)
	Queue        string
	APIURI       string
	Username     string
	PasswordFile string

	// Download statistics endpoint (downloads job)
	DownloadURI string

	// Mailing list archive endpoint and list name (mailinglist job)
	ArchiveURI string
	ListName   string

	Logger *zap.Logger
}

// Log returns the configured logger, or a no-op logger when unset
func (o Options) Log() *zap.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return zap.NewNop()
}

// Job is one extraction step of the weekly report
type Job interface {
	// Name identifies the job in logs and step summaries
	Name() string

	// OutputFile is the fixed file name the job writes inside Outdir
	OutputFile() string

	// Run performs the extraction and writes the output file.
	// A job that cannot complete returns an error and the run stops.
	Run(ctx context.Context, opts Options) error
}

// WriteOutput writes a job's text output into the run directory
func WriteOutput(opts Options, name string, data []byte) error {
	return os.WriteFile(filepath.Join(opts.Outdir, name), data, 0644)
}

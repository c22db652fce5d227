package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/chtc/weekly-report/internal/config"
	apperrors "github.com/chtc/weekly-report/internal/errors"
	"github.com/chtc/weekly-report/internal/extract"
	"github.com/chtc/weekly-report/internal/extract/codebase"
	"github.com/chtc/weekly-report/internal/extract/downloads"
	"github.com/chtc/weekly-report/internal/extract/mailinglist"
	"github.com/chtc/weekly-report/internal/extract/tickets"
	"github.com/chtc/weekly-report/internal/extract/versions"
	"github.com/chtc/weekly-report/internal/loc"
	"github.com/chtc/weekly-report/internal/logging"
	"github.com/chtc/weekly-report/internal/pipeline"
	"github.com/chtc/weekly-report/internal/report"
	"github.com/chtc/weekly-report/internal/window"
)

var (
	logLevel     string
	outdir       string
	startEpoch   int64
	endEpoch     int64
	repoDir      string
	versionList  []string
	queue        string
	apiURI       string
	username     string
	passwordFile string
	downloadURI  string
	archiveURI   string
	listName     string
)

var rootCmd = &cobra.Command{
	Use:   "weekly-report",
	Short: "Weekly project metrics report",
	Long: `A tool for producing the weekly project metrics report.

It runs five extraction jobs (downloads, codebase, mailing list,
ticket queue, version history) over the prior week and concatenates
their outputs into one report.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full weekly report pipeline",
	Long: `Load settings from the per-user config file, run every extraction
job over the prior week in order, and print the assembled report.`,
	Args: cobra.NoArgs,
	RunE: runPipeline,
}

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Run a single extraction job",
}

var extractDownloadsCmd = &cobra.Command{
	Use:   "downloads",
	Short: "Extract download statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExtractJob(cmd.Context(), downloads.New())
	},
}

var extractCodebaseCmd = &cobra.Command{
	Use:   "codebase",
	Short: "Extract commit statistics from the repository mirror",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExtractJob(cmd.Context(), codebase.New())
	},
}

var extractMailingListCmd = &cobra.Command{
	Use:   "mailinglist",
	Short: "Extract mailing list activity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExtractJob(cmd.Context(), mailinglist.New())
	},
}

var extractTicketsCmd = &cobra.Command{
	Use:   "tickets",
	Short: "Extract ticket queue activity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExtractJob(cmd.Context(), tickets.New())
	},
}

var extractVersionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "Extract version history statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExtractJob(cmd.Context(), versions.New())
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Assemble an existing output directory into a report",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return report.Assemble(os.Stdout, outdir)
	},
}

var locCmd = &cobra.Command{
	Use:   "loc [dir]",
	Short: "Count lines of code per subdirectory",
	Long: `Count lines of code in a source tree: the top-level directory
itself (non-recursive) and every immediate subdirectory (recursive),
printed as "name: count" lines.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return apperrors.NewUsageError("loc requires exactly one directory argument")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := loc.Count(args[0])
		if err != nil {
			return err
		}
		loc.Print(os.Stdout, entries)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	extractCmd.PersistentFlags().StringVar(&outdir, "outdir", "", "output directory")
	extractCmd.PersistentFlags().Int64Var(&startEpoch, "start", 0, "starting timestamp (epoch seconds, default one week ago at midnight)")
	extractCmd.PersistentFlags().Int64Var(&endEpoch, "end", 0, "ending timestamp (epoch seconds, default today at midnight)")
	extractCmd.MarkPersistentFlagRequired("outdir")

	extractCodebaseCmd.Flags().StringVar(&repoDir, "repo-dir", "", "path to the pre-fetched repository mirror")
	extractCodebaseCmd.MarkFlagRequired("repo-dir")

	extractVersionsCmd.Flags().StringVar(&repoDir, "repo-dir", "", "path to the pre-fetched repository mirror")
	extractVersionsCmd.Flags().StringArrayVar(&versionList, "version", nil, "version to report on, repeatable (default: latest stable and development series)")
	extractVersionsCmd.MarkFlagRequired("repo-dir")

	extractTicketsCmd.Flags().StringVar(&queue, "queue", "htcondor-admin", "ticket queue to query")
	extractTicketsCmd.Flags().StringVar(&apiURI, "api-uri", "", "RT REST API base URI")
	extractTicketsCmd.Flags().StringVar(&username, "username", "", "RT API username")
	extractTicketsCmd.Flags().StringVar(&passwordFile, "password-file", "", "file containing the RT API password")
	extractTicketsCmd.MarkFlagRequired("api-uri")
	extractTicketsCmd.MarkFlagRequired("username")
	extractTicketsCmd.MarkFlagRequired("password-file")

	extractDownloadsCmd.Flags().StringVar(&downloadURI, "download-uri", "", "download statistics base URI")
	extractDownloadsCmd.MarkFlagRequired("download-uri")

	extractMailingListCmd.Flags().StringVar(&archiveURI, "archive-uri", "", "mailing list archive base URI")
	extractMailingListCmd.Flags().StringVar(&listName, "list-name", "htcondor-users", "mailing list name")
	extractMailingListCmd.MarkFlagRequired("archive-uri")

	reportCmd.Flags().StringVar(&outdir, "outdir", "", "output directory to assemble")
	reportCmd.MarkFlagRequired("outdir")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(extractCmd)
	extractCmd.AddCommand(extractDownloadsCmd)
	extractCmd.AddCommand(extractCodebaseCmd)
	extractCmd.AddCommand(extractMailingListCmd)
	extractCmd.AddCommand(extractTicketsCmd)
	extractCmd.AddCommand(extractVersionsCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(locCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// jobs returns the extraction jobs in their fixed run order
func jobs() []extract.Job {
	return []extract.Job{
		downloads.New(),
		codebase.New(),
		mailinglist.New(),
		tickets.New(),
		versions.New(),
	}
}

// flagWindow computes the reporting window from the --start/--end
// flags, defaulting to the prior week at midnight boundaries.
func flagWindow() window.Window {
	win := window.LastWeek(time.Now())
	if startEpoch != 0 {
		win.Start = time.Unix(startEpoch, 0)
	}
	if endEpoch != 0 {
		win.End = time.Unix(endEpoch, 0)
	}
	return win
}

// runExtractJob runs one job standalone from its command-line flags
func runExtractJob(ctx context.Context, job extract.Job) error {
	level := logLevel
	if level == "" {
		level = "warn"
	}
	logger, err := logging.New(level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := os.MkdirAll(outdir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", outdir, err)
	}

	opts := extract.Options{
		Outdir:       outdir,
		Window:       flagWindow(),
		RepoDir:      repoDir,
		Versions:     versionList,
		Queue:        queue,
		APIURI:       apiURI,
		Username:     username,
		PasswordFile: passwordFile,
		DownloadURI:  downloadURI,
		ArchiveURI:   archiveURI,
		ListName:     listName,
		Logger:       logger,
	}
	return job.Run(ctx, opts)
}

// runPipeline is the full weekly run: config, preflight, all five
// jobs in order, then the assembled report on stdout and a step
// summary on stderr.
func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level := logLevel
	if level == "" {
		level = cfg.LogLevel
	}
	logger, err := logging.New(level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	now := time.Now()
	dir := pipeline.OutputDir(cfg.OutputBaseDir, now)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	opts := extract.Options{
		Outdir:       dir,
		Window:       window.LastWeek(now),
		RepoDir:      cfg.CondorSrcDir,
		Queue:        cfg.RTQueue,
		APIURI:       cfg.RTAPIURI,
		Username:     cfg.RTUsername,
		PasswordFile: cfg.RTPasswordFile,
		DownloadURI:  cfg.DownloadStatsURI,
		ArchiveURI:   cfg.ListArchiveURI,
		ListName:     cfg.ListName,
		Logger:       logger,
	}

	runner := pipeline.NewRunner(dir, logger)
	runner.Add(pipeline.Step{
		Name: "preflight",
		Run:  func(ctx context.Context) error { return pipeline.Preflight(cfg) },
	})
	for _, job := range jobs() {
		job := job
		runner.Add(pipeline.Step{
			Name:       job.Name(),
			OutputFile: job.OutputFile(),
			Run:        func(ctx context.Context) error { return job.Run(ctx, opts) },
		})
	}

	results, err := runner.Run(cmd.Context())
	pipeline.WriteSummary(os.Stderr, results)
	if err != nil {
		return err
	}

	return report.Assemble(os.Stdout, dir)
}

// Package pipeline runs the weekly report steps sequentially with
// fail-fast semantics: the first failing step aborts the run and no
// later step executes.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"go.uber.org/zap"

	"github.com/chtc/weekly-report/internal/config"
	apperrors "github.com/chtc/weekly-report/internal/errors"
)

// Step is one fallible stage of the run
type Step struct {
	// Name identifies the step in logs and the summary table
	Name string

	// OutputFile, when non-empty, is a post-condition: the file must
	// exist inside the run directory after Run returns nil.
	OutputFile string

	Run func(ctx context.Context) error
}

// Result records the outcome of one step
type Result struct {
	Name     string
	Duration time.Duration
	Err      error
}

// Runner executes steps in order, stopping at the first failure
type Runner struct {
	outdir string
	logger *zap.Logger
	runID  string
	steps  []Step
}

// NewRunner creates a runner for one report invocation
func NewRunner(outdir string, logger *zap.Logger) *Runner {
	return &Runner{
		outdir: outdir,
		logger: logger,
		runID:  uuid.New().String(),
	}
}

// RunID identifies this invocation in log entries
func (r *Runner) RunID() string { return r.runID }

// Add appends a step to the run
func (r *Runner) Add(step Step) {
	r.steps = append(r.steps, step)
}

// Run executes every step in order. It returns the results of all
// steps that ran; on failure the error names the failing step and the
// remaining steps are skipped.
func (r *Runner) Run(ctx context.Context) ([]Result, error) {
	logger := r.logger.With(zap.String("run_id", r.runID))

	var results []Result
	for _, step := range r.steps {
		logger.Info("running step", zap.String("step", step.Name))
		start := time.Now()

		err := step.Run(ctx)
		if err == nil && step.OutputFile != "" {
			path := filepath.Join(r.outdir, step.OutputFile)
			if _, statErr := os.Stat(path); statErr != nil {
				err = apperrors.NewMissingOutputError(step.Name, path)
			}
		}

		result := Result{
			Name:     step.Name,
			Duration: time.Since(start),
			Err:      err,
		}
		results = append(results, result)

		if err != nil {
			logger.Error("step failed",
				zap.String("step", step.Name),
				zap.Duration("duration", result.Duration),
				zap.Error(err))
			return results, apperrors.NewExtractError(step.Name, err)
		}
		logger.Info("step complete",
			zap.String("step", step.Name),
			zap.Duration("duration", result.Duration))
	}
	return results, nil
}

// WriteSummary renders the step results as a status table
func WriteSummary(w io.Writer, results []Result) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Step", "Duration", "Status"})
	for _, result := range results {
		status := "ok"
		if result.Err != nil {
			status = fmt.Sprintf("failed: %v", result.Err)
		}
		table.Append([]string{
			result.Name,
			result.Duration.Round(time.Millisecond).String(),
			status,
		})
	}
	table.Render()
}

// OutputDir returns the date-named run directory. Re-running on the
// same day reuses the directory and overwrites its files in place.
func OutputDir(base string, now time.Time) string {
	return filepath.Join(base, "data-"+now.Format("2006-01-02"))
}

// Preflight verifies the run can proceed before any job starts: git
// must be on PATH and the repository mirror must exist.
func Preflight(cfg *config.Config) error {
	if _, err := exec.LookPath("git"); err != nil {
		return fmt.Errorf("git not found on PATH: %w", err)
	}

	info, err := os.Stat(cfg.CondorSrcDir)
	if err != nil {
		return apperrors.NewConfigError(fmt.Sprintf("repository mirror %s is missing", cfg.CondorSrcDir))
	}
	if !info.IsDir() {
		return apperrors.NewConfigError(fmt.Sprintf("repository mirror %s is not a directory", cfg.CondorSrcDir))
	}
	return nil
}

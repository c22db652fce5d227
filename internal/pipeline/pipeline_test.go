package pipeline

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chtc/weekly-report/internal/config"
	apperrors "github.com/chtc/weekly-report/internal/errors"
)

func TestRunSequentialOrder(t *testing.T) {
	runner := NewRunner(t.TempDir(), zap.NewNop())

	var order []string
	for _, name := range []string{"one", "two", "three"} {
		name := name
		runner.Add(Step{Name: name, Run: func(ctx context.Context) error {
			order = append(order, name)
			return nil
		}})
	}

	results, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three"}, order)
	assert.Len(t, results, 3)
	for _, result := range results {
		assert.NoError(t, result.Err)
	}
}

func TestRunFailFast(t *testing.T) {
	runner := NewRunner(t.TempDir(), zap.NewNop())

	ran := false
	runner.Add(Step{Name: "ok", Run: func(ctx context.Context) error { return nil }})
	runner.Add(Step{Name: "broken", Run: func(ctx context.Context) error {
		return errors.New("network unavailable")
	}})
	runner.Add(Step{Name: "never", Run: func(ctx context.Context) error {
		ran = true
		return nil
	}})

	results, err := runner.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken", "the error names the failing step")
	assert.False(t, ran, "no later step runs after a failure")
	assert.Len(t, results, 2, "only steps that ran are reported")

	appErr, ok := err.(*apperrors.AppError)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeExtract, appErr.Code)
	assert.EqualError(t, errors.Unwrap(err), "network unavailable")
}

func TestRunVerifiesOutputFile(t *testing.T) {
	outdir := t.TempDir()
	runner := NewRunner(outdir, zap.NewNop())

	// exits clean but never writes its file
	runner.Add(Step{
		Name:       "silent",
		OutputFile: "silent_data.txt",
		Run:        func(ctx context.Context) error { return nil },
	})

	results, err := runner.Run(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsMissingOutput(errors.Unwrap(err)))
	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)
}

func TestRunOutputFilePresent(t *testing.T) {
	outdir := t.TempDir()
	runner := NewRunner(outdir, zap.NewNop())

	runner.Add(Step{
		Name:       "writer",
		OutputFile: "writer_data.txt",
		Run: func(ctx context.Context) error {
			return os.WriteFile(filepath.Join(outdir, "writer_data.txt"), []byte("data\n"), 0644)
		},
	})

	_, err := runner.Run(context.Background())
	assert.NoError(t, err)
}

func TestRunIDStable(t *testing.T) {
	runner := NewRunner(t.TempDir(), zap.NewNop())
	assert.NotEmpty(t, runner.RunID())
	assert.Equal(t, runner.RunID(), runner.RunID())
}

func TestWriteSummary(t *testing.T) {
	var b strings.Builder
	WriteSummary(&b, []Result{
		{Name: "downloads", Duration: 1200 * time.Millisecond},
		{Name: "tickets", Duration: 50 * time.Millisecond, Err: errors.New("boom")},
	})

	out := b.String()
	assert.Contains(t, out, "downloads")
	assert.Contains(t, out, "ok")
	assert.Contains(t, out, "tickets")
	assert.Contains(t, out, "failed: boom")
}

func TestOutputDir(t *testing.T) {
	day := time.Date(2024, 3, 15, 13, 0, 0, 0, time.Local)
	assert.Equal(t, filepath.Join("/tmp/reports", "data-2024-03-15"), OutputDir("/tmp/reports", day))

	// stable within a day, different across days
	later := day.Add(5 * time.Hour)
	assert.Equal(t, OutputDir(".", day), OutputDir(".", later))
	assert.NotEqual(t, OutputDir(".", day), OutputDir(".", day.AddDate(0, 0, 1)))
}

func TestPreflightMissingMirror(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	cfg := &config.Config{CondorSrcDir: filepath.Join(t.TempDir(), "nope")}
	err := Preflight(cfg)
	require.Error(t, err)
	assert.True(t, apperrors.IsConfigError(err))
}

func TestPreflightMirrorPresent(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	cfg := &config.Config{CondorSrcDir: t.TempDir()}
	assert.NoError(t, Preflight(cfg))
}

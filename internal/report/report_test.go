package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/chtc/weekly-report/internal/errors"
)

func writeOutputs(t *testing.T) string {
	t.Helper()
	outdir := t.TempDir()
	for _, section := range Sections() {
		contents := "contents of " + section.File + "\n"
		require.NoError(t, os.WriteFile(filepath.Join(outdir, section.File), []byte(contents), 0644))
	}
	return outdir
}

func TestAssembleFixedOrder(t *testing.T) {
	outdir := writeOutputs(t)

	var b strings.Builder
	require.NoError(t, Assemble(&b, outdir))
	out := b.String()

	banners := []string{
		"==== Download Statistics ====",
		"==== Codebase Statistics ====",
		"==== Mailing List Statistics ====",
		"==== Ticket Queue Statistics ====",
		"==== Version History ====",
	}
	last := -1
	for _, banner := range banners {
		pos := strings.Index(out, banner)
		require.GreaterOrEqual(t, pos, 0, banner)
		assert.Greater(t, pos, last, "sections appear in the fixed order")
		last = pos
	}
	bannerLines := 0
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "==== ") && strings.HasSuffix(line, " ====") {
			bannerLines++
		}
	}
	assert.Equal(t, 5, bannerLines, "exactly five banner-delimited sections")

	for _, section := range Sections() {
		assert.Contains(t, out, "contents of "+section.File)
	}
}

func TestAssembleMissingFile(t *testing.T) {
	outdir := writeOutputs(t)
	require.NoError(t, os.Remove(filepath.Join(outdir, "ticket_data.txt")))

	var b strings.Builder
	err := Assemble(&b, outdir)
	require.Error(t, err)
	assert.True(t, apperrors.IsMissingOutput(err))
	assert.Contains(t, err.Error(), "ticket_data.txt")
}

func TestAssembleUnterminatedFile(t *testing.T) {
	outdir := writeOutputs(t)
	require.NoError(t, os.WriteFile(filepath.Join(outdir, "git_data.txt"), []byte("no trailing newline"), 0644))

	var b strings.Builder
	require.NoError(t, Assemble(&b, outdir))
	assert.Contains(t, b.String(), "no trailing newline\n\n==== Mailing List Statistics ====")
}

// Package report assembles the extraction job outputs into the final
// weekly report.
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/chtc/weekly-report/internal/errors"
)

// Section pairs a report banner with the job output file it introduces
type Section struct {
	Title string
	File  string
}

// Sections lists the report sections in their fixed order
func Sections() []Section {
	return []Section{
		{Title: "Download Statistics", File: "download_data.txt"},
		{Title: "Codebase Statistics", File: "git_data.txt"},
		{Title: "Mailing List Statistics", File: "mailinglist_data.txt"},
		{Title: "Ticket Queue Statistics", File: "ticket_data.txt"},
		{Title: "Version History", File: "version_history_data.txt"},
	}
}

// Assemble writes every section of the report from outdir to w: a
// banner line naming the metric domain, then the job's output text.
// A missing output file is reported as a missing-output error even if
// the job claimed success.
func Assemble(w io.Writer, outdir string) error {
	for _, section := range Sections() {
		path := filepath.Join(outdir, section.File)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return apperrors.NewMissingOutputError(section.Title, path)
			}
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		fmt.Fprintf(w, "==== %s ====\n", section.Title)
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		if !strings.HasSuffix(string(data), "\n") {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w)
	}
	return nil
}

package mailinglist

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chtc/weekly-report/internal/extract"
	"github.com/chtc/weekly-report/internal/window"
)

func TestClassifiers(t *testing.T) {
	assert.True(t, isStaff("someone@cs.wisc.edu"))
	assert.True(t, isStaff("SOMEONE@CS.WISC.EDU"))
	assert.True(t, isStaff("moate@gmail.com"), "known staff outside the staff domain")
	assert.False(t, isStaff("user@example.edu"))

	assert.True(t, isEdu("user@example.edu"))
	assert.True(t, isEdu("moate@gmail.com"))
	assert.False(t, isEdu("user@example.com"))

	assert.True(t, isAc("user@physics.ox.ac.uk"))
	assert.False(t, isAc("ac.user@example.com"), "only the domain part counts")
}

func testWindow() window.Window {
	return window.Window{
		Start: time.Date(2024, 3, 8, 0, 0, 0, 0, time.Local),
		End:   time.Date(2024, 3, 15, 0, 0, 0, 0, time.Local),
	}
}

func fromLine(addr string, when time.Time) string {
	return fmt.Sprintf("From %s  %s\n", addr, when.Format("Mon Jan 2 15:04:05 2006"))
}

func TestReadArchive(t *testing.T) {
	win := testWindow()
	inWindow := win.Start.Add(30 * time.Hour)

	body := fromLine("user@example.edu", inWindow) +
		fromLine("staffer@cs.wisc.edu", inWindow) +
		"From some text in a message body\n" +
		fromLine("MAILER-DAEMON", inWindow) +
		fromLine("user@example.edu", win.Start.Add(-48*time.Hour))

	data := make(map[time.Time]map[string]int)
	opts := extract.Options{Window: win}
	counted := readArchive(body, data, opts, opts.Log())

	assert.Equal(t, 2, counted)

	day := time.Date(inWindow.Year(), inWindow.Month(), inWindow.Day(), 0, 0, 0, 0, time.Local)
	require.Contains(t, data, day)
	assert.Equal(t, 2, data[day]["total"])
	assert.Equal(t, 1, data[day]["staff"])
	assert.Equal(t, 2, data[day]["edu"])
	assert.Equal(t, 0, data[day]["ac"])
}

func TestArchiveMonths(t *testing.T) {
	opts := extract.Options{
		Window: window.Window{
			Start: time.Date(2024, 2, 26, 0, 0, 0, 0, time.Local),
			End:   time.Date(2024, 3, 4, 0, 0, 0, 0, time.Local),
		},
	}
	months := archiveMonths(opts)
	require.Len(t, months, 2, "a window spanning a month boundary reads both archives")
	assert.Equal(t, time.February, months[0].Month())
	assert.Equal(t, time.March, months[1].Month())
}

func TestRunFetchesAndWrites(t *testing.T) {
	win := testWindow()
	inWindow := win.Start.Add(30 * time.Hour)

	var requested []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = append(requested, r.URL.Path)
		if r.URL.Path != "/htcondor-users/2024-March.txt" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, fromLine("user@example.edu", inWindow))
		fmt.Fprint(w, fromLine("staffer@cs.wisc.edu", inWindow))
	}))
	defer server.Close()

	opts := extract.Options{
		Outdir:     t.TempDir(),
		Window:     win,
		ArchiveURI: server.URL,
		ListName:   "htcondor-users",
	}
	require.NoError(t, New().Run(context.Background(), opts))
	assert.Equal(t, []string{"/htcondor-users/2024-March.txt"}, requested)

	text, err := os.ReadFile(filepath.Join(opts.Outdir, "mailinglist_data.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(text), "Our community-support email list htcondor-users saw 2 messages,")
	assert.Contains(t, string(text), "of which staff sent 1 emails responding to user questions.")

	csv, err := os.ReadFile(filepath.Join(opts.Outdir, "emails_by_origin.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(csv), "date,edu,ac,staff,total")
	assert.Contains(t, string(csv), inWindow.Format("2006-01-02")+",2,0,1,2")
}

func TestRunSkipsMissingMonths(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(http.NotFound))
	defer server.Close()

	opts := extract.Options{
		Outdir:     t.TempDir(),
		Window:     testWindow(),
		ArchiveURI: server.URL,
		ListName:   "htcondor-users",
	}
	require.NoError(t, New().Run(context.Background(), opts), "quiet months have no archive file")

	text, err := os.ReadFile(filepath.Join(opts.Outdir, "mailinglist_data.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(text), "saw 0 messages,")
}

func TestJobMetadata(t *testing.T) {
	job := New()
	assert.Equal(t, "mailinglist", job.Name())
	assert.Equal(t, "mailinglist_data.txt", job.OutputFile())
}

// Package tickets implements the ticket-queue extraction job. It
// queries the Request Tracker REST API for one queue's activity over
// the reporting window: tickets created, tickets first assigned, email
// traffic, and staff response times.
package tickets

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chtc/weekly-report/internal/extract"
	"github.com/chtc/weekly-report/internal/rt"
)

const outputFile = "ticket_data.txt"

// rtTimeFormat is the timestamp format RT uses in queries and history entries
const rtTimeFormat = "2006-01-02 15:04:05"

// stats summarizes one queue's weekly activity
type stats struct {
	created       int
	assigned      int
	emailsRecv    int
	emailsSent    int
	responseTimes []time.Duration
}

// averageResponseHours is the mean staff response time in hours,
// zero when no responses were recorded.
func (s *stats) averageResponseHours() float64 {
	if len(s.responseTimes) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range s.responseTimes {
		total += d
	}
	return total.Hours() / float64(len(s.responseTimes))
}

// historian is the slice of the RT client the collector needs
type historian interface {
	SearchTickets(ctx context.Context, query string) (map[string]string, error)
	TicketHistory(ctx context.Context, ticket string) (map[string]string, error)
	HistoryEntry(ctx context.Context, ticket, id string) (map[string]string, error)
}

// Job extracts ticket-queue statistics from RT
type Job struct{}

// New creates the tickets job
func New() *Job { return &Job{} }

// Name identifies the job
func (j *Job) Name() string { return "tickets" }

// OutputFile is the report file the job writes
func (j *Job) OutputFile() string { return outputFile }

// Run opens an RT session, collects the queue's stats, and writes the summary
func (j *Job) Run(ctx context.Context, opts extract.Options) error {
	client, err := rt.NewClient(ctx, opts.APIURI, opts.Username, opts.PasswordFile)
	if err != nil {
		return err
	}

	data, err := collect(ctx, client, opts)
	if err != nil {
		return err
	}

	return extract.WriteOutput(opts, outputFile, renderText(data, opts))
}

// collect walks every ticket updated in the window and accumulates
// the queue stats from its history.
func collect(ctx context.Context, client historian, opts extract.Options) (*stats, error) {
	logger := opts.Log()

	since := opts.Window.Start.Format(rtTimeFormat)
	until := opts.Window.End.Format(rtTimeFormat)
	query := fmt.Sprintf("(Updated >= '%s' AND Created <= '%s') AND Queue = '%s'",
		since, until, opts.Queue)

	tickets, err := client.SearchTickets(ctx, query)
	if err != nil {
		return nil, err
	}
	logger.Info("searched queue", zap.String("queue", opts.Queue), zap.Int("tickets", len(tickets)))

	data := &stats{}
	for ticket := range tickets {
		if err := collectTicket(ctx, client, opts, ticket, data); err != nil {
			return nil, err
		}
	}
	return data, nil
}

// collectTicket walks one ticket's history in entry order
func collectTicket(ctx context.Context, client historian, opts extract.Options, ticket string, data *stats) error {
	logger := opts.Log().With(zap.String("ticket", ticket))

	history, err := client.TicketHistory(ctx, ticket)
	if err != nil {
		return err
	}
	logger.Debug("got history", zap.Int("entries", len(history)))

	ids := make([]string, 0, len(history))
	for id := range history {
		ids = append(ids, id)
	}
	sortHistoryIDs(ids)

	assigned := false
	var lastRecv *time.Time
	for _, id := range ids {
		// the first two words of the entry describe its type
		words := strings.Fields(history[id])
		if len(words) < 2 {
			continue
		}
		entryType := words[0] + " " + words[1]

		if entryType == "Ticket created" {
			when, err := entryTime(ctx, client, ticket, id)
			if err != nil {
				return err
			}
			if opts.Window.Contains(when) {
				data.created++
			}
		}

		// first assignment only
		if !assigned && (entryType == "Taken by" || entryType == "Given to") {
			assigned = true
			when, err := entryTime(ctx, client, ticket, id)
			if err != nil {
				return err
			}
			if opts.Window.Contains(when) {
				data.assigned++
			}
		}

		if entryType == "Ticket created" || entryType == "Correspondence added" {
			when, err := entryTime(ctx, client, ticket, id)
			if err != nil {
				return err
			}
			if !opts.Window.Contains(when) {
				continue
			}

			sender := words[len(words)-1]
			if strings.Contains(sender, "@") {
				// mail from a user
				data.emailsRecv++
				if lastRecv == nil {
					t := when
					lastRecv = &t
				}
			} else {
				// mail from staff
				data.emailsSent++
				if lastRecv != nil {
					data.responseTimes = append(data.responseTimes, when.Sub(*lastRecv))
					lastRecv = nil
				}
			}
		}
	}
	return nil
}

// entryTime fetches one history entry and parses its Created timestamp
func entryTime(ctx context.Context, client historian, ticket, id string) (time.Time, error) {
	details, err := client.HistoryEntry(ctx, ticket, id)
	if err != nil {
		return time.Time{}, err
	}
	when, err := time.ParseInLocation(rtTimeFormat, details["Created"], time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse history entry %s/%s time: %w", ticket, id, err)
	}
	return when, nil
}

// sortHistoryIDs orders entry ids numerically, falling back to
// lexicographic order for non-numeric ids.
func sortHistoryIDs(ids []string) {
	sort.Slice(ids, func(i, k int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[k])
		if errA == nil && errB == nil {
			return a < b
		}
		return ids[i] < ids[k]
	})
}

// renderText formats the weekly ticket-queue summary
func renderText(data *stats, opts extract.Options) []byte {
	var b strings.Builder
	b.WriteString(opts.Window.Header() + "\n")
	fmt.Fprintf(&b, "%d new requests for assistance through our ticket-tracked\n", data.created)
	fmt.Fprintf(&b, "%s support system were addressed by %d email communications.\n",
		opts.Queue, data.emailsRecv+data.emailsSent)
	b.WriteString("\n")
	fmt.Fprintf(&b, "Staff were newly assigned %d tickets,\n", data.assigned)
	fmt.Fprintf(&b, "users sent %d emails,\n", data.emailsRecv)
	fmt.Fprintf(&b, "and staff sent %d emails.\n", data.emailsSent)
	fmt.Fprintf(&b, "The average staff response time to mail received was %0.1f hours.\n",
		data.averageResponseHours())
	return []byte(b.String())
}

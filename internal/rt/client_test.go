package rt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResponse(t *testing.T) {
	body := "RT/4.4.4 200 Ok\n" +
		"\n" +
		"123: Trouble submitting jobs\n" +
		"456: Question about DAGMan\n" +
		"Created: 2024-03-10 14:22:01\n"

	data := ParseResponse(body)
	assert.Equal(t, "Trouble submitting jobs", data["123"])
	assert.Equal(t, "Question about DAGMan", data["456"])
	assert.Equal(t, "2024-03-10 14:22:01", data["Created"])
	assert.NotContains(t, data, "RT/4.4.4 200 Ok")
}

func TestParseResponseColonsInValue(t *testing.T) {
	data := ParseResponse("Subject: Re: broken: again\n")
	assert.Equal(t, "Re: broken: again", data["Subject"])
}

func writePassword(t *testing.T, password string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rt-password")
	require.NoError(t, os.WriteFile(path, []byte(password+"\n"), 0600))
	return path
}

func TestNewClientAuthenticates(t *testing.T) {
	var gotUser, gotPass string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			gotUser = r.URL.Query().Get("user")
			gotPass = r.URL.Query().Get("pass")
			http.SetCookie(w, &http.Cookie{Name: "RT_SID", Value: "abc123"})
		}
		w.Write([]byte("RT/4.4.4 200 Ok\n"))
	}))
	defer server.Close()

	client, err := NewClient(context.Background(), server.URL, "reporter", writePassword(t, "hunter2"))
	require.NoError(t, err)
	require.NotNil(t, client)

	assert.Equal(t, "reporter", gotUser)
	assert.Equal(t, "hunter2", gotPass, "trailing newline is stripped from the password file")
}

func TestNewClientBadCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := NewClient(context.Background(), server.URL, "reporter", writePassword(t, "wrong"))
	assert.Error(t, err)
}

func TestNewClientMissingPasswordFile(t *testing.T) {
	_, err := NewClient(context.Background(), "http://unused.invalid", "reporter",
		filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestSessionCookieReused(t *testing.T) {
	var searchCookie string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			http.SetCookie(w, &http.Cookie{Name: "RT_SID", Value: "abc123"})
			w.Write([]byte("RT/4.4.4 200 Ok\n"))
		case r.URL.Path == "/search/ticket":
			if c, err := r.Cookie("RT_SID"); err == nil {
				searchCookie = c.Value
			}
			w.Write([]byte("RT/4.4.4 200 Ok\n\n7: A ticket\n"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client, err := NewClient(context.Background(), server.URL, "reporter", writePassword(t, "pw"))
	require.NoError(t, err)

	tickets, err := client.SearchTickets(context.Background(), "Queue = 'help'")
	require.NoError(t, err)

	assert.Equal(t, "abc123", searchCookie, "session cookie from auth is sent on later requests")
	assert.Equal(t, map[string]string{"7": "A ticket"}, tickets)
}

func TestTicketHistoryAndEntry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Write([]byte("RT/4.4.4 200 Ok\n"))
		case "/ticket/7/history":
			w.Write([]byte("RT/4.4.4 200 Ok\n\n10: Ticket created by someone@example.edu\n"))
		case "/ticket/7/history/id/10":
			w.Write([]byte("RT/4.4.4 200 Ok\n\nCreated: 2024-03-10 14:22:01\n"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client, err := NewClient(context.Background(), server.URL, "u", writePassword(t, "pw"))
	require.NoError(t, err)

	history, err := client.TicketHistory(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, "Ticket created by someone@example.edu", history["10"])

	entry, err := client.HistoryEntry(context.Background(), "7", "10")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-10 14:22:01", entry["Created"])
}

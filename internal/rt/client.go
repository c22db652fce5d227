// Package rt is a minimal client for the Request Tracker REST 1.0 API.
package rt

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"

	apperrors "github.com/chtc/weekly-report/internal/errors"
)

// Client talks to a Request Tracker REST 1.0 endpoint using a
// cookie-authenticated session.
type Client struct {
	baseURI string
	http    *http.Client
}

// NewClient authenticates against the RT API and returns a client
// holding the session cookie. The password is read from passwordFile
// with trailing whitespace stripped.
func NewClient(ctx context.Context, apiURI, username, passwordFile string) (*Client, error) {
	password, err := os.ReadFile(passwordFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read password file: %w", err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	c := &Client{
		baseURI: strings.TrimRight(apiURI, "/"),
		http:    &http.Client{Jar: jar},
	}

	auth := url.Values{
		"user": {username},
		"pass": {strings.TrimRight(string(password), " \t\r\n")},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURI+"?"+auth.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build auth request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.NewAPIError("RT authentication request failed", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return nil, apperrors.NewAPIError(fmt.Sprintf("RT authentication returned %s", resp.Status), nil)
	}

	return c, nil
}

// SearchTickets runs a ticket search and returns id -> subject pairs
func (c *Client) SearchTickets(ctx context.Context, query string) (map[string]string, error) {
	return c.get(ctx, "/search/ticket", url.Values{"query": {query}})
}

// TicketHistory returns a ticket's history descriptions keyed by entry id
func (c *Client) TicketHistory(ctx context.Context, ticket string) (map[string]string, error) {
	return c.get(ctx, fmt.Sprintf("/ticket/%s/history", ticket), nil)
}

// HistoryEntry returns the detailed fields of one history entry
func (c *Client) HistoryEntry(ctx context.Context, ticket, id string) (map[string]string, error) {
	return c.get(ctx, fmt.Sprintf("/ticket/%s/history/id/%s", ticket, id), nil)
}

// get performs a GET and decodes the "key: value" response body
func (c *Client) get(ctx context.Context, path string, query url.Values) (map[string]string, error) {
	uri := c.baseURI + path
	if len(query) > 0 {
		uri += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.NewAPIError(fmt.Sprintf("RT request %s failed", path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, apperrors.NewAPIError(fmt.Sprintf("RT request %s returned %s", path, resp.Status), nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return ParseResponse(string(body)), nil
}

// ParseResponse decodes RT's "key: value" line format into a map.
// Lines without a colon, including the RT status line, are dropped.
func ParseResponse(body string) map[string]string {
	data := make(map[string]string)
	for _, line := range strings.Split(body, "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		data[key] = strings.TrimSpace(value)
	}
	return data
}

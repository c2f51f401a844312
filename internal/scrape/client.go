// Package scrape downloads article XML and search results from the NCBI
// Entrez E-utilities.
package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// DefaultBaseURL is the public E-utilities endpoint.
const DefaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

const (
	db       = "pmc"
	toolName = "papergest"
	maxBody  = 64 << 20
)

// ErrNotFound is returned when Entrez has no article for an id.
var ErrNotFound = errors.New("article not found")

// Client talks to efetch and esearch.
type Client struct {
	baseURL    string
	email      string
	apiKey     string
	httpClient *http.Client
	stats      *FetchStats
}

func NewClient(baseURL, email, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		email:   email,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		stats: NewFetchStats(time.Hour),
	}
}

// Stats returns the rolling latency window of FetchXML calls.
func (c *Client) Stats() *FetchStats {
	return c.stats
}

// SearchResult is the decoded esearch response.
type SearchResult struct {
	Count int      `json:"count,string"`
	IDs   []string `json:"idlist"`
}

// FetchXML downloads the full-text XML of one article.
func (c *Client) FetchXML(ctx context.Context, pmcid string) ([]byte, error) {
	q := c.query()
	q.Set("id", pmcid)
	q.Set("rettype", "full")
	q.Set("retmode", "xml")

	start := time.Now()
	body, err := c.get(ctx, "efetch.fcgi", q)
	if err != nil {
		c.stats.RecordFailure()
		return nil, fmt.Errorf("fetch %s: %w", pmcid, err)
	}
	c.stats.Record(time.Since(start).Milliseconds())

	if !bytes.Contains(body, []byte("<article")) {
		return nil, fmt.Errorf("fetch %s: %w", pmcid, ErrNotFound)
	}
	return body, nil
}

// Search runs an esearch query and returns at most retmax PMCIDs.
func (c *Client) Search(ctx context.Context, term string, retmax int) (*SearchResult, error) {
	if retmax <= 0 {
		retmax = 10
	}
	q := c.query()
	q.Set("term", term)
	q.Set("retmax", strconv.Itoa(retmax))
	q.Set("retmode", "json")

	body, err := c.get(ctx, "esearch.fcgi", q)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", term, err)
	}
	var resp struct {
		Result SearchResult `json:"esearchresult"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	if resp.Result.IDs == nil {
		resp.Result.IDs = []string{}
	}
	return &resp.Result, nil
}

func (c *Client) query() url.Values {
	q := url.Values{}
	q.Set("db", db)
	q.Set("tool", toolName)
	if c.email != "" {
		q.Set("email", c.email)
	}
	if c.apiKey != "" {
		q.Set("api_key", c.apiKey)
	}
	return q
}

func (c *Client) get(ctx context.Context, endpoint string, q url.Values) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &RetryableError{
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
		}
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%s: status %d: %s", endpoint, resp.StatusCode, string(respBody))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return body, nil
}

// RetryableError indicates a transient failure that can be retried.
type RetryableError struct {
	StatusCode int
	Message    string
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error (status %d): %s", e.StatusCode, truncate(e.Message, 200))
}

// Close releases resources.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

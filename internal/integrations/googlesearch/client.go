package googlesearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"line-chat-relay/internal/integrations/paramstore"
)

const (
	defaultBaseURL = "https://www.googleapis.com/customsearch/v1"
	// maxResults is the Custom Search API cap for num.
	maxResults = 10
)

// Result is a single web search hit.
type Result struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

type searchResponse struct {
	Items []Result `json:"items"`
}

// credentials is the JSON shape stored in SSM under <prefix>/google-search.
type credentials struct {
	APIKey string `json:"api_key"`
	CX     string `json:"cx"`
}

// HTTPStatusError captures non-2xx responses from the search API.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("googlesearch: unexpected status %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client queries the Google Custom Search JSON API.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      paramstore.Getter
	paramPrefix string

	credMu sync.Mutex
	creds  *credentials
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func NewClient(g paramstore.Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if g == nil {
		return nil, errors.New("googlesearch: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("googlesearch: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		getter:      g,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolveCredentials(ctx context.Context) (credentials, error) {
	c.credMu.Lock()
	defer c.credMu.Unlock()
	if c.creds != nil {
		return *c.creds, nil
	}
	var creds credentials
	if err := paramstore.DecodeJSON(ctx, c.getter, c.paramPrefix+"/google-search", &creds); err != nil {
		return credentials{}, fmt.Errorf("googlesearch: load credentials: %w", err)
	}
	if creds.APIKey == "" || creds.CX == "" {
		return credentials{}, errors.New("googlesearch: api_key and cx are required")
	}
	c.creds = &creds
	return creds, nil
}

// Search returns up to n results for query.
func (c *Client) Search(ctx context.Context, query string, n int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("googlesearch: query must not be empty")
	}
	if n <= 0 || n > maxResults {
		n = maxResults
	}

	creds, err := c.resolveCredentials(ctx)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("key", creds.APIKey)
	params.Set("cx", creds.CX)
	params.Set("q", query)
	params.Set("num", strconv.Itoa(n))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("googlesearch: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("googlesearch: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{StatusCode: res.StatusCode, Body: string(buf)}
	}

	var payload searchResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("googlesearch: decode response: %w", err)
	}
	if len(payload.Items) > n {
		payload.Items = payload.Items[:n]
	}
	return payload.Items, nil
}

package googlesearch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeGetter struct {
	val   string
	err   error
	calls int
}

func (f *fakeGetter) GetParameter(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.val, f.err
}

func newTestClient(t *testing.T, srv *httptest.Server, g *fakeGetter) *Client {
	t.Helper()
	c, err := NewClient(g, "/relay", WithBaseURL(srv.URL), WithHTTPClient(&http.Client{Timeout: 2 * time.Second}))
	require.NoError(t, err)
	return c
}

func TestNewClient_Validates(t *testing.T) {
	_, err := NewClient(nil, "/relay")
	require.ErrorContains(t, err, "nil")

	_, err = NewClient(&fakeGetter{}, " / ")
	require.ErrorContains(t, err, "prefix")
}

func TestSearch_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		q := r.URL.Query()
		require.Equal(t, "k-1", q.Get("key"))
		require.Equal(t, "cx-1", q.Get("cx"))
		require.Equal(t, "golang release", q.Get("q"))
		require.Equal(t, "2", q.Get("num"))
		_, _ = w.Write([]byte(`{"items":[
			{"title":"Go 1.23","link":"https://go.dev/doc/go1.23","snippet":"Release notes"},
			{"title":"Go blog","link":"https://go.dev/blog","snippet":"News"},
			{"title":"extra","link":"https://example.com","snippet":"ignored"}
		]}`))
	}))
	defer srv.Close()

	g := &fakeGetter{val: `{"api_key":"k-1","cx":"cx-1"}`}
	c := newTestClient(t, srv, g)
	results, err := c.Search(context.Background(), " golang release ", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "Go 1.23", results[0].Title)
	require.Equal(t, "https://go.dev/blog", results[1].Link)

	_, err = c.Search(context.Background(), "golang release", 2)
	require.NoError(t, err)
	require.Equal(t, 1, g.calls, "credentials are loaded once")
}

func TestSearch_NoItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"kind":"customsearch#search"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, &fakeGetter{val: `{"api_key":"k","cx":"c"}`})
	results, err := c.Search(context.Background(), "nothing", 5)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestSearch_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, &fakeGetter{val: `{"api_key":"k","cx":"c"}`})
	_, err := c.Search(context.Background(), "q", 5)
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusTooManyRequests, statusErr.HTTPStatusCode())
}

func TestSearch_CredentialErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("search API must not be called without credentials")
	}))
	defer srv.Close()

	c := newTestClient(t, srv, &fakeGetter{err: errors.New("ssm unavailable")})
	_, err := c.Search(context.Background(), "q", 5)
	require.ErrorContains(t, err, "ssm unavailable")

	c = newTestClient(t, srv, &fakeGetter{val: `{"api_key":"k"}`})
	_, err = c.Search(context.Background(), "q", 5)
	require.ErrorContains(t, err, "required")
}

func TestSearch_EmptyQuery(t *testing.T) {
	c, err := NewClient(&fakeGetter{}, "/relay")
	require.NoError(t, err)
	_, err = c.Search(context.Background(), "  ", 5)
	require.ErrorContains(t, err, "query")
}

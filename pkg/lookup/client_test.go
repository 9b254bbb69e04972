package lookup

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/athapong/entity-sieve/pkg/lookup/lookuptest"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, uri string, mutate ...func(*Options)) *Client {
	t.Helper()
	logger, _ := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	opts := Options{
		URI:        uri,
		Index:      "entities",
		Field:      "nit",
		Timeout:    5 * time.Second,
		MaxRetries: 2,
		Compress:   true,
		Logger:     logger,
	}
	for _, m := range mutate {
		m(&opts)
	}
	c, err := NewClient(opts)
	require.NoError(t, err)
	c.http.RetryWaitMin = time.Millisecond
	c.http.RetryWaitMax = 5 * time.Millisecond
	return c
}

func TestFindEntity(t *testing.T) {
	srv := lookuptest.NewServer("entities", "nit", map[string]map[string]interface{}{
		"800": {"nit": "800", "nombre_razon_social": "Existing SAS"},
	})
	defer srv.Close()
	c := newTestClient(t, srv.URL)

	t.Run("found", func(t *testing.T) {
		entity, found, err := c.FindEntity(context.Background(), "800")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, Entity{"nit": "800", "nombre_razon_social": "Existing SAS"}, entity)
	})

	t.Run("not found", func(t *testing.T) {
		entity, found, err := c.FindEntity(context.Background(), "123")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, entity)
	})
}

func TestFindEntityRequestShape(t *testing.T) {
	srv := lookuptest.NewServer("entities", "nit", nil)
	defer srv.Close()

	_, _, err := newTestClient(t, srv.URL+"/").FindEntity(context.Background(), "900123")
	require.NoError(t, err)

	requests := srv.Requests()
	require.Len(t, requests, 1)
	req := requests[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/entities/_search", req.Path)
	assert.Equal(t, "gzip", req.ContentEncoding)
	assert.Equal(t, map[string]interface{}{
		"query": map[string]interface{}{
			"match": map[string]interface{}{"nit": "900123"},
		},
		"size": float64(1),
	}, req.Body)
}

func TestFindEntityUncompressed(t *testing.T) {
	srv := lookuptest.NewServer("entities", "nit", nil)
	defer srv.Close()

	c := newTestClient(t, srv.URL, func(o *Options) { o.Compress = false })
	_, _, err := c.FindEntity(context.Background(), "1")
	require.NoError(t, err)
	assert.Empty(t, srv.Requests()[0].ContentEncoding)
	assert.Equal(t, []string{"1"}, srv.QueriedValues())
}

func TestFindEntityBasicAuthFromURI(t *testing.T) {
	srv := lookuptest.NewServer("entities", "nit", nil)
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	u.User = url.UserPassword("admin", "s3cret")

	_, _, err = newTestClient(t, u.String()).FindEntity(context.Background(), "1")
	require.NoError(t, err)
	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("admin:s3cret"))
	assert.Equal(t, want, srv.Requests()[0].Authorization)
}

func TestFindEntityRetriesServerErrors(t *testing.T) {
	srv := lookuptest.NewServer("entities", "nit", map[string]map[string]interface{}{
		"800": {"nit": "800"},
	})
	defer srv.Close()
	srv.FailNext(http.StatusServiceUnavailable, http.StatusBadGateway)

	_, found, err := newTestClient(t, srv.URL).FindEntity(context.Background(), "800")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Len(t, srv.Requests(), 3)
}

func TestFindEntityGivesUpAfterRetries(t *testing.T) {
	srv := lookuptest.NewServer("entities", "nit", nil)
	defer srv.Close()
	srv.FailNext(http.StatusServiceUnavailable, http.StatusServiceUnavailable, http.StatusServiceUnavailable)

	c := newTestClient(t, srv.URL, func(o *Options) { o.MaxRetries = 1 })
	_, _, err := c.FindEntity(context.Background(), "800")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSearchFailed))
	assert.Contains(t, err.Error(), "status 503")
	assert.Len(t, srv.Requests(), 2)
}

func TestFindEntityClientErrorIsNotRetried(t *testing.T) {
	srv := lookuptest.NewServer("other-index", "nit", nil)
	defer srv.Close()

	_, _, err := newTestClient(t, srv.URL).FindEntity(context.Background(), "800")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSearchFailed))
	assert.Contains(t, err.Error(), "index_not_found_exception")
	assert.Len(t, srv.Requests(), 1)
}

func TestFindEntityBadResponses(t *testing.T) {
	bodies := map[string]string{
		"not json":      `<html>proxy error</html>`,
		"missing hits":  `{"took": 1}`,
		"source scalar": `{"hits": {"hits": [{"_source": "x"}]}}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			_, _, err := newTestClient(t, srv.URL).FindEntity(context.Background(), "1")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrBadResponse), "got %v", err)
		})
	}
}

func TestFindEntityTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	uri := srv.URL
	srv.Close()

	c := newTestClient(t, uri, func(o *Options) { o.MaxRetries = 0 })
	_, _, err := c.FindEntity(context.Background(), "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `search entities for "1"`)
}

func TestFindEntityCancelled(t *testing.T) {
	srv := lookuptest.NewServer("entities", "nit", nil)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := newTestClient(t, srv.URL).FindEntity(ctx, "1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNewClientValidation(t *testing.T) {
	for _, uri := range []string{"localhost:9200", "ftp://host/", "http://", "://bad"} {
		_, err := NewClient(Options{URI: uri, Index: "i", Field: "f"})
		require.Error(t, err, uri)
		assert.True(t, errors.Is(err, ErrInvalidURI), uri)
	}

	_, err := NewClient(Options{URI: DefaultURI, Field: "f"})
	assert.Error(t, err)

	c, err := NewClient(Options{Index: "entities", Field: "nit"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9200/entities/_search", c.searchURL)
	assert.Equal(t, DefaultTimeout, c.http.HTTPClient.Timeout)
}

func TestParseHits(t *testing.T) {
	entity, found, err := parseHits([]byte(`{"hits": {"hits": [{"_id": "1"}]}}`))
	require.NoError(t, err)
	assert.True(t, found, "a hit without _source still exists")
	assert.Empty(t, entity)

	entity, found, err = parseHits([]byte(`{"hits": {"hits": [{"_source": {"a": 1}}, {"_source": {"a": 2}}]}}`))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, Entity{"a": float64(1)}, entity)
}

func TestDescribeError(t *testing.T) {
	assert.Equal(t, "index_not_found_exception no such index [x]",
		describeError([]byte(`{"error": {"type": "index_not_found_exception", "reason": "no such index [x]"}}`)))
	assert.Equal(t, "Unauthorized", describeError([]byte("Unauthorized\n")))
	assert.Equal(t, "empty body", describeError(nil))
}

func TestFindEntityTracesQuery(t *testing.T) {
	srv := lookuptest.NewServer("entities", "nit", nil)
	defer srv.Close()

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.TraceLevel)
	c, err := NewClient(Options{URI: srv.URL, Index: "entities", Field: "nit", Logger: logger})
	require.NoError(t, err)

	_, _, err = c.FindEntity(context.Background(), "321")
	require.NoError(t, err)

	var queries []string
	for _, e := range hook.AllEntries() {
		if e.Message == "Searching for entity" {
			queries = append(queries, e.Data["query"].(string))
		}
	}
	require.Len(t, queries, 1)
	assert.JSONEq(t, `{"query":{"match":{"nit":"321"}},"size":1}`, queries[0])
}

func TestQueryBody(t *testing.T) {
	body, err := NewMatchQuery("nit", "123").Body()
	require.NoError(t, err)
	assert.JSONEq(t, `{"query":{"match":{"nit":"123"}}}`, string(body))

	body, err = NewMatchQuery("identifier.id", "9").SetSize(1).Body()
	require.NoError(t, err)
	assert.JSONEq(t, `{"query":{"match":{"identifier.id":"9"}},"size":1}`, string(body))

	assert.Contains(t, NewMatchQuery("nit", "1").String(), `"match": {`)
}

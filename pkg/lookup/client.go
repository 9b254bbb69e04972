// Package lookup checks whether an entity already exists in an
// OpenSearch/Elasticsearch index.
package lookup

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

var (
	// ErrSearchFailed is returned when the search service answers with a non-2xx status
	ErrSearchFailed = errors.New("search request failed")
	// ErrBadResponse is returned when the search response cannot be understood
	ErrBadResponse = errors.New("unexpected search response")
	// ErrInvalidURI is returned for an unusable service endpoint
	ErrInvalidURI = errors.New("invalid search service URI")
)

const (
	DefaultURI        = "http://localhost:9200/"
	DefaultTimeout    = 60 * time.Second
	DefaultMaxRetries = 10
)

// Entity is the stored record of a search hit
type Entity map[string]interface{}

// Finder looks up an entity by id
type Finder interface {
	FindEntity(ctx context.Context, id string) (Entity, bool, error)
}

// Options configures a Client
type Options struct {
	URI                string
	Index              string
	Field              string
	Timeout            time.Duration
	MaxRetries         int
	InsecureSkipVerify bool
	Compress           bool
	Logger             *logrus.Logger
}

// Client runs single-field match queries over HTTP
type Client struct {
	http      *retryablehttp.Client
	searchURL string
	index     string
	field     string
	compress  bool
	logger    *logrus.Entry
}

// NewClient creates a search client. Credentials in the URI userinfo are
// sent as basic auth.
func NewClient(opts Options) (*Client, error) {
	if opts.URI == "" {
		opts.URI = DefaultURI
	}
	base, err := url.Parse(opts.URI)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidURI, "%v", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" || base.Host == "" {
		return nil, errors.Wrapf(ErrInvalidURI, "%s", base.Redacted())
	}
	if opts.Index == "" || opts.Field == "" {
		return nil, errors.New("index and field are required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	entry := logger.WithFields(logrus.Fields{
		"component": "lookup",
		"index":     opts.Index,
	})

	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.MaxRetries
	rc.HTTPClient.Timeout = opts.Timeout
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = leveledLogger{entry: entry}
	if transport, ok := rc.HTTPClient.Transport.(*http.Transport); ok {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: opts.InsecureSkipVerify} // #nosec G402
	}

	entry.WithFields(logrus.Fields{
		"uri":         base.Redacted(),
		"field":       opts.Field,
		"timeout":     opts.Timeout,
		"max_retries": opts.MaxRetries,
	}).Debug("Search client configured")

	return &Client{
		http:      rc,
		searchURL: base.JoinPath(opts.Index, "_search").String(),
		index:     opts.Index,
		field:     opts.Field,
		compress:  opts.Compress,
		logger:    entry,
	}, nil
}

// FindEntity returns the stored record of the first hit whose field matches id.
// A hit without a stored record still counts as found.
func (c *Client) FindEntity(ctx context.Context, id string) (Entity, bool, error) {
	query := NewMatchQuery(c.field, id).SetSize(1)
	body, err := query.Body()
	if err != nil {
		return nil, false, errors.Wrap(err, "encode query")
	}
	if c.logger.Logger.IsLevelEnabled(logrus.TraceLevel) {
		c.logger.WithField("query", query.String()).Trace("Searching for entity")
	}

	payload := body
	if c.compress {
		if payload, err = gzipBody(body); err != nil {
			return nil, false, errors.Wrap(err, "compress query")
		}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.searchURL, payload)
	if err != nil {
		return nil, false, errors.Wrap(err, "build search request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.compress {
		req.Header.Set("Content-Encoding", "gzip")
	}

	// the passthrough error handler hands back the last response once retries
	// run out, so a response is inspected even when err is set
	resp, err := c.http.Do(req)
	if resp == nil {
		if err == nil {
			err = errors.New("no response")
		}
		return nil, false, errors.Wrapf(err, "search %s for %q", c.index, id)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, errors.Wrap(err, "read search response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, false, errors.Wrapf(ErrSearchFailed, "status %d: %s", resp.StatusCode, describeError(data))
	}

	return parseHits(data)
}

func parseHits(data []byte) (Entity, bool, error) {
	if !gjson.ValidBytes(data) {
		return nil, false, errors.Wrap(ErrBadResponse, "body is not JSON")
	}
	hits := gjson.GetBytes(data, "hits.hits")
	if !hits.IsArray() {
		return nil, false, errors.Wrap(ErrBadResponse, "missing hits.hits")
	}

	first := hits.Get("0")
	if !first.Exists() {
		return nil, false, nil
	}

	source := first.Get("_source")
	if !source.Exists() {
		return Entity{}, true, nil
	}
	record, ok := source.Value().(map[string]interface{})
	if !ok {
		return nil, false, errors.Wrapf(ErrBadResponse, "_source is %s", source.Type)
	}
	return Entity(record), true, nil
}

// describeError pulls type and reason out of an error body, or returns the
// start of the raw body.
func describeError(data []byte) string {
	errType := gjson.GetBytes(data, "error.type").String()
	reason := gjson.GetBytes(data, "error.reason").String()
	if errType != "" || reason != "" {
		return strings.TrimSpace(errType + " " + reason)
	}
	text := strings.TrimSpace(string(data))
	if len(text) > 256 {
		text = text[:256] + "..."
	}
	if text == "" {
		return "empty body"
	}
	return text
}

func gzipBody(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

package nvd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/xerrors"

	"github.com/cvemind/cvemind/pkg/cve"
	"github.com/cvemind/cvemind/pkg/etc"
	"github.com/cvemind/cvemind/pkg/metrics"
)

const (
	paramKeywordSearch = "keywordSearch"
	paramCVEID         = "cveId"
	headerAPIKey       = "apiKey"

	maxErrorBodyLength = 1024
)

// RemoteSource is the NVD CVE API. Lookups never turn a failed request into an empty result.
type RemoteSource interface {
	// FetchByKeyword returns every record NVD matches for keyword.
	FetchByKeyword(ctx context.Context, keyword string) ([]cve.Vulnerability, error)
	// FetchByID returns the record with the given identifier, or nil when NVD does not know it.
	FetchByID(ctx context.Context, id string) (*cve.Vulnerability, error)
}

// RemoteSourceError is returned when NVD cannot be reached, answers with a non-2xx status, or
// returns a body that cannot be used. StatusCode is zero when no response was received.
type RemoteSourceError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *RemoteSourceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("nvd responded with status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("nvd request failed: %v", e.Err)
}

func (e *RemoteSourceError) Unwrap() error {
	return e.Err
}

type client struct {
	config  etc.NVD
	http    *http.Client
	schema  *gojsonschema.Schema
	metrics *metrics.Metrics
}

// NewClient constructs a RemoteSource for the configured NVD endpoint.
func NewClient(config etc.NVD, m *metrics.Metrics) (RemoteSource, error) {
	schema, err := loadResponseSchema()
	if err != nil {
		return nil, err
	}
	return &client{
		config: config,
		http: &http.Client{
			Timeout:   config.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		schema:  schema,
		metrics: m,
	}, nil
}

func (c *client) FetchByKeyword(ctx context.Context, keyword string) ([]cve.Vulnerability, error) {
	log := slog.With(slog.String("keyword", keyword))
	log.Info("Fetching CVEs from NVD by keyword")

	items, err := c.fetch(ctx, paramKeywordSearch, keyword)
	if err != nil {
		log.Error("Error while fetching CVEs from NVD", slog.String("err", err.Error()))
		return nil, err
	}

	records := make([]cve.Vulnerability, 0, len(items))
	skipped := 0
	for i, item := range items {
		v, err := toVulnerability(item.CVE)
		if err != nil {
			skipped++
			log.Warn("Skipping malformed vulnerability element", slog.Int("index", i), slog.String("err", err.Error()))
			continue
		}
		records = append(records, v)
	}

	c.metrics.RecordsMapped.Add(float64(len(records)))
	c.metrics.RecordsSkipped.Add(float64(skipped))
	log.Info("Mapped CVEs from NVD response", slog.Int("mapped", len(records)), slog.Int("skipped", skipped))

	return records, nil
}

func (c *client) FetchByID(ctx context.Context, id string) (*cve.Vulnerability, error) {
	log := slog.With(slog.String("cve_id", id))
	log.Info("Fetching CVE from NVD by id")

	items, err := c.fetch(ctx, paramCVEID, id)
	if err != nil {
		log.Error("Error while fetching CVE from NVD", slog.String("err", err.Error()))
		return nil, err
	}

	if len(items) == 0 {
		log.Warn("CVE not found in NVD")
		return nil, nil
	}

	v, err := toVulnerability(items[0].CVE)
	if err != nil {
		c.metrics.RecordsSkipped.Inc()
		log.Warn("Skipping malformed vulnerability element", slog.String("err", err.Error()))
		return nil, nil
	}
	c.metrics.RecordsMapped.Inc()

	return &v, nil
}

// fetch performs a single GET against the CVE API and returns the vulnerabilities array of the
// validated response. A missing or null array yields no items.
func (c *client) fetch(ctx context.Context, param, value string) (items []vulnerabilityItem, err error) {
	start := time.Now()
	defer func() {
		c.metrics.RemoteDuration.Observe(time.Since(start).Seconds())
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		c.metrics.RemoteRequests.WithLabelValues(outcome).Inc()
	}()

	reqURL, err := c.buildURL(param, value)
	if err != nil {
		return nil, &RemoteSourceError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &RemoteSourceError{Err: xerrors.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set(headerAPIKey, c.config.APIKey)
	}

	slog.Debug("Making request to NVD API", slog.String("url", reqURL))
	res, err := c.http.Do(req)
	if err != nil {
		return nil, &RemoteSourceError{Err: xerrors.Errorf("sending request: %w", err)}
	}
	defer func() {
		_ = res.Body.Close()
	}()

	body, err := c.readBody(res.Body)
	if err != nil {
		return nil, &RemoteSourceError{StatusCode: statusIfFailed(res.StatusCode), Err: err}
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &RemoteSourceError{
			StatusCode: res.StatusCode,
			Body:       truncate(string(body), maxErrorBodyLength),
			Err:        xerrors.Errorf("unexpected status: %s", res.Status),
		}
	}

	if err = validateRoot(c.schema, body); err != nil {
		return nil, &RemoteSourceError{Err: err}
	}

	var r response
	if err = json.Unmarshal(body, &r); err != nil {
		return nil, &RemoteSourceError{Err: xerrors.Errorf("decoding response: %w", err)}
	}

	return r.Vulnerabilities, nil
}

var errBodyTooLarge = errors.New("response body too large")

func (c *client) readBody(body io.Reader) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(body, c.config.MaxResponseBytes+1))
	if err != nil {
		return nil, xerrors.Errorf("reading response: %w", err)
	}
	if int64(len(b)) > c.config.MaxResponseBytes {
		return nil, xerrors.Errorf("exceeds %d bytes: %w", c.config.MaxResponseBytes, errBodyTooLarge)
	}
	return b, nil
}

func (c *client) buildURL(param, value string) (string, error) {
	u, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", xerrors.Errorf("parsing base URL: %w", err)
	}
	query := u.Query()
	query.Set(param, value)
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// statusIfFailed keeps the status of an unusable non-2xx response so it is still reported.
func statusIfFailed(code int) int {
	if code < 200 || code > 299 {
		return code
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

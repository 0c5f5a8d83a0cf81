package v1

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cvemind/cvemind/pkg/cve"
	"github.com/cvemind/cvemind/pkg/genai"
	"github.com/cvemind/cvemind/pkg/lookup"
	"github.com/cvemind/cvemind/pkg/metrics"
	mocks "github.com/cvemind/cvemind/pkg/mock"
	"github.com/cvemind/cvemind/pkg/nvd"
	"github.com/cvemind/cvemind/pkg/persistence"
	"github.com/cvemind/cvemind/pkg/ratelimit"
)

var (
	published = time.Date(2021, 12, 10, 10, 15, 9, 0, time.UTC)

	log4shell = cve.Vulnerability{
		ID:            "CVE-2021-44228",
		Description:   "Apache Log4j2 JNDI features do not protect against attacker controlled LDAP",
		Severity:      cve.SeverityCritical,
		PublishedDate: &published,
		References:    []string{"https://logging.apache.org/log4j/2.x/security.html"},
	}

	log4shellJSON = `{
		"id": "CVE-2021-44228",
		"description": "Apache Log4j2 JNDI features do not protect against attacker controlled LDAP",
		"severity": "CRITICAL",
		"publishedDate": "2021-12-10T10:15:09Z",
		"references": ["https://logging.apache.org/log4j/2.x/security.html"]
	}`

	xss = cve.Vulnerability{
		ID:          "CVE-2020-0001",
		Description: "Stored XSS",
		Severity:    cve.SeverityHigh,
		References:  []string{},
	}
)

type fixture struct {
	service    *mocks.Service
	remote     *mocks.RemoteSource
	summarizer *mocks.Summarizer
	handler    http.Handler
}

func newFixture(capacity int) *fixture {
	f := &fixture{
		service:    mocks.NewService(),
		remote:     mocks.NewRemoteSource(),
		summarizer: mocks.NewSummarizer(),
	}
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := ratelimit.NewLimiter(capacity, time.Hour, ratelimit.WithClock(func() time.Time { return now }))
	f.handler = NewAPIHandler(f.service, f.remote, f.summarizer, limiter, metrics.NewNopMetrics())
	return f
}

func (f *fixture) serve(method, target string, body io.Reader) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, httptest.NewRequest(method, target, body))
	return recorder
}

func (f *fixture) assertExpectations(t *testing.T) {
	f.service.AssertExpectations(t)
	f.remote.AssertExpectations(t)
	f.summarizer.AssertExpectations(t)
}

func TestRequestHandler_GetByID(t *testing.T) {
	testCases := []struct {
		name           string
		result         lookup.Result
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "Should return record",
			result:         lookup.Result{Status: lookup.StatusFound, Vulnerability: &log4shell},
			expectedStatus: http.StatusOK,
			expectedBody:   log4shellJSON,
		},
		{
			name:           "Should return not found",
			result:         lookup.Result{Status: lookup.StatusNotFound},
			expectedStatus: http.StatusNotFound,
			expectedBody:   `{"error":{"message":"cannot find CVE: CVE-2021-44228"}}`,
		},
		{
			name: "Should return server error when store fails",
			result: lookup.Result{
				Status: lookup.StatusFailed,
				Err:    &persistence.ReadError{Op: "get", Err: errors.New("database is locked")},
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `{"error":{"message":"getting CVE: local store unavailable"}}`,
		},
		{
			name: "Should return server error when NVD fails",
			result: lookup.Result{
				Status: lookup.StatusFailed,
				Err:    &nvd.RemoteSourceError{StatusCode: http.StatusServiceUnavailable, Body: "try later"},
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `{"error":{"message":"getting CVE: nvd responded with status 503: try later"}}`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(100)
			f.service.On("GetByID", mock.Anything, "CVE-2021-44228").Return(tc.result)

			rr := f.serve(http.MethodGet, "/api/v1/cve/CVE-2021-44228", nil)

			assert.Equal(t, tc.expectedStatus, rr.Code)
			assert.JSONEq(t, tc.expectedBody, rr.Body.String())
			assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
			f.assertExpectations(t)
		})
	}
}

func TestRequestHandler_SearchByKeyword(t *testing.T) {

	t.Run("Should return bad request when keyword is blank", func(t *testing.T) {
		f := newFixture(100)

		rr := f.serve(http.MethodGet, "/api/v1/cve/search?keyword=%20%20", nil)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.JSONEq(t, `{"error":{"message":"missing keyword"}}`, rr.Body.String())
		f.service.AssertNotCalled(t, "SearchByKeyword", mock.Anything, mock.Anything)
	})

	t.Run("Should return records for trimmed keyword", func(t *testing.T) {
		f := newFixture(100)
		f.service.On("SearchByKeyword", mock.Anything, "log4j").Return([]cve.Vulnerability{log4shell}, nil)

		rr := f.serve(http.MethodGet, "/api/v1/cve/search?keyword=+log4j+", nil)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, "["+log4shellJSON+"]", rr.Body.String())
		f.assertExpectations(t)
	})

	t.Run("Should return empty array when nothing matches", func(t *testing.T) {
		f := newFixture(100)
		f.service.On("SearchByKeyword", mock.Anything, "nothing").Return([]cve.Vulnerability{}, nil)

		rr := f.serve(http.MethodGet, "/api/v1/cve/search?keyword=nothing", nil)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `[]`, rr.Body.String())
	})

	t.Run("Should return server error when NVD fails", func(t *testing.T) {
		f := newFixture(100)
		f.service.On("SearchByKeyword", mock.Anything, "xss").
			Return([]cve.Vulnerability(nil), &nvd.RemoteSourceError{Err: errors.New("timeout")})

		rr := f.serve(http.MethodGet, "/api/v1/cve/search?keyword=xss", nil)

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.JSONEq(t, `{"error":{"message":"searching CVEs: nvd request failed: timeout"}}`, rr.Body.String())
	})
}

func TestRequestHandler_LocalQueries(t *testing.T) {

	t.Run("Should route all before id lookup", func(t *testing.T) {
		f := newFixture(100)
		f.service.On("GetAll", mock.Anything).Return([]cve.Vulnerability{log4shell, xss}, nil)

		rr := f.serve(http.MethodGet, "/api/v1/cve/all", nil)

		assert.Equal(t, http.StatusOK, rr.Code)
		var records []cve.Vulnerability
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &records))
		assert.Len(t, records, 2)
		f.service.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
	})

	t.Run("Should pass limit to latest", func(t *testing.T) {
		f := newFixture(100)
		f.service.On("GetLatest", mock.Anything, 5).Return([]cve.Vulnerability{log4shell}, nil)

		rr := f.serve(http.MethodGet, "/api/v1/cve/latest?limit=5", nil)

		assert.Equal(t, http.StatusOK, rr.Code)
		f.assertExpectations(t)
	})

	t.Run("Should use default limit when none is given", func(t *testing.T) {
		f := newFixture(100)
		f.service.On("GetLatest", mock.Anything, 0).Return([]cve.Vulnerability{}, nil)

		rr := f.serve(http.MethodGet, "/api/v1/cve/latest", nil)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `[]`, rr.Body.String())
	})

	t.Run("Should return bad request when limit is not a number", func(t *testing.T) {
		f := newFixture(100)

		rr := f.serve(http.MethodGet, "/api/v1/cve/latest?limit=many", nil)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		f.service.AssertNotCalled(t, "GetLatest", mock.Anything, mock.Anything)
	})

	t.Run("Should search by severity", func(t *testing.T) {
		f := newFixture(100)
		f.service.On("SearchBySeverity", mock.Anything, "high").Return([]cve.Vulnerability{xss}, nil)

		rr := f.serve(http.MethodGet, "/api/v1/cve/severity/high", nil)

		assert.Equal(t, http.StatusOK, rr.Code)
		f.assertExpectations(t)
	})

	t.Run("Should return bad request for unknown severity", func(t *testing.T) {
		f := newFixture(100)

		rr := f.serve(http.MethodGet, "/api/v1/cve/severity/catastrophic", nil)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.JSONEq(t, `{"error":{"message":"invalid severity: catastrophic"}}`, rr.Body.String())
	})

	t.Run("Should filter by keyword and severity", func(t *testing.T) {
		f := newFixture(100)
		f.service.On("SearchByCriteria", mock.Anything, "xss", "HIGH").Return([]cve.Vulnerability{xss}, nil)

		rr := f.serve(http.MethodGet, "/api/v1/cve/filter?keyword=xss&severity=HIGH", nil)

		assert.Equal(t, http.StatusOK, rr.Code)
		f.assertExpectations(t)
	})

	t.Run("Should return server error when store fails", func(t *testing.T) {
		f := newFixture(100)
		f.service.On("GetAll", mock.Anything).
			Return([]cve.Vulnerability(nil), &persistence.ReadError{Op: "all", Err: errors.New("locked")})

		rr := f.serve(http.MethodGet, "/api/v1/cve/all", nil)

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.JSONEq(t, `{"error":{"message":"listing CVEs: local store unavailable"}}`, rr.Body.String())
	})
}

func TestRequestHandler_NVD(t *testing.T) {

	t.Run("Should search NVD without touching the store", func(t *testing.T) {
		f := newFixture(100)
		f.remote.On("FetchByKeyword", mock.Anything, "xss").Return([]cve.Vulnerability{xss}, nil)

		rr := f.serve(http.MethodGet, "/api/v1/cve/nvd/search?keyword=xss", nil)

		assert.Equal(t, http.StatusOK, rr.Code)
		f.assertExpectations(t)
		f.service.AssertNotCalled(t, "SearchByKeyword", mock.Anything, mock.Anything)
	})

	t.Run("Should return not found when NVD does not know the record", func(t *testing.T) {
		f := newFixture(100)
		f.remote.On("FetchByID", mock.Anything, "CVE-1999-9999").Return((*cve.Vulnerability)(nil), nil)

		rr := f.serve(http.MethodGet, "/api/v1/cve/nvd/CVE-1999-9999", nil)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("Should return record from NVD", func(t *testing.T) {
		f := newFixture(100)
		f.remote.On("FetchByID", mock.Anything, "CVE-2021-44228").Return(&log4shell, nil)

		rr := f.serve(http.MethodGet, "/api/v1/cve/nvd/CVE-2021-44228", nil)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, log4shellJSON, rr.Body.String())
	})
}

func TestRequestHandler_Summarize(t *testing.T) {
	details := genai.FormatDetails(log4shell)

	t.Run("Should return summary in requested mode with context", func(t *testing.T) {
		f := newFixture(100)
		f.service.On("GetByID", mock.Anything, "CVE-2021-44228").
			Return(lookup.Result{Status: lookup.StatusFound, Vulnerability: &log4shell})
		f.summarizer.On("Summarize", mock.Anything, details, genai.ModeMitigation, "internet facing").
			Return("Upgrade to 2.17.1", nil)

		rr := f.serve(http.MethodPost, "/api/v1/cve/CVE-2021-44228/summarize?mode=mitigation",
			strings.NewReader(`{"context":"internet facing"}`))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"summary":"Upgrade to 2.17.1"}`, rr.Body.String())
		f.assertExpectations(t)
	})

	t.Run("Should default to summary mode without body", func(t *testing.T) {
		f := newFixture(100)
		f.service.On("GetByID", mock.Anything, "CVE-2021-44228").
			Return(lookup.Result{Status: lookup.StatusFound, Vulnerability: &log4shell})
		f.summarizer.On("Summarize", mock.Anything, details, genai.ModeSummary, "").Return("Log4Shell", nil)

		rr := f.serve(http.MethodPost, "/api/v1/cve/CVE-2021-44228/summarize", nil)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"summary":"Log4Shell"}`, rr.Body.String())
	})

	t.Run("Should return not found when record is missing", func(t *testing.T) {
		f := newFixture(100)
		f.service.On("GetByID", mock.Anything, "CVE-1999-9999").Return(lookup.Result{Status: lookup.StatusNotFound})

		rr := f.serve(http.MethodPost, "/api/v1/cve/CVE-1999-9999/summarize", nil)

		assert.Equal(t, http.StatusNotFound, rr.Code)
		f.summarizer.AssertNotCalled(t, "Summarize", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Should return server error when LLM fails", func(t *testing.T) {
		f := newFixture(100)
		llmErr := &genai.Error{StatusCode: http.StatusUnauthorized, Body: "bad key"}
		f.service.On("GetByID", mock.Anything, "CVE-2021-44228").
			Return(lookup.Result{Status: lookup.StatusFound, Vulnerability: &log4shell})
		f.summarizer.On("Summarize", mock.Anything, details, genai.ModeSummary, "").
			Return(genai.Placeholder(llmErr), llmErr)

		rr := f.serve(http.MethodPost, "/api/v1/cve/CVE-2021-44228/summarize", nil)

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.JSONEq(t, `{"error":"Failed to generate summary"}`, rr.Body.String())
	})

	t.Run("Should return bad request for unknown mode", func(t *testing.T) {
		f := newFixture(100)

		rr := f.serve(http.MethodPost, "/api/v1/cve/CVE-2021-44228/summarize?mode=poem", nil)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		f.service.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
	})

	t.Run("Should return bad request for malformed body", func(t *testing.T) {
		f := newFixture(100)

		rr := f.serve(http.MethodPost, "/api/v1/cve/CVE-2021-44228/summarize", strings.NewReader(`{"context":`))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestRequestHandler_BatchSummarize(t *testing.T) {
	f := newFixture(100)
	llmErr := &genai.Error{Err: errors.New("timeout")}

	f.service.On("GetByID", mock.Anything, "CVE-2021-44228").
		Return(lookup.Result{Status: lookup.StatusFound, Vulnerability: &log4shell})
	f.service.On("GetByID", mock.Anything, "CVE-2020-0001").
		Return(lookup.Result{Status: lookup.StatusFound, Vulnerability: &xss})
	f.service.On("GetByID", mock.Anything, "CVE-1999-9999").Return(lookup.Result{Status: lookup.StatusNotFound})
	f.service.On("GetByID", mock.Anything, "CVE-2000-0000").
		Return(lookup.Result{Status: lookup.StatusFailed, Err: &nvd.RemoteSourceError{StatusCode: 500}})
	f.summarizer.On("Summarize", mock.Anything, genai.FormatDetails(log4shell), genai.ModeSummary, "").
		Return("Log4Shell", nil)
	f.summarizer.On("Summarize", mock.Anything, genai.FormatDetails(xss), genai.ModeSummary, "").
		Return(genai.Placeholder(llmErr), llmErr)

	rr := f.serve(http.MethodPost, "/api/v1/cve/batch/summarize",
		strings.NewReader(`["CVE-2021-44228","CVE-2020-0001","CVE-1999-9999","CVE-2000-0000"]`))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{
		"CVE-2021-44228": "Log4Shell",
		"CVE-2020-0001": "Error generating summary",
		"CVE-1999-9999": "CVE not found",
		"CVE-2000-0000": "Error generating summary"
	}`, rr.Body.String())
	f.assertExpectations(t)

	t.Run("Should return bad request for malformed body", func(t *testing.T) {
		rr := f.serve(http.MethodPost, "/api/v1/cve/batch/summarize", strings.NewReader(`{"ids":[]}`))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestRequestHandler_Utility(t *testing.T) {

	t.Run("Should report health", func(t *testing.T) {
		f := newFixture(100)

		rr := f.serve(http.MethodGet, "/api/v1/cve/health", nil)

		assert.Equal(t, http.StatusOK, rr.Code)
		var body map[string]string
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, "healthy", body["status"])
		_, err := time.Parse(timestampLayout, body["timestamp"])
		assert.NoError(t, err)
	})

	t.Run("Should report stats", func(t *testing.T) {
		f := newFixture(100)
		f.service.On("GetAll", mock.Anything).Return([]cve.Vulnerability{
			log4shell,
			xss,
			{ID: "CVE-2020-0002", Severity: cve.SeverityHigh},
			{ID: "CVE-2020-0003"},
		}, nil)

		rr := f.serve(http.MethodGet, "/api/v1/cve/stats", nil)

		assert.Equal(t, http.StatusOK, rr.Code)
		var body struct {
			TotalCVEs            int            `json:"totalCves"`
			SeverityDistribution map[string]int `json:"severityDistribution"`
			LastUpdated          string         `json:"lastUpdated"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, 4, body.TotalCVEs)
		assert.Equal(t, map[string]int{"CRITICAL": 1, "HIGH": 2, "UNKNOWN": 1}, body.SeverityDistribution)
		assert.NotEmpty(t, body.LastUpdated)
	})

	t.Run("Should report LLM test result", func(t *testing.T) {
		f := newFixture(100)
		f.summarizer.On("Summarize", mock.Anything, testPrompt, genai.ModeSummary, "").Return("It works", nil)

		rr := f.serve(http.MethodGet, "/api/v1/cve/test-ai", nil)

		assert.Equal(t, http.StatusOK, rr.Code)
		var body map[string]string
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, "success", body["status"])
		assert.Equal(t, "It works", body["result"])
	})

	t.Run("Should report LLM test failure", func(t *testing.T) {
		f := newFixture(100)
		llmErr := &genai.Error{StatusCode: http.StatusUnauthorized, Body: "bad key"}
		f.summarizer.On("Summarize", mock.Anything, testPrompt, genai.ModeSummary, "").
			Return(genai.Placeholder(llmErr), llmErr)

		rr := f.serve(http.MethodGet, "/api/v1/cve/test-ai", nil)

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		var body map[string]string
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, "error", body["status"])
		assert.Equal(t, "llm responded with status 401: bad key", body["error"])
	})
}

func TestRequestHandler_RateLimit(t *testing.T) {
	f := newFixture(2)
	f.service.On("GetAll", mock.Anything).Return([]cve.Vulnerability{}, nil)

	for i := 0; i < 2; i++ {
		rr := f.serve(http.MethodGet, "/api/v1/cve/all", nil)
		require.Equal(t, http.StatusOK, rr.Code)
	}

	rr := f.serve(http.MethodGet, "/api/v1/cve/all", nil)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, ratelimit.RejectionMessage, rr.Body.String())
	f.service.AssertNumberOfCalls(t, "GetAll", 2)
}

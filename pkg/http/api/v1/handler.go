package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/schema"
	"github.com/samber/lo"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/cvemind/cvemind/pkg/cve"
	"github.com/cvemind/cvemind/pkg/genai"
	"github.com/cvemind/cvemind/pkg/http/api"
	"github.com/cvemind/cvemind/pkg/lookup"
	"github.com/cvemind/cvemind/pkg/metrics"
	"github.com/cvemind/cvemind/pkg/nvd"
	"github.com/cvemind/cvemind/pkg/persistence"
	"github.com/cvemind/cvemind/pkg/ratelimit"
)

const (
	pathAPIPrefix      = "/api/v1/cve"
	pathSearch         = "/search"
	pathAll            = "/all"
	pathLatest         = "/latest"
	pathFilter         = "/filter"
	pathSeverity       = "/severity/{severity}"
	pathNVDSearch      = "/nvd/search"
	pathNVDCVE         = "/nvd/{id}"
	pathBatchSummarize = "/batch/summarize"
	pathHealth         = "/health"
	pathStats          = "/stats"
	pathTestAI         = "/test-ai"
	pathSummarize      = "/{id}/summarize"
	pathCVE            = "/{id}"

	pathVarID       = "id"
	pathVarSeverity = "severity"

	timestampLayout = "2006-01-02T15:04:05"

	summaryNotFound = "CVE not found"
	summaryFailed   = "Error generating summary"

	testPrompt = "Test CVE: This is a simple test to check if the API key is working correctly."
)

type searchParams struct {
	Keyword string `schema:"keyword"`
}

type filterParams struct {
	Keyword  string `schema:"keyword"`
	Severity string `schema:"severity"`
}

type latestParams struct {
	Limit int `schema:"limit"`
}

type summarizeParams struct {
	Mode string `schema:"mode"`
}

type summarizeRequest struct {
	Context string `json:"context"`
}

type requestHandler struct {
	service    lookup.Service
	remote     nvd.RemoteSource
	summarizer genai.Summarizer
	decoder    *schema.Decoder
	now        func() time.Time
	api.BaseHandler
}

// NewAPIHandler routes the CVE API. Every request is tagged with a request id, throttled per
// client and traced.
func NewAPIHandler(service lookup.Service, remote nvd.RemoteSource, summarizer genai.Summarizer,
	limiter *ratelimit.Limiter, m *metrics.Metrics) http.Handler {
	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)

	handler := &requestHandler{
		service:    service,
		remote:     remote,
		summarizer: summarizer,
		decoder:    decoder,
		now:        time.Now,
	}

	router := mux.NewRouter()
	v1Router := router.PathPrefix(pathAPIPrefix).Subrouter()

	// Fixed paths are registered before the {id} catch-alls.
	v1Router.Methods(http.MethodGet).Path(pathSearch).HandlerFunc(handler.SearchByKeyword)
	v1Router.Methods(http.MethodGet).Path(pathAll).HandlerFunc(handler.GetAll)
	v1Router.Methods(http.MethodGet).Path(pathLatest).HandlerFunc(handler.GetLatest)
	v1Router.Methods(http.MethodGet).Path(pathFilter).HandlerFunc(handler.Filter)
	v1Router.Methods(http.MethodGet).Path(pathSeverity).HandlerFunc(handler.SearchBySeverity)
	v1Router.Methods(http.MethodGet).Path(pathNVDSearch).HandlerFunc(handler.SearchNVD)
	v1Router.Methods(http.MethodGet).Path(pathNVDCVE).HandlerFunc(handler.GetFromNVD)
	v1Router.Methods(http.MethodGet).Path(pathHealth).HandlerFunc(handler.Health)
	v1Router.Methods(http.MethodGet).Path(pathStats).HandlerFunc(handler.Stats)
	v1Router.Methods(http.MethodGet).Path(pathTestAI).HandlerFunc(handler.TestAI)
	v1Router.Methods(http.MethodPost).Path(pathBatchSummarize).HandlerFunc(handler.BatchSummarize)
	v1Router.Methods(http.MethodPost).Path(pathSummarize).HandlerFunc(handler.Summarize)
	v1Router.Methods(http.MethodGet).Path(pathCVE).HandlerFunc(handler.GetByID)

	return otelhttp.NewHandler(api.RequestID(ratelimit.Middleware(limiter, m)(router)), "cvemind-api")
}

func (h *requestHandler) SearchByKeyword(res http.ResponseWriter, req *http.Request) {
	var params searchParams
	if !h.decodeQuery(res, req, &params) {
		return
	}
	keyword := strings.TrimSpace(params.Keyword)
	if keyword == "" {
		h.WriteJSONError(res, api.Error{HTTPCode: http.StatusBadRequest, Message: "missing keyword"})
		return
	}

	log := api.Logger(req.Context()).With(slog.String("keyword", keyword))
	log.Info("Search request received")

	records, err := h.service.SearchByKeyword(req.Context(), keyword)
	if err != nil {
		h.writeError(res, log, err, "searching CVEs")
		return
	}
	h.WriteJSON(res, records, http.StatusOK)
}

func (h *requestHandler) GetAll(res http.ResponseWriter, req *http.Request) {
	log := api.Logger(req.Context())

	records, err := h.service.GetAll(req.Context())
	if err != nil {
		h.writeError(res, log, err, "listing CVEs")
		return
	}
	log.Debug("Returning all CVEs", slog.Int("count", len(records)))
	h.WriteJSON(res, records, http.StatusOK)
}

func (h *requestHandler) GetLatest(res http.ResponseWriter, req *http.Request) {
	var params latestParams
	if !h.decodeQuery(res, req, &params) {
		return
	}

	records, err := h.service.GetLatest(req.Context(), params.Limit)
	if err != nil {
		h.writeError(res, api.Logger(req.Context()), err, "listing latest CVEs")
		return
	}
	h.WriteJSON(res, records, http.StatusOK)
}

func (h *requestHandler) Filter(res http.ResponseWriter, req *http.Request) {
	var params filterParams
	if !h.decodeQuery(res, req, &params) {
		return
	}
	if params.Severity != "" {
		if _, ok := cve.LookupSeverity(params.Severity); !ok {
			h.WriteJSONError(res, api.Error{
				HTTPCode: http.StatusBadRequest,
				Message:  fmt.Sprintf("invalid severity: %s", params.Severity),
			})
			return
		}
	}

	records, err := h.service.SearchByCriteria(req.Context(), params.Keyword, params.Severity)
	if err != nil {
		h.writeError(res, api.Logger(req.Context()), err, "filtering CVEs")
		return
	}
	h.WriteJSON(res, records, http.StatusOK)
}

func (h *requestHandler) SearchBySeverity(res http.ResponseWriter, req *http.Request) {
	severity := mux.Vars(req)[pathVarSeverity]
	if _, ok := cve.LookupSeverity(severity); !ok {
		h.WriteJSONError(res, api.Error{
			HTTPCode: http.StatusBadRequest,
			Message:  fmt.Sprintf("invalid severity: %s", severity),
		})
		return
	}

	records, err := h.service.SearchBySeverity(req.Context(), severity)
	if err != nil {
		h.writeError(res, api.Logger(req.Context()), err, "searching CVEs by severity")
		return
	}
	h.WriteJSON(res, records, http.StatusOK)
}

func (h *requestHandler) SearchNVD(res http.ResponseWriter, req *http.Request) {
	var params searchParams
	if !h.decodeQuery(res, req, &params) {
		return
	}
	keyword := strings.TrimSpace(params.Keyword)
	if keyword == "" {
		h.WriteJSONError(res, api.Error{HTTPCode: http.StatusBadRequest, Message: "missing keyword"})
		return
	}

	log := api.Logger(req.Context()).With(slog.String("keyword", keyword))
	log.Info("Direct NVD search request received")

	records, err := h.remote.FetchByKeyword(req.Context(), keyword)
	if err != nil {
		h.writeError(res, log, err, "searching NVD")
		return
	}
	if records == nil {
		records = []cve.Vulnerability{}
	}
	h.WriteJSON(res, records, http.StatusOK)
}

func (h *requestHandler) GetFromNVD(res http.ResponseWriter, req *http.Request) {
	id := strings.TrimSpace(mux.Vars(req)[pathVarID])
	log := api.Logger(req.Context()).With(slog.String("cve_id", id))

	record, err := h.remote.FetchByID(req.Context(), id)
	if err != nil {
		h.writeError(res, log, err, "fetching CVE from NVD")
		return
	}
	if record == nil {
		h.writeNotFound(res, id)
		return
	}
	h.WriteJSON(res, record, http.StatusOK)
}

func (h *requestHandler) GetByID(res http.ResponseWriter, req *http.Request) {
	id := strings.TrimSpace(mux.Vars(req)[pathVarID])
	log := api.Logger(req.Context()).With(slog.String("cve_id", id))
	log.Info("CVE request received")

	result := h.service.GetByID(req.Context(), id)
	switch result.Status {
	case lookup.StatusFound:
		h.WriteJSON(res, result.Vulnerability, http.StatusOK)
	case lookup.StatusNotFound:
		h.writeNotFound(res, id)
	default:
		h.writeError(res, log, result.Err, "getting CVE")
	}
}

func (h *requestHandler) Summarize(res http.ResponseWriter, req *http.Request) {
	id := strings.TrimSpace(mux.Vars(req)[pathVarID])
	log := api.Logger(req.Context()).With(slog.String("cve_id", id))

	var params summarizeParams
	if !h.decodeQuery(res, req, &params) {
		return
	}
	mode, ok := genai.ParseMode(params.Mode)
	if !ok {
		h.WriteJSONError(res, api.Error{
			HTTPCode: http.StatusBadRequest,
			Message:  fmt.Sprintf("invalid mode: %s", params.Mode),
		})
		return
	}

	var body summarizeRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		log.Error("Error while unmarshalling summarize request", slog.String("err", err.Error()))
		h.WriteJSONError(res, api.Error{
			HTTPCode: http.StatusBadRequest,
			Message:  fmt.Sprintf("unmarshalling summarize request: %s", err.Error()),
		})
		return
	}

	result := h.service.GetByID(req.Context(), id)
	switch result.Status {
	case lookup.StatusFound:
	case lookup.StatusNotFound:
		log.Warn("CVE not found for summarization")
		h.writeNotFound(res, id)
		return
	default:
		h.writeError(res, log, result.Err, "getting CVE")
		return
	}

	summary, err := h.summarizer.Summarize(req.Context(), genai.FormatDetails(*result.Vulnerability), mode, body.Context)
	if err != nil {
		log.Error("Error while generating summary", slog.String("mode", mode.String()), slog.String("err", err.Error()))
		h.WriteJSON(res, map[string]string{"error": "Failed to generate summary"}, http.StatusInternalServerError)
		return
	}

	log.Info("Generated summary", slog.String("mode", mode.String()))
	h.WriteJSON(res, map[string]string{"summary": summary}, http.StatusOK)
}

func (h *requestHandler) BatchSummarize(res http.ResponseWriter, req *http.Request) {
	log := api.Logger(req.Context())

	var ids []string
	if err := json.NewDecoder(req.Body).Decode(&ids); err != nil {
		log.Error("Error while unmarshalling batch summarize request", slog.String("err", err.Error()))
		h.WriteJSONError(res, api.Error{
			HTTPCode: http.StatusBadRequest,
			Message:  fmt.Sprintf("unmarshalling batch summarize request: %s", err.Error()),
		})
		return
	}

	summaries := make(map[string]string, len(ids))
	for _, id := range ids {
		summaries[id] = h.summarizeOne(req, log.With(slog.String("cve_id", id)), id)
	}

	log.Info("Generated batch summaries", slog.Int("count", len(summaries)))
	h.WriteJSON(res, summaries, http.StatusOK)
}

func (h *requestHandler) summarizeOne(req *http.Request, log *slog.Logger, id string) string {
	result := h.service.GetByID(req.Context(), id)
	switch result.Status {
	case lookup.StatusFound:
	case lookup.StatusNotFound:
		return summaryNotFound
	default:
		log.Warn("Failed to get CVE for summarization", slog.String("err", errString(result.Err)))
		return summaryFailed
	}

	summary, err := h.summarizer.Summarize(req.Context(), genai.FormatDetails(*result.Vulnerability), genai.ModeSummary, "")
	if err != nil {
		log.Warn("Failed to summarize CVE", slog.String("err", err.Error()))
		return summaryFailed
	}
	return summary
}

func (h *requestHandler) Health(res http.ResponseWriter, _ *http.Request) {
	h.WriteJSON(res, map[string]string{
		"status":    "healthy",
		"timestamp": h.timestamp(),
		"services":  "lookup, nvd, genai",
	}, http.StatusOK)
}

func (h *requestHandler) Stats(res http.ResponseWriter, req *http.Request) {
	records, err := h.service.GetAll(req.Context())
	if err != nil {
		h.writeError(res, api.Logger(req.Context()), err, "computing stats")
		return
	}

	bySeverity := lo.GroupBy(records, func(v cve.Vulnerability) string {
		return v.Severity.String()
	})
	distribution := lo.MapValues(bySeverity, func(group []cve.Vulnerability, _ string) int {
		return len(group)
	})

	h.WriteJSON(res, map[string]interface{}{
		"totalCves":            len(records),
		"severityDistribution": distribution,
		"lastUpdated":          h.timestamp(),
	}, http.StatusOK)
}

func (h *requestHandler) TestAI(res http.ResponseWriter, req *http.Request) {
	log := api.Logger(req.Context())
	log.Info("Testing LLM endpoint")

	result, err := h.summarizer.Summarize(req.Context(), testPrompt, genai.ModeSummary, "")
	if err != nil {
		log.Error("LLM test failed", slog.String("err", err.Error()))
		h.WriteJSON(res, map[string]string{
			"status":    "error",
			"error":     err.Error(),
			"timestamp": h.timestamp(),
		}, http.StatusInternalServerError)
		return
	}

	h.WriteJSON(res, map[string]string{
		"status":    "success",
		"result":    result,
		"timestamp": h.timestamp(),
	}, http.StatusOK)
}

func (h *requestHandler) decodeQuery(res http.ResponseWriter, req *http.Request, dst interface{}) bool {
	if err := h.decoder.Decode(dst, req.URL.Query()); err != nil {
		api.Logger(req.Context()).Warn("Error while decoding query parameters", slog.String("err", err.Error()))
		h.WriteJSONError(res, api.Error{
			HTTPCode: http.StatusBadRequest,
			Message:  fmt.Sprintf("invalid query parameters: %s", err.Error()),
		})
		return false
	}
	return true
}

func (h *requestHandler) writeNotFound(res http.ResponseWriter, id string) {
	h.WriteJSONError(res, api.Error{
		HTTPCode: http.StatusNotFound,
		Message:  fmt.Sprintf("cannot find CVE: %s", id),
	})
}

// writeError maps a lookup failure onto a 500 response whose message names its origin.
func (h *requestHandler) writeError(res http.ResponseWriter, log *slog.Logger, err error, action string) {
	var (
		readErr   *persistence.ReadError
		remoteErr *nvd.RemoteSourceError
		message   string
	)
	switch {
	case errors.As(err, &readErr):
		message = fmt.Sprintf("%s: local store unavailable", action)
	case errors.As(err, &remoteErr):
		message = fmt.Sprintf("%s: %s", action, remoteErr.Error())
	default:
		message = fmt.Sprintf("%s: %s", action, errString(err))
	}

	log.Error("Error while "+action, slog.String("err", errString(err)))
	h.WriteJSONError(res, api.Error{HTTPCode: http.StatusInternalServerError, Message: message})
}

func (h *requestHandler) timestamp() string {
	return h.now().Format(timestampLayout)
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

package nvd

import (
	_ "embed"
	"encoding/json"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/xerrors"
)

//go:embed response.schema.json
var responseSchemaJSON []byte

// response is the root of a CVE API 2.0 reply. Each element keeps its "cve" object undecoded so
// that a single malformed element can be skipped without rejecting the whole page.
type response struct {
	ResultsPerPage  int                 `json:"resultsPerPage"`
	StartIndex      int                 `json:"startIndex"`
	TotalResults    int                 `json:"totalResults"`
	Format          string              `json:"format"`
	Version         string              `json:"version"`
	Timestamp       string              `json:"timestamp"`
	Vulnerabilities []vulnerabilityItem `json:"vulnerabilities"`
}

type vulnerabilityItem struct {
	CVE json.RawMessage `json:"cve"`
}

// The types below decode single fields of a "cve" object. Nested values stay raw so that a
// mistyped entry only loses itself.

type langString struct {
	Lang  string `json:"lang"`
	Value string `json:"value"`
}

type cveMetrics struct {
	CVSSMetricV31 json.RawMessage `json:"cvssMetricV31"`
	CVSSMetricV30 json.RawMessage `json:"cvssMetricV30"`
}

type cvssMetric struct {
	CVSSData json.RawMessage `json:"cvssData"`
}

type cvssData struct {
	BaseSeverity json.RawMessage `json:"baseSeverity"`
}

type reference struct {
	URL string `json:"url"`
}

func loadResponseSchema() (*gojsonschema.Schema, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(responseSchemaJSON))
	if err != nil {
		return nil, xerrors.Errorf("loading NVD response schema: %w", err)
	}
	return schema, nil
}

// validateRoot checks the shape of the response root before it is decoded.
func validateRoot(schema *gojsonschema.Schema, body []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return xerrors.Errorf("parsing response: %w", err)
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			details = append(details, e.String())
		}
		return xerrors.Errorf("malformed response: %s", strings.Join(details, "; "))
	}
	return nil
}

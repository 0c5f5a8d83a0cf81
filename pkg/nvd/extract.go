package nvd

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"golang.org/x/xerrors"

	"github.com/cvemind/cvemind/pkg/cve"
)

const (
	preferredLang = "en"

	fieldID           = "id"
	fieldDescriptions = "descriptions"
	fieldMetrics      = "metrics"
	fieldPublished    = "published"
	fieldReferences   = "references"
)

// errMissingCVE marks a vulnerabilities element without a usable "cve" object.
var errMissingCVE = xerrors.New("missing cve object")

// toVulnerability maps a single raw "cve" object. It only fails when the object is absent, is not
// a JSON object, or has no string identifier. Every other field is decoded on its own and falls
// back to its empty value when missing or mistyped.
func toVulnerability(raw json.RawMessage) (cve.Vulnerability, error) {
	if isNull(raw) {
		return cve.Vulnerability{}, errMissingCVE
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return cve.Vulnerability{}, xerrors.Errorf("decoding cve object: %w", err)
	}

	var id string
	if !decode(fields[fieldID], &id) || strings.TrimSpace(id) == "" {
		return cve.Vulnerability{}, errMissingCVE
	}

	var published string
	decode(fields[fieldPublished], &published)

	return cve.Vulnerability{
		ID:            id,
		Description:   extractDescription(fields[fieldDescriptions]),
		Severity:      extractSeverity(fields[fieldMetrics]),
		PublishedDate: parsePublished(published),
		References:    extractReferences(fields[fieldReferences]),
	}, nil
}

// extractDescription prefers the English entry, then the first decodable entry.
func extractDescription(raw json.RawMessage) string {
	descriptions := decodeList[langString](raw)
	if len(descriptions) == 0 {
		return ""
	}
	for _, d := range descriptions {
		if d.Lang == preferredLang {
			return d.Value
		}
	}
	return descriptions[0].Value
}

// extractSeverity reads the base severity of the first CVSS v3.1 metric, falling back to v3.0.
// A metric without usable cvssData is skipped. A v3.1 metric with cvssData but without a string
// severity yields UNKNOWN without consulting v3.0.
func extractSeverity(raw json.RawMessage) cve.Severity {
	var metrics cveMetrics
	if !decode(raw, &metrics) {
		return cve.SeverityUnknown
	}
	for _, candidates := range []json.RawMessage{metrics.CVSSMetricV31, metrics.CVSSMetricV30} {
		entries := decodeList[json.RawMessage](candidates)
		if len(entries) == 0 {
			continue
		}
		var metric cvssMetric
		if !decode(entries[0], &metric) {
			continue
		}
		var data cvssData
		if !decode(metric.CVSSData, &data) {
			continue
		}
		var band string
		if !decode(data.BaseSeverity, &band) {
			return cve.SeverityUnknown
		}
		return cve.ParseSeverity(band)
	}
	return cve.SeverityUnknown
}

// parsePublished accepts RFC 3339 timestamps and bare local timestamps such as
// 2023-01-01T00:00:00.000, which are taken as UTC. The result is truncated to whole seconds.
func parsePublished(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			published := t.UTC().Truncate(time.Second)
			return &published
		}
	}
	return nil
}

func extractReferences(raw json.RawMessage) []string {
	refs := decodeList[reference](raw)
	urls := make([]string, 0, len(refs))
	for _, r := range refs {
		if r.URL == "" {
			continue
		}
		urls = append(urls, r.URL)
	}
	return urls
}

// decode unmarshals raw into dst and reports whether it held a value of the expected type.
// dst may be partially filled when it reports false.
func decode(raw json.RawMessage, dst interface{}) bool {
	if isNull(raw) {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

// decodeList decodes a JSON array element by element, dropping the elements that do not decode.
func decodeList[T any](raw json.RawMessage) []T {
	var elements []json.RawMessage
	if !decode(raw, &elements) {
		return nil
	}
	result := make([]T, 0, len(elements))
	for _, e := range elements {
		var v T
		if decode(e, &v) {
			result = append(result, v)
		}
	}
	return result
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

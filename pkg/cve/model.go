package cve

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Severity represents the qualitative CVSS band of a vulnerability.
type Severity int64

// Severity values ordered from the least to the most severe. SeverityUnknown is the zero value so
// that a record without a usable CVSS block never carries a made-up band.
const (
	SeverityUnknown Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityToString = map[Severity]string{
	SeverityUnknown:  "UNKNOWN",
	SeverityLow:      "LOW",
	SeverityMedium:   "MEDIUM",
	SeverityHigh:     "HIGH",
	SeverityCritical: "CRITICAL",
}

var stringToSeverity = map[string]Severity{
	"UNKNOWN":  SeverityUnknown,
	"LOW":      SeverityLow,
	"MEDIUM":   SeverityMedium,
	"HIGH":     SeverityHigh,
	"CRITICAL": SeverityCritical,
}

// Severities lists every band in ascending order.
var Severities = []Severity{SeverityUnknown, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

func (s Severity) String() string {
	if v, ok := severityToString[s]; ok {
		return v
	}
	return severityToString[SeverityUnknown]
}

// ParseSeverity resolves a band name case-insensitively. Anything unrecognized, including
// CVSS "NONE", resolves to SeverityUnknown.
func ParseSeverity(value string) Severity {
	return stringToSeverity[strings.ToUpper(strings.TrimSpace(value))]
}

// LookupSeverity is like ParseSeverity but reports whether value named a known band.
func LookupSeverity(value string) (Severity, bool) {
	s, ok := stringToSeverity[strings.ToUpper(strings.TrimSpace(value))]
	return s, ok
}

// MarshalJSON marshals the Severity enum value as a quoted JSON string.
func (s Severity) MarshalJSON() ([]byte, error) {
	buffer := bytes.NewBufferString(`"`)
	buffer.WriteString(s.String())
	buffer.WriteString(`"`)
	return buffer.Bytes(), nil
}

// UnmarshalJSON unmarshals quoted JSON string to the Severity enum value.
func (s *Severity) UnmarshalJSON(b []byte) error {
	var value string
	err := json.Unmarshal(b, &value)
	if err != nil {
		return err
	}
	*s = ParseSeverity(value)
	return nil
}

// Vulnerability is the API-facing shape of a CVE record. Records fetched from NVD and records read
// back from the store are both exposed through this type.
type Vulnerability struct {
	ID            string     `json:"id"`
	Description   string     `json:"description"`
	Severity      Severity   `json:"severity"`
	PublishedDate *time.Time `json:"publishedDate"`
	References    []string   `json:"references"`
}

// StoredRecord is the durable shape of a CVE record.
type StoredRecord struct {
	ID            string     `json:"id"`
	Description   string     `json:"description"`
	Severity      Severity   `json:"severity"`
	PublishedDate *time.Time `json:"published_date,omitempty"`
	References    []string   `json:"references,omitempty"`
}

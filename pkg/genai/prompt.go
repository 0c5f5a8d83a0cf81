package genai

import (
	"fmt"
	"strings"
	"time"

	"github.com/cvemind/cvemind/pkg/cve"
)

// Mode selects the prompt template used to ask about a vulnerability.
type Mode string

const (
	ModeSummary    Mode = "summary"
	ModeMitigation Mode = "mitigation"
	ModeTechnical  Mode = "technical"
	ModeContextual Mode = "contextual"
	ModeResources  Mode = "resources"
)

const systemPrompt = "You are a cybersecurity assistant."

var userPrompts = map[Mode]string{
	ModeSummary:    "Summarize the following CVE details in a concise manner: ",
	ModeMitigation: "Propose a prioritized mitigation strategy, including patches, configuration changes and compensating controls, for the following CVE: ",
	ModeTechnical:  "Provide a technical analysis covering the root cause, attack vector and exploitation prerequisites of the following CVE: ",
	ModeContextual: "Assess the risk the following CVE poses to the environment described in the context, and say how urgent remediation is: ",
	ModeResources:  "List authoritative resources such as vendor advisories, patches and detection rules relevant to the following CVE: ",
}

// ParseMode resolves a mode name case-insensitively. A blank name selects ModeSummary.
func ParseMode(value string) (Mode, bool) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return ModeSummary, true
	}
	mode := Mode(value)
	_, ok := userPrompts[mode]
	return mode, ok
}

func (m Mode) String() string {
	return string(m)
}

func buildUserPrompt(details string, mode Mode, extra string) string {
	var b strings.Builder
	b.WriteString(userPrompts[mode])
	b.WriteString(details)
	if extra = strings.TrimSpace(extra); extra != "" {
		b.WriteString("\n\nAdditional context: ")
		b.WriteString(extra)
	}
	return b.String()
}

// FormatDetails renders the record as the plain-text block embedded in prompts.
func FormatDetails(v cve.Vulnerability) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CVE ID: %s\n", v.ID)
	fmt.Fprintf(&b, "Description: %s\n", v.Description)
	fmt.Fprintf(&b, "Severity: %s\n", v.Severity)
	if v.PublishedDate != nil {
		fmt.Fprintf(&b, "Published Date: %s\n", v.PublishedDate.UTC().Format(time.RFC3339))
	}
	if len(v.References) > 0 {
		fmt.Fprintf(&b, "References: %s\n", strings.Join(v.References, ", "))
	}
	return b.String()
}

package cve

import "time"

// ToExternal converts a stored record into its API-facing shape.
func ToExternal(record StoredRecord) Vulnerability {
	return Vulnerability{
		ID:            record.ID,
		Description:   record.Description,
		Severity:      record.Severity,
		PublishedDate: copyTime(record.PublishedDate),
		References:    references(record.References),
	}
}

// ToStored converts an API-facing record into its durable shape.
func ToStored(v Vulnerability) StoredRecord {
	return StoredRecord{
		ID:            v.ID,
		Description:   v.Description,
		Severity:      v.Severity,
		PublishedDate: copyTime(v.PublishedDate),
		References:    copyStrings(v.References),
	}
}

// ToExternalList maps every stored record with ToExternal. It never returns nil so that an empty
// result renders as a JSON array.
func ToExternalList(records []StoredRecord) []Vulnerability {
	result := make([]Vulnerability, len(records))
	for i, r := range records {
		result[i] = ToExternal(r)
	}
	return result
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// references always yields a non-nil slice so that both origins render "references": [].
func references(s []string) []string {
	if s == nil {
		return []string{}
	}
	return copyStrings(s)
}

func copyStrings(s []string) []string {
	if s == nil {
		return nil
	}
	c := make([]string, len(s))
	copy(c, s)
	return c
}

package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/cvemind/cvemind/pkg/cve"
)

// Store is the durable, CVE-identifier keyed table of vulnerability records.
type Store interface {
	// Get returns the record with the given identifier, or nil when there is none.
	Get(ctx context.Context, id string) (*cve.StoredRecord, error)
	// Find returns every record matching the filter.
	Find(ctx context.Context, filter Filter) ([]cve.StoredRecord, error)
	// Save upserts the record by its identifier.
	Save(ctx context.Context, record cve.StoredRecord) error
	All(ctx context.Context) ([]cve.StoredRecord, error)
}

// Filter narrows Find. Zero-valued criteria are ignored.
type Filter struct {
	// DescriptionContains is matched case-insensitively as a substring of the description.
	DescriptionContains string
	// Severity is matched case-insensitively against the band name.
	Severity string
}

func (f Filter) IsEmpty() bool {
	return strings.TrimSpace(f.DescriptionContains) == "" && strings.TrimSpace(f.Severity) == ""
}

// Matches reports whether record satisfies every non-blank criterion.
func (f Filter) Matches(record cve.StoredRecord) bool {
	if kw := strings.TrimSpace(f.DescriptionContains); kw != "" {
		if !strings.Contains(strings.ToLower(record.Description), strings.ToLower(kw)) {
			return false
		}
	}
	if severity := strings.TrimSpace(f.Severity); severity != "" {
		if !strings.EqualFold(record.Severity.String(), severity) {
			return false
		}
	}
	return true
}

// ReadError is returned when the store cannot be queried.
type ReadError struct {
	Op  string
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("store read %s: %v", e.Op, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// WriteError is returned when a record cannot be persisted.
type WriteError struct {
	ID  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("store write %s: %v", e.ID, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

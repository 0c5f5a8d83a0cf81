package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvemind/cvemind/pkg/cve"
	"github.com/cvemind/cvemind/pkg/persistence"
)

// TestStoreInterface is a generic test that is intended to be called by the implementations of the Store interface
func TestStoreInterface(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	published := time.Date(2021, 12, 10, 10, 15, 9, 0, time.UTC)

	log4shell := cve.StoredRecord{
		ID:            "CVE-2021-44228",
		Description:   "Apache Log4j2 JNDI features do not protect against attacker controlled LDAP",
		Severity:      cve.SeverityCritical,
		PublishedDate: &published,
		References:    []string{"https://logging.apache.org/log4j/2.x/security.html"},
	}
	xss := cve.StoredRecord{
		ID:          "CVE-2020-0001",
		Description: "Stored XSS in the comment form",
		Severity:    cve.SeverityMedium,
	}

	t.Run("CRUD", func(t *testing.T) {
		r, err := store.Get(ctx, log4shell.ID)
		require.NoError(t, err, "getting missing record should not fail")
		require.Nil(t, r, "missing record should be nil")

		require.NoError(t, store.Save(ctx, log4shell), "saving record should not fail")
		require.NoError(t, store.Save(ctx, xss), "saving record should not fail")

		r, err = store.Get(ctx, log4shell.ID)
		require.NoError(t, err, "getting record should not fail")
		assert.Equal(t, &log4shell, r)

		xss.Severity = cve.SeverityHigh
		require.NoError(t, store.Save(ctx, xss), "upserting record should not fail")

		r, err = store.Get(ctx, xss.ID)
		require.NoError(t, err, "getting record should not fail")
		require.NotNil(t, r, "upserted record must not be nil")
		assert.Equal(t, cve.SeverityHigh, r.Severity)

		all, err := store.All(ctx)
		require.NoError(t, err, "listing records should not fail")
		assert.Equal(t, []cve.StoredRecord{xss, log4shell}, all)
	})

	t.Run("Find", func(t *testing.T) {
		found, err := store.Find(ctx, persistence.Filter{DescriptionContains: "xss"})
		require.NoError(t, err)
		assert.Equal(t, []cve.StoredRecord{xss}, found)

		found, err = store.Find(ctx, persistence.Filter{Severity: "critical"})
		require.NoError(t, err)
		assert.Equal(t, []cve.StoredRecord{log4shell}, found)

		found, err = store.Find(ctx, persistence.Filter{DescriptionContains: "log4j", Severity: "HIGH"})
		require.NoError(t, err)
		assert.Empty(t, found)
	})
}

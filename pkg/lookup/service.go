package lookup

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/samber/lo"

	"github.com/cvemind/cvemind/pkg/cve"
	"github.com/cvemind/cvemind/pkg/etc"
	"github.com/cvemind/cvemind/pkg/metrics"
	"github.com/cvemind/cvemind/pkg/nvd"
	"github.com/cvemind/cvemind/pkg/persistence"
)

const (
	// DefaultLatestLimit is the number of records GetLatest returns when no positive limit is given.
	DefaultLatestLimit = 20

	latestCacheSize = 16
)

// Status tells the outcome of a single-record lookup.
type Status int

const (
	StatusFound Status = iota + 1
	StatusNotFound
	StatusFailed
)

var statusToString = map[Status]string{
	StatusFound:    "Found",
	StatusNotFound: "NotFound",
	StatusFailed:   "Failed",
}

func (s Status) String() string {
	if v, ok := statusToString[s]; ok {
		return v
	}
	return "Unknown"
}

// Result is the outcome of GetByID. Vulnerability is set only for StatusFound and Err only for
// StatusFailed.
type Result struct {
	Status        Status
	Vulnerability *cve.Vulnerability
	Err           error
}

// Service reconciles the local store with NVD. The store is consulted first; NVD is only asked
// on a local miss and whatever it returns is persisted for later lookups. Cached records are
// never refreshed.
type Service interface {
	GetByID(ctx context.Context, id string) Result
	// SearchByKeyword returns local records whose description contains keyword. Only when there
	// are none is NVD searched, and then the full NVD result is returned.
	SearchByKeyword(ctx context.Context, keyword string) ([]cve.Vulnerability, error)
	SearchBySeverity(ctx context.Context, severity string) ([]cve.Vulnerability, error)
	// SearchByCriteria combines a description keyword with a severity band. Blank criteria are ignored.
	SearchByCriteria(ctx context.Context, keyword, severity string) ([]cve.Vulnerability, error)
	GetAll(ctx context.Context) ([]cve.Vulnerability, error)
	// GetLatest returns up to limit dated records, most recently published first.
	GetLatest(ctx context.Context, limit int) ([]cve.Vulnerability, error)
	// Save persists v explicitly. Unlike the write-through of lookups, failures are returned.
	Save(ctx context.Context, v cve.Vulnerability) error
}

type service struct {
	store   persistence.Store
	remote  nvd.RemoteSource
	metrics *metrics.Metrics
	latest  *expirable.LRU[int, []cve.Vulnerability]

	// generation counts successful writes. A GetLatest result is only memoized when no write
	// happened while it was being computed.
	mu         sync.Mutex
	generation uint64
}

// NewService constructs a Service. A non-positive LatestCacheTTL disables memoization of GetLatest.
func NewService(store persistence.Store, remote nvd.RemoteSource, config etc.Lookup, m *metrics.Metrics) Service {
	s := &service{
		store:   store,
		remote:  remote,
		metrics: m,
	}
	if config.LatestCacheTTL > 0 {
		s.latest = expirable.NewLRU[int, []cve.Vulnerability](latestCacheSize, nil, config.LatestCacheTTL)
	}
	return s
}

func (s *service) GetByID(ctx context.Context, id string) Result {
	log := slog.With(slog.String("cve_id", id))

	record, err := s.store.Get(ctx, id)
	if err != nil {
		log.Error("Error while reading CVE from store", slog.String("err", err.Error()))
		return Result{Status: StatusFailed, Err: err}
	}
	if record != nil {
		s.metrics.CacheHits.Inc()
		log.Debug("Found CVE in local store")
		v := cve.ToExternal(*record)
		return Result{Status: StatusFound, Vulnerability: &v}
	}

	s.metrics.CacheMisses.Inc()
	log.Info("CVE not found locally, fetching from NVD")

	v, err := s.remote.FetchByID(ctx, id)
	if err != nil {
		return Result{Status: StatusFailed, Err: err}
	}
	if v == nil {
		log.Warn("CVE not found in NVD")
		return Result{Status: StatusNotFound}
	}

	s.persist(ctx, *v)
	return Result{Status: StatusFound, Vulnerability: v}
}

func (s *service) SearchByKeyword(ctx context.Context, keyword string) ([]cve.Vulnerability, error) {
	keyword = strings.TrimSpace(keyword)
	log := slog.With(slog.String("keyword", keyword))

	local, err := s.store.Find(ctx, persistence.Filter{DescriptionContains: keyword})
	if err != nil {
		log.Error("Error while searching local store", slog.String("err", err.Error()))
		return nil, err
	}
	if len(local) > 0 {
		s.metrics.CacheHits.Inc()
		log.Info("Returning CVEs from local store", slog.Int("count", len(local)))
		return cve.ToExternalList(local), nil
	}

	s.metrics.CacheMisses.Inc()
	log.Info("No local CVEs found, fetching from NVD")

	fetched, err := s.remote.FetchByKeyword(ctx, keyword)
	if err != nil {
		return nil, err
	}
	for _, v := range fetched {
		s.persist(ctx, v)
	}

	log.Info("Fetched and cached CVEs from NVD", slog.Int("count", len(fetched)))
	if fetched == nil {
		fetched = []cve.Vulnerability{}
	}
	return fetched, nil
}

func (s *service) SearchBySeverity(ctx context.Context, severity string) ([]cve.Vulnerability, error) {
	return s.find(ctx, persistence.Filter{Severity: severity})
}

func (s *service) SearchByCriteria(ctx context.Context, keyword, severity string) ([]cve.Vulnerability, error) {
	return s.find(ctx, persistence.Filter{DescriptionContains: keyword, Severity: severity})
}

func (s *service) find(ctx context.Context, filter persistence.Filter) ([]cve.Vulnerability, error) {
	records, err := s.store.Find(ctx, filter)
	if err != nil {
		slog.Error("Error while searching local store",
			slog.String("keyword", filter.DescriptionContains),
			slog.String("severity", filter.Severity),
			slog.String("err", err.Error()),
		)
		return nil, err
	}
	return cve.ToExternalList(records), nil
}

func (s *service) GetAll(ctx context.Context) ([]cve.Vulnerability, error) {
	records, err := s.store.All(ctx)
	if err != nil {
		slog.Error("Error while listing local store", slog.String("err", err.Error()))
		return nil, err
	}
	return cve.ToExternalList(records), nil
}

func (s *service) GetLatest(ctx context.Context, limit int) ([]cve.Vulnerability, error) {
	if limit <= 0 {
		limit = DefaultLatestLimit
	}
	if s.latest != nil {
		if cached, ok := s.latest.Get(limit); ok {
			return cloneList(cached), nil
		}
	}

	generation := s.currentGeneration()
	records, err := s.store.All(ctx)
	if err != nil {
		slog.Error("Error while listing local store", slog.String("err", err.Error()))
		return nil, err
	}

	dated := lo.Filter(records, func(r cve.StoredRecord, _ int) bool {
		return r.PublishedDate != nil
	})
	sort.SliceStable(dated, func(i, j int) bool {
		return dated[i].PublishedDate.After(*dated[j].PublishedDate)
	})
	if len(dated) > limit {
		dated = dated[:limit]
	}

	latest := cve.ToExternalList(dated)
	s.memoizeLatest(generation, limit, latest)
	return cloneList(latest), nil
}

func (s *service) Save(ctx context.Context, v cve.Vulnerability) error {
	if err := s.store.Save(ctx, cve.ToStored(v)); err != nil {
		slog.Error("Error while saving CVE", slog.String("cve_id", v.ID), slog.String("err", err.Error()))
		return err
	}
	s.invalidateLatest()
	return nil
}

// persist writes through a record fetched from NVD. Failures are logged and counted only.
func (s *service) persist(ctx context.Context, v cve.Vulnerability) {
	start := time.Now()
	if err := s.store.Save(ctx, cve.ToStored(v)); err != nil {
		s.metrics.PersistFailures.Inc()
		slog.Warn("Failed to save CVE to store",
			slog.String("cve_id", v.ID),
			slog.String("err", err.Error()),
		)
		return
	}
	s.invalidateLatest()
	slog.Debug("Saved CVE to store", slog.String("cve_id", v.ID), slog.Duration("took", time.Since(start)))
}

func (s *service) currentGeneration() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

func (s *service) memoizeLatest(generation uint64, limit int, latest []cve.Vulnerability) {
	if s.latest == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation == generation {
		s.latest.Add(limit, latest)
	}
}

func (s *service) invalidateLatest() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	if s.latest != nil {
		s.latest.Purge()
	}
}

func cloneList(list []cve.Vulnerability) []cve.Vulnerability {
	result := make([]cve.Vulnerability, len(list))
	copy(result, list)
	return result
}

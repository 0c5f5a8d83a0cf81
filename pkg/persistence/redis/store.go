package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	"golang.org/x/xerrors"

	"github.com/cvemind/cvemind/pkg/cve"
	"github.com/cvemind/cvemind/pkg/etc"
	"github.com/cvemind/cvemind/pkg/persistence"
)

type store struct {
	cfg etc.Store
	rdb *redis.Client
}

// NewStore returns a persistence.Store keeping each record as a JSON string under
// `<namespace>:cve:<id>` and the set of known identifiers under `<namespace>:cve-ids`.
func NewStore(cfg etc.Store, rdb *redis.Client) persistence.Store {
	return &store{
		cfg: cfg,
		rdb: rdb,
	}
}

func (s *store) Get(ctx context.Context, id string) (*cve.StoredRecord, error) {
	key := s.getKeyForRecord(id)
	value, err := s.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, &persistence.ReadError{Op: "get", Err: err}
	}

	var record cve.StoredRecord
	if err = json.Unmarshal([]byte(value), &record); err != nil {
		return nil, &persistence.ReadError{Op: "get", Err: xerrors.Errorf("unmarshalling record: %w", err)}
	}

	return &record, nil
}

func (s *store) Save(ctx context.Context, record cve.StoredRecord) error {
	b, err := json.Marshal(record)
	if err != nil {
		return &persistence.WriteError{ID: record.ID, Err: xerrors.Errorf("marshalling record: %w", err)}
	}

	key := s.getKeyForRecord(record.ID)

	slog.Debug("Saving CVE record",
		slog.String("cve_id", record.ID),
		slog.String("redis_key", key),
	)

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, string(b), 0)
		pipe.SAdd(ctx, s.getKeyForIndex(), record.ID)
		return nil
	})
	if err != nil {
		return &persistence.WriteError{ID: record.ID, Err: err}
	}

	return nil
}

func (s *store) All(ctx context.Context) ([]cve.StoredRecord, error) {
	ids, err := s.rdb.SMembers(ctx, s.getKeyForIndex()).Result()
	if err != nil {
		return nil, &persistence.ReadError{Op: "all", Err: err}
	}
	if len(ids) == 0 {
		return []cve.StoredRecord{}, nil
	}
	sort.Strings(ids)

	keys := lo.Map(ids, func(id string, _ int) string {
		return s.getKeyForRecord(id)
	})
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, &persistence.ReadError{Op: "all", Err: err}
	}

	records := make([]cve.StoredRecord, 0, len(values))
	for i, value := range values {
		str, ok := value.(string)
		if !ok {
			// The index may briefly reference a key that was removed out of band.
			continue
		}
		var record cve.StoredRecord
		if err = json.Unmarshal([]byte(str), &record); err != nil {
			return nil, &persistence.ReadError{Op: "all", Err: xerrors.Errorf("unmarshalling record %s: %w", ids[i], err)}
		}
		records = append(records, record)
	}

	return records, nil
}

// Find filters the full record set in memory since Redis keeps no index on description text.
func (s *store) Find(ctx context.Context, filter persistence.Filter) ([]cve.StoredRecord, error) {
	records, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	return lo.Filter(records, func(record cve.StoredRecord, _ int) bool {
		return filter.Matches(record)
	}), nil
}

func (s *store) getKeyForRecord(id string) string {
	return fmt.Sprintf("%s:cve:%s", s.cfg.RedisNamespace, id)
}

func (s *store) getKeyForIndex() string {
	return fmt.Sprintf("%s:cve-ids", s.cfg.RedisNamespace)
}

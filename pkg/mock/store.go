package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/cvemind/cvemind/pkg/cve"
	"github.com/cvemind/cvemind/pkg/persistence"
)

type Store struct {
	mock.Mock
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) Get(ctx context.Context, id string) (*cve.StoredRecord, error) {
	args := s.Called(ctx, id)
	return args.Get(0).(*cve.StoredRecord), args.Error(1)
}

func (s *Store) Find(ctx context.Context, filter persistence.Filter) ([]cve.StoredRecord, error) {
	args := s.Called(ctx, filter)
	return args.Get(0).([]cve.StoredRecord), args.Error(1)
}

func (s *Store) Save(ctx context.Context, record cve.StoredRecord) error {
	args := s.Called(ctx, record)
	return args.Error(0)
}

func (s *Store) All(ctx context.Context) ([]cve.StoredRecord, error) {
	args := s.Called(ctx)
	return args.Get(0).([]cve.StoredRecord), args.Error(1)
}

package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/cvemind/cvemind/pkg/cve"
	"github.com/cvemind/cvemind/pkg/lookup"
)

type Service struct {
	mock.Mock
}

func NewService() *Service {
	return &Service{}
}

func (s *Service) GetByID(ctx context.Context, id string) lookup.Result {
	args := s.Called(ctx, id)
	return args.Get(0).(lookup.Result)
}

func (s *Service) SearchByKeyword(ctx context.Context, keyword string) ([]cve.Vulnerability, error) {
	args := s.Called(ctx, keyword)
	return args.Get(0).([]cve.Vulnerability), args.Error(1)
}

func (s *Service) SearchBySeverity(ctx context.Context, severity string) ([]cve.Vulnerability, error) {
	args := s.Called(ctx, severity)
	return args.Get(0).([]cve.Vulnerability), args.Error(1)
}

func (s *Service) SearchByCriteria(ctx context.Context, keyword, severity string) ([]cve.Vulnerability, error) {
	args := s.Called(ctx, keyword, severity)
	return args.Get(0).([]cve.Vulnerability), args.Error(1)
}

func (s *Service) GetAll(ctx context.Context) ([]cve.Vulnerability, error) {
	args := s.Called(ctx)
	return args.Get(0).([]cve.Vulnerability), args.Error(1)
}

func (s *Service) GetLatest(ctx context.Context, limit int) ([]cve.Vulnerability, error) {
	args := s.Called(ctx, limit)
	return args.Get(0).([]cve.Vulnerability), args.Error(1)
}

func (s *Service) Save(ctx context.Context, v cve.Vulnerability) error {
	args := s.Called(ctx, v)
	return args.Error(0)
}

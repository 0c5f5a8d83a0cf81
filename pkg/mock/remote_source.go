package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/cvemind/cvemind/pkg/cve"
)

type RemoteSource struct {
	mock.Mock
}

func NewRemoteSource() *RemoteSource {
	return &RemoteSource{}
}

func (r *RemoteSource) FetchByKeyword(ctx context.Context, keyword string) ([]cve.Vulnerability, error) {
	args := r.Called(ctx, keyword)
	return args.Get(0).([]cve.Vulnerability), args.Error(1)
}

func (r *RemoteSource) FetchByID(ctx context.Context, id string) (*cve.Vulnerability, error) {
	args := r.Called(ctx, id)
	return args.Get(0).(*cve.Vulnerability), args.Error(1)
}

package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/cvemind/cvemind/pkg/genai"
)

type Summarizer struct {
	mock.Mock
}

func NewSummarizer() *Summarizer {
	return &Summarizer{}
}

func (s *Summarizer) Summarize(ctx context.Context, details string, mode genai.Mode, extra string) (string, error) {
	args := s.Called(ctx, details, mode, extra)
	return args.String(0), args.Error(1)
}

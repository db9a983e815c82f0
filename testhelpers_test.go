package stupidmeter

import (
	"context"
	"sync/atomic"
)

// scriptProvider returns canned errors in order, then succeeds. Shared
// by the retry and scheduler tests.
type scriptProvider struct {
	name  string
	errs  []error
	resp  ChatResponse
	calls atomic.Int32
}

var _ Provider = (*scriptProvider)(nil)

func (s *scriptProvider) Name() string { return s.name }

func (s *scriptProvider) ListModels(ctx context.Context) ([]string, error) {
	n := int(s.calls.Add(1)) - 1
	if n < len(s.errs) {
		return nil, s.errs[n]
	}
	return []string{"model-a"}, nil
}

func (s *scriptProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	n := int(s.calls.Add(1)) - 1
	if n < len(s.errs) {
		return ChatResponse{}, s.errs[n]
	}
	return s.resp, nil
}

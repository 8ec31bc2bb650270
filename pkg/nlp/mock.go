package nlp

import (
	"context"
)

// MockResolver provides a controllable Resolver for tests and local runs
// without an API key. Results and errors are consumed in order; when
// exhausted, the last configured result repeats.
type MockResolver struct {
	results []Result
	errs    []error
	index   int

	// Calls records every request seen, for assertions.
	Calls []Request
}

// NewMockResolver creates a mock with predefined outcomes. Pass a nil error
// for calls that should succeed.
func NewMockResolver(results []Result, errs []error) *MockResolver {
	return &MockResolver{results: results, errs: errs}
}

// Resolve implements Resolver.
func (m *MockResolver) Resolve(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	m.Calls = append(m.Calls, req)

	i := m.index
	if m.index < len(m.results)-1 || m.index < len(m.errs)-1 {
		m.index++
	}

	if i < len(m.errs) && m.errs[i] != nil {
		return Result{}, m.errs[i]
	}
	if i < len(m.results) {
		return m.results[i], nil
	}
	return Result{Intent: "other", Confidence: 0.5}, nil
}

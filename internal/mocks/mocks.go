// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/dashcrawl/api/schemas"
)

// -- Page Mock --

// MockPage implements the schemas.Page interface for testing.
type MockPage struct {
	mock.Mock

	mu       sync.Mutex
	handlers []func(*schemas.PageRuntimeError)
}

func NewMockPage() *MockPage {
	return &MockPage{}
}

func (m *MockPage) ID() string { return m.Called().String(0) }
func (m *MockPage) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}
func (m *MockPage) Click(ctx context.Context, selector string) error {
	return m.Called(ctx, selector).Error(0)
}
func (m *MockPage) ClickAndWait(ctx context.Context, selector string) error {
	return m.Called(ctx, selector).Error(0)
}
func (m *MockPage) Type(ctx context.Context, selector, text string, delay time.Duration) error {
	return m.Called(ctx, selector, text, delay).Error(0)
}
func (m *MockPage) WaitFor(ctx context.Context, d time.Duration) error {
	return m.Called(ctx, d).Error(0)
}
func (m *MockPage) AddScriptTag(ctx context.Context, source string) error {
	return m.Called(ctx, source).Error(0)
}

// Evaluate returns the configured error. Tests fill res from a Run callback.
func (m *MockPage) Evaluate(ctx context.Context, script string, res any) error {
	return m.Called(ctx, script, res).Error(0)
}
func (m *MockPage) Count(ctx context.Context, selector string) (int, error) {
	args := m.Called(ctx, selector)
	return args.Int(0), args.Error(1)
}
func (m *MockPage) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	args := m.Called(ctx, fullPage)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}
func (m *MockPage) CaptureElement(ctx context.Context, selector string, scale float64) ([]byte, error) {
	args := m.Called(ctx, selector, scale)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// OnError records the handler so tests can raise page errors with RaiseError.
func (m *MockPage) OnError(handler func(*schemas.PageRuntimeError)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
}

// RaiseError delivers e to every registered OnError handler.
func (m *MockPage) RaiseError(e *schemas.PageRuntimeError) {
	m.mu.Lock()
	handlers := append([]func(*schemas.PageRuntimeError){}, m.handlers...)
	m.mu.Unlock()
	for _, h := range handlers {
		h(e)
	}
}

// -- Browser Mock --

// MockBrowser mocks the schemas.Browser interface.
type MockBrowser struct {
	mock.Mock
}

func (m *MockBrowser) Pages(ctx context.Context) ([]schemas.Page, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]schemas.Page), args.Error(1)
}
func (m *MockBrowser) Close(ctx context.Context) error { return m.Called(ctx).Error(0) }

// -- Store Mock --

// MockStore mocks the schemas.ResultStore interface.
type MockStore struct {
	mock.Mock
}

// SaveResults provides a mock function for persisting a run.
func (m *MockStore) SaveResults(ctx context.Context, runID string, results []schemas.ExtractionResult) error {
	args := m.Called(ctx, runID, results)
	return args.Error(0)
}

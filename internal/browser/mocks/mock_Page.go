// Package mocks provides test doubles for the browser page surface.
package mocks

import (
	"context"
	"time"

	mock "github.com/stretchr/testify/mock"
)

// MockPage is a mock type for the browser.Page interface.
type MockPage struct {
	mock.Mock
}

// Screenshot provides a mock function with given fields: ctx
func (_m *MockPage) Screenshot(ctx context.Context) ([]byte, error) {
	ret := _m.Called(ctx)

	if len(ret) == 0 {
		panic("no return value specified for Screenshot")
	}

	var r0 []byte
	if rf, ok := ret.Get(0).(func(context.Context) []byte); ok {
		r0 = rf(ctx)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).([]byte)
	}
	return r0, ret.Error(1)
}

// URL provides a mock function with given fields: ctx
func (_m *MockPage) URL(ctx context.Context) (string, error) {
	ret := _m.Called(ctx)

	if len(ret) == 0 {
		panic("no return value specified for URL")
	}
	return ret.String(0), ret.Error(1)
}

// HTML provides a mock function with given fields: ctx
func (_m *MockPage) HTML(ctx context.Context) (string, error) {
	ret := _m.Called(ctx)

	if len(ret) == 0 {
		panic("no return value specified for HTML")
	}
	return ret.String(0), ret.Error(1)
}

// Evaluate provides a mock function with given fields: ctx, script, args, out.
// Use Run to populate out.
func (_m *MockPage) Evaluate(ctx context.Context, script string, args map[string]any, out any) error {
	ret := _m.Called(ctx, script, args, out)

	if len(ret) == 0 {
		panic("no return value specified for Evaluate")
	}
	return ret.Error(0)
}

// Click provides a mock function with given fields: ctx, selector
func (_m *MockPage) Click(ctx context.Context, selector string) error {
	return _m.Called(ctx, selector).Error(0)
}

// ClickAt provides a mock function with given fields: ctx, x, y
func (_m *MockPage) ClickAt(ctx context.Context, x int, y int) error {
	return _m.Called(ctx, x, y).Error(0)
}

// Hover provides a mock function with given fields: ctx, selector
func (_m *MockPage) Hover(ctx context.Context, selector string) error {
	return _m.Called(ctx, selector).Error(0)
}

// HoverAt provides a mock function with given fields: ctx, x, y
func (_m *MockPage) HoverAt(ctx context.Context, x int, y int) error {
	return _m.Called(ctx, x, y).Error(0)
}

// Scroll provides a mock function with given fields: ctx, direction, amount
func (_m *MockPage) Scroll(ctx context.Context, direction string, amount int) error {
	return _m.Called(ctx, direction, amount).Error(0)
}

// WaitForSelector provides a mock function with given fields: ctx, selector, timeout
func (_m *MockPage) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	return _m.Called(ctx, selector, timeout).Error(0)
}

// Wait provides a mock function with given fields: ctx, d
func (_m *MockPage) Wait(ctx context.Context, d time.Duration) error {
	return _m.Called(ctx, d).Error(0)
}

// NewMockPage creates a new instance of MockPage. It also registers a testing
// interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockPage(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockPage {
	m := &MockPage{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

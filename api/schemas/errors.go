package schemas

import (
	"errors"
	"fmt"
	"time"
)

// -- Error Taxonomy --

var (
	// ErrNavigationTimeout means a navigation or network-quiescence wait
	// exceeded its bound. It is fatal to the current step only.
	ErrNavigationTimeout = errors.New("navigation timeout")
	// ErrElementNotFound means a locator or form-field query matched nothing.
	ErrElementNotFound = errors.New("element not found")
	// ErrLabelExtraction means the caption lookup for a pivot table failed.
	ErrLabelExtraction = errors.New("table label extraction failed")
	// ErrGraphicConversion means the page-side chart serializer reported an error.
	ErrGraphicConversion = errors.New("graphic conversion failed")
	// ErrLoginRejected means the login form was still present after submitting credentials.
	ErrLoginRejected = errors.New("login rejected")
	// ErrInvalidState means a lifecycle method was called out of order.
	ErrInvalidState = errors.New("invalid session state")
	// ErrSessionClosed means the page or browser has already been closed.
	ErrSessionClosed = errors.New("session closed")
)

// PageRuntimeError is an uncaught error raised inside the automated page.
// It is reported as a progress event and never ends the session.
type PageRuntimeError struct {
	Message   string
	URL       string
	Line      int64
	Column    int64
	Timestamp time.Time
}

func (e *PageRuntimeError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("page error: %s", e.Message)
	}
	return fmt.Sprintf("page error: %s (%s:%d:%d)", e.Message, e.URL, e.Line, e.Column)
}

package crawler

import "github.com/xkilldash9x/dashcrawl/api/schemas"

// Re-exported so callers of this package can match errors without importing schemas.
var (
	ErrNavigationTimeout = schemas.ErrNavigationTimeout
	ErrElementNotFound   = schemas.ErrElementNotFound
	ErrLabelExtraction   = schemas.ErrLabelExtraction
	ErrGraphicConversion = schemas.ErrGraphicConversion
	ErrLoginRejected     = schemas.ErrLoginRejected
	ErrInvalidState      = schemas.ErrInvalidState
	ErrSessionClosed     = schemas.ErrSessionClosed
)

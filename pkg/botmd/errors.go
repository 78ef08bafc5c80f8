package botmd

import (
	"errors"

	"github.com/JakeFAU/botmd/internal/fetcher"
	"github.com/JakeFAU/botmd/internal/urlguard"
)

// ErrEmptyContent is returned when the upstream body is blank after trimming.
var ErrEmptyContent = errors.New("fetched html content is empty")

// Errors surfaced on Response.Error, re-exported so callers can match them
// with errors.Is without importing internal packages.
var (
	ErrInvalidURL        = urlguard.ErrInvalidURL
	ErrSSRFRejected      = urlguard.ErrSSRFRejected
	ErrFetchTimeout      = fetcher.ErrTimeout
	ErrSizeLimitExceeded = fetcher.ErrSizeLimitExceeded
)

// HTTPError is a non-2xx upstream response; match it with errors.As.
type HTTPError = fetcher.HTTPError

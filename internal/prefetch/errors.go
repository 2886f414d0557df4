package prefetch

import (
	"errors"
	"fmt"
)

var (
	ErrHTTPSRequired   = errors.New("URL must have HTTPS scheme for prefetch.")
	ErrFeatureDisabled = errors.New("WebView initiated prefetching feature is not enabled.")
	ErrManagerClosed   = errors.New("prefetch manager is closed")
	// ErrStartFailed is returned by a Fetcher that could not issue the request.
	ErrStartFailed = errors.New("prefetch could not be started")

	errNoResponse = errors.New("fetcher returned no response")
)

// InvalidHeaderError reports a prefetch header rejected by validation.
type InvalidHeaderError struct {
	Name string
	Err  error
}

func (e *InvalidHeaderError) Error() string {
	return fmt.Sprintf("invalid prefetch header %q: %v", e.Name, e.Err)
}

func (e *InvalidHeaderError) Unwrap() error {
	return e.Err
}

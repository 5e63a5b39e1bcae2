package feed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Sentinel errors for feed retrieval and parsing failures.
var (
	ErrFeedUnreachable = errors.New("feed unreachable")
	ErrFeedTimeout     = errors.New("feed request timeout")
	ErrBadStatus       = errors.New("feed returned non-2xx status")
	ErrMalformedFeed   = errors.New("malformed feed")
)

// FetchError is returned once every fetch attempt for a feed has failed.
// It is a whole-feed failure; callers continue with the next source.
type FetchError struct {
	URL      string
	Name     string
	Attempts int
	Duration time.Duration
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s (%s): gave up after %d attempt(s) in %s: %v",
		e.Name, e.URL, e.Attempts, e.Duration.Round(time.Millisecond), e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrFeedTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrFeedTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrFeedUnreachable, err)
}

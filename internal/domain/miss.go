package domain

import (
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("not found")

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	Status int
	URL    string
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("bad status %d from %s: %s", e.Status, e.URL, e.Body)
	}
	return fmt.Sprintf("bad status %d from %s", e.Status, e.URL)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Status == 404
}

// ClientError reports a 4xx other than 404.
func (e *StatusError) ClientError() bool {
	return e.Status >= 400 && e.Status < 500 && e.Status != 404
}

// SourceMiss is one source that failed for one page.
type SourceMiss struct {
	Category string    `json:"category"` // "feed" for the aggregated endpoint
	Page     int       `json:"page"`
	Status   int       `json:"status"` // 0 when no HTTP status was received
	Reason   string    `json:"reason"`
	SeenAt   time.Time `json:"seenAt"`
}

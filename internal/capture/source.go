// Package capture reads and normalizes frames from live video sources.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/url"
)

// ErrSourceUnavailable marks a connect or read failure on a video source.
// A read failure is terminal for the owning capture loop; retry policy is
// a caller decision.
var ErrSourceUnavailable = errors.New("video source unavailable")

// VideoSource yields decoded frames from one source address. A source
// handle has exactly one owner; Close must be called on every exit path.
type VideoSource interface {
	// Connect attempts a single connection. It does not retry.
	Connect(ctx context.Context) error
	// Read blocks until the next decoded frame or a terminal failure.
	Read() (image.Image, error)
	// Close releases the source handle. Idempotent.
	Close() error
}

// Open returns an unconnected VideoSource for the given address.
func Open(rawURL string) (VideoSource, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	switch u.Scheme {
	case "http", "https":
		return newMJPEGSource(rawURL), nil
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrSourceUnavailable, u.Scheme)
	}
}

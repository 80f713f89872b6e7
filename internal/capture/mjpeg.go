package capture

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
)

// mjpegSource consumes a multipart/x-mixed-replace MJPEG stream over HTTP.
type mjpegSource struct {
	url string

	mu     sync.Mutex
	resp   *http.Response
	parts  *multipart.Reader
	closed bool
}

func newMJPEGSource(url string) *mjpegSource {
	return &mjpegSource{url: url}
}

func (s *mjpegSource) Connect(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("%w: status %d from %s", ErrSourceUnavailable, resp.StatusCode, s.url)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
		resp.Body.Close()
		return fmt.Errorf("%w: %s is not an MJPEG stream", ErrSourceUnavailable, s.url)
	}

	s.mu.Lock()
	s.resp = resp
	s.parts = multipart.NewReader(resp.Body, params["boundary"])
	s.closed = false
	s.mu.Unlock()
	return nil
}

func (s *mjpegSource) Read() (image.Image, error) {
	s.mu.Lock()
	parts := s.parts
	closed := s.closed
	s.mu.Unlock()

	if closed || parts == nil {
		return nil, fmt.Errorf("%w: source not connected", ErrSourceUnavailable)
	}

	part, err := parts.NextPart()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer part.Close()

	img, err := jpeg.Decode(part)
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrSourceUnavailable, err)
	}
	return img, nil
}

func (s *mjpegSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.parts = nil
	if s.resp != nil {
		err := s.resp.Body.Close()
		s.resp = nil
		return err
	}
	return nil
}

package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"
)

func encodeTestJPEG(t *testing.T, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode test jpeg: %v", err)
	}
	return buf.Bytes()
}

func mjpegTestServer(t *testing.T, frames [][]byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const boundary = "frameboundary"
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
		for _, frame := range frames {
			fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", boundary, len(frame))
			w.Write(frame)
			fmt.Fprint(w, "\r\n")
		}
		fmt.Fprintf(w, "--%s--\r\n", boundary)
	}))
}

func TestMJPEGSourceReadsFrames(t *testing.T) {
	frames := [][]byte{
		encodeTestJPEG(t, color.RGBA{R: 255, A: 255}),
		encodeTestJPEG(t, color.RGBA{G: 255, A: 255}),
	}
	srv := mjpegTestServer(t, frames)
	defer srv.Close()

	src, err := Open(srv.URL)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	if err := src.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	for i := range frames {
		img, err := src.Read()
		if err != nil {
			t.Fatalf("Read frame %d: %v", i, err)
		}
		if img.Bounds().Dx() != 16 {
			t.Errorf("frame %d width = %d, want 16", i, img.Bounds().Dx())
		}
	}

	// End of stream surfaces as a source error.
	if _, err := src.Read(); !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("Read past end = %v, want ErrSourceUnavailable", err)
	}
}

func TestMJPEGSourceRejectsNonMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	src, err := Open(srv.URL)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := src.Connect(context.Background()); !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("Connect to non-MJPEG = %v, want ErrSourceUnavailable", err)
	}
}

func TestMJPEGSourceReadAfterClose(t *testing.T) {
	srv := mjpegTestServer(t, nil)
	defer srv.Close()

	src, err := Open(srv.URL)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := src.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := src.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := src.Read(); !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("Read after Close = %v, want ErrSourceUnavailable", err)
	}
}

func TestOpenRejectsUnsupportedScheme(t *testing.T) {
	if _, err := Open("ftp://example/stream"); err == nil {
		t.Fatal("Open(ftp://) = nil error")
	}
}

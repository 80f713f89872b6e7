package capture

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/jpeg"
	"time"

	"golang.org/x/image/draw"

	"github.com/vdetect/streamguard/pkg/types"
)

// Normalize resizes a decoded frame to the model input shape, scales
// pixel values to [0,1] and reorders to CHW layout.
func Normalize(img image.Image, ts time.Time) *types.Frame {
	scaled := image.NewRGBA(image.Rect(0, 0, types.FrameWidth, types.FrameHeight))
	draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), img, img.Bounds(), draw.Src, nil)

	data := make([]float32, types.FrameLen)
	plane := types.FrameHeight * types.FrameWidth
	for y := 0; y < types.FrameHeight; y++ {
		row := scaled.Pix[y*scaled.Stride:]
		for x := 0; x < types.FrameWidth; x++ {
			px := row[x*4:]
			idx := y*types.FrameWidth + x
			data[idx] = float32(px[0]) / 255.0
			data[plane+idx] = float32(px[1]) / 255.0
			data[2*plane+idx] = float32(px[2]) / 255.0
		}
	}

	return &types.Frame{Data: data, Timestamp: ts}
}

// Denormalize converts a CHW frame back into an RGBA image.
func Denormalize(f *types.Frame) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, types.FrameWidth, types.FrameHeight))
	plane := types.FrameHeight * types.FrameWidth
	for y := 0; y < types.FrameHeight; y++ {
		for x := 0; x < types.FrameWidth; x++ {
			idx := y*types.FrameWidth + x
			off := y*img.Stride + x*4
			img.Pix[off] = clampByte(f.Data[idx])
			img.Pix[off+1] = clampByte(f.Data[plane+idx])
			img.Pix[off+2] = clampByte(f.Data[2*plane+idx])
			img.Pix[off+3] = 0xff
		}
	}
	return img
}

// Thumbnail re-encodes the frame as a small base64 JPEG for transport.
func Thumbnail(f *types.Frame) (string, error) {
	return EncodeJPEG(f, types.ThumbnailSize, types.ThumbnailSize, 80)
}

// EncodeJPEG renders the frame at the given size as a base64 JPEG.
func EncodeJPEG(f *types.Frame, width, height, quality int) (string, error) {
	src := Denormalize(f)
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func clampByte(v float32) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 1:
		return 0xff
	default:
		return uint8(v*255 + 0.5)
	}
}

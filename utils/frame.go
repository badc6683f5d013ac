package utils

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const FrameMIMEType = "image/jpeg"

var ErrEmptyImage = errors.New("image has zero dimensions")

// EncodeFrame rasterizes img into a JPEG. Images wider than maxWidth are scaled
// down keeping the aspect ratio; maxWidth <= 0 keeps the source size.
func EncodeFrame(img image.Image, quality, maxWidth int) ([]byte, image.Rectangle, error) {
	if img == nil {
		return nil, image.Rectangle{}, ErrEmptyImage
	}
	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, image.Rectangle{}, ErrEmptyImage
	}

	if quality < 1 {
		quality = 1
	}
	if quality > 100 {
		quality = 100
	}

	src := img
	if maxWidth > 0 && bounds.Dx() > maxWidth {
		height := bounds.Dy() * maxWidth / bounds.Dx()
		if height < 1 {
			height = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, maxWidth, height))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)
		src = dst
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, src, &jpeg.Options{Quality: quality}); err != nil {
		return nil, image.Rectangle{}, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), src.Bounds(), nil
}

// DecodeImage decodes a JPEG, PNG or WebP still.
func DecodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// Package photo prepares captured images for upload: HEIC decode,
// EXIF extraction, orientation correction and downscaling, so the
// device never ships multi-megabyte originals over a mobile link.
package photo

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/jdeng/goheif"
	"github.com/rwcarlsen/goexif/exif"
)

// Upload is a processed, upload-ready image.
type Upload struct {
	Data      []byte
	Filename  string
	TakenAt   *time.Time
	Latitude  *float64
	Longitude *float64
}

// Processor converts captured files into upload-ready JPEGs.
type Processor struct {
	maxDim  int
	quality int
}

// NewProcessor creates a Processor. maxDim bounds the longest side of
// the uploaded image; quality is the JPEG quality (1-100).
func NewProcessor(maxDim, quality int) *Processor {
	if maxDim <= 0 {
		maxDim = 2048
	}
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	return &Processor{maxDim: maxDim, quality: quality}
}

// Prepare reads, decodes and re-encodes the file at path.
func (p *Processor) Prepare(path string) (*Upload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read photo file: %w", err)
	}

	upload := &Upload{
		Filename: jpegName(path),
	}

	orientation := 1
	if meta, err := exif.Decode(bytes.NewReader(data)); err == nil {
		if tag, err := meta.Get(exif.Orientation); err == nil {
			if v, err := tag.Int(0); err == nil {
				orientation = v
			}
		}
		if taken, err := meta.DateTime(); err == nil {
			upload.TakenAt = &taken
		}
		if lat, lon, err := meta.LatLong(); err == nil {
			upload.Latitude = &lat
			upload.Longitude = &lon
		}
	}

	var img image.Image
	if isHEIC(path) {
		img, err = goheif.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode HEIC image: %w", err)
		}
	} else {
		img, _, err = image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode image: %w", err)
		}
	}

	img = applyOrientation(img, orientation)

	bounds := img.Bounds()
	if bounds.Dx() > p.maxDim || bounds.Dy() > p.maxDim {
		img = imaging.Fit(img, p.maxDim, p.maxDim, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.quality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	upload.Data = buf.Bytes()
	return upload, nil
}

// applyOrientation corrects image orientation based on EXIF data
func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}

func isHEIC(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".heic" || ext == ".heif"
}

func jpegName(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + ".jpg"
}

// Package scan sniffs, decodes and grades uploaded answer-sheet files.
// PDFs are never rasterized locally; only raster images are inspected.
package scan

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"

	"gradeflow/internal/model"
)

// Format is a supported upload format
type Format string

const (
	FormatPDF     Format = "pdf"
	FormatJPEG    Format = "jpeg"
	FormatPNG     Format = "png"
	FormatWebP    Format = "webp"
	FormatUnknown Format = ""
)

// MIME returns the content type of the format
func (f Format) MIME() string {
	switch f {
	case FormatPDF:
		return "application/pdf"
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatWebP:
		return "image/webp"
	}
	return "application/octet-stream"
}

// IsImage reports whether the format is a raster image
func (f Format) IsImage() bool {
	return f == FormatJPEG || f == FormatPNG || f == FormatWebP
}

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrTooLarge is returned before decoding an image whose pixel count exceeds MaxPixels
	ErrTooLarge = errors.New("image exceeds pixel limit")
)

const (
	// MaxDimension bounds the long side of images sent to the vision model
	MaxDimension = 2048
	// MaxPixels bounds width*height of an image accepted for decoding (40 MP)
	MaxPixels = 40_000_000
)

// Sniff identifies the format from content, falling back to the file extension.
func Sniff(data []byte, fileName string) Format {
	if len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP" {
		return FormatWebP
	}
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	ct := http.DetectContentType(head)
	switch {
	case strings.Contains(ct, "pdf"):
		return FormatPDF
	case strings.Contains(ct, "jpeg"):
		return FormatJPEG
	case strings.Contains(ct, "png"):
		return FormatPNG
	case strings.Contains(ct, "webp"):
		return FormatWebP
	}
	if !strings.HasPrefix(ct, "application/octet-stream") {
		return FormatUnknown
	}
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".pdf":
		return FormatPDF
	case ".jpg", ".jpeg":
		return FormatJPEG
	case ".png":
		return FormatPNG
	case ".webp":
		return FormatWebP
	}
	return FormatUnknown
}

// Page is an uploaded file sniffed once and, for raster images, decoded once.
// Image is nil for PDFs.
type Page struct {
	FileName string
	Data     []byte
	Format   Format
	Image    image.Image
}

// Open sniffs data and decodes it when it is a raster image.
func Open(data []byte, fileName string) (*Page, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty file")
	}
	p := &Page{FileName: fileName, Data: data, Format: Sniff(data, fileName)}
	switch {
	case p.Format == FormatPDF:
		return p, nil
	case p.Format.IsImage():
		img, err := Decode(data, p.Format)
		if err != nil {
			return nil, err
		}
		p.Image = img
		return p, nil
	}
	return nil, ErrUnsupportedFormat
}

// Decode decodes a raster image of the given format. The header is read first
// and images above MaxPixels are refused with ErrTooLarge.
func Decode(data []byte, f Format) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty file")
	}
	cfg, err := decodeConfig(bytes.NewReader(data), f)
	if err != nil {
		return nil, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid image size %dx%d", cfg.Width, cfg.Height)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, fmt.Errorf("%dx%d: %w", cfg.Width, cfg.Height, ErrTooLarge)
	}

	r := bytes.NewReader(data)
	switch f {
	case FormatJPEG:
		return jpeg.Decode(r)
	case FormatPNG:
		return png.Decode(r)
	case FormatWebP:
		return webp.Decode(r)
	}
	return nil, ErrUnsupportedFormat
}

func decodeConfig(r io.Reader, f Format) (image.Config, error) {
	switch f {
	case FormatJPEG:
		return jpeg.DecodeConfig(r)
	case FormatPNG:
		return png.DecodeConfig(r)
	case FormatWebP:
		return webp.DecodeConfig(r)
	}
	return image.Config{}, ErrUnsupportedFormat
}

// Downscale shrinks img so neither side exceeds maxSide, keeping the aspect ratio.
func Downscale(src image.Image, maxSide int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxSide <= 0 || (w <= maxSide && h <= maxSide) {
		return src
	}
	scale := math.Min(float64(maxSide)/float64(w), float64(maxSide)/float64(h))
	nw := int(math.Max(1, math.Round(float64(w)*scale)))
	nh := int(math.Max(1, math.Round(float64(h)*scale)))
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}

// Normalize re-encodes an image as a bounded-size JPEG for the vision model.
func Normalize(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, Downscale(img, MaxDimension), &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Assessment holds the pixel statistics behind a quality tier
type Assessment struct {
	Quality    model.ScanQuality `json:"quality"`
	Width      int               `json:"width"`
	Height     int               `json:"height"`
	Brightness float64           `json:"brightness"` // mean luma 0-255
	Contrast   float64           `json:"contrast"`   // stddev / mean
	Aligned    bool              `json:"aligned"`
}

// Assess grades legibility from mean brightness, relative contrast and resolution,
// and treats a portrait page with a paper-like aspect ratio as aligned.
func Assess(img image.Image) Assessment {
	b := img.Bounds()
	a := Assessment{Width: b.Dx(), Height: b.Dy()}
	if a.Width == 0 || a.Height == 0 {
		a.Quality = model.ScanQualityPoor
		return a
	}

	gray := imaging.Grayscale(Downscale(img, 512))
	gb := gray.Bounds()
	var sum, sumSq float64
	n := 0
	for y := gb.Min.Y; y < gb.Max.Y; y++ {
		for x := gb.Min.X; x < gb.Max.X; x++ {
			l := float64(gray.NRGBAAt(x, y).R)
			sum += l
			sumSq += l * l
			n++
		}
	}
	mean := sum / float64(n)
	variance := math.Max(0, sumSq/float64(n)-mean*mean)
	a.Brightness = mean
	if mean > 0 {
		a.Contrast = math.Sqrt(variance) / mean
	}
	a.Quality = qualityTier(a)
	a.Aligned = isAligned(a.Width, a.Height)
	return a
}

func qualityTier(a Assessment) model.ScanQuality {
	minSide := a.Width
	if a.Height < minSide {
		minSide = a.Height
	}
	if minSide < 300 || a.Brightness < 40 || a.Brightness > 250 || a.Contrast < 0.05 {
		return model.ScanQualityPoor
	}

	score := 0
	if minSide >= 1000 {
		score++
	}
	if a.Contrast >= 0.25 {
		score++
	}
	if a.Brightness >= 90 && a.Brightness <= 235 {
		score++
	}
	switch score {
	case 3:
		return model.ScanQualityExcellent
	case 2:
		return model.ScanQualityGood
	case 1:
		return model.ScanQualityFair
	}
	return model.ScanQualityPoor
}

// Portrait pages with height/width in [1.2, 1.6]; A4 is 1.414, Letter 1.294.
func isAligned(w, h int) bool {
	if h < w {
		return false
	}
	ratio := float64(h) / float64(w)
	return ratio >= 1.2 && ratio <= 1.6
}

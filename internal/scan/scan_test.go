package scan

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gradeflow/internal/model"
)

// page draws a white sheet with dark horizontal "text" lines.
func page(w, h int, bg, ink uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := bg
			if (y/10)%4 == 0 && x > w/10 && x < w*9/10 {
				v = ink
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestSniff(t *testing.T) {
	pngData := encodePNG(t, page(10, 10, 255, 0))
	tests := []struct {
		name string
		data []byte
		file string
		want Format
	}{
		{"pdf", []byte("%PDF-1.7\n..."), "x.bin", FormatPDF},
		{"png", pngData, "x", FormatPNG},
		{"jpeg magic", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0x10, 'J', 'F', 'I', 'F'}, "", FormatJPEG},
		{"webp magic", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), "", FormatWebP},
		{"text rejected", []byte("hello world"), "a.pdf", FormatUnknown},
		{"binary by extension", []byte{0x00, 0x01, 0x02, 0x03}, "scan.webp", FormatWebP},
		{"binary unknown", []byte{0x00, 0x01, 0x02, 0x03}, "scan.doc", FormatUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sniff(tt.data, tt.file))
		})
	}
}

func TestDecodeAndNormalize(t *testing.T) {
	data := encodePNG(t, page(2400, 3200, 250, 20))
	img, err := Decode(data, FormatPNG)
	require.NoError(t, err)

	out, err := Normalize(img)
	require.NoError(t, err)
	assert.Equal(t, FormatJPEG, Sniff(out, ""))

	cfg, _, err := image.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, MaxDimension, cfg.Height)
	assert.Equal(t, 1536, cfg.Width)

	_, err = Decode([]byte("garbage"), FormatPNG)
	assert.Error(t, err)
	_, err = Decode(data, FormatPDF)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

// pngHeader is a PNG signature plus IHDR chunk: enough for DecodeConfig, no pixel data.
func pngHeader(w, h uint32) []byte {
	ihdr := make([]byte, 17)
	copy(ihdr, "IHDR")
	binary.BigEndian.PutUint32(ihdr[4:], w)
	binary.BigEndian.PutUint32(ihdr[8:], h)
	ihdr[12] = 8 // bit depth
	ihdr[13] = 0 // grayscale

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	_ = binary.Write(&buf, binary.BigEndian, uint32(13))
	buf.Write(ihdr)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(ihdr))
	return buf.Bytes()
}

func TestDecodeRejectsOversizedImage(t *testing.T) {
	tests := []struct {
		name string
		w, h uint32
	}{
		{"12000 square", 12000, 12000},
		{"just over the budget", 8000, 5001},
		{"absurd width", 1 << 30, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(pngHeader(tt.w, tt.h), FormatPNG)
			assert.ErrorIs(t, err, ErrTooLarge)

			_, err = Open(pngHeader(tt.w, tt.h), "scan.png")
			assert.ErrorIs(t, err, ErrTooLarge)
		})
	}

	// within budget the header passes and the missing pixel data fails the real decode
	_, err := Decode(pngHeader(8000, 5000), FormatPNG)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTooLarge)
}

func TestOpen(t *testing.T) {
	pngData := encodePNG(t, page(40, 60, 250, 20))

	p, err := Open(pngData, "page.png")
	require.NoError(t, err)
	assert.Equal(t, FormatPNG, p.Format)
	require.NotNil(t, p.Image)
	assert.Equal(t, 40, p.Image.Bounds().Dx())

	p, err = Open([]byte("%PDF-1.4\n"), "scan.pdf")
	require.NoError(t, err)
	assert.Equal(t, FormatPDF, p.Format)
	assert.Nil(t, p.Image)

	_, err = Open([]byte("hello"), "notes.txt")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Open(nil, "empty.pdf")
	assert.Error(t, err)
}

func TestAssess(t *testing.T) {
	tests := []struct {
		name        string
		img         image.Image
		wantQuality model.ScanQuality
		wantAligned bool
	}{
		{"crisp A4 scan", page(1240, 1754, 230, 10), model.ScanQualityExcellent, true},
		{"low resolution", page(200, 280, 230, 10), model.ScanQualityPoor, true},
		{"blank dark page", page(1240, 1754, 20, 20), model.ScanQualityPoor, true},
		{"landscape", page(1754, 1240, 230, 10), model.ScanQualityExcellent, false},
		{"small but legible", page(620, 877, 230, 10), model.ScanQualityGood, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Assess(tt.img)
			assert.Equal(t, tt.wantQuality, a.Quality)
			assert.Equal(t, tt.wantAligned, a.Aligned)
		})
	}
}

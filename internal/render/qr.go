// Package render turns a download URL into the QR image and caption that get
// posted to channels. It does no I/O.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"

	colorful "github.com/lucasb-eyer/go-colorful"
	qrcode "github.com/skip2/go-qrcode"
	"golang.org/x/image/colornames"

	"github.com/osvaldoandrade/qrbot/pkg/domain"
)

// MaxImageSide bounds the rendered PNG. Long URLs need more modules, so the
// largest box size only fits short ones.
const MaxImageSide = 4096

// ValidateOptions checks style options after defaults are applied.
func ValidateOptions(opts domain.QROptions) error {
	opts = opts.WithDefaults()
	if opts.BoxSize < 1 || opts.BoxSize > domain.MaxBoxSize {
		return domain.NewValidationError("qr_options.box_size", "must be between 1 and %d", domain.MaxBoxSize)
	}
	if b := opts.BorderValue(); b < 0 || b > domain.MaxBorder {
		return domain.NewValidationError("qr_options.border", "must be between 0 and %d", domain.MaxBorder)
	}
	if _, err := ParseColor(opts.FillColor); err != nil {
		return domain.NewValidationError("qr_options.fill_color", "%v", err)
	}
	if _, err := ParseColor(opts.BackColor); err != nil {
		return domain.NewValidationError("qr_options.back_color", "%v", err)
	}
	return nil
}

// QR encodes content as a PNG. Each module is BoxSize pixels square and the
// quiet zone is Border modules wide.
func QR(content string, opts domain.QROptions) ([]byte, error) {
	if strings.TrimSpace(content) == "" {
		return nil, domain.NewValidationError("apk_url", "must not be empty")
	}
	if err := ValidateOptions(opts); err != nil {
		return nil, err
	}
	opts = opts.WithDefaults()
	fill, _ := ParseColor(opts.FillColor)
	back, _ := ParseColor(opts.BackColor)

	q, err := qrcode.New(content, qrcode.Low)
	if err != nil {
		return nil, fmt.Errorf("qr encode: %w", err)
	}
	q.DisableBorder = true
	bitmap := q.Bitmap()

	border := opts.BorderValue()
	modules := len(bitmap) + 2*border
	size := modules * opts.BoxSize
	if size > MaxImageSide {
		return nil, domain.NewValidationError("qr_options.box_size",
			"image would be %dpx wide, the limit is %dpx; lower box_size or border", size, MaxImageSide)
	}
	img := image.NewPaletted(image.Rect(0, 0, size, size), color.Palette{back, fill})
	for y, row := range bitmap {
		for x, set := range row {
			if !set {
				continue
			}
			x0 := (x + border) * opts.BoxSize
			y0 := (y + border) * opts.BoxSize
			for dy := 0; dy < opts.BoxSize; dy++ {
				for dx := 0; dx < opts.BoxSize; dx++ {
					img.SetColorIndex(x0+dx, y0+dy, 1)
				}
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("png encode: %w", err)
	}
	return buf.Bytes(), nil
}

// ParseColor accepts CSS colour names and #RGB / #RRGGBB.
func ParseColor(s string) (color.RGBA, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return color.RGBA{}, fmt.Errorf("empty colour")
	}
	if strings.HasPrefix(s, "#") {
		if !isHexColor(s) {
			return color.RGBA{}, fmt.Errorf("invalid colour %q", s)
		}
		c, err := colorful.Hex(s)
		if err != nil {
			return color.RGBA{}, fmt.Errorf("invalid colour %q", s)
		}
		r, g, b := c.RGB255()
		return color.RGBA{R: r, G: g, B: b, A: 0xff}, nil
	}
	if c, ok := colornames.Map[strings.ToLower(s)]; ok {
		return c, nil
	}
	return color.RGBA{}, fmt.Errorf("unknown colour %q", s)
}

// isHexColor reports whether s is exactly #RGB or #RRGGBB.
func isHexColor(s string) bool {
	if len(s) != 4 && len(s) != 7 {
		return false
	}
	for i := 1; i < len(s); i++ {
		switch c := s[i]; {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

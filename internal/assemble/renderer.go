package assemble

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	_ "image/jpeg"
)

// RenderInput carries everything one page render needs. Background and
// Character are raw image bytes; either may be nil.
type RenderInput struct {
	Order      float64
	Kind       string
	Text       string
	Background []byte
	Character  []byte
}

// Renderer turns one page's content into a flat image.
type Renderer interface {
	// RenderPage returns PNG bytes for one page.
	RenderPage(ctx context.Context, in RenderInput) ([]byte, error)
}

// FlatRenderer is the default compositor: a fixed-size canvas with the
// background centered, the character drawn over it, and the page text
// in a band along the bottom. Typography is intentionally minimal; a
// richer renderer plugs in behind the Renderer interface.
type FlatRenderer struct {
	Width  int
	Height int
}

// NewFlatRenderer creates a renderer with the default page size.
func NewFlatRenderer() *FlatRenderer {
	return &FlatRenderer{Width: 1024, Height: 1024}
}

// RenderPage composites the page onto a white canvas and encodes PNG.
func (r *FlatRenderer) RenderPage(ctx context.Context, in RenderInput) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	canvas := image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	if err := r.drawLayer(canvas, in.Background); err != nil {
		return nil, fmt.Errorf("page %v background: %w", in.Order, err)
	}
	if err := r.drawLayer(canvas, in.Character); err != nil {
		return nil, fmt.Errorf("page %v character: %w", in.Order, err)
	}
	r.drawText(canvas, in.Text)

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("page %v encode: %w", in.Order, err)
	}
	return buf.Bytes(), nil
}

// drawLayer decodes the bytes and draws them centered on the canvas.
// Nil bytes are a no-op.
func (r *FlatRenderer) drawLayer(canvas *image.RGBA, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decode layer: %w", err)
	}

	b := img.Bounds()
	offset := image.Pt((r.Width-b.Dx())/2, (r.Height-b.Dy())/2)
	target := image.Rectangle{Min: offset, Max: offset.Add(b.Size())}
	draw.Draw(canvas, target.Intersect(canvas.Bounds()), img, b.Min, draw.Over)
	return nil
}

// drawText writes wrapped lines in a band along the bottom edge.
func (r *FlatRenderer) drawText(canvas *image.RGBA, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	face := basicfont.Face7x13
	margin := 40
	maxChars := (r.Width - 2*margin) / 7
	if maxChars < 8 {
		maxChars = 8
	}
	lines := wrapText(text, maxChars)

	lineHeight := face.Height + 4
	y := r.Height - margin - (len(lines)-1)*lineHeight
	for _, line := range lines {
		d := font.Drawer{
			Dst:  canvas,
			Src:  image.NewUniform(color.Black),
			Face: face,
			Dot:  fixed.P(margin, y),
		}
		d.DrawString(line)
		y += lineHeight
	}
}

// wrapText breaks text into lines of at most width characters on word
// boundaries. Words longer than width get their own line.
func wrapText(text string, width int) []string {
	var lines []string
	var current strings.Builder

	for _, word := range strings.Fields(text) {
		if current.Len() == 0 {
			current.WriteString(word)
			continue
		}
		if current.Len()+1+len(word) > width {
			lines = append(lines, current.String())
			current.Reset()
			current.WriteString(word)
			continue
		}
		current.WriteByte(' ')
		current.WriteString(word)
	}
	if current.Len() > 0 {
		lines = append(lines, current.String())
	}
	return lines
}

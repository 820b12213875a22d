package generator

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"
)

var (
	fontOnce   sync.Once
	parsedFont *truetype.Font
	fontErr    error
)

func loadFont() (*truetype.Font, error) {
	fontOnce.Do(func() {
		parsedFont, fontErr = freetype.ParseFont(goregular.TTF)
	})
	return parsedFont, fontErr
}

// Placeholder renders the prompt as text onto a flat PNG. It needs no
// network and is used for local runs and tests.
type Placeholder struct{}

func NewPlaceholder() *Placeholder {
	return &Placeholder{}
}

func (p *Placeholder) Generate(ctx context.Context, req Request) (*Response, error) {
	const op = "generator.Placeholder.Generate"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceError, err)
	}
	width, height, err := ParseSize(req.Size)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	n := req.Count
	if n <= 0 {
		n = 1
	}
	out := &Response{Created: time.Now().Unix()}
	for i := 0; i < n; i++ {
		data, err := renderPrompt(req.Prompt, width, height)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out.Data = append(out.Data, ImageData{B64JSON: base64.StdEncoding.EncodeToString(data)})
	}
	return out, nil
}

func renderPrompt(prompt string, width, height int) ([]byte, error) {
	f, err := loadFont()
	if err != nil {
		return nil, err
	}

	dst := imaging.New(width, height, backgroundFor(prompt))

	fontSize := float64(width) / 16
	if fontSize < 8 {
		fontSize = 8
	}
	ctx := freetype.NewContext()
	ctx.SetDPI(72)
	ctx.SetFont(f)
	ctx.SetFontSize(fontSize)
	ctx.SetClip(dst.Bounds())
	ctx.SetDst(dst)
	ctx.SetSrc(image.NewUniform(color.White))

	lineHeight := int(fontSize * 1.3)
	margin := int(fontSize)
	maxChars := int(float64(width-2*margin) / (fontSize * 0.55))
	y := margin + int(fontSize)
	for _, line := range wrap(prompt, maxChars) {
		if y > height-margin {
			break
		}
		if _, err := ctx.DrawString(line, freetype.Pt(margin, y)); err != nil {
			return nil, err
		}
		y += lineHeight
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, dst, imaging.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// backgroundFor picks a stable dark color per prompt.
func backgroundFor(prompt string) color.NRGBA {
	h := fnv.New32a()
	h.Write([]byte(prompt))
	sum := h.Sum32()
	return color.NRGBA{
		R: uint8(sum>>16) / 2,
		G: uint8(sum>>8) / 2,
		B: uint8(sum) / 2,
		A: 255,
	}
}

func wrap(text string, maxChars int) []string {
	if maxChars < 1 {
		maxChars = 1
	}
	var (
		lines []string
		cur   strings.Builder
	)
	for _, word := range strings.Fields(text) {
		if cur.Len() > 0 && cur.Len()+1+len(word) > maxChars {
			lines = append(lines, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(word)
	}
	if cur.Len() > 0 {
		lines = append(lines, cur.String())
	}
	return lines
}

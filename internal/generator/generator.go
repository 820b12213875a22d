// Package generator talks to the image-generation backend.
package generator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrServiceError      = errors.New("image generation service error")
	ErrMalformedResponse = errors.New("malformed image generation response")
)

type Request struct {
	Prompt string
	Size   string
	Count  int
}

// Response mirrors the OpenAI-style images API body.
type Response struct {
	Created int64       `json:"created"`
	Data    []ImageData `json:"data"`
}

type ImageData struct {
	B64JSON       string `json:"b64_json"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`
}

type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// MaxDimension caps either side of a requested image.
const MaxDimension = 2048

// ParseSize parses "WIDTHxHEIGHT". Both sides must be in 1..MaxDimension.
func ParseSize(size string) (int, int, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(size)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid size %q: want WIDTHxHEIGHT", size)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return 0, 0, fmt.Errorf("invalid size %q: bad width", size)
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return 0, 0, fmt.Errorf("invalid size %q: bad height", size)
	}
	if width > MaxDimension || height > MaxDimension {
		return 0, 0, fmt.Errorf("invalid size %q: sides are limited to %d pixels", size, MaxDimension)
	}
	return width, height, nil
}

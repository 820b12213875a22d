package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"

	"promptgallery/internal/models"
)

// Client calls an HTTP image-generation API.
type Client struct {
	url            string
	model          string
	count          int
	responseFormat string
	httpClient     *http.Client
}

type apiRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	Size           string `json:"size"`
	N              int    `json:"n"`
	ResponseFormat string `json:"response_format"`
}

// NewClient creates a client for cfg. A nil httpClient gets one bounded by
// the configured timeout.
func NewClient(cfg models.SDAPIConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout()}
	}
	return &Client{
		url:            cfg.URL,
		model:          cfg.Model,
		count:          cfg.DefaultCount,
		responseFormat: cfg.ResponseFormat,
		httpClient:     httpClient,
	}
}

func (c *Client) Generate(ctx context.Context, req Request) (*Response, error) {
	const op = "generator.Client.Generate"

	n := req.Count
	if n <= 0 {
		n = c.count
	}
	body, err := json.Marshal(apiRequest{
		Model:          c.model,
		Prompt:         req.Prompt,
		Size:           req.Size,
		N:              n,
		ResponseFormat: c.responseFormat,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	log.WithFields(log.Fields{"url": c.url, "model": c.model, "size": req.Size}).Debug("Calling image generation API")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrServiceError, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(out.Data) == 0 || out.Data[0].B64JSON == "" {
		return nil, fmt.Errorf("%w: no image data", ErrMalformedResponse)
	}
	return &out, nil
}

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"presenter-ai/internal/domain"
)

// Image backends reject dimensions that are not a multiple of this.
const pixelMultiple = 16

type imageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	Size           string `json:"size"`
	N              int    `json:"n"`
	ResponseFormat string `json:"response_format,omitempty"`
}

type imageResponse struct {
	Data []struct {
		URL     string `json:"url"`
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

// ImageResult is one generated image, as a remote URL or inline base64 data.
type ImageResult struct {
	URL    string
	B64    string
	Width  int
	Height int
}

// DataURI returns the result as an embeddable reference: the remote URL when
// present, otherwise a data URI around the base64 payload.
func (r ImageResult) DataURI() string {
	if r.URL != "" {
		return r.URL
	}
	return "data:image/png;base64," + r.B64
}

// SnapDimensions adjusts requested dimensions for the backend: when the pixel
// count falls below min the image is scaled up proportionally, then each side
// is rounded up to the nearest multiple of 16.
func SnapDimensions(width, height, minPixels int) (int, int) {
	if width <= 0 {
		width = 1024
	}
	if height <= 0 {
		height = 1024
	}
	if minPixels > 0 && width*height < minPixels {
		scale := math.Sqrt(float64(minPixels) / float64(width*height))
		width = int(math.Ceil(float64(width) * scale))
		height = int(math.Ceil(float64(height) * scale))
	}
	return roundUp(width, pixelMultiple), roundUp(height, pixelMultiple)
}

func roundUp(n, multiple int) int {
	if rem := n % multiple; rem != 0 {
		return n + multiple - rem
	}
	return n
}

// GenerateImage produces one image from a prompt. Dimensions are snapped per
// SnapDimensions before the request. Failed attempts back off linearly and
// cycle through the configured endpoints.
func (c *Client) GenerateImage(ctx context.Context, prompt string, width, height int) (*ImageResult, error) {
	width, height = SnapDimensions(width, height, c.minImageSize)

	var failures []string
	for attempt := 0; attempt < c.retryTimes; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		ep := c.endpoints[attempt%len(c.endpoints)]

		result, err := ep.generateImage(ctx, prompt, width, height)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("image generation failed",
			"endpoint", ep.name(), "attempt", attempt+1, "error", err)
		failures = append(failures, fmt.Sprintf("[%s] %v", ep.name(), err))
	}
	return nil, domain.NewDomainError("Client.GenerateImage", domain.ErrModelExhausted,
		fmt.Sprintf("%d attempts: %s", c.retryTimes, strings.Join(failures, "; ")))
}

func (e *endpoint) generateImage(ctx context.Context, prompt string, width, height int) (*ImageResult, error) {
	req := imageRequest{
		Model:  e.cfg.Model,
		Prompt: prompt,
		Size:   fmt.Sprintf("%dx%d", width, height),
		N:      1,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, domain.WrapOp("marshal image request", err)
	}
	data, err := e.doJSONRequest(ctx, e.cfg.BaseURL+"/images/generations", body)
	if err != nil {
		return nil, err
	}
	var resp imageResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, domain.WrapOp("decode image response", err)
	}
	if len(resp.Data) == 0 {
		return nil, domain.NewDomainError("endpoint.generateImage", domain.ErrNoChoices, e.name())
	}
	return &ImageResult{
		URL:    resp.Data[0].URL,
		B64:    resp.Data[0].B64JSON,
		Width:  width,
		Height: height,
	}, nil
}

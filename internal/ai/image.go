package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/tfreechat/tfreechat-go/internal/metrics"
)

// ImageGenerator produces images via the OpenAI images API. Only openai
// models carry the image generation capability in the catalog.
type ImageGenerator struct {
	client  *goopenai.Client
	logger  *slog.Logger
	metrics *metrics.Collector
}

// NewImageGenerator creates an image generator. Returns an error when no
// OpenAI key is configured.
func NewImageGenerator(apiKey string, log *slog.Logger, mc *metrics.Collector) (*ImageGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key required for image generation")
	}
	if log == nil {
		log = slog.Default()
	}
	return &ImageGenerator{
		client:  goopenai.NewClient(apiKey),
		logger:  log,
		metrics: mc,
	}, nil
}

// Generate renders one image for the prompt and returns its raw bytes and
// mime type.
func (g *ImageGenerator) Generate(ctx context.Context, modelID, prompt string) ([]byte, string, error) {
	start := time.Now()

	resp, err := g.client.CreateImage(ctx, goopenai.ImageRequest{
		Prompt:         prompt,
		Model:          modelID,
		N:              1,
		Size:           goopenai.CreateImageSize1024x1024,
		ResponseFormat: goopenai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return nil, "", fmt.Errorf("create image: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, "", fmt.Errorf("create image: empty response")
	}

	raw, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}

	if g.metrics != nil {
		g.metrics.RecordTiming(metrics.OpImageGen, time.Since(start))
	}
	g.logger.Debug("image generated",
		"model", modelID,
		"bytes", len(raw),
		"duration", time.Since(start))

	return raw, "image/png", nil
}

package ai

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/bedrock"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/tfreechat/tfreechat-go/internal/metrics"
)

// Config holds per-provider credentials. Empty keys disable the provider.
type Config struct {
	OpenAIAPIKey    string
	AnthropicAPIKey string
	GoogleAPIKey    string

	// BedrockEnabled switches on the AWS provider. Credentials come from
	// the default AWS credential chain.
	BedrockEnabled bool
	BedrockRegion  string
}

// Exchange is one prior prompt/reply pair fed back as conversation history.
// Reply is empty for the exchange currently being generated.
type Exchange struct {
	Prompt string
	Reply  string
}

// Delta is one streamed generation increment. Exactly one field is set.
type Delta struct {
	Text      string
	Reasoning string
}

// Result is the terminal outcome of a completed stream.
type Result struct {
	Text         string
	Reasoning    string
	InputTokens  int64
	OutputTokens int64
}

// Agent creates and caches langchaingo models per (provider, model) pair
// and runs streaming text generation against them.
type Agent struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Collector

	mu     sync.Mutex
	models map[string]llms.Model
}

// NewAgent creates an agent. The metrics collector may be nil.
func NewAgent(cfg Config, log *slog.Logger, mc *metrics.Collector) *Agent {
	if log == nil {
		log = slog.Default()
	}
	return &Agent{
		cfg:     cfg,
		logger:  log,
		metrics: mc,
		models:  make(map[string]llms.Model),
	}
}

func (a *Agent) model(ctx context.Context, provider, modelID string) (llms.Model, error) {
	key := provider + "/" + modelID

	a.mu.Lock()
	defer a.mu.Unlock()
	if m, ok := a.models[key]; ok {
		return m, nil
	}

	var m llms.Model
	var err error
	switch provider {
	case ProviderOpenAI:
		if a.cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		m, err = openai.New(
			openai.WithToken(a.cfg.OpenAIAPIKey),
			openai.WithModel(modelID),
		)

	case ProviderAnthropic:
		if a.cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		m, err = anthropic.New(
			anthropic.WithToken(a.cfg.AnthropicAPIKey),
			anthropic.WithModel(modelID),
		)

	case ProviderGoogle:
		if a.cfg.GoogleAPIKey == "" {
			return nil, fmt.Errorf("Google API key required")
		}
		m, err = googleai.New(ctx,
			googleai.WithAPIKey(a.cfg.GoogleAPIKey),
			googleai.WithDefaultModel(modelID),
		)

	case ProviderBedrock:
		if !a.cfg.BedrockEnabled {
			return nil, fmt.Errorf("bedrock provider disabled")
		}
		var awsCfg aws.Config
		awsCfg, err = loadAWSConfig(ctx, a.cfg.BedrockRegion)
		if err != nil {
			break
		}
		m, err = bedrock.New(
			bedrock.WithClient(bedrockruntime.NewFromConfig(awsCfg)),
			bedrock.WithModel(modelID),
		)

	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s model: %w", provider, err)
	}

	a.models[key] = m
	return m, nil
}

// StreamText runs one streaming generation over the given history. onDelta
// is invoked for every increment in arrival order; returning an error from
// it aborts the stream. The returned result carries the accumulated text.
func (a *Agent) StreamText(ctx context.Context, provider, modelID string, history []Exchange, onDelta func(Delta) error) (*Result, error) {
	m, err := a.model(ctx, provider, modelID)
	if err != nil {
		return nil, err
	}

	var messages []llms.MessageContent
	for _, ex := range history {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, ex.Prompt))
		if ex.Reply != "" {
			messages = append(messages, llms.TextParts(llms.ChatMessageTypeAI, ex.Reply))
		}
	}

	var res Result
	start := time.Now()
	resp, err := m.GenerateContent(ctx, messages,
		llms.WithStreamingReasoningFunc(func(_ context.Context, reasoningChunk, chunk []byte) error {
			if len(reasoningChunk) > 0 {
				res.Reasoning += string(reasoningChunk)
				if err := onDelta(Delta{Reasoning: string(reasoningChunk)}); err != nil {
					return err
				}
			}
			if len(chunk) > 0 {
				res.Text += string(chunk)
				if err := onDelta(Delta{Text: string(chunk)}); err != nil {
					return err
				}
			}
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}

	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		// Some providers do not stream; fall back to the final content.
		if res.Text == "" && choice.Content != "" {
			res.Text = choice.Content
			if err := onDelta(Delta{Text: choice.Content}); err != nil {
				return nil, err
			}
		}
		res.InputTokens = usageCount(choice.GenerationInfo, "PromptTokens")
		res.OutputTokens = usageCount(choice.GenerationInfo, "CompletionTokens")
	}

	if a.metrics != nil {
		a.metrics.RecordLLMUsage(metrics.OpLLMStream, time.Since(start), res.InputTokens, res.OutputTokens)
	}
	a.logger.Debug("stream complete",
		"provider", provider,
		"model", modelID,
		"chars", len(res.Text),
		"duration", time.Since(start))

	return &res, nil
}

func usageCount(info map[string]any, key string) int64 {
	switch v := info[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

func loadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}

// Package llm provides the Claude-backed worker capability, speaking
// either the direct Anthropic API or AWS Bedrock.
package llm

import (
	"context"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/hivecrew/hivecrew/internal/chat"
)

const defaultMaxTokens = 8192

// Config contains configuration for creating a Client.
type Config struct {
	// Model is the Claude model to use.
	Model string
	// APIKey is the Anthropic API key. If empty, uses the
	// ANTHROPIC_API_KEY env var.
	APIKey string
	// SystemPrompt is prepended to every conversation, typically the
	// worker persona.
	SystemPrompt string
	// MaxTokens bounds each completion.
	MaxTokens int
	// UseBedrock switches to AWS Bedrock instead of the direct API.
	UseBedrock bool
	// AWSRegion is the Bedrock region.
	AWSRegion string
	// AWSProfile is the optional shared-config profile name.
	AWSProfile string
}

// Client is a worker capability backed by the Anthropic SDK.
// It satisfies chat.Streamer.
type Client struct {
	inner     anthropic.Client
	model     anthropic.Model
	system    string
	maxTokens int
	tracker   *TokenTracker
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	var opts []option.RequestOption

	if cfg.UseBedrock {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(context.Background(), loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_5_20250929
	}
	if cfg.UseBedrock {
		model = translateModelForBedrock(model)
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &Client{
		inner:     anthropic.NewClient(opts...),
		model:     model,
		system:    cfg.SystemPrompt,
		maxTokens: maxTokens,
		tracker:   NewTokenTracker(),
	}, nil
}

// Usage returns the token tracker for this client.
func (c *Client) Usage() *TokenTracker {
	return c.tracker
}

// translateModelForBedrock converts standard Anthropic model names to
// Bedrock cross-region inference profile format: us.anthropic.{model}-v1:0.
func translateModelForBedrock(model anthropic.Model) anthropic.Model {
	bedrockModels := map[anthropic.Model]string{
		anthropic.ModelClaudeSonnet4_20250514:   "us.anthropic.claude-sonnet-4-20250514-v1:0",
		anthropic.ModelClaudeSonnet4_5_20250929: "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		anthropic.ModelClaudeHaiku4_5_20251001:  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
		anthropic.ModelClaudeOpus4_1_20250805:   "us.anthropic.claude-opus-4-1-20250805-v1:0",
		anthropic.ModelClaude3_7Sonnet20250219:  "us.anthropic.claude-3-7-sonnet-20250219-v1:0",
		anthropic.ModelClaude3_5Haiku20241022:   "us.anthropic.claude-3-5-haiku-20241022-v1:0",
	}
	if bedrockModel, ok := bedrockModels[model]; ok {
		return anthropic.Model(bedrockModel)
	}
	// Might already be Bedrock format or a custom model.
	return model
}

// Model returns the configured model name.
func (c *Client) Model() anthropic.Model {
	return c.model
}

// params builds the request, folding system-role turns into the system
// prompt since the Messages API carries them separately.
func (c *Client) params(messages []chat.Message) anthropic.MessageNewParams {
	system := c.system
	var turns []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case chat.RoleSystem:
			if system == "" {
				system = m.Content
			} else {
				system += "\n\n" + m.Content
			}
		case chat.RoleAssistant:
			turns = append(turns, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: int64(c.maxTokens),
		Messages:  turns,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	return params
}

// StreamChat produces the completion incrementally. Each text delta
// from the API becomes one chat.Delta; the channel closes when the
// stream ends.
func (c *Client) StreamChat(ctx context.Context, messages []chat.Message) (<-chan chat.Delta, error) {
	stream := c.inner.Messages.NewStreaming(ctx, c.params(messages))

	out := make(chan chat.Delta)
	go func() {
		defer close(out)

		for stream.Next() {
			event := stream.Current()
			switch eventVariant := event.AsAny().(type) {
			case anthropic.MessageStartEvent:
				c.tracker.Add(eventVariant.Message.Usage.InputTokens, 0)
			case anthropic.MessageDeltaEvent:
				c.tracker.Add(0, eventVariant.Usage.OutputTokens)
			case anthropic.ContentBlockDeltaEvent:
				switch deltaVariant := eventVariant.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if deltaVariant.Text == "" {
						continue
					}
					select {
					case out <- chat.Delta{Text: deltaVariant.Text}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			select {
			case out <- chat.Delta{Err: fmt.Errorf("streaming completion: %w", err)}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

// Chat blocks until the full completion is available.
func (c *Client) Chat(ctx context.Context, messages []chat.Message) (string, error) {
	resp, err := c.inner.Messages.New(ctx, c.params(messages))
	if err != nil {
		return "", fmt.Errorf("completion: %w", err)
	}
	c.tracker.Add(resp.Usage.InputTokens, resp.Usage.OutputTokens)

	var text string
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text += variant.Text
		}
	}
	return text, nil
}

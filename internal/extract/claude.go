package extract

import (
	"context"
	"fmt"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/oficio-pipeline/internal/model"
)

const defaultClaudeModel = "claude-haiku-4-5-20251001"

// ClaudeProvider analyzes oficio text through the Anthropic API.
type ClaudeProvider struct {
	client  sdk.Client
	model   string
	limiter *rate.Limiter
}

func NewClaude(apiKey, modelName string, timeout time.Duration, limiter *rate.Limiter) *ClaudeProvider {
	if modelName == "" {
		modelName = defaultClaudeModel
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	return &ClaudeProvider{
		client:  sdk.NewClient(opts...),
		model:   modelName,
		limiter: limiter,
	}
}

func (c *ClaudeProvider) Analyze(ctx context.Context, text string) (*model.OficioRecord, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "extract: rate limit wait")
		}
	}

	msg, err := c.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: 2000,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(fmt.Sprintf(analysisPrompt, text))),
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "extract: anthropic create message")
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, eris.New("extract: anthropic response has no text content")
	}

	return ParseRecord(sb.String(), text)
}

var _ Provider = (*ClaudeProvider)(nil)

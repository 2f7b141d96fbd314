package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/oficio-pipeline/internal/model"
	"github.com/sells-group/oficio-pipeline/internal/resilience"
)

const (
	mistralChatEndpoint = "https://api.mistral.ai/v1/chat/completions"
	defaultMistralModel = "mistral-large-latest"
)

// MistralProvider analyzes oficio text through the Mistral chat API.
type MistralProvider struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
}

func NewMistral(apiKey, model string, timeout time.Duration, limiter *rate.Limiter) *MistralProvider {
	if model == "" {
		model = defaultMistralModel
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &MistralProvider{
		apiKey:   apiKey,
		model:    model,
		endpoint: mistralChatEndpoint,
		client:   &http.Client{Timeout: timeout},
		limiter:  limiter,
	}
}

type mistralChatRequest struct {
	Model       string           `json:"model"`
	Messages    []mistralMessage `json:"messages"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"max_tokens"`
	TopP        float64          `json:"top_p"`
}

type mistralMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type mistralChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (m *MistralProvider) Analyze(ctx context.Context, text string) (*model.OficioRecord, error) {
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "extract: rate limit wait")
		}
	}

	reqBody := mistralChatRequest{
		Model:       m.model,
		Messages:    []mistralMessage{{Role: "user", Content: fmt.Sprintf(analysisPrompt, text)}},
		Temperature: 0.1,
		MaxTokens:   2000,
		TopP:        0.9,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, eris.Wrap(err, "extract: marshal mistral request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, eris.Wrap(err, "extract: create mistral request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, resilience.MarkTransient(eris.Wrap(err, "extract: mistral API call"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "extract: read mistral response")
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := eris.Errorf("extract: mistral API returned %d: %s", resp.StatusCode, string(respBody))
		if resilience.RetryableStatus(resp.StatusCode) {
			return nil, resilience.MarkTransient(apiErr, resp.StatusCode)
		}
		return nil, apiErr
	}

	var chatResp mistralChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, eris.Wrap(err, "extract: unmarshal mistral response")
	}
	if len(chatResp.Choices) == 0 {
		return nil, eris.New("extract: mistral response has no choices")
	}

	return ParseRecord(chatResp.Choices[0].Message.Content, text)
}

var _ Provider = (*MistralProvider)(nil)

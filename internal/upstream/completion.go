package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gospodapp/backend/internal/models"
)

const completionTimeout = 30 * time.Second

// Completer generates the assistant reply from an ordered message list.
type Completer interface {
	Complete(ctx context.Context, messages []models.Message) (string, error)
}

// OpenAICompleter calls the chat completions API. Replies are cleaned
// for the client's text-to-speech output before being returned.
type OpenAICompleter struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewOpenAICompleter(baseURL, apiKey string) *OpenAICompleter {
	return &OpenAICompleter{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      "gpt-4o-mini",
		httpClient: &http.Client{Timeout: completionTimeout},
	}
}

type completionRequest struct {
	Model       string           `json:"model"`
	Messages    []models.Message `json:"messages"`
	MaxTokens   int              `json:"max_tokens"`
	Temperature float64          `json:"temperature"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *OpenAICompleter) Complete(ctx context.Context, messages []models.Message) (string, error) {
	body, err := json.Marshal(completionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   500,
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("completion returned status %d", resp.StatusCode)
	}

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return "", errors.New("completion response has no content")
	}
	return CleanForTTS(out.Choices[0].Message.Content), nil
}

var (
	asteriskRe   = regexp.MustCompile(`\*+`)
	listNumberRe = regexp.MustCompile(`(?m)^\d+\.\s*`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// CleanForTTS strips markdown emphasis and list numbering and collapses
// whitespace, so the client can read the reply aloud verbatim.
func CleanForTTS(text string) string {
	text = asteriskRe.ReplaceAllString(text, "")
	text = listNumberRe.ReplaceAllString(text, "")
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

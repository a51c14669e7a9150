// Package generation produces the agent's outbound content: reply and
// topical post text through an OpenAI-compatible chat API, and images
// through a prompt-to-image HTTP service.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/openai/openai-go"
)

// DefaultBaseURL is the default OpenAI API base URL.
const DefaultBaseURL = "https://api.openai.com/v1"

// maxPostLength is the hard character limit of the target surface.
const maxPostLength = 280

// TextGenerator calls an OpenAI-compatible chat completions API.
//
// The request body is built from openai-go message params but sent over raw
// HTTP, which keeps compatibility with local and proxy deployments that are
// loose about response framing.
type TextGenerator struct {
	httpClient  *http.Client
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	brandVoice  string
}

// Option configures a TextGenerator.
type Option func(*TextGenerator)

// WithModel sets the model to use for completions.
func WithModel(model string) Option {
	return func(g *TextGenerator) {
		if model != "" {
			g.model = model
		}
	}
}

// WithBaseURL sets a custom base URL for OpenAI-compatible APIs.
func WithBaseURL(baseURL string) Option {
	return func(g *TextGenerator) {
		if baseURL != "" {
			g.baseURL = strings.TrimSuffix(baseURL, "/")
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(g *TextGenerator) {
		if t > 0 {
			g.temperature = t
		}
	}
}

// WithBrandVoice sets the persona description injected into every system
// prompt.
func WithBrandVoice(voice string) Option {
	return func(g *TextGenerator) {
		g.brandVoice = voice
	}
}

// WithHTTPClient overrides the HTTP client, mostly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(g *TextGenerator) {
		if c != nil {
			g.httpClient = c
		}
	}
}

// NewTextGenerator creates a generator with the given API key.
func NewTextGenerator(apiKey string, opts ...Option) (*TextGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	g := &TextGenerator{
		httpClient:  &http.Client{},
		apiKey:      apiKey,
		baseURL:     DefaultBaseURL,
		model:       "gpt-4o",
		temperature: 0.7,
		brandVoice:  "a helpful, friendly technology enthusiast",
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// GenerateReply produces a reply to a mention. The author's handle is given
// to the model for addressing but the reply is never required to include it.
func (g *TextGenerator) GenerateReply(ctx context.Context, originalText, author string) (string, error) {
	system := fmt.Sprintf(
		"You are %s replying to posts on a social platform. "+
			"Write a single reply under %d characters. Be specific to the post, "+
			"conversational, and never use hashtags or emoji padding. "+
			"Return only the reply text.",
		g.brandVoice, maxPostLength)
	user := fmt.Sprintf("Reply to this post from @%s:\n\n%s", author, originalText)

	text, err := g.complete(ctx, system, user)
	if err != nil {
		return "", &Error{Op: "generate reply", Err: err}
	}
	return text, nil
}

// GenerateTweet produces a standalone post about a topic.
func (g *TextGenerator) GenerateTweet(ctx context.Context, topic string) (string, error) {
	system := fmt.Sprintf(
		"You are %s posting on a social platform. "+
			"Write a single engaging post under %d characters about the given topic. "+
			"No hashtag spam, at most one hashtag. Return only the post text.",
		g.brandVoice, maxPostLength)

	text, err := g.complete(ctx, system, "Topic: "+topic)
	if err != nil {
		return "", &Error{Op: "generate post", Err: err}
	}
	return text, nil
}

func (g *TextGenerator) complete(ctx context.Context, system, user string) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(system),
		openai.UserMessage(user),
	}

	reqBody := map[string]any{
		"model":       g.model,
		"messages":    messages,
		"temperature": g.temperature,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", ErrEmptyContent
	}

	text := clean(out.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyContent
	}
	return text, nil
}

// clean normalizes model output for posting: trims whitespace, strips a
// wrapping quote pair models love to add, and enforces the length limit.
func clean(text string) string {
	text = strings.TrimSpace(text)
	if len(text) >= 2 && strings.HasPrefix(text, `"`) && strings.HasSuffix(text, `"`) {
		text = strings.TrimSpace(text[1 : len(text)-1])
	}
	if utf8.RuneCountInString(text) <= maxPostLength {
		return text
	}

	runes := []rune(text)[:maxPostLength-3]
	// Cut back to a word boundary when one is near the limit.
	for i := len(runes) - 1; i >= maxPostLength-40; i-- {
		if runes[i] == ' ' {
			runes = runes[:i]
			break
		}
	}
	return string(runes) + "..."
}

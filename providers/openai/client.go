package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/addhe/telegram-bot/llm"
)

// Config holds the completion provider configuration.
type Config struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
}

// Client implements llm.Client on top of the OpenAI chat completions API.
type Client struct {
	api            *goopenai.Client
	requestTimeout time.Duration
}

func New(cfg Config) *Client {
	clientConfig := goopenai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientConfig.BaseURL = strings.TrimRight(base, "/")
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &Client{
		api:            goopenai.NewClientWithConfig(clientConfig),
		requestTimeout: timeout,
	}
}

func (c *Client) Chat(ctx context.Context, req llm.Request) (llm.Result, error) {
	start := time.Now()

	messages := make([]goopenai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(reqCtx, goopenai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		return llm.Result{}, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return llm.Result{}, fmt.Errorf("openai chat completion: empty choices")
	}

	return llm.Result{
		Text: strings.TrimSpace(resp.Choices[0].Message.Content),
		Usage: llm.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
		Duration: time.Since(start),
	}, nil
}

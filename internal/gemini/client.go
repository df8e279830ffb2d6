// Package gemini implements the completion backend adapter over Google's
// Gemini API. The backend is treated as opaque: one composed prompt in,
// generated text out.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"

	"github.com/contextchat/contextchat/internal/chat"
	"github.com/contextchat/contextchat/internal/config"
)

// Client wraps a long-lived genai client. It is constructed once at
// startup and injected where needed; there is no package-level instance.
type Client struct {
	genaiClient *genai.Client
	log         *slog.Logger
	modelName   string
	maxRetries  int
	retryDelay  time.Duration
	timeout     time.Duration
}

// NewClient creates a new Gemini client with the provided configuration.
// It fails when no API key is configured, so a missing credential is
// reported before any exchange is attempted.
func NewClient(ctx context.Context, cfg config.GeminiConfig, log *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key is required", chat.ErrMissingCredential)
	}
	if log == nil {
		log = slog.Default()
	}

	gi, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	logger := log.With("component", "gemini_client")
	logger.Info("Gemini client initialized successfully", "model", cfg.Model)
	return &Client{
		genaiClient: gi,
		log:         logger,
		modelName:   cfg.Model,
		maxRetries:  cfg.MaxRetries,
		retryDelay:  cfg.RetryDelay,
		timeout:     cfg.RequestTimeout,
	}, nil
}

// Complete sends the composed prompt to Gemini and returns the generated
// text. The full assembled prompt travels as a single user-role content
// block; the request temperature comes from the composed request.
func (c *Client) Complete(ctx context.Context, request chat.PromptRequest) (string, error) {
	if request.Text == "" {
		return "", fmt.Errorf("prompt text cannot be empty")
	}

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	temperature := request.Temperature
	contents := []*genai.Content{genai.NewContentFromText(request.Text, genai.RoleUser)}
	cfg := &genai.GenerateContentConfig{Temperature: &temperature}

	resp, err := c.generateContentWithRetries(callCtx, contents, cfg)
	if err != nil {
		c.log.ErrorContext(ctx, "Gemini completion failed", "error", err)
		return "", err
	}

	return c.extractTextFromResponse(ctx, resp)
}

// generateContentWithRetries retries the API call on retriable HTTP codes
// (500/503) up to maxRetries times with a fixed delay.
func (c *Client) generateContentWithRetries(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	var resp *genai.GenerateContentResponse
	var err error

	for i := 0; i <= c.maxRetries; i++ {
		resp, err = c.genaiClient.Models.GenerateContent(ctx, c.modelName, contents, cfg)
		if err == nil {
			return resp, nil
		}

		c.log.WarnContext(ctx, "Gemini API call failed, checking for retry",
			"attempt", i+1, "max_retries", c.maxRetries, "error", err)

		var apiErr *genai.APIError
		if errors.As(err, &apiErr) && (apiErr.Code == 500 || apiErr.Code == 503) {
			if i < c.maxRetries {
				c.log.InfoContext(ctx, "Retrying Gemini API call due to retriable APIError",
					"delay", c.retryDelay, "code", apiErr.Code)
				select {
				case <-time.After(c.retryDelay):
					continue
				case <-ctx.Done():
					return nil, fmt.Errorf("gemini API call cancelled during retry wait: %w", ctx.Err())
				}
			}
			c.log.ErrorContext(ctx, "Gemini API call failed after max retries with APIError",
				"error", err, "code", apiErr.Code)
			return nil, fmt.Errorf("gemini API call failed after %d retries (APIError code %d): %w", c.maxRetries, apiErr.Code, err)
		}

		c.log.ErrorContext(ctx, "Gemini API call failed with non-retriable error", "error", err)
		return nil, fmt.Errorf("gemini API call failed: %w", err)
	}

	return nil, err
}

func (c *Client) extractTextFromResponse(ctx context.Context, resp *genai.GenerateContentResponse) (string, error) {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockedReasonUnspecified {
		reasonMsg := fmt.Sprintf("%v", resp.PromptFeedback.BlockReason)
		if resp.PromptFeedback.BlockReasonMessage != "" {
			reasonMsg = resp.PromptFeedback.BlockReasonMessage
		}
		c.log.ErrorContext(ctx, "Gemini request blocked", "reason", reasonMsg)
		return "", fmt.Errorf("completion blocked by safety filter: %s", reasonMsg)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		finishReason := "unknown"
		if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != genai.FinishReasonUnspecified {
			finishReason = fmt.Sprintf("%v", resp.Candidates[0].FinishReason)
		}
		c.log.WarnContext(ctx, "Gemini response missing candidates or content", "finish_reason", finishReason)
		return "", fmt.Errorf("completion returned no content, finish reason: %s", finishReason)
	}

	text := resp.Text()
	if text == "" {
		c.log.WarnContext(ctx, "Gemini response text is empty")
		return "", fmt.Errorf("completion returned empty text")
	}

	return text, nil
}

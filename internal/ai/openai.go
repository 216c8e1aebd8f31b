package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rendis/autoflow/internal/logging"
	"github.com/rendis/autoflow/internal/secrets"
	"github.com/rendis/autoflow/pkg/schema"
)

const (
	chatCompletionsPath = "/chat/completions"
	defaultHTTPTimeout  = 60 * time.Second
	defaultTemperature  = 0.2
	defaultMaxTokens    = 1024
)

// OpenAIConfig describes one OpenAI-compatible endpoint (OpenAI, Ollama,
// vLLM and similar all accept the same chat completions body).
type OpenAIConfig struct {
	Name    string `mapstructure:"name"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
	// NoAuth skips the API key lookup, for local servers.
	NoAuth bool `mapstructure:"no_auth"`
}

// OpenAIProvider calls the chat completions endpoint. The API key is
// resolved from the vault on every call so rotation needs no restart.
type OpenAIProvider struct {
	cfg    OpenAIConfig
	vault  secrets.Vault
	client *http.Client
	logger *slog.Logger
}

// NewOpenAIProvider creates a provider. client may be nil.
func NewOpenAIProvider(cfg OpenAIConfig, vault secrets.Vault, client *http.Client, logger *slog.Logger) *OpenAIProvider {
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &OpenAIProvider{cfg: cfg, vault: vault, client: client, logger: logging.Or(logger)}
}

func (p *OpenAIProvider) Name() string { return p.cfg.Name }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Analyze sends the prompt and input as one chat exchange.
func (p *OpenAIProvider) Analyze(ctx context.Context, req AnalysisRequest) (any, error) {
	var apiKey string
	if !p.cfg.NoAuth {
		key, err := p.resolveKey(ctx)
		if err != nil {
			return nil, err
		}
		apiKey = key
	}

	body, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := p.cfg.BaseURL + chatCompletionsPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExternalService,
			"%s request failed: %s", p.cfg.Name, err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	logging.LogWith(ctx, p.logger).Debug("ai provider response",
		"provider", p.cfg.Name,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	var parsed chatResponse
	_ = json.Unmarshal(respBody, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(respBody))
		if parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		return nil, schema.NewErrorf(schema.ErrCodeExternalService,
			"%s API error (status %d): %s", p.cfg.Name, resp.StatusCode, msg).
			WithDetails(map[string]any{"status": resp.StatusCode})
	}

	if len(parsed.Choices) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeExternalService, "%s returned no choices", p.cfg.Name)
	}

	return decodeContent(parsed.Choices[0].Message.Content), nil
}

func (p *OpenAIProvider) resolveKey(ctx context.Context) (string, error) {
	if p.vault == nil {
		return "", schema.NewErrorf(schema.ErrCodeVault, "no credentials configured for ai provider %q", p.cfg.Name)
	}
	key, err := p.vault.Resolve(ctx, secrets.ProviderKey(p.cfg.Name))
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeVault,
			"no credentials configured for ai provider %q", p.cfg.Name).WithCause(err)
	}
	return strings.TrimSpace(string(key)), nil
}

func (p *OpenAIProvider) buildRequest(req AnalysisRequest) chatRequest {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	system := "You are an analysis assistant. Reply with JSON when the answer is structured."
	if req.AnalysisType != "" {
		system = fmt.Sprintf("You are an analysis assistant performing %s analysis. "+
			"Reply with JSON when the answer is structured.", req.AnalysisType)
	}

	user := req.Prompt
	if req.Input != nil {
		var input string
		if s, ok := req.Input.(string); ok {
			input = s
		} else if b, err := json.Marshal(req.Input); err == nil {
			input = string(b)
		} else {
			input = fmt.Sprint(req.Input)
		}
		if user != "" {
			user += "\n\n"
		}
		user += "Input:\n" + input
	}

	return chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
}

// decodeContent returns the reply as JSON if it parses, else the text.
// Fenced ```json blocks are unwrapped first.
func decodeContent(content string) any {
	text := strings.TrimSpace(content)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}
	var v any
	if err := json.Unmarshal([]byte(text), &v); err == nil {
		switch v.(type) {
		case map[string]any, []any:
			return v
		}
	}
	return content
}

var _ Provider = (*OpenAIProvider)(nil)

package steps

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rendis/autoflow/internal/expressions"
	"github.com/rendis/autoflow/pkg/schema"
)

// HTTPConfig configures the HTTP_REQUEST handler.
type HTTPConfig struct {
	MaxResponseBody int64
	DefaultTimeout  time.Duration
	// Client overrides the transport, mainly for tests.
	Client *http.Client
}

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
)

func (c HTTPConfig) withDefaults() HTTPConfig {
	if c.MaxResponseBody <= 0 {
		c.MaxResponseBody = defaultMaxResponseBody
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = defaultHTTPTimeout
	}
	if c.Client == nil {
		c.Client = &http.Client{}
	}
	return c
}

const httpRequestSchema = `{
  "type": "object",
  "properties": {
    "url": {"type": "string"},
    "method": {"type": "string"},
    "headers": {"type": "object"},
    "body": {},
    "timeout": {"type": ["number", "string"]}
  },
  "required": ["url"]
}`

// HTTPRequestHandler implements HTTP_REQUEST.
type HTTPRequestHandler struct {
	cfg HTTPConfig
}

// NewHTTPRequestHandler creates an HTTP_REQUEST handler.
func NewHTTPRequestHandler(cfg HTTPConfig) *HTTPRequestHandler {
	return &HTTPRequestHandler{cfg: cfg.withDefaults()}
}

func (h *HTTPRequestHandler) Type() schema.StepType { return schema.StepHTTPRequest }

func (h *HTTPRequestHandler) Schema() HandlerSchema {
	return HandlerSchema{
		Description:  "Send an HTTP request; 2xx responses succeed.",
		ConfigSchema: json.RawMessage(httpRequestSchema),
	}
}

func (h *HTTPRequestHandler) Execute(ctx context.Context, cfg map[string]any, data *schema.ExecutionData) schema.StepResult {
	scope := data.Scope()

	rawURL := resolvedString(cfg, "url", scope)
	if rawURL == "" {
		return schema.Failed("HTTP request requires a url")
	}
	if u, err := url.ParseRequestURI(rawURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return schema.Failed(fmt.Sprintf("invalid url %q", rawURL))
	}

	method := strings.ToUpper(resolvedString(cfg, "method", scope))
	if method == "" {
		method = http.MethodGet
	}

	headers := map[string]string{}
	if hm, ok := expressions.ResolveValue(cfg["headers"], scope).(map[string]any); ok {
		for k, v := range hm {
			headers[k] = expressions.Stringify(v)
		}
	}

	body, isJSON, err := encodeBody(expressions.ResolveValue(cfg["body"], scope))
	if err != nil {
		return fail(err)
	}
	if isJSON && !hasHeader(headers, "Content-Type") {
		headers["Content-Type"] = "application/json"
	}

	timeout := durationParam(cfg, "timeout", h.cfg.DefaultTimeout)
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, bodyReader)
	if err != nil {
		return schema.Failed("failed to create HTTP request: " + err.Error())
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := h.cfg.Client.Do(req)
	if err != nil {
		return schema.Failed(fmt.Sprintf("HTTP request to %s failed: %s", rawURL, err.Error()))
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, h.cfg.MaxResponseBody))
	if err != nil {
		return schema.Failed("failed to read HTTP response body: " + err.Error())
	}

	respHeaders := make(map[string]any, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	output := map[string]any{
		"status":     resp.StatusCode,
		"statusText": http.StatusText(resp.StatusCode),
		"headers":    respHeaders,
		"body":       decodeBody(respBytes, resp.Header.Get("Content-Type")),
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return schema.StepResult{
			Success: false,
			Error:   fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
			Output:  output,
		}
	}
	return schema.Succeeded(fmt.Sprintf("HTTP %s %s returned %d", method, rawURL, resp.StatusCode), output)
}

// encodeBody turns the resolved body into bytes. Strings that parse as JSON
// objects or arrays are sent as JSON; other strings go out raw. Non-string
// values are JSON-encoded.
func encodeBody(v any) ([]byte, bool, error) {
	switch b := v.(type) {
	case nil:
		return nil, false, nil
	case string:
		var parsed any
		if err := json.Unmarshal([]byte(b), &parsed); err == nil {
			switch parsed.(type) {
			case map[string]any, []any:
				return []byte(b), true, nil
			}
		}
		return []byte(b), false, nil
	default:
		encoded, err := json.Marshal(b)
		if err != nil {
			return nil, false, schema.NewErrorf(schema.ErrCodeValidation,
				"failed to encode request body as JSON: %s", err.Error()).WithCause(err)
		}
		return encoded, true, nil
	}
}

// decodeBody parses JSON responses and returns everything else as text.
func decodeBody(b []byte, contentType string) any {
	if len(b) == 0 {
		return ""
	}
	if strings.Contains(contentType, "json") {
		var parsed any
		if err := json.Unmarshal(b, &parsed); err == nil {
			return parsed
		}
	}
	return string(b)
}

func hasHeader(headers map[string]string, name string) bool {
	for k := range headers {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}

package providers

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
)

const defaultHTTPTimeout = 300 * time.Second

// Message is one prompt message on the wire.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single chat-completion call. Base URL, model and
// temperature are resolved per call because characters may override
// the global connection settings.
type Request struct {
	BaseURL     string
	APIKey      string
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Completion is the normalized response.
type Completion struct {
	// HasChoices reports whether the response carried a choices array;
	// Choices then holds one text per choice, in order (possibly empty
	// strings for choices without text).
	HasChoices bool
	Choices    []string
	// Content is the fallback-extracted text for responses without the
	// standard choices shape ({content}, {result}, or a truncated dump
	// of the raw payload).
	Content string
	// Truncated is true when any choice's finish_reason signals a
	// length cutoff.
	Truncated bool
}

// TransportError is a non-2xx response or a network-level failure.
// It is surfaced inline in the conversation, never thrown further.
type TransportError struct {
	Status  int
	Message string
}

func (e *TransportError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
	}
	return e.Message
}

// MalformedError is a 2xx response whose body is not valid JSON. The
// raw payload is preserved for manual recovery.
type MalformedError struct {
	Raw string
}

func (e *MalformedError) Error() string {
	return "unparseable completion response"
}

// Client talks to an OpenAI-compatible chat-completions endpoint.
type Client struct {
	httpClient *http.Client
}

// NewClient builds a client, optionally routed through a proxy.
func NewClient(proxy string) (*Client, error) {
	httpClient := &http.Client{Timeout: defaultHTTPTimeout}
	proxy = strings.TrimSpace(proxy)
	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy: %w", err)
		}
		httpClient.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	}
	return &Client{httpClient: httpClient}, nil
}

// Chat issues one completion request. stream is always false; the app
// consumes whole replies and splits them into bubbles itself.
func (c *Client) Chat(ctx context.Context, req Request) (*Completion, error) {
	base := strings.TrimRight(strings.TrimSpace(req.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("completion API base not configured")
	}

	// temperature goes out unconditionally: zero is a valid
	// per-character override, not an unset marker.
	body := map[string]interface{}{
		"model":       req.Model,
		"messages":    req.Messages,
		"stream":      false,
		"temperature": req.Temperature,
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Message: fmt.Sprintf("read response: %v", err)}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &TransportError{Status: resp.StatusCode, Message: extractAPIError(raw)}
	}

	return parseCompletion(raw)
}

func parseCompletion(raw []byte) (*Completion, error) {
	var payload struct {
		Choices []struct {
			Message struct {
				Content interface{} `json:"content"`
			} `json:"message"`
			Text         string `json:"text"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Content string `json:"content"`
		Result  string `json:"result"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &MalformedError{Raw: truncateRaw(string(raw))}
	}

	out := &Completion{}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err == nil {
		if choicesRaw, ok := probe["choices"]; ok && strings.HasPrefix(strings.TrimSpace(string(choicesRaw)), "[") {
			out.HasChoices = true
		}
	}

	if out.HasChoices {
		out.Choices = make([]string, 0, len(payload.Choices))
		for _, ch := range payload.Choices {
			text := flattenContent(ch.Message.Content)
			if text == "" {
				text = ch.Text
			}
			out.Choices = append(out.Choices, text)
			if ch.FinishReason == "length" || ch.FinishReason == "max_tokens" {
				out.Truncated = true
			}
		}
		return out, nil
	}

	switch {
	case strings.TrimSpace(payload.Content) != "":
		out.Content = payload.Content
	case strings.TrimSpace(payload.Result) != "":
		out.Content = payload.Result
	default:
		out.Content = truncateRaw(string(raw))
	}
	return out, nil
}

// flattenContent joins the string or multi-part content shapes some
// backends return.
func flattenContent(raw interface{}) string {
	switch v := raw.(type) {
	case string:
		return v
	case []interface{}:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			if text, ok := m["text"].(string); ok {
				parts = append(parts, text)
				continue
			}
			if content, ok := m["content"].(string); ok {
				parts = append(parts, content)
			}
		}
		return strings.Join(parts, "")
	default:
		return ""
	}
}

func truncateRaw(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 400 {
		return s[:400] + "..."
	}
	return s
}

// extractAPIError mines a human-readable message out of an error body.
func extractAPIError(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "empty response body"
	}

	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if msg := strings.TrimSpace(payload.Error.Message); msg != "" {
			return msg
		}
		if msg := strings.TrimSpace(payload.Message); msg != "" {
			return msg
		}
	}

	if len(trimmed) > 2000 {
		return trimmed[:2000] + "..."
	}
	return trimmed
}

// ListModels fetches the model ids offered by the endpoint.
func (c *Client) ListModels(ctx context.Context, baseURL, apiKey string) ([]string, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("completion API base not configured")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("create models request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Message: fmt.Sprintf("read response: %v", err)}
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &TransportError{Status: resp.StatusCode, Message: extractAPIError(raw)}
	}

	var payload struct {
		Data []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &MalformedError{Raw: truncateRaw(string(raw))}
	}

	models := make([]string, 0, len(payload.Data))
	for _, m := range payload.Data {
		id := strings.TrimSpace(m.ID)
		if id == "" {
			id = strings.TrimSpace(m.Name)
		}
		if id != "" {
			models = append(models, id)
		}
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("no models found in listing response")
	}
	return models, nil
}

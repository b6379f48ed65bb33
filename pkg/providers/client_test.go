package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient("")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func serve(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func chatReq(base string) Request {
	return Request{
		BaseURL:  base,
		APIKey:   "test-key",
		Model:    "gpt-4.1-mini",
		Messages: []Message{{Role: "user", Content: "在吗"}},
	}
}

func TestChatStandardChoicesShape(t *testing.T) {
	srv := serve(t, http.StatusOK, `{"choices":[{"message":{"content":"你好呀"},"finish_reason":"stop"}]}`)
	comp, err := newTestClient(t).Chat(context.Background(), chatReq(srv.URL))
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if !comp.HasChoices || len(comp.Choices) != 1 || comp.Choices[0] != "你好呀" {
		t.Errorf("completion = %+v", comp)
	}
	if comp.Truncated {
		t.Error("stop finish reason marked truncated")
	}
}

func TestChatRequestWireFormat(t *testing.T) {
	var got map[string]interface{}
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"choices":[{"message":{"content":"好"}}]}`))
	}))
	defer srv.Close()

	req := chatReq(srv.URL + "/") // trailing slash must not double up
	req.MaxTokens = 2048
	req.Temperature = 0.7
	if _, err := newTestClient(t).Chat(context.Background(), req); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if auth != "Bearer test-key" {
		t.Errorf("Authorization = %q", auth)
	}
	if got["model"] != "gpt-4.1-mini" {
		t.Errorf("model = %v", got["model"])
	}
	if got["stream"] != false {
		t.Errorf("stream = %v", got["stream"])
	}
	if got["max_tokens"] != float64(2048) {
		t.Errorf("max_tokens = %v", got["max_tokens"])
	}
	if got["temperature"] != 0.7 {
		t.Errorf("temperature = %v", got["temperature"])
	}
}

func TestChatZeroTemperatureStaysOnWire(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"choices":[{"message":{"content":"好"}}]}`))
	}))
	defer srv.Close()

	req := chatReq(srv.URL)
	req.Temperature = 0
	if _, err := newTestClient(t).Chat(context.Background(), req); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	// Zero is a deliberate sampling choice, not an unset marker.
	v, ok := got["temperature"]
	if !ok {
		t.Fatal("temperature dropped from the request body")
	}
	if v != float64(0) {
		t.Errorf("temperature = %v", v)
	}
}

func TestChatLegacyTextField(t *testing.T) {
	srv := serve(t, http.StatusOK, `{"choices":[{"text":"旧式返回"}]}`)
	comp, err := newTestClient(t).Chat(context.Background(), chatReq(srv.URL))
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if !comp.HasChoices || comp.Choices[0] != "旧式返回" {
		t.Errorf("completion = %+v", comp)
	}
}

func TestChatMultiPartContent(t *testing.T) {
	srv := serve(t, http.StatusOK, `{"choices":[{"message":{"content":[{"type":"text","text":"上半"},{"type":"text","text":"下半"}]}}]}`)
	comp, err := newTestClient(t).Chat(context.Background(), chatReq(srv.URL))
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if comp.Choices[0] != "上半下半" {
		t.Errorf("joined content = %q", comp.Choices[0])
	}
}

func TestChatEmptyChoicesArrayStaysChoicesShaped(t *testing.T) {
	srv := serve(t, http.StatusOK, `{"choices":[]}`)
	comp, err := newTestClient(t).Chat(context.Background(), chatReq(srv.URL))
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if !comp.HasChoices || len(comp.Choices) != 0 {
		t.Errorf("completion = %+v", comp)
	}
}

func TestChatContentFallback(t *testing.T) {
	srv := serve(t, http.StatusOK, `{"content":"非标准内容"}`)
	comp, err := newTestClient(t).Chat(context.Background(), chatReq(srv.URL))
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if comp.HasChoices || comp.Content != "非标准内容" {
		t.Errorf("completion = %+v", comp)
	}
}

func TestChatResultFallback(t *testing.T) {
	srv := serve(t, http.StatusOK, `{"result":"另一种返回"}`)
	comp, err := newTestClient(t).Chat(context.Background(), chatReq(srv.URL))
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if comp.Content != "另一种返回" {
		t.Errorf("completion = %+v", comp)
	}
}

func TestChatUnknownShapeDumpsTruncatedRaw(t *testing.T) {
	long := strings.Repeat("x", 500)
	srv := serve(t, http.StatusOK, `{"something":"`+long+`"}`)
	comp, err := newTestClient(t).Chat(context.Background(), chatReq(srv.URL))
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if !strings.HasSuffix(comp.Content, "...") {
		t.Errorf("raw dump not truncated: %d bytes", len(comp.Content))
	}
	if len(comp.Content) != 400+len("...") {
		t.Errorf("raw dump length = %d", len(comp.Content))
	}
}

func TestChatTruncationFlag(t *testing.T) {
	for _, reason := range []string{"length", "max_tokens"} {
		srv := serve(t, http.StatusOK, `{"choices":[{"message":{"content":"一半"},"finish_reason":"`+reason+`"}]}`)
		comp, err := newTestClient(t).Chat(context.Background(), chatReq(srv.URL))
		if err != nil {
			t.Fatalf("Chat(%s): %v", reason, err)
		}
		if !comp.Truncated {
			t.Errorf("finish_reason %q not flagged as truncated", reason)
		}
	}
}

func TestChatHTTPErrorExtractsMessage(t *testing.T) {
	srv := serve(t, http.StatusUnauthorized, `{"error":{"message":"Incorrect API key provided"}}`)
	_, err := newTestClient(t).Chat(context.Background(), chatReq(srv.URL))

	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if te.Status != http.StatusUnauthorized {
		t.Errorf("status = %d", te.Status)
	}
	if !strings.Contains(te.Message, "Incorrect API key") {
		t.Errorf("message = %q", te.Message)
	}
}

func TestChatHTTPErrorFallsBackToBody(t *testing.T) {
	srv := serve(t, http.StatusBadGateway, "upstream exploded")
	_, err := newTestClient(t).Chat(context.Background(), chatReq(srv.URL))

	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if te.Message != "upstream exploded" {
		t.Errorf("message = %q", te.Message)
	}
}

func TestChatMalformedJSON(t *testing.T) {
	srv := serve(t, http.StatusOK, "<html>definitely not json</html>")
	_, err := newTestClient(t).Chat(context.Background(), chatReq(srv.URL))

	var me *MalformedError
	if !errors.As(err, &me) {
		t.Fatalf("expected MalformedError, got %v", err)
	}
	if !strings.Contains(me.Raw, "not json") {
		t.Errorf("raw = %q", me.Raw)
	}
}

func TestChatNetworkFailure(t *testing.T) {
	srv := serve(t, http.StatusOK, "{}")
	srv.Close()

	_, err := newTestClient(t).Chat(context.Background(), chatReq(srv.URL))
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if te.Status != 0 {
		t.Errorf("network failure carries status %d", te.Status)
	}
}

func TestChatMissingBaseURL(t *testing.T) {
	_, err := newTestClient(t).Chat(context.Background(), chatReq("  "))
	if err == nil {
		t.Fatal("empty base URL accepted")
	}
}

func TestListModels(t *testing.T) {
	srv := serve(t, http.StatusOK, `{"data":[{"id":"gpt-4.1-mini"},{"name":"named-only"},{"id":"  "}]}`)
	models, err := newTestClient(t).ListModels(context.Background(), srv.URL, "test-key")
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	want := []string{"gpt-4.1-mini", "named-only"}
	if len(models) != len(want) {
		t.Fatalf("models = %v", models)
	}
	for i := range want {
		if models[i] != want[i] {
			t.Errorf("model %d = %q, want %q", i, models[i], want[i])
		}
	}
}

func TestListModelsEmptyListing(t *testing.T) {
	srv := serve(t, http.StatusOK, `{"data":[]}`)
	if _, err := newTestClient(t).ListModels(context.Background(), srv.URL, "test-key"); err == nil {
		t.Fatal("empty model listing accepted")
	}
}

func TestNewClientRejectsBadProxy(t *testing.T) {
	if _, err := NewClient("://not-a-url"); err == nil {
		t.Fatal("invalid proxy accepted")
	}
}

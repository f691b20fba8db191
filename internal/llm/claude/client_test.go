package claude

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/erpath/internal/llm"
)

func TestToSDKMessages_TextBlock(t *testing.T) {
	t.Parallel()

	result := toSDKMessages([]llm.Message{llm.UserText("hello")})

	if len(result) != 1 {
		t.Fatalf("len = %d, want 1", len(result))
	}
	if result[0].Role != anthropic.MessageParamRoleUser {
		t.Errorf("role = %q, want %q", result[0].Role, "user")
	}
	if len(result[0].Content) != 1 {
		t.Fatalf("content len = %d, want 1", len(result[0].Content))
	}
	if result[0].Content[0].OfText == nil {
		t.Fatal("expected OfText to be set")
	}
	if result[0].Content[0].OfText.Text != "hello" {
		t.Errorf("text = %q, want %q", result[0].Content[0].OfText.Text, "hello")
	}
}

func TestToSDKMessages_RolesAndNonText(t *testing.T) {
	t.Parallel()

	msgs := []llm.Message{
		{Role: "assistant", Content: []llm.ContentBlock{{Type: "text", Text: "ok"}, {Type: "image"}}},
		{Role: "", Content: []llm.ContentBlock{{Type: "text", Text: "again"}}},
	}

	result := toSDKMessages(msgs)

	if result[0].Role != anthropic.MessageParamRoleAssistant {
		t.Errorf("role = %q, want assistant", result[0].Role)
	}
	if len(result[0].Content) != 1 {
		t.Errorf("non-text block was not dropped: %d blocks", len(result[0].Content))
	}
	if result[1].Role != anthropic.MessageParamRoleUser {
		t.Errorf("empty role = %q, want user", result[1].Role)
	}
}

func TestFromSDKResponse_TextContent(t *testing.T) {
	t.Parallel()

	msg := &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: `{"triageLevel":"LEVEL_III"}`},
			{Type: "tool_use", ID: "tu-1", Name: "ignored"},
		},
		Model:      anthropic.Model("claude-test"),
		StopReason: anthropic.StopReasonEndTurn,
		Usage:      anthropic.Usage{InputTokens: 100, OutputTokens: 50},
	}

	result := fromSDKResponse(msg)

	if len(result.Content) != 1 {
		t.Fatalf("content len = %d, want 1", len(result.Content))
	}
	if result.Text() != `{"triageLevel":"LEVEL_III"}` {
		t.Errorf("text = %q", result.Text())
	}
	if result.Model != "claude-test" {
		t.Errorf("model = %q", result.Model)
	}
}

func TestFromSDKResponse_StopReasons(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		sdk      anthropic.StopReason
		expected llm.StopReason
	}{
		{"end_turn", anthropic.StopReasonEndTurn, llm.StopEnd},
		{"max_tokens", anthropic.StopReasonMaxTokens, llm.StopMaxTokens},
		{"unknown", anthropic.StopReason("refusal"), llm.StopReason("refusal")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result := fromSDKResponse(&anthropic.Message{StopReason: tt.sdk})
			if result.StopReason != tt.expected {
				t.Errorf("stop reason = %q, want %q", result.StopReason, tt.expected)
			}
		})
	}
}

func TestFromSDKResponse_Usage(t *testing.T) {
	t.Parallel()

	msg := &anthropic.Message{
		StopReason: anthropic.StopReasonEndTurn,
		Usage:      anthropic.Usage{InputTokens: 1234, OutputTokens: 567},
	}

	result := fromSDKResponse(msg)

	if result.Usage.InputTokens != 1234 {
		t.Errorf("input tokens = %d, want 1234", result.Usage.InputTokens)
	}
	if result.Usage.OutputTokens != 567 {
		t.Errorf("output tokens = %d, want 567", result.Usage.OutputTokens)
	}
}

func TestSend_AgainstTestServer(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "test-key" {
			t.Errorf("api key header = %q", r.Header.Get("X-Api-Key"))
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
			"content": [{"type": "text", "text": "{\"pathway\":[]}"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 12, "output_tokens": 7}
		}`))
	}))
	defer srv.Close()

	c := New("test-key", "claude-test", option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	resp, err := c.Send(context.Background(), &llm.Request{
		MaxTokens: 300,
		System:    "be brief",
		Messages:  []llm.Message{llm.UserText("hi")},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.Text() != `{"pathway":[]}` || resp.Usage.OutputTokens != 7 {
		t.Errorf("resp = %+v", resp)
	}
	if got["model"] != "claude-test" || got["max_tokens"] != float64(300) {
		t.Errorf("request body = %v", got)
	}
	if _, ok := got["system"]; !ok {
		t.Error("system prompt not sent")
	}
}

func TestSend_APIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`))
	}))
	defer srv.Close()

	c := New("k", "", option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	if c.Model() != DefaultModel {
		t.Errorf("Model = %q, want default", c.Model())
	}
	if _, err := c.Send(context.Background(), &llm.Request{MaxTokens: 10, Messages: []llm.Message{llm.UserText("x")}}); err == nil {
		t.Fatal("expected error for 400 response")
	}
}

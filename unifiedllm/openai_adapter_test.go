package unifiedllm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func sseServer(t *testing.T, chunks []string, captured *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if captured != nil {
			_ = json.NewDecoder(r.Body).Decode(captured)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIAdapterStream(t *testing.T) {
	chunks := []string{
		`{"id":"c1","object":"chat.completion.chunk","model":"gpt-4o","choices":[{"index":0,"delta":{"role":"assistant","content":"Running it."}}]}`,
		`{"id":"c1","object":"chat.completion.chunk","model":"gpt-4o","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_abc","type":"function","function":{"name":"execute","arguments":""}}]}}]}`,
		`{"id":"c1","object":"chat.completion.chunk","model":"gpt-4o","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"language\":"}}]}}]}`,
		`{"id":"c1","object":"chat.completion.chunk","model":"gpt-4o","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"python\"}"}}]}}]}`,
		`{"id":"c1","object":"chat.completion.chunk","model":"gpt-4o","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
		`{"id":"c1","object":"chat.completion.chunk","model":"gpt-4o","choices":[],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`,
	}
	var body map[string]any
	srv := sseServer(t, chunks, &body)

	adapter := NewOpenAIAdapter("openai", "sk-test", WithBaseURL(srv.URL+"/v1"))
	ch, err := adapter.Stream(context.Background(), Request{
		Model:    "gpt-4o",
		Messages: []Message{SystemMessage("sys"), UserMessage("run it")},
		ToolDefs: []ToolDefinition{{
			Name:       "execute",
			Parameters: map[string]interface{}{"type": "object"},
		}},
		ToolChoice: "auto",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var events []StreamEvent
	for ev := range ch {
		events = append(events, ev)
	}

	var types []StreamEventType
	var args string
	for _, ev := range events {
		types = append(types, ev.Type)
		if ev.Type == ToolCallDelta {
			args += ev.ToolCall.RawArguments
			if ev.ToolCall.ID != "call_abc" || ev.ToolCall.Name != "execute" {
				t.Errorf("expected tool call identity on delta, got %+v", ev.ToolCall)
			}
		}
	}
	want := []StreamEventType{
		StreamStart, TextStart, TextDelta, ToolCallStart, ToolCallDelta, ToolCallDelta,
		TextEnd, ToolCallEnd, StreamFinish,
	}
	if fmt.Sprint(types) != fmt.Sprint(want) {
		t.Fatalf("unexpected event sequence:\n got %v\nwant %v", types, want)
	}
	if args != `{"language":"python"}` {
		t.Errorf("expected accumulated arguments, got %q", args)
	}

	finish := events[len(events)-1]
	if finish.FinishReason.Reason != "tool_calls" {
		t.Errorf("expected finish reason tool_calls, got %q", finish.FinishReason.Reason)
	}
	if finish.Usage == nil || finish.Usage.TotalTokens != 15 {
		t.Errorf("expected usage with 15 total tokens, got %+v", finish.Usage)
	}

	if body["stream"] != true {
		t.Errorf("expected stream=true in request, got %v", body["stream"])
	}
	if opts, _ := body["stream_options"].(map[string]any); opts["include_usage"] != true {
		t.Errorf("expected stream_options.include_usage, got %v", body["stream_options"])
	}
	tools, _ := body["tools"].([]any)
	if len(tools) != 1 {
		t.Fatalf("expected 1 tool in request, got %v", body["tools"])
	}
}

func TestLocalAdapterOmitsStreamOptions(t *testing.T) {
	var body map[string]any
	srv := sseServer(t, []string{
		`{"id":"c1","object":"chat.completion.chunk","model":"local","choices":[{"index":0,"delta":{"content":"hi"}}]}`,
	}, &body)

	adapter := NewLocalAdapter(srv.URL+"/v1", WithoutToolCalling())
	if adapter.Name() != "local" {
		t.Errorf("expected provider local, got %q", adapter.Name())
	}
	if adapter.SupportsToolCalling() {
		t.Error("expected tool calling disabled")
	}

	ch, err := adapter.Stream(context.Background(), Request{
		Messages: []Message{UserMessage("hello")},
		ToolDefs: []ToolDefinition{{Name: "execute"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for range ch {
	}
	if _, ok := body["stream_options"]; ok {
		t.Error("expected no stream_options for local servers")
	}
	if _, ok := body["tools"]; ok {
		t.Error("expected tools to be omitted when tool calling is disabled")
	}
	if body["model"] != "local" {
		t.Errorf("expected default model %q, got %v", "local", body["model"])
	}
}

func TestOpenAIAdapterErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		check  func(error) bool
	}{
		{401, func(err error) bool { var e *AuthenticationError; return errors.As(err, &e) }},
		{404, func(err error) bool { var e *NotFoundError; return errors.As(err, &e) }},
		{429, func(err error) bool { var e *RateLimitError; return errors.As(err, &e) }},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"error":{"message":"nope","type":"invalid_request_error","code":"some_code"}}`)
			}))
			defer srv.Close()

			adapter := NewOpenAIAdapter("openai", "sk-test", WithBaseURL(srv.URL+"/v1"))
			_, err := adapter.Stream(context.Background(), Request{Model: "gpt-4o", Messages: []Message{UserMessage("x")}})
			if err == nil {
				t.Fatal("expected error")
			}
			if !tt.check(err) {
				t.Errorf("unexpected error type %T: %v", err, err)
			}
			var pe *ProviderError
			if errors.As(err, &pe) {
				t.Errorf("expected a concrete error type, got bare ProviderError")
			}
		})
	}
}

func TestTranslateMessage(t *testing.T) {
	user := translateMessage(Message{
		Role: RoleUser,
		Content: []ContentPart{
			TextPart("what is this?"),
			ImageURLPart("data:image/png;base64,AAAA", ""),
		},
	})
	if user.Content != "" || len(user.MultiContent) != 2 {
		t.Fatalf("expected multi-part content, got %+v", user)
	}
	if user.MultiContent[1].ImageURL == nil || user.MultiContent[1].ImageURL.URL != "data:image/png;base64,AAAA" {
		t.Errorf("expected image part, got %+v", user.MultiContent[1])
	}

	assistant := translateMessage(Message{
		Role: RoleAssistant,
		Content: []ContentPart{
			TextPart("Let me check."),
			ToolCallPart("call_0", "execute", json.RawMessage(`{"language":"shell","code":"ls"}`)),
		},
	})
	if assistant.Content != "Let me check." || len(assistant.ToolCalls) != 1 {
		t.Fatalf("unexpected assistant translation: %+v", assistant)
	}
	if assistant.ToolCalls[0].Function.Arguments != `{"language":"shell","code":"ls"}` {
		t.Errorf("unexpected arguments %q", assistant.ToolCalls[0].Function.Arguments)
	}

	tool := translateMessage(ToolResultMessage("call_0", "file.txt", false))
	if tool.ToolCallID != "call_0" || tool.Content != "file.txt" {
		t.Errorf("unexpected tool translation: %+v", tool)
	}
}

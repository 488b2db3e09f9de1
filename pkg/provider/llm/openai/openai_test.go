package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/hearken/pkg/provider/llm"
)

func TestConvertMessage_Roles(t *testing.T) {
	t.Parallel()

	tests := []struct {
		role  string
		check func(t *testing.T, m llm.Message)
	}{
		{llm.RoleSystem, func(t *testing.T, m llm.Message) {
			p, err := convertMessage(m)
			if err != nil || p.OfSystem == nil {
				t.Fatalf("system: param=%+v err=%v", p, err)
			}
		}},
		{llm.RoleUser, func(t *testing.T, m llm.Message) {
			p, err := convertMessage(m)
			if err != nil || p.OfUser == nil {
				t.Fatalf("user: param=%+v err=%v", p, err)
			}
		}},
		{llm.RoleAssistant, func(t *testing.T, m llm.Message) {
			p, err := convertMessage(m)
			if err != nil || p.OfAssistant == nil {
				t.Fatalf("assistant: param=%+v err=%v", p, err)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			tt.check(t, llm.Message{Role: tt.role, Content: "hello"})
		})
	}
}

func TestConvertMessage_UnknownRole(t *testing.T) {
	t.Parallel()
	if _, err := convertMessage(llm.Message{Role: "tool", Content: "x"}); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestNew_MissingAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := New("", "gpt-4o"); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestNew_MissingModel(t *testing.T) {
	t.Parallel()
	if _, err := New("sk-test", ""); err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestComplete_AgainstCompatibleServer(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.Error(w, "not found: "+r.URL.Path, http.StatusNotFound)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "fastgpt",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "` + "```json\\n{}\\n```" + `"}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`))
	}))
	defer srv.Close()

	p, err := New("sk-test", "fastgpt", WithBaseURL(srv.URL+"/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	req := llm.UserPrompt("what happened?")
	req.Temperature = 0.2
	req.MaxTokens = 256
	resp, err := p.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "```json\n{}\n```" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("total tokens = %d, want 15", resp.Usage.TotalTokens)
	}
	if gotBody["model"] != "fastgpt" {
		t.Errorf("model sent = %v, want fastgpt", gotBody["model"])
	}
	msgs, _ := gotBody["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("messages sent = %d, want 1", len(msgs))
	}
}

func TestComplete_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := New("sk-test", "gpt-4o", WithBaseURL(srv.URL+"/"))
	if _, err := p.Complete(context.Background(), llm.UserPrompt("hi")); err == nil {
		t.Fatal("expected error for HTTP 500")
	}
}

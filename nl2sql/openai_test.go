package nl2sql

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNormalizeSQL(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"fenced", "```sql\nSELECT 1;\n```", "SELECT 1;"},
		{"fenced no language", "```\nSELECT 1\n```", "SELECT 1;"},
		{"missing terminator", "SELECT id FROM orders", "SELECT id FROM orders;"},
		{"already terminated", "SELECT 1;", "SELECT 1;"},
		{"blank", "   \n", ""},
		{"fence only", "```sql\n```", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NormalizeSQL(tc.in); got != tc.want {
				t.Fatalf("NormalizeSQL(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestBoundHistory(t *testing.T) {
	turns := make([]Turn, 0, 8)
	for i := 0; i < 8; i++ {
		turns = append(turns, Turn{Role: "user", Content: strings.Repeat("x", i+1)})
	}

	bounded := BoundHistory(turns)
	if len(bounded) != HistoryWindow {
		t.Fatalf("len = %d, want %d", len(bounded), HistoryWindow)
	}
	if bounded[len(bounded)-1].Content != turns[len(turns)-1].Content {
		t.Fatal("window must keep the most recent turns")
	}

	short := turns[:3]
	if got := BoundHistory(short); len(got) != 3 {
		t.Fatalf("short history should pass through, got %d turns", len(got))
	}
}

func newTestTranslator(baseURL string) *OpenAITranslator {
	return &OpenAITranslator{
		httpClient:  &http.Client{Timeout: 5 * time.Second},
		baseURL:     baseURL,
		apiKey:      "test-key",
		modelID:     "test-model",
		temperature: 0.1,
	}
}

func TestTranslateSendsBoundedConversation(t *testing.T) {
	var captured chatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "```sql\nSELECT COUNT(*) AS total FROM orders\n```"}},
			},
		})
	}))
	defer server.Close()

	translator := newTestTranslator(server.URL)

	history := make([]Turn, 0, 7)
	for i := 0; i < 7; i++ {
		history = append(history, Turn{Role: "user", Content: "turn"})
	}

	sql, err := translator.Translate(context.Background(), Request{
		Prompt:  "how many orders",
		Schema:  "Table: orders\n- id AS 'order id'",
		History: history,
		Dialect: "mysql",
	})
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if sql != "SELECT COUNT(*) AS total FROM orders;" {
		t.Fatalf("sql = %q", sql)
	}

	// system + bounded history + new prompt
	if len(captured.Messages) != 1+HistoryWindow+1 {
		t.Fatalf("message count = %d", len(captured.Messages))
	}
	if captured.Messages[0].Role != "system" || !strings.Contains(captured.Messages[0].Content, "Table: orders") {
		t.Fatalf("system message = %+v", captured.Messages[0])
	}
	if last := captured.Messages[len(captured.Messages)-1]; last.Role != "user" || last.Content != "how many orders" {
		t.Fatalf("last message = %+v", last)
	}
}

func TestTranslateErrorTaxonomy(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"unauthorized", http.StatusUnauthorized, `{}`, ErrInvalidCredential},
		{"forbidden", http.StatusForbidden, `{}`, ErrInvalidCredential},
		{"server error", http.StatusInternalServerError, `boom`, ErrUpstream},
		{"no choices", http.StatusOK, `{"choices":[]}`, ErrUpstream},
		{"empty content", http.StatusOK, "{\"choices\":[{\"message\":{\"role\":\"assistant\",\"content\":\"```sql\\n```\"}}]}", ErrNoQuery},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			translator := newTestTranslator(server.URL)
			_, err := translator.Translate(context.Background(), Request{Prompt: "q", Schema: "Table: t"})
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestTranslateRequiresSchema(t *testing.T) {
	translator := newTestTranslator("http://localhost:0")
	if _, err := translator.Translate(context.Background(), Request{Prompt: "q"}); !errors.Is(err, ErrEmptySchema) {
		t.Fatalf("error = %v, want ErrEmptySchema", err)
	}
}

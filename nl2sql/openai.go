package nl2sql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	defaultBaseURL     = "https://api.openai.com/v1"
	defaultModelID     = "gpt-4o-mini"
	defaultTemperature = 0.1
)

// OpenAITranslator calls an OpenAI-compatible chat completions API to turn a
// prompt plus schema context into a SQL statement.
type OpenAITranslator struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	modelID     string
	temperature float64
}

// NewOpenAITranslatorFromEnv constructs a translator using environment variables.
//
// Expected variables:
//   - LLM_API_KEY: required API key for the provider
//   - LLM_BASE_URL: optional override for the API base URL (defaults to defaultBaseURL)
//   - LLM_MODEL_ID: optional override for the target model (defaults to defaultModelID)
func NewOpenAITranslatorFromEnv() (*OpenAITranslator, error) {
	apiKey := strings.TrimSpace(os.Getenv("LLM_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("%w: LLM_API_KEY environment variable is required", ErrNotConfigured)
	}

	baseURL := strings.TrimSpace(os.Getenv("LLM_BASE_URL"))
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("%w: invalid base URL %q", ErrNotConfigured, baseURL)
	}

	modelID := strings.TrimSpace(os.Getenv("LLM_MODEL_ID"))
	if modelID == "" {
		modelID = defaultModelID
	}

	return &OpenAITranslator{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		baseURL:     baseURL,
		apiKey:      apiKey,
		modelID:     modelID,
		temperature: defaultTemperature,
	}, nil
}

type chatCompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string                  `json:"model"`
	Messages    []chatCompletionMessage `json:"messages"`
	Temperature float64                 `json:"temperature"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatCompletionMessage `json:"message"`
	} `json:"choices"`
}

// Translate sends the bounded conversation to the model and returns a single
// normalized SQL statement.
func (t *OpenAITranslator) Translate(ctx context.Context, req Request) (string, error) {
	if t == nil || t.apiKey == "" {
		return "", ErrNotConfigured
	}
	if strings.TrimSpace(req.Schema) == "" {
		return "", ErrEmptySchema
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return "", fmt.Errorf("%w: prompt is empty", ErrNoQuery)
	}

	messages := make([]chatCompletionMessage, 0, HistoryWindow+2)
	messages = append(messages, chatCompletionMessage{Role: "system", Content: buildSystemPrompt(req.Dialect, req.Schema)})
	for _, turn := range BoundHistory(req.History) {
		role := strings.TrimSpace(turn.Role)
		content := strings.TrimSpace(turn.Content)
		if role == "" || content == "" {
			continue
		}
		messages = append(messages, chatCompletionMessage{Role: role, Content: content})
	}
	messages = append(messages, chatCompletionMessage{Role: "user", Content: prompt})

	payload := chatCompletionRequest{
		Model:       t.modelID,
		Messages:    messages,
		Temperature: t.temperature,
	}

	body := &bytes.Buffer{}
	if err := json.NewEncoder(body).Encode(payload); err != nil {
		return "", fmt.Errorf("%w: encode request: %v", ErrUpstream, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/chat/completions", body)
	if err != nil {
		return "", fmt.Errorf("%w: create request: %v", ErrUpstream, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", ErrInvalidCredential
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return "", fmt.Errorf("%w: unexpected status %s: %s", ErrUpstream, resp.Status, strings.TrimSpace(string(snippet)))
	}

	var decoded chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrUpstream, err)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("%w: response contains no choices", ErrUpstream)
	}

	sql := NormalizeSQL(decoded.Choices[0].Message.Content)
	if sql == "" {
		return "", ErrNoQuery
	}
	return sql, nil
}

func buildSystemPrompt(dialect, schema string) string {
	dialect = strings.TrimSpace(dialect)
	if dialect == "" {
		dialect = "mysql"
	}

	var builder strings.Builder
	builder.WriteString("You are an expert SQL assistant. You translate analytics questions into a single ")
	builder.WriteString(dialectLabel(dialect))
	builder.WriteString(" query over the schema below.\n\nRules:\n")
	builder.WriteString("- Use only the tables and columns listed in the schema.\n")
	builder.WriteString("- Use descriptive column aliases in the SELECT list.\n")
	builder.WriteString("- When the question asks for totals or counts, use the appropriate aggregate with GROUP BY.\n")
	builder.WriteString("- Return ONLY the SQL statement: no markdown fences, no explanation, no comments.\n")
	builder.WriteString("- The statement must be a single query ending with a semicolon.\n\nSchema:\n")
	builder.WriteString(strings.TrimSpace(schema))
	return builder.String()
}

func dialectLabel(dialect string) string {
	switch strings.ToLower(dialect) {
	case "sqlserver", "mssql":
		return "Microsoft SQL Server"
	case "postgres", "postgresql":
		return "PostgreSQL"
	case "sqlite", "sqlite3":
		return "SQLite"
	default:
		return "MySQL"
	}
}

// NormalizeSQL strips markdown code fences from the model output and
// guarantees the statement ends with a terminator. Blank output stays blank;
// the caller maps it to ErrNoQuery.
func NormalizeSQL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```sql")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		trimmed = strings.TrimSpace(trimmed)
	}
	if trimmed == "" {
		return ""
	}
	if !strings.HasSuffix(trimmed, ";") {
		trimmed += ";"
	}
	return trimmed
}

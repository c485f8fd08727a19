package nl2sql

import (
	"context"
	"errors"
)

var (
	// ErrNotConfigured indicates the translator is missing its API credential
	// or endpoint configuration.
	ErrNotConfigured = errors.New("nl2sql: translator is not configured")
	// ErrInvalidCredential indicates the upstream rejected the API key.
	ErrInvalidCredential = errors.New("nl2sql: language model rejected the API credential")
	// ErrEmptySchema indicates there was no schema text to ground the translation.
	ErrEmptySchema = errors.New("nl2sql: knowledge base has no schema description")
	// ErrUpstream indicates the language-model call failed or returned an
	// unusable response envelope.
	ErrUpstream = errors.New("nl2sql: language model request failed")
	// ErrNoQuery indicates the model answered but produced no usable SQL.
	// Reported distinctly from ErrUpstream so callers can ask the user to rephrase.
	ErrNoQuery = errors.New("nl2sql: model produced no SQL query")
)

// HistoryWindow is how many trailing conversation turns are replayed to the model.
const HistoryWindow = 5

// Turn is one prior conversation exchange.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request carries everything a translation needs: the new prompt, the schema
// text grounding it, the bounded prior turns, and the target SQL dialect.
type Request struct {
	Prompt  string
	Schema  string
	History []Turn
	Dialect string
}

// Translator turns a natural-language request into a single SQL statement.
type Translator interface {
	Translate(ctx context.Context, req Request) (string, error)
}

// BoundHistory truncates turns to the trailing HistoryWindow entries. The
// stored history itself is append-only; only this window is ever read back.
func BoundHistory(turns []Turn) []Turn {
	if len(turns) <= HistoryWindow {
		return turns
	}
	return turns[len(turns)-HistoryWindow:]
}

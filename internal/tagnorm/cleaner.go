// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

// Package tagnorm canonicalizes raw platform tags through a cached
// LLM-backed cleaner, with identity fallback when the cleaner is down.
package tagnorm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/pixivpush/pixivpush/internal/config"
)

// CleanerError wraps a remote cleaner failure. The failed batch is logged
// and falls back to identity mapping; downstream never blocks on it.
type CleanerError struct {
	Err error
}

func (e *CleanerError) Error() string {
	return fmt.Sprintf("tagnorm: cleaner: %v", e.Err)
}

func (e *CleanerError) Unwrap() error {
	return e.Err
}

// Cleaner maps raw tags to canonical tags. A nil value means the tag was
// judged meaningless and should be dropped.
type Cleaner interface {
	Clean(ctx context.Context, raw []string) (map[string]*string, error)
}

const cleanerPrompt = `You normalize illustration tags. For each input tag:
- translate it to its canonical English form, lowercase, words joined by underscores
- collapse plurals and synonyms onto one canonical form
- return null for meaningless or trivial tags (counts, "original", self-promotion)
Reply with a single JSON object mapping every input tag to its canonical form or null.`

// PassthroughCleaner keeps every tag in its pre-normalized form. Used
// when no cleaner endpoint is configured.
type PassthroughCleaner struct{}

// Clean maps each tag to itself.
func (PassthroughCleaner) Clean(_ context.Context, raw []string) (map[string]*string, error) {
	verdicts := make(map[string]*string, len(raw))
	for _, tag := range raw {
		canonical := tag
		verdicts[tag] = &canonical
	}
	return verdicts, nil
}

// AICleaner calls an OpenAI-compatible chat-completions endpoint.
type AICleaner struct {
	endpoint   string
	key        string
	model      string
	httpClient *http.Client
}

// NewAICleaner builds a cleaner from the profiler.ai config section.
func NewAICleaner(cfg *config.AIConfig) *AICleaner {
	return &AICleaner{
		endpoint:   strings.TrimSuffix(cfg.Endpoint, "/"),
		key:        cfg.Key,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat *formatSpec   `json:"response_format,omitempty"`
	Temperature    float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type formatSpec struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Clean sends one batch and parses the JSON verdict object.
func (c *AICleaner) Clean(ctx context.Context, raw []string) (map[string]*string, error) {
	if c.endpoint == "" {
		return nil, &CleanerError{Err: fmt.Errorf("no endpoint configured")}
	}

	input, err := json.Marshal(raw)
	if err != nil {
		return nil, &CleanerError{Err: err}
	}
	payload, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: cleanerPrompt},
			{Role: "user", Content: string(input)},
		},
		ResponseFormat: &formatSpec{Type: "json_object"},
	})
	if err != nil {
		return nil, &CleanerError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint+"/chat/completions", strings.NewReader(string(payload)))
	if err != nil {
		return nil, &CleanerError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.key != "" {
		req.Header.Set("Authorization", "Bearer "+c.key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &CleanerError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &CleanerError{Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &CleanerError{Err: fmt.Errorf("status %d: %.200s", resp.StatusCode, body)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &CleanerError{Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(parsed.Choices) == 0 {
		return nil, &CleanerError{Err: fmt.Errorf("empty choices")}
	}

	verdicts := make(map[string]*string)
	if err := json.Unmarshal([]byte(parsed.Choices[0].Message.Content), &verdicts); err != nil {
		return nil, &CleanerError{Err: fmt.Errorf("decode verdict object: %w", err)}
	}
	return verdicts, nil
}

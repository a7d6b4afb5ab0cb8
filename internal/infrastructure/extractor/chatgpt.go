package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"TranscriptPipeline/internal/config"
	"TranscriptPipeline/internal/domain"
	"TranscriptPipeline/internal/ports"
)

// ChatGPTExtractor implements ports.Extractor backed by OpenAI-compatible
// chat-completion APIs. The system prompt instructs the model to answer
// with a single JSON object matching the MeetingExtract shape.
type ChatGPTExtractor struct {
	endpoint     string
	model        string
	apiKey       string
	systemPrompt string
	httpClient   *http.Client
}

var _ ports.Extractor = (*ChatGPTExtractor)(nil)

// NewChatGPTExtractor builds a client from configuration.
func NewChatGPTExtractor(cfg config.ExtractorConfig) *ChatGPTExtractor {
	return &ChatGPTExtractor{
		endpoint:     cfg.Endpoint,
		model:        cfg.Model,
		apiKey:       cfg.APIKey,
		systemPrompt: cfg.SystemPrompt,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Extract sends the transcript and parses the structured reply. A reply
// that is not valid JSON or misses required fields is a hard extraction
// failure; transport errors and server-side errors are transient.
func (c *ChatGPTExtractor) Extract(ctx context.Context, transcript string) (domain.MeetingExtract, error) {
	var extract domain.MeetingExtract
	if c.apiKey == "" || c.endpoint == "" || c.model == "" {
		return extract, fmt.Errorf("extractor misconfigured")
	}

	body, err := json.Marshal(map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": c.prompt()},
			{"role": "user", "content": transcript},
		},
	})
	if err != nil {
		return extract, fmt.Errorf("marshal extractor payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return extract, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return extract, domain.Transient(fmt.Errorf("call extractor: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return extract, domain.Transient(fmt.Errorf("extractor returned %s", resp.Status))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return extract, fmt.Errorf("extractor error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return extract, &domain.ExtractionError{Reason: "malformed completion response", Err: err}
	}
	if len(completion.Choices) == 0 {
		return extract, &domain.ExtractionError{Reason: "completion contained no choices"}
	}

	content := stripFences(completion.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &extract); err != nil {
		return extract, &domain.ExtractionError{Reason: "reply is not a JSON MeetingExtract", Err: err}
	}
	if err := extract.Validate(); err != nil {
		return domain.MeetingExtract{}, &domain.ExtractionError{Reason: "incomplete extract", Err: err}
	}

	return extract, nil
}

func (c *ChatGPTExtractor) prompt() string {
	prompt := strings.TrimSpace(c.systemPrompt)
	if prompt == "" {
		prompt = "You extract structured sales-meeting data from transcripts. " +
			"Respond with a single JSON object and nothing else."
	}
	return prompt + "\n\nThe JSON object must contain: company_name (required), contact_name, " +
		"contact_email, meeting_date (YYYY-MM-DD), participants, summary (required), " +
		"discussion_points, action_items, decisions, next_steps, suggested_stage. " +
		"Use null or empty values for anything the transcript does not state."
}

// stripFences tolerates models that wrap the JSON in a markdown code block.
func stripFences(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	return strings.TrimSpace(content)
}

package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"TranscriptPipeline/internal/config"
	"TranscriptPipeline/internal/domain"
	"TranscriptPipeline/internal/ports"
)

// Client talks to the CRM's REST API. All prospect operations are scoped
// to one entity; authentication is a bearer token.
type Client struct {
	baseURL  string
	apiKey   string
	entityID string
	http     *http.Client
}

var _ ports.CRMClient = (*Client)(nil)

// NewClient creates a reusable HTTP client.
func NewClient(cfg config.CRMConfig) *Client {
	return &Client{
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
		entityID: cfg.EntityID,
		http:     &http.Client{Timeout: 15 * time.Second},
	}
}

// SearchProspectsByEmail returns prospects whose contact email matches
// (the CRM compares case-insensitively).
func (c *Client) SearchProspectsByEmail(ctx context.Context, email string) ([]domain.Prospect, error) {
	var prospects []domain.Prospect
	path := fmt.Sprintf("/entities/%s/prospects?email=%s", c.entityID, url.QueryEscape(email))
	if err := c.get(ctx, path, &prospects); err != nil {
		return nil, err
	}
	return prospects, nil
}

// SearchProspectsByCompany returns prospects whose company name matches.
func (c *Client) SearchProspectsByCompany(ctx context.Context, company string) ([]domain.Prospect, error) {
	var prospects []domain.Prospect
	path := fmt.Sprintf("/entities/%s/prospects?company=%s", c.entityID, url.QueryEscape(company))
	if err := c.get(ctx, path, &prospects); err != nil {
		return nil, err
	}
	return prospects, nil
}

// CreateProspect registers a new prospect under the configured entity.
func (c *Client) CreateProspect(ctx context.Context, prospect domain.Prospect) (domain.Prospect, error) {
	prospect.EntityID = c.entityID
	var created domain.Prospect
	path := fmt.Sprintf("/entities/%s/prospects", c.entityID)
	if err := c.post(ctx, path, prospect, &created); err != nil {
		return domain.Prospect{}, err
	}
	return created, nil
}

// ListPipelineStages returns the entity's ordered stage catalog.
func (c *Client) ListPipelineStages(ctx context.Context) ([]domain.PipelineStage, error) {
	var stages []domain.PipelineStage
	path := fmt.Sprintf("/entities/%s/pipeline-stages", c.entityID)
	if err := c.get(ctx, path, &stages); err != nil {
		return nil, err
	}
	return stages, nil
}

// ListMeetingRecords returns the prospect's meeting history.
func (c *Client) ListMeetingRecords(ctx context.Context, prospectID string) ([]domain.MeetingRecord, error) {
	var records []domain.MeetingRecord
	path := fmt.Sprintf("/prospects/%s/meeting-records", prospectID)
	if err := c.get(ctx, path, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// CreateMeetingRecord appends one meeting record to the prospect.
func (c *Client) CreateMeetingRecord(ctx context.Context, record domain.MeetingRecord) (domain.MeetingRecord, error) {
	var created domain.MeetingRecord
	path := fmt.Sprintf("/prospects/%s/meeting-records", record.ProspectID)
	if err := c.post(ctx, path, record, &created); err != nil {
		return domain.MeetingRecord{}, err
	}
	return created, nil
}

// UpdateProspectStage moves the prospect to the named stage.
func (c *Client) UpdateProspectStage(ctx context.Context, prospectID, stage string) error {
	path := fmt.Sprintf("/prospects/%s/stage", prospectID)
	return c.put(ctx, path, map[string]string{"stage": stage})
}

// ListStageTransitions returns the prospect's audit trail, newest first.
func (c *Client) ListStageTransitions(ctx context.Context, prospectID string) ([]domain.StageTransition, error) {
	var transitions []domain.StageTransition
	path := fmt.Sprintf("/prospects/%s/stage-transitions", prospectID)
	if err := c.get(ctx, path, &transitions); err != nil {
		return nil, err
	}
	return transitions, nil
}

// CreateStageTransition appends one audit entry.
func (c *Client) CreateStageTransition(ctx context.Context, transition domain.StageTransition) (domain.StageTransition, error) {
	var created domain.StageTransition
	path := fmt.Sprintf("/prospects/%s/stage-transitions", transition.ProspectID)
	if err := c.post(ctx, path, transition, &created); err != nil {
		return domain.StageTransition{}, err
	}
	return created, nil
}

func (c *Client) get(ctx context.Context, path string, v any) error {
	return c.do(ctx, http.MethodGet, path, nil, v)
}

func (c *Client) post(ctx context.Context, path string, payload, v any) error {
	return c.do(ctx, http.MethodPost, path, payload, v)
}

func (c *Client) put(ctx context.Context, path string, payload any) error {
	return c.do(ctx, http.MethodPut, path, payload, nil)
}

func (c *Client) do(ctx context.Context, method, path string, payload, v any) error {
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Transient(fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return domain.Transient(fmt.Errorf("%s %s: crm returned %s", method, path, resp.Status))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%s %s: crm returned %s", method, path, resp.Status)
	}

	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// EntityStatusClient updates the status of the business entity behind a
// decided approval by calling the service that owns it. One client is built
// per approval type, pointed at that type's owning module (leave requests,
// expense claims, ...); the engine calls exactly one of OnApproved /
// OnRejected on final decision.
type EntityStatusClient struct {
	baseURL    string
	path       string // e.g. "/api/v1/leave-requests/status"
	httpClient *http.Client
}

// NewEntityStatusClient creates a status updater for one entity kind.
func NewEntityStatusClient(baseURL, path string) *EntityStatusClient {
	return &EntityStatusClient{
		baseURL:    baseURL,
		path:       path,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type entityStatusRequest struct {
	EntityID string `json:"entity_id"`
	Status   string `json:"status"`
	Comments string `json:"comments,omitempty"`
}

// OnApproved marks the entity approved.
func (c *EntityStatusClient) OnApproved(ctx context.Context, entityID string) error {
	return c.post(ctx, entityStatusRequest{EntityID: entityID, Status: "approved"})
}

// OnRejected marks the entity rejected with the approver's comments.
func (c *EntityStatusClient) OnRejected(ctx context.Context, entityID string, comments string) error {
	return c.post(ctx, entityStatusRequest{EntityID: entityID, Status: "rejected", Comments: comments})
}

func (c *EntityStatusClient) post(ctx context.Context, body entityStatusRequest) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to update entity status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("entity status update returned status %d", resp.StatusCode)
	}
	return nil
}

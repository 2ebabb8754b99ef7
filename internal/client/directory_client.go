package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// DirectoryClient is a client for the platform directory service (PLT-2).
// It is the only source of org-structure facts the workflow engine consults:
// an actor's manager, a department's head, and actor existence.
type DirectoryClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewDirectoryClient creates a new directory service client.
func NewDirectoryClient(baseURL string) *DirectoryClient {
	return &DirectoryClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type managerResponse struct {
	ManagerID *string `json:"manager_id"`
}

type departmentHeadResponse struct {
	HeadID *string `json:"head_id"`
}

type actorResponse struct {
	Exists bool `json:"exists"`
}

// GetManager returns the manager of an actor, or nil when the actor has none.
func (c *DirectoryClient) GetManager(ctx context.Context, actorID string) (*string, error) {
	path := fmt.Sprintf("/api/v1/directory/manager?actor_id=%s", url.QueryEscape(actorID))

	var resp managerResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, fmt.Errorf("failed to resolve manager: %w", err)
	}
	return resp.ManagerID, nil
}

// GetDepartmentHead returns the head of a department, or nil when the
// department has no head.
func (c *DirectoryClient) GetDepartmentHead(ctx context.Context, departmentID string) (*string, error) {
	path := fmt.Sprintf("/api/v1/directory/department-head?department_id=%s", url.QueryEscape(departmentID))

	var resp departmentHeadResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, fmt.Errorf("failed to resolve department head: %w", err)
	}
	return resp.HeadID, nil
}

// ActorExists reports whether an actor id is known to the directory.
func (c *DirectoryClient) ActorExists(ctx context.Context, actorID string) (bool, error) {
	path := fmt.Sprintf("/api/v1/directory/actors/exists?actor_id=%s", url.QueryEscape(actorID))

	var resp actorResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return false, fmt.Errorf("failed to check actor: %w", err)
	}
	return resp.Exists, nil
}

func (c *DirectoryClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("directory service returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Package tasks is an HTTP/JSON client for the household task and event
// service that owns the items participants work on during planning.
package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"family-planner-backend/internal/apperrors"
)

type NewTask struct {
	Title      string     `json:"title" binding:"required"`
	AssignedTo uint       `json:"assigned_to,omitempty"`
	DueDate    *time.Time `json:"due_date,omitempty"`
	Notes      string     `json:"notes,omitempty"`
}

// Item is whatever the task service returns for a task or event.
type Item map[string]interface{}

type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// APIError is a non-2xx answer from the task service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("task service HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusNotFound:
		return apperrors.ErrNotFound
	case e.StatusCode == http.StatusForbidden:
		return apperrors.ErrPermissionDenied
	case e.StatusCode >= 500:
		return apperrors.ErrCollaboratorUnavailable
	}
	return nil
}

func itemPath(itemType string) string {
	if itemType == "event" {
		return "/events"
	}
	return "/tasks"
}

func (c *HTTPClient) CreateTask(ctx context.Context, familyID uint, t NewTask) (Item, error) {
	body := struct {
		NewTask
		FamilyID uint `json:"family_id"`
	}{t, familyID}

	var out Item
	if err := c.doJSON(ctx, http.MethodPost, "/tasks", body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) UpdateItem(ctx context.Context, itemType, itemID string, fields map[string]interface{}) (Item, error) {
	var out Item
	path := itemPath(itemType) + "/" + url.PathEscape(itemID)
	if err := c.doJSON(ctx, http.MethodPut, path, fields, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w: %v", apperrors.ErrCollaboratorUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

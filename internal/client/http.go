package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"family-planner-backend/internal/apperrors"
	"family-planner-backend/internal/models"
	"family-planner-backend/internal/services"
)

// ErrUnreachable wraps transport failures talking to the coordinator.
var ErrUnreachable = errors.New("coordinator unreachable")

// HTTPClient implements API over the coordinator's REST surface.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ API = (*HTTPClient)(nil)

// NewHTTPClient targets baseURL (e.g. "http://localhost:8080") and sends
// token as a bearer credential on every request.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// APIError is a non-2xx answer. It unwraps to the matching apperrors sentinel.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	ClaimedBy  uint
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("HTTP %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	if e.Code == apperrors.CodeConflict && e.ClaimedBy != 0 {
		return &apperrors.ConflictError{ClaimedBy: e.ClaimedBy}
	}
	if err := apperrors.FromCode(e.Code); err != nil {
		return err
	}
	if e.StatusCode == http.StatusServiceUnavailable || e.StatusCode == http.StatusBadGateway {
		return ErrUnreachable
	}
	return nil
}

func sessionPath(id uint) string {
	return fmt.Sprintf("/api/v1/planning-sessions/%d", id)
}

func (c *HTTPClient) StartSession(ctx context.Context, familyID uint, participants []uint, settings *models.Settings) (*services.SessionState, error) {
	body := map[string]interface{}{"family_id": familyID, "participants": participants}
	if settings != nil {
		body["settings"] = settings
	}
	var state services.SessionState
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/planning-sessions", body, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (c *HTTPClient) GetSession(ctx context.Context, id uint) (*services.SessionState, error) {
	var state services.SessionState
	if err := c.doJSON(ctx, http.MethodGet, sessionPath(id), nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// LatestSession returns nil when the family has never planned.
func (c *HTTPClient) LatestSession(ctx context.Context, familyID uint) (*services.SessionState, error) {
	var state *services.SessionState
	path := "/api/v1/planning-sessions/latest?family_id=" + fmt.Sprint(familyID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &state); err != nil {
		return nil, err
	}
	return state, nil
}

func (c *HTTPClient) History(ctx context.Context, familyID uint, limit, offset int) (*services.HistoryPage, error) {
	q := url.Values{}
	q.Set("family_id", fmt.Sprint(familyID))
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if offset > 0 {
		q.Set("offset", fmt.Sprint(offset))
	}
	var page services.HistoryPage
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/planning-sessions/history?"+q.Encode(), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *HTTPClient) Pause(ctx context.Context, id uint) (*services.SessionState, error) {
	return c.lifecycle(ctx, id, "pause", nil)
}

func (c *HTTPClient) Resume(ctx context.Context, id uint) (*services.SessionState, error) {
	return c.lifecycle(ctx, id, "resume", nil)
}

func (c *HTTPClient) Cancel(ctx context.Context, id uint) (*services.SessionState, error) {
	return c.lifecycle(ctx, id, "cancel", nil)
}

func (c *HTTPClient) Complete(ctx context.Context, id uint, final map[string]services.PhaseUpdate) (*services.SessionState, error) {
	var body interface{}
	if len(final) > 0 {
		body = map[string]interface{}{"progress": final}
	}
	return c.lifecycle(ctx, id, "complete", body)
}

func (c *HTTPClient) lifecycle(ctx context.Context, id uint, action string, body interface{}) (*services.SessionState, error) {
	var state services.SessionState
	if err := c.doJSON(ctx, http.MethodPost, sessionPath(id)+"/"+action, body, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (c *HTTPClient) SaveProgress(ctx context.Context, id uint, progress map[string]services.PhaseUpdate) (*services.SaveResult, error) {
	var res services.SaveResult
	body := map[string]interface{}{"progress": progress}
	if err := c.doJSON(ctx, http.MethodPost, sessionPath(id)+"/save", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *HTTPClient) MovePhase(ctx context.Context, id uint, phase string) (int, error) {
	var res struct {
		PhaseCursor int `json:"phase_cursor"`
	}
	if err := c.doJSON(ctx, http.MethodPost, sessionPath(id)+"/cursor", map[string]string{"phase": phase}, &res); err != nil {
		return 0, err
	}
	return res.PhaseCursor, nil
}

func (c *HTTPClient) GetProgress(ctx context.Context, id uint) (*services.ProgressView, error) {
	var view services.ProgressView
	if err := c.doJSON(ctx, http.MethodGet, sessionPath(id)+"/progress", nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// Claim reports a lost race as a result with Conflict set, not as an error.
func (c *HTTPClient) Claim(ctx context.Context, id uint, itemType, itemID string) (*services.ClaimResult, error) {
	var res services.ClaimResult
	body := map[string]string{"item_type": itemType, "item_id": itemID}
	err := c.doJSON(ctx, http.MethodPost, sessionPath(id)+"/claims", body, &res)

	var conflict *apperrors.ConflictError
	if errors.As(err, &conflict) {
		return &services.ClaimResult{
			ItemType:  itemType,
			ItemID:    itemID,
			ClaimedBy: conflict.ClaimedBy,
			Conflict:  true,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *HTTPClient) ListClaims(ctx context.Context, id uint) ([]models.ClaimRecord, error) {
	var claims []models.ClaimRecord
	if err := c.doJSON(ctx, http.MethodGet, sessionPath(id)+"/claims", nil, &claims); err != nil {
		return nil, err
	}
	return claims, nil
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
		return fmt.Errorf("%s %s: %w: %v", method, path, ErrUnreachable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w: %v", ErrUnreachable, err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error     string `json:"error"`
			Code      string `json:"code"`
			ClaimedBy uint   `json:"claimed_by"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Code: errResp.Code, Message: errResp.Error, ClaimedBy: errResp.ClaimedBy}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

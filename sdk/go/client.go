package peerproofsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Peerproof HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Challenge represents the API challenge model.
type Challenge struct {
	ID          string `json:"id"`
	CreatorID   string `json:"creator_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Points      int64  `json:"points"`
	Active      bool   `json:"active"`
	CreatedAt   string `json:"created_at"`
}

// Submission represents a proof submission.
type Submission struct {
	ID               string  `json:"id"`
	ChallengeID      string  `json:"challenge_id"`
	SubmitterID      string  `json:"submitter_id"`
	ProofText        string  `json:"proof_text,omitempty"`
	ImageURL         *string `json:"image_url,omitempty"`
	VideoURL         *string `json:"video_url,omitempty"`
	Status           string  `json:"status"`
	ValidatorID      *string `json:"validator_id,omitempty"`
	ValidatorComment *string `json:"validator_comment,omitempty"`
	RejectionReason  *string `json:"rejection_reason,omitempty"`
	CreatedAt        string  `json:"created_at"`
	ValidatedAt      *string `json:"validated_at,omitempty"`
}

// QueueEntry pairs a pending submission with the caller's eligibility.
type QueueEntry struct {
	Submission Submission `json:"submission"`
	Eligible   bool       `json:"eligible"`
}

// Report represents an abuse report.
type Report struct {
	ID           string  `json:"id"`
	SubmissionID string  `json:"submission_id"`
	ReporterID   string  `json:"reporter_id"`
	Reason       string  `json:"reason"`
	Description  string  `json:"description,omitempty"`
	Status       string  `json:"status"`
	ReviewerID   *string `json:"reviewer_id,omitempty"`
	ReviewedAt   *string `json:"reviewed_at,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

// Profile represents a member profile.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	Premium     bool   `json:"premium"`
	Points      int64  `json:"points"`
	Defeats     int64  `json:"defeats"`
	CreatedAt   string `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedSubmissions wraps list responses with cursors.
type PaginatedSubmissions struct {
	Items      []Submission `json:"items"`
	NextCursor string       `json:"next_cursor"`
}

// PaginatedQueue wraps queue responses with cursors.
type PaginatedQueue struct {
	Items      []QueueEntry `json:"items"`
	NextCursor string       `json:"next_cursor"`
}

// PaginatedEvents wraps event listings with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateChallenge creates a challenge.
func (c *Client) CreateChallenge(ctx context.Context, title, description string, points int64) (Challenge, error) {
	body := map[string]any{
		"title":       title,
		"description": description,
		"points":      points,
	}
	var resp Challenge
	err := c.do(ctx, http.MethodPost, "v0/challenges", body, &resp)
	return resp, err
}

// Submit posts textual proof for a challenge.
func (c *Client) Submit(ctx context.Context, challengeID, proofText string) (Submission, error) {
	body := map[string]any{
		"challenge_id": challengeID,
		"proof_text":   proofText,
	}
	var resp Submission
	err := c.do(ctx, http.MethodPost, "v0/submissions", body, &resp)
	return resp, err
}

// Approve marks a pending submission approved.
func (c *Client) Approve(ctx context.Context, submissionID, comment string) (Submission, error) {
	body := map[string]any{"comment": comment}
	endpoint := fmt.Sprintf("v0/submissions/%s/approve", url.PathEscape(submissionID))
	var resp Submission
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Reject marks a pending submission rejected with a catalog reason.
func (c *Client) Reject(ctx context.Context, submissionID, reason, comment string) (Submission, error) {
	body := map[string]any{"reason": reason, "comment": comment}
	endpoint := fmt.Sprintf("v0/submissions/%s/reject", url.PathEscape(submissionID))
	var resp Submission
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Queue returns pending submissions awaiting validation.
func (c *Client) Queue(ctx context.Context, limit int, cursor string) (PaginatedQueue, error) {
	endpoint := "v0/validation-queue"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedQueue
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Report files an abuse report against a submission.
func (c *Client) Report(ctx context.Context, submissionID, reason, description string) (Report, error) {
	body := map[string]any{"reason": reason, "description": description}
	endpoint := fmt.Sprintf("v0/submissions/%s/report", url.PathEscape(submissionID))
	var resp Report
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// GetProfile fetches a member profile.
func (c *Client) GetProfile(ctx context.Context, id string) (Profile, error) {
	var resp Profile
	endpoint := fmt.Sprintf("v0/profiles/%s", url.PathEscape(id))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

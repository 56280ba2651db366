package server

import (
	"encoding/json"

	"peerproof/internal/config"
	"peerproof/internal/domain"
)

// Request payloads

type CreateChallengeRequest struct {
	ID          *string `json:"id,omitempty"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Points      int64   `json:"points"`
}

type UpdateChallengeRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Points      *int64  `json:"points,omitempty"`
	Active      *bool   `json:"active,omitempty"`
}

type AttachmentRequest struct {
	DataBase64  string `json:"data_base64"`
	ContentType string `json:"content_type"`
}

type CreateSubmissionRequest struct {
	ChallengeID string             `json:"challenge_id"`
	ProofText   *string            `json:"proof_text,omitempty"`
	Image       *AttachmentRequest `json:"image,omitempty"`
	Video       *AttachmentRequest `json:"video,omitempty"`
	FeedBody    *string            `json:"feed_body,omitempty"`
}

type ApproveRequest struct {
	Comment *string `json:"comment,omitempty"`
}

type RejectRequest struct {
	Reason  string  `json:"reason"`
	Comment *string `json:"comment,omitempty"`
}

type ReportRequest struct {
	Reason      string  `json:"reason"`
	Description *string `json:"description,omitempty"`
}

type ResolveReportRequest struct {
	Outcome string `json:"outcome" enum:"reviewed,dismissed"`
}

type DevLoginRequest struct {
	UserID      string `json:"user_id"`
	Role        string `json:"role,omitempty" enum:"user,moderator,admin"`
	DisplayName string `json:"display_name,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Response payloads

type ChallengeResponse struct {
	ID          string `json:"id"`
	CreatorID   string `json:"creator_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Points      int64  `json:"points"`
	Active      bool   `json:"active"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type SubmissionResponse struct {
	ID               string  `json:"id"`
	ChallengeID      string  `json:"challenge_id"`
	SubmitterID      string  `json:"submitter_id"`
	ProofText        string  `json:"proof_text,omitempty"`
	ImageURL         *string `json:"image_url,omitempty"`
	VideoURL         *string `json:"video_url,omitempty"`
	Status           string  `json:"status" enum:"pending,approved,rejected"`
	ValidatorID      *string `json:"validator_id,omitempty"`
	ValidatorComment *string `json:"validator_comment,omitempty"`
	RejectionReason  *string `json:"rejection_reason,omitempty"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
	ValidatedAt      *string `json:"validated_at,omitempty" format:"date-time"`
}

type QueueEntryResponse struct {
	Submission SubmissionResponse `json:"submission"`
	Eligible   bool               `json:"eligible"`
}

type ReportResponse struct {
	ID           string  `json:"id"`
	SubmissionID string  `json:"submission_id"`
	ReporterID   string  `json:"reporter_id"`
	Reason       string  `json:"reason"`
	Description  string  `json:"description,omitempty"`
	Status       string  `json:"status" enum:"pending,reviewed,dismissed"`
	ReviewerID   *string `json:"reviewer_id,omitempty"`
	ReviewedAt   *string `json:"reviewed_at,omitempty" format:"date-time"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
}

type ProfileResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role" enum:"user,moderator,admin"`
	Premium     bool   `json:"premium"`
	Points      int64  `json:"points"`
	Defeats     int64  `json:"defeats"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type AuditResponse struct {
	ID           string         `json:"id"`
	SubmissionID string         `json:"submission_id"`
	ValidatorID  string         `json:"validator_id"`
	Action       string         `json:"action" enum:"approved,rejected"`
	Reason       *string        `json:"reason,omitempty"`
	Comment      *string        `json:"comment,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    string         `json:"created_at" format:"date-time"`
}

type LeaderboardEntryResponse struct {
	ValidatorID string `json:"validator_id"`
	Validations int64  `json:"validations"`
}

type AdminStatsResponse struct {
	PendingReports   int64                      `json:"pending_reports"`
	SubmissionCounts map[string]int64           `json:"submission_counts"`
	AvgValidateSecs  *float64                   `json:"avg_validate_secs,omitempty"`
	Leaderboard      []LeaderboardEntryResponse `json:"leaderboard"`
}

type FeedPostResponse struct {
	ID           string `json:"id"`
	SubmissionID string `json:"submission_id"`
	AuthorID     string `json:"author_id"`
	ChallengeID  string `json:"challenge_id"`
	Body         string `json:"body,omitempty"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type MeResponse struct {
	UserID  string           `json:"user_id"`
	Role    string           `json:"role"`
	Source  string           `json:"source"`
	Profile *ProfileResponse `json:"profile,omitempty"`
}

type InstanceConfigResponse struct {
	Instance struct {
		Name string `json:"name"`
		Kind string `json:"kind"`
	} `json:"instance"`
	Points struct {
		ValidatorReward   int64 `json:"validator_reward"`
		ReportReviewBonus int64 `json:"report_review_bonus"`
	} `json:"points"`
	Rejections struct {
		Catalog map[string]struct {
			Description string `json:"description"`
		} `json:"catalog"`
	} `json:"rejections"`
	Reports struct {
		Reasons []string `json:"reasons"`
	} `json:"reports"`
}

type paginatedChallenges struct {
	Items      []ChallengeResponse `json:"items"`
	NextCursor string              `json:"next_cursor,omitempty"`
}

type paginatedSubmissions struct {
	Items      []SubmissionResponse `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

type paginatedQueue struct {
	Items      []QueueEntryResponse `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

type paginatedReports struct {
	Items      []ReportResponse `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

type paginatedFeed struct {
	Items      []FeedPostResponse `json:"items"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func challengeResponse(c domain.Challenge) ChallengeResponse {
	return ChallengeResponse(c)
}

func submissionResponse(s domain.Submission) SubmissionResponse {
	return SubmissionResponse(s)
}

func queueEntryResponse(e domain.QueueEntry) QueueEntryResponse {
	return QueueEntryResponse{
		Submission: submissionResponse(e.Submission),
		Eligible:   e.Eligible,
	}
}

func reportResponse(r domain.SubmissionReport) ReportResponse {
	return ReportResponse(r)
}

func profileResponse(p domain.Profile) ProfileResponse {
	return ProfileResponse(p)
}

func auditResponse(a domain.ValidationAudit) AuditResponse {
	return AuditResponse{
		ID:           a.ID,
		SubmissionID: a.SubmissionID,
		ValidatorID:  a.ValidatorID,
		Action:       a.Action,
		Reason:       a.Reason,
		Comment:      a.Comment,
		Metadata:     decodeJSONMap(strPtr(a.MetadataJSON)),
		CreatedAt:    a.CreatedAt,
	}
}

func feedPostResponse(p domain.FeedPost) FeedPostResponse {
	return FeedPostResponse{
		ID:           p.ID,
		SubmissionID: p.SubmissionID,
		AuthorID:     p.AuthorID,
		ChallengeID:  p.ChallengeID,
		Body:         p.Body,
		CreatedAt:    p.CreatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(strPtr(e.Payload)),
	}
}

func statsResponse(s domain.AdminStats) AdminStatsResponse {
	board := make([]LeaderboardEntryResponse, 0, len(s.Leaderboard))
	for _, e := range s.Leaderboard {
		board = append(board, LeaderboardEntryResponse(e))
	}
	counts := s.SubmissionCounts
	if counts == nil {
		counts = map[string]int64{}
	}
	return AdminStatsResponse{
		PendingReports:   s.PendingReports,
		SubmissionCounts: counts,
		AvgValidateSecs:  s.AvgValidateSecs,
		Leaderboard:      board,
	}
}

func configResponse(cfg *config.Config) InstanceConfigResponse {
	var res InstanceConfigResponse
	res.Instance.Name = cfg.Instance.Name
	res.Instance.Kind = cfg.Instance.Kind
	res.Points.ValidatorReward = cfg.Points.ValidatorReward
	res.Points.ReportReviewBonus = cfg.Points.ReportReviewBonus
	res.Rejections.Catalog = map[string]struct {
		Description string `json:"description"`
	}{}
	for k, v := range cfg.Rejections.Catalog {
		res.Rejections.Catalog[k] = struct {
			Description string `json:"description"`
		}{Description: v.Description}
	}
	res.Reports.Reasons = nonNilSlice(cfg.Reports.Reasons)
	return res
}

// JSON helpers

func decodeJSONMap(raw *string) map[string]any {
	if raw == nil || *raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(*raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func strPtr(in string) *string {
	return &in
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

package domain

// Submission statuses.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// Report statuses.
const (
	ReportPending   = "pending"
	ReportReviewed  = "reviewed"
	ReportDismissed = "dismissed"
)

type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	Role        string `json:"role" enum:"user,moderator,admin"`
	Premium     bool   `json:"premium"`
	Points      int64  `json:"points"`
	Defeats     int64  `json:"defeats"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Challenge struct {
	ID          string `json:"id"`
	CreatorID   string `json:"creator_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Points      int64  `json:"points"`
	Active      bool   `json:"active"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Submission struct {
	ID               string  `json:"id"`
	ChallengeID      string  `json:"challenge_id"`
	SubmitterID      string  `json:"submitter_id"`
	ProofText        string  `json:"proof_text"`
	ImageURL         *string `json:"image_url,omitempty"`
	VideoURL         *string `json:"video_url,omitempty"`
	Status           string  `json:"status" enum:"pending,approved,rejected"`
	ValidatorID      *string `json:"validator_id,omitempty"`
	ValidatorComment *string `json:"validator_comment,omitempty"`
	RejectionReason  *string `json:"rejection_reason,omitempty"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
	ValidatedAt      *string `json:"validated_at,omitempty" format:"date-time"`
}

type ValidationAudit struct {
	ID           string  `json:"id"`
	SubmissionID string  `json:"submission_id"`
	ValidatorID  string  `json:"validator_id"`
	Action       string  `json:"action" enum:"approved,rejected"`
	Reason       *string `json:"reason,omitempty"`
	Comment      *string `json:"comment,omitempty"`
	MetadataJSON string  `json:"metadata_json,omitempty"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
}

type SubmissionReport struct {
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

type ChallengeDefeat struct {
	ChallengeID string `json:"challenge_id"`
	UserID      string `json:"user_id"`
	Count       int64  `json:"count"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type ChallengeProgress struct {
	ChallengeID           string  `json:"challenge_id"`
	UserID                string  `json:"user_id"`
	Status                string  `json:"status" enum:"in_progress,completed"`
	CompletedSubmissionID *string `json:"completed_submission_id,omitempty"`
	UpdatedAt             string  `json:"updated_at" format:"date-time"`
}

type FeedPost struct {
	ID           string `json:"id"`
	SubmissionID string `json:"submission_id"`
	ChallengeID  string `json:"challenge_id"`
	AuthorID     string `json:"author_id"`
	Body         string `json:"body,omitempty"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// QueueEntry pairs a pending submission with the viewer's eligibility to
// judge it. Eligibility here is display-time only; the engine re-checks it
// inside the resolving transaction.
type QueueEntry struct {
	Submission Submission `json:"submission"`
	Eligible   bool       `json:"eligible"`
}

type LeaderboardEntry struct {
	ValidatorID string `json:"validator_id"`
	Validations int64  `json:"validations"`
}

type AdminStats struct {
	PendingReports   int64              `json:"pending_reports"`
	SubmissionCounts map[string]int64   `json:"submission_counts"`
	AvgValidateSecs  *float64           `json:"avg_validate_seconds,omitempty"`
	Leaderboard      []LeaderboardEntry `json:"leaderboard"`
}

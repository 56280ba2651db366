package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"peerproof/internal/config"
	"peerproof/internal/domain"
	"peerproof/internal/events"
	"peerproof/internal/media"
	"peerproof/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Media  media.Store
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

// events returns the writer bound to the engine clock, so event
// timestamps follow an injected Now.
func (e Engine) events() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// NowString is the engine clock formatted for storage.
func (e Engine) NowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

// InitInstance seeds the stored config and operator profile on first run.
func (e Engine) InitInstance(ctx context.Context, name, operatorID, operatorName string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := e.now().UTC().Format(time.RFC3339)
	cfg := e.Config
	if cfg == nil {
		cfg = config.Default(name)
	}
	if err := e.Repo.UpsertInstanceConfigTx(ctx, tx, cfg); err != nil {
		return fmt.Errorf("seed instance config: %w", err)
	}
	if operatorID != "" {
		if operatorName == "" {
			operatorName = operatorID
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO profiles(id,display_name,role,premium,points,defeats,created_at) VALUES (?,?,?,?,?,?,?)`,
			operatorID, operatorName, "admin", false, 0, 0, now); err != nil {
			return fmt.Errorf("seed operator profile: %w", err)
		}
	}
	if err := e.events().Append(ctx, tx, "instance.init", "instance", name, operatorID, events.EventPayload{"name": name}); err != nil {
		return err
	}
	return tx.Commit()
}

// ChallengeCreateOptions are parameters for creating a challenge.
type ChallengeCreateOptions struct {
	ID          string
	CreatorID   string
	Title       string
	Description string
	Points      int64
}

func (e Engine) CreateChallenge(ctx context.Context, opts ChallengeCreateOptions) (domain.Challenge, error) {
	if e.Config == nil {
		return domain.Challenge{}, errors.New("config not loaded")
	}
	if opts.Title == "" {
		return domain.Challenge{}, errors.New("title is required")
	}
	if opts.CreatorID == "" {
		return domain.Challenge{}, errors.New("creator is required")
	}
	if opts.Points <= 0 {
		return domain.Challenge{}, errors.New("points must be positive")
	}
	if _, err := e.Repo.GetProfile(ctx, opts.CreatorID); err != nil {
		return domain.Challenge{}, err
	}
	id := opts.ID
	now := e.now().UTC().Format(time.RFC3339)
	if id == "" {
		id = uuid.New().String()
	}
	c := domain.Challenge{
		ID:          id,
		CreatorID:   opts.CreatorID,
		Title:       opts.Title,
		Description: opts.Description,
		Points:      opts.Points,
		Active:      true,
		CreatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Challenge{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO challenges(id,creator_id,title,description,points,active,created_at) VALUES (?,?,?,?,?,?,?)`,
		c.ID, c.CreatorID, c.Title, c.Description, c.Points, c.Active, c.CreatedAt); err != nil {
		return domain.Challenge{}, fmt.Errorf("insert challenge: %w", err)
	}
	if err := e.events().Append(ctx, tx, "challenge.created", "challenge", c.ID, c.CreatorID, events.EventPayload{"title": c.Title, "points": c.Points}); err != nil {
		return domain.Challenge{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Challenge{}, err
	}
	return c, nil
}

// ChallengeUpdateOptions encapsulates allowed updates.
type ChallengeUpdateOptions struct {
	ID          string
	Title       *string
	Description *string
	Points      *int64
	Active      *bool
	ActorID     string
}

func (e Engine) UpdateChallenge(ctx context.Context, opts ChallengeUpdateOptions) (domain.Challenge, error) {
	if e.Config == nil {
		return domain.Challenge{}, errors.New("config not loaded")
	}
	c, err := e.Repo.GetChallenge(ctx, opts.ID)
	if err != nil {
		return c, err
	}
	if opts.Points != nil && *opts.Points <= 0 {
		return c, errors.New("points must be positive")
	}
	if err := e.Repo.UpdateChallenge(ctx, opts.ID, repo.ChallengeUpdate{
		Title:       opts.Title,
		Description: opts.Description,
		Points:      opts.Points,
		Active:      opts.Active,
	}); err != nil {
		return c, err
	}
	updated, err := e.Repo.GetChallenge(ctx, opts.ID)
	if err != nil {
		return c, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return updated, err
	}
	defer tx.Rollback()
	if err := e.events().Append(ctx, tx, "challenge.updated", "challenge", updated.ID, opts.ActorID, events.EventPayload{
		"active": updated.Active,
		"points": updated.Points,
	}); err != nil {
		return updated, err
	}
	if err := tx.Commit(); err != nil {
		return updated, err
	}
	return updated, nil
}

// ProofAttachment is raw media supplied with a submission.
type ProofAttachment struct {
	Data        []byte
	ContentType string
}

// SubmissionCreateOptions are parameters for submitting proof.
type SubmissionCreateOptions struct {
	ID          string
	ChallengeID string
	SubmitterID string
	ProofText   string
	Image       *ProofAttachment
	Video       *ProofAttachment
	FeedBody    string
}

// CreateSubmission records a pending proof and its feed post. Media is
// uploaded before any row is written; an upload failure leaves no trace.
func (e Engine) CreateSubmission(ctx context.Context, opts SubmissionCreateOptions) (domain.Submission, error) {
	if e.Config == nil {
		return domain.Submission{}, errors.New("config not loaded")
	}
	if opts.ChallengeID == "" {
		return domain.Submission{}, errors.New("challenge is required")
	}
	if opts.SubmitterID == "" {
		return domain.Submission{}, errors.New("submitter is required")
	}
	if opts.ProofText == "" && opts.Image == nil && opts.Video == nil {
		return domain.Submission{}, errors.New("proof text or attachment required")
	}
	c, err := e.Repo.GetChallenge(ctx, opts.ChallengeID)
	if err != nil {
		return domain.Submission{}, err
	}
	if !c.Active {
		return domain.Submission{}, ErrChallengeInactive
	}
	if _, err := e.Repo.GetProfile(ctx, opts.SubmitterID); err != nil {
		return domain.Submission{}, err
	}

	var imageURL, videoURL *string
	if opts.Image != nil {
		url, err := e.uploadAttachment(ctx, opts.Image)
		if err != nil {
			return domain.Submission{}, err
		}
		imageURL = &url
	}
	if opts.Video != nil {
		url, err := e.uploadAttachment(ctx, opts.Video)
		if err != nil {
			return domain.Submission{}, err
		}
		videoURL = &url
	}

	id := opts.ID
	now := e.now().UTC().Format(time.RFC3339)
	if id == "" {
		id = uuid.New().String()
	}
	s := domain.Submission{
		ID:          id,
		ChallengeID: opts.ChallengeID,
		SubmitterID: opts.SubmitterID,
		ProofText:   opts.ProofText,
		ImageURL:    imageURL,
		VideoURL:    videoURL,
		Status:      domain.StatusPending,
		CreatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Submission{}, err
	}
	defer tx.Rollback()

	dup, err := e.Repo.HasPendingSubmission(ctx, tx, s.ChallengeID, s.SubmitterID)
	if err != nil {
		return domain.Submission{}, err
	}
	if dup {
		return domain.Submission{}, ErrDuplicatePending
	}
	if err := e.Repo.InsertSubmission(ctx, tx, s); err != nil {
		return domain.Submission{}, err
	}
	post := domain.FeedPost{
		ID:           uuid.New().String(),
		SubmissionID: s.ID,
		AuthorID:     s.SubmitterID,
		ChallengeID:  s.ChallengeID,
		Body:         opts.FeedBody,
		CreatedAt:    now,
	}
	if post.Body == "" {
		post.Body = opts.ProofText
	}
	if err := e.Repo.InsertFeedPost(ctx, tx, post); err != nil {
		return domain.Submission{}, err
	}
	if err := e.events().Append(ctx, tx, "submission.created", "submission", s.ID, s.SubmitterID, events.EventPayload{
		"challenge_id": s.ChallengeID,
	}); err != nil {
		return domain.Submission{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Submission{}, err
	}
	return s, nil
}

func (e Engine) uploadAttachment(ctx context.Context, a *ProofAttachment) (string, error) {
	if e.Media == nil {
		return "", fmt.Errorf("%w: no media store configured", media.ErrUpload)
	}
	return e.Media.Upload(ctx, a.Data, a.ContentType)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"peerproof/internal/domain"
	"peerproof/internal/events"
	"peerproof/internal/repo"
)

// Approve settles a pending submission in the submitter's favor. The
// write is first-writer-wins: once a validator lands the transition the
// challenge points and validator reward are credited exactly once.
func (e Engine) Approve(ctx context.Context, submissionID, validatorID, comment string) (domain.Submission, error) {
	if e.Config == nil {
		return domain.Submission{}, errors.New("config not loaded")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Submission{}, err
	}
	defer tx.Rollback()

	s, c, err := e.gateValidation(ctx, tx, submissionID, validatorID)
	if err != nil {
		return s, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	won, err := e.Repo.ResolvePending(ctx, tx, s.ID, domain.StatusApproved, validatorID, optionalString(comment), nil, now)
	if err != nil {
		return s, err
	}
	if !won {
		return s, ErrAlreadyResolved
	}
	audit := domain.ValidationAudit{
		ID:           uuid.New().String(),
		SubmissionID: s.ID,
		ValidatorID:  validatorID,
		Action:       domain.StatusApproved,
		Comment:      optionalString(comment),
		MetadataJSON: fmt.Sprintf(`{"challenge_id":%q,"points":%d}`, c.ID, c.Points),
		CreatedAt:    now,
	}
	if err := e.Repo.InsertAudit(ctx, tx, audit); err != nil {
		return s, err
	}
	if err := e.creditPoints(ctx, tx, s.SubmitterID, c.Points); err != nil {
		return s, err
	}
	if reward := e.Config.Points.ValidatorReward; reward > 0 {
		if err := e.creditPoints(ctx, tx, validatorID, reward); err != nil {
			return s, err
		}
	}
	if err := e.Repo.UpsertProgress(ctx, tx, domain.ChallengeProgress{
		ChallengeID:           c.ID,
		UserID:                s.SubmitterID,
		Status:                "completed",
		CompletedSubmissionID: &s.ID,
		UpdatedAt:             now,
	}); err != nil {
		return s, err
	}
	if err := e.events().Append(ctx, tx, "submission.approved", "submission", s.ID, validatorID, events.EventPayload{
		"challenge_id": c.ID,
		"submitter_id": s.SubmitterID,
		"points":       c.Points,
	}); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	s.Status = domain.StatusApproved
	s.ValidatorID = &validatorID
	s.ValidatorComment = optionalString(comment)
	s.ValidatedAt = &now
	return s, nil
}

// Reject settles a pending submission against the submitter. No points
// move; the defeat counters record the loss.
func (e Engine) Reject(ctx context.Context, submissionID, validatorID, reason, comment string) (domain.Submission, error) {
	if e.Config == nil {
		return domain.Submission{}, errors.New("config not loaded")
	}
	if !e.Config.ValidRejectionReason(reason) {
		return domain.Submission{}, fmt.Errorf("%w: %s", ErrInvalidReason, reason)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Submission{}, err
	}
	defer tx.Rollback()

	s, c, err := e.gateValidation(ctx, tx, submissionID, validatorID)
	if err != nil {
		return s, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	won, err := e.Repo.ResolvePending(ctx, tx, s.ID, domain.StatusRejected, validatorID, optionalString(comment), &reason, now)
	if err != nil {
		return s, err
	}
	if !won {
		return s, ErrAlreadyResolved
	}
	audit := domain.ValidationAudit{
		ID:           uuid.New().String(),
		SubmissionID: s.ID,
		ValidatorID:  validatorID,
		Action:       domain.StatusRejected,
		Reason:       &reason,
		Comment:      optionalString(comment),
		MetadataJSON: fmt.Sprintf(`{"challenge_id":%q}`, c.ID),
		CreatedAt:    now,
	}
	if err := e.Repo.InsertAudit(ctx, tx, audit); err != nil {
		return s, err
	}
	if err := e.Repo.IncrementDefeat(ctx, tx, c.ID, s.SubmitterID, now); err != nil {
		return s, err
	}
	if err := e.Repo.IncrementDefeats(ctx, tx, s.SubmitterID); err != nil {
		return s, err
	}
	if err := e.events().Append(ctx, tx, "submission.rejected", "submission", s.ID, validatorID, events.EventPayload{
		"challenge_id": c.ID,
		"submitter_id": s.SubmitterID,
		"reason":       reason,
	}); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	s.Status = domain.StatusRejected
	s.ValidatorID = &validatorID
	s.ValidatorComment = optionalString(comment)
	s.RejectionReason = &reason
	s.ValidatedAt = &now
	return s, nil
}

// gateValidation loads the submission and challenge and checks the
// validator's standing inside the settling transaction.
func (e Engine) gateValidation(ctx context.Context, tx *sql.Tx, submissionID, validatorID string) (domain.Submission, domain.Challenge, error) {
	s, err := e.Repo.GetSubmissionTx(ctx, tx, submissionID)
	if err != nil {
		return s, domain.Challenge{}, err
	}
	if s.SubmitterID == validatorID {
		return s, domain.Challenge{}, ErrSelfValidation
	}
	c, err := e.Repo.GetChallengeTx(ctx, tx, s.ChallengeID)
	if err != nil {
		return s, c, err
	}
	eligible, err := e.Repo.IsEligibleValidator(ctx, tx, c.ID, validatorID)
	if err != nil {
		return s, c, err
	}
	if !eligible {
		return s, c, ErrNotEligible
	}
	if s.Status != domain.StatusPending {
		return s, c, ErrAlreadyResolved
	}
	return s, c, nil
}

func (e Engine) creditPoints(ctx context.Context, tx *sql.Tx, userID string, delta int64) error {
	ok, err := e.Repo.AddPoints(ctx, tx, userID, delta)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: balance update for %s by %d", ErrInvariantViolation, userID, delta)
	}
	return nil
}

// CanValidate reports whether validator has standing for the submission's
// challenge and is not the submitter.
func (e Engine) CanValidate(ctx context.Context, submissionID, validatorID string) (bool, error) {
	tx, err := e.DB.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	s, err := e.Repo.GetSubmissionTx(ctx, tx, submissionID)
	if err != nil {
		return false, err
	}
	if s.SubmitterID == validatorID {
		return false, nil
	}
	eligible, err := e.Repo.IsEligibleValidator(ctx, tx, s.ChallengeID, validatorID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return eligible, nil
}

// ValidationQueue lists pending submissions oldest first for a viewer,
// excluding their own, each flagged with the viewer's eligibility.
func (e Engine) ValidationQueue(ctx context.Context, viewerID string, limit int, cursorCreatedAt, cursorID string) ([]domain.QueueEntry, error) {
	if viewerID == "" {
		return nil, errors.New("viewer is required")
	}
	return e.Repo.PendingQueue(ctx, viewerID, limit, cursorCreatedAt, cursorID)
}
